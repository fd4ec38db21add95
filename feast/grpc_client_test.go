package feast

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/feast-dev/feast/sdk/go/protos/feast/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/phoenix/core"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in   string
		host string
		port int
	}{
		{"localhost:6565", "localhost", 6565},
		{"grpc://feast.internal:7000", "feast.internal", 7000},
		{"feast", "feast", 0},
	}
	for _, tt := range tests {
		host, port := parseEndpoint(tt.in)
		if host != tt.host || port != tt.port {
			t.Errorf("parseEndpoint(%q) = %s:%d, 期望 %s:%d", tt.in, host, port, tt.host, tt.port)
		}
	}
}

func TestConvertFromSDKValue(t *testing.T) {
	raw := make([]byte, 8)
	binary.LittleEndian.PutUint32(raw, math.Float32bits(0.5))
	binary.LittleEndian.PutUint32(raw[4:], math.Float32bits(-2))

	tests := []struct {
		name string
		in   *types.Value
		want interface{}
	}{
		{"nil", nil, nil},
		{"unset", &types.Value{}, nil},
		{"float_list", &types.Value{Val: &types.Value_FloatListVal{FloatListVal: &types.FloatList{Val: []float32{1, 2}}}}, []float32{1, 2}},
		{"double_list", &types.Value{Val: &types.Value_DoubleListVal{DoubleListVal: &types.DoubleList{Val: []float64{1.5}}}}, []float32{1.5}},
		{"bytes", &types.Value{Val: &types.Value_BytesVal{BytesVal: raw}}, []float32{0.5, -2}},
		{"bad_bytes", &types.Value{Val: &types.Value_BytesVal{BytesVal: []byte{1, 2, 3}}}, nil},
		{"string", &types.Value{Val: &types.Value_StringVal{StringVal: "two_tower"}}, "two_tower"},
		{"int64", &types.Value{Val: &types.Value_Int64Val{Int64Val: 7}}, float64(7)},
		{"double", &types.Value{Val: &types.Value_DoubleVal{DoubleVal: 0.25}}, 0.25},
		{"bool", &types.Value{Val: &types.Value_BoolVal{BoolVal: true}}, float64(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, convertFromSDKValue(tt.in))
		})
	}
}

func TestConvertToSDKValue(t *testing.T) {
	assert.Equal(t, "u1", convertToSDKValue("u1").GetStringVal())
	assert.Equal(t, int64(3), convertToSDKValue(3).GetInt64Val())
	assert.Equal(t, "[1 2]", convertToSDKValue([]int{1, 2}).GetStringVal())
}

type fakeClient struct {
	resp *GetOnlineFeaturesResponse
	err  error
	req  *GetOnlineFeaturesRequest
}

func (f *fakeClient) GetOnlineFeatures(_ context.Context, req *GetOnlineFeaturesRequest) (*GetOnlineFeaturesResponse, error) {
	f.req = req
	return f.resp, f.err
}

func (f *fakeClient) Close() error { return nil }

func TestFeatureReader(t *testing.T) {
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond)
	client := &fakeClient{resp: &GetOnlineFeaturesResponse{FeatureVectors: []FeatureVector{{
		Values: map[string]interface{}{
			"user_embedding:embedding":     []float32{0.6, 0.8},
			"user_embedding:quality_score": 0.4,
			"user_embedding:model_version": "two_tower",
			"user_embedding:expires_at":    float64(expires.UnixMilli()),
		},
	}}}}
	r := NewFeatureReader(client, ReaderConfig{Project: "phoenix"})

	fv, err := r.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", fv.UserID)
	assert.Equal(t, []float32{0.6, 0.8}, fv.Embedding)
	assert.Equal(t, 0.4, fv.QualityScore)
	assert.Equal(t, "two_tower", fv.ModelVersion)
	assert.True(t, fv.ExpiresAt.Equal(expires))
	assert.True(t, fv.ComputedAt.IsZero())

	require.NotNil(t, client.req)
	assert.Equal(t, "phoenix", client.req.Project)
	assert.Equal(t, "u1", client.req.EntityRows[0]["user_id"])

	client.resp = &GetOnlineFeaturesResponse{FeatureVectors: []FeatureVector{{Values: map[string]interface{}{}}}}
	_, err = r.Get(context.Background(), "u2")
	assert.ErrorIs(t, err, core.ErrStoreNotFound)

	client.err = errors.New("connection refused")
	_, err = r.Get(context.Background(), "u3")
	assert.True(t, core.IsUnavailable(err))
}
