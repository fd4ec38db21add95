package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/phoenix/core"
)

func checkItems(ids ...string) []core.SafetyCheckItem {
	items := make([]core.SafetyCheckItem, len(ids))
	for i, id := range ids {
		items[i] = core.SafetyCheckItem{PostID: id, UserID: "u1"}
	}
	return items
}

func TestKeywordChecker(t *testing.T) {
	c := NewKeywordChecker(nil, []string{"bad_user"})
	res, err := c.Check(context.Background(), checkItems("N1", "SPAM-42", "x_violence"))
	require.NoError(t, err)
	require.Len(t, res, 3)

	assert.True(t, res[0].Safe)
	assert.False(t, res[1].Safe, "大小写不敏感匹配屏蔽词")
	assert.Equal(t, "Contains blocked keyword: spam", res[1].Reason)
	assert.False(t, res[2].Safe)

	res, err = c.Check(context.Background(), []core.SafetyCheckItem{{PostID: "N1", UserID: "bad_user"}})
	require.NoError(t, err)
	assert.False(t, res[0].Safe, "黑名单用户判为 unsafe")
}

type errChecker struct{ err error }

func (e errChecker) Name() string { return "broken" }
func (e errChecker) Check(context.Context, []core.SafetyCheckItem) ([]core.SafetyResult, error) {
	return nil, e.err
}

type partialChecker struct{}

func (partialChecker) Name() string { return "partial" }
func (partialChecker) Check(_ context.Context, items []core.SafetyCheckItem) ([]core.SafetyResult, error) {
	return []core.SafetyResult{{PostID: items[0].PostID, Safe: true}}, nil
}

func TestFailClosed(t *testing.T) {
	items := checkItems("a", "b", "c")

	tests := []struct {
		name    string
		checker core.SafetyChecker
		reason  string
	}{
		{"下游错误", errChecker{err: errors.New("boom")}, "safety check unavailable"},
		{"下游超时", errChecker{err: core.NewDomainError(core.ModuleService, core.ErrorCodeUpstreamTimeout, "timeout")}, "safety check timeout"},
		{"结果缺失", partialChecker{}, "safety check unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &FailClosed{Checker: tt.checker}
			res, err := fc.Check(context.Background(), items)
			require.Error(t, err)
			require.Len(t, res, len(items))
			for i, r := range res {
				assert.Equal(t, items[i].PostID, r.PostID)
				assert.False(t, r.Safe, "失败时必须全部 unsafe")
				assert.Equal(t, tt.reason, r.Reason)
			}
		})
	}

	res, err := (&FailClosed{Checker: AllowAll{}}).Check(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func vfServer(t *testing.T, handler func(w http.ResponseWriter, req vfRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req vfRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		handler(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPCheckerSuccess(t *testing.T) {
	srv := vfServer(t, func(w http.ResponseWriter, req vfRequest) {
		out := vfResponse{}
		// 倒序返回，验证按输入顺序对齐
		for i := len(req.Items) - 1; i >= 0; i-- {
			out.Results = append(out.Results, core.SafetyResult{PostID: req.Items[i].PostID, Safe: req.Items[i].PostID != "b"})
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	fc := &FailClosed{Checker: NewHTTPChecker(srv.URL)}
	res, err := fc.Check(context.Background(), checkItems("a", "b"))
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "a", res[0].PostID)
	assert.True(t, res[0].Safe)
	assert.False(t, res[1].Safe)
}

func TestHTTPCheckerFallbackHeader(t *testing.T) {
	srv := vfServer(t, func(w http.ResponseWriter, req vfRequest) {
		w.Header().Set(FallbackHeader, "true")
		_ = json.NewEncoder(w).Encode(vfResponse{Results: []core.SafetyResult{{PostID: "a", Safe: true}}})
	})
	_, err := NewHTTPChecker(srv.URL).Check(context.Background(), checkItems("a"))
	require.Error(t, err)
	assert.True(t, core.IsUnavailable(err), "兜底响应按不可用处理")
}

func TestHTTPCheckerTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c := NewHTTPChecker(srv.URL, WithHTTPTimeout(20*time.Millisecond))
	_, err := c.Check(context.Background(), checkItems("a"))
	require.Error(t, err)
	assert.True(t, core.IsUpstreamTimeout(err), "超时应映射为 UPSTREAM_TIMEOUT，实际: %v", err)
}

func TestHTTPCheckerBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPChecker(srv.URL, WithBreaker(BreakerConfig{FailureThreshold: 2, OpenTimeout: time.Minute}))
	for i := 0; i < 2; i++ {
		_, err := c.Check(context.Background(), checkItems("a"))
		require.Error(t, err)
	}
	_, err := c.Check(context.Background(), checkItems("a"))
	require.Error(t, err)
	assert.True(t, core.IsUnavailable(err))
	assert.Equal(t, int32(2), calls.Load(), "熔断打开后不应再访问下游")
}

func TestNewSafetyChecker(t *testing.T) {
	fc, err := NewSafetyChecker(&SafetyConfig{Type: CheckerKeyword})
	require.NoError(t, err)
	assert.Equal(t, "keyword", fc.Name())

	fc, err = NewSafetyChecker(&SafetyConfig{Type: CheckerNone})
	require.NoError(t, err)
	res, err := fc.Check(context.Background(), checkItems("spam"))
	require.NoError(t, err)
	assert.True(t, res[0].Safe)

	_, err = NewSafetyChecker(&SafetyConfig{Type: CheckerHTTP, Endpoint: "localhost:8000"})
	assert.Error(t, err)
	_, err = NewSafetyChecker(&SafetyConfig{Type: "unknown"})
	assert.Error(t, err)
	_, err = NewSafetyChecker(nil)
	assert.Error(t, err)
}
