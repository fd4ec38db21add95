package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeLabel(t *testing.T) {
	tests := []struct {
		name     string
		existing Label
		incoming Label
		want     Label
	}{
		{"empty existing", Label{}, Label{Value: "ann", Source: "recall"}, Label{Value: "ann", Source: "recall"}},
		{"empty incoming", Label{Value: "ann", Source: "recall"}, Label{}, Label{Value: "ann", Source: "recall"}},
		{"append", Label{Value: "ann", Source: "recall"}, Label{Value: "phoenix", Source: "rank"}, Label{Value: "ann|phoenix", Source: "recall,rank"}},
		{"missing source", Label{Value: "a"}, Label{Value: "b", Source: "rank"}, Label{Value: "a|b", Source: "rank"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MergeLabel(tt.existing, tt.incoming))
		})
	}
}
