package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"db01", "db01", 0},
		{"db01", "db02", 1},
		{"web01", "web-01", 1},
		{"bastion", "", 7},
		{"", "bastion", 7},
		{"kitten", "sitting", 3},
		{"db01", "cache01", 4},
	}

	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, Levenshtein(tt.a, tt.b))
		})
	}
}
