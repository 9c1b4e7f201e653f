package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDurationMs(t *testing.T) {
	tests := []struct {
		tok  string
		want float64
	}{
		{"125.32ms", 125.32},
		{"2.95s", 2950},
		{"1.5m", 90000},
		{"250us", 0.25},
		{"1500000ns", 1.5},
		{"0ms", 0},
		{"42", 42},
		{"", -1},
		{"ms", -1},
		{"-5ms", -1},
		{"fast", -1},
	}
	for _, tc := range tests {
		t.Run(tc.tok, func(t *testing.T) {
			assert.InDelta(t, tc.want, parseDurationMs(tc.tok), 1e-9)
		})
	}
}
