package wire

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestLegendID(t *testing.T) {
	tests := []struct {
		name   string
		packed []byte
	}{
		{"empty", []byte{}},
		{"simple", []byte("hello world")},
		{"binary", []byte{0x00, 0x01, 0xff, 0x7e}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LegendID(tt.packed)
			sum := sha256.Sum256(tt.packed)
			want := hex.EncodeToString(sum[:LegendIDLen])
			if got != want {
				t.Errorf("LegendID() = %q, want %q", got, want)
			}
			if len(got) != LegendIDLen*2 {
				t.Errorf("LegendID() length = %d, want %d", len(got), LegendIDLen*2)
			}
		})
	}
}

func TestLegendIDDeterministic(t *testing.T) {
	a := LegendID([]byte("same input"))
	b := LegendID([]byte("same input"))
	if a != b {
		t.Errorf("LegendID() not deterministic: %q != %q", a, b)
	}
}
