package pathstructure

import (
	"encoding/base64"
	"errors"
	"math/big"
	"testing"

	"github.com/kart-go/tabledataset/wire"
)

func TestNewValidatesEncodingBranchesPairing(t *testing.T) {
	tests := []struct {
		name     string
		encoding Encoding
		branches int
		wantErr  bool
	}{
		{"base64 requires 64", Base64, 64, false},
		{"base64 rejects 16", Base64, 16, true},
		{"hex allows 16", Hex, 16, false},
		{"hex allows 256", Hex, 256, false},
		{"hex rejects 64", Hex, 64, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(SchemeInt, tt.branches, 2, tt.encoding)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidStructure) {
				t.Errorf("New() error = %v, want ErrInvalidStructure", err)
			}
		})
	}
}

// TestEidIntScenario exercises a single primary-key integer dataset, int
// scheme, hex encoding, levels=2, id=12345.
func TestEidIntScenario(t *testing.T) {
	ps, err := New(SchemeInt, 256, 2, Hex)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	eid, err := ps.Eid([]any{big.NewInt(12345)})
	if err != nil {
		t.Fatalf("Eid() error = %v", err)
	}

	packed, err := wire.Pack([]any{big.NewInt(12345)})
	if err != nil {
		t.Fatalf("wire.Pack() error = %v", err)
	}
	wantFilename := base64.StdEncoding.EncodeToString(packed)
	wantPrefix := "3/0/"
	if eid != wantPrefix+wantFilename {
		t.Errorf("Eid() = %q, want %q", eid, wantPrefix+wantFilename)
	}
}

func TestEidIntRequiresSinglePrimaryKey(t *testing.T) {
	ps, err := New(SchemeInt, 16, 1, Hex)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = ps.Eid([]any{big.NewInt(1), big.NewInt(2)})
	if err == nil {
		t.Errorf("Eid() error = nil, want error for multiple primary keys under int scheme")
	}
}

func TestEidHashDeterministic(t *testing.T) {
	ps, err := New(SchemeMsgpackHash, 64, 2, Base64)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	a, err := ps.Eid([]any{"region-1", "site-7"})
	if err != nil {
		t.Fatalf("Eid() error = %v", err)
	}
	b, err := ps.Eid([]any{"region-1", "site-7"})
	if err != nil {
		t.Fatalf("Eid() error = %v", err)
	}
	if a != b {
		t.Errorf("Eid() not deterministic: %q != %q", a, b)
	}

	c, err := ps.Eid([]any{"region-1", "site-8"})
	if err != nil {
		t.Fatalf("Eid() error = %v", err)
	}
	if a == c {
		t.Errorf("Eid() collided for distinct keys: %q", a)
	}
}

func TestEidHashFolderDepthMatchesLevels(t *testing.T) {
	ps, err := New(SchemeMsgpackHash, 16, 3, Hex)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	eid, err := ps.Eid([]any{"key"})
	if err != nil {
		t.Fatalf("Eid() error = %v", err)
	}
	slashes := 0
	for _, c := range eid {
		if c == '/' {
			slashes++
		}
	}
	if slashes != 3 {
		t.Errorf("folder depth = %d slashes, want 3 (levels=3)", slashes)
	}
}

func TestDecodeFilenameAcceptsPaddingVariants(t *testing.T) {
	packed, err := wire.Pack([]any{big.NewInt(99)})
	if err != nil {
		t.Fatalf("wire.Pack() error = %v", err)
	}
	std := base64.StdEncoding.EncodeToString(packed)
	urlNoPad := base64.RawURLEncoding.EncodeToString(packed)

	for _, variant := range []string{std, urlNoPad} {
		got, err := DecodeFilename(variant)
		if err != nil {
			t.Fatalf("DecodeFilename(%q) error = %v", variant, err)
		}
		if string(got) != string(packed) {
			t.Errorf("DecodeFilename(%q) = %x, want %x", variant, got, packed)
		}
	}
}

func TestLoadRejectsUnknownScheme(t *testing.T) {
	_, err := Load([]byte(`{"scheme":"mystery","branches":16,"levels":1,"encoding":"hex"}`))
	if !errors.Is(err, ErrInvalidStructure) {
		t.Errorf("Load() error = %v, want ErrInvalidStructure", err)
	}
}
