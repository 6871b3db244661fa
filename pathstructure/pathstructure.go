// Package pathstructure parses path-structure.json and derives the
// deterministic encoded ID (eid) — a folder tree plus filename — from a
// dataset's primary-key tuples.
package pathstructure

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/kart-go/tabledataset/wire"
)

// Scheme selects how primary-key tuples are encoded into folder trees.
type Scheme string

const (
	SchemeInt         Scheme = "int"
	SchemeMsgpackHash Scheme = "msgpack/hash"
)

// Encoding selects the alphabet used for folder-tree characters.
type Encoding string

const (
	Hex    Encoding = "hex"
	Base64 Encoding = "base64"
)

const (
	hexAlphabet    = "0123456789abcdef"
	base64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
)

// ErrInvalidStructure is returned when path-structure.json fails to parse
// or violates the branches/encoding pairing invariant.
var ErrInvalidStructure = errors.New("pathstructure: invalid structure")

// PathStructure is an immutable, validated path-structure.json.
type PathStructure struct {
	Scheme   Scheme
	Branches int
	Levels   int
	Encoding Encoding
}

type wireFormat struct {
	Scheme   Scheme   `json:"scheme"`
	Branches int      `json:"branches"`
	Levels   int      `json:"levels"`
	Encoding Encoding `json:"encoding"`
}

// Load parses path-structure.json content.
func Load(data []byte) (*PathStructure, error) {
	var w wireFormat
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStructure, err)
	}
	return New(w.Scheme, w.Branches, w.Levels, w.Encoding)
}

// New builds and validates a PathStructure.
func New(scheme Scheme, branches, levels int, encoding Encoding) (*PathStructure, error) {
	switch scheme {
	case SchemeInt, SchemeMsgpackHash:
	default:
		return nil, fmt.Errorf("%w: unknown scheme %q", ErrInvalidStructure, scheme)
	}
	if levels < 1 {
		return nil, fmt.Errorf("%w: levels must be >= 1, got %d", ErrInvalidStructure, levels)
	}
	switch encoding {
	case Base64:
		if branches != 64 {
			return nil, fmt.Errorf("%w: encoding=base64 requires branches=64, got %d", ErrInvalidStructure, branches)
		}
	case Hex:
		if branches != 16 && branches != 256 {
			return nil, fmt.Errorf("%w: encoding=hex requires branches in {16,256}, got %d", ErrInvalidStructure, branches)
		}
	default:
		return nil, fmt.Errorf("%w: unknown encoding %q", ErrInvalidStructure, encoding)
	}
	return &PathStructure{Scheme: scheme, Branches: branches, Levels: levels, Encoding: encoding}, nil
}

func (p *PathStructure) alphabet() string {
	if p.Encoding == Base64 {
		return base64Alphabet
	}
	return hexAlphabet
}

func (p *PathStructure) zeroChar() byte {
	if p.Encoding == Base64 {
		return 'A'
	}
	return '0'
}

// Eid derives the encoded ID for a primary-key tuple, in current-schema
// primary-key order.
func (p *PathStructure) Eid(pks []any) (string, error) {
	switch p.Scheme {
	case SchemeInt:
		return p.eidInt(pks)
	case SchemeMsgpackHash:
		return p.eidHash(pks)
	default:
		return "", fmt.Errorf("%w: unknown scheme %q", ErrInvalidStructure, p.Scheme)
	}
}

func (p *PathStructure) eidInt(pks []any) (string, error) {
	if len(pks) != 1 {
		return "", fmt.Errorf("pathstructure: int scheme requires exactly one primary key, got %d", len(pks))
	}
	n, err := toBigInt(pks[0])
	if err != nil {
		return "", fmt.Errorf("pathstructure: int scheme: %w", err)
	}

	filename, err := encodeFilename(pks)
	if err != nil {
		return "", err
	}

	alphabet := p.alphabet()
	base := big.NewInt(int64(len(alphabet)))
	want := p.Levels + 1

	v := new(big.Int).Set(n)
	if v.Sign() < 0 {
		v = new(big.Int).Neg(v)
	}

	// Keep only the most-significant `want` digits of v's big-endian
	// representation: divide out any lower-order digits beyond that
	// width so that incrementing v mostly leaves the folder unchanged.
	digitCount := 1
	for probe := new(big.Int).Set(base); probe.Cmp(v) <= 0; probe.Mul(probe, base) {
		digitCount++
	}
	if excess := digitCount - want; excess > 0 {
		v.Quo(v, new(big.Int).Exp(base, big.NewInt(int64(excess)), nil))
	}

	digits := make([]byte, want)
	mod := new(big.Int)
	for i := want - 1; i >= 0; i-- {
		v.DivMod(v, base, mod)
		digits[i] = alphabet[mod.Int64()]
	}

	// The last of the `want` = levels+1 digits is intentionally dropped:
	// it's the one most likely to change between sequential integers.
	folderChars := digits[:p.Levels]

	var b strings.Builder
	for _, c := range folderChars {
		b.WriteByte(c)
		b.WriteByte('/')
	}
	b.WriteString(filename)
	return b.String(), nil
}

func (p *PathStructure) eidHash(pks []any) (string, error) {
	if len(pks) == 0 {
		return "", errors.New("pathstructure: msgpack/hash scheme requires at least one primary key")
	}
	filename, err := encodeFilename(pks)
	if err != nil {
		return "", err
	}
	packed, err := wire.Pack(pks)
	if err != nil {
		return "", fmt.Errorf("pathstructure: pack key tuple: %w", err)
	}
	sum := sha256.Sum256(packed)

	var encoded string
	charsPerLevel := 1
	if p.Encoding == Hex {
		encoded = hexEncode(sum[:])
		charsPerLevel = 2
	} else {
		encoded = strings.TrimRight(base64.RawURLEncoding.EncodeToString(sum[:]), "=")
		encoded = strings.ReplaceAll(encoded, "-", "+")
		encoded = strings.ReplaceAll(encoded, "_", "/")
	}

	want := p.Levels * charsPerLevel
	zero := p.zeroChar()
	if len(encoded) < want {
		encoded = strings.Repeat(string(zero), want-len(encoded)) + encoded
	}
	clipped := encoded[:want]

	var b strings.Builder
	for i := 0; i < p.Levels; i++ {
		b.WriteString(clipped[i*charsPerLevel : (i+1)*charsPerLevel])
		b.WriteByte('/')
	}
	b.WriteString(filename)
	return b.String(), nil
}

func encodeFilename(pks []any) (string, error) {
	packed, err := wire.Pack(pks)
	if err != nil {
		return "", fmt.Errorf("pathstructure: pack filename tuple: %w", err)
	}
	return base64.StdEncoding.EncodeToString(packed), nil
}

// DecodeFilename recovers the packed primary-key tuple bytes from an eid's
// filename component. Accepts standard base64 or base64url, padded or not.
func DecodeFilename(filename string) ([]byte, error) {
	filename = strings.TrimRight(filename, "=")
	normalized := strings.NewReplacer("-", "+", "_", "/").Replace(filename)
	padded := normalized + strings.Repeat("=", (4-len(normalized)%4)%4)
	return base64.StdEncoding.DecodeString(padded)
}

func toBigInt(v any) (*big.Int, error) {
	switch x := v.(type) {
	case *big.Int:
		return x, nil
	case int64:
		return big.NewInt(x), nil
	case int:
		return big.NewInt(int64(x)), nil
	default:
		return nil, fmt.Errorf("expected integer primary key, got %T", v)
	}
}

func hexEncode(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0x0f]
	}
	return string(out)
}
