package schema

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kart-go/tabledataset/legend"
	"github.com/kart-go/tabledataset/wire"
)

// ErrFileNotFound reports a missing schema.json. No function in this
// package returns it: Load and New take the file's bytes, not a path.
var ErrFileNotFound = errors.New("schema: file not found")

// ErrInvalidFileContents is returned when schema.json does not parse as a
// JSON array of tagged entries.
var ErrInvalidFileContents = errors.New("schema: invalid file contents")

// ErrValidation is returned when the parsed entries violate one of the
// Schema invariants (duplicate id, non-dense primary-key ordering, empty
// schema).
var ErrValidation = errors.New("schema: validation")

// Schema is the ordered, validated sequence of column entries that makes up
// a dataset's schema.json. Schema is immutable after Load.
type Schema struct {
	entries []Entry

	byID               map[string]int
	primaryKeyNames    []string
	nonPrimaryKeyNames []string
	primaryGeometry    *Entry
}

// Load parses schema.json content into a validated Schema.
func Load(data []byte) (*Schema, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		if errors.Is(err, ErrUnknownDataType) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidFileContents, err)
	}
	return New(entries)
}

// New builds a Schema from already-decoded entries, validating the
// invariants Load would otherwise enforce.
func New(entries []Entry) (*Schema, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: schema has no entries", ErrValidation)
	}

	byID := make(map[string]int, len(entries))
	pkOrder := make(map[int]string)
	maxPK := -1
	for i, e := range entries {
		if _, dup := byID[e.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate column id %q", ErrValidation, e.ID)
		}
		byID[e.ID] = i
		if e.IsPrimaryKey() {
			if existing, ok := pkOrder[e.PrimaryKeyIndex]; ok {
				return nil, fmt.Errorf("%w: primaryKeyIndex %d used by both %q and %q", ErrValidation, e.PrimaryKeyIndex, existing, e.Name)
			}
			pkOrder[e.PrimaryKeyIndex] = e.Name
			if e.PrimaryKeyIndex > maxPK {
				maxPK = e.PrimaryKeyIndex
			}
		}
	}
	if maxPK < 0 {
		return nil, fmt.Errorf("%w: schema has no primary key", ErrValidation)
	}
	for i := 0; i <= maxPK; i++ {
		if _, ok := pkOrder[i]; !ok {
			return nil, fmt.Errorf("%w: primaryKeyIndex sequence has a gap at %d", ErrValidation, i)
		}
	}

	s := &Schema{
		entries:            append([]Entry(nil), entries...),
		byID:               byID,
		primaryKeyNames:    make([]string, maxPK+1),
		nonPrimaryKeyNames: make([]string, 0, len(entries)),
	}
	for _, e := range entries {
		if e.IsPrimaryKey() {
			s.primaryKeyNames[e.PrimaryKeyIndex] = e.Name
		} else {
			s.nonPrimaryKeyNames = append(s.nonPrimaryKeyNames, e.Name)
		}
		if e.DataType == Geometry && s.primaryGeometry == nil {
			ge := e
			s.primaryGeometry = &ge
		}
	}
	return s, nil
}

// Entries returns the schema's columns in on-wire order.
func (s *Schema) Entries() []Entry {
	return append([]Entry(nil), s.entries...)
}

// Entry returns the entry with the given column id.
func (s *Schema) Entry(id string) (Entry, bool) {
	i, ok := s.byID[id]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i], true
}

// EntryByName returns the entry with the given current column name.
func (s *Schema) EntryByName(name string) (Entry, bool) {
	for _, e := range s.entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// PrimaryKeyNames returns column names ordered by primaryKeyIndex.
func (s *Schema) PrimaryKeyNames() []string {
	return append([]string(nil), s.primaryKeyNames...)
}

// NonPrimaryKeyNames returns non-primary-key column names in schema order.
func (s *Schema) NonPrimaryKeyNames() []string {
	return append([]string(nil), s.nonPrimaryKeyNames...)
}

// PrimaryGeometry returns the first geometry entry, if any.
func (s *Schema) PrimaryGeometry() (Entry, bool) {
	if s.primaryGeometry == nil {
		return Entry{}, false
	}
	return *s.primaryGeometry, true
}

// ToLegend collapses the schema's current column ordering into a Legend.
func (s *Schema) ToLegend() (*legend.Legend, error) {
	pkIDs := make([]string, len(s.primaryKeyNames))
	for _, e := range s.entries {
		if e.IsPrimaryKey() {
			pkIDs[e.PrimaryKeyIndex] = e.ID
		}
	}
	npkIDs := make([]string, 0, len(s.nonPrimaryKeyNames))
	for _, e := range s.entries {
		if !e.IsPrimaryKey() {
			npkIDs = append(npkIDs, e.ID)
		}
	}
	packed, err := wire.Pack([]any{pkIDs, npkIDs})
	if err != nil {
		return nil, fmt.Errorf("schema: pack legend: %w", err)
	}
	return legend.FromPacked(packed, pkIDs, npkIDs), nil
}
