// Package mapping translates abstract batch-file fields into concrete,
// formatted values. One named profile exists per processor; the codec
// walks a profile's field groups in order to lay out each record.
package mapping

import (
	"errors"
	"fmt"
	"time"

	"ach-settlement-backend/internal/models"
)

var ErrProfileNotFound = errors.New("mapping: profile not found")

// MappingError marks a field whose value could not be resolved. It is
// fatal to the whole batch build.
type MappingError struct {
	Section string
	Field   string
	Reason  string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("mapping: %s.%s: %s", e.Section, e.Field, e.Reason)
}

// Field value sources.
const (
	SourceFixed   = "fixed"
	SourceSetting = "setting"
	SourceDerived = "derived"
)

// Record sections a profile describes. Control records are computed by
// the codec from the entries themselves and carry no profile fields.
const (
	SectionFileHeader  = "file_header"
	SectionBatchHeader = "batch_header"
	SectionEntryDetail = "entry_detail"
)

// SettingsProvider is the configuration lookup "setting"-sourced fields
// resolve against.
type SettingsProvider interface {
	Get(key string) (string, bool)
}

// FieldContext carries everything a derived field may draw on. Routing
// and Account hold decrypted values scoped to a single record; the
// caller zeroes them as soon as the record is formatted.
type FieldContext struct {
	Now          time.Time
	Batch        *models.Batch
	Item         *models.BatchItem
	Routing      []byte
	Account      []byte
	ReceiverName string
	OrderRef     string
}

type DeriveFunc func(ctx *FieldContext) (string, error)

type FieldSpec struct {
	Name   string
	Source string
	// Value is the constant for fixed fields or the key for setting
	// fields; unused for derived fields.
	Value  string
	Derive DeriveFunc
	Format []FormatOp
}

type Profile struct {
	Name        string
	FileHeader  []FieldSpec
	BatchHeader []FieldSpec
	EntryDetail []FieldSpec
}

func (p *Profile) group(section string) ([]FieldSpec, error) {
	switch section {
	case SectionFileHeader:
		return p.FileHeader, nil
	case SectionBatchHeader:
		return p.BatchHeader, nil
	case SectionEntryDetail:
		return p.EntryDetail, nil
	}
	return nil, &MappingError{Section: section, Reason: "unknown section"}
}

// Store holds the registered profiles. Registration happens once at
// startup; reads are unsynchronized by design.
type Store struct {
	profiles map[string]*Profile
	settings SettingsProvider
}

func NewStore(settings SettingsProvider) *Store {
	s := &Store{
		profiles: make(map[string]*Profile),
		settings: settings,
	}
	s.Register(ppdDefault())
	return s
}

func (s *Store) Register(p *Profile) {
	s.profiles[p.Name] = p
}

func (s *Store) Get(name string) (*Profile, error) {
	p, ok := s.profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProfileNotFound, name)
	}
	return p, nil
}

// Resolve produces the formatted value for one field. Derived resolvers
// see decrypted bank details through the context but their output has
// already been reduced to what the file slot needs; raw secrets never
// reach the caller beyond that slot value.
func (s *Store) Resolve(p *Profile, section, fieldName string, ctx *FieldContext) (string, error) {
	group, err := p.group(section)
	if err != nil {
		return "", err
	}
	for i := range group {
		if group[i].Name == fieldName {
			return s.resolveSpec(&group[i], section, ctx)
		}
	}
	return "", &MappingError{Section: section, Field: fieldName, Reason: "no such field"}
}

// ResolveGroup resolves every field of a section in declared order.
func (s *Store) ResolveGroup(p *Profile, section string, ctx *FieldContext) ([]string, error) {
	group, err := p.group(section)
	if err != nil {
		return nil, err
	}
	values := make([]string, 0, len(group))
	for i := range group {
		v, err := s.resolveSpec(&group[i], section, ctx)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func (s *Store) resolveSpec(spec *FieldSpec, section string, ctx *FieldContext) (string, error) {
	var value string
	switch spec.Source {
	case SourceFixed:
		value = spec.Value
	case SourceSetting:
		v, ok := s.settings.Get(spec.Value)
		if !ok {
			return "", &MappingError{Section: section, Field: spec.Name, Reason: fmt.Sprintf("setting %q not configured", spec.Value)}
		}
		value = v
	case SourceDerived:
		if spec.Derive == nil {
			return "", &MappingError{Section: section, Field: spec.Name, Reason: "derived field without resolver"}
		}
		v, err := spec.Derive(ctx)
		if err != nil {
			return "", &MappingError{Section: section, Field: spec.Name, Reason: err.Error()}
		}
		value = v
	default:
		return "", &MappingError{Section: section, Field: spec.Name, Reason: "no resolvable source"}
	}
	return applyFormats(value, spec.Format), nil
}
