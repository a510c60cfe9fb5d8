// Package reference implements structured identifiers for the coupling
// runtime. A Reference names an instance, a port, or a setting: a dotted
// sequence of identifiers, optionally interleaved with non-negative
// integer indices, such as "macro.micro[3][1]".
package reference

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/c360/coupling/errors"
)

// Part is one element of a Reference: an identifier or an index.
type Part struct {
	id      string
	idx     int
	isIndex bool
}

// Identifier creates an identifier Part.
func Identifier(name string) Part {
	return Part{id: name}
}

// Index creates an index Part.
func Index(i int) Part {
	return Part{idx: i, isIndex: true}
}

// IsIdentifier reports whether the part is an identifier.
func (p Part) IsIdentifier() bool {
	return !p.isIndex
}

// IsIndex reports whether the part is an index.
func (p Part) IsIndex() bool {
	return p.isIndex
}

// Name returns the identifier text; empty for index parts.
func (p Part) Name() string {
	return p.id
}

// Value returns the index value; zero for identifier parts.
func (p Part) Value() int {
	return p.idx
}

// Reference is an immutable sequence of parts. The zero Reference is
// empty and invalid; valid references start with an identifier.
type Reference struct {
	parts []Part
}

// New builds a Reference from parts. It validates the same rules as
// Parse: the sequence must be non-empty and start with an identifier,
// identifiers must be well-formed and indices non-negative.
func New(parts ...Part) (Reference, error) {
	if len(parts) == 0 {
		return Reference{}, errors.WrapInvalid(
			fmt.Errorf("%w: empty reference", errors.ErrInvalidReference),
			"Reference", "New", "validation")
	}
	if parts[0].IsIndex() {
		return Reference{}, errors.WrapInvalid(
			fmt.Errorf("%w: reference must start with an identifier", errors.ErrInvalidReference),
			"Reference", "New", "validation")
	}
	for _, p := range parts {
		if p.IsIdentifier() {
			if !validIdentifier(p.Name()) {
				return Reference{}, errors.WrapInvalid(
					fmt.Errorf("%w: bad identifier %q", errors.ErrInvalidReference, p.Name()),
					"Reference", "New", "validation")
			}
		} else if p.Value() < 0 {
			return Reference{}, errors.WrapInvalid(
				fmt.Errorf("%w: negative index %d", errors.ErrInvalidReference, p.Value()),
				"Reference", "New", "validation")
		}
	}
	return Reference{parts: append([]Part(nil), parts...)}, nil
}

// MustNew is New for statically known references; it panics on error.
func MustNew(parts ...Part) Reference {
	r, err := New(parts...)
	if err != nil {
		panic(err)
	}
	return r
}

// Parse parses the string form of a Reference.
func Parse(s string) (Reference, error) {
	if s == "" {
		return Reference{}, errors.WrapInvalid(
			fmt.Errorf("%w: empty reference", errors.ErrInvalidReference),
			"Reference", "Parse", "validation")
	}

	var parts []Part
	rest := s
	for len(rest) > 0 {
		switch {
		case rest[0] == '.':
			if len(parts) == 0 {
				return Reference{}, parseError(s, "leading '.'")
			}
			rest = rest[1:]
			if rest == "" {
				return Reference{}, parseError(s, "trailing '.'")
			}
			if rest[0] == '.' {
				return Reference{}, parseError(s, "empty identifier")
			}
		case rest[0] == '[':
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return Reference{}, parseError(s, "unterminated index")
			}
			idx, err := strconv.Atoi(rest[1:end])
			if err != nil || idx < 0 {
				return Reference{}, parseError(s, fmt.Sprintf("bad index %q", rest[1:end]))
			}
			if len(parts) == 0 {
				return Reference{}, parseError(s, "reference must start with an identifier")
			}
			parts = append(parts, Index(idx))
			rest = rest[end+1:]
		default:
			end := 0
			for end < len(rest) && rest[end] != '.' && rest[end] != '[' {
				end++
			}
			name := rest[:end]
			if !validIdentifier(name) {
				return Reference{}, parseError(s, fmt.Sprintf("bad identifier %q", name))
			}
			if len(parts) > 0 && parts[len(parts)-1].IsIndex() {
				return Reference{}, parseError(s, "identifier cannot directly follow an index")
			}
			parts = append(parts, Part{id: name})
			rest = rest[end:]
		}
	}
	return Reference{parts: parts}, nil
}

// MustParse is Parse for statically known references; it panics on error.
func MustParse(s string) Reference {
	r, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return r
}

func parseError(ref, detail string) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %q: %s", errors.ErrInvalidReference, ref, detail),
		"Reference", "Parse", "validation")
}

func validIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c == '_':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// String renders the reference in its canonical text form.
func (r Reference) String() string {
	var b strings.Builder
	for i, p := range r.parts {
		if p.IsIndex() {
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(p.Value()))
			b.WriteByte(']')
		} else {
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(p.Name())
		}
	}
	return b.String()
}

// Len returns the number of parts.
func (r Reference) Len() int {
	return len(r.parts)
}

// IsEmpty reports whether the reference has no parts.
func (r Reference) IsEmpty() bool {
	return len(r.parts) == 0
}

// Part returns the i'th part.
func (r Reference) Part(i int) Part {
	return r.parts[i]
}

// Slice returns the sub-reference covering parts [from, to).
func (r Reference) Slice(from, to int) Reference {
	return Reference{parts: r.parts[from:to]}
}

// AppendIndex returns a new Reference with an index part appended.
func (r Reference) AppendIndex(i int) Reference {
	parts := make([]Part, 0, len(r.parts)+1)
	parts = append(parts, r.parts...)
	parts = append(parts, Index(i))
	return Reference{parts: parts}
}

// AppendIdentifier returns a new Reference with an identifier appended.
func (r Reference) AppendIdentifier(name string) Reference {
	parts := make([]Part, 0, len(r.parts)+1)
	parts = append(parts, r.parts...)
	parts = append(parts, Part{id: name})
	return Reference{parts: parts}
}

// Concat returns a new Reference with other's parts appended.
func (r Reference) Concat(other Reference) Reference {
	parts := make([]Part, 0, len(r.parts)+len(other.parts))
	parts = append(parts, r.parts...)
	parts = append(parts, other.parts...)
	return Reference{parts: parts}
}

// Equal reports whether two references have identical parts.
func (r Reference) Equal(other Reference) bool {
	if len(r.parts) != len(other.parts) {
		return false
	}
	for i := range r.parts {
		if r.parts[i] != other.parts[i] {
			return false
		}
	}
	return true
}

// MarshalText implements encoding.TextMarshaler; references travel as
// their canonical string form.
func (r Reference) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Reference) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Identity splits an instance reference into the compute element name
// (the leading identifier run) and the instance index (the trailing
// integer run, possibly empty).
func (r Reference) Identity() (name Reference, index []int) {
	i := 0
	for i < len(r.parts) && r.parts[i].IsIdentifier() {
		i++
	}
	name = Reference{parts: r.parts[:i]}
	for ; i < len(r.parts) && r.parts[i].IsIndex(); i++ {
		index = append(index, r.parts[i].Value())
	}
	return name, index
}
