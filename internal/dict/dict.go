package dict

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// OtherFamily is the catch-all descriptor section used for devices
// without a dedicated family section, including unknown senders.
const OtherFamily = "Other"

// ScalarType enumerates the wire encodings a scalar field may declare.
type ScalarType string

const (
	ScalarNone ScalarType = ""
	ScalarU8   ScalarType = "u8"
	ScalarU16  ScalarType = "u16"
	ScalarU32  ScalarType = "u32"
	ScalarU64  ScalarType = "u64"
	ScalarF32  ScalarType = "f32"
	ScalarBool ScalarType = "bool"
)

// Width returns the number of payload bytes the scalar type occupies.
func (t ScalarType) Width() (int, bool) {
	switch t {
	case ScalarU8, ScalarBool:
		return 1, true
	case ScalarU16:
		return 2, true
	case ScalarU32, ScalarF32:
		return 4, true
	case ScalarU64:
		return 8, true
	default:
		return 0, false
	}
}

type BitSubfield struct {
	Name     string
	StartBit uint8
	BitCount uint8
}

type Dependency struct {
	ByteOffset int
	BitIndex   uint8
}

// Field describes one named quantity inside a message layout. Offsets
// are payload-relative; the decoder adds the fixed header length.
type Field struct {
	Label       string
	ByteOffsets []int
	Scalar      ScalarType
	Multiplier  float64
	Unit        string
	BitPacked   bool
	Subfields   []BitSubfield
	EnumLabels  map[int64]string
	Dependency  *Dependency
}

type Message struct {
	Description string
	Fields      []Field
}

// Section holds the descriptors of one device family, keyed by message
// identifier prefix (high byte) or by exact identifier.
type Section struct {
	prefixes map[uint8]*Message
	messages map[uint16]*Message
}

func (s *Section) Prefix(p uint8) (*Message, bool) {
	if s == nil {
		return nil, false
	}
	m, ok := s.prefixes[p]
	return m, ok
}

func (s *Section) Message(id uint16) (*Message, bool) {
	if s == nil {
		return nil, false
	}
	m, ok := s.messages[id]
	return m, ok
}

// Tree is the validated, immutable descriptor tree. Built once by
// FromJSON; lookups never mutate it.
type Tree struct {
	sections map[string]*Section
	other    *Section
	digest   string
}

// Section returns the family's descriptor section, falling back to the
// Other section for families without one.
func (t *Tree) Section(family string) *Section {
	if t == nil {
		return nil
	}
	if s, ok := t.sections[family]; ok {
		return s
	}
	return t.other
}

// Digest reports the SHA-256 of the source document, when loaded from
// a file.
func (t *Tree) Digest() string {
	if t == nil {
		return ""
	}
	return t.digest
}

type FamilyStat struct {
	Family   string
	Prefixes int
	Messages int
}

// Stats summarizes per-family descriptor counts, sorted by family name.
func (t *Tree) Stats() []FamilyStat {
	if t == nil {
		return nil
	}
	out := make([]FamilyStat, 0, len(t.sections)+1)
	for name, sec := range t.sections {
		out = append(out, FamilyStat{Family: name, Prefixes: len(sec.prefixes), Messages: len(sec.messages)})
	}
	if t.other != nil {
		out = append(out, FamilyStat{Family: OtherFamily, Prefixes: len(t.other.prefixes), Messages: len(t.other.messages)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Family < out[j].Family })
	return out
}

type JSONTree map[string]JSONSection

type JSONSection struct {
	Prefixes map[string]JSONMessage `json:"Prefixes"`
	Messages map[string]JSONMessage `json:"Messages"`
}

type JSONMessage struct {
	Description string      `json:"description,omitempty"`
	Fields      []JSONField `json:"fields"`
}

type JSONField struct {
	Label       string            `json:"label"`
	ByteOffsets []int             `json:"byteOffsets"`
	Type        string            `json:"type,omitempty"`
	Multiplier  *float64          `json:"multiplier,omitempty"`
	Unit        string            `json:"unit,omitempty"`
	BitPacked   bool              `json:"bitPacked,omitempty"`
	Bits        []JSONBitSubfield `json:"bits,omitempty"`
	Enum        map[string]string `json:"enum,omitempty"`
	Depends     *JSONDependency   `json:"depends,omitempty"`
}

type JSONBitSubfield struct {
	Name  string `json:"name"`
	Start int    `json:"start"`
	Count int    `json:"count"`
}

type JSONDependency struct {
	ByteOffset int `json:"byteOffset"`
	BitIndex   int `json:"bitIndex"`
}

// FromJSON validates the raw descriptor document and builds the typed
// tree. Any structural defect is fatal here; the decoder assumes every
// descriptor it sees has already passed this gate.
func FromJSON(file JSONTree) (*Tree, error) {
	tree := &Tree{sections: make(map[string]*Section)}
	for family, rawSection := range file {
		name := strings.TrimSpace(family)
		if name == "" {
			return nil, fmt.Errorf("descriptor tree: empty family name")
		}
		section := &Section{
			prefixes: make(map[uint8]*Message),
			messages: make(map[uint16]*Message),
		}
		for key, rawMsg := range rawSection.Prefixes {
			prefix, err := strconv.ParseUint(strings.TrimSpace(key), 0, 8)
			if err != nil {
				return nil, fmt.Errorf("%s: prefix %q is not a byte value", name, key)
			}
			msg, err := buildMessage(rawMsg)
			if err != nil {
				return nil, fmt.Errorf("%s: prefix %s: %w", name, key, err)
			}
			section.prefixes[uint8(prefix)] = msg
		}
		for key, rawMsg := range rawSection.Messages {
			id, err := strconv.ParseUint(strings.TrimSpace(key), 10, 16)
			if err != nil {
				return nil, fmt.Errorf("%s: message id %q is not a 16-bit decimal", name, key)
			}
			msg, err := buildMessage(rawMsg)
			if err != nil {
				return nil, fmt.Errorf("%s: message %s: %w", name, key, err)
			}
			section.messages[uint16(id)] = msg
		}
		if name == OtherFamily {
			if len(section.messages) > 0 {
				return nil, fmt.Errorf("%s: exact message identifiers are not allowed here", OtherFamily)
			}
			tree.other = section
			continue
		}
		if _, exists := tree.sections[name]; exists {
			return nil, fmt.Errorf("duplicate family %s", name)
		}
		tree.sections[name] = section
	}
	if tree.other == nil {
		tree.other = &Section{
			prefixes: make(map[uint8]*Message),
			messages: make(map[uint16]*Message),
		}
	}
	return tree, nil
}

func buildMessage(raw JSONMessage) (*Message, error) {
	msg := &Message{
		Description: strings.TrimSpace(raw.Description),
		Fields:      make([]Field, 0, len(raw.Fields)),
	}
	for i, rawField := range raw.Fields {
		field, err := buildField(rawField)
		if err != nil {
			return nil, fmt.Errorf("field[%d]: %w", i, err)
		}
		msg.Fields = append(msg.Fields, field)
	}
	return msg, nil
}

func buildField(raw JSONField) (Field, error) {
	label := strings.TrimSpace(raw.Label)
	if label == "" {
		return Field{}, fmt.Errorf("missing label")
	}
	if len(raw.ByteOffsets) == 0 {
		return Field{}, fmt.Errorf("%s: no byte offsets", label)
	}
	for _, off := range raw.ByteOffsets {
		if off < 0 {
			return Field{}, fmt.Errorf("%s: negative byte offset %d", label, off)
		}
	}
	field := Field{
		Label:       label,
		ByteOffsets: append([]int(nil), raw.ByteOffsets...),
		Unit:        strings.TrimSpace(raw.Unit),
		Multiplier:  1.0,
		BitPacked:   raw.BitPacked,
	}
	if raw.Multiplier != nil {
		field.Multiplier = *raw.Multiplier
	}

	scalar := ScalarType(strings.TrimSpace(raw.Type))
	switch {
	case raw.BitPacked && scalar != ScalarNone:
		return Field{}, fmt.Errorf("%s: scalar type and bit packing are mutually exclusive", label)
	case raw.BitPacked:
		if len(raw.Bits) == 0 {
			return Field{}, fmt.Errorf("%s: bit-packed field has no subfields", label)
		}
		if len(raw.ByteOffsets) > 8 {
			return Field{}, fmt.Errorf("%s: bit-packed field combines more than 8 bytes", label)
		}
		span := 8 * len(raw.ByteOffsets)
		for j, bit := range raw.Bits {
			name := strings.TrimSpace(bit.Name)
			if name == "" {
				return Field{}, fmt.Errorf("%s: bits[%d]: missing name", label, j)
			}
			if bit.Count < 1 || bit.Count > 64 {
				return Field{}, fmt.Errorf("%s: bits[%d]: count out of range", label, j)
			}
			if bit.Start < 0 || bit.Start+bit.Count > span {
				return Field{}, fmt.Errorf("%s: bits[%d]: exceeds %d-bit span", label, j, span)
			}
			field.Subfields = append(field.Subfields, BitSubfield{
				Name:     name,
				StartBit: uint8(bit.Start),
				BitCount: uint8(bit.Count),
			})
		}
	default:
		width, ok := scalar.Width()
		if !ok {
			return Field{}, fmt.Errorf("%s: unknown scalar type %q", label, raw.Type)
		}
		if len(raw.ByteOffsets) != width {
			return Field{}, fmt.Errorf("%s: %s needs %d byte offsets, got %d", label, scalar, width, len(raw.ByteOffsets))
		}
		if len(raw.Bits) > 0 {
			return Field{}, fmt.Errorf("%s: scalar field declares bit subfields", label)
		}
		field.Scalar = scalar
	}

	if len(raw.Enum) > 0 {
		field.EnumLabels = make(map[int64]string, len(raw.Enum))
		for code, enumLabel := range raw.Enum {
			value, err := strconv.ParseInt(strings.TrimSpace(code), 0, 64)
			if err != nil {
				return Field{}, fmt.Errorf("%s: enum code %q is not an integer", label, code)
			}
			field.EnumLabels[value] = strings.TrimSpace(enumLabel)
		}
	}

	if raw.Depends != nil {
		if raw.Depends.ByteOffset < 0 {
			return Field{}, fmt.Errorf("%s: dependency byte offset is negative", label)
		}
		if raw.Depends.BitIndex < 0 || raw.Depends.BitIndex > 7 {
			return Field{}, fmt.Errorf("%s: dependency bit index out of range", label)
		}
		field.Dependency = &Dependency{
			ByteOffset: raw.Depends.ByteOffset,
			BitIndex:   uint8(raw.Depends.BitIndex),
		}
	}
	return field, nil
}
