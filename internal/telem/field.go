package telem

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"example.com/telemgate/internal/dict"
)

// Scalar samples round to 4 decimal places so stored values compare
// stably across platforms.
const roundScale = 1e4

var (
	ErrFieldBounds       = errors.New("field offsets exceed packet length")
	ErrUnknownScalarType = errors.New("field has no recognized scalar type")
)

// DecodeField extracts the samples one field descriptor yields from a
// packet. A bit-packed descriptor emits one sample per subfield; a
// scalar descriptor emits exactly one. Errors mean this field is
// skipped; they never concern sibling fields or the row.
func DecodeField(pkt []byte, field *dict.Field, identity string, tsMs int64) ([]ParsedSample, error) {
	label := effectiveLabel(pkt, field)
	if field.BitPacked {
		return decodeBitPacked(pkt, field, label, identity, tsMs)
	}
	if field.Scalar == dict.ScalarNone {
		return nil, fmt.Errorf("%s: %w", field.Label, ErrUnknownScalarType)
	}
	sample, err := decodeScalar(pkt, field, label, identity, tsMs)
	if err != nil {
		return nil, err
	}
	return []ParsedSample{sample}, nil
}

func decodeBitPacked(pkt []byte, field *dict.Field, label, identity string, tsMs int64) ([]ParsedSample, error) {
	var combined uint64
	for i, off := range field.ByteOffsets {
		abs := HeaderLength + off
		if abs >= len(pkt) {
			return nil, fmt.Errorf("%s: offset %d: %w", field.Label, off, ErrFieldBounds)
		}
		combined |= uint64(pkt[abs]) << (8 * uint(i))
	}
	samples := make([]ParsedSample, 0, len(field.Subfields))
	for _, sub := range field.Subfields {
		value := float64(extractBits(combined, uint(sub.StartBit), uint(sub.BitCount)))
		if field.Multiplier != 1.0 {
			value *= field.Multiplier
		}
		subLabel := label + "_" + sub.Name
		samples = append(samples, ParsedSample{
			Identity:    identity + "/" + subLabel,
			Label:       subLabel,
			Unit:        field.Unit,
			IsEnum:      len(field.EnumLabels) > 0,
			TimestampMs: tsMs,
			Value:       value,
		})
	}
	return samples, nil
}

func decodeScalar(pkt []byte, field *dict.Field, label, identity string, tsMs int64) (ParsedSample, error) {
	var buf [8]byte
	for i, off := range field.ByteOffsets {
		abs := HeaderLength + off
		if abs >= len(pkt) {
			return ParsedSample{}, fmt.Errorf("%s: offset %d: %w", field.Label, off, ErrFieldBounds)
		}
		buf[i] = pkt[abs]
	}

	var value float64
	switch field.Scalar {
	case dict.ScalarU8:
		value = float64(buf[0])
	case dict.ScalarBool:
		if buf[0] != 0 {
			value = 1
		}
	case dict.ScalarU16:
		value = float64(binary.LittleEndian.Uint16(buf[:2]))
	case dict.ScalarU32:
		value = float64(binary.LittleEndian.Uint32(buf[:4]))
	case dict.ScalarF32:
		value = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[:4])))
	case dict.ScalarU64:
		// Little-endian accumulation in float64. Values above 2^53
		// lose low bits; accepted so existing stored samples keep
		// their observed values.
		scale := 1.0
		for i := 0; i < 8; i++ {
			value += float64(buf[i]) * scale
			scale *= 256
		}
	default:
		return ParsedSample{}, fmt.Errorf("%s: %w", field.Label, ErrUnknownScalarType)
	}

	if field.Multiplier != 1.0 {
		value *= field.Multiplier
	}
	value = math.Round(value*roundScale) / roundScale

	return ParsedSample{
		Identity:    identity + "/" + label,
		Label:       label,
		Unit:        field.Unit,
		IsEnum:      len(field.EnumLabels) > 0,
		TimestampMs: tsMs,
		Value:       value,
	}, nil
}

// extractBits pulls count bits starting at bit start from a combined
// little-endian value.
func extractBits(v uint64, start, count uint) uint64 {
	v >>= start
	if count >= 64 {
		return v
	}
	return v & ((uint64(1) << count) - 1)
}

// effectiveLabel resolves the dependent-label convention: a label of
// the form "On | Off" picks its first half when the dependency bit is
// set and its second half when clear. Labels without the separator,
// and dependency offsets outside the packet, leave the label as-is.
func effectiveLabel(pkt []byte, field *dict.Field) string {
	dep := field.Dependency
	if dep == nil {
		return field.Label
	}
	abs := HeaderLength + dep.ByteOffset
	if abs >= len(pkt) {
		return field.Label
	}
	whenSet, whenClear, ok := strings.Cut(field.Label, " | ")
	if !ok {
		return field.Label
	}
	if (pkt[abs]>>dep.BitIndex)&1 == 1 {
		return whenSet
	}
	return whenClear
}
