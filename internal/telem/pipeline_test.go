package telem

import (
	"encoding/binary"
	"reflect"
	"testing"

	"example.com/telemgate/internal/common"
	"example.com/telemgate/internal/dict"
)

func TestTransformSkipsLengthViolations(t *testing.T) {
	tree := buildTestTree(t)
	good := buildTestPacket(t, 1, 0x1F00, []byte{0x10, 0x27})
	rows := []RawMessageRow{
		{TimestampMs: 1, Payload: good[:8]}, // shorter than the header
		{TimestampMs: 2, Payload: make([]byte, DefaultMaxPacketBytes+1)}, // over the cap
		{TimestampMs: 3, Payload: good},
	}

	m := common.NewMetrics()
	p := NewPipeline(tree, DefaultMaxPacketBytes)
	p.SetMetrics(m)
	samples := p.Transform(rows)

	if len(samples) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(samples))
	}
	if samples[0].Value != 10000 {
		t.Fatalf("value = %v, want 10000", samples[0].Value)
	}
	snap := m.Snapshot()
	if snap.Rows != 3 {
		t.Fatalf("rows = %d, want 3", snap.Rows)
	}
	if snap.SkippedRows != 2 {
		t.Fatalf("skippedRows = %d, want 2", snap.SkippedRows)
	}
	if snap.Samples != 1 {
		t.Fatalf("samples = %d, want 1", snap.Samples)
	}
}

func TestTransformSkipsUnresolvedRows(t *testing.T) {
	tree := buildTestTree(t)
	m := common.NewMetrics()
	p := NewPipeline(tree, DefaultMaxPacketBytes)
	p.SetMetrics(m)

	rows := []RawMessageRow{
		{TimestampMs: 1, Payload: buildTestPacket(t, 1, 0x0301, nil)},
	}
	samples := p.Transform(rows)
	if len(samples) != 0 {
		t.Fatalf("expected no samples, got %d", len(samples))
	}
	if snap := m.Snapshot(); snap.SkippedRows != 1 {
		t.Fatalf("skippedRows = %d, want 1", snap.SkippedRows)
	}
}

func TestTransformSkipsFailingFieldOnly(t *testing.T) {
	tree := buildTestTree(t)
	// The 0x1F descriptor reads a u16 at payload offsets 0..1; a one-byte
	// payload fails the bounds check without aborting the batch.
	rows := []RawMessageRow{
		{TimestampMs: 1, Payload: buildTestPacket(t, 1, 0x1F00, []byte{0x01})},
		{TimestampMs: 2, Payload: buildTestPacket(t, 1, 0x1F00, []byte{0x34, 0x12})},
	}
	m := common.NewMetrics()
	p := NewPipeline(tree, DefaultMaxPacketBytes)
	p.SetMetrics(m)
	samples := p.Transform(rows)

	if len(samples) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(samples))
	}
	if samples[0].TimestampMs != 2 {
		t.Fatalf("surviving sample from row %d, want row 2", samples[0].TimestampMs)
	}
	if snap := m.Snapshot(); snap.SkippedFields != 1 {
		t.Fatalf("skippedFields = %d, want 1", snap.SkippedFields)
	}
}

func TestTransformCopiesPayloadBeforeRead(t *testing.T) {
	tree := buildTestTree(t)
	payload := buildTestPacket(t, 1, 0x1F00, []byte{0x34, 0x12})
	rows := []RawMessageRow{{TimestampMs: 1, Payload: payload}}

	p := NewPipeline(tree, DefaultMaxPacketBytes)
	samples := p.Transform(rows)
	if len(samples) != 1 || samples[0].Value != 4660 {
		t.Fatalf("unexpected first decode: %+v", samples)
	}

	// Recycle the caller's slice; a second run must see the new bytes.
	payload[HeaderLength] = 0xFF
	payload[HeaderLength+1] = 0x00
	samples = p.Transform(rows)
	if len(samples) != 1 || samples[0].Value != 255 {
		t.Fatalf("unexpected recycled decode: %+v", samples)
	}
}

func TestTransformParallelMatchesSerial(t *testing.T) {
	tree := buildTestTree(t)
	rows := make([]RawMessageRow, 0, 40)
	for i := 0; i < 40; i++ {
		rows = append(rows, RawMessageRow{
			TimestampMs: int64(i),
			Payload:     buildTestPacket(t, 1, 0x1F00, []byte{byte(i), 0x01}),
		})
	}

	serial := NewPipeline(tree, DefaultMaxPacketBytes).Transform(rows)
	for _, workers := range []int{1, 2, 3, 7, 64} {
		parallel := TransformParallel(tree, rows, DefaultMaxPacketBytes, workers, nil)
		if !reflect.DeepEqual(serial, parallel) {
			t.Fatalf("workers=%d: parallel output diverges from serial", workers)
		}
	}
}

func TestTransformDecodesDeepOffsetField(t *testing.T) {
	tree, err := dict.FromJSON(dict.JSONTree{
		"rover": {
			Messages: map[string]dict.JSONMessage{
				"2": {Fields: []dict.JSONField{
					{Label: "fuel_ml", ByteOffsets: []int{16, 17, 18, 19}, Type: "u32"},
				}},
			},
		},
	})
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}

	payload := make([]byte, 20)
	binary.LittleEndian.PutUint32(payload[16:20], 305419896)
	rows := []RawMessageRow{{TimestampMs: 9, Payload: buildTestPacket(t, 1, 2, payload)}}

	samples := NewPipeline(tree, DefaultMaxPacketBytes).Transform(rows)
	if len(samples) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(samples))
	}
	if samples[0].Label != "fuel_ml" || samples[0].Value != 305419896 {
		t.Fatalf("sample = %+v, want fuel_ml 305419896", samples[0])
	}
	if samples[0].Identity != "rover/2/fuel_ml" {
		t.Fatalf("identity = %q", samples[0].Identity)
	}
}

func TestNewPipelineDefaultsTinyMaxPacket(t *testing.T) {
	tree := buildTestTree(t)
	p := NewPipeline(tree, 4)
	if p.maxPacket != DefaultMaxPacketBytes {
		t.Fatalf("maxPacket = %d, want %d", p.maxPacket, DefaultMaxPacketBytes)
	}
}
