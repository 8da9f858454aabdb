package telem

import (
	"errors"
	"sync"

	"example.com/telemgate/internal/common"
	"example.com/telemgate/internal/dict"
)

var (
	ErrRowTooShort = errors.New("row shorter than packet header")
	ErrRowTooLong  = errors.New("row exceeds maximum packet size")
)

// Pipeline decodes batches of raw rows against one descriptor tree.
//
// A Pipeline owns a single scratch buffer that every row is copied
// into before any byte is read, so callers may recycle their payload
// slices between calls. The buffer makes a Pipeline single-goroutine
// property; workers scaling over large historical batches construct
// one Pipeline each.
type Pipeline struct {
	tree      *dict.Tree
	maxPacket int
	scratch   []byte
	metrics   *common.Metrics
}

func NewPipeline(tree *dict.Tree, maxPacketBytes int) *Pipeline {
	if maxPacketBytes < HeaderLength {
		maxPacketBytes = DefaultMaxPacketBytes
	}
	return &Pipeline{
		tree:      tree,
		maxPacket: maxPacketBytes,
		scratch:   make([]byte, maxPacketBytes),
	}
}

// SetMetrics attaches a metrics recorder to the pipeline.
func (p *Pipeline) SetMetrics(m *common.Metrics) {
	p.metrics = m
}

// Transform decodes rows in order and returns every emitted sample,
// row order preserved. Length violations, unresolved messages, and
// per-field decode failures skip the row or field and never abort the
// batch.
func (p *Pipeline) Transform(rows []RawMessageRow) []ParsedSample {
	samples := make([]ParsedSample, 0, len(rows))
	for _, row := range rows {
		n := len(row.Payload)
		if p.metrics != nil {
			p.metrics.AddRow(int64(n))
		}
		if n < HeaderLength {
			common.Logf("skip row at %d: %v (%d bytes)", row.TimestampMs, ErrRowTooShort, n)
			if p.metrics != nil {
				p.metrics.IncSkippedRow()
			}
			continue
		}
		if n > p.maxPacket {
			common.Logf("skip row at %d: %v (%d bytes)", row.TimestampMs, ErrRowTooLong, n)
			if p.metrics != nil {
				p.metrics.IncSkippedRow()
			}
			continue
		}
		buf := p.scratch[:n]
		copy(buf, row.Payload)

		res := Resolve(p.tree, buf)
		if res.Descriptor == nil {
			if p.metrics != nil {
				p.metrics.IncSkippedRow()
			}
			continue
		}
		emitted := 0
		for i := range res.Descriptor.Fields {
			field := &res.Descriptor.Fields[i]
			out, err := DecodeField(buf, field, res.Identity, row.TimestampMs)
			if err != nil {
				common.Logf("skip field in %s: %v", res.Identity, err)
				if p.metrics != nil {
					p.metrics.AddSkippedFields(1)
				}
				continue
			}
			samples = append(samples, out...)
			emitted += len(out)
		}
		if p.metrics != nil {
			p.metrics.AddSamples(emitted)
		}
	}
	return samples
}

// TransformParallel decodes rows across workers goroutines. Each
// worker owns its own Pipeline (and therefore its own scratch buffer)
// and accumulates into its own slice; chunks are contiguous and
// re-joined in order, so the output matches a single-pipeline run.
func TransformParallel(tree *dict.Tree, rows []RawMessageRow, maxPacketBytes, workers int, m *common.Metrics) []ParsedSample {
	if workers <= 1 || len(rows) < workers {
		p := NewPipeline(tree, maxPacketBytes)
		p.SetMetrics(m)
		return p.Transform(rows)
	}
	chunkSize := (len(rows) + workers - 1) / workers
	results := make([][]ParsedSample, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		start := i * chunkSize
		if start >= len(rows) {
			break
		}
		end := start + chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		wg.Add(1)
		go func(idx int, part []RawMessageRow) {
			defer wg.Done()
			p := NewPipeline(tree, maxPacketBytes)
			p.SetMetrics(m)
			results[idx] = p.Transform(part)
		}(i, rows[start:end])
	}
	wg.Wait()
	var out []ParsedSample
	for _, part := range results {
		out = append(out, part...)
	}
	return out
}
