package server

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"example.com/telemgate/internal/telem"
)

// Decode batches emit thousands of samples; flushing the response per
// sample wastes syscalls, so sample writes flush in batches while
// control objects (summaries, errors) flush immediately.
const sampleFlushBatch = 32

// NDJSONWriter streams newline-delimited JSON objects to the
// underlying writer.
type NDJSONWriter struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
	pending int
}

// NewNDJSONWriter wraps the provided ResponseWriter with a helper that
// writes newline-delimited JSON. If the writer supports http.Flusher,
// buffered samples are pushed to the client every sampleFlushBatch
// records and on every control object.
func NewNDJSONWriter(w http.ResponseWriter) *NDJSONWriter {
	var flusher http.Flusher
	if f, ok := w.(http.Flusher); ok {
		flusher = f
	}
	return &NDJSONWriter{writer: w, flusher: flusher}
}

// WriteSample writes one decoded sample as an NDJSON record, flushing
// the response once per batch.
func (w *NDJSONWriter) WriteSample(s telem.ParsedSample) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writeLocked(s); err != nil {
		return err
	}
	w.pending++
	if w.pending >= sampleFlushBatch {
		w.flushLocked()
	}
	return nil
}

// WriteObject writes a control object (catalog summary, error) and
// flushes immediately so the client sees it without delay.
func (w *NDJSONWriter) WriteObject(v any) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writeLocked(v); err != nil {
		return err
	}
	w.flushLocked()
	return nil
}

func (w *NDJSONWriter) writeLocked(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.writer.Write(data); err != nil {
		return err
	}
	_, err = w.writer.Write([]byte("\n"))
	return err
}

func (w *NDJSONWriter) flushLocked() {
	w.pending = 0
	if w.flusher != nil {
		w.flusher.Flush()
	}
}
