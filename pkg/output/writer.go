package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer outputs JSONL records for a batch.
//
// Implementations must be safe for concurrent use. Each Write* method emits
// one complete line.
type Writer interface {
	WriteSeries(ctx context.Context, rec *SeriesRecord) error
	WriteRun(ctx context.Context, rec *RunRecord) error
	WriteAdvisory(ctx context.Context, rec *AdvisoryRecord) error
	WriteError(ctx context.Context, rec *ErrorRecord) error
	WritePlan(ctx context.Context, rec *PlanRecord) error
	WriteSummary(ctx context.Context, rec *SummaryRecord) error

	// Close stops further writes. The underlying writer is not closed.
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
//
// Writes are serialized with a mutex so lines never interleave.
type JSONLWriter struct {
	w       io.Writer
	batchID string
	model   string
	mu      sync.Mutex
	closed  bool
}

// NewJSONLWriter creates a writer stamping every record with batchID and model.
func NewJSONLWriter(w io.Writer, batchID, model string) *JSONLWriter {
	return &JSONLWriter{w: w, batchID: batchID, model: model}
}

func (jw *JSONLWriter) WriteSeries(ctx context.Context, rec *SeriesRecord) error {
	return jw.writeRecord(ctx, TypeSeries, rec)
}

func (jw *JSONLWriter) WriteRun(ctx context.Context, rec *RunRecord) error {
	return jw.writeRecord(ctx, TypeRun, rec)
}

func (jw *JSONLWriter) WriteAdvisory(ctx context.Context, rec *AdvisoryRecord) error {
	return jw.writeRecord(ctx, TypeAdvisory, rec)
}

func (jw *JSONLWriter) WriteError(ctx context.Context, rec *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, rec)
}

func (jw *JSONLWriter) WritePlan(ctx context.Context, rec *PlanRecord) error {
	return jw.writeRecord(ctx, TypePlan, rec)
}

func (jw *JSONLWriter) WriteSummary(ctx context.Context, rec *SummaryRecord) error {
	return jw.writeRecord(ctx, TypeSummary, rec)
}

// Close marks the writer as closed.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	jw.closed = true
	return nil
}

func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	recordBytes, err := json.Marshal(Record{
		Type:    recordType,
		TS:      time.Now().UTC(),
		BatchID: jw.batchID,
		Model:   jw.model,
		Data:    dataBytes,
	})
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// io.Writer may report a short write with a nil error.
	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

var _ Writer = (*JSONLWriter)(nil)
