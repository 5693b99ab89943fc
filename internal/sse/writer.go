package sse

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"

	"agentscan/pkg/errors"
)

// Writer serializes Server-Sent Events onto a stream. When the underlying
// writer is an http.Flusher, every event is flushed to the client as it is
// written.
type Writer struct {
	flusher http.Flusher
	buf     *bufio.Writer
	closed  bool
}

// NewWriter returns a Writer emitting to w.
func NewWriter(w io.Writer) *Writer {
	flusher, _ := w.(http.Flusher)
	return &Writer{
		flusher: flusher,
		buf:     bufio.NewWriter(w),
	}
}

// PrepareResponse sets the response headers required for an SSE stream.
// It must be called before the first write.
func PrepareResponse(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// WriteEvent writes a single event followed by the blank-line terminator.
func (w *Writer) WriteEvent(event *Event) error {
	if w.closed {
		return errors.NewError(errors.ErrorTypeInternal, "SSE writer is closed")
	}

	if event.ID != "" {
		if _, err := fmt.Fprintf(w.buf, "id: %s\n", event.ID); err != nil {
			return errors.NewError(errors.ErrorTypeInternal, "Failed to write SSE event ID").WithCause(err)
		}
	}

	if event.Type != "" && event.Type != "message" {
		if _, err := fmt.Fprintf(w.buf, "event: %s\n", event.Type); err != nil {
			return errors.NewError(errors.ErrorTypeInternal, "Failed to write SSE event type").WithCause(err)
		}
	}

	if event.Retry > 0 {
		if _, err := fmt.Fprintf(w.buf, "retry: %d\n", event.Retry); err != nil {
			return errors.NewError(errors.ErrorTypeInternal, "Failed to write SSE retry").WithCause(err)
		}
	}

	if event.Data != "" {
		for _, line := range strings.Split(event.Data, "\n") {
			if _, err := fmt.Fprintf(w.buf, "data: %s\n", line); err != nil {
				return errors.NewError(errors.ErrorTypeInternal, "Failed to write SSE data").WithCause(err)
			}
		}
	} else if event.ID != "" || event.Type != "" {
		// Explicit empty data line so the event still dispatches
		if _, err := w.buf.WriteString("data:\n"); err != nil {
			return errors.NewError(errors.ErrorTypeInternal, "Failed to write SSE data").WithCause(err)
		}
	}

	if event.Comment != "" {
		if _, err := fmt.Fprintf(w.buf, ": %s\n", event.Comment); err != nil {
			return errors.NewError(errors.ErrorTypeInternal, "Failed to write SSE comment").WithCause(err)
		}
	}

	if _, err := w.buf.WriteString("\n"); err != nil {
		return errors.NewError(errors.ErrorTypeInternal, "Failed to write SSE event terminator").WithCause(err)
	}

	return w.Flush()
}

// WriteComment writes a comment line, used for keepalives.
func (w *Writer) WriteComment(comment string) error {
	if w.closed {
		return errors.NewError(errors.ErrorTypeInternal, "SSE writer is closed")
	}

	if _, err := fmt.Fprintf(w.buf, ": %s\n\n", comment); err != nil {
		return errors.NewError(errors.ErrorTypeInternal, "Failed to write SSE comment").WithCause(err)
	}

	return w.Flush()
}

// Flush flushes buffered data through to the client.
func (w *Writer) Flush() error {
	if err := w.buf.Flush(); err != nil {
		return errors.NewError(errors.ErrorTypeInternal, "Failed to flush SSE buffer").WithCause(err)
	}

	if w.flusher != nil {
		w.flusher.Flush()
	}

	return nil
}

// Close flushes and marks the writer closed. Further writes fail.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}

	w.closed = true
	return w.Flush()
}
