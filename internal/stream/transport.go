package stream

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"agentscan/internal/sse"
	"agentscan/pkg/errors"
)

// EventSource is a single-use event stream connection. A source is created
// without I/O, performs its handshake in Open, and is discarded after Close;
// it cannot be reopened.
type EventSource interface {
	// Open performs the handshake and blocks until the stream is
	// established or fails. The context bounds the handshake only.
	Open(ctx context.Context) error
	// Read blocks until the next event arrives, the stream ends, or the
	// source is closed.
	Read() (*sse.Event, error)
	// Close aborts the connection. It is idempotent and unblocks any
	// pending Open or Read.
	Close() error
}

// Dialer creates event stream connections. Dial is a plain constructor and
// must not perform I/O.
type Dialer interface {
	// Supported reports whether this dialer can open event streams at all.
	Supported() bool
	Dial(url string) EventSource
}

var defaultDialer = NewHTTPDialer(nil)

// IsSupported reports whether the dialer can open event streams. A nil
// dialer is checked against the default HTTP dialer. The check is evaluated
// on every call; nothing is cached.
func IsSupported(d Dialer) bool {
	if d == nil {
		d = defaultDialer
	}
	return d.Supported()
}

// HTTPDialer opens SSE connections over HTTP.
type HTTPDialer struct {
	client *http.Client
	// Header is added to every handshake request.
	Header http.Header
}

// NewHTTPDialer creates a dialer using the given client. A nil client gets a
// fresh one without a global timeout, since stream connections are
// long-lived.
func NewHTTPDialer(client *http.Client) *HTTPDialer {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPDialer{client: client}
}

// Supported reports whether the dialer holds a usable HTTP client. A
// zero-value HTTPDialer reports false.
func (d *HTTPDialer) Supported() bool {
	return d != nil && d.client != nil
}

// Dial creates an unopened connection to url.
func (d *HTTPDialer) Dial(url string) EventSource {
	ctx, cancel := context.WithCancel(context.Background())
	return &httpSource{
		client: d.client,
		header: d.Header,
		url:    url,
		ctx:    ctx,
		cancel: cancel,
	}
}

// httpSource is the HTTP implementation of EventSource. Its own context
// spans the whole response lifetime so Close can abort a blocked Read.
type httpSource struct {
	client *http.Client
	header http.Header
	url    string
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	resp   *http.Response
	reader *sse.Reader
	closed bool
}

func (s *httpSource) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.NewError(errors.ErrorTypeUnavailable, "Event source is closed")
	}
	s.mu.Unlock()

	// Caller cancellation aborts the handshake
	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()

	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return errors.NewError(errors.ErrorTypeBadRequest, "Failed to build stream request").WithCause(err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for key, values := range s.header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.NewError(errors.ErrorTypeUnavailable, "Failed to connect to event stream").WithCause(err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return errors.NewError(errors.ErrorTypeUnavailable,
			fmt.Sprintf("Event stream returned status %d", resp.StatusCode))
	}

	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		resp.Body.Close()
		return errors.NewError(errors.ErrorTypeBadRequest,
			fmt.Sprintf("Expected text/event-stream content type, got %s", ct))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		resp.Body.Close()
		return errors.NewError(errors.ErrorTypeUnavailable, "Event source is closed")
	}
	s.resp = resp
	s.reader = sse.NewReader(resp.Body)
	s.mu.Unlock()

	return nil
}

func (s *httpSource) Read() (*sse.Event, error) {
	s.mu.Lock()
	reader := s.reader
	s.mu.Unlock()

	if reader == nil {
		return nil, errors.NewError(errors.ErrorTypeInternal, "Event source is not open")
	}
	return reader.ReadEvent()
}

func (s *httpSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	resp := s.resp
	s.mu.Unlock()

	s.cancel()
	if resp != nil {
		resp.Body.Close()
	}
	return nil
}
