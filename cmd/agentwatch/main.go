// Command agentwatch tails the explorer's streaming endpoints from the
// terminal: one-shot streamed searches and the realtime event feed.
// Structured logs go to stderr, data to stdout, so output pipes cleanly
// into jq and friends.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"agentscan/internal/agent"
	"agentscan/internal/export"
	"agentscan/internal/query"
	"agentscan/internal/stream"
)

var (
	baseURL  = flag.String("url", "http://localhost:8880", "explorer base URL")
	mode     = flag.String("mode", "search", "what to stream: search or events")
	q        = flag.String("q", "", "search text (search mode)")
	chains   = flag.String("chains", "", "comma-separated chain IDs to filter by")
	mcp      = flag.String("mcp", "", "filter by MCP support: true or false")
	a2a      = flag.String("a2a", "", "filter by A2A support: true or false")
	types    = flag.String("types", "", "comma-separated event types (events mode)")
	format   = flag.String("format", "ndjson", "output format: ndjson or csv")
	timeout  = flag.Duration("timeout", 0, "overall deadline, 0 waits for the stream to finish")
	logLevel = flag.String("log-level", "info", "log level: debug, info, warn, error")
)

type options struct {
	baseURL string
	mode    string
	query   string
	filters query.Filters
	types   []string
	format  string
}

func main() {
	flag.Parse()

	logger := newLogger(*logLevel)

	opts, err := parseOptions()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	var runErr error
	switch opts.mode {
	case "search":
		runErr = runSearch(ctx, os.Stdout, logger, opts)
	case "events":
		runErr = runEvents(ctx, os.Stdout, logger, opts)
	}
	if runErr != nil {
		logger.Error("Stream failed", "mode", opts.mode, "error", runErr)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		fmt.Fprintf(os.Stderr, "unknown log level %q, using info\n", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// parseOptions validates the flag set into a runnable request.
func parseOptions() (options, error) {
	opts := options{
		baseURL: *baseURL,
		mode:    *mode,
		query:   *q,
		types:   query.SplitTypes(*types),
		format:  *format,
	}

	switch opts.mode {
	case "search", "events":
	default:
		return options{}, fmt.Errorf("unknown mode %q, want search or events", opts.mode)
	}
	switch opts.format {
	case "ndjson", "csv":
	default:
		return options{}, fmt.Errorf("unknown format %q, want ndjson or csv", opts.format)
	}
	if opts.mode == "events" && opts.format == "csv" {
		return options{}, fmt.Errorf("events mode writes ndjson only")
	}

	ids, err := parseChains(*chains)
	if err != nil {
		return options{}, err
	}
	opts.filters.Chains = ids

	if opts.filters.MCP, err = parseTristate("mcp", *mcp); err != nil {
		return options{}, err
	}
	if opts.filters.A2A, err = parseTristate("a2a", *a2a); err != nil {
		return options{}, err
	}
	return opts, nil
}

func parseChains(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chain ID %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// parseTristate maps an empty flag to nil so the filter stays unset.
func parseTristate(name, raw string) (*bool, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid -%s value %q, want true or false", name, raw)
	}
	return &v, nil
}

func streamConfig(logger *slog.Logger) *stream.Config {
	cfg := stream.DefaultConfig()
	cfg.Logger = logger
	return cfg
}

// runSearch runs one streamed search to completion. NDJSON output is
// written page by page as results arrive; CSV is buffered so the file
// carries a single header.
func runSearch(ctx context.Context, out io.Writer, logger *slog.Logger, opts options) error {
	var (
		mu     sync.Mutex
		agents []agent.Agent
		errs   []error
	)
	enc := json.NewEncoder(out)

	done := make(chan struct{})
	var once sync.Once
	finish := func() { once.Do(func() { close(done) }) }

	s := stream.NewSearchStream(ctx, opts.baseURL, opts.query, opts.filters, streamConfig(logger), stream.SearchCallbacks{
		OnResult: func(page agent.SearchPage) {
			mu.Lock()
			defer mu.Unlock()
			if opts.format == "csv" {
				agents = append(agents, page.Agents...)
				return
			}
			for _, a := range page.Agents {
				if err := enc.Encode(a); err != nil {
					errs = append(errs, fmt.Errorf("writing result: %w", err))
					finish()
					return
				}
			}
		},
		OnMetadata: func(meta agent.SearchMetadata) {
			logger.Debug("Search metadata",
				"total", meta.Total,
				"took_ms", meta.TookMS,
				"cached", meta.Cached)
		},
		OnError: func(streamErr stream.StreamError) {
			mu.Lock()
			errs = append(errs, streamErr)
			mu.Unlock()
			finish()
		},
		OnComplete: finish,
	})
	defer s.Close()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("search interrupted: %w", ctx.Err())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(errs) > 0 {
		return errs[0]
	}
	if opts.format == "csv" {
		return export.WriteAgentsCSV(out, agents)
	}
	return nil
}

// runEvents tails the realtime feed as NDJSON until the context ends or
// the feed completes. A signal is the normal way to stop the tail, so it
// exits cleanly.
func runEvents(ctx context.Context, out io.Writer, logger *slog.Logger, opts options) error {
	events := make(chan agent.RealtimeEvent, 64)
	writeDone := make(chan error, 1)
	go func() {
		writeDone <- export.WriteEventsNDJSON(out, events)
	}()

	var (
		mu        sync.Mutex
		streamErr error
		closed    bool
	)
	done := make(chan struct{})
	var once sync.Once
	finish := func() { once.Do(func() { close(done) }) }

	es := stream.NewEventStream(ctx, opts.baseURL, opts.types, streamConfig(logger), stream.EventCallbacks{
		OnEvent: func(evt agent.RealtimeEvent) {
			mu.Lock()
			defer mu.Unlock()
			if closed {
				return
			}
			select {
			case events <- evt:
			default:
				// Writer stalled; dropping beats blocking the stream.
				logger.Warn("Dropping event", "type", evt.Type)
			}
		},
		OnError: func(err error) {
			mu.Lock()
			if streamErr == nil {
				streamErr = err
			}
			mu.Unlock()
			finish()
		},
		OnComplete: finish,
	})

	select {
	case <-done:
	case <-ctx.Done():
	}
	es.Close()

	mu.Lock()
	closed = true
	close(events)
	err := streamErr
	mu.Unlock()

	if werr := <-writeDone; werr != nil && err == nil {
		err = fmt.Errorf("writing events: %w", werr)
	}
	return err
}
