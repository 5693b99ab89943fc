package sse

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Reader parses Server-Sent Events from a stream. Events are dispatched on
// the blank line that terminates them; comment-only blocks (keepalives) are
// skipped. A stream that ends mid-event yields the pending event first and
// io.EOF on the following call.
type Reader struct {
	br *bufio.Reader
}

// NewReader returns a Reader consuming r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// ReadEvent reads the next event. It returns io.EOF when the stream ends
// cleanly with no pending event data.
func (r *Reader) ReadEvent() (*Event, error) {
	event := &Event{}
	var dataLines []string
	hasData := false

	for {
		line, err := r.br.ReadString('\n')
		if err != nil {
			if err == io.EOF && hasData {
				event.Data = strings.Join(dataLines, "\n")
				if event.Type == "" {
					event.Type = "message"
				}
				return event, nil
			}
			return nil, err
		}

		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")

		// Blank line terminates the event
		if line == "" {
			if hasData || event.ID != "" || event.Type != "" {
				event.Data = strings.Join(dataLines, "\n")
				if event.Type == "" {
					event.Type = "message"
				}
				return event, nil
			}
			// Nothing accumulated, keep scanning
			continue
		}

		colonIndex := strings.Index(line, ":")
		if colonIndex == -1 {
			// Field name without value, ignored
			continue
		}

		field := line[:colonIndex]
		value := line[colonIndex+1:]

		// Strip the optional space after the colon
		if len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}

		switch field {
		case "id":
			event.ID = value
		case "event":
			event.Type = value
		case "data":
			dataLines = append(dataLines, value)
			hasData = true
		case "retry":
			if retry, err := strconv.Atoi(value); err == nil {
				event.Retry = retry
			}
		case "":
			event.Comment = value
		default:
			// Unknown field, ignore
		}
	}
}
