// Package sse implements the Server-Sent Events wire format: a reader for
// consuming event streams and a writer for serving them.
package sse

// Event is a single Server-Sent Event.
type Event struct {
	ID      string
	Type    string
	Data    string
	Retry   int
	Comment string
}
