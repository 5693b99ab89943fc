// Package export renders agent data as CSV, JSON, and NDJSON for the
// export endpoint and the CLI tailer.
package export

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"agentscan/internal/agent"
)

// agentColumns is the fixed CSV column order.
var agentColumns = []string{
	"id",
	"chain_id",
	"name",
	"address",
	"verified",
	"mcp",
	"a2a",
	"reputation",
	"feedback_count",
	"skills",
	"registered_at",
	"updated_at",
}

// WriteAgentsCSV writes agents as CSV with a header row. Skills are
// joined with ";" inside their cell, timestamps are RFC 3339 UTC.
func WriteAgentsCSV(w io.Writer, agents []agent.Agent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(agentColumns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, a := range agents {
		record := []string{
			a.ID,
			strconv.FormatInt(a.ChainID, 10),
			a.Name,
			a.Address,
			strconv.FormatBool(a.Verified),
			strconv.FormatBool(a.MCP),
			strconv.FormatBool(a.A2A),
			strconv.FormatFloat(a.Reputation, 'f', -1, 64),
			strconv.FormatInt(a.FeedbackCount, 10),
			strings.Join(a.Skills, ";"),
			formatTime(a.RegisteredAt),
			formatTime(a.UpdatedAt),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteAgentsJSON writes agents as one JSON array, item by item, so
// large exports never buffer fully in memory.
func WriteAgentsJSON(w io.Writer, agents []agent.Agent) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("["); err != nil {
		return err
	}
	for i, a := range agents {
		if i > 0 {
			if _, err := bw.WriteString(","); err != nil {
				return err
			}
		}
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal agent %s: %w", a.ID, err)
		}
		if _, err := bw.Write(data); err != nil {
			return err
		}
	}
	if _, err := bw.WriteString("]"); err != nil {
		return err
	}
	return bw.Flush()
}

// WriteEventsNDJSON writes each event from the channel as one JSON
// line until the channel closes or a write fails.
func WriteEventsNDJSON(w io.Writer, events <-chan agent.RealtimeEvent) error {
	enc := json.NewEncoder(w)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
	}
	return nil
}

// ExportFilename builds a timestamped download name, e.g.
// agents-20260821-142233.csv.
func ExportFilename(prefix, format string) string {
	return fmt.Sprintf("%s-%s.%s", prefix, time.Now().UTC().Format("20060102-150405"), format)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
