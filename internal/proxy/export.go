package proxy

import (
	"fmt"
	"net/http"
	"time"

	"agentscan/internal/export"
	"agentscan/internal/query"
	"agentscan/internal/telemetry"
	"agentscan/pkg/errors"
)

// Export formats.
const (
	formatCSV  = "csv"
	formatJSON = "json"
)

// handleExport serves GET /api/agents/export: one search passthrough whose
// results stream back as a CSV or JSON attachment.
func (p *Proxy) handleExport(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()

	format := values.Get("format")
	if format == "" {
		format = formatCSV
	}
	if format != formatCSV && format != formatJSON {
		p.writeError(w, errors.NewError(errors.ErrorTypeBadRequest, "Unsupported export format").
			WithDetail("format", format))
		return
	}

	s, err := query.ParseSearch(values)
	if err != nil {
		p.writeError(w, err)
		return
	}

	ctx, span := p.tel.StartSpan(r.Context(), "proxy.export")
	defer span.End()

	started := time.Now()
	page, err := p.backend.Search(ctx, s)
	p.observeRegistry("search", started, err)
	if err != nil {
		telemetry.RecordError(ctx, err)
		p.writeError(w, err)
		return
	}

	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", export.ExportFilename("agents", format)))

	switch format {
	case formatCSV:
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		err = export.WriteAgentsCSV(w, page.Agents)
	case formatJSON:
		w.Header().Set("Content-Type", "application/json")
		err = export.WriteAgentsJSON(w, page.Agents)
	}
	if err != nil {
		p.logger.Debug("Export write failed", "format", format, "error", err)
	}
}
