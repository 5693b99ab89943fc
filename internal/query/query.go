// Package query defines the explorer's query-parameter contract. Filters
// are flattened into individual scalar parameters (chains=11155111&mcp=true),
// never encoded as a single JSON blob; event type lists are comma-joined.
// The encode side is used by the streaming clients, the parse side by the
// proxy handlers.
package query

import (
	"net/url"
	"strconv"
	"strings"

	"agentscan/pkg/errors"
)

const (
	// MaxQueryLength bounds the free-text search term.
	MaxQueryLength = 256

	DefaultLimit = 20
	MaxLimit     = 100
)

// Sort orders accepted by the search endpoints.
var allowedSorts = map[string]bool{
	"reputation": true,
	"recent":     true,
	"name":       true,
}

// Filters narrows a search to agents matching every set field. Nil pointer
// fields are unset and omitted from the encoded form.
type Filters struct {
	Chains        []int64
	MCP           *bool
	A2A           *bool
	Verified      *bool
	MinReputation *float64
	Skills        []string
}

// Values flattens the filters into scalar query parameters, one parameter
// per value.
func (f Filters) Values() url.Values {
	v := url.Values{}
	for _, chain := range f.Chains {
		v.Add("chains", strconv.FormatInt(chain, 10))
	}
	if f.MCP != nil {
		v.Set("mcp", strconv.FormatBool(*f.MCP))
	}
	if f.A2A != nil {
		v.Set("a2a", strconv.FormatBool(*f.A2A))
	}
	if f.Verified != nil {
		v.Set("verified", strconv.FormatBool(*f.Verified))
	}
	if f.MinReputation != nil {
		v.Set("minReputation", strconv.FormatFloat(*f.MinReputation, 'f', -1, 64))
	}
	for _, skill := range f.Skills {
		if skill = strings.TrimSpace(skill); skill != "" {
			v.Add("skills", skill)
		}
	}
	return v
}

// Search is a validated search request.
type Search struct {
	Query   string
	Filters Filters
	Limit   int
	Offset  int
	Sort    string
}

// Values encodes the full search request including the q parameter.
func (s Search) Values() url.Values {
	v := s.Filters.Values()
	v.Set("q", s.Query)
	if s.Limit > 0 {
		v.Set("limit", strconv.Itoa(s.Limit))
	}
	if s.Offset > 0 {
		v.Set("offset", strconv.Itoa(s.Offset))
	}
	if s.Sort != "" {
		v.Set("sort", s.Sort)
	}
	return v
}

// ParseSearch validates raw query parameters into a Search. The q parameter
// is required; limit and offset are clamped to their allowed ranges.
func ParseSearch(v url.Values) (Search, error) {
	s := Search{
		Query: strings.TrimSpace(v.Get("q")),
		Limit: DefaultLimit,
	}

	if s.Query == "" {
		return s, errors.NewError(errors.ErrorTypeBadRequest, "Missing search query").WithDetail("param", "q")
	}
	if len(s.Query) > MaxQueryLength {
		return s, errors.NewError(errors.ErrorTypeBadRequest, "Search query too long").
			WithDetail("param", "q").
			WithDetail("max", MaxQueryLength)
	}

	filters, err := ParseFilters(v)
	if err != nil {
		return s, err
	}
	s.Filters = filters

	if raw := v.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return s, errors.NewError(errors.ErrorTypeBadRequest, "Invalid limit").WithDetail("param", "limit")
		}
		s.Limit = clamp(limit, 1, MaxLimit)
	}

	if raw := v.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			return s, errors.NewError(errors.ErrorTypeBadRequest, "Invalid offset").WithDetail("param", "offset")
		}
		s.Offset = max(offset, 0)
	}

	if sort := v.Get("sort"); sort != "" {
		if !allowedSorts[sort] {
			return s, errors.NewError(errors.ErrorTypeBadRequest, "Invalid sort order").WithDetail("param", "sort")
		}
		s.Sort = sort
	}

	return s, nil
}

// ParseFilters validates raw filter parameters. List parameters accept both
// repeated form (chains=1&chains=5) and comma-joined form (chains=1,5).
func ParseFilters(v url.Values) (Filters, error) {
	var f Filters

	for _, raw := range splitMulti(v["chains"]) {
		chain, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return f, errors.NewError(errors.ErrorTypeBadRequest, "Invalid chain ID").
				WithDetail("param", "chains").
				WithDetail("value", raw)
		}
		f.Chains = append(f.Chains, chain)
	}

	var err error
	if f.MCP, err = parseBoolParam(v, "mcp"); err != nil {
		return f, err
	}
	if f.A2A, err = parseBoolParam(v, "a2a"); err != nil {
		return f, err
	}
	if f.Verified, err = parseBoolParam(v, "verified"); err != nil {
		return f, err
	}

	if raw := v.Get("minReputation"); raw != "" {
		score, err := strconv.ParseFloat(raw, 64)
		if err != nil || score < 0 {
			return f, errors.NewError(errors.ErrorTypeBadRequest, "Invalid minimum reputation").
				WithDetail("param", "minReputation")
		}
		f.MinReputation = &score
	}

	f.Skills = splitMulti(v["skills"])

	return f, nil
}

// JoinTypes comma-joins event type names for the types parameter, dropping
// blanks.
func JoinTypes(types []string) string {
	cleaned := splitMulti(types)
	return strings.Join(cleaned, ",")
}

// SplitTypes parses a types parameter into event type names.
func SplitTypes(raw string) []string {
	if raw == "" {
		return nil
	}
	return splitMulti([]string{raw})
}

// BuildURL joins a base URL, a path, and encoded parameters.
func BuildURL(base, path string, v url.Values) string {
	u := strings.TrimSuffix(base, "/") + path
	if len(v) == 0 {
		return u
	}
	return u + "?" + v.Encode()
}

func parseBoolParam(v url.Values, name string) (*bool, error) {
	raw := v.Get(name)
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, errors.NewError(errors.ErrorTypeBadRequest, "Invalid boolean filter").WithDetail("param", name)
	}
	return &b, nil
}

// splitMulti expands repeated values that may themselves be comma-joined.
func splitMulti(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
