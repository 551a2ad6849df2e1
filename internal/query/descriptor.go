// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

package query

import (
	"strings"

	"github.com/lumeo-analytics/lumeo/internal/logging"
)

// Join declares one join in a query. A join with a DependsOn alias is only
// emitted when its dependency is also present, preventing dangling aliases.
type Join struct {
	// Table is the joined table name.
	Table string

	// Alias is the join alias used in conditions.
	Alias string

	// On is the join condition.
	On string

	// Type is the join type: "INNER", "LEFT" or "RIGHT".
	Type string

	// DependsOn names another join alias this join requires.
	DependsOn string
}

// Descriptor accumulates one fully sanitized, render-ready analytics query.
// It is the single mutation point: every setter validates against the
// allowlist, so no field can bypass sanitization. Setters never return
// errors; invalid input degrades to "field unset" with a logged
// diagnostic, and the descriptor is always in a safe, renderable state.
type Descriptor struct {
	mode  PrivilegeMode
	allow *Allowlist

	// Select keeps list semantics: duplicates permitted, order preserved,
	// because select order drives output column order.
	selects []string

	filters map[string]interface{}

	// GroupBy keeps set semantics: order is irrelevant to correctness,
	// duplicates are dropped.
	groupBy []string

	orderBy []string
	joins   []Join

	having       string
	customSelect string
	customWhere  string
	subquery     string
	union        string
	window       string

	limit          int
	distinct       bool
	excludeBounces bool
}

// NewDescriptor creates a descriptor bound to a privilege mode and its
// resolved allowlist.
func NewDescriptor(mode PrivilegeMode, allow *Allowlist) *Descriptor {
	return &Descriptor{
		mode:    mode,
		allow:   allow,
		filters: make(map[string]interface{}),
	}
}

// Mode returns the descriptor's privilege mode.
func (d *Descriptor) Mode() PrivilegeMode {
	return d.mode
}

// Select appends metrics to the select list. Each element is validated
// individually; disallowed metrics are dropped with a logged warning,
// never rejected wholesale.
func (d *Descriptor) Select(metrics ...string) *Descriptor {
	for _, m := range metrics {
		if !d.allow.AllowsMetric(m) {
			logging.Warn().Str("metric", m).Msg("Dropping metric outside allowlist")
			continue
		}
		d.selects = append(d.selects, m)
	}
	return d
}

// Filters sanitizes and stores a raw filter mapping, replacing any
// previously stored filters. The exclude-bounces flag is derived here:
// it is true iff the sanitized mapping carries bounces == "exclude".
func (d *Descriptor) Filters(raw map[string]interface{}) *Descriptor {
	d.filters = SanitizeFilters(raw, d.allow, d.mode)
	d.excludeBounces = d.filters["bounces"] == "exclude"
	return d
}

// GroupBy appends validated group-by fields, deduplicating against fields
// already present.
func (d *Descriptor) GroupBy(fields ...string) *Descriptor {
	for _, f := range fields {
		if !d.allow.AllowsGroupBy(f) {
			logging.Warn().Str("field", f).Msg("Dropping group-by field outside allowlist")
			continue
		}
		if containsString(d.groupBy, f) {
			continue
		}
		d.groupBy = append(d.groupBy, f)
	}
	return d
}

// OrderBy appends order-by expressions ("metric ASC"). In strict mode each
// expression is checked against the derived order-by allowlist; full-mode
// callers are trusted and pass through unfiltered.
func (d *Descriptor) OrderBy(exprs ...string) *Descriptor {
	for _, e := range exprs {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if d.mode == ModeStrict && !d.allow.AllowsOrderBy(e) {
			logging.Warn().Str("order_by", e).Msg("Dropping order-by outside allowlist")
			continue
		}
		d.orderBy = append(d.orderBy, e)
	}
	return d
}

// AddJoin registers a join under its alias. Later registrations replace
// earlier ones with the same alias.
func (d *Descriptor) AddJoin(j Join) *Descriptor {
	if j.Alias == "" || j.Table == "" || j.On == "" {
		logging.Warn().Str("table", j.Table).Msg("Dropping join with missing alias, table or condition")
		return d
	}
	if j.Type == "" {
		j.Type = "LEFT"
	}
	for i := range d.joins {
		if d.joins[i].Alias == j.Alias {
			d.joins[i] = j
			return d
		}
	}
	d.joins = append(d.joins, j)
	return d
}

// Having sets a HAVING fragment. Privilege-gated: silently ignored in
// strict mode so restricted callers present no injection surface at all.
func (d *Descriptor) Having(fragment string) *Descriptor {
	if d.mode == ModeStrict {
		return d
	}
	d.having = fragment
	return d
}

// CustomSelect sets a free-form select fragment. Ignored in strict mode.
func (d *Descriptor) CustomSelect(fragment string) *Descriptor {
	if d.mode == ModeStrict {
		return d
	}
	d.customSelect = fragment
	return d
}

// CustomWhere sets a free-form where fragment. Ignored in strict mode.
func (d *Descriptor) CustomWhere(fragment string) *Descriptor {
	if d.mode == ModeStrict {
		return d
	}
	d.customWhere = fragment
	return d
}

// Subquery sets a replacement FROM subquery. Ignored in strict mode.
func (d *Descriptor) Subquery(fragment string) *Descriptor {
	if d.mode == ModeStrict {
		return d
	}
	d.subquery = fragment
	return d
}

// Union sets a UNION clause appended after the main query. Ignored in
// strict mode.
func (d *Descriptor) Union(fragment string) *Descriptor {
	if d.mode == ModeStrict {
		return d
	}
	d.union = fragment
	return d
}

// Window sets a window-function directive appended to the select list.
// Ignored in strict mode.
func (d *Descriptor) Window(fragment string) *Descriptor {
	if d.mode == ModeStrict {
		return d
	}
	d.window = fragment
	return d
}

// Limit sets the row limit. 0 means unbounded; negative values degrade to 0.
func (d *Descriptor) Limit(n int) *Descriptor {
	if n < 0 {
		n = 0
	}
	d.limit = n
	return d
}

// Distinct toggles SELECT DISTINCT.
func (d *Descriptor) Distinct(on bool) *Descriptor {
	d.distinct = on
	return d
}

// ExcludesBounces reports the derived bounce-exclusion flag.
func (d *Descriptor) ExcludesBounces() bool {
	return d.excludeBounces
}

// Selected returns the accumulated select list.
func (d *Descriptor) Selected() []string {
	return append([]string(nil), d.selects...)
}

// FilterValues returns the sanitized filter mapping.
func (d *Descriptor) FilterValues() map[string]interface{} {
	out := make(map[string]interface{}, len(d.filters))
	for k, v := range d.filters {
		out[k] = v
	}
	return out
}

// ApplyArgs dispatches a raw argument mapping (typically a decoded JSON
// request body) to the typed setters. Unknown field names are rejected with
// a logged warning rather than silently stored, so a typo'd key can never
// become trusted data.
func (d *Descriptor) ApplyArgs(args map[string]interface{}) *Descriptor {
	for name, value := range args {
		switch name {
		case "select":
			d.Select(toStringSlice(value)...)
		case "filters":
			if m, ok := value.(map[string]interface{}); ok {
				d.Filters(m)
			}
		case "group_by":
			d.GroupBy(toStringSlice(value)...)
		case "order_by":
			d.OrderBy(toStringSlice(value)...)
		case "having":
			d.Having(toString(value))
		case "custom_select":
			d.CustomSelect(toString(value))
		case "custom_where":
			d.CustomWhere(toString(value))
		case "subquery":
			d.Subquery(toString(value))
		case "union":
			d.Union(toString(value))
		case "window":
			d.Window(toString(value))
		case "limit":
			d.Limit(toInt(value))
		case "distinct":
			if b, ok := value.(bool); ok {
				d.Distinct(b)
			}
		default:
			logging.Warn().Str("field", name).Msg("Rejecting unknown query argument")
		}
	}
	return d
}

func containsString(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

func toStringSlice(value interface{}) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	default:
		return nil
	}
}

func toString(value interface{}) string {
	s, _ := value.(string)
	return s
}

func toInt(value interface{}) int {
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
