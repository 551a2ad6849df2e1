// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

package query

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lumeo-analytics/lumeo/internal/logging"
)

// metricExprs maps metric identifiers to their SQL expressions over the
// statistics table (aliased s) and its joins.
var metricExprs = map[string]string{
	"pageviews":           "COUNT(s.id)",
	"visitors":            "COUNT(DISTINCT s.uid)",
	"sessions":            "COUNT(DISTINCT s.session_id)",
	"bounces":             "SUM(CASE WHEN s.bounce THEN 1 ELSE 0 END)",
	"bounce_rate":         "ROUND(100.0 * SUM(CASE WHEN s.bounce THEN 1 ELSE 0 END) / NULLIF(COUNT(DISTINCT s.session_id), 0), 1)",
	"avg_time_on_page":    "CAST(AVG(s.time_on_page) AS INTEGER)",
	"first_time_visitors": "COUNT(DISTINCT CASE WHEN s.first_time_visit THEN s.uid END)",
	"conversions":         "COUNT(DISTINCT g.id)",
	"page_url":            "s.page_url",
	"referrer":            "s.referrer",
	"device":              "s.device",
	"browser":             "s.browser",
	"platform":            "s.platform",
	"country":             "s.country",
	"campaign":            "s.campaign",
	"source":              "s.source",
	"medium":              "s.medium",
	"count":               "COUNT(*)",
}

// metricJoins lists joins a metric implicitly requires.
var metricJoins = map[string]Join{
	"conversions": {Alias: "g", Table: "goal_hits", On: "g.session_id = s.session_id", Type: "LEFT"},
}

// filterColumns maps filter keys to statistics columns.
var filterColumns = map[string]string{
	"page_url":  "s.page_url",
	"referrer":  "s.referrer",
	"device":    "s.device",
	"browser":   "s.browser",
	"platform":  "s.platform",
	"page_id":   "s.page_id",
	"page_type": "s.page_type",
	"country":   "s.country",
	"campaign":  "s.campaign",
	"source":    "s.source",
	"medium":    "s.medium",
}

// Render assembles the descriptor into parameterized SQL over the given
// reporting window. User input is always bound as parameters; the only
// free-form fragments are the privilege-gated custom clauses, which are
// empty by construction for strict callers.
func (d *Descriptor) Render(start, end time.Time) (string, []interface{}) {
	var (
		sql  strings.Builder
		args []interface{}
	)

	cols := make([]string, 0, len(d.selects)+2)
	for _, m := range d.selects {
		expr, ok := metricExprs[m]
		if !ok {
			// Allowlisted but unmapped metrics come from contributors that
			// registered vocabulary without expressions. Skip rather than
			// emit broken SQL.
			logging.Warn().Str("metric", m).Msg("Skipping metric without SQL expression")
			continue
		}
		cols = append(cols, fmt.Sprintf("%s AS %s", expr, m))
	}
	if d.customSelect != "" {
		cols = append(cols, d.customSelect)
	}
	if d.window != "" {
		cols = append(cols, d.window)
	}
	if len(cols) == 0 {
		cols = append(cols, "COUNT(*) AS count")
	}

	sql.WriteString("SELECT ")
	if d.distinct {
		sql.WriteString("DISTINCT ")
	}
	sql.WriteString(strings.Join(cols, ", "))

	if d.subquery != "" {
		sql.WriteString(" FROM (")
		sql.WriteString(d.subquery)
		sql.WriteString(") AS s")
	} else {
		sql.WriteString(" FROM statistics AS s")
	}

	for _, j := range d.resolveJoins() {
		sql.WriteString(fmt.Sprintf(" %s JOIN %s AS %s ON %s", j.Type, j.Table, j.Alias, j.On))
	}

	where, whereArgs := d.buildWhere(start, end)
	sql.WriteString(" WHERE ")
	sql.WriteString(where)
	args = append(args, whereArgs...)

	if len(d.groupBy) > 0 {
		groupCols := make([]string, 0, len(d.groupBy))
		for _, g := range d.groupBy {
			if col, ok := filterColumns[g]; ok {
				groupCols = append(groupCols, col)
			} else if expr, ok := metricExprs[g]; ok {
				groupCols = append(groupCols, expr)
			}
		}
		if len(groupCols) > 0 {
			sql.WriteString(" GROUP BY ")
			sql.WriteString(strings.Join(groupCols, ", "))
		}
	}

	if d.having != "" {
		sql.WriteString(" HAVING ")
		sql.WriteString(d.having)
	}

	if d.union != "" {
		sql.WriteString(" UNION ")
		sql.WriteString(d.union)
	}

	if len(d.orderBy) > 0 {
		sql.WriteString(" ORDER BY ")
		sql.WriteString(strings.Join(d.orderBy, ", "))
	}

	if d.limit > 0 {
		sql.WriteString(fmt.Sprintf(" LIMIT %d", d.limit))
	}

	return sql.String(), args
}

// resolveJoins merges caller joins with metric-required joins and drops any
// join whose declared dependency is absent.
func (d *Descriptor) resolveJoins() []Join {
	joins := append([]Join(nil), d.joins...)
	for _, m := range d.selects {
		if j, ok := metricJoins[m]; ok {
			exists := false
			for _, have := range joins {
				if have.Alias == j.Alias {
					exists = true
					break
				}
			}
			if !exists {
				joins = append(joins, j)
			}
		}
	}

	present := map[string]struct{}{"s": {}}
	for _, j := range joins {
		present[j.Alias] = struct{}{}
	}

	out := make([]Join, 0, len(joins))
	for _, j := range joins {
		if j.DependsOn != "" {
			if _, ok := present[j.DependsOn]; !ok {
				logging.Warn().
					Str("alias", j.Alias).
					Str("depends_on", j.DependsOn).
					Msg("Dropping join with missing dependency")
				continue
			}
		}
		out = append(out, j)
	}
	return out
}

// buildWhere renders the window bounds, sanitized filters and custom where
// fragment into one conjunction. Filter keys are rendered in sorted order
// so identical descriptors produce identical SQL.
func (d *Descriptor) buildWhere(start, end time.Time) (string, []interface{}) {
	clauses := []string{"s.time >= ?", "s.time < ?"}
	args := []interface{}{start, end}

	keys := make([]string, 0, len(d.filters))
	for k := range d.filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := d.filters[key]
		if key == "bounces" {
			// Handled below via the derived flag and the "only" case.
			continue
		}
		col, ok := filterColumns[key]
		if !ok {
			// Full-mode callers may carry keys with no column mapping
			// (consumed by contributors at render time elsewhere); they
			// cannot be rendered here.
			continue
		}
		clause, clauseArgs := renderCondition(col, value)
		if clause == "" {
			continue
		}
		clauses = append(clauses, clause)
		args = append(args, clauseArgs...)
	}

	if d.excludeBounces {
		clauses = append(clauses, "s.bounce = FALSE")
	} else if d.filters["bounces"] == "only" {
		clauses = append(clauses, "s.bounce = TRUE")
	}

	if d.customWhere != "" {
		clauses = append(clauses, "("+d.customWhere+")")
	}

	return strings.Join(clauses, " AND "), args
}

// renderCondition renders one filter as a parameterized condition. Slices
// become IN lists; nested maps become an OR across their member conditions.
func renderCondition(col string, value interface{}) (string, []interface{}) {
	switch v := value.(type) {
	case []interface{}:
		if len(v) == 0 {
			return "", nil
		}
		placeholders := make([]string, len(v))
		args := make([]interface{}, len(v))
		for i, e := range v {
			placeholders[i] = "?"
			args[i] = e
		}
		return fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ", ")), args
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ors := make([]string, 0, len(v))
		var args []interface{}
		for _, k := range keys {
			sub, ok := filterColumns[k]
			if !ok {
				continue
			}
			clause, clauseArgs := renderCondition(sub, v[k])
			if clause == "" {
				continue
			}
			ors = append(ors, clause)
			args = append(args, clauseArgs...)
		}
		if len(ors) == 0 {
			return "", nil
		}
		return "(" + strings.Join(ors, " OR ") + ")", args
	default:
		return col + " = ?", []interface{}{value}
	}
}
