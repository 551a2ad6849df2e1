// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

package query

import (
	"sort"
)

// PrivilegeMode is the caller trust tier controlling which metrics, filter
// keys and SQL fragments are permitted.
type PrivilegeMode string

const (
	// ModeStrict is the restricted tier for public-facing callers.
	ModeStrict PrivilegeMode = "strict"

	// ModeFull is the trusted tier for admin callers.
	ModeFull PrivilegeMode = "full"
)

// safeMetricCeiling is the hard ceiling on metrics available in strict
// mode. Contributors may add metrics within this set for strict callers
// and arbitrarily for full callers.
var safeMetricCeiling = map[string]struct{}{
	"pageviews":           {},
	"visitors":            {},
	"sessions":            {},
	"bounce_rate":         {},
	"avg_time_on_page":    {},
	"first_time_visitors": {},
	"page_url":            {},
	"referrer":            {},
	"device":              {},
	"count":               {},
}

// safeFilterCeiling is the equivalent ceiling for filter keys in strict mode.
var safeFilterCeiling = map[string]struct{}{
	"page_url":  {},
	"referrer":  {},
	"device":    {},
	"browser":   {},
	"platform":  {},
	"page_id":   {},
	"page_type": {},
	"bounces":   {},
	"country":   {},
}

// Allowlist is the resolved, immutable query vocabulary for one caller.
// Construct it through Resolve; the zero value permits nothing.
type Allowlist struct {
	// Metrics lists the permitted metric identifiers.
	Metrics []string

	// FilterKeys lists the permitted filter keys.
	FilterKeys []string

	// GroupBy lists the permitted group-by fields.
	GroupBy []string

	// OrderBy lists the permitted order-by expressions.
	OrderBy []string

	metricSet  map[string]struct{}
	filterSet  map[string]struct{}
	groupBySet map[string]struct{}
	orderBySet map[string]struct{}
}

// AllowsMetric reports whether the metric identifier is permitted.
func (a *Allowlist) AllowsMetric(metric string) bool {
	_, ok := a.metricSet[metric]
	return ok
}

// AllowsFilterKey reports whether the filter key is permitted.
func (a *Allowlist) AllowsFilterKey(key string) bool {
	_, ok := a.filterSet[key]
	return ok
}

// AllowsGroupBy reports whether the group-by field is permitted.
func (a *Allowlist) AllowsGroupBy(field string) bool {
	_, ok := a.groupBySet[field]
	return ok
}

// AllowsOrderBy reports whether the order-by expression is permitted.
func (a *Allowlist) AllowsOrderBy(expr string) bool {
	_, ok := a.orderBySet[expr]
	return ok
}

// MetricContributor extends the base vocabulary. Contributors run in the
// order they are passed to Resolve; each receives the vocabulary as
// extended so far and returns additions. Strict-mode ceilings are applied
// after all contributors run, so a contributor cannot widen the trust
// boundary for restricted callers.
type MetricContributor interface {
	// Name identifies the contributor in diagnostics.
	Name() string

	// Contribute returns metric and filter-key additions for the mode.
	Contribute(mode PrivilegeMode, current Vocabulary) Vocabulary
}

// Vocabulary is the raw metric and filter-key sets exchanged with
// contributors before ceilings and derivations are applied.
type Vocabulary struct {
	Metrics    []string
	FilterKeys []string
	GroupBy    []string
}

// DefaultVocabulary returns the built-in base vocabulary.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Metrics: []string{
			"pageviews", "visitors", "sessions", "bounces", "bounce_rate",
			"avg_time_on_page", "first_time_visitors", "conversions",
			"page_url", "referrer", "device", "browser", "platform",
			"country", "count",
		},
		FilterKeys: []string{
			"page_url", "referrer", "device", "browser", "platform",
			"page_id", "page_type", "bounces", "country",
			"campaign", "source", "medium",
		},
		GroupBy: []string{
			"page_url", "referrer", "device", "browser", "platform",
			"page_type", "country", "campaign", "source", "medium",
		},
	}
}

// Resolve computes the allowlist for one caller. It never fails: an empty
// vocabulary is a valid result and simply causes the sanitizer to drop
// everything.
//
// In strict mode the metric and filter sets are intersected with the fixed
// safe ceilings after contributors run. Order-by expressions are derived
// mechanically from the resolved metrics ("{metric} ASC"/"{metric} DESC")
// so ordering can never exceed the metric trust boundary.
func Resolve(mode PrivilegeMode, base Vocabulary, contributors ...MetricContributor) *Allowlist {
	vocab := Vocabulary{
		Metrics:    append([]string(nil), base.Metrics...),
		FilterKeys: append([]string(nil), base.FilterKeys...),
		GroupBy:    append([]string(nil), base.GroupBy...),
	}

	for _, c := range contributors {
		added := c.Contribute(mode, vocab)
		vocab.Metrics = append(vocab.Metrics, added.Metrics...)
		vocab.FilterKeys = append(vocab.FilterKeys, added.FilterKeys...)
		vocab.GroupBy = append(vocab.GroupBy, added.GroupBy...)
	}

	metrics := dedupe(vocab.Metrics)
	filterKeys := dedupe(vocab.FilterKeys)
	groupBy := dedupe(vocab.GroupBy)

	if mode == ModeStrict {
		metrics = intersect(metrics, safeMetricCeiling)
		filterKeys = intersect(filterKeys, safeFilterCeiling)
		groupBy = intersect(groupBy, safeMetricCeiling)
	}

	orderBy := make([]string, 0, len(metrics)*2)
	for _, m := range metrics {
		orderBy = append(orderBy, m+" ASC", m+" DESC")
	}

	a := &Allowlist{
		Metrics:    metrics,
		FilterKeys: filterKeys,
		GroupBy:    groupBy,
		OrderBy:    orderBy,
		metricSet:  toSet(metrics),
		filterSet:  toSet(filterKeys),
		groupBySet: toSet(groupBy),
		orderBySet: toSet(orderBy),
	}
	return a
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func intersect(in []string, ceiling map[string]struct{}) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := ceiling[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

func toSet(in []string) map[string]struct{} {
	set := make(map[string]struct{}, len(in))
	for _, s := range in {
		set[s] = struct{}{}
	}
	return set
}

// SafeMetrics returns the strict-mode metric ceiling, sorted. Exposed for
// introspection endpoints and tests.
func SafeMetrics() []string {
	out := make([]string, 0, len(safeMetricCeiling))
	for m := range safeMetricCeiling {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
