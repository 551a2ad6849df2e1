// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

package query

import (
	"strings"
	"testing"
	"time"
)

var (
	testStart = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	testEnd   = time.Date(2026, 8, 8, 0, 0, 0, 0, time.UTC)
)

func strictDescriptor() *Descriptor {
	return NewDescriptor(ModeStrict, Resolve(ModeStrict, DefaultVocabulary()))
}

func fullDescriptor() *Descriptor {
	return NewDescriptor(ModeFull, Resolve(ModeFull, DefaultVocabulary()))
}

func TestDescriptorStrictIgnoresCustomFragments(t *testing.T) {
	d := strictDescriptor().
		Select("pageviews").
		Having("COUNT(*) > 10").
		CustomSelect("1; DROP TABLE statistics").
		CustomWhere("1=1").
		Subquery("SELECT * FROM reports").
		Union("SELECT password FROM users").
		Window("ROW_NUMBER() OVER ()")

	sql, _ := d.Render(testStart, testEnd)

	for _, banned := range []string{"DROP TABLE", "HAVING", "UNION", "1=1", "ROW_NUMBER", "FROM (SELECT"} {
		if strings.Contains(sql, banned) {
			t.Errorf("strict SQL contains %q: %s", banned, sql)
		}
	}
}

func TestDescriptorFullModeFragments(t *testing.T) {
	d := fullDescriptor().
		Select("pageviews").
		GroupBy("device").
		Having("COUNT(s.id) > 10")

	sql, _ := d.Render(testStart, testEnd)
	if !strings.Contains(sql, "HAVING COUNT(s.id) > 10") {
		t.Errorf("full-mode HAVING missing: %s", sql)
	}
}

func TestDescriptorSelectPreservesOrder(t *testing.T) {
	d := strictDescriptor().Select("visitors", "pageviews", "visitors")

	got := d.Selected()
	want := []string{"visitors", "pageviews", "visitors"}
	if len(got) != len(want) {
		t.Fatalf("Selected() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Selected() = %v, want %v", got, want)
		}
	}
}

func TestDescriptorGroupByDeduplicates(t *testing.T) {
	d := fullDescriptor().GroupBy("device", "device", "campaign")

	sql, _ := d.Select("pageviews").Render(testStart, testEnd)
	if strings.Count(sql, "s.device") != 1 {
		t.Errorf("group-by not deduplicated: %s", sql)
	}
}

func TestRenderWindowBounds(t *testing.T) {
	sql, args := strictDescriptor().Select("pageviews").Render(testStart, testEnd)

	if !strings.Contains(sql, "s.time >= ?") || !strings.Contains(sql, "s.time < ?") {
		t.Errorf("window bounds missing: %s", sql)
	}
	if len(args) < 2 || args[0] != testStart || args[1] != testEnd {
		t.Errorf("window args = %v", args)
	}
}

func TestRenderFiltersAreParameterized(t *testing.T) {
	d := strictDescriptor().
		Select("pageviews").
		Filters(map[string]interface{}{
			"device":   "desktop",
			"page_url": "/pricing/",
		})

	sql, args := d.Render(testStart, testEnd)

	if strings.Contains(sql, "desktop") || strings.Contains(sql, "/pricing/") {
		t.Errorf("filter values leaked into SQL text: %s", sql)
	}
	// Two window bounds plus two filter values.
	if len(args) != 4 {
		t.Errorf("expected 4 args, got %d: %v", len(args), args)
	}
	// Sorted filter keys make SQL deterministic: device before page_url.
	if !strings.Contains(sql, "s.device = ? AND s.page_url = ?") {
		t.Errorf("filters not rendered in sorted order: %s", sql)
	}
}

func TestRenderDeterministic(t *testing.T) {
	build := func() string {
		sql, _ := strictDescriptor().
			Select("pageviews", "visitors").
			Filters(map[string]interface{}{
				"device":    "mobile",
				"page_type": "post",
				"country":   "DE",
			}).
			Render(testStart, testEnd)
		return sql
	}

	first := build()
	for i := 0; i < 20; i++ {
		if got := build(); got != first {
			t.Fatalf("identical descriptors rendered different SQL:\n%s\n%s", first, got)
		}
	}
}

func TestRenderBounceModes(t *testing.T) {
	tests := []struct {
		name    string
		bounces string
		want    string
		absent  string
	}{
		{name: "exclude", bounces: "exclude", want: "s.bounce = FALSE", absent: "s.bounce = TRUE"},
		{name: "only", bounces: "only", want: "s.bounce = TRUE", absent: "s.bounce = FALSE"},
		{name: "include", bounces: "include", want: "", absent: "s.bounce ="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := strictDescriptor().
				Select("pageviews").
				Filters(map[string]interface{}{"bounces": tt.bounces})

			sql, _ := d.Render(testStart, testEnd)
			if tt.want != "" && !strings.Contains(sql, tt.want) {
				t.Errorf("missing %q: %s", tt.want, sql)
			}
			if strings.Contains(sql, tt.absent) {
				t.Errorf("unexpected %q: %s", tt.absent, sql)
			}
			if tt.name == "exclude" && !d.ExcludesBounces() {
				t.Error("ExcludesBounces() = false for exclude")
			}
		})
	}
}

func TestRenderSliceFilterBecomesInList(t *testing.T) {
	d := strictDescriptor().
		Select("pageviews").
		Filters(map[string]interface{}{
			"device": []interface{}{"desktop", "mobile"},
		})

	sql, args := d.Render(testStart, testEnd)
	if !strings.Contains(sql, "s.device IN (?, ?)") {
		t.Errorf("IN list missing: %s", sql)
	}
	if len(args) != 4 {
		t.Errorf("expected 4 args, got %v", args)
	}
}

func TestRenderConversionsAddsJoin(t *testing.T) {
	d := fullDescriptor().Select("conversions")

	sql, _ := d.Render(testStart, testEnd)
	if !strings.Contains(sql, "LEFT JOIN goal_hits AS g ON g.session_id = s.session_id") {
		t.Errorf("goal join missing: %s", sql)
	}
}

func TestRenderDropsJoinWithMissingDependency(t *testing.T) {
	d := fullDescriptor().
		Select("pageviews").
		AddJoin(Join{Table: "goal_hits", Alias: "g2", On: "g2.x = missing.y", DependsOn: "missing"})

	sql, _ := d.Render(testStart, testEnd)
	if strings.Contains(sql, "g2") {
		t.Errorf("dangling join emitted: %s", sql)
	}
}

func TestRenderEmptySelectFallsBack(t *testing.T) {
	sql, _ := strictDescriptor().Render(testStart, testEnd)
	if !strings.Contains(sql, "COUNT(*) AS count") {
		t.Errorf("empty select fallback missing: %s", sql)
	}
}

func TestRenderLimit(t *testing.T) {
	sql, _ := strictDescriptor().Select("pageviews").Limit(50).Render(testStart, testEnd)
	if !strings.HasSuffix(sql, "LIMIT 50") {
		t.Errorf("limit missing: %s", sql)
	}

	sql, _ = strictDescriptor().Select("pageviews").Limit(-5).Render(testStart, testEnd)
	if strings.Contains(sql, "LIMIT") {
		t.Errorf("negative limit must mean unbounded: %s", sql)
	}
}

func TestApplyArgsRejectsUnknownFields(t *testing.T) {
	d := strictDescriptor().ApplyArgs(map[string]interface{}{
		"select":        []interface{}{"pageviews"},
		"evil_raw_sql":  "DROP TABLE statistics",
		"limit":         float64(10),
		"custom_select": "1",
	})

	sql, _ := d.Render(testStart, testEnd)
	if strings.Contains(sql, "DROP TABLE") {
		t.Errorf("unknown argument leaked: %s", sql)
	}
	if !strings.Contains(sql, "COUNT(s.id) AS pageviews") {
		t.Errorf("select argument not applied: %s", sql)
	}
	if !strings.HasSuffix(sql, "LIMIT 10") {
		t.Errorf("limit argument not applied: %s", sql)
	}
}
