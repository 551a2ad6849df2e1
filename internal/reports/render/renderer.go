// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

// Package render turns a report's content blocks into the HTML and
// plaintext bodies of the outgoing email.
//
// Each block runs as a strict-mode analytics query over its resolved date
// window. Rendering never sees raw filter input; blocks are sanitized by
// the query layer before any SQL is assembled.
package render

import (
	"context"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumeo-analytics/lumeo/internal/models"
	"github.com/lumeo-analytics/lumeo/internal/query"
	"github.com/lumeo-analytics/lumeo/internal/reports"
)

// QueryExecutor runs an assembled analytics query.
type QueryExecutor interface {
	ExecuteDescriptor(ctx context.Context, d *query.Descriptor, start, end time.Time) ([]map[string]interface{}, error)
}

// Renderer renders report emails.
type Renderer struct {
	executor QueryExecutor
	allow    *query.Allowlist
	logger   zerolog.Logger
	baseURL  string
}

// NewRenderer creates a renderer. Block queries always run against the
// strict allowlist regardless of who triggers the send.
func NewRenderer(executor QueryExecutor, logger *zerolog.Logger, baseURL string) *Renderer {
	return &Renderer{
		executor: executor,
		allow:    query.Resolve(query.ModeStrict, query.DefaultVocabulary()),
		logger:   logger.With().Str("component", "report-renderer").Logger(),
		baseURL:  baseURL,
	}
}

// blockView is the rendered form of one content block.
type blockView struct {
	Title     string
	Comment   string
	RangeText string
	Metrics   []metricView
}

// metricView is one metric value in a block.
type metricView struct {
	Name  string
	Value string
}

// emailView is the data handed to the HTML template.
type emailView struct {
	ReportName string
	RangeText  string
	Blocks     []blockView
	BaseURL    string
}

// Render produces the subject, HTML body and plaintext body for one
// report occurrence. today anchors all date-range resolution.
func (r *Renderer) Render(ctx context.Context, report *models.Report, today time.Time) (subject, bodyHTML, bodyText string, err error) {
	start, end := reports.ResolveWindow(report, -1, today)

	view := emailView{
		ReportName: report.Name,
		RangeText:  formatRange(start, end),
		BaseURL:    r.baseURL,
	}

	for i, block := range report.Blocks {
		bv, err := r.renderBlock(ctx, report, i, &block, today)
		if err != nil {
			return "", "", "", fmt.Errorf("failed to render block %s: %w", block.ID, err)
		}
		view.Blocks = append(view.Blocks, bv)
	}

	subject = report.Subject
	if subject == "" {
		subject = fmt.Sprintf("%s (%s)", report.Name, view.RangeText)
	}

	var htmlBuf strings.Builder
	if err := emailTemplate.Execute(&htmlBuf, view); err != nil {
		return "", "", "", fmt.Errorf("failed to execute email template: %w", err)
	}

	return subject, htmlBuf.String(), renderText(view), nil
}

// renderBlock runs one block's metrics query and formats the results.
func (r *Renderer) renderBlock(ctx context.Context, report *models.Report, index int, block *models.ContentBlock, today time.Time) (blockView, error) {
	start, end := reports.ResolveWindow(report, index, today)

	bv := blockView{
		Title:     block.CommentTitle,
		Comment:   block.CommentText,
		RangeText: formatRange(start, end),
	}

	metricsWanted := block.Metrics
	if len(metricsWanted) == 0 {
		metricsWanted = []string{"pageviews", "visitors"}
	}

	d := query.NewDescriptor(query.ModeStrict, r.allow).
		Select(metricsWanted...).
		Filters(block.Filters)

	// end is inclusive in the resolved window, the query wants exclusive
	rows, err := r.executor.ExecuteDescriptor(ctx, d, start, end.AddDate(0, 0, 1))
	if err != nil {
		return blockView{}, err
	}

	if len(rows) == 0 {
		for _, name := range metricsWanted {
			bv.Metrics = append(bv.Metrics, metricView{Name: metricLabel(name), Value: "0"})
		}
		return bv, nil
	}

	row := rows[0]
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Preserve the block's metric order, append anything extra after
	seen := make(map[string]bool, len(row))
	for _, name := range metricsWanted {
		if v, ok := row[name]; ok {
			bv.Metrics = append(bv.Metrics, metricView{Name: metricLabel(name), Value: formatValue(v)})
			seen[name] = true
		}
	}
	for _, k := range keys {
		if !seen[k] {
			bv.Metrics = append(bv.Metrics, metricView{Name: metricLabel(k), Value: formatValue(row[k])})
		}
	}

	return bv, nil
}

// renderText builds the plaintext alternative body.
func renderText(view emailView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s\n\n", view.ReportName, view.RangeText)

	for _, block := range view.Blocks {
		if block.Title != "" {
			fmt.Fprintf(&b, "%s\n", block.Title)
		}
		if block.Comment != "" {
			fmt.Fprintf(&b, "%s\n", block.Comment)
		}
		fmt.Fprintf(&b, "(%s)\n", block.RangeText)
		for _, m := range block.Metrics {
			fmt.Fprintf(&b, "  %s: %s\n", m.Name, m.Value)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// formatRange formats an inclusive date window for display.
func formatRange(start, end time.Time) string {
	if start.Equal(end) {
		return start.Format("Jan 2, 2006")
	}
	return fmt.Sprintf("%s - %s", start.Format("Jan 2, 2006"), end.Format("Jan 2, 2006"))
}

// formatValue formats a query result value for display.
func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "0"
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%.1f", val)
	case float32:
		return formatValue(float64(val))
	default:
		return fmt.Sprintf("%v", val)
	}
}

// metricLabel turns a metric identifier into a display label.
func metricLabel(name string) string {
	label := strings.ReplaceAll(name, "_", " ")
	if label == "" {
		return label
	}
	return strings.ToUpper(label[:1]) + label[1:]
}

var emailTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: -apple-system, Helvetica, Arial, sans-serif; color: #1a1a2e; max-width: 600px; margin: 0 auto;">
  <h1 style="font-size: 20px;">{{.ReportName}}</h1>
  <p style="color: #666;">{{.RangeText}}</p>
  {{range .Blocks}}
  <div style="border: 1px solid #e5e5e5; border-radius: 8px; padding: 16px; margin: 16px 0;">
    {{if .Title}}<h2 style="font-size: 16px; margin-top: 0;">{{.Title}}</h2>{{end}}
    {{if .Comment}}<p>{{.Comment}}</p>{{end}}
    <p style="color: #999; font-size: 12px;">{{.RangeText}}</p>
    <table style="width: 100%; border-collapse: collapse;">
      {{range .Metrics}}
      <tr>
        <td style="padding: 4px 0; color: #666;">{{.Name}}</td>
        <td style="padding: 4px 0; text-align: right; font-weight: 600;">{{.Value}}</td>
      </tr>
      {{end}}
    </table>
  </div>
  {{end}}
  {{if .BaseURL}}<p style="font-size: 12px; color: #999;">Sent by <a href="{{.BaseURL}}">Lumeo Analytics</a></p>{{end}}
</body>
</html>
`))
