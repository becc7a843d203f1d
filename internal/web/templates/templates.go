// Package templates renders the HTML views of the staging service.
package templates

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/a-h/templ"

	"github.com/keboola/platform-libraries-sub003/internal/core"
)

// DashboardData is the view model of the runs dashboard.
type DashboardData struct {
	Runs    []core.RunRecord
	Limiter core.StagingLimiterStatus
	Branch  core.BranchContext
}

// Dashboard renders recent staging runs and the limiter state.
func Dashboard(data DashboardData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := layoutStart(w, "Staging runs"); err != nil {
			return err
		}
		branch := data.Branch.EffectiveBranchID()
		if branch == "" {
			branch = "default"
		}
		if _, err := fmt.Fprintf(w,
			`<section class="status"><p>Branch <b>%s</b> (%s storage)</p><p>Active %d of %d, %d available</p></section>`,
			templ.EscapeString(branch), templ.EscapeString(string(data.Branch.Mode)),
			data.Limiter.Active, data.Limiter.MaxConcurrent, data.Limiter.Available,
		); err != nil {
			return err
		}

		if len(data.Runs) == 0 {
			if _, err := io.WriteString(w, `<p class="empty">No staging runs yet.</p>`); err != nil {
				return err
			}
			return layoutEnd(w)
		}

		if _, err := io.WriteString(w, `<table class="runs"><thead><tr><th>Run</th><th>Workspace</th><th>Status</th><th>Tables</th><th>Started</th><th>Duration</th><th>Error</th></tr></thead><tbody>`); err != nil {
			return err
		}
		for _, run := range data.Runs {
			if err := runRow(run).Render(ctx, w); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, `</tbody></table>`); err != nil {
			return err
		}
		return layoutEnd(w)
	})
}

func runRow(run core.RunRecord) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		duration := "-"
		if !run.FinishedAt.IsZero() {
			duration = run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
		}
		errText := run.Error
		if run.ErrorCode != "" {
			errText = run.ErrorCode + ": " + errText
		}
		_, err := fmt.Fprintf(w,
			`<tr class="run-%s"><td><a href="/api/runs/%s">%s</a></td><td>%s</td><td>%s</td><td>%d</td><td>%s</td><td>%s</td><td>%s</td></tr>`,
			templ.EscapeString(string(run.Status)),
			templ.EscapeString(run.ID), templ.EscapeString(shortID(run.ID)),
			templ.EscapeString(run.WorkspaceID),
			templ.EscapeString(string(run.Status)),
			len(run.Tables),
			run.StartedAt.UTC().Format(time.RFC3339),
			duration,
			templ.EscapeString(errText),
		)
		return err
	})
}

// ErrorAlert renders an error fragment for HTMX and HTML clients.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w,
			`<div class="alert alert-error" role="alert"><p>%s</p><p class="action">%s</p><p class="code">Code: %s</p></div>`,
			templ.EscapeString(message), templ.EscapeString(action), templ.EscapeString(code),
		)
		return err
	})
}

func layoutStart(w io.Writer, title string) error {
	_, err := fmt.Fprintf(w,
		`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>%s</title></head><body><h1>%s</h1>`,
		templ.EscapeString(title), templ.EscapeString(title),
	)
	return err
}

func layoutEnd(w io.Writer) error {
	_, err := io.WriteString(w, `</body></html>`)
	return err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
