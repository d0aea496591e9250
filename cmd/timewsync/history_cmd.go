package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/timewsync/timewsync/internal/history"
)

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "Show recent runs, or the results of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			if limit < 1 {
				return fmt.Errorf("--limit must be at least 1")
			}

			journal, err := history.Open(a.env.HistoryPath())
			if err != nil {
				return err
			}
			defer journal.Close()

			if len(args) == 1 {
				id, err := journal.ResolveID(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				results, err := journal.Results(cmd.Context(), id)
				if err != nil {
					return err
				}
				return writeHistoryResults(cmd, id, results)
			}

			runs, err := journal.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return writeHistoryRuns(cmd, runs, time.Now())
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "number of runs to show")
	return cmd
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(gray).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func writeHistoryRuns(cmd *cobra.Command, runs []*history.Run, now time.Time) error {
	w := cmd.OutOrStdout()
	if done, err := writeStructured(w, outputFormat(cmd), runs); done {
		return err
	}
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded yet.")
		return err
	}

	t := newTable("RUN", "MODE", "STARTED", "TOOK", "UP", "DOWN", "CONFLICTS", "FAILED", "BYTES", "STATUS")
	for _, r := range runs {
		status := green.Render("ok")
		if !r.Succeeded() {
			status = red.Render("failed")
		}
		t.Row(
			shortID(r.ID),
			r.Mode,
			humanize.RelTime(r.StartedAt, now, "ago", "from now"),
			r.Duration.Round(time.Millisecond).String(),
			strconv.Itoa(r.Uploaded),
			strconv.Itoa(r.Downloaded),
			strconv.Itoa(r.Conflicts),
			strconv.Itoa(r.Failed),
			humanize.IBytes(uint64(r.Bytes)),
			status,
		)
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func writeHistoryResults(cmd *cobra.Command, runID string, results []*history.Result) error {
	w := cmd.OutOrStdout()
	if done, err := writeStructured(w, outputFormat(cmd), results); done {
		return err
	}
	if len(results) == 0 {
		_, err := fmt.Fprintf(w, "Run %s has no recorded results.\n", runID)
		return err
	}

	t := newTable("ID", "OP", "STATUS", "REASON", "BYTES", "ATTEMPTS")
	for _, r := range results {
		t.Row(
			r.Artifact,
			r.Op,
			r.Status,
			r.Reason,
			humanize.IBytes(uint64(r.Bytes)),
			strconv.Itoa(r.Attempts),
		)
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

// shortID keeps the first group of a uuid.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
