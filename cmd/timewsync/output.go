package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/timewsync/timewsync/internal/sync"
	"gopkg.in/yaml.v3"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

var (
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	gray   = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	bold   = lipgloss.NewStyle().Bold(true)
)

func validateOutput(cmd *cobra.Command) error {
	switch f, _ := cmd.Flags().GetString("output"); f {
	case outputText, outputJSON, outputYAML:
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", f)
	}
}

func outputFormat(cmd *cobra.Command) string {
	f, _ := cmd.Flags().GetString("output")
	return f
}

// writeStructured encodes v as JSON or YAML. It reports false for text.
func writeStructured(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case outputJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return true, err
		}
		_, err = fmt.Fprintln(w, string(data))
		return true, err
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	}
	return false, nil
}

func printError(w io.Writer, err error) {
	fmt.Fprintln(w, red.Render("Error:"), err)
}

func writeReport(cmd *cobra.Command, report *sync.Report) error {
	w := cmd.OutOrStdout()
	if done, err := writeStructured(w, outputFormat(cmd), report); done {
		return err
	}

	var b strings.Builder
	for _, res := range report.Results {
		if res.Status == sync.StatusSkipped && res.Reason == sync.ReasonUpToDate {
			continue
		}
		b.WriteString(resultLine(res))
		b.WriteByte('\n')
	}

	if len(report.Conflicts) > 0 {
		b.WriteString("\n" + yellow.Render("Conflicts") + gray.Render(" (resolve with `timewsync resolve --keep local|remote ID...`)") + "\n")
		for _, c := range report.Conflicts {
			fmt.Fprintf(&b, "  %s %s\n", c.ID, gray.Render(c.Detail))
		}
	}

	for _, warning := range report.Warnings {
		fmt.Fprintf(&b, "%s %s\n", yellow.Render("warning:"), warning)
	}

	b.WriteString("\n" + summaryLine(report) + "\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func resultLine(res sync.ActionResult) string {
	var mark string
	switch res.Status {
	case sync.StatusSucceeded:
		mark = green.Render("✓")
	case sync.StatusFailed:
		mark = red.Render("✗")
	default:
		mark = gray.Render("-")
	}

	line := fmt.Sprintf("%s %-8s %s", mark, res.Op, res.ID)
	switch {
	case res.Status == sync.StatusSucceeded:
		line += gray.Render(fmt.Sprintf(" %s in %s", humanize.IBytes(uint64(res.Bytes)), res.Duration.Round(time.Millisecond)))
	case res.Reason != "":
		line += " " + gray.Render(res.Reason)
	}
	if res.Attempts > 1 {
		line += gray.Render(fmt.Sprintf(" (%d attempts)", res.Attempts))
	}
	return line
}

func summaryLine(report *sync.Report) string {
	s := report.Summary
	parts := []string{
		fmt.Sprintf("%d uploaded", s.Uploaded),
		fmt.Sprintf("%d downloaded", s.Downloaded),
		fmt.Sprintf("%d up to date", s.UpToDate),
	}
	if s.Conflicts > 0 {
		parts = append(parts, yellow.Render(fmt.Sprintf("%d %s", s.Conflicts, plural(s.Conflicts, "conflict"))))
	}
	if s.Failed > 0 {
		parts = append(parts, red.Render(fmt.Sprintf("%d failed", s.Failed)))
	}
	if n := s.Skipped - s.Conflicts - s.UpToDate; n > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", n))
	}

	status := green.Render("done")
	if !report.Succeeded() {
		status = red.Render("failed")
	}
	return fmt.Sprintf("%s %s %s", bold.Render(string(report.Mode)), status, strings.Join(parts, ", ")) +
		gray.Render(fmt.Sprintf(" · %s in %s", humanize.IBytes(uint64(s.Bytes)), report.Duration.Round(time.Millisecond)))
}

func writePlan(cmd *cobra.Command, plan *planView) error {
	w := cmd.OutOrStdout()
	if done, err := writeStructured(w, outputFormat(cmd), plan); done {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\n", bold.Render("Plan"), cyan.Render(plan.RemoteDir),
		gray.Render(fmt.Sprintf("(%d local, %d remote)", plan.LocalCount, plan.RemoteCount)))
	if plan.RemoteAbsent {
		b.WriteString(gray.Render("remote directory does not exist yet") + "\n")
	}

	pending := 0
	for _, a := range plan.Actions {
		if a.Op == sync.OpNoOp {
			continue
		}
		pending++
		op := a.Op.String()
		if a.Op == sync.OpConflict {
			op = yellow.Render(fmt.Sprintf("%-8s", op))
		} else {
			op = fmt.Sprintf("%-8s", op)
		}
		fmt.Fprintf(&b, "  %s %s", op, a.ID)
		if a.Detail != "" {
			b.WriteString(" " + gray.Render(a.Detail))
		}
		b.WriteByte('\n')
	}
	if pending == 0 {
		b.WriteString("Everything is up to date.\n")
	}
	if plan.SizeOnly > 0 {
		fmt.Fprintf(&b, "%s\n", gray.Render(fmt.Sprintf(
			"%d unchanged %s compared by size only: no checksum recorded and compare_mtime is off",
			plan.SizeOnly, plural(plan.SizeOnly, "file"))))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
