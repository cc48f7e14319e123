package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/mescon/timekeeper/internal/client"
	"github.com/mescon/timekeeper/internal/format"
)

// render writes v as JSON or YAML, or calls table for the default output.
func render(w io.Writer, outFmt string, v interface{}, table func() error) error {
	switch outFmt {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		return enc.Close()
	default:
		return table()
	}
}

func printSessions(w io.Writer, outFmt string, sessions []client.Session) error {
	return render(w, outFmt, sessions, func() error {
		if len(sessions) == 0 {
			_, err := fmt.Fprintln(w, "No sessions")
			return err
		}
		table := tablewriter.NewWriter(w)
		table.Header("ID", "Name", "Kind", "Phase", "Display", "Duration")
		for _, s := range sessions {
			if err := table.Append(s.ID, s.Name, s.Kind, s.Phase, s.Display, durationCell(s)); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}
		_, err := fmt.Fprintf(w, "\nTotal sessions: %d\n", len(sessions))
		return err
	})
}

func printSession(w io.Writer, outFmt string, s client.Session) error {
	return render(w, outFmt, s, func() error {
		table := tablewriter.NewWriter(w)
		table.Header("Property", "Value")
		rows := [][]string{
			{"ID", s.ID},
			{"Name", s.Name},
			{"Kind", s.Kind},
			{"Phase", s.Phase},
			{"Display", s.Display},
		}
		if s.Kind == "countdown" {
			rows = append(rows, []string{"Duration", durationCell(s)})
		}
		rows = append(rows, []string{"Created", s.CreatedAt.Local().Format(time.RFC3339)})
		for _, r := range rows {
			if err := table.Append(r); err != nil {
				return err
			}
		}
		return table.Render()
	})
}

func printEvents(w io.Writer, outFmt string, events []client.Event) error {
	return render(w, outFmt, events, func() error {
		if len(events) == 0 {
			_, err := fmt.Fprintln(w, "No events")
			return err
		}
		table := tablewriter.NewWriter(w)
		table.Header("Time", "Event", "Phase", "Display")
		for _, e := range events {
			phase, _ := e.Data["phase"].(string)
			display, _ := e.Data["display"].(string)
			if err := table.Append(e.CreatedAt.Local().Format("2006-01-02 15:04:05.000"), e.Type, phase, display); err != nil {
				return err
			}
		}
		return table.Render()
	})
}

func durationCell(s client.Session) string {
	if s.Kind != "countdown" {
		return "-"
	}
	if s.DurationMS == 0 {
		return "unset"
	}
	return format.Countdown(time.Duration(s.DurationMS) * time.Millisecond)
}

// parseDuration accepts Go durations ("90s", "1h30m") and clock notation
// ("MM:SS" or "HH:MM:SS").
func parseDuration(s string) (time.Duration, error) {
	if !strings.Contains(s, ":") {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		if d < 0 {
			return 0, fmt.Errorf("invalid duration %q: must not be negative", s)
		}
		return d, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid duration %q: want HH:MM:SS", s)
	}
	fields := make([]int, 3)
	offset := 3 - len(parts)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		fields[offset+i] = n
	}
	return format.ParseHMS(fields[0], fields[1], fields[2])
}

// statusLine is the single line watch redraws on every poll.
func statusLine(s client.Session) string {
	line := fmt.Sprintf("%s  %-8s  %s", s.Display, s.Phase, s.Name)
	if s.Phase == "expired" {
		line += "  Time's up!"
	}
	return line
}
