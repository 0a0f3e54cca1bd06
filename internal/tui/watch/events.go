package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/tsmon/internal/api"
	"github.com/mattjoyce/tsmon/internal/events"
)

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	typeStyle := theme.Dim
	switch e.Type {
	case "smc.call":
		typeStyle = theme.StatusOK
		var c api.CallEvent
		if json.Unmarshal(e.Data, &c) == nil && c.Low < 0 {
			typeStyle = theme.StatusFailed
		}
	case "flags.raised":
		typeStyle = theme.Highlight
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-14s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, extractEventDesc(e))
}

func extractEventDesc(e events.Event) string {
	switch e.Type {
	case "smc.call":
		var c api.CallEvent
		if err := json.Unmarshal(e.Data, &c); err == nil {
			target := c.Service
			if target == "" {
				target = fmt.Sprintf("0x%x", c.Handle)
			}
			desc := fmt.Sprintf("%s %s %dus", target, c.Status, c.DurationUS)
			if c.Flags != 0 {
				desc += fmt.Sprintf(" flags=0x%x", c.Flags)
			}
			return desc
		}
	case "flags.raised":
		var f events.FlagsRaised
		if err := json.Unmarshal(e.Data, &f); err == nil {
			return fmt.Sprintf("%s raised 0x%x", f.Source, uint32(f.Flags))
		}
	}

	raw := string(e.Data)
	if len(raw) > 60 {
		raw = raw[:60] + "..."
	}
	return raw
}
