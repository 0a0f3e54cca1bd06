package watch

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/tsmon/internal/api"
	"github.com/mattjoyce/tsmon/internal/dispatch"
	"github.com/mattjoyce/tsmon/internal/events"
)

// SlotView tracks one trusted service slot, merged from /services polls and
// the event stream.
type SlotView struct {
	Handle     uint32
	Name       string
	Priority   int
	State      dispatch.SlotState
	LastStatus int32
	Pending    dispatch.Request
	Calls      int
	Flags      events.Flags
	LastCall   time.Time
}

// applyServices merges a /services snapshot into the slot map.
func applyServices(slots map[uint32]*SlotView, resp api.ServicesResponse) {
	for _, s := range resp.Services {
		v, ok := slots[s.Handle]
		if !ok {
			v = &SlotView{Handle: s.Handle}
			slots[s.Handle] = v
		}
		v.Name = s.Name
		v.Priority = s.Priority
		v.State = s.State
		v.LastStatus = s.LastStatus
		v.Pending = s.Pending
	}
}

// applyEvent updates call counters and raised flags from one hub event. The
// slot's last status is left to the next poll: a call's low word is not
// always the worker's status.
func applyEvent(slots map[uint32]*SlotView, e events.Event) {
	switch e.Type {
	case "smc.call":
		var c api.CallEvent
		if err := json.Unmarshal(e.Data, &c); err != nil {
			return
		}
		v, ok := slots[c.Handle]
		if !ok {
			return
		}
		v.Calls++
		v.LastCall = e.At

	case "flags.raised":
		var f events.FlagsRaised
		if err := json.Unmarshal(e.Data, &f); err != nil {
			return
		}
		if v := slotByName(slots, f.Source); v != nil {
			v.Flags |= f.Flags
		}
	}
}

// slotByName returns the lowest-handle slot with the given name, matching
// the registry's first-match lookup.
func slotByName(slots map[uint32]*SlotView, name string) *SlotView {
	for _, h := range sortedHandles(slots) {
		if slots[h].Name == name {
			return slots[h]
		}
	}
	return nil
}

func sortedHandles(slots map[uint32]*SlotView) []uint32 {
	handles := make([]uint32, 0, len(slots))
	for h := range slots {
		handles = append(handles, h)
	}
	slices.Sort(handles)
	return handles
}

func newSlotTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Handle", Width: 8},
			{Title: "Service", Width: 16},
			{Title: "Prio", Width: 4},
			{Title: "State", Width: 8},
			{Title: "Last", Width: 16},
			{Title: "Calls", Width: 6},
			{Title: "Flags", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func slotRows(slots map[uint32]*SlotView, theme Theme) []table.Row {
	rows := make([]table.Row, 0, len(slots))
	for _, h := range sortedHandles(slots) {
		v := slots[h]
		flags := "-"
		if v.Flags != 0 {
			flags = fmt.Sprintf("0x%x", uint32(v.Flags))
		}
		rows = append(rows, table.Row{
			stateSymbol(v.State, theme),
			fmt.Sprintf("0x%04x", v.Handle),
			v.Name,
			fmt.Sprintf("%d", v.Priority),
			v.State.String(),
			dispatch.Status(v.LastStatus).String(),
			fmt.Sprintf("%d", v.Calls),
			flags,
		})
	}
	return rows
}

func stateSymbol(s dispatch.SlotState, theme Theme) string {
	switch s {
	case dispatch.SlotIdle:
		return theme.StateIdle.Render("●")
	case dispatch.SlotBusy:
		return theme.StateBusy.Render("◉")
	case dispatch.SlotStopped:
		return theme.StateStopped.Render("∅")
	default:
		return theme.StateStarting.Render("○")
	}
}

func renderSlots(t table.Model, theme Theme, width int) string {
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("TRUSTED SERVICES"),
		t.View(),
	)
	return theme.Border.Width(width - 4).Render(content)
}
