// Package inspect renders offline reports of journaled calls.
package inspect

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/tsmon/internal/dispatch"
	"github.com/mattjoyce/tsmon/internal/journal"
)

// historyDepth bounds how many earlier calls to the same handle are shown.
const historyDepth = 10

// Report is the structured JSON representation of a call report.
type Report struct {
	Call    Call          `json:"call"`
	Boot    *journal.Boot `json:"boot,omitempty"`
	History []Call        `json:"history"`
}

// Call is one journaled call with its status decoded.
type Call struct {
	ID         string    `json:"id"`
	Handle     string    `json:"handle"`
	Class      string    `json:"class"`
	Service    string    `json:"service,omitempty"`
	Addr       string    `json:"addr"`
	Len        uint64    `json:"len"`
	TimeoutUS  uint32    `json:"timeout_us"`
	Low        int32     `json:"low"`
	Status     string    `json:"status"`
	Flags      uint32    `json:"flags"`
	StartedAt  time.Time `json:"started_at"`
	DurationUS int64     `json:"duration_us"`
}

func toCall(e journal.Entry) Call {
	return Call{
		ID:         e.ID,
		Handle:     dispatch.Handle(e.Handle).String(),
		Class:      e.Class,
		Service:    e.Service,
		Addr:       fmt.Sprintf("%#x", e.Addr),
		Len:        e.Len,
		TimeoutUS:  e.TimeoutUS,
		Low:        e.Status,
		Status:     statusText(e),
		Flags:      e.Flags,
		StartedAt:  e.StartedAt,
		DurationUS: e.Duration.Microseconds(),
	}
}

// statusText decodes the low word. VERSION and DISCOVERY return data, not a
// status, in the low word.
func statusText(e journal.Entry) string {
	switch {
	case dispatch.Handle(e.Handle) == dispatch.HandleVersion:
		return "version"
	case dispatch.Handle(e.Handle) == dispatch.HandleDiscovery && e.Status > 0:
		return "found " + dispatch.Handle(e.Status).String()
	default:
		return dispatch.Status(e.Status).String()
	}
}

func gatherReportData(ctx context.Context, db *sql.DB, callID string) (*Report, error) {
	j := journal.New(db)
	e, err := j.Get(ctx, callID)
	if err != nil {
		return nil, err
	}

	boot, err := j.BootAt(ctx, e.StartedAt)
	if err != nil {
		return nil, err
	}

	report := &Report{Call: toCall(*e), Boot: boot, History: []Call{}}

	// Sentinel handles share a value across unrelated calls; only service
	// slots have a meaningful history.
	if dispatch.Handle(e.Handle).Reserved() {
		return report, nil
	}
	prior, err := j.History(ctx, e.Handle, e.StartedAt, historyDepth+1)
	if err != nil {
		return nil, err
	}
	for _, p := range prior {
		if p.ID == e.ID {
			continue
		}
		if len(report.History) == historyDepth {
			break
		}
		report.History = append(report.History, toCall(p))
	}
	return report, nil
}

// BuildReport renders a terminal-friendly report for one call.
func BuildReport(ctx context.Context, db *sql.DB, callID string) (string, error) {
	report, err := gatherReportData(ctx, db, callID)
	if err != nil {
		return "", err
	}
	c := report.Call

	var out strings.Builder
	fmt.Fprintf(&out, "Call Report\n")
	fmt.Fprintf(&out, "Call ID     : %s\n", c.ID)
	fmt.Fprintf(&out, "Handle      : %s (%s)\n", c.Handle, c.Class)
	if c.Service != "" {
		fmt.Fprintf(&out, "Service     : %s\n", c.Service)
	}
	fmt.Fprintf(&out, "Buffer      : %s +%d\n", c.Addr, c.Len)
	fmt.Fprintf(&out, "Timeout     : %dus\n", c.TimeoutUS)
	fmt.Fprintf(&out, "Status      : %s (%d)\n", c.Status, c.Low)
	fmt.Fprintf(&out, "Flags       : %#x\n", c.Flags)
	fmt.Fprintf(&out, "Started     : %s\n", c.StartedAt.Format(time.RFC3339Nano))
	fmt.Fprintf(&out, "Duration    : %dus\n", c.DurationUS)

	if b := report.Boot; b != nil {
		fmt.Fprintf(&out, "\nBoot %s (%s, %d services, entry %#x)\n", b.ID, b.Monitor, b.Services, b.Entry)
		fmt.Fprintf(&out, "    booted_at  : %s\n", b.BootedAt.Format(time.RFC3339))
		if b.StoppedAt != nil {
			fmt.Fprintf(&out, "    stopped_at : %s\n", b.StoppedAt.Format(time.RFC3339))
		}
	} else {
		fmt.Fprintf(&out, "\nBoot: <none recorded>\n")
	}

	if len(report.History) > 0 {
		fmt.Fprintf(&out, "\nEarlier calls to %s:\n", c.Handle)
		for _, h := range report.History {
			fmt.Fprintf(&out, "  %s  %-16s %6dus  %s\n",
				h.StartedAt.Format("15:04:05.000"), h.Status, h.DurationUS, h.ID)
		}
	}

	return out.String(), nil
}

// BuildJSONReport renders the report as indented JSON.
func BuildJSONReport(ctx context.Context, db *sql.DB, callID string) (string, error) {
	report, err := gatherReportData(ctx, db, callID)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	return string(data) + "\n", nil
}
