package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/stream"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	hintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46"))
	warnStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	errStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

// severityStyle colors a risk level
func severityStyle(s stream.Severity) lipgloss.Style {
	switch s {
	case stream.SeverityCritical:
		return errStyle
	case stream.SeverityHigh:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("202"))
	case stream.SeverityMedium:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	}
}

// describe renders the payload of ev as a single line
func describe(ev stream.Event) string {
	switch p := ev.Payload.(type) {
	case stream.Detection:
		return fmt.Sprintf("%s %.0f%%", p.Label, p.Confidence*100)
	case stream.BatchUpdate:
		s := fmt.Sprintf("batch %s %s", shortID(p.BatchID), p.Status)
		if p.Status.IsClosed() {
			s += fmt.Sprintf(" (%d detections, %s)", p.DetectionCount, p.ClosureReason)
		}
		if p.Error != "" {
			s += ": " + p.Error
		}
		return s
	case stream.ZoneCrossing:
		return fmt.Sprintf("%s %s %s", p.EntityType, p.Direction, p.ZoneID)
	case stream.Anomaly:
		return fmt.Sprintf("[%s] %s: %s", p.Severity, p.ZoneID, p.Description)
	case stream.SecurityEvent:
		return fmt.Sprintf("risk %d (%s) %s", p.RiskScore, p.RiskLevel, p.Summary)
	case stream.Notification:
		return fmt.Sprintf("[%s] %s", p.Severity, p.Title)
	default:
		return ev.String()
	}
}

// shortID keeps the first eight characters of an id
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// truncateString truncates s to n runes, marking the cut with "..."
func truncateString(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

func clockTime(t time.Time) string {
	if t.IsZero() {
		return "--:--:--"
	}
	return t.Local().Format("15:04:05")
}

// parseKinds validates --kind values
func parseKinds(values []string) (map[stream.Kind]bool, error) {
	if len(values) == 0 {
		return nil, nil
	}
	kinds := make(map[stream.Kind]bool, len(values))
	for _, v := range values {
		kind, ok := stream.ParseKind(strings.TrimSpace(v))
		if !ok {
			return nil, fmt.Errorf("unknown event kind %q", v)
		}
		kinds[kind] = true
	}
	return kinds, nil
}
