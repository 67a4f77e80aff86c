package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/connection"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/notification"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/ratelimit"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/stream"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/views"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/infrastructure/config"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/interfaces/di"
)

// WatchFlags holds command-line flags for the watch command
type WatchFlags struct {
	CameraID    string
	RefreshRate time.Duration
	MaxRows     int
	Backfill    int
}

func newWatchCommand(a *app) *cobra.Command {
	flags := &WatchFlags{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Real-time terminal dashboard",
		Long: `Launch an interactive dashboard following detections, batch analysis,
zone occupancy, anomalies, notifications and risk scored events live.

Examples:
  hsi watch                        # All cameras
  hsi watch --camera front_door    # Start filtered to one camera
  hsi watch --refresh 250ms`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withContainer(cmd, containerOptions{quiet: true}, func(c *di.Container) error {
				return runWatch(cmd, c, flags)
			})
		},
	}

	cmd.Flags().StringVar(&flags.CameraID, "camera", "", "Only show this camera")
	cmd.Flags().DurationVar(&flags.RefreshRate, "refresh", 500*time.Millisecond, "Refresh rate for live updates")
	cmd.Flags().IntVar(&flags.MaxRows, "max-rows", 8, "Rows shown per panel")
	cmd.Flags().IntVar(&flags.Backfill, "backfill", 50, "Recent detections to load on start (0 disables)")

	return cmd
}

// runWatch starts the terminal dashboard
func runWatch(cmd *cobra.Command, c *di.Container, flags *WatchFlags) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	model := newDashboardModel(ctx, c, flags)
	defer model.countdown.Close()

	program := tea.NewProgram(model,
		tea.WithContext(ctx),
		tea.WithAltScreen(),
		tea.WithInput(cmd.InOrStdin()),
		tea.WithOutput(cmd.OutOrStdout()),
	)

	go func() {
		_ = config.Watch(ctx, c.ConfigRepo, c.Logger, func(*config.Config) {
			program.Send(statusLineMsg("configuration file changed, restart to apply"))
		})
	}()

	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("dashboard failed: %w", err)
	}
	return nil
}

// dashboardSnapshot is everything the view renders, read from the
// services in one pass
type dashboardSnapshot struct {
	status     connection.Status
	fresh      bool
	rateLimit  string
	detections []stream.Detection
	summary    views.DetectionStats
	batches    views.BatchViews
	occupancy  map[string]int
	anomalies  []stream.Anomaly
	alerts     []notification.Entry
	unread     int
	events     []stream.SecurityEvent
	risk       views.RiskStats
	cameras    []string
	eventsErr  error
	takenAt    time.Time
}

// dashboardModel holds the state for the Bubble Tea dashboard
type dashboardModel struct {
	ctx       context.Context
	container *di.Container
	flags     *WatchFlags
	countdown *ratelimit.Countdown
	keys      dashboardKeys
	help      help.Model

	filter       views.FilterState
	paused       bool
	snapshot     dashboardSnapshot
	statusLine   string
	windowWidth  int
	windowHeight int
}

// newDashboardModel creates a new dashboard model
func newDashboardModel(ctx context.Context, c *di.Container, flags *WatchFlags) dashboardModel {
	m := dashboardModel{
		ctx:       ctx,
		container: c,
		flags:     flags,
		countdown: ratelimit.NewCountdown(c.RateLimits, c.Clock, nil),
		keys:      defaultDashboardKeys,
		help:      newHelp(),
		filter:    views.FilterState{CameraID: flags.CameraID},
	}
	c.Detections.SetFilter(m.filter)
	return m
}

func newHelp() help.Model {
	h := help.New()
	h.Styles.ShortKey = hintStyle.Bold(true)
	h.Styles.ShortDesc = hintStyle
	h.Styles.FullKey = hintStyle.Bold(true)
	h.Styles.FullDesc = hintStyle
	return h
}

// Init implements the Bubble Tea init method
func (m dashboardModel) Init() tea.Cmd {
	return tea.Batch(
		m.tickCmd(),
		m.backfillCmd(),
		m.snapshotCmd(),
	)
}

// Update implements the Bubble Tea update method
func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		if m.paused {
			return m, m.tickCmd()
		}
		return m, tea.Batch(m.tickCmd(), m.snapshotCmd())

	case snapshotMsg:
		m.snapshot = dashboardSnapshot(msg)
		return m, nil

	case statusLineMsg:
		m.statusLine = string(msg)
		return m, nil
	}

	return m, nil
}

func (m dashboardModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Pause):
		m.paused = !m.paused
		return m, nil

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil

	case key.Matches(msg, m.keys.Camera):
		m.filter.CameraID = nextCamera(m.snapshot.cameras, m.filter.CameraID)
		m.container.Detections.SetFilter(m.filter)
		m.statusLine = "camera filter: " + cameraLabel(m.filter.CameraID)
		return m, m.snapshotCmd()

	case key.Matches(msg, m.keys.ClearFilter):
		m.filter = views.FilterState{}
		m.container.Detections.SetFilter(m.filter)
		m.statusLine = "filters cleared"
		return m, m.snapshotCmd()

	case key.Matches(msg, m.keys.AckAll):
		n := m.container.Notifications.History().AcknowledgeAll()
		m.statusLine = fmt.Sprintf("acknowledged %d notifications", n)
		return m, m.snapshotCmd()

	case key.Matches(msg, m.keys.More):
		return m, m.loadMoreCmd()

	case key.Matches(msg, m.keys.Reconnect):
		if err := m.container.Connection.Reconnect(); err != nil {
			m.statusLine = "reconnect: " + err.Error()
		} else {
			m.statusLine = "reconnecting"
		}
		return m, m.snapshotCmd()
	}
	return m, nil
}

// nextCamera cycles "" -> first camera -> ... -> last camera -> ""
func nextCamera(cameras []string, current string) string {
	if len(cameras) == 0 {
		return ""
	}
	if current == "" || current == views.All {
		return cameras[0]
	}
	for i, cam := range cameras {
		if cam == current {
			if i+1 < len(cameras) {
				return cameras[i+1]
			}
			return ""
		}
	}
	return cameras[0]
}

func cameraLabel(camera string) string {
	if camera == "" || camera == views.All {
		return "all cameras"
	}
	return camera
}

// tickMsg is sent every refresh interval
type tickMsg time.Time

// snapshotMsg carries a fresh snapshot
type snapshotMsg dashboardSnapshot

// statusLineMsg replaces the transient status line
type statusLineMsg string

// tickCmd creates a tick command
func (m dashboardModel) tickCmd() tea.Cmd {
	return tea.Tick(m.flags.RefreshRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m dashboardModel) snapshotCmd() tea.Cmd {
	filter := m.filter
	return func() tea.Msg {
		return snapshotMsg(takeSnapshot(m.ctx, m.container, m.countdown, filter))
	}
}

func (m dashboardModel) backfillCmd() tea.Cmd {
	if m.flags.Backfill <= 0 {
		return nil
	}
	return func() tea.Msg {
		recent, err := m.container.API.RecentDetections(m.ctx, "", m.flags.Backfill)
		if err != nil {
			return statusLineMsg("backfill failed: " + err.Error())
		}
		m.container.Detections.Backfill(recent)
		return statusLineMsg(fmt.Sprintf("loaded %d recent detections", len(recent)))
	}
}

func (m dashboardModel) loadMoreCmd() tea.Cmd {
	filter := m.filter
	return func() tea.Msg {
		more, err := m.container.Events.LoadMore(m.ctx, filter)
		switch {
		case err != nil:
			return statusLineMsg("load more: " + err.Error())
		case !more:
			return statusLineMsg("no more events")
		}
		return snapshotMsg(takeSnapshot(m.ctx, m.container, m.countdown, filter))
	}
}

// takeSnapshot reads every service the dashboard shows
func takeSnapshot(ctx context.Context, c *di.Container, countdown *ratelimit.Countdown, filter views.FilterState) dashboardSnapshot {
	now := c.Clock.Now()
	s := dashboardSnapshot{
		status:     c.Connection.Status(),
		fresh:      c.Connection.IsFresh(now),
		detections: c.Detections.Detections(),
		summary:    c.Detections.Summary(),
		batches:    c.Batches.Views(filter),
		occupancy:  c.Zones.Occupancy(),
		anomalies:  views.Filter(c.Zones.RecentAnomalies(), filter, anomalyKeys),
		alerts:     c.Notifications.History().Entries(),
		unread:     c.Notifications.History().Unacknowledged(),
		takenAt:    now,
	}
	if countdown.Remaining() > 0 {
		s.rateLimit = countdown.Formatted()
	}

	s.events, s.eventsErr = c.Events.Events(ctx, filter)
	s.risk = views.RiskDistribution(s.events)

	seen := map[string]struct{}{}
	for _, cam := range views.CameraIDs(c.Batches.Views(views.FilterState{}).PerCamera) {
		seen[cam] = struct{}{}
	}
	for cam := range s.summary.ByCamera {
		seen[cam] = struct{}{}
	}
	for _, ev := range s.events {
		seen[ev.CameraID] = struct{}{}
	}
	if filter.CameraID != "" {
		seen[filter.CameraID] = struct{}{}
	}
	for cam := range seen {
		if cam != "" {
			s.cameras = append(s.cameras, cam)
		}
	}
	sort.Strings(s.cameras)
	return s
}

func anomalyKeys(a stream.Anomaly) (stream.Keys, string) {
	return stream.Keys{CameraID: a.CameraID, ZoneID: a.ZoneID}, string(stream.KindAnomaly)
}

// View implements the Bubble Tea view method
func (m dashboardModel) View() string {
	columns := lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderDetections(),
		"   ",
		lipgloss.JoinVertical(lipgloss.Left, m.renderBatches(), "", m.renderZones()),
	)

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		"",
		columns,
		"",
		m.renderEvents(),
		"",
		m.renderNotifications(),
		m.renderFooter(),
	)
}

// renderHeader renders the dashboard header
func (m dashboardModel) renderHeader() string {
	s := m.snapshot
	title := titleStyle.Render("Home Security Intelligence")

	state := string(s.status.State)
	if state == "" {
		state = string(connection.StateIdle)
	}
	var stateText string
	switch {
	case s.status.State == connection.StateConnected && s.fresh:
		stateText = okStyle.Render("● " + state)
	case s.status.State == connection.StateConnected:
		stateText = warnStyle.Render("● stale")
	case s.status.State == connection.StateReconnecting:
		stateText = warnStyle.Render(fmt.Sprintf("● %s (attempt %d)", state, s.status.ReconnectAttempts))
	default:
		stateText = errStyle.Render("● " + state)
	}

	live := okStyle.Render("LIVE")
	if m.paused {
		live = errStyle.Render("PAUSED")
	}

	line1 := lipgloss.JoinHorizontal(lipgloss.Left, title, "  ", stateText, "  ", live)

	parts := []string{
		"Camera: " + cameraLabel(m.filter.CameraID),
		fmt.Sprintf("Detections: %d", m.container.Detections.TotalReceived()),
		"Last Update: " + clockTime(s.takenAt),
	}
	if s.rateLimit != "" {
		parts = append(parts, warnStyle.Render("Rate limited, retry in "+s.rateLimit))
	}
	if s.status.LastError != "" && s.status.State != connection.StateConnected {
		parts = append(parts, errStyle.Render(truncateString(s.status.LastError, 50)))
	}
	line2 := strings.Join(parts, " | ")

	return lipgloss.JoinVertical(lipgloss.Left, line1, line2, divider())
}

func (m dashboardModel) renderDetections() string {
	s := m.snapshot
	rows := []string{headerStyle.Render(fmt.Sprintf("DETECTIONS (%d)", s.summary.Total))}

	var labels []string
	for i, lc := range s.summary.ByLabel {
		if i == 4 {
			break
		}
		labels = append(labels, fmt.Sprintf("%s %d", lc.Label, lc.Count))
	}
	if len(labels) > 0 {
		rows = append(rows, mutedStyle.Render(strings.Join(labels, "  ")+fmt.Sprintf("  avg %.0f%%", s.summary.AverageConfidence*100)))
	}

	if len(s.detections) == 0 {
		rows = append(rows, mutedStyle.Render("Waiting for detections..."))
	}
	for i, d := range s.detections {
		if i == m.flags.MaxRows {
			break
		}
		rows = append(rows, fmt.Sprintf("%s %-12s %-8s %3.0f%%",
			clockTime(d.DetectedAt), truncateString(d.CameraID, 12), truncateString(d.Label, 8), d.Confidence*100))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m dashboardModel) renderBatches() string {
	b := m.snapshot.batches
	rows := []string{
		headerStyle.Render("BATCHES"),
		fmt.Sprintf("processing %d  completed %d  failed %d  total %d",
			len(b.Processing), len(b.Completed), len(b.Failed), b.TotalBatches),
	}
	if b.TotalBatches > 0 {
		rows = append(rows, mutedStyle.Render(fmt.Sprintf("avg %.1fs, %.1f detections per batch",
			b.AverageDurationSeconds, b.AverageDetectionsPerBatch)))
	}
	var reasons []string
	for _, reason := range stream.ClosureReasons() {
		if pct, ok := b.ClosureReasonPercentages[reason]; ok && pct > 0 {
			reasons = append(reasons, fmt.Sprintf("%s %.0f%%", reason, pct))
		}
	}
	if len(reasons) > 0 {
		rows = append(rows, mutedStyle.Render(strings.Join(reasons, "  ")))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m dashboardModel) renderZones() string {
	s := m.snapshot
	rows := []string{headerStyle.Render("ZONES")}

	zones := make([]string, 0, len(s.occupancy))
	for zone := range s.occupancy {
		zones = append(zones, zone)
	}
	sort.Strings(zones)
	var occupancy []string
	for _, zone := range zones {
		occupancy = append(occupancy, fmt.Sprintf("%s %d", zone, s.occupancy[zone]))
	}
	if len(occupancy) == 0 {
		rows = append(rows, mutedStyle.Render("No zone activity"))
	} else {
		rows = append(rows, strings.Join(occupancy, "  "))
	}

	for i, an := range s.anomalies {
		if i == 3 {
			break
		}
		mark := "!"
		if an.Acknowledged {
			mark = "✓"
		}
		rows = append(rows, fmt.Sprintf("%s %s %s %s", mark, clockTime(an.DetectedAt),
			severityStyle(an.Severity).Render(string(an.Severity)), truncateString(an.Description, 40)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m dashboardModel) renderEvents() string {
	s := m.snapshot
	header := fmt.Sprintf("EVENTS (%d)", len(s.events))
	if s.risk.Total > 0 {
		header += fmt.Sprintf("  avg risk %.0f", s.risk.AverageRisk)
	}
	rows := []string{headerStyle.Render(header)}

	if s.risk.Total > 0 {
		var dist []string
		for _, level := range []stream.Severity{stream.SeverityCritical, stream.SeverityHigh, stream.SeverityMedium, stream.SeverityLow} {
			dist = append(dist, severityStyle(level).Render(fmt.Sprintf("%s %d", level, s.risk.Counts[level])))
		}
		rows = append(rows, strings.Join(dist, "  "))
	}

	if s.eventsErr != nil {
		rows = append(rows, errStyle.Render("events unavailable: "+truncateString(s.eventsErr.Error(), 60)))
	}
	shown := 0
	for _, ev := range s.events {
		if ev.Deleted {
			continue
		}
		if shown == m.flags.MaxRows {
			break
		}
		shown++
		reviewed := " "
		if ev.Reviewed {
			reviewed = "✓"
		}
		rows = append(rows, fmt.Sprintf("%s %s %-12s %s %s",
			reviewed,
			clockTime(ev.StartedAt),
			truncateString(ev.CameraID, 12),
			severityStyle(ev.RiskLevel).Render(fmt.Sprintf("%3d %-8s", ev.RiskScore, ev.RiskLevel)),
			truncateString(ev.Summary, 40)))
	}
	if shown == 0 && s.eventsErr == nil {
		rows = append(rows, mutedStyle.Render("No security events"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m dashboardModel) renderNotifications() string {
	s := m.snapshot
	rows := []string{headerStyle.Render(fmt.Sprintf("NOTIFICATIONS (%d unread)", s.unread))}
	for i, n := range s.alerts {
		if i == 3 {
			break
		}
		style := severityStyle(n.Severity)
		if n.Acknowledged {
			style = mutedStyle
		}
		rows = append(rows, style.Render(fmt.Sprintf("%s %s", clockTime(n.CreatedAt), truncateString(n.Title, 60))))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

// renderFooter renders the control instructions footer
func (m dashboardModel) renderFooter() string {
	controls := m.help.View(m.keys)
	if m.statusLine == "" {
		return lipgloss.JoinVertical(lipgloss.Left, divider(), controls)
	}
	return lipgloss.JoinVertical(lipgloss.Left, divider(), mutedStyle.Render(m.statusLine), controls)
}

func divider() string {
	return mutedStyle.Render(strings.Repeat("─", 60))
}
