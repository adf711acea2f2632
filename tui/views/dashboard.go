package views

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"market_intel/models"
	"market_intel/tui/styles"
)

// ReportSource is what the views read from.
type ReportSource interface {
	Build(ctx context.Context, rangeDays int, category string) (*models.Report, error)
}

type dashboardDataMsg struct {
	report *models.Report
	err    error
}

type logTailMsg struct {
	lines   []string
	modTime time.Time
}

type Dashboard struct {
	source        ReportSource
	width, height int
	rangeDays     int
	report        *models.Report
	err           error
	logLines      []string
	logPath       string
	logScroll     int // 0 = newest
	logViewport   int
	logBuffer     int
	logModTime    time.Time
}

func NewDashboard(source ReportSource, logPath string) Dashboard {
	return Dashboard{
		source:      source,
		rangeDays:   7,
		logPath:     logPath,
		logViewport: 12,
		logBuffer:   200,
	}
}

func (d Dashboard) Init() tea.Cmd {
	return tea.Batch(d.Refresh(), d.RefreshLog())
}

func (d Dashboard) Refresh() tea.Cmd {
	source, rangeDays := d.source, d.rangeDays
	return func() tea.Msg {
		report, err := source.Build(context.Background(), rangeDays, "")
		return dashboardDataMsg{report, err}
	}
}

func (d Dashboard) RefreshLog() tea.Cmd {
	path, n := d.logPath, d.logBuffer
	return func() tea.Msg {
		lines, modTime := readLastLines(path, n)
		return logTailMsg{lines, modTime}
	}
}

func readLastLines(path string, n int) ([]string, time.Time) {
	if path == "" {
		return []string{"(file logging disabled)"}, time.Time{}
	}
	info, err := os.Stat(path)
	if err != nil {
		return []string{"(no log file)"}, time.Time{}
	}

	f, err := os.Open(path)
	if err != nil {
		return []string{"(no log file)"}, time.Time{}
	}
	defer f.Close()

	var all []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		all = append(all, scanner.Text())
	}
	if len(all) == 0 {
		return []string{"(empty log)"}, info.ModTime()
	}

	start := len(all) - n
	if start < 0 {
		start = 0
	}
	return all[start:], info.ModTime()
}

func (d Dashboard) SetSize(w, h int) Dashboard {
	d.width = w
	d.height = h
	return d
}

func (d Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case dashboardDataMsg:
		d.report = msg.report
		d.err = msg.err
	case logTailMsg:
		d.logLines = msg.lines
		d.logModTime = msg.modTime
	case tea.KeyMsg:
		maxScroll := len(d.logLines) - d.logViewport
		if maxScroll < 0 {
			maxScroll = 0
		}
		switch msg.String() {
		case "up", "k":
			d.logScroll = min(d.logScroll+1, maxScroll)
		case "down", "j":
			d.logScroll = max(d.logScroll-1, 0)
		case "home":
			d.logScroll = maxScroll
		case "end":
			d.logScroll = 0
		case "[":
			d.rangeDays = prevRange(d.rangeDays)
			return d, d.Refresh()
		case "]":
			d.rangeDays = nextRange(d.rangeDays)
			return d, d.Refresh()
		}
	}
	return d, nil
}

func (d Dashboard) View() string {
	if d.err != nil {
		return styles.StatusError.Render("report failed: " + d.err.Error())
	}
	if d.report == nil {
		return styles.Muted.Render("loading...")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		styles.Title.Render("Market Intel")+styles.Muted.Render(fmt.Sprintf("last %d days  [[ ]] range", d.rangeDays)),
		d.renderStatCards(),
		"",
		styles.Title.Render("Heat Map"),
		d.renderHeatMap(),
		"",
		styles.Title.Render("Recent Runs"),
		d.renderRunsTable(),
		"",
		d.renderLogTail(),
	)
}

func (d Dashboard) renderStatCards() string {
	lastSync := "never"
	if d.report.LastSyncTimestamp != nil {
		lastSync = relativeTime(*d.report.LastSyncTimestamp)
	}

	total := 0
	for _, c := range d.report.HeatMap {
		total += c.Count
	}

	top := "-"
	if len(d.report.Trending) > 0 {
		top = fmt.Sprintf("%.2f", d.report.Trending[0].TrendScore)
	}

	return lipgloss.JoinHorizontal(lipgloss.Top,
		renderStatCard("Listings", fmt.Sprintf("%d", total)),
		renderStatCard("Pairs", fmt.Sprintf("%d", len(d.report.HeatMap))),
		renderStatCard("Top score", top),
		renderStatCard("Last sync", lastSync),
	)
}

func renderStatCard(label, value string) string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		styles.StatValue.Render(value),
		styles.StatLabel.Render(label),
	)
	return styles.CardBorder.Width(16).Render(content)
}

func (d Dashboard) renderHeatMap() string {
	cells := make(map[models.Category]map[models.Site]models.HeatMapCell)
	for _, c := range d.report.HeatMap {
		if cells[c.Category] == nil {
			cells[c.Category] = make(map[models.Site]models.HeatMapCell)
		}
		cells[c.Category][c.Site] = c
	}

	var b strings.Builder
	header := fmt.Sprintf("%-16s", "")
	for _, site := range models.KnownSites() {
		header += fmt.Sprintf(" %14s", site)
	}
	b.WriteString(styles.TableHeader.Render(header) + "\n")

	for _, category := range models.KnownCategories() {
		b.WriteString(fmt.Sprintf("%-16s", category))
		for _, site := range models.KnownSites() {
			c, ok := cells[category][site]
			if !ok {
				b.WriteString(styles.Muted.Render(fmt.Sprintf(" %14s", "-")))
				continue
			}
			cell := fmt.Sprintf(" %8.2f (%3d)", c.AvgTrendScore, c.Count)
			b.WriteString(styles.ScoreStyle(c.AvgTrendScore).Render(cell))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (d Dashboard) renderRunsTable() string {
	if len(d.report.RecentRuns) == 0 {
		return styles.Muted.Render("No runs yet")
	}

	header := fmt.Sprintf("%-10s %-8s %-12s %-17s %9s  %s",
		"Run", "Status", "Scope", "Started", "Products", "Error")
	rows := styles.TableHeader.Render(header) + "\n"

	for _, r := range d.report.RecentRuns {
		statusStyle := styles.StatusPending
		switch r.Status {
		case models.RunStatusSuccess:
			statusStyle = styles.StatusSuccess
		case models.RunStatusError:
			statusStyle = styles.StatusError
		}

		scope := "all"
		if r.Site != nil {
			scope = string(*r.Site)
		}
		products := "-"
		if r.TotalProducts != nil {
			products = fmt.Sprintf("%d", *r.TotalProducts)
		}
		errMsg := ""
		if r.ErrorMessage != nil {
			errMsg = *r.ErrorMessage
		}

		rows += fmt.Sprintf("%-10s %s %-12s %-17s %9s  %s\n",
			r.ID.String()[:8],
			statusStyle.Render(fmt.Sprintf("%-8s", r.Status)),
			scope,
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			products,
			truncate(errMsg, max(d.width-64, 10)),
		)
	}
	return rows
}

func (d Dashboard) renderLogTail() string {
	width := max(d.width-4, 40)
	if len(d.logLines) == 0 {
		return styles.LogBox.Width(width).Render(styles.Muted.Render("(waiting for logs...)"))
	}

	total := len(d.logLines)
	endIdx := total - d.logScroll
	startIdx := max(endIdx-d.logViewport, 0)

	var lines []string
	for _, line := range d.logLines[startIdx:endIdx] {
		lines = append(lines, styleLogLine(line, width-4))
	}

	scrollInfo := styles.StatusSuccess.Render(" ● LIVE ")
	if d.logScroll > 0 {
		scrollInfo = styles.StatusPending.Render(fmt.Sprintf(" ↑%d ", d.logScroll))
	}
	header := styles.Title.Render("Log") + scrollInfo +
		styles.Muted.Render(fmt.Sprintf("[%d-%d/%d]", startIdx+1, endIdx, total))

	return styles.LogBox.Width(width).Render(header + "\n" + strings.Join(lines, "\n"))
}

// logEntry is the subset of the JSON log line the tail shows.
type logEntry struct {
	Level  string `json:"level"`
	TS     string `json:"ts"`
	Logger string `json:"logger"`
	Msg    string `json:"msg"`
	Error  string `json:"error"`
}

func styleLogLine(line string, maxWidth int) string {
	var e logEntry
	if err := json.Unmarshal([]byte(line), &e); err != nil || e.Msg == "" {
		return truncate(line, maxWidth)
	}

	ts := e.TS
	if t, err := time.Parse(time.RFC3339Nano, e.TS); err == nil {
		ts = t.Local().Format("15:04:05")
	}
	text := e.Msg
	if e.Logger != "" {
		text = e.Logger + ": " + text
	}
	if e.Error != "" {
		text += " (" + e.Error + ")"
	}
	text = truncate(text, maxWidth-len(ts)-8)

	levelStyle := styles.LogInfo
	switch e.Level {
	case "error", "dpanic", "panic", "fatal":
		levelStyle = styles.StatusError
	case "warn":
		levelStyle = styles.StatusPending
	case "debug":
		levelStyle = styles.Muted
	}
	return styles.LogTimestamp.Render(ts) + " " + levelStyle.Render(fmt.Sprintf("%-5s", strings.ToUpper(e.Level))) + " " + text
}

var ranges = []int{1, 7, 14, 30, 90}

func nextRange(cur int) int {
	for _, r := range ranges {
		if r > cur {
			return r
		}
	}
	return ranges[len(ranges)-1]
}

func prevRange(cur int) int {
	for i := len(ranges) - 1; i >= 0; i-- {
		if ranges[i] < cur {
			return ranges[i]
		}
	}
	return ranges[0]
}

func relativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 1 {
		return "…"
	}
	return string(r[:max-1]) + "…"
}
