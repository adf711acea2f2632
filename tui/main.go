// Command tui is a terminal viewer for the market intel report. It reads the
// same store as the daemon and triggers syncs through the admin API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"market_intel/config"
	"market_intel/models"
	"market_intel/services"
	"market_intel/storage"
	"market_intel/tui/styles"
	"market_intel/tui/views"
)

type tab int

const (
	tabDashboard tab = iota
	tabTrending
)

type model struct {
	apiURL        string
	activeTab     tab
	width, height int
	notification  string
	notifyUntil   time.Time
	syncing       bool

	dashboard views.Dashboard
	trending  views.Trending
}

type tickMsg time.Time
type logTickMsg time.Time

type syncDoneMsg struct {
	result *models.SyncResult
	err    error
}

func initialModel(source views.ReportSource, apiURL, logPath string) model {
	return model{
		apiURL:    apiURL,
		activeTab: tabDashboard,
		dashboard: views.NewDashboard(source, logPath),
		trending:  views.NewTrending(source),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.dashboard.Init(),
		m.trending.Init(),
		tickCmd(),
		logTickCmd(),
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(30*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func logTickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return logTickMsg(t)
	})
}

func (m model) notify(text string) model {
	m.notification = text
	m.notifyUntil = time.Now().Add(3 * time.Second)
	return m
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "d":
			m.activeTab = tabDashboard
			return m, nil
		case "t":
			m.activeTab = tabTrending
			return m, nil
		case "tab":
			m.activeTab = (m.activeTab + 1) % 2
			return m, nil
		case "r":
			m = m.notify("Refreshed")
			return m, m.refreshActive()
		case "s":
			if m.syncing {
				m = m.notify("Sync already running")
				return m, nil
			}
			m.syncing = true
			m = m.notify("Sync started...")
			return m, triggerSync(m.apiURL)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.dashboard = m.dashboard.SetSize(msg.Width, msg.Height-4)
		m.trending = m.trending.SetSize(msg.Width, msg.Height-4)
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.dashboard.Refresh(), m.trending.Refresh(), tickCmd())

	case logTickMsg:
		return m, tea.Batch(m.dashboard.RefreshLog(), logTickCmd())

	case syncDoneMsg:
		m.syncing = false
		switch {
		case msg.err != nil:
			m = m.notify("Sync failed: " + msg.err.Error())
		case !msg.result.Success:
			m = m.notify("Sync failed: " + msg.result.Error)
		default:
			m = m.notify(fmt.Sprintf("Sync done: %d listings", msg.result.Inserted))
		}
		return m, tea.Batch(m.dashboard.Refresh(), m.trending.Refresh())
	}

	// Keys go to the active tab only; data messages go to every view.
	switch msg.(type) {
	case tea.KeyMsg:
		switch m.activeTab {
		case tabDashboard:
			next, cmd := m.dashboard.Update(msg)
			m.dashboard = next.(views.Dashboard)
			cmds = append(cmds, cmd)
		case tabTrending:
			next, cmd := m.trending.Update(msg)
			m.trending = next.(views.Trending)
			cmds = append(cmds, cmd)
		}
	default:
		next, cmd := m.dashboard.Update(msg)
		m.dashboard = next.(views.Dashboard)
		cmds = append(cmds, cmd)

		nextTrending, cmd := m.trending.Update(msg)
		m.trending = nextTrending.(views.Trending)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m model) refreshActive() tea.Cmd {
	switch m.activeTab {
	case tabDashboard:
		return m.dashboard.Refresh()
	case tabTrending:
		return m.trending.Refresh()
	}
	return nil
}

func (m model) View() string {
	return lipgloss.JoinVertical(lipgloss.Left, m.renderTabs(), m.renderContent(), m.renderStatusBar())
}

func (m model) renderTabs() string {
	var rendered []string
	for i, name := range []string{"Dashboard", "Trending"} {
		if tab(i) == m.activeTab {
			rendered = append(rendered, styles.TabActive.Render(name))
		} else {
			rendered = append(rendered, styles.TabInactive.Render(name))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...) + "\n"
}

func (m model) renderContent() string {
	if m.activeTab == tabTrending {
		return m.trending.View()
	}
	return m.dashboard.View()
}

func (m model) renderStatusBar() string {
	left := "d Dash  t Trending  r Refresh  s Sync  q Quit"
	right := ""
	if time.Now().Before(m.notifyUntil) {
		right = styles.Notification.Render(m.notification)
	}

	gap := max(m.width-lipgloss.Width(left)-lipgloss.Width(right)-2, 0)
	return styles.StatusBar.Render(left) + lipgloss.NewStyle().Width(gap).Render("") + right
}

// triggerSync asks the daemon to run a full sync. Runs can take minutes, so
// the client has no timeout of its own.
func triggerSync(apiURL string) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, apiURL+"/api/market-intel/sync", nil)
		if err != nil {
			return syncDoneMsg{err: err}
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return syncDoneMsg{err: err}
		}
		defer resp.Body.Close()

		var result models.SyncResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return syncDoneMsg{err: fmt.Errorf("status %d: %w", resp.StatusCode, err)}
		}
		if resp.StatusCode >= 400 && result.Error == "" {
			return syncDoneMsg{err: fmt.Errorf("status %d", resp.StatusCode)}
		}
		return syncDoneMsg{result: &result}
	}
}

// apiBaseURL turns a listen address like ":8080" into a dialable URL.
func apiBaseURL(addr string) string {
	if v := os.Getenv("ADMIN_API_URL"); v != "" {
		return strings.TrimSuffix(v, "/")
	}
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	var store storage.ReportStore
	if cfg.Database.URL != "" {
		pg, err := storage.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting to Postgres: %v\n", err)
			os.Exit(1)
		}
		defer pg.Close()
		store = pg
	} else {
		sqlite, err := storage.NewSQLiteStore(cfg.Database.DBPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening SQLite: %v\n", err)
			os.Exit(1)
		}
		defer sqlite.Close()
		store = sqlite
	}

	p := tea.NewProgram(
		initialModel(services.NewReportService(store), apiBaseURL(cfg.HTTPAddr), cfg.LogFile),
		tea.WithAltScreen(),
	)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
