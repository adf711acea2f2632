package views

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"market_intel/models"
	"market_intel/tui/styles"
)

type trendingMsg struct {
	listings []models.CompetitorListing
	err      error
}

// Trending lists the top scored listings, optionally for one category.
type Trending struct {
	source        ReportSource
	width, height int
	rangeDays     int
	categoryIdx   int // 0 = all, otherwise KnownCategories()[idx-1]
	listings      []models.CompetitorListing
	err           error
	selectedRow   int
}

func NewTrending(source ReportSource) Trending {
	return Trending{source: source, rangeDays: 7}
}

func (t Trending) Init() tea.Cmd {
	return t.Refresh()
}

func (t Trending) Category() string {
	if t.categoryIdx == 0 {
		return ""
	}
	return string(models.KnownCategories()[t.categoryIdx-1])
}

func (t Trending) Refresh() tea.Cmd {
	source, rangeDays, category := t.source, t.rangeDays, t.Category()
	return func() tea.Msg {
		report, err := source.Build(context.Background(), rangeDays, category)
		if err != nil {
			return trendingMsg{err: err}
		}
		return trendingMsg{listings: report.Trending}
	}
}

func (t Trending) SetSize(w, h int) Trending {
	t.width = w
	t.height = h
	return t
}

// SelectedURL returns the product URL of the highlighted row.
func (t Trending) SelectedURL() string {
	if t.selectedRow < len(t.listings) {
		return t.listings[t.selectedRow].ProductURL
	}
	return ""
}

func (t Trending) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case trendingMsg:
		t.listings = msg.listings
		t.err = msg.err
		if t.selectedRow >= len(t.listings) {
			t.selectedRow = 0
		}
	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if t.selectedRow > 0 {
				t.selectedRow--
			}
		case "down", "j":
			if t.selectedRow < len(t.listings)-1 {
				t.selectedRow++
			}
		case "home", "g":
			t.selectedRow = 0
		case "end", "G":
			t.selectedRow = max(len(t.listings)-1, 0)
		case "c":
			t.categoryIdx = (t.categoryIdx + 1) % (len(models.KnownCategories()) + 1)
			t.selectedRow = 0
			return t, t.Refresh()
		case "[":
			t.rangeDays = prevRange(t.rangeDays)
			return t, t.Refresh()
		case "]":
			t.rangeDays = nextRange(t.rangeDays)
			return t, t.Refresh()
		}
	}
	return t, nil
}

func (t Trending) View() string {
	category := t.Category()
	if category == "" {
		category = "all"
	}
	header := styles.Title.Render("Trending") +
		styles.StatValue.Render(fmt.Sprintf("  %s, last %d days", category, t.rangeDays)) +
		"  " + styles.Muted.Render("[c] Category  [[ ]] Range")

	if t.err != nil {
		return lipgloss.JoinVertical(lipgloss.Left, header, styles.StatusError.Render(t.err.Error()))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		t.renderTable(),
		"",
		t.renderDetails(),
	)
}

func (t Trending) visibleRows() int {
	rows := 20
	if t.height > 0 {
		rows = max(t.height*55/100, 8)
	}
	return rows
}

func (t Trending) renderTable() string {
	if len(t.listings) == 0 {
		return styles.Muted.Render("No listings in range")
	}

	header := fmt.Sprintf("%3s %-40s %-11s %-15s %11s %7s %4s %6s",
		"#", "Product", "Site", "Category", "Price", "Reviews", "Pos", "Score")
	rows := styles.TableHeader.Render(header) + "\n"

	visible := t.visibleRows()
	offset := 0
	if t.selectedRow >= visible {
		offset = t.selectedRow - visible + 1
	}
	end := min(offset+visible, len(t.listings))

	for i := offset; i < end; i++ {
		l := t.listings[i]
		pos := "-"
		if l.Position != nil {
			pos = fmt.Sprintf("%d", *l.Position)
		}
		reviews := "-"
		if l.ReviewSource != models.ReviewSourceNone {
			reviews = fmt.Sprintf("%d", l.ReviewCount)
		}

		row := fmt.Sprintf("%3d %-40s %-11s %-15s %11s %7s %4s %6.3f",
			i+1,
			truncate(l.ProductName, 40),
			l.Site,
			truncate(string(l.Category), 15),
			formatPeso(l.Price),
			reviews,
			pos,
			l.TrendScore,
		)
		if i == t.selectedRow {
			rows += styles.TableSelected.Render(row) + "\n"
		} else {
			rows += row + "\n"
		}
	}

	if len(t.listings) > visible {
		rows += styles.Muted.Render(fmt.Sprintf("  [%d-%d of %d]", offset+1, end, len(t.listings)))
	}
	return rows
}

func (t Trending) renderDetails() string {
	if t.selectedRow >= len(t.listings) {
		return ""
	}
	l := t.listings[t.selectedRow]
	c := l.ScoreComponents
	width := max(t.width/2-2, 30)

	breakdown := strings.Join([]string{
		fmt.Sprintf("price    %.3f × %.2f", c.PriceScore, c.Weights.Price),
		fmt.Sprintf("position %.3f × %.2f", c.PositionScore, c.Weights.Position),
		fmt.Sprintf("reviews  %.3f × %.2f", c.ReviewScore, c.Weights.Review),
		styles.Muted.Render(fmt.Sprintf("batch range %s – %s", formatPeso(c.MinPrice), formatPeso(c.MaxPrice))),
	}, "\n")
	scoreBox := styles.CardBorder.Width(width).Render(
		styles.Title.Render("Score") + styles.ScoreStyle(l.TrendScore).Render(fmt.Sprintf("%.3f", l.TrendScore)) + "\n" + breakdown,
	)

	source := "no review data"
	switch l.ReviewSource {
	case models.ReviewSourceReviews:
		source = "review count"
	case models.ReviewSourceRatingProxy:
		source = "rating proxy"
	}
	info := strings.Join([]string{
		styles.StatValue.Render(truncate(l.ProductName, width-4)),
		styles.StatLabel.Render("Reviews: ") + source,
		styles.StatLabel.Render("Collected: ") + l.CollectedAt.Local().Format("2006-01-02 15:04"),
		styles.Muted.Render(truncate(l.ProductURL, width-4)),
	}, "\n")
	infoBox := styles.SiteCardBorder.Width(width).Render(styles.Title.Render("Listing") + "\n" + info)

	return lipgloss.JoinHorizontal(lipgloss.Top, scoreBox, infoBox)
}

func formatPeso(v float64) string {
	whole, frac, _ := strings.Cut(decimal.NewFromFloat(v).StringFixed(2), ".")
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return "₱" + b.String() + "." + frac
}
