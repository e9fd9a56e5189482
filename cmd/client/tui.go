package main

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yitech/perpchart/model/candle"
	"github.com/yitech/perpchart/rpc"
)

// ── styles ────────────────────────────────────────────────────────────────────

var (
	bullStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#26a641"))
	bearStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#e05c5c"))
	flatStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	wickStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	axisStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#555555"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#aaaaaa"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#555555"))
)

// keepCandles caps the client-side buffer between snapshots.
const keepCandles = 1500

// ── messages ──────────────────────────────────────────────────────────────────

type frameMsg struct{ f *rpc.Frame }

type statusMsg string

// ── model ─────────────────────────────────────────────────────────────────────

type model struct {
	symbol string
	res    int64
	nKline int
	ch     <-chan tea.Msg

	candles []candle.Candle
	session *candle.Range
	status  string
	width   int
	height  int
}

func newModel(symbol string, res int64, nKline int, ch <-chan tea.Msg) model {
	return model{
		symbol: symbol,
		res:    res,
		nKline: nKline,
		ch:     ch,
		status: "connecting…",
	}
}

// ── Init / Update / View ──────────────────────────────────────────────────────

func (m model) Init() tea.Cmd {
	return waitForMsg(m.ch)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case frameMsg:
		m.applyFrame(msg.f)
		m.status = "live"
		return m, waitForMsg(m.ch)

	case statusMsg:
		m.status = string(msg)
		return m, waitForMsg(m.ch)
	}

	return m, nil
}

func (m model) View() string {
	if m.width == 0 {
		return "connecting…"
	}
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteByte('\n')
	b.WriteString(m.renderChart())
	b.WriteByte('\n')
	b.WriteString(footerStyle.Render("[q] quit  " + m.status))
	return b.String()
}

// ── helpers ───────────────────────────────────────────────────────────────────

func waitForMsg(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

// applyFrame replaces the buffer on a snapshot and upserts by time on an
// update.
func (m *model) applyFrame(f *rpc.Frame) {
	if f.Session != nil {
		r := *f.Session
		m.session = &r
	}
	if f.Kind == rpc.KindSnapshot {
		m.candles = append(m.candles[:0:0], f.Candles...)
		if f.Session == nil {
			m.session = nil
		}
		return
	}
	for _, c := range f.Candles {
		m.candles = upsert(m.candles, c)
	}
	if len(m.candles) > 2*keepCandles {
		m.candles = append([]candle.Candle(nil), m.candles[len(m.candles)-keepCandles:]...)
	}
}

func upsert(cs []candle.Candle, c candle.Candle) []candle.Candle {
	i := sort.Search(len(cs), func(i int) bool { return cs[i].Time >= c.Time })
	if i < len(cs) && cs[i].Time == c.Time {
		cs[i] = c
		return cs
	}
	cs = append(cs, candle.Candle{})
	copy(cs[i+1:], cs[i:])
	cs[i] = c
	return cs
}

// focusWindow returns at most n trailing candles, starting no earlier than
// the bucket holding the session start.
func focusWindow(cs []candle.Candle, session *candle.Range, res int64, n int) []candle.Candle {
	if n > 0 && len(cs) > n {
		cs = cs[len(cs)-n:]
	}
	if session == nil {
		return cs
	}
	from := candle.Align(session.From, res)
	i := sort.Search(len(cs), func(i int) bool { return cs[i].Time >= from })
	return cs[i:]
}

// ── header ────────────────────────────────────────────────────────────────────

func (m model) renderHeader() string {
	label := candle.FormatResolution(m.res)
	if len(m.candles) == 0 {
		return headerStyle.Render(fmt.Sprintf("%s  %s  waiting for data…", m.symbol, label))
	}
	c := m.candles[len(m.candles)-1]
	session := "no session"
	if m.session != nil {
		session = "session since " + time.Unix(m.session.From, 0).UTC().Format("01-02 15:04")
	}
	return headerStyle.Render(fmt.Sprintf(
		"%s  %s  [%s]  O:%.2f  H:%.2f  L:%.2f  C:%.2f  V:%.4f  %d",
		m.symbol, label, session,
		c.Open, c.High, c.Low, c.Close, c.Volume,
		len(m.candles),
	))
}

// ── chart ─────────────────────────────────────────────────────────────────────

const yAxisWidth = 11 // "  12345.67 │"

func (m model) renderChart() string {
	// Reserve: 1 header + 1 x-axis line + 1 time-label line + 1 footer
	chartH := m.height - 4
	if chartH < 3 {
		chartH = 3
	}

	maxCols := (m.width - yAxisWidth) / 2 // each candle occupies 2 chars
	if maxCols < 1 {
		maxCols = 1
	}
	n := m.nKline
	if n <= 0 || n > maxCols {
		n = maxCols
	}
	candles := focusWindow(m.candles, m.session, m.res, n)

	hi, lo := priceRange(candles)
	if hi == lo {
		hi = lo + 1
	}

	cols := len(candles) * 2
	grid := make([][]string, chartH)
	for r := range grid {
		grid[r] = make([]string, cols)
		for c := range grid[r] {
			grid[r][c] = " "
		}
	}

	for i, c := range candles {
		renderCandle(grid, c, i*2, chartH, hi, lo)
	}

	var b strings.Builder
	for row := 0; row < chartH; row++ {
		price := rowToPrice(row, chartH, hi, lo)
		b.WriteString(axisStyle.Render(fmt.Sprintf("%9.2f │", price)))
		b.WriteString(strings.Join(grid[row], ""))
		b.WriteByte('\n')
	}

	b.WriteString(axisStyle.Render(strings.Repeat("─", yAxisWidth)))
	b.WriteString(axisStyle.Render(strings.Repeat("─", cols)))
	b.WriteByte('\n')

	b.WriteString(strings.Repeat(" ", yAxisWidth))
	b.WriteString(axisStyle.Render(timeLabels(candles)))
	b.WriteByte('\n')

	return b.String()
}

// timeLabels writes an HH:MM label every 5 candles. A label spans 5 chars of
// the 10 the 5 candles occupy.
func timeLabels(candles []candle.Candle) string {
	const every = 5
	var b strings.Builder
	for i := 0; i < len(candles); i += every {
		width := 2 * every
		if rest := 2 * (len(candles) - i); rest < width {
			width = rest
		}
		label := time.Unix(candles[i].Time, 0).UTC().Format("15:04")
		if len(label) > width {
			label = label[:width]
		}
		b.WriteString(label)
		b.WriteString(strings.Repeat(" ", width-len(label)))
	}
	return b.String()
}

// renderCandle paints one candle into the grid at column x (0-indexed, 2 wide).
func renderCandle(grid [][]string, c candle.Candle, x, chartH int, hi, lo float64) {
	style := bullStyle
	switch {
	case c.Volume == 0 && c.Open == c.Close && c.High == c.Low:
		style = flatStyle
	case c.Close < c.Open:
		style = bearStyle
	}

	fH := float64(chartH)
	bodyTop := priceToRow(math.Max(c.Open, c.Close), fH, hi, lo)
	bodyBot := priceToRow(math.Min(c.Open, c.Close), fH, hi, lo)
	wickTop := priceToRow(c.High, fH, hi, lo)
	wickBot := priceToRow(c.Low, fH, hi, lo)

	for row := 0; row < chartH; row++ {
		inBody := row >= bodyTop && row <= bodyBot
		inWick := row >= wickTop && row <= wickBot

		var left, right string
		switch {
		case inBody:
			left = style.Render("█")
			right = style.Render("█")
		case inWick:
			left = wickStyle.Render("│")
			right = " "
		default:
			left = " "
			right = " "
		}

		if x < len(grid[row]) {
			grid[row][x] = left
		}
		if x+1 < len(grid[row]) {
			grid[row][x+1] = right
		}
	}
}

// priceToRow converts a price to a grid row (0 = top = high).
func priceToRow(price, chartH float64, hi, lo float64) int {
	if hi == lo {
		return int(chartH) / 2
	}
	row := (hi - price) / (hi - lo) * (chartH - 1)
	r := int(math.Round(row))
	if r < 0 {
		r = 0
	}
	if r >= int(chartH) {
		r = int(chartH) - 1
	}
	return r
}

// rowToPrice is the inverse of priceToRow.
func rowToPrice(row, chartH int, hi, lo float64) float64 {
	if chartH <= 1 {
		return hi
	}
	return hi - float64(row)/float64(chartH-1)*(hi-lo)
}

// priceRange returns the overall high and low across the visible candles.
func priceRange(candles []candle.Candle) (hi, lo float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	hi, lo = -math.MaxFloat64, math.MaxFloat64
	for _, c := range candles {
		hi = math.Max(hi, c.High)
		lo = math.Min(lo, c.Low)
	}
	return hi, lo
}
