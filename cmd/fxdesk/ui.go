package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"fxdesk/internal/decision"
	"fxdesk/internal/desk"
	"fxdesk/internal/engine"
	"fxdesk/internal/position"
	"fxdesk/internal/risk"
	sig "fxdesk/internal/signal"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280")).
			Width(14)

	subtleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#9CA3AF"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	buyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	sellStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	holdStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B")).
			Bold(true)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)
)

func actionText(a string) string {
	switch strings.ToUpper(a) {
	case string(decision.ActionBuy):
		return buyStyle.Render(a)
	case string(decision.ActionSell):
		return sellStyle.Render(a)
	default:
		return holdStyle.Render(a)
	}
}

func field(label, value string) string {
	return labelStyle.Render(label) + value
}

func pct(v float64) string {
	return fmt.Sprintf("%.0f%%", v*100)
}

func price(v float64) string {
	if v == 0 {
		return "-"
	}
	return fmt.Sprintf("%.5f", v)
}

// renderSignal 信号与共识决策面板。
func renderSignal(s sig.TradeSignal) string {
	lines := []string{
		titleStyle.Render(fmt.Sprintf("%s %s", s.Pair, strings.ToUpper(string(s.Direction)))),
		field("Signal", s.ID),
		field("State", string(s.State)),
		field("Entry/SL/TP", fmt.Sprintf("%s / %s / %s", price(s.EntryPrice), price(s.StopLoss), price(s.TakeProfit))),
	}
	if s.DisposedBy != "" {
		lines = append(lines, field("Disposed by", string(s.DisposedBy)))
	}
	if s.RejectReason != "" {
		lines = append(lines, field("Reason", s.RejectReason))
	}
	if s.LastError != "" {
		lines = append(lines, field("Last error", errorStyle.Render(s.LastError)))
	}
	if d := s.Decision; d != nil {
		lines = append(lines, "", renderDecision(*d))
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func renderDecision(d decision.ConsensusDecision) string {
	lines := []string{
		field("Consensus", actionText(string(d.FinalAction))),
		field("Confidence", pct(d.Confidence)),
		field("Votes", formatVotes(d.Votes)),
	}
	if !d.Date.IsZero() {
		lines = append(lines, field("Date", d.Date.Format(engine.DateLayout)))
	}
	if d.LeadAgent != "" {
		lines = append(lines, field("Lead agent", string(d.LeadAgent)))
	}
	if p := d.Prices; p != nil {
		lines = append(lines, field("Suggested", fmt.Sprintf("%s / %s / %s", price(p.Entry), price(p.StopLoss), price(p.TakeProfit))))
	}
	if d.Reasoning != "" {
		lines = append(lines, field("Reasoning", d.Reasoning))
	}
	kinds := make([]string, 0, len(d.Agents))
	for k := range d.Agents {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		a := d.Agents[decision.AgentKind(k)]
		lines = append(lines, fmt.Sprintf("  %s %s %s %s", labelStyle.Render(k), actionText(string(a.Signal)), pct(a.Confidence), subtleStyle.Render(string(a.RiskLevel))))
	}
	return strings.Join(lines, "\n")
}

func formatVotes(votes map[decision.Signal]int) string {
	order := []decision.Signal{decision.SignalBuy, decision.SignalSell, decision.SignalHold}
	parts := make([]string, 0, len(order))
	for _, s := range order {
		parts = append(parts, fmt.Sprintf("%s=%d", s, votes[s]))
	}
	return strings.Join(parts, " ")
}

type positionRow struct {
	ID        string
	Pair      string
	Direction string
	Entry     float64
	Size      float64
	PnL       float64
	Status    string
	Opened    time.Time
}

func rowOf(p position.Position) positionRow {
	return positionRow{
		ID:        p.ID,
		Pair:      p.Pair,
		Direction: string(p.Direction),
		Entry:     p.EntryPrice,
		Size:      p.Size,
		PnL:       p.PnL,
		Status:    string(p.Status),
		Opened:    p.OpenTime,
	}
}

func renderPositions(title string, rows []positionRow) string {
	if len(rows) == 0 {
		return panelStyle.Render(titleStyle.Render(title) + "\n" + subtleStyle.Render("无持仓"))
	}
	lines := []string{titleStyle.Render(title)}
	for _, r := range rows {
		lines = append(lines, fmt.Sprintf("%-8s %s %-6s size=%.2f entry=%s pnl=%.2f %s",
			r.Pair, actionText(strings.ToUpper(r.Direction)), r.Status, r.Size, price(r.Entry), r.PnL,
			subtleStyle.Render(r.Opened.Format("01-02 15:04")+" "+r.ID)))
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func renderRisk(s risk.Snapshot) string {
	lines := []string{
		titleStyle.Render("风险概览"),
		field("Win rate", pct(s.WinRate)),
		field("Total PnL", fmt.Sprintf("%.2f", s.TotalPnL)),
		field("Exposure", pct(s.Exposure)),
		field("Trades", fmt.Sprintf("%d (open %d, closed %d)", s.TotalTrades, s.OpenCount, s.ClosedCount)),
		field("Wins/Losses", fmt.Sprintf("%d/%d", s.Wins, s.Losses)),
	}
	for _, p := range s.ByPair {
		lines = append(lines, fmt.Sprintf("  %-8s open=%d exposure=%s share=%s net=%.2f", p.Pair, p.OpenCount, pct(p.Exposure), pct(p.Share), p.NetSize))
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func renderPending(signals []sig.TradeSignal) string {
	lines := []string{titleStyle.Render("待处置信号")}
	for _, s := range signals {
		if s.State != sig.StatePending && s.State != sig.StateAnalyzed {
			continue
		}
		action := "-"
		if s.Decision != nil {
			action = string(s.Decision.FinalAction)
		}
		lines = append(lines, fmt.Sprintf("  %-8s %-4s %-8s %s %s", s.Pair, s.Direction, s.State, actionText(action), subtleStyle.Render(s.ID)))
	}
	if len(lines) == 1 {
		lines = append(lines, subtleStyle.Render("无"))
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func analysisOptions(rawMode, rawDate string) (desk.AnalysisOptions, error) {
	var opts desk.AnalysisOptions
	if strings.TrimSpace(rawMode) != "" {
		m, err := engine.ParseMode(rawMode)
		if err != nil {
			return opts, err
		}
		opts.Mode = m
	}
	if strings.TrimSpace(rawDate) != "" {
		t, err := time.Parse(engine.DateLayout, strings.TrimSpace(rawDate))
		if err != nil {
			return opts, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", rawDate)
		}
		opts.Date = t
	}
	return opts, nil
}
