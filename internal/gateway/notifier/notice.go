package notifier

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"fxdesk/internal/desk"
)

// DefaultNoticeTypes 默认推送的通知类型。
var DefaultNoticeTypes = []desk.NoticeType{
	desk.NoticeSignalApproved,
	desk.NoticeSignalRejected,
	desk.NoticeAnalysisFailed,
	desk.NoticePositionOpened,
	desk.NoticePositionClosed,
	desk.NoticeModeChanged,
}

// NoticePublisher 把 desk 通知渲染为 Markdown 后交给 TextNotifier。
type NoticePublisher struct {
	notifier TextNotifier
	types    map[desk.NoticeType]struct{}
}

func NewNoticePublisher(n TextNotifier, types []desk.NoticeType) *NoticePublisher {
	if len(types) == 0 {
		types = DefaultNoticeTypes
	}
	set := make(map[desk.NoticeType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return &NoticePublisher{notifier: n, types: set}
}

func (p *NoticePublisher) Name() string { return "telegram" }

func (p *NoticePublisher) Publish(_ context.Context, n desk.Notice) error {
	if _, ok := p.types[n.Type]; !ok {
		return nil
	}
	return p.notifier.SendText(FormatNotice(n).RenderMarkdown())
}

func (p *NoticePublisher) Close() error { return nil }

// FormatNotice 把通知转换为结构化消息。
func FormatNotice(n desk.Notice) StructuredMessage {
	msg := StructuredMessage{Icon: noticeIcon(n.Type), Title: noticeTitle(n), Timestamp: n.At}
	if sig := n.Signal; sig != nil {
		lines := []string{
			fmt.Sprintf("信号: %s", sig.ID),
			fmt.Sprintf("方向: %s  入场: %s", sig.Direction, price(sig.EntryPrice)),
			fmt.Sprintf("止损: %s  止盈: %s", price(sig.StopLoss), price(sig.TakeProfit)),
			fmt.Sprintf("状态: %s", sig.State),
		}
		if sig.DisposedBy != "" {
			lines = append(lines, fmt.Sprintf("处置: %s", sig.DisposedBy))
		}
		if sig.RejectReason != "" {
			lines = append(lines, "原因: "+sig.RejectReason)
		}
		msg.Sections = append(msg.Sections, MessageSection{Title: "Signal", Lines: lines})
		if d := sig.Decision; d != nil {
			votes := make([]string, 0, len(d.Votes))
			for s, c := range d.Votes {
				votes = append(votes, fmt.Sprintf("%s=%d", s, c))
			}
			sort.Strings(votes)
			dl := []string{
				fmt.Sprintf("共识: %s  置信度: %.2f", d.FinalAction, d.Confidence),
				"投票: " + strings.Join(votes, " "),
			}
			if d.LeadAgent != "" {
				dl = append(dl, fmt.Sprintf("主导: %s", d.LeadAgent))
			}
			msg.Sections = append(msg.Sections, MessageSection{Title: "Consensus", Lines: dl})
		}
	}
	if pos := n.Position; pos != nil {
		lines := []string{
			fmt.Sprintf("持仓: %s", pos.ID),
			fmt.Sprintf("%s %s  数量: %.2f", pos.Pair, pos.Direction, pos.Size),
			fmt.Sprintf("入场: %s", price(pos.EntryPrice)),
		}
		if !pos.IsOpen() {
			lines = append(lines,
				fmt.Sprintf("平仓: %s  PnL: %.5f", price(pos.ClosePrice), pos.PnL),
				"原因: "+pos.CloseReason)
		}
		msg.Sections = append(msg.Sections, MessageSection{Title: "Position", Lines: lines})
	}
	if n.Message != "" {
		msg.Footer = n.Message
	}
	return msg
}

func noticeIcon(t desk.NoticeType) string {
	switch t {
	case desk.NoticeSignalApproved, desk.NoticePositionOpened:
		return "✅"
	case desk.NoticeSignalRejected:
		return "⛔"
	case desk.NoticeAnalysisFailed:
		return "⚠️"
	case desk.NoticePositionClosed:
		return "🏁"
	case desk.NoticeModeChanged:
		return "🔀"
	default:
		return "ℹ️"
	}
}

func noticeTitle(n desk.Notice) string {
	switch n.Type {
	case desk.NoticeModeChanged:
		return fmt.Sprintf("模式切换为 %s", n.Mode)
	default:
		if n.Pair != "" {
			return fmt.Sprintf("%s %s", n.Pair, n.Type)
		}
		return string(n.Type)
	}
}

func price(v float64) string {
	if v == 0 {
		return "-"
	}
	return fmt.Sprintf("%.5f", v)
}
