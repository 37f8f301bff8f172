package mode

import (
	"fmt"
	"strings"

	"fxdesk/internal/decision"
)

// Mode 审批模式：Manual 等待人工处置，Auto 在信号进入 Analyzed 时立即按共识处置。
type Mode string

const (
	Manual Mode = "manual"
	Auto   Mode = "auto"
)

func Parse(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "manual":
		return Manual, nil
	case "auto", "automatic":
		return Auto, nil
	default:
		return "", fmt.Errorf("unknown approval mode %q", raw)
	}
}

// Resolution 模式控制器对一次分析结果给出的处置。
type Resolution string

const (
	Await   Resolution = "await"
	Approve Resolution = "approve"
	Reject  Resolution = "reject"
)

// Evaluate 纯函数：模式作为显式参数传入，同样的输入总是得到同样的处置。
// Auto 下非 NO-TRADE 即批准，NO-TRADE 拒绝；Manual 始终等待人工。
func Evaluate(m Mode, d decision.ConsensusDecision) Resolution {
	if m != Auto {
		return Await
	}
	if d.FinalAction.Tradable() {
		return Approve
	}
	return Reject
}

// RejectReason 自动拒绝时写入信号的原因。
func RejectReason(d decision.ConsensusDecision) string {
	return fmt.Sprintf("auto: consensus %s (confidence %.2f)", d.FinalAction, d.Confidence)
}
