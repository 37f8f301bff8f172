package main

import (
	"errors"
	"fmt"
	"strings"

	"fxdesk/internal/decision"
	sig "fxdesk/internal/signal"

	"github.com/AlecAivazis/survey/v2"
)

const (
	choiceApprove = "Approve - 开仓"
	choiceReject  = "Reject - 拒绝"
	choiceSkip    = "Skip - 保持待处置"
)

// promptDisposition 询问对已分析信号的处置方式。
func promptDisposition(s sig.TradeSignal) (string, string, error) {
	action := decision.ActionNoTrade
	if s.Decision != nil {
		action = s.Decision.FinalAction
	}
	var choice string
	prompt := &survey.Select{
		Message: fmt.Sprintf("%s %s 共识 %s，如何处置?", s.Pair, s.Direction, action),
		Options: []string{choiceApprove, choiceReject, choiceSkip},
		Default: defaultChoice(action),
	}
	if err := survey.AskOne(prompt, &choice); err != nil {
		return "", "", err
	}
	if choice != choiceReject {
		return choice, "", nil
	}
	var reason string
	err := survey.AskOne(&survey.Input{
		Message: "拒绝原因:",
		Default: "manual reject",
	}, &reason, survey.WithValidator(func(ans interface{}) error {
		if str, ok := ans.(string); !ok || strings.TrimSpace(str) == "" {
			return errors.New("reason cannot be empty")
		}
		return nil
	}))
	if err != nil {
		return "", "", err
	}
	return choice, strings.TrimSpace(reason), nil
}

func defaultChoice(a decision.Action) string {
	if a.Tradable() {
		return choiceApprove
	}
	return choiceReject
}
