package app

import (
	"fmt"
	"strings"

	"fxdesk/internal/config"
	"fxdesk/internal/decision"
	"fxdesk/internal/feed"
	"fxdesk/internal/gateway/bus"
)

// StartupSummary 启动时打印的配置摘要。
type StartupSummary struct {
	Env        string
	HTTPAddr   string
	Engine     string
	EngineMode string
	Mode       string
	Agents     []string
	Sources    []string
	Publishers []string
	Store      string
	Metrics    bool
}

func newStartupSummary(cfg *config.Config, kinds []decision.AgentKind, sources []feed.Source, pubs []bus.Publisher) *StartupSummary {
	s := &StartupSummary{
		Env:        cfg.App.Env,
		HTTPAddr:   cfg.App.HTTPAddr,
		Engine:     cfg.Engine.Transport,
		EngineMode: cfg.Engine.DefaultMode,
		Mode:       cfg.Desk.Mode,
		Store:      cfg.Store.Path,
		Metrics:    cfg.Metrics.Enabled,
	}
	switch cfg.Engine.Transport {
	case "http":
		s.Engine += " " + cfg.Engine.BaseURL + cfg.Engine.Path
	case "process":
		s.Engine += " " + cfg.Engine.Python + " " + cfg.Engine.Script
	}
	for _, k := range kinds {
		s.Agents = append(s.Agents, string(k))
	}
	for _, src := range sources {
		s.Sources = append(s.Sources, src.Name())
	}
	for _, p := range pubs {
		s.Publishers = append(s.Publishers, p.Name())
	}
	return s
}

func (s *StartupSummary) Print() {
	fmt.Println(s.String())
}

func (s *StartupSummary) String() string {
	line := strings.Repeat("=", 64)
	rows := [][2]string{
		{"环境", s.Env},
		{"HTTP", s.HTTPAddr},
		{"分析引擎", s.Engine},
		{"分析模式", s.EngineMode},
		{"审批模式", s.Mode},
		{"代理名单", formatList(s.Agents)},
		{"信号源", formatList(s.Sources)},
		{"通知通道", formatList(s.Publishers)},
		{"存储", s.Store},
		{"指标", fmt.Sprintf("%t", s.Metrics)},
	}
	var b strings.Builder
	b.WriteString(line + "\n启动配置摘要 (STARTUP SUMMARY)\n" + line + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "  %-10s %s\n", r[0]+":", r[1])
	}
	b.WriteString(line)
	return b.String()
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
