package config

import (
	"fmt"
	"strings"

	"fxdesk/internal/desk"
	"fxdesk/internal/engine"
	"fxdesk/internal/mode"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	checks := []func() error{
		c.Engine.validate,
		c.Agents.validate,
		c.Desk.validate,
		c.Feed.validate,
		c.Bus.validate,
		c.Notify.validate,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (e *EngineConfig) validate() error {
	switch e.Transport {
	case "process":
		if strings.TrimSpace(e.Script) == "" {
			return fmt.Errorf("engine.script is required for process transport")
		}
	case "http":
		if strings.TrimSpace(e.BaseURL) == "" {
			return fmt.Errorf("engine.base_url is required for http transport")
		}
	default:
		return fmt.Errorf("engine.transport must be process or http, got %q", e.Transport)
	}
	if _, err := engine.ParseMode(e.DefaultMode); err != nil {
		return fmt.Errorf("engine.default_mode: %w", err)
	}
	if e.TimeoutSeconds <= 0 {
		return fmt.Errorf("engine.timeout_seconds must be > 0")
	}
	return nil
}

func (a *AgentsConfig) validate() error {
	if strings.TrimSpace(a.RosterPath) == "" && len(a.Kinds) == 0 {
		return fmt.Errorf("agents requires roster_path or kinds")
	}
	return nil
}

func (d *DeskConfig) validate() error {
	if _, err := mode.Parse(d.Mode); err != nil {
		return fmt.Errorf("desk.mode: %w", err)
	}
	if d.PositionSize <= 0 {
		return fmt.Errorf("desk.position_size must be > 0")
	}
	if d.ExposureUnit <= 0 || d.ExposureUnit > 1 {
		return fmt.Errorf("desk.exposure_unit must be in (0,1]")
	}
	return nil
}

func (f *FeedConfig) validate() error {
	for i, s := range f.Seeds {
		if strings.TrimSpace(s.Pair) == "" || strings.TrimSpace(s.Direction) == "" {
			return fmt.Errorf("feed.seeds[%d] requires pair and direction", i)
		}
	}
	if f.Kafka.Enabled {
		if len(f.Kafka.Brokers) == 0 || strings.TrimSpace(f.Kafka.Topic) == "" {
			return fmt.Errorf("feed.kafka requires brokers and topic when enabled")
		}
	}
	return nil
}

func (b *BusConfig) validate() error {
	if b.Kafka.Enabled && len(b.Kafka.Brokers) == 0 {
		return fmt.Errorf("bus.kafka.brokers is required when enabled")
	}
	if b.Kafka.RequiredAcks < -1 || b.Kafka.RequiredAcks > 1 {
		return fmt.Errorf("bus.kafka.required_acks must be -1, 0 or 1")
	}
	if b.Redis.Enabled && strings.TrimSpace(b.Redis.Addr) == "" {
		return fmt.Errorf("bus.redis.addr is required when enabled")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	tg := n.Telegram
	if !tg.Enabled {
		return nil
	}
	if strings.TrimSpace(tg.BotToken) == "" || strings.TrimSpace(tg.ChatID) == "" {
		return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
	}
	known := map[string]bool{}
	for _, t := range desk.AllNoticeTypes {
		known[string(t)] = true
	}
	for _, evt := range tg.Events {
		if !known[evt] {
			return fmt.Errorf("notify.telegram.events contains unknown type %q", evt)
		}
	}
	return nil
}
