package config

import "strings"

const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppHTTPAddr      = ":9991"
	defaultEngineTransport  = "process"
	defaultEnginePython     = "python3"
	defaultEnginePath       = "/analyze"
	defaultEngineMode       = "quick"
	defaultEngineTimeout    = 300
	defaultBreakerThreshold = 3
	defaultBreakerCooldown  = 60
	defaultDeskMode         = "manual"
	defaultPositionSize     = 0.1
	defaultExposureUnit     = 0.05
	defaultQueueSize        = 100
	defaultRecentLimit      = 200
	defaultStorePath        = "data/fxdesk.db"
	defaultRunLogPath       = "data/runs.db"
	defaultFeedGroup        = "fxdesk"
	defaultBusTopic         = "fxdesk.notices"
	defaultBusCompression   = "gzip"
	defaultRedisPrefix      = "fxdesk"
	defaultMetricsNamespace = "fxdesk"
)

var defaultAgentKinds = []string{"scalper", "day_trader", "swing_trader", "position_trader"}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	a := &c.App
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
	e := &c.Engine
	applyFieldDefaults(keys,
		stringFieldDefault("engine.transport", &e.Transport, defaultEngineTransport),
		stringFieldDefault("engine.python", &e.Python, defaultEnginePython),
		stringFieldDefault("engine.path", &e.Path, defaultEnginePath),
		stringFieldDefault("engine.default_mode", &e.DefaultMode, defaultEngineMode),
		intFieldDefault("engine.timeout_seconds", &e.TimeoutSeconds, defaultEngineTimeout),
		intFieldDefault("engine.breaker_threshold", &e.BreakerThreshold, defaultBreakerThreshold),
		intFieldDefault("engine.breaker_cooldown_seconds", &e.BreakerCooldown, defaultBreakerCooldown),
	)
	e.Transport = strings.ToLower(strings.TrimSpace(e.Transport))
	if strings.TrimSpace(c.Agents.RosterPath) == "" && len(c.Agents.Kinds) == 0 {
		c.Agents.Kinds = append([]string(nil), defaultAgentKinds...)
	}
	c.Agents.Kinds = normalizeList(c.Agents.Kinds)

	d := &c.Desk
	applyFieldDefaults(keys,
		stringFieldDefault("desk.mode", &d.Mode, defaultDeskMode),
		floatFieldDefault("desk.position_size", &d.PositionSize, defaultPositionSize),
		floatFieldDefault("desk.exposure_unit", &d.ExposureUnit, defaultExposureUnit),
		intFieldDefault("desk.queue_size", &d.QueueSize, defaultQueueSize),
		intFieldDefault("desk.recent_limit", &d.RecentLimit, defaultRecentLimit),
	)
	applyFieldDefaults(keys,
		stringFieldDefault("store.path", &c.Store.Path, defaultStorePath),
		stringFieldDefault("store.run_log_path", &c.Store.RunLogPath, defaultRunLogPath),
		stringFieldDefault("feed.kafka.group_id", &c.Feed.Kafka.GroupID, defaultFeedGroup),
		stringFieldDefault("bus.kafka.topic", &c.Bus.Kafka.Topic, defaultBusTopic),
		stringFieldDefault("bus.kafka.compression", &c.Bus.Kafka.Compression, defaultBusCompression),
		intFieldDefault("bus.kafka.required_acks", &c.Bus.Kafka.RequiredAcks, 1),
		stringFieldDefault("bus.redis.key_prefix", &c.Bus.Redis.KeyPrefix, defaultRedisPrefix),
		boolFieldDefault("metrics.enabled", &c.Metrics.Enabled, true),
		stringFieldDefault("metrics.namespace", &c.Metrics.Namespace, defaultMetricsNamespace),
	)
	c.Notify.Telegram.Events = normalizeList(c.Notify.Telegram.Events)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:   key,
		apply: func() { *target = def },
	}
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
