package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"fxdesk/internal/signal"
)

// Config 是 fxdesk 的主配置载体。
type Config struct {
	App     AppConfig     `toml:"app"`
	Engine  EngineConfig  `toml:"engine"`
	Agents  AgentsConfig  `toml:"agents"`
	Desk    DeskConfig    `toml:"desk"`
	Store   StoreConfig   `toml:"store"`
	Feed    FeedConfig    `toml:"feed"`
	Bus     BusConfig     `toml:"bus"`
	Notify  NotifyConfig  `toml:"notify"`
	Metrics MetricsConfig `toml:"metrics"`

	baseDir string
}

type AppConfig struct {
	Env           string `toml:"env"`
	LogLevel      string `toml:"log_level"`
	HTTPAddr      string `toml:"http_addr"`
	LogPath       string `toml:"log_path"`
	EngineLogPath string `toml:"engine_log_path"`
	EngineDump    bool   `toml:"engine_dump_payload"`
}

// EngineConfig 外部分析引擎，transport 为 process 或 http。
type EngineConfig struct {
	Transport        string   `toml:"transport"`
	Python           string   `toml:"python"`
	Script           string   `toml:"script"`
	WorkDir          string   `toml:"work_dir"`
	Env              []string `toml:"env"`
	BaseURL          string   `toml:"base_url"`
	Path             string   `toml:"path"`
	DefaultMode      string   `toml:"default_mode"`
	TimeoutSeconds   int      `toml:"timeout_seconds"`
	BreakerThreshold int      `toml:"breaker_threshold"`
	BreakerCooldown  int      `toml:"breaker_cooldown_seconds"`
}

func (e EngineConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

func (e EngineConfig) Cooldown() time.Duration {
	return time.Duration(e.BreakerCooldown) * time.Second
}

// AgentsConfig 代理名单：roster_path 指向可热加载的 YAML，未配置时使用 kinds 静态名单。
type AgentsConfig struct {
	RosterPath string   `toml:"roster_path"`
	Kinds      []string `toml:"kinds"`
}

type DeskConfig struct {
	Mode         string  `toml:"mode"`
	PositionSize float64 `toml:"position_size"`
	ExposureUnit float64 `toml:"exposure_unit"`
	QueueSize    int     `toml:"queue_size"`
	RecentLimit  int     `toml:"recent_limit"`
}

type StoreConfig struct {
	Path       string `toml:"path"`
	RunLogPath string `toml:"run_log_path"`
}

type FeedConfig struct {
	AutoAnalyze bool         `toml:"auto_analyze"`
	Seeds       []SeedSignal `toml:"seeds"`
	Kafka       KafkaFeed    `toml:"kafka"`
}

// SeedSignal 启动时注入的候选信号。
type SeedSignal struct {
	ID             string  `toml:"id"`
	Pair           string  `toml:"pair"`
	Direction      string  `toml:"direction"`
	EntryPrice     float64 `toml:"entry_price"`
	StopLoss       float64 `toml:"stop_loss"`
	TakeProfit     float64 `toml:"take_profit"`
	Confidence     float64 `toml:"confidence"`
	WinProbability float64 `toml:"win_probability"`
	Exposure       float64 `toml:"exposure"`
	Note           string  `toml:"note"`
}

func (s SeedSignal) Proposal() signal.Proposal {
	return signal.Proposal{
		ID:             s.ID,
		Pair:           s.Pair,
		Direction:      s.Direction,
		EntryPrice:     s.EntryPrice,
		StopLoss:       s.StopLoss,
		TakeProfit:     s.TakeProfit,
		Confidence:     s.Confidence,
		WinProbability: s.WinProbability,
		Exposure:       s.Exposure,
		Source:         signal.SourceFeed,
		Note:           s.Note,
	}
}

type KafkaFeed struct {
	Enabled bool     `toml:"enabled"`
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
	GroupID string   `toml:"group_id"`
}

type BusConfig struct {
	Kafka KafkaBus `toml:"kafka"`
	Redis RedisBus `toml:"redis"`
}

type KafkaBus struct {
	Enabled      bool     `toml:"enabled"`
	Brokers      []string `toml:"brokers"`
	Topic        string   `toml:"topic"`
	RequiredAcks int      `toml:"required_acks"`
	Compression  string   `toml:"compression"`
}

type RedisBus struct {
	Enabled   bool   `toml:"enabled"`
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"`
	History   int    `toml:"history"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool     `toml:"enabled"`
	BotToken string   `toml:"bot_token"`
	ChatID   string   `toml:"chat_id"`
	Events   []string `toml:"events"`
}

type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
}

// resolvePaths 相对路径的代理名单按配置文件目录解析；密钥字段展开环境变量。
func (c *Config) resolvePaths() {
	if p := strings.TrimSpace(c.Agents.RosterPath); p != "" && !filepath.IsAbs(p) && c.baseDir != "" {
		if _, err := os.Stat(p); err != nil {
			c.Agents.RosterPath = filepath.Join(c.baseDir, p)
		}
	}
	c.Notify.Telegram.BotToken = os.ExpandEnv(c.Notify.Telegram.BotToken)
	c.Notify.Telegram.ChatID = os.ExpandEnv(c.Notify.Telegram.ChatID)
	c.Bus.Redis.Password = os.ExpandEnv(c.Bus.Redis.Password)
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	_, ok := k[strings.ToLower(strings.TrimSpace(path))]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
