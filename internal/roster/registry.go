package roster

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"fxdesk/internal/decision"
	"fxdesk/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Agent 描述一个子代理原型以及其分析报文的 JSON Schema。
type Agent struct {
	Kind        decision.AgentKind     `yaml:"kind"`
	Order       int                    `yaml:"order"`
	Description string                 `yaml:"description"`
	Horizon     string                 `yaml:"horizon"`
	Disabled    bool                   `yaml:"disabled"`
	Schema      map[string]interface{} `yaml:"schema"`

	compiled *jsonschema.Schema
}

// FileConfig 映射 agents.yaml。
type FileConfig struct {
	Agents map[string]Agent `yaml:"agents"`
}

// Snapshot 某一版本的代理名单。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Agents   []Agent
}

type ChangeListener func(Snapshot)

// Registry 管理代理名单，文件变更时热加载；加载失败保留旧版本。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	byKind    map[decision.AgentKind]Agent
	listeners []ChangeListener
}

// NewRegistry 读取名单文件并监听更新。
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("agent roster requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read agent roster failed: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("agent roster reload failed (%s): %v", evt.Name, err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// NewStatic 用内置 schema 构造固定名单，kinds 为空时使用默认四类代理。
func NewStatic(kinds ...decision.AgentKind) (*Registry, error) {
	if len(kinds) == 0 {
		kinds = decision.DefaultKinds
	}
	agents := make([]Agent, 0, len(kinds))
	for i, k := range kinds {
		agents = append(agents, Agent{Kind: k, Order: i + 1})
	}
	r := &Registry{}
	if err := r.install(agents); err != nil {
		return nil, err
	}
	return r, nil
}

// Kinds 返回启用的代理，按 order 排序。
func (r *Registry) Kinds() []decision.AgentKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]decision.AgentKind, 0, len(r.snapshot.Agents))
	for _, a := range r.snapshot.Agents {
		out = append(out, a.Kind)
	}
	return out
}

func (r *Registry) Agent(kind decision.AgentKind) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byKind[kind]
	return a, ok
}

func (r *Registry) Has(kind decision.AgentKind) bool {
	_, ok := r.Agent(kind)
	return ok
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		Version:  r.snapshot.Version,
		LoadedAt: r.snapshot.LoadedAt,
		Agents:   append([]Agent(nil), r.snapshot.Agents...),
	}
}

func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Validate 按代理 schema 校验一段已解码的分析报文。
func (r *Registry) Validate(kind decision.AgentKind, payload any) error {
	agent, ok := r.Agent(kind)
	if !ok {
		return fmt.Errorf("unknown agent kind: %s", kind)
	}
	if agent.compiled == nil {
		return nil
	}
	return agent.compiled.Validate(Sanitize(payload))
}

func (r *Registry) reload() error {
	cfg, err := readRosterFile(r.path)
	if err != nil {
		return err
	}
	agents := make([]Agent, 0, len(cfg.Agents))
	for name, a := range cfg.Agents {
		if strings.TrimSpace(string(a.Kind)) == "" {
			a.Kind = decision.AgentKind(strings.TrimSpace(name))
		}
		agents = append(agents, a)
	}
	if err := r.install(agents); err != nil {
		return err
	}
	logger.Infof("agent roster loaded %d agents from %s", len(r.Kinds()), filepath.Base(r.path))
	return nil
}

func (r *Registry) install(agents []Agent) error {
	enabled := make([]Agent, 0, len(agents))
	byKind := make(map[decision.AgentKind]Agent, len(agents))
	for _, a := range agents {
		a.Kind = decision.AgentKind(strings.ToLower(strings.TrimSpace(string(a.Kind))))
		if a.Kind == "" {
			return fmt.Errorf("agent roster entry without kind")
		}
		if _, dup := byKind[a.Kind]; dup {
			return fmt.Errorf("agent roster lists %s twice", a.Kind)
		}
		if a.Disabled {
			continue
		}
		schema := a.Schema
		if len(schema) == 0 {
			schema = DefaultAnalysisSchema()
		}
		compiled, err := compileSchema(schema)
		if err != nil {
			return fmt.Errorf("agent %s schema compile failed: %w", a.Kind, err)
		}
		a.compiled = compiled
		byKind[a.Kind] = a
		enabled = append(enabled, a)
	}
	if len(enabled) == 0 {
		return fmt.Errorf("agent roster has no enabled agents")
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		if enabled[i].Order != enabled[j].Order {
			return enabled[i].Order < enabled[j].Order
		}
		return enabled[i].Kind < enabled[j].Kind
	})
	r.mu.Lock()
	r.snapshot = Snapshot{Version: r.snapshot.Version + 1, LoadedAt: time.Now(), Agents: enabled}
	r.byKind = byKind
	r.mu.Unlock()
	return nil
}

func (r *Registry) notifyListeners() {
	snap := r.Snapshot()
	r.mu.RLock()
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Errorf("agent roster listener panic: %v", rec)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func readRosterFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read agent roster failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse agent roster failed: %w", err)
	}
	return cfg, nil
}

func compileSchema(data map[string]interface{}) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(normalizeYAML(data))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("analysis.json", bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile("analysis.json")
}

// normalizeYAML 把 yaml 解码出的 map[interface{}]interface{} 转成 json 可编码的结构。
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			out[k] = normalizeYAML(child)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			out[fmt.Sprint(k)] = normalizeYAML(child)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, child := range val {
			out[i] = normalizeYAML(child)
		}
		return out
	default:
		return val
	}
}

// Sanitize 递归把数字字符串转为 float64，兼容引擎把 "1.0850" 当字符串输出的情况。
func Sanitize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = Sanitize(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = Sanitize(child)
		}
		return out
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return val
		}
		if num, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64); err == nil {
			return num
		}
		return val
	default:
		return val
	}
}
