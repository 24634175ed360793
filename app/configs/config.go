package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type Config struct {
	AIProvider        string `json:"ai_provider"` // "gemini" or "groq"
	AIModel           string `json:"ai_model"`
	GroqModel         string `json:"groq_model"`
	BotRepo           string `json:"bot_repo"`
	PromptsPath       string `json:"prompts_path"`
	FallbackProject   string `json:"fallback_project"`
	ConfirmTimeoutSec int    `json:"confirm_timeout_sec"`
	ActionTimeoutSec  int    `json:"action_timeout_sec"`
	GatekeeperEnabled bool   `json:"gatekeeper_enabled"`
	WebhookPort       int    `json:"webhook_port"`

	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	DefaultChatID   string `json:"default_chat_id"`
	PollIntervalSec int    `json:"poll_interval_sec"`
	TimeoutSec      int    `json:"timeout_sec"`
}

type Manager struct {
	path string
	mu   sync.RWMutex
	cfg  Config
}

func DefaultPath() string {
	return filepath.Join("config", "config.json")
}

func NewManager(path string) (*Manager, error) {
	cfg := defaultConfig()
	mgr := &Manager{
		path: path,
		cfg:  cfg,
	}
	if err := mgr.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	if err := mgr.save(); err != nil {
		return nil, err
	}
	return mgr, nil
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Update(apply func(*Config)) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	apply(&m.cfg)
	applyDefaults(&m.cfg)
	if err := m.saveLocked(); err != nil {
		return Config{}, err
	}
	return m.cfg, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	var fileCfg Config
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return err
	}
	m.cfg = fileCfg
	applyDefaults(&m.cfg)
	return nil
}

func (m *Manager) save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0644)
}

func defaultConfig() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	switch strings.ToLower(strings.TrimSpace(cfg.AIProvider)) {
	case "gemini", "groq":
		cfg.AIProvider = strings.ToLower(strings.TrimSpace(cfg.AIProvider))
	default:
		cfg.AIProvider = "gemini"
	}
	if strings.TrimSpace(cfg.AIModel) == "" {
		cfg.AIModel = "gemini-2.0-flash"
	}
	if strings.TrimSpace(cfg.GroqModel) == "" {
		cfg.GroqModel = "llama-3.3-70b-versatile"
	}
	if strings.TrimSpace(cfg.PromptsPath) == "" {
		cfg.PromptsPath = filepath.Join("config", "prompts.json")
	}
	if strings.TrimSpace(cfg.FallbackProject) == "" {
		cfg.FallbackProject = "회의도출"
	}
	if cfg.ConfirmTimeoutSec <= 0 {
		cfg.ConfirmTimeoutSec = 300
	}
	if cfg.ActionTimeoutSec <= 0 {
		cfg.ActionTimeoutSec = 60
	}
	if cfg.WebhookPort <= 0 {
		cfg.WebhookPort = 8090
	}
	if cfg.Telegram.PollIntervalSec <= 0 {
		cfg.Telegram.PollIntervalSec = 2
	}
	if cfg.Telegram.TimeoutSec <= 0 {
		cfg.Telegram.TimeoutSec = 20
	}
}
