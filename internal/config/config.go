package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"OpportunityPipeline/pkg/logger"
)

const (
	defaultTimezone   = "UTC"
	configPathEnv     = "OPPORTUNITY_PIPELINE_CONFIG"
	stateDirEnv       = "STATE_DIR"
	databaseDSNEnv    = "DATABASE_DSN"
	logLevelEnv       = "LOG_LEVEL"
	openAIAPIKeyEnv   = "OPENAI_API_KEY"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
	pushgatewayEnv    = "PUSHGATEWAY_URL"

	maxFewShot = 3
)

// Backend kinds understood by the wiring layer.
const (
	BackendKindOpenAI = "openai"
	BackendKindLocal  = "local"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	State         StateConfig        `yaml:"state"`
	Inbox         InboxConfig        `yaml:"inbox"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Pipeline      PipelineConfig     `yaml:"pipeline"`
	Scoring       ScoringConfig      `yaml:"scoring"`
	Classifier    ClassifierConfig   `yaml:"classifier"`
	Escalation    EscalationConfig   `yaml:"escalation"`
	Drafting      DraftingConfig     `yaml:"drafting"`
	Backends      []BackendConfig    `yaml:"backends"`
	Notifications NotificationConfig `yaml:"notifications"`
	Metrics       MetricsConfig      `yaml:"metrics"`
}

// LoggingConfig selects the slog level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// StateConfig locates the three persisted collections plus run artifacts.
// Driver is "sqlite" (default) or "postgres"; with postgres every DSN may
// point at the same database.
type StateConfig struct {
	Dir              string `yaml:"dir"`
	Driver           string `yaml:"driver"`
	OpportunitiesDSN string `yaml:"opportunitiesDsn"`
	CooldownsDSN     string `yaml:"cooldownsDsn"`
	FeedbackDSN      string `yaml:"feedbackDsn"`
	LockFile         string `yaml:"lockFile"`
	DecisionLog      string `yaml:"decisionLog"`
}

// InboxConfig points at the file-backed signal inbox.
type InboxConfig struct {
	Dir string `yaml:"dir"`
}

// SchedulerConfig defines how often the batch runs in serve mode.
type SchedulerConfig struct {
	Interval time.Duration  `yaml:"interval"`
	Timezone string         `yaml:"timezone"`
	location *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// PipelineConfig bounds a single batch.
type PipelineConfig struct {
	Workers           int           `yaml:"workers"`
	DraftConcurrency  int           `yaml:"draftConcurrency"`
	PendingLimit      int           `yaml:"pendingLimit"`
	BatchTimeout      time.Duration `yaml:"batchTimeout"`
	GenerationTimeout time.Duration `yaml:"generationTimeout"`
	MaxRetries        int           `yaml:"maxRetries"`
	RetryBaseDelay    time.Duration `yaml:"retryBaseDelay"`
	RetryMaxDelay     time.Duration `yaml:"retryMaxDelay"`
}

// ScoringConfig optionally replaces the built-in scoring rule table.
type ScoringConfig struct {
	RulesFile string `yaml:"rulesFile"`
}

// ClassifierConfig maps tiers to fallback-ordered backend names.
type ClassifierConfig struct {
	RulesFile string              `yaml:"rulesFile"`
	Tiers     map[string][]string `yaml:"tiers"`
}

// EscalationConfig holds the hand-tuned thresholds and cooldown windows.
type EscalationConfig struct {
	MinScore            float64                  `yaml:"minScore"`
	ConfidenceThreshold float64                  `yaml:"confidenceThreshold"`
	RoutineCooldown     time.Duration            `yaml:"routineCooldown"`
	DailyCooldown       time.Duration            `yaml:"dailyCooldown"`
	DailySignals        []string                 `yaml:"dailySignals"`
	HumanApproval       []string                 `yaml:"humanApproval"`
	Ignore              []string                 `yaml:"ignore"`
	Cooldowns           map[string]time.Duration `yaml:"cooldowns"`
}

// DraftingConfig shapes generation prompts.
type DraftingConfig struct {
	Persona     string  `yaml:"persona"`
	Temperature float64 `yaml:"temperature"`
	FewShot     int     `yaml:"fewShot"`
}

// BackendConfig describes one generation backend.
type BackendConfig struct {
	Name      string        `yaml:"name"`
	Kind      string        `yaml:"kind"`
	Endpoint  string        `yaml:"endpoint"`
	Model     string        `yaml:"model"`
	APIKey    string        `yaml:"apiKey"`
	APIKeyEnv string        `yaml:"apiKeyEnv"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Local reports whether the backend runs on-device.
func (b BackendConfig) Local() bool {
	return b.Kind == BackendKindLocal
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken      string  `yaml:"botToken"`
	ChatID        string  `yaml:"chatId"`
	RatePerSecond float64 `yaml:"ratePerSecond"`
}

// MetricsConfig enables pushing batch metrics to a Prometheus pushgateway.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgatewayUrl"`
	Job            string `yaml:"job"`
}

var log = logger.New("config")

// Load reads the YAML file named by OPPORTUNITY_PIPELINE_CONFIG (if any) and
// applies environment overrides. An unreadable file falls back to defaults.
func Load() Config {
	cfg, err := LoadPath(os.Getenv(configPathEnv))
	if err != nil {
		log.Printf("%v (falling back to defaults)", err)
		cfg, _ = LoadPath("")
	}
	return cfg
}

// LoadPath decodes the file at path (when set) over the defaults, applies
// environment overrides and only then derives state paths, so STATE_DIR
// relocates every collection the file leaves unset.
func LoadPath(path string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return defaultConfig(), err
		}
	}

	cfg.applyEnvOverrides()
	cfg.finalize()
	return cfg, nil
}

// LoadFile decodes a YAML file on top of the defaults. Environment overrides
// are not applied.
func LoadFile(path string) (Config, error) {
	cfg := defaultConfig()
	if err := decodeFile(path, &cfg); err != nil {
		return defaultConfig(), err
	}

	cfg.finalize()
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	// Decoding onto the defaults keeps every key the file leaves out.
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate reports configuration that would make a batch misbehave.
func (c Config) Validate() error {
	var problems []string

	if c.Pipeline.Workers <= 0 {
		problems = append(problems, "pipeline.workers must be positive")
	}
	if c.Pipeline.DraftConcurrency <= 0 {
		problems = append(problems, "pipeline.draftConcurrency must be positive")
	}
	if c.Pipeline.GenerationTimeout <= 0 {
		problems = append(problems, "pipeline.generationTimeout must be positive")
	}
	if c.Drafting.FewShot < 0 || c.Drafting.FewShot > maxFewShot {
		problems = append(problems, fmt.Sprintf("drafting.fewShot must be within 0..%d", maxFewShot))
	}
	if c.Escalation.ConfidenceThreshold < 0 || c.Escalation.ConfidenceThreshold > 1 {
		problems = append(problems, "escalation.confidenceThreshold must be within 0..1")
	}
	if c.State.Driver != "sqlite" && c.State.Driver != "postgres" {
		problems = append(problems, "state.driver must be sqlite or postgres")
	}

	seen := map[string]bool{}
	for _, b := range c.Backends {
		if b.Name == "" {
			problems = append(problems, "backend without name")
			continue
		}
		if seen[b.Name] {
			problems = append(problems, "duplicate backend "+b.Name)
		}
		seen[b.Name] = true
		if b.Kind != BackendKindOpenAI && b.Kind != BackendKindLocal {
			problems = append(problems, fmt.Sprintf("backend %s: unknown kind %q", b.Name, b.Kind))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(stateDirEnv); v != "" {
		c.State.Dir = v
	}

	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.State.Driver = "postgres"
		c.State.OpportunitiesDSN = v
		c.State.CooldownsDSN = v
		c.State.FeedbackDSN = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}

	if v := os.Getenv(pushgatewayEnv); v != "" {
		c.Metrics.PushgatewayURL = v
	}

	for i := range c.Backends {
		b := &c.Backends[i]
		if b.APIKeyEnv != "" {
			if v := os.Getenv(b.APIKeyEnv); v != "" {
				b.APIKey = v
			}
		}
		if b.Kind == BackendKindOpenAI && b.APIKey == "" {
			b.APIKey = os.Getenv(openAIAPIKeyEnv)
		}
	}
}

// finalize resolves derived paths and the timezone.
func (c *Config) finalize() {
	if c.State.Dir == "" {
		c.State.Dir = "state"
	}
	if c.State.Driver == "" {
		c.State.Driver = "sqlite"
	}
	if c.State.OpportunitiesDSN == "" {
		c.State.OpportunitiesDSN = filepath.Join(c.State.Dir, "opportunities.db")
	}
	if c.State.CooldownsDSN == "" {
		c.State.CooldownsDSN = filepath.Join(c.State.Dir, "cooldowns.db")
	}
	if c.State.FeedbackDSN == "" {
		c.State.FeedbackDSN = filepath.Join(c.State.Dir, "feedback.db")
	}
	if c.State.LockFile == "" {
		c.State.LockFile = filepath.Join(c.State.Dir, "pipeline.lock")
	}
	if c.State.DecisionLog == "" {
		c.State.DecisionLog = filepath.Join(c.State.Dir, "decisions.jsonl")
	}
	if c.Inbox.Dir == "" {
		c.Inbox.Dir = filepath.Join(c.State.Dir, "inbox")
	}

	c.bindTimezone()
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

// Default returns the built-in configuration with derived paths resolved.
func Default() Config {
	cfg := defaultConfig()
	cfg.finalize()
	return cfg
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging:   LoggingConfig{Level: "info"},
		State:     StateConfig{Dir: "state", Driver: "sqlite"},
		Scheduler: SchedulerConfig{Interval: time.Hour, Timezone: defaultTimezone, location: tz},
		Pipeline: PipelineConfig{
			Workers:           4,
			DraftConcurrency:  4,
			PendingLimit:      20,
			BatchTimeout:      15 * time.Minute,
			GenerationTimeout: 90 * time.Second,
			MaxRetries:        2,
			RetryBaseDelay:    2 * time.Second,
			RetryMaxDelay:     30 * time.Second,
		},
		Classifier: ClassifierConfig{
			Tiers: map[string][]string{
				"quick":    {"local", "cloud-mini"},
				"deep":     {"local", "cloud-mini", "cloud"},
				"enforcer": {"cloud", "cloud-mini"},
			},
		},
		Escalation: EscalationConfig{
			MinScore:            20,
			ConfidenceThreshold: 0.6,
			RoutineCooldown:     time.Hour,
			DailyCooldown:       24 * time.Hour,
			DailySignals:        []string{"daily_digest"},
			HumanApproval:       []string{"lead", "engagement"},
		},
		Drafting: DraftingConfig{
			Persona:     "You are a freelance software engineer replying to potential clients. Be concise, concrete and friendly.",
			Temperature: 0.7,
			FewShot:     3,
		},
		Backends: []BackendConfig{
			{Name: "local", Kind: BackendKindLocal, Endpoint: "http://127.0.0.1:11434", Model: "llama3.2:3b"},
			{Name: "cloud-mini", Kind: BackendKindOpenAI, Endpoint: "https://api.openai.com/v1/chat/completions", Model: "gpt-4o-mini"},
			{Name: "cloud", Kind: BackendKindOpenAI, Endpoint: "https://api.openai.com/v1/chat/completions", Model: "gpt-4o"},
		},
		Notifications: NotificationConfig{
			Telegram: TelegramConfig{RatePerSecond: 1},
		},
		Metrics: MetricsConfig{Job: "opportunity_pipeline"},
	}
}
