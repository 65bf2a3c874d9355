package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every knob of the HITL support orchestrator, per spec
// §6.7. It supports three-layer priority, lowest to highest:
//  1. Defaults (DefaultConfig)
//  2. A YAML file (LoadConfig)
//  3. Environment variable overrides (LoadFromEnv), for the handful of
//     settings an operator typically needs to flip without editing the
//     file (log level, Redis URL, listen address).
//
// ConfigStore.Current() returns the most recently loaded *Config. The
// pipeline stages and routing.Scorer are built from the Config read at
// startup and keep copies of its thresholds and weights, so a reload
// does not change the tables a running Scorer uses.
type Config struct {
	Name    string `yaml:"name" env:"HITL_NAME"`
	Address string `yaml:"address" env:"HITL_ADDRESS"`
	Port    int    `yaml:"port" env:"HITL_PORT"`

	Thresholds  ThresholdsConfig  `yaml:"thresholds"`
	Weights     WeightsConfig     `yaml:"weights"`
	Quality     QualityConfig     `yaml:"quality"`
	Lexicon     LexiconConfig     `yaml:"lexicon"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Collaborator CollaboratorConfig `yaml:"collaborator"`

	Directory  BackendConfig `yaml:"directory"`
	Queue      BackendConfig `yaml:"queue"`
	ContextStore BackendConfig `yaml:"context_store"`

	Resilience ResilienceConfig `yaml:"resilience"`
	Logging    LoggingConfig    `yaml:"logging"`
	Development DevelopmentConfig `yaml:"development"`

	logger Logger `yaml:"-"`
}

// ThresholdsConfig is the recognized threshold set of spec §6.7.
type ThresholdsConfig struct {
	TAdequate     float64       `yaml:"t_adequate" default:"7.0"`
	TAdjust       float64       `yaml:"t_adjust" default:"5.0"`
	NAdjust       int           `yaml:"n_adjust" default:"2"`
	TRel          float64       `yaml:"t_rel" default:"0.3"`
	LS            int           `yaml:"l_s" default:"3"`
	LTotal        int           `yaml:"l_total" default:"6"`
	CooldownHours float64       `yaml:"cooldown_hours" default:"2"`
	MaxConsecutive int          `yaml:"max_consecutive" default:"3"`
	TStressBreak  float64       `yaml:"t_stress_break" default:"0.7"`
	TBreakMin     time.Duration `yaml:"t_break_min" default:"10m"`
	QOverflow     int           `yaml:"q_overflow" default:"400"`
	RReselect     int           `yaml:"r_reselect" default:"3"`
	PStress       time.Duration `yaml:"p_stress" default:"60s"`
	WWindow       time.Duration `yaml:"w_window" default:"1h"`
}

// WeightsConfig holds the five-category weight table per priority
// (spec §4.6.2): skill_match, availability, performance_history,
// wellbeing, customer_factors, one table per priority level.
type WeightsConfig struct {
	Low      CategoryWeights `yaml:"low"`
	Medium   CategoryWeights `yaml:"medium"`
	High     CategoryWeights `yaml:"high"`
	Critical CategoryWeights `yaml:"critical"`
	// Variants holds named alternative weight tables used by the
	// WeightTableResolver A/B experiment seam (keyed by request_id
	// hash). Empty in the default configuration.
	Variants map[string]PriorityWeights `yaml:"variants,omitempty"`
}

// PriorityWeights is a full per-priority weight table, used for named
// experiment variants.
type PriorityWeights struct {
	Low      CategoryWeights `yaml:"low"`
	Medium   CategoryWeights `yaml:"medium"`
	High     CategoryWeights `yaml:"high"`
	Critical CategoryWeights `yaml:"critical"`
}

// CategoryWeights must sum to 1.0; Validate enforces this.
type CategoryWeights struct {
	SkillMatch         float64 `yaml:"skill_match"`
	Availability       float64 `yaml:"availability"`
	PerformanceHistory float64 `yaml:"performance_history"`
	Wellbeing          float64 `yaml:"wellbeing"`
	CustomerFactors    float64 `yaml:"customer_factors"`
}

func (w CategoryWeights) sum() float64 {
	return w.SkillMatch + w.Availability + w.PerformanceHistory + w.Wellbeing + w.CustomerFactors
}

// QualityConfig holds the per-dimension weights QualityGate uses to
// compute its composite score from the five rubric dimensions.
type QualityConfig struct {
	AccuracyWeight     float64 `yaml:"accuracy_weight" default:"0.3"`
	CompletenessWeight float64 `yaml:"completeness_weight" default:"0.2"`
	ClarityWeight      float64 `yaml:"clarity_weight" default:"0.2"`
	ServiceWeight      float64 `yaml:"service_weight" default:"0.15"`
	ContextualWeight   float64 `yaml:"contextual_weight" default:"0.15"`
}

func (q QualityConfig) sum() float64 {
	return q.AccuracyWeight + q.CompletenessWeight + q.ClarityWeight + q.ServiceWeight + q.ContextualWeight
}

// LexiconConfig carries the frustration lexicon as data, per the
// DESIGN NOTES guidance that keyword lists must not be hard-coded.
type LexiconConfig struct {
	HighIntensityPhrases []string           `yaml:"high_intensity_phrases"`
	EscalationPhrases    []string           `yaml:"escalation_phrases"`
	CapsRatioThreshold   float64            `yaml:"caps_ratio_threshold" default:"0.5"`
	PunctuationWeight    float64            `yaml:"punctuation_weight" default:"0.1"`
	CategoryWeights      map[string]float64 `yaml:"category_weights"`
}

// CatalogTask is one entry of the Automation task catalog (spec §4.1):
// {task_id, category, trigger_keywords[], required_fields[],
// success_rate, mean_time, response_template, escalation_reason?}.
type CatalogTask struct {
	ID               string        `yaml:"id"`
	Category         string        `yaml:"category"`
	TriggerKeywords  []string      `yaml:"trigger_keywords"`
	RequiredFields   []string      `yaml:"required_fields"`
	SuccessRate      float64       `yaml:"success_rate"`
	MeanTime         time.Duration `yaml:"mean_time"`
	ResponseTemplate string        `yaml:"response_template"`
	EscalationReason string        `yaml:"escalation_reason,omitempty"`
}

// CatalogConfig is the Automation task catalog of spec §4.1.
type CatalogConfig struct {
	Tasks []CatalogTask `yaml:"tasks"`
}

// CollaboratorConfig holds rate-limit and retry parameters for
// external collaborators (LLM, context store), per spec §6.7 and the
// deadlines in spec §5.
type CollaboratorConfig struct {
	MaxConcurrent    int           `yaml:"max_concurrent" default:"16"`
	RateLimitPerSec  float64       `yaml:"rate_limit_per_sec" default:"20"`
	MaxRetries       int           `yaml:"max_retries" default:"3"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay" default:"200ms"`
	RetryMaxDelay    time.Duration `yaml:"retry_max_delay" default:"5s"`
	SingleCallDeadline time.Duration `yaml:"single_call_deadline" default:"20s"`
	MaxTokens        int           `yaml:"max_tokens" default:"1024"`
	Model            string        `yaml:"model" default:"anthropic.claude-3-haiku-20240307-v1:0"`
	Region           string        `yaml:"region" env:"HITL_AWS_REGION" default:"us-east-1"`
}

// BackendConfig selects and configures a pluggable store (directory,
// queue, context store): "memory" is the default, simplest deployment;
// "redis" is the production alternative, mirroring the teacher's
// "memory in testing, Redis in production" pattern.
type BackendConfig struct {
	Backend  string `yaml:"backend" default:"memory"` // "memory" | "redis"
	RedisURL string `yaml:"redis_url" env:"HITL_REDIS_URL"`
}

// ResilienceConfig configures the circuit breaker wrapping collaborator calls.
type ResilienceConfig struct {
	Enabled          bool          `yaml:"enabled" default:"true"`
	Threshold        int           `yaml:"threshold" default:"5"`
	Timeout          time.Duration `yaml:"timeout" default:"30s"`
	HalfOpenRequests int           `yaml:"half_open_requests" default:"3"`
}

// LoggingConfig controls ProductionLogger's output.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"HITL_LOG_LEVEL" default:"info"`
	Format string `yaml:"format" env:"HITL_LOG_FORMAT" default:"json"`
	Output string `yaml:"output" env:"HITL_LOG_OUTPUT" default:"stdout"`
}

// DevelopmentConfig holds settings meant only for local iteration.
type DevelopmentConfig struct {
	DebugLogging bool `yaml:"debug_logging" env:"HITL_DEBUG"`
}

// DefaultConfig returns a Config populated with the default values
// named in each field's `default` tag above, expressed directly since
// Go has no reflection-free way to read struct tags without the
// reflect package, and this config is small enough that doing so by
// hand keeps the defaults readable in one place.
func DefaultConfig() *Config {
	return &Config{
		Port: 8080,
		Thresholds: ThresholdsConfig{
			TAdequate: 7.0, TAdjust: 5.0, NAdjust: 2, TRel: 0.3,
			LS: 3, LTotal: 6, CooldownHours: 2, MaxConsecutive: 3,
			TStressBreak: 0.7, TBreakMin: 10 * time.Minute,
			QOverflow: 400, RReselect: 3,
			PStress: 60 * time.Second, WWindow: time.Hour,
		},
		Weights: WeightsConfig{
			Low:      CategoryWeights{0.25, 0.35, 0.15, 0.20, 0.05},
			Medium:   CategoryWeights{0.35, 0.25, 0.20, 0.15, 0.05},
			High:     CategoryWeights{0.40, 0.23, 0.22, 0.10, 0.05},
			Critical: CategoryWeights{0.45, 0.20, 0.25, 0.05, 0.05},
		},
		Quality: QualityConfig{
			AccuracyWeight: 0.3, CompletenessWeight: 0.2, ClarityWeight: 0.2,
			ServiceWeight: 0.15, ContextualWeight: 0.15,
		},
		Lexicon: LexiconConfig{
			CapsRatioThreshold: 0.5,
			PunctuationWeight:  0.1,
		},
		Collaborator: CollaboratorConfig{
			MaxConcurrent: 16, RateLimitPerSec: 20, MaxRetries: 3,
			RetryBaseDelay: 200 * time.Millisecond, RetryMaxDelay: 5 * time.Second,
			SingleCallDeadline: 20 * time.Second, MaxTokens: 1024,
			Model: "anthropic.claude-3-haiku-20240307-v1:0", Region: "us-east-1",
		},
		Directory:    BackendConfig{Backend: "memory"},
		Queue:        BackendConfig{Backend: "memory"},
		ContextStore: BackendConfig{Backend: "memory"},
		Resilience: ResilienceConfig{
			Enabled: true, Threshold: 5, Timeout: 30 * time.Second, HalfOpenRequests: 3,
		},
		Logging:     LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Development: DevelopmentConfig{},
	}
}

// ConfigOption mutates a Config at construction time, applied after
// defaults and the YAML file but before env vars — mirroring the
// teacher's three-layer priority, just with functional options used
// for test injection rather than as the highest-priority layer.
type ConfigOption func(*Config) error

// WithLogger attaches a logger to the Config for load-time diagnostics.
func WithLogger(logger Logger) ConfigOption {
	return func(c *Config) error {
		c.logger = logger
		return nil
	}
}

// LoadConfig reads path as YAML over DefaultConfig(), applies opts,
// then overlays environment variables, and finally validates.
func LoadConfig(path string, opts ...ConfigOption) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, ErrMissingConfiguration)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, ErrInvalidConfiguration)
		}
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("applying config option: %w", err)
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if cfg.logger == nil {
		logger := NewProductionLogger(cfg.Logging, cfg.Development, cfg.Name)
		if prodLogger, ok := logger.(*ProductionLogger); ok {
			trackLogger(prodLogger)
		}
		cfg.logger = logger
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv overlays the small set of settings an operator typically
// needs to flip without redeploying the config file.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("HITL_NAME"); v != "" {
		c.Name = v
	}
	if v := os.Getenv("HITL_ADDRESS"); v != "" {
		c.Address = v
	}
	if v := os.Getenv("HITL_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid HITL_PORT %q: %w", v, ErrInvalidConfiguration)
		}
		c.Port = p
	}
	if v := os.Getenv("HITL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("HITL_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("HITL_LOG_OUTPUT"); v != "" {
		c.Logging.Output = v
	}
	if v := os.Getenv("HITL_DEBUG"); v != "" {
		c.Development.DebugLogging = parseBool(v)
	}
	if v := os.Getenv("HITL_REDIS_URL"); v != "" {
		if c.Directory.Backend == "redis" {
			c.Directory.RedisURL = v
		}
		if c.Queue.Backend == "redis" {
			c.Queue.RedisURL = v
		}
		if c.ContextStore.Backend == "redis" {
			c.ContextStore.RedisURL = v
		}
	}
	if v := os.Getenv("HITL_AWS_REGION"); v != "" {
		c.Collaborator.Region = v
	}
	return nil
}

// Validate enforces the boundary behaviors of spec §8: category
// weights that don't sum to 1.0 fail validation (exit code 2 at the
// CLI layer), as do a handful of structural invariants.
func (c *Config) Validate() error {
	var problems []string

	checkWeights := func(name string, w CategoryWeights) {
		if diff := w.sum() - 1.0; diff > 1e-6 || diff < -1e-6 {
			problems = append(problems, fmt.Sprintf("weights.%s sums to %.4f, want 1.0", name, w.sum()))
		}
	}
	checkWeights("low", c.Weights.Low)
	checkWeights("medium", c.Weights.Medium)
	checkWeights("high", c.Weights.High)
	checkWeights("critical", c.Weights.Critical)
	for name, variant := range c.Weights.Variants {
		checkWeights(name+".low", variant.Low)
		checkWeights(name+".medium", variant.Medium)
		checkWeights(name+".high", variant.High)
		checkWeights(name+".critical", variant.Critical)
	}

	if diff := c.Quality.sum() - 1.0; diff > 1e-6 || diff < -1e-6 {
		problems = append(problems, fmt.Sprintf("quality dimension weights sum to %.4f, want 1.0", c.Quality.sum()))
	}

	if c.Thresholds.TAdjust > c.Thresholds.TAdequate {
		problems = append(problems, "thresholds.t_adjust must be <= thresholds.t_adequate")
	}
	if c.Thresholds.QOverflow <= 0 {
		problems = append(problems, "thresholds.q_overflow must be positive")
	}
	for _, backend := range []struct {
		name string
		cfg  BackendConfig
	}{{"directory", c.Directory}, {"queue", c.Queue}, {"context_store", c.ContextStore}} {
		if backend.cfg.Backend != "memory" && backend.cfg.Backend != "redis" {
			problems = append(problems, fmt.Sprintf("%s.backend must be \"memory\" or \"redis\", got %q", backend.name, backend.cfg.Backend))
		}
		if backend.cfg.Backend == "redis" && backend.cfg.RedisURL == "" {
			problems = append(problems, fmt.Sprintf("%s.redis_url is required when backend is \"redis\"", backend.name))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}
