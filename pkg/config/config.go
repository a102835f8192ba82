// Package config loads the pipeline's configuration struct from YAML with
// strict key checking: an unrecognized option is a load-time error, not a
// silently ignored one. Secrets (LLM API keys) are read from the
// environment via godotenv, never embedded in the YAML file.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Root is one investor folder to watch, tagged with the investor_code the
// Resolver trusts over names extracted from document text.
type Root struct {
	Path         string `yaml:"path"`
	InvestorCode string `yaml:"investor_code"`
}

// Tolerances bundles every numeric allowance used by ExtractorChain
// validation and ReconciliationEngine comparisons.
type Tolerances struct {
	NAVPct          float64 `yaml:"nav_pct"`
	NAVAbs          float64 `yaml:"nav_abs"`
	CommitmentPct   float64 `yaml:"commitment_pct"`
	CommitmentAbs   float64 `yaml:"commitment_abs"`
	IRRPP           float64 `yaml:"irr_pp"`
	MultipleAbs     float64 `yaml:"multiple_abs"`
	TVPIIdentity    float64 `yaml:"tvpi_identity"`
	BalancePct      float64 `yaml:"balance_pct"`
	BalanceAbs      float64 `yaml:"balance_abs"`
	FeeRatePctLimit float64 `yaml:"fee_rate_pct_limit"`
}

// LLM configures the LLMClient capability's concurrency and deadlines.
type LLM struct {
	Concurrency     int           `yaml:"concurrency"`
	RatePerMinute   int           `yaml:"rate_per_minute"`
	ClassifyTimeout time.Duration `yaml:"classify_timeout"`
	ExtractTimeout  time.Duration `yaml:"extract_timeout"`
	Model           string        `yaml:"model"`
}

// Config is the complete set of options the pipeline recognizes. Unknown
// YAML keys fail Load rather than being silently dropped.
type Config struct {
	Roots                   []Root        `yaml:"roots"`
	SupportedExtensions     []string      `yaml:"supported_extensions"`
	MaxFileSizeMB           int           `yaml:"max_file_size_mb"`
	DebounceSeconds         int           `yaml:"debounce_seconds"`
	MaxAttempts             int           `yaml:"max_attempts"`
	WorkQueueCapacity       int           `yaml:"work_queue_capacity"`
	ParserWorkers           int           `yaml:"parser_workers"`
	ExtractorWorkers        int           `yaml:"extractor_workers"`
	IndexerWorkers          int           `yaml:"indexer_workers"`
	ReconciliationWorkers   int           `yaml:"reconciliation_workers"`
	Tolerances              Tolerances    `yaml:"tolerances"`
	ReportingCurrency       string        `yaml:"reporting_currency"`
	RescanCron              string        `yaml:"rescan_cron"`
	LLM                     LLM           `yaml:"llm"`
	ClassificationMinConf   float64       `yaml:"classification_min_confidence"`
	ParserDeadline          time.Duration `yaml:"parser_deadline"`
	PersistDeadline         time.Duration `yaml:"persist_deadline"`
	IndexerDeadline         time.Duration `yaml:"indexer_deadline"`
	DatabaseURL             string        `yaml:"-"` // always from env, never YAML
	GeminiAPIKey            string        `yaml:"-"`
}

// Default returns a Config with every documented default applied, to be
// overlaid by Load.
func Default() Config {
	return Config{
		SupportedExtensions:   []string{".pdf", ".xlsx", ".xls", ".csv"},
		MaxFileSizeMB:         100,
		DebounceSeconds:       5,
		MaxAttempts:           3,
		WorkQueueCapacity:     1024,
		ParserWorkers:         4,
		ExtractorWorkers:      4,
		IndexerWorkers:        4,
		ReconciliationWorkers: 2,
		Tolerances: Tolerances{
			NAVPct:          0.001,
			NAVAbs:          100,
			CommitmentPct:   0.001,
			CommitmentAbs:   1,
			IRRPP:           0.001,
			MultipleAbs:     0.01,
			TVPIIdentity:    0.001,
			BalancePct:      0.005,
			BalanceAbs:      100,
			FeeRatePctLimit: 0.025,
		},
		ReportingCurrency:    "USD",
		RescanCron:           "0 */6 * * *",
		ClassificationMinConf: 0.3,
		LLM: LLM{
			Concurrency:     8,
			RatePerMinute:   60,
			ClassifyTimeout: 45 * time.Second,
			ExtractTimeout:  45 * time.Second,
			Model:           "gemini-2.0-flash",
		},
		ParserDeadline:  60 * time.Second,
		PersistDeadline: 30 * time.Second,
		IndexerDeadline: 30 * time.Second,
	}
}

// Load reads and strictly decodes a YAML config file, overlaying it onto
// Default(), then loads .env (if present) for secrets. An unrecognized
// YAML key returns an error instead of being ignored.
func Load(path, envPath string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.SetStrict(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("config: loading env file %s: %w", envPath, err)
		}
	}
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants Load cannot express through YAML
// tags alone.
func (c Config) Validate() error {
	if len(c.Roots) == 0 {
		return fmt.Errorf("config: at least one root is required")
	}
	for _, r := range c.Roots {
		if r.Path == "" || r.InvestorCode == "" {
			return fmt.Errorf("config: root %+v missing path or investor_code", r)
		}
	}
	if c.MaxFileSizeMB <= 0 {
		return fmt.Errorf("config: max_file_size_mb must be positive")
	}
	if c.WorkQueueCapacity <= 0 {
		return fmt.Errorf("config: work_queue_capacity must be positive")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is not set")
	}
	return nil
}
