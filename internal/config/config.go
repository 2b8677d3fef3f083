// Package config loads the engine's layered configuration: hardcoded
// defaults, then an optional user config file, then a per-instance config
// file, then environment variable overrides. Validation runs once after
// all layers merge; invalid configuration is fatal at open.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vretrieve/engine/internal/domain"
)

// ConfigFileName is the per-instance config file looked up next to root_dir.
const ConfigFileName = ".vretrieve.yaml"

// EnvPrefix namespaces every environment override.
const EnvPrefix = "VRETRIEVE_"

// Config is the engine's full configuration tree.
type Config struct {
	// RootDir is where all persisted state lives (routing.db, hot/, cold/,
	// bm25/).
	RootDir string `yaml:"root_dir"`

	// Dimension must equal the embedder's dimension; checked at open.
	Dimension int `yaml:"dimension"`

	// EnableGenerationalIndex toggles the Cold tier; when false only Hot
	// exists and archiving is disabled.
	EnableGenerationalIndex bool `yaml:"enable_generational_index"`

	Hot     HotConfig     `yaml:"hot"`
	Cold    ColdConfig    `yaml:"cold"`
	Archive ArchiveConfig `yaml:"archive"`
	Search  SearchConfig  `yaml:"search"`
	BM25    BM25Config    `yaml:"bm25"`
	Rerank  RerankConfig  `yaml:"rerank"`
	Select  SelectConfig  `yaml:"selector"`
	Embed   EmbedConfig   `yaml:"embeddings"`
}

// HotConfig parameterizes the write-absorbing tier.
type HotConfig struct {
	MaxSize   int    `yaml:"max_size"`
	IndexType string `yaml:"index_type"`
}

// ColdConfig parameterizes the archive tier.
type ColdConfig struct {
	IndexType string `yaml:"index_type"`
	// RebuildDeletionRate and RebuildMinSoftDeleted together form the
	// automatic rebuild trigger: both must be exceeded.
	RebuildDeletionRate   float64 `yaml:"rebuild_deletion_rate"`
	RebuildMinSoftDeleted int     `yaml:"rebuild_min_soft_deleted"`
}

// ArchiveConfig controls the Hot -> Cold migration of aged chunks.
type ArchiveConfig struct {
	AgeDays   int    `yaml:"age_days"`
	Schedule  string `yaml:"schedule"` // cron expression
	BatchSize int    `yaml:"batch_size"`
	// RunBudgetMinutes bounds a single archive run; remaining docs are
	// picked up next run.
	RunBudgetMinutes int `yaml:"run_budget_minutes"`
}

// SearchConfig holds fusion weights and oversampling factors.
type SearchConfig struct {
	WHot           float64 `yaml:"w_hot"`
	WCold          float64 `yaml:"w_cold"`
	WBM25          float64 `yaml:"w_bm25"`
	HotOversample  float64 `yaml:"hot_oversample"`
	ColdOversample float64 `yaml:"cold_oversample"`
	// OversampleRerank/OversamplePlain scale k before fan-out depending
	// on whether reranking will shrink the pool afterward.
	OversampleRerank float64 `yaml:"oversample_rerank"`
	OversamplePlain  float64 `yaml:"oversample_plain"`
	RRFConstant      int     `yaml:"rrf_constant"`
	TimeoutSeconds   int     `yaml:"timeout_seconds"`
}

// BM25Config controls the keyword index.
type BM25Config struct {
	Enabled bool    `yaml:"enabled"`
	K1      float64 `yaml:"k1"`
	B       float64 `yaml:"b"`
	// PersistIntervalSeconds is accepted but not read: the BM25 index
	// persists each batch as it is written, not on an interval.
	PersistIntervalSeconds int `yaml:"persist_interval_seconds"`
}

// RerankConfig controls cross-encoder rescoring.
type RerankConfig struct {
	Enabled  bool   `yaml:"enabled"`
	PoolSize int    `yaml:"pool_size"`
	Endpoint string `yaml:"endpoint"`
}

// SelectConfig controls adaptive backend selection.
type SelectConfig struct {
	AutoSelect      bool `yaml:"auto_select"`
	MemoryBudgetMB  int  `yaml:"memory_budget_mb"`
	TargetLatencyMS int  `yaml:"target_latency_ms"`
	// ForceRebuildOnOpen rebuilds a tier to the selector's current choice
	// at open when the persisted backend disagrees; when false the saved
	// structure is kept and only an advisory is recorded.
	ForceRebuildOnOpen bool `yaml:"force_rebuild_on_open"`
}

// EmbedConfig configures the embedding collaborator.
type EmbedConfig struct {
	Provider  string `yaml:"provider"` // "http" or "hash"
	Endpoint  string `yaml:"endpoint"`
	Model     string `yaml:"model"`
	CacheSize int    `yaml:"cache_size"`
}

// NewConfig returns the hardcoded defaults, the bottom layer of the stack.
func NewConfig() *Config {
	return &Config{
		RootDir:                 ".vretrieve",
		Dimension:               1536,
		EnableGenerationalIndex: true,
		Hot: HotConfig{
			MaxSize:   1_000_000,
			IndexType: string(domain.BackendFlat),
		},
		Cold: ColdConfig{
			IndexType:             string(domain.BackendFlat),
			RebuildDeletionRate:   0.3,
			RebuildMinSoftDeleted: 1000,
		},
		Archive: ArchiveConfig{
			AgeDays:          30,
			Schedule:         "0 2 * * *",
			BatchSize:        1000,
			RunBudgetMinutes: 30,
		},
		Search: SearchConfig{
			WHot:             0.7,
			WCold:            0.3,
			WBM25:            0.3,
			HotOversample:    0.7,
			ColdOversample:   0.5,
			OversampleRerank: 3.0,
			OversamplePlain:  1.5,
			RRFConstant:      60,
			TimeoutSeconds:   30,
		},
		BM25: BM25Config{
			Enabled:                true,
			K1:                     1.2,
			B:                      0.75,
			PersistIntervalSeconds: 30,
		},
		Rerank: RerankConfig{
			Enabled:  false,
			PoolSize: 20,
		},
		Select: SelectConfig{
			AutoSelect:      true,
			MemoryBudgetMB:  2048,
			TargetLatencyMS: 100,
		},
		Embed: EmbedConfig{
			Provider:  "http",
			CacheSize: 1000,
		},
	}
}

// GetUserConfigPath returns the XDG-aware user config location.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "vretrieve", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "vretrieve", "config.yaml")
}

// Load builds the effective config for dir: defaults, then the user config
// file, then dir's instance config, then env overrides, then validation.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); userPath != "" {
		if _, err := os.Stat(userPath); err == nil {
			if err := cfg.loadYAML(userPath); err != nil {
				return nil, fmt.Errorf("load user config: %w", err)
			}
		}
	}

	instancePath := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(instancePath); err == nil {
		if err := cfg.loadYAML(instancePath); err != nil {
			return nil, fmt.Errorf("load instance config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides maps VRETRIEVE_* variables onto their fields. Only the
// knobs operators actually flip at deploy time get an override.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvPrefix + "ROOT_DIR"); v != "" {
		c.RootDir = v
	}
	if v := os.Getenv(EnvPrefix + "DIMENSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Dimension = n
		}
	}
	if v := os.Getenv(EnvPrefix + "GENERATIONAL"); v != "" {
		c.EnableGenerationalIndex = parseBool(v, c.EnableGenerationalIndex)
	}
	if v := os.Getenv(EnvPrefix + "HOT_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Hot.MaxSize = n
		}
	}
	if v := os.Getenv(EnvPrefix + "HOT_INDEX_TYPE"); v != "" {
		c.Hot.IndexType = v
	}
	if v := os.Getenv(EnvPrefix + "COLD_INDEX_TYPE"); v != "" {
		c.Cold.IndexType = v
	}
	if v := os.Getenv(EnvPrefix + "ARCHIVE_AGE_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Archive.AgeDays = n
		}
	}
	if v := os.Getenv(EnvPrefix + "ARCHIVE_SCHEDULE"); v != "" {
		c.Archive.Schedule = v
	}
	if v := os.Getenv(EnvPrefix + "BM25_ENABLED"); v != "" {
		c.BM25.Enabled = parseBool(v, c.BM25.Enabled)
	}
	if v := os.Getenv(EnvPrefix + "RERANK_ENABLED"); v != "" {
		c.Rerank.Enabled = parseBool(v, c.Rerank.Enabled)
	}
	if v := os.Getenv(EnvPrefix + "RERANK_ENDPOINT"); v != "" {
		c.Rerank.Endpoint = v
	}
	if v := os.Getenv(EnvPrefix + "EMBED_PROVIDER"); v != "" {
		c.Embed.Provider = v
	}
	if v := os.Getenv(EnvPrefix + "EMBED_ENDPOINT"); v != "" {
		c.Embed.Endpoint = v
	}
	if v := os.Getenv(EnvPrefix + "MEMORY_BUDGET_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Select.MemoryBudgetMB = n
		}
	}
}

func parseBool(s string, fallback bool) bool {
	b, err := strconv.ParseBool(strings.ToLower(s))
	if err != nil {
		return fallback
	}
	return b
}

func validBackend(s string) bool {
	switch domain.BackendType(s) {
	case domain.BackendFlat, domain.BackendIVF, domain.BackendIVFPQ, domain.BackendHNSW:
		return true
	}
	return false
}

// Validate enforces the constraints that are fatal at open.
func (c *Config) Validate() error {
	if c.RootDir == "" {
		return domain.NewError(domain.KindConfigError, "root_dir must be set")
	}
	if c.Dimension <= 0 {
		return domain.NewError(domain.KindConfigError, fmt.Sprintf("dimension must be positive, got %d", c.Dimension))
	}
	if !validBackend(c.Hot.IndexType) {
		return domain.NewError(domain.KindConfigError, fmt.Sprintf("unknown hot index_type %q", c.Hot.IndexType))
	}
	if !validBackend(c.Cold.IndexType) {
		return domain.NewError(domain.KindConfigError, fmt.Sprintf("unknown cold index_type %q", c.Cold.IndexType))
	}
	if c.Search.WHot < 0 || c.Search.WCold < 0 || c.Search.WBM25 < 0 {
		return domain.NewError(domain.KindConfigError, "fusion weights must be non-negative")
	}
	if c.Search.RRFConstant <= 0 {
		return domain.NewError(domain.KindConfigError, fmt.Sprintf("rrf_constant must be positive, got %d", c.Search.RRFConstant))
	}
	if c.Hot.MaxSize <= 0 {
		return domain.NewError(domain.KindConfigError, fmt.Sprintf("hot max_size must be positive, got %d", c.Hot.MaxSize))
	}
	if c.Archive.AgeDays < 0 {
		return domain.NewError(domain.KindConfigError, fmt.Sprintf("archive age_days must not be negative, got %d", c.Archive.AgeDays))
	}
	if c.Archive.BatchSize <= 0 {
		return domain.NewError(domain.KindConfigError, fmt.Sprintf("archive batch_size must be positive, got %d", c.Archive.BatchSize))
	}
	if c.BM25.K1 <= 0 || c.BM25.B < 0 || c.BM25.B > 1 {
		return domain.NewError(domain.KindConfigError, fmt.Sprintf("bm25 parameters out of range: k1=%v b=%v", c.BM25.K1, c.BM25.B))
	}
	// The embedded keyword engine pins its scoring parameters at the
	// standard k1=1.2, b=0.75; accepting other values would silently have
	// no effect, so they are rejected up front.
	if c.BM25.Enabled && (c.BM25.K1 != 1.2 || c.BM25.B != 0.75) {
		return domain.NewError(domain.KindConfigError,
			fmt.Sprintf("bm25 scoring is fixed at k1=1.2 b=0.75 by the keyword engine; got k1=%v b=%v", c.BM25.K1, c.BM25.B))
	}
	if c.Rerank.PoolSize <= 0 {
		return domain.NewError(domain.KindConfigError, fmt.Sprintf("rerank pool_size must be positive, got %d", c.Rerank.PoolSize))
	}
	if c.Cold.RebuildDeletionRate <= 0 || c.Cold.RebuildDeletionRate > 1 {
		return domain.NewError(domain.KindConfigError, fmt.Sprintf("cold rebuild_deletion_rate must be in (0,1], got %v", c.Cold.RebuildDeletionRate))
	}
	return nil
}

// WriteYAML writes the config to path, used by `vretrieve config --init`.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
