package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

const envPrefix = "NG_"

type (
	Config struct {
		TelegramAPIToken string   `env:"TOKEN,required"`
		DefaultLanguage  string   `env:"LANG,default=en"`
		EnabledHandlers  []string `env:"HANDLERS,default=admin,reactor"`
		LogLevel         int      `env:"LOG_LEVEL,default=2"`
		DotPath          string   `env:"DOT_PATH,default=~/.ngguard"`
		EnvFile          string   `env:"ENV_FILE"`
		MetricsAddr      string   `env:"METRICS_ADDR,default=:2112"`
		Workers          int      `env:"WORKERS,default=8"`
		Moderation       Moderation
		Scoring          Scoring
		Reputation       Reputation
	}

	Moderation struct {
		SuperAdmins     []int64 `env:"SUPER_ADMINS"`
		ProtectedIDs    []int64 `env:"PROTECTED_IDS"`
		WordsPerPage    int     `env:"WORDS_PER_PAGE,default=5"`
		MaxPromptLength int     `env:"SPAM_MAX_PROMPT_LENGTH,default=1000"`
		PendingBanAfter int     `env:"SPAM_PENDING_BAN_AFTER,default=3"`
		ReportChatID    int64   `env:"REPORT_CHAT_ID"`
	}

	Scoring struct {
		Threshold        float64 `env:"SPAM_THRESHOLD,default=3"`
		MatchWeight      float64 `env:"SPAM_MATCH_WEIGHT,default=1"`
		ScriptWeight     float64 `env:"SPAM_SCRIPT_WEIGHT,default=2"`
		StructuralWeight float64 `env:"SPAM_STRUCTURAL_WEIGHT,default=5"`
	}

	Reputation struct {
		BaseURL       string        `env:"REPUTATION_URL,default=https://funstat.org/api/v1"`
		Token         string        `env:"REPUTATION_TOKEN"`
		Timeout       time.Duration `env:"REPUTATION_TIMEOUT,default=10s"`
		RetryMax      int           `env:"REPUTATION_RETRY_MAX,default=2"`
		MinAccountAge time.Duration `env:"REPUTATION_MIN_AGE,default=1440h"`
		VerifiedTTL   time.Duration `env:"REPUTATION_VERIFIED_TTL,default=0s"`
		CacheSize     int           `env:"REPUTATION_CACHE_SIZE,default=10000"`
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

func Load() (Config, error) {
	once.Do(func() {
		cfg, err := process(context.Background(), envconfig.OsLookuper())
		if err != nil {
			globalErr = err
			return
		}
		if _, statErr := os.Stat(cfg.EnvFile); statErr == nil {
			if err := godotenv.Load(cfg.EnvFile); err != nil {
				globalErr = fmt.Errorf("load env file %s: %w", cfg.EnvFile, err)
				return
			}
			if cfg, err = process(context.Background(), envconfig.OsLookuper()); err != nil {
				globalErr = err
				return
			}
		}
		log.Traceln("loaded config")
		globalConfig = cfg
	})
	return *globalConfig, globalErr
}

func Get() Config {
	cfg, err := Load()
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load config")
	}
	return cfg
}

func process(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	envcfg := envconfig.Config{
		Lookuper: envconfig.PrefixLookuper(envPrefix, lookuper),
		Target:   cfg,
	}
	if err := envconfig.ProcessWith(ctx, &envcfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	dotPath, err := homedir.Expand(cfg.DotPath)
	if err != nil {
		return nil, fmt.Errorf("expand dot path: %w", err)
	}
	cfg.DotPath = dotPath
	if cfg.EnvFile == "" {
		cfg.EnvFile = filepath.Join(cfg.DotPath, ".env")
	}
	return cfg, nil
}
