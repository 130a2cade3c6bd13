// Package config resolves a council.CouncilConfig and gateway settings
// from defaults, an optional YAML file located via Viper's search path, an
// optional .env file, and environment variables, before the engine or a
// cmd entry point ever constructs an Orchestrator. The council package
// itself never reads the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/llm-council/engine/internal/council"
)

// envCandidates mirrors the teacher's LoadConfig: try a handful of
// plausible .env locations relative to the process working directory,
// falling back silently to already-set environment variables if none
// exist (a missing .env file is not an error in production).
var envCandidates = []string{".env", "../.env", "../../.env"}

// GatewayConfig holds the settings needed to construct the ModelCaller
// stack (internal/gateway), separate from CouncilConfig since the engine
// has no notion of API keys or transport.
type GatewayConfig struct {
	OpenRouterAPIKey string
	OpenRouterAPIURL string
	CacheTTL         time.Duration
	CircuitBreaker   CircuitBreakerConfig
}

// CircuitBreakerConfig configures internal/gateway.BreakerCaller.
type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// Config is the fully-resolved bundle Load returns.
type Config struct {
	Council      council.CouncilConfig
	Gateway      GatewayConfig
	TranscriptDir string
	ListenAddr   string
}

// configSearchPaths lists the directories Viper searches, in order, for a
// "council.yaml"/"council.json"/etc config file, matching the search-path
// pattern of `cklxx-elephant.ai`'s cobra_cli.go (`viper.AddConfigPath`).
var configSearchPaths = []string{".", "./config", "$HOME/.council"}

// Load resolves Config from (in order) built-in defaults, a "council"
// config file located via Viper's search path (any format Viper supports:
// YAML, JSON, TOML...), a .env file (loaded first, among envCandidates,
// per the teacher's approach), and environment variables, each layer
// overriding the previous. Applies a Tier preset when COUNCIL_TIER names
// one; explicit COUNCIL_MODELS, CHAIRMAN_MODEL, NORMALIZER_MODEL,
// EXCLUDE_SELF_VOTES, MAX_REVIEWERS and CONFIDENCE_WEIGHT_* values, however
// resolved, override whatever the tier preset chose. STAGE_TIMEOUT_SECONDS
// applies only when no tier preset supplied per-stage timeouts.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.SetDefault("OPENROUTER_API_URL", "https://openrouter.ai/api/v1/chat/completions")
	v.SetDefault("TRANSCRIPT_DIR", ".council/logs")
	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("RESPONSE_CACHE_TTL_SECONDS", 300)
	v.SetDefault("CIRCUIT_FAILURE_THRESHOLD", 5)
	v.SetDefault("CIRCUIT_SUCCESS_THRESHOLD", 1)
	v.SetDefault("CIRCUIT_TIMEOUT_SECONDS", 60)
	v.SetDefault("STAGE_TIMEOUT_SECONDS", 30)
	v.SetDefault("EXCLUDE_SELF_VOTES", true)

	v.SetConfigName("council")
	for _, path := range configSearchPaths {
		v.AddConfigPath(path)
	}
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Config{}, fmt.Errorf("config: failed to read config file: %w", err)
		}
	}

	cfg := council.CouncilConfig{}
	if tier := v.GetString("COUNCIL_TIER"); tier != "" {
		resolved, err := ResolveTier(Tier(strings.ToLower(tier)))
		if err != nil {
			return Config{}, err
		}
		cfg = resolved
	}

	if models := v.GetString("COUNCIL_MODELS"); models != "" {
		cfg.CouncilModels = splitModels(models)
	}
	if chairman := v.GetString("CHAIRMAN_MODEL"); chairman != "" {
		cfg.ChairmanModel = council.ModelId(chairman)
	}
	if normalizer := v.GetString("NORMALIZER_MODEL"); normalizer != "" {
		cfg.NormalizerModel = council.ModelId(normalizer)
		cfg.StyleNormalization = true
	}
	if v.IsSet("EXCLUDE_SELF_VOTES") {
		cfg.ExcludeSelfVotes = v.GetBool("EXCLUDE_SELF_VOTES")
	}
	if v.IsSet("MAX_REVIEWERS") {
		cfg.MaxReviewers = v.GetInt("MAX_REVIEWERS")
	}
	if rank := v.GetString("CONFIDENCE_WEIGHT_RANK"); rank != "" {
		cfg.ConfidenceWeights = council.ConfidenceWeights{
			Rank:   parseWeight(rank),
			Rubric: parseWeight(v.GetString("CONFIDENCE_WEIGHT_RUBRIC")),
			Spread: parseWeight(v.GetString("CONFIDENCE_WEIGHT_SPREAD")),
		}
	}
	if cfg.PerStageTimeout.Stage1 == 0 {
		stageTimeout := time.Duration(v.GetInt("STAGE_TIMEOUT_SECONDS")) * time.Second
		cfg.PerStageTimeout = council.StageTimeouts{Stage1: stageTimeout, Stage2: stageTimeout, Stage3: stageTimeout}
	}
	if len(cfg.CouncilModels) == 0 {
		return Config{}, fmt.Errorf("config: no council models configured; set COUNCIL_MODELS or COUNCIL_TIER")
	}
	if cfg.ChairmanModel == "" {
		return Config{}, fmt.Errorf("config: no chairman model configured; set CHAIRMAN_MODEL or COUNCIL_TIER")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return Config{
		Council: cfg,
		Gateway: GatewayConfig{
			OpenRouterAPIKey: v.GetString("OPENROUTER_API_KEY"),
			OpenRouterAPIURL: v.GetString("OPENROUTER_API_URL"),
			CacheTTL:         time.Duration(v.GetInt("RESPONSE_CACHE_TTL_SECONDS")) * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: v.GetInt("CIRCUIT_FAILURE_THRESHOLD"),
				SuccessThreshold: v.GetInt("CIRCUIT_SUCCESS_THRESHOLD"),
				Timeout:          time.Duration(v.GetInt("CIRCUIT_TIMEOUT_SECONDS")) * time.Second,
			},
		},
		TranscriptDir: v.GetString("TRANSCRIPT_DIR"),
		ListenAddr:    v.GetString("LISTEN_ADDR"),
	}, nil
}

// loadDotEnv tries each candidate path in turn and stops at the first one
// that loads successfully, matching the teacher's multi-path search. A
// missing .env everywhere is not an error: production deployments set
// environment variables directly.
func loadDotEnv() {
	for _, path := range envCandidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err == nil {
			return
		}
	}
}

func splitModels(raw string) []council.ModelId {
	parts := strings.Split(raw, ",")
	out := make([]council.ModelId, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, council.ModelId(p))
		}
	}
	return out
}

// parseWeight parses a float env var, returning 0 (which
// council.ConfidenceWeights.orDefault treats as "unset") on any error.
func parseWeight(raw string) float64 {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return v
}
