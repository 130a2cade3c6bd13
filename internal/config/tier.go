package config

import (
	"fmt"
	"time"

	"github.com/llm-council/engine/internal/council"
)

// Tier is a named execution-cost preset, resolved into a concrete
// council.CouncilConfig before the engine ever sees it (ADR-022 in the
// original implementation). The council package itself is tier-unaware;
// Tier is purely a config-layer convenience.
type Tier string

const (
	TierQuick     Tier = "quick"
	TierBalanced  Tier = "balanced"
	TierHigh      Tier = "high"
	TierReasoning Tier = "reasoning"
)

// tierPreset holds the model pool and timeout defaults for one tier. The
// actual council/chairman/normalizer models are still overridable via env
// vars (see Load); the preset only fills in what isn't explicitly set.
type tierPreset struct {
	councilModels      []council.ModelId
	chairmanModel      council.ModelId
	normalizerModel    council.ModelId
	styleNormalization bool
	maxReviewers       int
	perStageTimeout    council.StageTimeouts
}

var tierPresets = map[Tier]tierPreset{
	TierQuick: {
		councilModels:      []council.ModelId{"openai/gpt-4o-mini", "anthropic/claude-3-5-haiku", "google/gemini-flash-1.5"},
		chairmanModel:      "openai/gpt-4o-mini",
		styleNormalization: false,
		maxReviewers:       0,
		perStageTimeout: council.StageTimeouts{
			Stage1: 15 * time.Second,
			Stage2: 15 * time.Second,
			Stage3: 15 * time.Second,
		},
	},
	TierBalanced: {
		councilModels:      []council.ModelId{"openai/gpt-4o", "anthropic/claude-3-5-sonnet", "google/gemini-1.5-pro"},
		chairmanModel:      "openai/gpt-4o",
		normalizerModel:    "openai/gpt-4o-mini",
		styleNormalization: true,
		maxReviewers:       0,
		perStageTimeout: council.StageTimeouts{
			Stage1: 30 * time.Second,
			Stage2: 30 * time.Second,
			Stage3: 30 * time.Second,
		},
	},
	TierHigh: {
		councilModels: []council.ModelId{
			"openai/gpt-4o", "anthropic/claude-3-5-sonnet", "google/gemini-1.5-pro",
			"mistralai/mistral-large", "meta-llama/llama-3.1-405b-instruct",
		},
		chairmanModel:      "anthropic/claude-3-5-sonnet",
		normalizerModel:    "openai/gpt-4o-mini",
		styleNormalization: true,
		maxReviewers:       3,
		perStageTimeout: council.StageTimeouts{
			Stage1: 60 * time.Second,
			Stage2: 60 * time.Second,
			Stage3: 60 * time.Second,
		},
	},
	TierReasoning: {
		councilModels:      []council.ModelId{"openai/o1", "anthropic/claude-opus-4", "deepseek/deepseek-r1"},
		chairmanModel:      "anthropic/claude-opus-4",
		styleNormalization: false,
		maxReviewers:       0,
		perStageTimeout: council.StageTimeouts{
			Stage1: 120 * time.Second,
			Stage2: 90 * time.Second,
			Stage3: 90 * time.Second,
		},
	},
}

// ResolveTier returns the CouncilConfig a named tier expands to. An
// unrecognized tier is a config error.
func ResolveTier(tier Tier) (council.CouncilConfig, error) {
	preset, ok := tierPresets[tier]
	if !ok {
		return council.CouncilConfig{}, fmt.Errorf("config: unknown tier %q, valid tiers are quick, balanced, high, reasoning", tier)
	}
	return council.CouncilConfig{
		CouncilModels:      preset.councilModels,
		ChairmanModel:      preset.chairmanModel,
		NormalizerModel:    preset.normalizerModel,
		StyleNormalization: preset.styleNormalization,
		ExcludeSelfVotes:   true,
		MaxReviewers:       preset.maxReviewers,
		PerStageTimeout:    preset.perStageTimeout,
	}, nil
}
