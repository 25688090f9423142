package services

import (
	"context"
	"errors"

	"github.com/jwebster45206/consequence-engine/pkg/scenario"
)

var (
	// ErrGenerationFailed wraps any failure of an AI generation hook
	ErrGenerationFailed = errors.New("scenario generation failed")
	// ErrMalformedResponse means the model answered but not with a usable scenario
	ErrMalformedResponse = errors.New("malformed scenario response")
)

// GenerationContext is the world summary handed to a generator so prompts can
// reference the current state of play.
type GenerationContext struct {
	FactionPower map[string]float64       `json:"faction_power"`
	ActiveEvents []string                 `json:"active_events"`
	Reputations  map[string]map[string]int `json:"reputations"` // player -> faction -> value
}

// ScenarioGenerator produces a scenario from a model or other external source
type ScenarioGenerator interface {
	// Name identifies the provider in logs and metrics
	Name() string

	// GenerateScenario returns a scenario for the request. Implementations do
	// not fill AsymmetricInfo; the caller owns per-player views.
	GenerateScenario(ctx context.Context, req *scenario.GenerationRequest, gc *GenerationContext) (*scenario.ScenarioResponse, error)
}
