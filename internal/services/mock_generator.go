package services

import (
	"context"
	"sync"

	"github.com/jwebster45206/consequence-engine/pkg/consequence"
	"github.com/jwebster45206/consequence-engine/pkg/scenario"
)

// MockGenerator is a ScenarioGenerator for tests
type MockGenerator struct {
	GenerateScenarioFunc func(ctx context.Context, req *scenario.GenerationRequest, gc *GenerationContext) (*scenario.ScenarioResponse, error)

	// Track calls for testing
	GenerateScenarioCalls []GenerateScenarioCall

	mu sync.Mutex // protects all fields above
}

type GenerateScenarioCall struct {
	Request *scenario.GenerationRequest
	Context *GenerationContext
}

func NewMockGenerator() *MockGenerator {
	return &MockGenerator{
		GenerateScenarioCalls: make([]GenerateScenarioCall, 0),
	}
}

func (m *MockGenerator) Name() string { return "mock" }

// GenerateScenario returns GenerateScenarioFunc's result, or a small fixed scenario
func (m *MockGenerator) GenerateScenario(ctx context.Context, req *scenario.GenerationRequest, gc *GenerationContext) (*scenario.ScenarioResponse, error) {
	m.mu.Lock()
	m.GenerateScenarioCalls = append(m.GenerateScenarioCalls, GenerateScenarioCall{Request: req, Context: gc})
	fn := m.GenerateScenarioFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req, gc)
	}

	return &scenario.ScenarioResponse{
		Type:      req.Type,
		Title:     "Mock scenario",
		Narrative: "A mock scenario unfolds.",
		Choices: []scenario.Choice{
			{
				ID: "help", Text: "Help", Visibility: scenario.VisibilityAll,
				Consequences: []consequence.Consequence{{
					Kind:       consequence.KindReputation,
					Duration:   consequence.DurationShort,
					Severity:   consequence.SeverityMinor,
					Reputation: &consequence.ReputationChange{Faction: "KORVAN", Change: 5},
				}},
			},
			{ID: "leave", Text: "Leave", Visibility: scenario.VisibilityAll},
		},
		Clues:          []scenario.Clue{},
		HiddenElements: []scenario.HiddenElement{},
		AsymmetricInfo: map[string]*scenario.AsymmetricInfo{},
		Source:         scenario.SourceAI,
		Difficulty:     req.Difficulty,
	}, nil
}

// CallCount returns the number of GenerateScenario calls
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.GenerateScenarioCalls)
}

// Reset clears all call tracking
func (m *MockGenerator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GenerateScenarioCalls = make([]GenerateScenarioCall, 0)
}
