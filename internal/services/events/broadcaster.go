package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventType represents the type of event being broadcast
type EventType string

const (
	EventTypeConsequencesApplied EventType = "consequences_applied"
	EventTypePlayerEffects       EventType = "player_effects"
	EventTypeScenarioReady       EventType = "scenario_ready"
	EventTypeGenerationFailed    EventType = "generation_failed"
)

// Event represents a generic event structure
type Event struct {
	Type       EventType      `json:"type"`
	PartyCode  string         `json:"party_code"`
	ScenarioID string         `json:"scenario_id,omitempty"`
	PlayerID   string         `json:"player_id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Publisher receives post-resolution notifications scoped to a party
type Publisher interface {
	PublishConsequencesApplied(ctx context.Context, partyCode, scenarioID string, data map[string]any) error
	PublishPlayerEffects(ctx context.Context, partyCode, playerID string, effects any) error
}

// ChannelFor returns the pub/sub channel for a party
func ChannelFor(partyCode string) string {
	return fmt.Sprintf("party-events:%s", partyCode)
}

// Broadcaster publishes events to Redis Pub/Sub for the real-time transport to fan out
type Broadcaster struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

var _ Publisher = (*Broadcaster)(nil)

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster(redisClient *redis.Client, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		redisClient: redisClient,
		logger:      logger,
	}
}

// PublishConsequencesApplied publishes a party-wide summary of applied consequences
func (b *Broadcaster) PublishConsequencesApplied(ctx context.Context, partyCode, scenarioID string, data map[string]any) error {
	event := Event{
		Type:       EventTypeConsequencesApplied,
		PartyCode:  partyCode,
		ScenarioID: scenarioID,
		Data:       data,
	}
	return b.publishToParty(ctx, event)
}

// PublishPlayerEffects publishes one player's stat and knowledge effects
func (b *Broadcaster) PublishPlayerEffects(ctx context.Context, partyCode, playerID string, effects any) error {
	event := Event{
		Type:      EventTypePlayerEffects,
		PartyCode: partyCode,
		PlayerID:  playerID,
		Data: map[string]any{
			"effects": effects,
		},
	}
	return b.publishToParty(ctx, event)
}

// PublishScenarioReady announces a scenario generated from a queued job
func (b *Broadcaster) PublishScenarioReady(ctx context.Context, partyCode, scenarioID string, data map[string]any) error {
	event := Event{
		Type:       EventTypeScenarioReady,
		PartyCode:  partyCode,
		ScenarioID: scenarioID,
		Data:       data,
	}
	return b.publishToParty(ctx, event)
}

// PublishGenerationFailed reports a queued job that exhausted its attempts
func (b *Broadcaster) PublishGenerationFailed(ctx context.Context, partyCode, jobID, reason string) error {
	event := Event{
		Type:      EventTypeGenerationFailed,
		PartyCode: partyCode,
		Data: map[string]any{
			"job_id": jobID,
			"error":  reason,
		},
	}
	return b.publishToParty(ctx, event)
}

// publishToParty publishes an event to the party-specific channel
func (b *Broadcaster) publishToParty(ctx context.Context, event Event) error {
	channel := ChannelFor(event.PartyCode)
	event.Timestamp = time.Now().UTC()

	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal event", "error", err, "event_type", event.Type)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		b.logger.Error("Failed to publish event", "error", err, "channel", channel)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug("Event published",
		"channel", channel,
		"event_type", event.Type,
		"player_id", event.PlayerID,
	)

	return nil
}

// NoopBroadcaster discards every event
type NoopBroadcaster struct{}

var _ Publisher = NoopBroadcaster{}

func (NoopBroadcaster) PublishConsequencesApplied(context.Context, string, string, map[string]any) error {
	return nil
}

func (NoopBroadcaster) PublishPlayerEffects(context.Context, string, string, any) error {
	return nil
}
