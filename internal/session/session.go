package session

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"
)

// ErrSessionNotFound is returned when no session exists for a party code
var ErrSessionNotFound = errors.New("session not found")

// PlayerStats is a player's live character record within a party session
type PlayerStats struct {
	Name          string   `json:"name"`
	HP            int      `json:"hp"`
	MaxHP         int      `json:"max_hp"`
	Mana          int      `json:"mana"`
	MaxMana       int      `json:"max_mana"`
	Gold          int      `json:"gold"`
	Experience    int      `json:"experience"`
	Level         int      `json:"level"`
	StatusEffects []string `json:"status_effects"`
}

// Clone returns a deep copy
func (p *PlayerStats) Clone() *PlayerStats {
	if p == nil {
		return nil
	}
	out := *p
	out.StatusEffects = slices.Clone(p.StatusEffects)
	return &out
}

// NewPlayerStats returns level-1 stats with full HP and mana
func NewPlayerStats(name string) *PlayerStats {
	return &PlayerStats{
		Name:          name,
		HP:            100,
		MaxHP:         100,
		Mana:          50,
		MaxMana:       50,
		Level:         1,
		StatusEffects: []string{},
	}
}

// PartySession is the party's shared session record
type PartySession struct {
	ID        string                  `json:"id"`
	PartyCode string                  `json:"party_code"`
	Players   map[string]*PlayerStats `json:"players"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// Clone returns a deep copy
func (s *PartySession) Clone() *PartySession {
	if s == nil {
		return nil
	}
	out := *s
	out.Players = make(map[string]*PlayerStats, len(s.Players))
	for id, p := range s.Players {
		out.Players[id] = p.Clone()
	}
	return &out
}

// PlayerIDs returns the session's player IDs, sorted
func (s *PartySession) PlayerIDs() []string {
	return slices.Sorted(maps.Keys(s.Players))
}

// Provider reads and writes party session state. The engine never owns player stats;
// it reads them here and writes back partial updates.
type Provider interface {
	GetSessionByPartyCode(ctx context.Context, partyCode string) (*PartySession, error)
	// SaveSessionState merges the given players into the session's player map
	SaveSessionState(ctx context.Context, sessionID string, players map[string]*PlayerStats) error
}
