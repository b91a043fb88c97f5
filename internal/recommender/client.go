// Package recommender abstracts the external model that proposes schedule
// rearrangements. Providers take a description of the user's current
// schedule, conflicts, and recent adherence, and return a scored proposal of
// item moves. The service layer validates and persists proposals; providers
// never touch the database.
package recommender

import (
	"context"
	"fmt"
	"time"

	"github.com/mindwell/go-scheduling-backend/internal/domain"
)

// Client is the interface for recommendation providers.
type Client interface {
	Propose(ctx context.Context, req ProposalRequest) (*Proposal, error)
}

// ProposalRequest describes the schedule state a proposal is computed from.
type ProposalRequest struct {
	UserID    string
	Type      domain.OptimizationType
	Items     []domain.SnapshotItem
	Conflicts []domain.Conflict
	Rollups   []domain.DailyRollup
	// Preferences is free-form user guidance forwarded verbatim.
	Preferences string
}

// Move relocates one existing item to a new start and duration.
type Move struct {
	ItemID    string    `json:"item_id"`
	StartTime time.Time `json:"start_time"`
	Duration  int       `json:"duration"` // minutes
}

// Proposal is a provider's scored rearrangement of the schedule.
type Proposal struct {
	Moves     []Move  `json:"moves"`
	Score     float64 `json:"score"` // [0,100]
	Rationale string  `json:"rationale"`
}

// Options selects and configures a provider.
type Options struct {
	Provider string // "gemini" or "mock"
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// NewClient creates a recommendation client for the configured provider.
func NewClient(opts Options) (Client, error) {
	switch opts.Provider {
	case "gemini":
		if opts.APIKey == "" {
			return nil, fmt.Errorf("gemini provider requires an API key")
		}
		model := opts.Model
		if model == "" {
			model = "gemini-2.0-flash"
		}
		return NewGemini(opts.APIKey, model, opts.Timeout), nil
	case "mock":
		return &MockClient{}, nil
	default:
		return nil, fmt.Errorf("unknown recommender provider: %q", opts.Provider)
	}
}
