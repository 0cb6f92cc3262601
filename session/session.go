// Package session persists the per-browser dashboard state: the active
// tab, the submit counter, and the transcript shown in the output panel.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/spektr-org/insight/insight"
)

// ErrNotFound is returned by Load for an unknown session id.
var ErrNotFound = errors.New("session not found")

// State is everything the dashboard remembers between requests.
type State struct {
	Tab         string             `json:"tab"`
	Clicks      int                `json:"clicks"`
	Mode        string             `json:"mode"`
	Transcript  insight.Transcript `json:"transcript"`
	Instruction string             `json:"instruction,omitempty"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// NewState is the state of a fresh session: data tab, nothing asked yet.
func NewState() *State {
	return &State{
		Tab:       insight.TabData,
		Mode:      insight.ModeRaw,
		UpdatedAt: time.Now().UTC(),
	}
}

// Store saves and loads session state. Implementations are safe for
// concurrent use.
type Store interface {
	Save(ctx context.Context, id string, state *State) error
	Load(ctx context.Context, id string) (*State, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}
