// Package session stores chat sessions and their append-only turn history.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned for session ids the store has never seen.
var ErrNotFound = errors.New("session not found")

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Turn is one message in a session history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Session struct {
	ID        string    `json:"session_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	Turns     []Turn    `json:"turns,omitempty"`
}

// Summary is the listing view of a session.
type Summary struct {
	ID    string `json:"session_id"`
	Title string `json:"title"`
}

type Stats struct {
	Sessions int
	Turns    int
}

// Store is the session registry shared by every request handler.
// Implementations must be safe for concurrent use.
type Store interface {
	// GetOrCreate returns the session, creating it with title when absent.
	// The title of an existing session is never changed.
	GetOrCreate(ctx context.Context, id, title string) (Session, bool, error)
	// AppendTurns adds turns to the end of an existing session's history.
	AppendTurns(ctx context.Context, id string, turns ...Turn) error
	History(ctx context.Context, id string) ([]Turn, error)
	// List returns every session in creation order.
	List(ctx context.Context) ([]Summary, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Store drivers accepted by Open.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Open builds the store named by driver. path is only used by sqlite.
func Open(ctx context.Context, driver, path string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite:
		return OpenSQLite(ctx, path)
	default:
		return nil, fmt.Errorf("unknown session store driver %q (supported: %s, %s)", driver, DriverMemory, DriverSQLite)
	}
}

func validateTurns(turns []Turn) error {
	for _, t := range turns {
		if !t.Role.Valid() {
			return fmt.Errorf("invalid role %q", t.Role)
		}
	}
	return nil
}
