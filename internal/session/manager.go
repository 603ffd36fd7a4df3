package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/luna-chat/luna/internal/chat"
	"github.com/luna-chat/luna/internal/config"
	"github.com/luna-chat/luna/internal/postgres"
	"github.com/luna-chat/luna/internal/retrieval"
	"github.com/luna-chat/luna/internal/topic"
)

// Retriever is the slice of the retrieval pipeline the manager needs.
type Retriever interface {
	Retrieve(ctx context.Context, t topic.ID, query string, mode retrieval.Mode) ([]retrieval.PromptDoc, retrieval.Citations)
}

// PersonaSource resolves the expertise fragment for a topic.
// *config.Config satisfies this.
type PersonaSource interface {
	Persona(topic string) string
}

// TranscriptStore persists conversation turns durably. Nil disables
// persistence.
type TranscriptStore interface {
	AppendTurn(ctx context.Context, arg postgres.AppendTurnParams) error
	ListTurns(ctx context.Context, arg postgres.ListTurnsParams) ([]postgres.ListTurnsRow, error)
}

// Manager owns every conversation session, keyed by (user, room).
// Safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	sessions map[sessionKey]*Session

	backend       chat.Backend
	retriever     Retriever
	personas      PersonaSource
	transcripts   TranscriptStore
	temperature   float32
	webSearchSite string
	logger        *slog.Logger
}

type sessionKey struct {
	user string
	room string
}

// ManagerConfig holds Manager construction parameters.
type ManagerConfig struct {
	Backend       chat.Backend
	Retriever     Retriever
	Personas      PersonaSource   // optional; nil means no expertise fragments
	Transcripts   TranscriptStore // optional; nil disables persistence
	Temperature   *float32        // nil means config.DefaultTemperature; 0 is a valid setting
	WebSearchSite string          // default config.DefaultWebSearchSite
	Logger        *slog.Logger
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	var temperature float32 = config.DefaultTemperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	if cfg.WebSearchSite == "" {
		cfg.WebSearchSite = config.DefaultWebSearchSite
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		sessions:      make(map[sessionKey]*Session),
		backend:       cfg.Backend,
		retriever:     cfg.Retriever,
		personas:      cfg.Personas,
		transcripts:   cfg.Transcripts,
		temperature:   temperature,
		webSearchSite: cfg.WebSearchSite,
		logger:        cfg.Logger,
	}
}

// Join creates or resets the session for (user, room): history cleared,
// topic rebound to the room, state IDLE.
func (m *Manager) Join(user, room string) *Session {
	m.mu.Lock()
	s, ok := m.sessions[sessionKey{user, room}]
	if !ok {
		s = &Session{user: user, mgr: m}
		m.sessions[sessionKey{user, room}] = s
	}
	m.mu.Unlock()

	s.reset(room)
	m.logger.Info("session bound", "user", user, "room", room, "topic", s.Topic())
	return s
}

// Get returns the existing session for (user, room), or nil.
func (m *Manager) Get(user, room string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sessionKey{user, room}]
}

// Transcript returns the most recent persisted turns for (user, room) in
// chronological order. Empty when persistence is disabled.
func (m *Manager) Transcript(ctx context.Context, user, room string, limit int) ([]Turn, error) {
	if m.transcripts == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := m.transcripts.ListTurns(ctx, postgres.ListTurnsParams{
		Username:    user,
		Room:        room,
		ResultLimit: limit,
	})
	if err != nil {
		return nil, err
	}

	turns := make([]Turn, len(rows))
	for i, r := range rows {
		turns[i] = Turn{Role: r.Role, Text: r.Text, Timestamp: r.CreatedAt.Time}
	}
	return turns, nil
}

// buildPrompt substitutes the query and the topic's persona expertise into
// the fixed template.
func (m *Manager) buildPrompt(t topic.ID, query string) string {
	expertise := ""
	if m.personas != nil {
		expertise = m.personas.Persona(t.String())
	}
	return buildPromptText(expertise, query)
}

// recordTurn appends to the durable transcript. Persistence failures are
// logged, not fatal: the in-memory conversation stays authoritative for
// the current process.
func (m *Manager) recordTurn(ctx context.Context, user, room, role, text string) {
	if m.transcripts == nil {
		return
	}
	err := m.transcripts.AppendTurn(ctx, postgres.AppendTurnParams{
		ID:        uuid.New().String(),
		Username:  user,
		Room:      room,
		Role:      role,
		Text:      text,
		CreatedAt: pgtype.Timestamptz{Time: time.Now().UTC(), Valid: true},
	})
	if err != nil {
		m.logger.Warn("failed to persist conversation turn",
			"user", user, "room", room, "error", err)
	}
}
