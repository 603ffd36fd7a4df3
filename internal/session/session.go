// Package session holds per-(user, room) conversation state and drives
// response generation: prompt construction, retrieval grounding, streaming,
// and history-repair retry.
//
// Every session is owned by a Manager and guarded by its own mutex, so at
// most one query is in flight per (user, room) and turn ordering cannot be
// corrupted by concurrent submissions. Topic and user are fixed per session
// and passed explicitly into retrieval and generation calls; no state is
// shared between rooms.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/luna-chat/luna/internal/chat"
	"github.com/luna-chat/luna/internal/retrieval"
	"github.com/luna-chat/luna/internal/topic"
)

// Turn roles.
const (
	RoleUser      = "USER"
	RoleAssistant = "ASSISTANT"
)

// States of the per-turn cycle.
const (
	StateIdle             = "IDLE"
	StateAwaitingResponse = "AWAITING_RESPONSE"
)

// maxRepairAttempts bounds the history-repair retry. Exceeding it fails
// with ErrHistoryRepairExhausted instead of recursing forever.
const maxRepairAttempts = 2

// ErrHistoryRepairExhausted indicates the backend kept rejecting the chat
// history after the bounded number of repair attempts.
var ErrHistoryRepairExhausted = errors.New("history repair exhausted")

// Turn is one chat turn. Append-only per session.
type Turn struct {
	Role      string
	Text      string
	Timestamp time.Time
}

// Session is the conversation state for one (user, room) pair.
//
// Lifecycle: created (or reset) when the user joins a room; mutated by each
// query/response pair; lives for the process lifetime.
type Session struct {
	mu    sync.Mutex
	user  string
	room  string
	topic topic.ID
	state string
	turns []Turn

	mgr *Manager
}

// User returns the owning username.
func (s *Session) User() string { return s.user }

// Room returns the bound room name.
func (s *Session) Room() string { return s.room }

// Topic returns the bound topic.
func (s *Session) Topic() topic.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topic
}

// State returns the current state label.
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Turns returns a copy of the ordered chat turns.
func (s *Session) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// reset clears history and rebinds the topic. Caller holds no locks.
func (s *Session) reset(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = room
	s.topic = topic.Normalize(room)
	s.state = StateIdle
	s.turns = nil
}

// SubmitQuery appends a USER turn, generates a streamed response, and
// appends the full response as an ASSISTANT turn on completion.
//
// Chunks go through emit as they arrive; the returned citations are
// delivered by the transport after its completion sentinel. When webSearch
// is set, local retrieval is bypassed in favor of the backend's web-search
// directive and the citations are empty.
//
// On a terminal backend error the USER turn already appended remains (no
// rollback) and no further chunks are emitted.
func (s *Session) SubmitQuery(ctx context.Context, query string, webSearch bool, emit chat.StreamFunc) (retrieval.Citations, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateAwaitingResponse
	defer func() { s.state = StateIdle }()

	s.appendTurn(ctx, RoleUser, query)

	prompt := s.mgr.buildPrompt(s.topic, query)

	var docs []retrieval.PromptDoc
	citations := retrieval.Citations{}
	if !webSearch {
		docs, citations = s.mgr.retriever.Retrieve(ctx, s.topic, query, retrieval.ModeStreaming)
	}

	req := chat.Request{
		Prompt:        prompt,
		Documents:     docs,
		Temperature:   s.mgr.temperature,
		WebSearch:     webSearch,
		WebSearchSite: s.mgr.webSearchSite,
	}

	for attempt := 0; ; attempt++ {
		// History excludes the turn being answered.
		req.History = historyMessages(s.turns[:len(s.turns)-1])

		text, err := s.mgr.backend.Stream(ctx, req, emit)
		if err == nil {
			s.appendTurn(ctx, RoleAssistant, text)
			return citations, nil
		}

		if !errors.Is(err, chat.ErrInvalidHistory) {
			return nil, err
		}
		if attempt == maxRepairAttempts {
			return nil, fmt.Errorf("%w: %v", ErrHistoryRepairExhausted, err)
		}

		s.repairHistory()
		s.mgr.logger.Warn("chat history rejected, repaired and retrying",
			"user", s.user, "room", s.room, "attempt", attempt+1)
	}
}

// Ask is the batch variant of SubmitQuery: full-set rerank, no streaming.
func (s *Session) Ask(ctx context.Context, query string, webSearch bool) (string, retrieval.Citations, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateAwaitingResponse
	defer func() { s.state = StateIdle }()

	s.appendTurn(ctx, RoleUser, query)

	prompt := s.mgr.buildPrompt(s.topic, query)

	var docs []retrieval.PromptDoc
	citations := retrieval.Citations{}
	if !webSearch {
		docs, citations = s.mgr.retriever.Retrieve(ctx, s.topic, query, retrieval.ModeBatch)
	}

	req := chat.Request{
		Prompt:        prompt,
		Documents:     docs,
		Temperature:   s.mgr.temperature,
		WebSearch:     webSearch,
		WebSearchSite: s.mgr.webSearchSite,
	}

	for attempt := 0; ; attempt++ {
		req.History = historyMessages(s.turns[:len(s.turns)-1])

		text, err := s.mgr.backend.Generate(ctx, req)
		if err == nil {
			s.appendTurn(ctx, RoleAssistant, text)
			return text, citations, nil
		}

		if !errors.Is(err, chat.ErrInvalidHistory) {
			return "", nil, err
		}
		if attempt == maxRepairAttempts {
			return "", nil, fmt.Errorf("%w: %v", ErrHistoryRepairExhausted, err)
		}

		s.repairHistory()
		s.mgr.logger.Warn("chat history rejected, repaired and retrying",
			"user", s.user, "room", s.room, "attempt", attempt+1)
	}
}

// appendTurn records a turn in memory and in the durable transcript.
// Caller holds s.mu.
func (s *Session) appendTurn(ctx context.Context, role, text string) {
	s.turns = append(s.turns, Turn{
		Role:      role,
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
	s.mgr.recordTurn(ctx, s.user, s.room, role, text)
}

// repairHistory drops the three most recent turns except the very newest,
// the recovery for a backend invalid-history rejection. Caller holds s.mu.
func (s *Session) repairHistory() {
	n := len(s.turns)
	switch {
	case n >= 3:
		kept := make([]Turn, 0, n-2)
		kept = append(kept, s.turns[:n-3]...)
		kept = append(kept, s.turns[n-1])
		s.turns = kept
	case n >= 1:
		s.turns = []Turn{s.turns[n-1]}
	}
}

// historyMessages converts turns to backend messages.
func historyMessages(turns []Turn) []chat.Message {
	msgs := make([]chat.Message, len(turns))
	for i, t := range turns {
		role := chat.RoleUser
		if t.Role == RoleAssistant {
			role = chat.RoleModel
		}
		msgs[i] = chat.Message{Role: role, Text: t.Text}
	}
	return msgs
}

// promptTemplate is the fixed prompt contract: constrained HTML subset and
// a minimum response length, enforced by the model rather than by code.
const promptTemplate = `You are a conversational A.I. assistant named "Luna".
%s
Your purpose is to answer user queries based on the context provided.
Answer what you are asked as detailed as possible. Answer only in HTML format and no other format.
Cast your answers in well formed HTML syntax, without the enclosing <html>, <body> and <head> tags.
Provide your answer inside a <p> tag. If the user asks for sources, provide links in <a> tags.
If you need a title, use a <h1> or <h2> tag.
Use <ul> and <li> tags for lists or bullet points, <b> for bold text, <i> for italic text and <a> for links.
Your answer must be at least 100 words long.
Do not use any Markdown syntax or hashtags.
If you don't know the answer, say that you don't have enough information to answer the question and don't improvise.

User Question: %s
`

func buildPromptText(expertise, query string) string {
	return fmt.Sprintf(promptTemplate, strings.TrimSpace(expertise), query)
}
