package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"github.com/luna-chat/luna/internal/chat"
	"github.com/luna-chat/luna/internal/config"
	"github.com/luna-chat/luna/internal/log"
	"github.com/luna-chat/luna/internal/retrieval"
	"github.com/luna-chat/luna/internal/topic"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mockBackend scripts responses per call. Chunks are emitted before the
// full text is returned, mirroring real streaming.
type mockBackend struct {
	chunks    []string
	failures  int // leading calls that fail with failErr
	failErr   error
	calls     int
	histories [][]chat.Message
	lastTemp  float32
}

func (b *mockBackend) Generate(ctx context.Context, req chat.Request) (string, error) {
	return b.Stream(ctx, req, func(context.Context, string) error { return nil })
}

func (b *mockBackend) Stream(ctx context.Context, req chat.Request, emit chat.StreamFunc) (string, error) {
	b.calls++
	b.histories = append(b.histories, req.History)
	b.lastTemp = req.Temperature
	if b.calls <= b.failures {
		return "", b.failErr
	}
	var full strings.Builder
	for _, c := range b.chunks {
		if err := emit(ctx, c); err != nil {
			return "", err
		}
		full.WriteString(c)
	}
	return full.String(), nil
}

type mockRetriever struct {
	docs      []retrieval.PromptDoc
	citations retrieval.Citations
	lastMode  retrieval.Mode
	calls     int
}

func (m *mockRetriever) Retrieve(_ context.Context, _ topic.ID, _ string, mode retrieval.Mode) ([]retrieval.PromptDoc, retrieval.Citations) {
	m.calls++
	m.lastMode = mode
	if m.citations == nil {
		return m.docs, retrieval.Citations{}
	}
	return m.docs, m.citations
}

func newTestManager(backend chat.Backend, retriever Retriever) *Manager {
	return NewManager(ManagerConfig{
		Backend:   backend,
		Retriever: retriever,
		Logger:    log.NewNop(),
	})
}

func TestTemperatureDefaultsWhenUnset(t *testing.T) {
	backend := &mockBackend{chunks: []string{"x"}}
	mgr := newTestManager(backend, &mockRetriever{})

	s := mgr.Join("ada", "general")
	if _, err := s.SubmitQuery(context.Background(), "q", false, nopEmit); err != nil {
		t.Fatalf("SubmitQuery: %v", err)
	}
	if backend.lastTemp != config.DefaultTemperature {
		t.Errorf("temperature = %v, want %v", backend.lastTemp, config.DefaultTemperature)
	}
}

func TestTemperatureZeroIsExplicit(t *testing.T) {
	backend := &mockBackend{chunks: []string{"x"}}
	zero := float32(0)
	mgr := NewManager(ManagerConfig{
		Backend:     backend,
		Retriever:   &mockRetriever{},
		Temperature: &zero,
		Logger:      log.NewNop(),
	})

	s := mgr.Join("ada", "general")
	if _, err := s.SubmitQuery(context.Background(), "q", false, nopEmit); err != nil {
		t.Fatalf("SubmitQuery: %v", err)
	}
	if backend.lastTemp != 0 {
		t.Errorf("explicit zero temperature became %v", backend.lastTemp)
	}
}

func TestJoinBindsTopicAndResets(t *testing.T) {
	mgr := newTestManager(&mockBackend{chunks: []string{"hi"}}, &mockRetriever{})

	s := mgr.Join("ada", "New Topic!")
	if s.Topic() != topic.ID("new_topic_") {
		t.Errorf("topic = %q, want new_topic_", s.Topic())
	}
	if s.State() != StateIdle {
		t.Errorf("state = %q, want %q", s.State(), StateIdle)
	}

	if _, err := s.SubmitQuery(context.Background(), "hello", false, nopEmit); err != nil {
		t.Fatalf("SubmitQuery: %v", err)
	}
	if len(s.Turns()) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(s.Turns()))
	}

	// Rejoining the same room clears history.
	s2 := mgr.Join("ada", "New Topic!")
	if s2 != s {
		t.Error("rejoin must return the same session instance")
	}
	if len(s2.Turns()) != 0 {
		t.Errorf("rejoin must clear history, got %d turns", len(s2.Turns()))
	}
}

func TestSessionsIsolatedPerUserAndRoom(t *testing.T) {
	mgr := newTestManager(&mockBackend{chunks: []string{"x"}}, &mockRetriever{})

	a := mgr.Join("ada", "general")
	b := mgr.Join("bob", "general")
	c := mgr.Join("ada", "python")

	if a == b || a == c || b == c {
		t.Error("sessions must be distinct per (user, room)")
	}
	if mgr.Get("ada", "general") != a {
		t.Error("Get returned the wrong session")
	}
	if mgr.Get("nobody", "general") != nil {
		t.Error("Get for unknown pair must return nil")
	}
}

func nopEmit(context.Context, string) error { return nil }

func TestSubmitQueryRoundTrip(t *testing.T) {
	backend := &mockBackend{chunks: []string{"<p>Hello", " world</p>"}}
	ret := &mockRetriever{
		docs: []retrieval.PromptDoc{{Title: "doc.pdf", Snippet: "context"}},
		citations: retrieval.Citations{
			"doc.pdf": {Pages: []int{4}, FilePath: "/data/doc.pdf"},
		},
	}
	mgr := newTestManager(backend, ret)
	s := mgr.Join("ada", "general")

	var streamed strings.Builder
	citations, err := s.SubmitQuery(context.Background(), "what is this?", false,
		func(_ context.Context, text string) error {
			streamed.WriteString(text)
			return nil
		})
	if err != nil {
		t.Fatalf("SubmitQuery: %v", err)
	}

	if streamed.String() != "<p>Hello world</p>" {
		t.Errorf("streamed text = %q", streamed.String())
	}
	if len(citations) != 1 {
		t.Errorf("citations = %v", citations)
	}
	if ret.lastMode != retrieval.ModeStreaming {
		t.Errorf("retrieval mode = %v, want streaming", ret.lastMode)
	}

	turns := s.Turns()
	if len(turns) != 2 {
		t.Fatalf("expected USER+ASSISTANT turns, got %d", len(turns))
	}
	if turns[0].Role != RoleUser || turns[0].Text != "what is this?" {
		t.Errorf("turn 0 = %+v", turns[0])
	}
	if turns[1].Role != RoleAssistant || turns[1].Text != "<p>Hello world</p>" {
		t.Errorf("turn 1 = %+v", turns[1])
	}

	// The templated prompt goes to the backend, not into the stored turn.
	if len(backend.histories[0]) != 0 {
		t.Errorf("first query must carry empty history, got %d messages", len(backend.histories[0]))
	}
}

func TestSubmitQueryWebSearchSkipsRetrieval(t *testing.T) {
	ret := &mockRetriever{}
	mgr := newTestManager(&mockBackend{chunks: []string{"ok"}}, ret)
	s := mgr.Join("ada", "general")

	citations, err := s.SubmitQuery(context.Background(), "latest results?", true, nopEmit)
	if err != nil {
		t.Fatalf("SubmitQuery: %v", err)
	}
	if ret.calls != 0 {
		t.Errorf("retriever must not be called for web search, got %d calls", ret.calls)
	}
	if len(citations) != 0 {
		t.Errorf("web search citations must be empty, got %v", citations)
	}
}

func TestSubmitQueryRepairsHistory(t *testing.T) {
	backend := &mockBackend{
		chunks:   []string{"recovered"},
		failures: 1,
		failErr:  fmt.Errorf("%w: roles must alternate", chat.ErrInvalidHistory),
	}
	mgr := newTestManager(backend, &mockRetriever{})
	s := mgr.Join("ada", "general")

	// Seed history so repair has something to drop.
	s.mu.Lock()
	s.turns = []Turn{
		{Role: RoleUser, Text: "q1"},
		{Role: RoleAssistant, Text: "a1"},
		{Role: RoleUser, Text: "q2"},
		{Role: RoleAssistant, Text: "a2"},
	}
	s.mu.Unlock()

	_, err := s.SubmitQuery(context.Background(), "q3", false, nopEmit)
	if err != nil {
		t.Fatalf("SubmitQuery after repair: %v", err)
	}
	if backend.calls != 2 {
		t.Errorf("expected retry after repair, got %d calls", backend.calls)
	}

	turns := s.Turns()
	last := turns[len(turns)-1]
	if last.Role != RoleAssistant || last.Text != "recovered" {
		t.Errorf("final turn = %+v", last)
	}
	// Repair drops two of the three newest turns while keeping the newest
	// (the query under answer).
	if len(turns) != 4 {
		t.Errorf("expected 4 turns after repair (2 seed + q3 + answer), got %d", len(turns))
	}
}

func TestSubmitQueryRepairBounded(t *testing.T) {
	backend := &mockBackend{
		failures: 10,
		failErr:  fmt.Errorf("%w: roles must alternate", chat.ErrInvalidHistory),
	}
	mgr := newTestManager(backend, &mockRetriever{})
	s := mgr.Join("ada", "general")

	_, err := s.SubmitQuery(context.Background(), "q", false, nopEmit)
	if !errors.Is(err, ErrHistoryRepairExhausted) {
		t.Fatalf("expected ErrHistoryRepairExhausted, got %v", err)
	}
	if backend.calls != maxRepairAttempts+1 {
		t.Errorf("expected %d attempts, got %d", maxRepairAttempts+1, backend.calls)
	}
}

func TestSubmitQueryTerminalErrorKeepsUserTurn(t *testing.T) {
	backend := &mockBackend{
		failures: 1,
		failErr:  fmt.Errorf("%w: 500", chat.ErrBackendUnavailable),
	}
	mgr := newTestManager(backend, &mockRetriever{})
	s := mgr.Join("ada", "general")

	_, err := s.SubmitQuery(context.Background(), "doomed", false, nopEmit)
	if !errors.Is(err, chat.ErrBackendUnavailable) {
		t.Fatalf("expected backend error, got %v", err)
	}

	turns := s.Turns()
	if len(turns) != 1 || turns[0].Role != RoleUser {
		t.Errorf("user turn must survive a terminal error, turns = %+v", turns)
	}
	if s.State() != StateIdle {
		t.Errorf("state after failure = %q, want idle", s.State())
	}
}

func TestAskUsesBatchMode(t *testing.T) {
	backend := &mockBackend{chunks: []string{"full answer"}}
	ret := &mockRetriever{docs: []retrieval.PromptDoc{{Title: "d", Snippet: "s"}}}
	mgr := newTestManager(backend, ret)
	s := mgr.Join("ada", "general")

	text, _, err := s.Ask(context.Background(), "q", false)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if text != "full answer" {
		t.Errorf("text = %q", text)
	}
	if ret.lastMode != retrieval.ModeBatch {
		t.Errorf("retrieval mode = %v, want batch", ret.lastMode)
	}
}

func TestRepairHistoryShapes(t *testing.T) {
	mk := func(n int) []Turn {
		turns := make([]Turn, n)
		for i := range turns {
			turns[i] = Turn{Role: RoleUser, Text: fmt.Sprintf("t%d", i)}
		}
		return turns
	}

	tests := []struct {
		name  string
		turns []Turn
		want  []string
	}{
		{"five turns", mk(5), []string{"t0", "t1", "t4"}},
		{"three turns", mk(3), []string{"t2"}},
		{"two turns", mk(2), []string{"t1"}},
		{"one turn", mk(1), []string{"t0"}},
		{"empty", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{turns: tt.turns}
			s.repairHistory()
			if len(s.turns) != len(tt.want) {
				t.Fatalf("got %d turns, want %d", len(s.turns), len(tt.want))
			}
			for i, text := range tt.want {
				if s.turns[i].Text != text {
					t.Errorf("turn %d = %q, want %q", i, s.turns[i].Text, text)
				}
			}
		})
	}
}

func TestBuildPromptTemplate(t *testing.T) {
	got := buildPromptText("You are an expert in routing problems.", "what is VRP?")
	if !strings.Contains(got, `named "Luna"`) {
		t.Error("prompt missing assistant name")
	}
	if !strings.Contains(got, "You are an expert in routing problems.") {
		t.Error("prompt missing expertise fragment")
	}
	if !strings.Contains(got, "User Question: what is VRP?") {
		t.Error("prompt missing user question")
	}
	if !strings.Contains(got, "at least 100 words") {
		t.Error("prompt missing length requirement")
	}
}
