package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luna-chat/luna/internal/document"
	"github.com/luna-chat/luna/internal/topic"
)

// stubChannels is an in-memory ChannelService.
type stubChannels struct {
	channels []string
	index    map[string]bool
	err      error
}

func newStubChannels(seed ...string) *stubChannels {
	s := &stubChannels{index: map[string]bool{}}
	for _, name := range seed {
		s.channels = append(s.channels, name)
		s.index[name] = true
	}
	return s
}

func (s *stubChannels) List() []string { return s.channels }

func (s *stubChannels) Exists(name string) bool {
	return s.index[topic.Normalize(name).String()]
}

func (s *stubChannels) Create(_ context.Context, name string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	normalized := topic.Normalize(name).String()
	if !s.index[normalized] {
		s.channels = append(s.channels, normalized)
		s.index[normalized] = true
	}
	return normalized, nil
}

// stubIngestor records ingest calls.
type stubIngestor struct {
	passages int
	err      error
	lastPath string
}

func (s *stubIngestor) IngestFile(_ context.Context, _ topic.ID, path string) (int, error) {
	s.lastPath = path
	if s.err != nil {
		return 0, s.err
	}
	return s.passages, nil
}

func decodeBody(resp *http.Response, out any) error {
	return json.NewDecoder(resp.Body).Decode(out)
}

func newHTTPServer(t *testing.T, srv *Server) string {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

type sseEvent struct {
	name string
	data string
}

// readSSEEvents parses the full SSE response body into events.
func readSSEEvents(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()

	var events []sseEvent
	var current sseEvent

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		case line == "":
			if current.name != "" {
				events = append(events, current)
				current = sseEvent{}
			}
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestChannelsList(t *testing.T) {
	srv := NewServer(ServerConfig{
		Channels: newStubChannels("general", "vrp"),
		Logger:   nil,
	})
	ts := newHTTPServer(t, srv)

	resp, err := http.Get(ts + "/api/channels")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out ChannelListResponse
	require.NoError(t, decodeBody(resp, &out))
	assert.Equal(t, []string{"general", "vrp"}, out.Channels)
}

func TestChannelsListEmpty(t *testing.T) {
	srv := NewServer(ServerConfig{Channels: newStubChannels()})
	ts := newHTTPServer(t, srv)

	resp, err := http.Get(ts + "/api/channels")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out ChannelListResponse
	require.NoError(t, decodeBody(resp, &out))
	assert.NotNil(t, out.Channels)
	assert.Empty(t, out.Channels)
}

func TestChannelsCreate(t *testing.T) {
	channels := newStubChannels()
	srv := NewServer(ServerConfig{Channels: channels})
	ts := newHTTPServer(t, srv)

	resp := postJSON(t, ts+"/api/channels", `{"name":"New Topic!"}`)
	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out CreateChannelResponse
	require.NoError(t, decodeBody(resp, &out))
	assert.Equal(t, "new_topic_", out.Name)
	assert.True(t, channels.Exists("new_topic_"))
}

func TestChannelsCreateMissingName(t *testing.T) {
	srv := NewServer(ServerConfig{Channels: newStubChannels()})
	ts := newHTTPServer(t, srv)

	resp := postJSON(t, ts+"/api/channels", `{}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIngestEndpoint(t *testing.T) {
	ing := &stubIngestor{passages: 12}
	srv := NewServer(ServerConfig{
		Channels: newStubChannels("general"),
		Ingestor: ing,
	})
	ts := newHTTPServer(t, srv)

	resp := postJSON(t, ts+"/api/ingest", `{"channel":"general","path":"/data/spec.pdf"}`)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out IngestResponse
	require.NoError(t, decodeBody(resp, &out))
	assert.Equal(t, "general", out.Channel)
	assert.Equal(t, 12, out.Passages)
	assert.Equal(t, "/data/spec.pdf", ing.lastPath)
}

func TestIngestUnknownChannel(t *testing.T) {
	srv := NewServer(ServerConfig{
		Channels: newStubChannels("general"),
		Ingestor: &stubIngestor{},
	})
	ts := newHTTPServer(t, srv)

	resp := postJSON(t, ts+"/api/ingest", `{"channel":"missing","path":"/data/x.txt"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIngestUnsupportedFormat(t *testing.T) {
	srv := NewServer(ServerConfig{
		Channels: newStubChannels("general"),
		Ingestor: &stubIngestor{err: fmt.Errorf("%w: .zip", document.ErrUnsupportedFormat)},
	})
	ts := newHTTPServer(t, srv)

	resp := postJSON(t, ts+"/api/ingest", `{"channel":"general","path":"/data/x.zip"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestHistoryWithoutPersistence(t *testing.T) {
	ts := newTestServer(t, &stubBackend{}, &stubRetriever{})

	resp, err := http.Get(ts.URL + "/api/history/ada/general")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out HistoryResponse
	require.NoError(t, decodeBody(resp, &out))
	assert.Empty(t, out.Turns)
}

func TestHistoryInvalidLimit(t *testing.T) {
	ts := newTestServer(t, &stubBackend{}, &stubRetriever{})

	resp, err := http.Get(ts.URL + "/api/history/ada/general?limit=zero")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	srv := NewServer(ServerConfig{Channels: newStubChannels()})
	ts := newHTTPServer(t, srv)

	resp, err := http.Get(ts + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadyWithoutPool(t *testing.T) {
	srv := NewServer(ServerConfig{Channels: newStubChannels()})
	ts := newHTTPServer(t, srv)

	resp, err := http.Get(ts + "/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
