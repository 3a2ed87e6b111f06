package http_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpAdapter "github.com/colloquyhq/colloquy/pkg/adapters/http"
	"github.com/colloquyhq/colloquy/pkg/domain"
	"github.com/colloquyhq/colloquy/pkg/events"
	"github.com/colloquyhq/colloquy/pkg/orchestrator"
	"github.com/colloquyhq/colloquy/pkg/registry"
	"github.com/colloquyhq/colloquy/pkg/session"
	"github.com/colloquyhq/colloquy/pkg/workflow"
)

func newTestServer(t *testing.T) (*httptest.Server, *session.Manager) {
	t.Helper()
	builder := func(sessionID string) (*registry.Registry, *orchestrator.Orchestrator, error) {
		reg := registry.NewRegistry()
		if err := reg.Register(workflow.NewTopic("greeting", workflow.WithQueue(
			workflow.Descriptor{ID: "hello", New: workflow.NewMessage("Hello!")},
		))); err != nil {
			return nil, nil, err
		}
		if err := reg.Register(workflow.NewTopic("signup",
			workflow.WithConfidence(workflow.KeywordConfidence("signup")),
			workflow.WithQueue(
				workflow.Descriptor{ID: "form", New: workflow.NewCard(domain.CardPayload{ID: "profile"})},
				workflow.Descriptor{ID: "thanks", New: workflow.NewMessage("Thanks!")},
			),
		)); err != nil {
			return nil, nil, err
		}
		orch := orchestrator.New(reg, orchestrator.WithGreetingTopic("greeting"))
		return reg, orch, nil
	}
	manager := session.NewManager(builder)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(httpAdapter.NewHandler(manager, logger))
	t.Cleanup(srv.Close)
	return srv, manager
}

func do(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func drainEvents(t *testing.T, url string) []events.Envelope {
	t.Helper()
	resp := do(t, http.MethodGet, url+"/events", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Events []events.Envelope `json:"events"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.Events
}

// waitForQuiescence blocks until the session's pump has either finished
// or parked on a card.
func waitForQuiescence(t *testing.T, manager *session.Manager, id string) {
	t.Helper()
	sess, err := manager.Get(id)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		active := sess.Orchestrator.ActiveTopic()
		return active == nil || active.State() == domain.TopicWaiting
	}, 2*time.Second, 5*time.Millisecond)
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := do(t, http.MethodGet, srv.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_ConversationFlow(t *testing.T) {
	srv, manager := newTestServer(t)
	base := srv.URL + "/sessions/s1"

	resp := do(t, http.MethodPost, base+"/", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	waitForQuiescence(t, manager, "s1")

	batch := drainEvents(t, base)
	var texts []string
	for _, ev := range batch {
		if ev.Type == events.MessageReady {
			texts = append(texts, ev.GetString(events.KeyText))
		}
	}
	assert.Equal(t, []string{"Hello!"}, texts)

	resp = do(t, http.MethodPost, base+"/messages", map[string]string{"text": "signup please"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	waitForQuiescence(t, manager, "s1")

	batch = drainEvents(t, base)
	cards := 0
	for _, ev := range batch {
		if ev.Type == events.CardReady {
			cards++
		}
	}
	assert.Equal(t, 1, cards)

	resp = do(t, http.MethodPost, base+"/input", map[string]any{"name": "Ada"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	waitForQuiescence(t, manager, "s1")

	resp = do(t, http.MethodPost, base+"/reset", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = do(t, http.MethodDelete, base+"/", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestServer_EmptyEventsIsAnArray(t *testing.T) {
	srv, manager := newTestServer(t)
	base := srv.URL + "/sessions/s1"

	resp := do(t, http.MethodPost, base+"/", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	waitForQuiescence(t, manager, "s1")
	drainEvents(t, base)

	// Drained twice: the body must still be a JSON array, never null.
	resp = do(t, http.MethodGet, base+"/events", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"events":[]}`, string(raw))
}

func TestServer_UnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/sessions/ghost"

	resp := do(t, http.MethodGet, base+"/events", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodPost, base+"/messages", map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodDelete, base+"/", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_BadBody(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/sessions/s1"

	resp := do(t, http.MethodPost, base+"/", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, base+"/messages", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
