package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gemini-relay/internal/audit"
	"gemini-relay/internal/client"
	"gemini-relay/internal/config"
	"gemini-relay/internal/models"
	"gemini-relay/internal/provider"
	"gemini-relay/internal/provider/gemini"
	"gemini-relay/internal/router"
	"gemini-relay/internal/translator"
)

type memoryRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memoryRecorder) Record(ctx context.Context, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryRecorder) last(t *testing.T) audit.Entry {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.entries)
	return m.entries[len(m.entries)-1]
}

type testEnv struct {
	handler  http.Handler
	recorder *memoryRecorder
	calls    *atomic.Int32
	lastPath *atomic.Value
	lastBody *atomic.Value
}

func newTestEnv(t *testing.T, apiKey string, upstream http.HandlerFunc) testEnv {
	t.Helper()

	var calls atomic.Int32
	var lastPath, lastBody atomic.Value
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		lastPath.Store(r.URL.Path)
		lastBody.Store(string(body))
		upstream(w, r)
	}))
	t.Cleanup(fake.Close)

	cfg := config.Config{
		Server: config.ServerConfig{Port: 8888},
		Gemini: config.GeminiConfig{
			APIKey:          apiKey,
			AllowMissingKey: true,
			BaseURL:         fake.URL,
			DefaultModel:    models.DefaultModel,
			Timeout:         time.Second,
		},
		Logging: config.LoggingConfig{Level: "info"},
	}

	p, err := gemini.New(cfg.Gemini, fake.Client())
	require.NoError(t, err)
	rt, err := router.New(provider.NewRegistry(cfg.Gemini.DefaultModel), p, translator.NormalizeOptions{})
	require.NoError(t, err)

	rec := &memoryRecorder{}
	srv, err := New(cfg, rt, rec)
	require.NoError(t, err)

	return testEnv{handler: srv.Handler(), recorder: rec, calls: &calls, lastPath: &lastPath, lastBody: &lastBody}
}

func (e testEnv) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	require.Contains(t, w.Header().Get("Content-Type"), "application/json")
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func replyOK(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}`)
}

func TestChat_SuccessReturnsUpstreamJSON(t *testing.T) {
	env := newTestEnv(t, "secret", replyOK)

	w := env.post(t, "/chat", `{"prompt":"hello"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.JSONEq(t, `{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}`, w.Body.String())
	require.Equal(t, "hi", translator.ExtractReply(w.Body.Bytes()))

	require.Equal(t, "/v1beta/models/"+models.DefaultModel+":generateContent", env.lastPath.Load())
	require.JSONEq(t, `{"contents":[{"parts":[{"text":"hello"}]}]}`, env.lastBody.Load().(string))

	entry := env.recorder.last(t)
	require.Equal(t, "success", entry.Kind)
	require.Equal(t, http.StatusOK, entry.Status)
	require.Equal(t, "prompt", entry.Shape)
	require.Equal(t, models.DefaultModel, entry.Model)
	require.NotEmpty(t, entry.RequestID)
}

func TestChat_AlternateRoutes(t *testing.T) {
	env := newTestEnv(t, "secret", replyOK)
	for _, path := range []string{"/api/chat", "/.netlify/functions/chat", "/chat/"} {
		w := env.post(t, path, `{"messages":[{"role":"user","content":"hey"}],"model":"gemini-2.0-flash"}`)
		require.Equal(t, http.StatusOK, w.Code, path)
	}
	require.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", env.lastPath.Load())
	require.JSONEq(t,
		`{"contents":[{"role":"user","parts":[{"text":"hey"}]}],"model":"gemini-2.0-flash"}`,
		env.lastBody.Load().(string))
}

func TestChat_MissingBody(t *testing.T) {
	env := newTestEnv(t, "secret", replyOK)

	w := env.post(t, "/chat", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeError(t, w)
	require.Equal(t, "Missing request body", body["error"])
	require.Equal(t, string(models.KindInvalidRequest), body["kind"])
	require.NotContains(t, body, "details")
	require.Zero(t, env.calls.Load())
}

func TestChat_InvalidJSON(t *testing.T) {
	env := newTestEnv(t, "secret", replyOK)

	w := env.post(t, "/chat", `{"prompt":`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeError(t, w)
	require.Equal(t, "Invalid JSON in request body", body["error"])
	require.NotEmpty(t, body["details"])
	require.Equal(t, string(models.KindInvalidRequest), body["kind"])
	require.Zero(t, env.calls.Load())
}

func TestChat_MissingSecret(t *testing.T) {
	env := newTestEnv(t, "", replyOK)

	w := env.post(t, "/chat", `{"prompt":"hello"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeError(t, w)
	require.Equal(t, "Server misconfiguration: GEMINI_API_KEY not set", body["error"])
	require.Equal(t, string(models.KindServerMisconfigured), body["kind"])
	require.Zero(t, env.calls.Load())

	require.Equal(t, string(models.KindServerMisconfigured), env.recorder.last(t).Kind)
}

func TestChat_UnrecognisedShape(t *testing.T) {
	env := newTestEnv(t, "secret", replyOK)

	w := env.post(t, "/chat", `{"hello":"world"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeError(t, w)
	require.Equal(t, "Request must include `prompt`, `messages`, or `contents`", body["error"])
	require.Equal(t, string(models.KindInvalidRequest), body["kind"])
	require.Zero(t, env.calls.Load())
}

func TestChat_UpstreamJSONError(t *testing.T) {
	env := newTestEnv(t, "secret", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"code":429,"message":"quota"}}`)
	})

	w := env.post(t, "/chat", `{"prompt":"hello"}`)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	body := decodeError(t, w)
	require.Equal(t, "Gemini API returned an error", body["error"])
	require.Equal(t, float64(429), body["status"])
	require.Equal(t, map[string]any{"error": map[string]any{"code": float64(429), "message": "quota"}}, body["body"])
	require.Equal(t, string(models.KindUpstreamError), body["kind"])

	entry := env.recorder.last(t)
	require.Equal(t, string(models.KindUpstreamError), entry.Kind)
	require.Equal(t, http.StatusTooManyRequests, entry.Status)
}

func TestChat_UpstreamNonJSON(t *testing.T) {
	env := newTestEnv(t, "secret", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, "<html>Error</html>")
	})

	w := env.post(t, "/chat", `{"prompt":"hello"}`)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeError(t, w)
	require.Equal(t, "Non-JSON response from Gemini API", body["error"])
	require.Equal(t, float64(503), body["status"])
	require.Equal(t, "Service Unavailable", body["statusText"])
	require.Equal(t, "<html>Error</html>", body["raw"])
	require.Equal(t, string(models.KindMalformedUpstreamResponse), body["kind"])
}

func TestChat_UpstreamTimeout(t *testing.T) {
	env := newTestEnv(t, "secret", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})

	w := env.post(t, "/chat", `{"prompt":"hello"}`)
	require.Equal(t, http.StatusGatewayTimeout, w.Code)
	body := decodeError(t, w)
	require.Equal(t, string(models.KindUpstreamTimeout), body["kind"])
}

func TestChat_HTMLOnSuccessStatusReachesClientAsError(t *testing.T) {
	env := newTestEnv(t, "secret", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<html>Error</html>")
	})
	relay := httptest.NewServer(env.handler)
	defer relay.Close()

	reply, err := client.New(relay.URL+"/chat", client.WithHTTPClient(relay.Client())).Ask(context.Background(), "hello")
	require.Empty(t, reply)
	var cerr *client.Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, models.KindMalformedUpstreamResponse, cerr.Kind)
	require.Equal(t, http.StatusOK, cerr.Status)
	require.Equal(t, "<html>Error</html>", cerr.Details)

	entry := env.recorder.last(t)
	require.Equal(t, string(models.KindMalformedUpstreamResponse), entry.Kind)
	require.Equal(t, http.StatusOK, entry.Status)
}

type panickingForwarder struct{}

func (panickingForwarder) Configured() bool { return true }

func (panickingForwarder) GenerateContent(ctx context.Context, model string, body models.ProviderRequestBody) (*gemini.Outcome, error) {
	panic("forwarder exploded")
}

func TestChat_PanicIsRecordedAsInternalError(t *testing.T) {
	cfg := config.Config{
		Server:  config.ServerConfig{Port: 8888},
		Gemini:  config.GeminiConfig{APIKey: "secret", BaseURL: "http://127.0.0.1:1", DefaultModel: models.DefaultModel},
		Logging: config.LoggingConfig{Level: "info"},
	}
	rt, err := router.New(provider.NewRegistry(cfg.Gemini.DefaultModel), panickingForwarder{}, translator.NormalizeOptions{})
	require.NoError(t, err)
	rec := &memoryRecorder{}
	srv, err := New(cfg, rt, rec)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"prompt":"hello"}`))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeError(t, w)
	require.Equal(t, string(models.KindInternalError), body["kind"])

	entry := rec.last(t)
	require.Equal(t, string(models.KindInternalError), entry.Kind)
	require.Equal(t, http.StatusInternalServerError, entry.Status)
	require.Equal(t, "prompt", entry.Shape)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "secret", replyOK)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok","configured":true}`, w.Body.String())
}

func TestUnknownRouteUsesJSONErrors(t *testing.T) {
	env := newTestEnv(t, "secret", replyOK)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
	body := decodeError(t, w)
	require.Equal(t, string(models.KindInvalidRequest), body["kind"])
}

func TestStatusOr502(t *testing.T) {
	require.Equal(t, http.StatusBadGateway, statusOr502(0))
	require.Equal(t, http.StatusTeapot, statusOr502(http.StatusTeapot))
}
