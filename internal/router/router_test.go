package router

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"gemini-relay/internal/models"
	"gemini-relay/internal/provider"
	"gemini-relay/internal/provider/gemini"
	"gemini-relay/internal/translator"
)

type fakeForwarder struct {
	configured bool
	calls      int
	model      string
	body       models.ProviderRequestBody
	outcome    *gemini.Outcome
	err        error
}

func (f *fakeForwarder) Configured() bool { return f.configured }

func (f *fakeForwarder) GenerateContent(ctx context.Context, model string, body models.ProviderRequestBody) (*gemini.Outcome, error) {
	f.calls++
	f.model = model
	f.body = body
	return f.outcome, f.err
}

func mustParse(t *testing.T, payload string) models.ChatRequest {
	t.Helper()
	req, err := translator.ParseChatRequest([]byte(payload))
	require.NoError(t, err)
	return req
}

func newRouter(t *testing.T, fwd Forwarder, allow []string) *Router {
	t.Helper()
	reg := provider.NewRegistry(models.DefaultModel)
	require.NoError(t, reg.RegisterModels(allow, nil))
	rt, err := New(reg, fwd, translator.NormalizeOptions{})
	require.NoError(t, err)
	return rt
}

func TestChat_ForwardsNormalizedBody(t *testing.T) {
	fwd := &fakeForwarder{
		configured: true,
		outcome:    &gemini.Outcome{Kind: gemini.OutcomeSuccess, Status: 200, Body: json.RawMessage(`{}`)},
	}
	rt := newRouter(t, fwd, nil)

	res, err := rt.Chat(context.Background(), mustParse(t, `{"prompt":"hello"}`))
	require.NoError(t, err)
	require.Equal(t, models.DefaultModel, res.Model)
	require.Equal(t, models.DefaultModel, fwd.model)
	require.Same(t, fwd.outcome, res.Outcome)
	require.JSONEq(t, `[{"parts":[{"text":"hello"}]}]`, string(fwd.body["contents"]))
}

func TestChat_MisconfiguredNeverForwards(t *testing.T) {
	fwd := &fakeForwarder{}
	rt := newRouter(t, fwd, nil)

	_, err := rt.Chat(context.Background(), mustParse(t, `{"prompt":"hello"}`))
	require.ErrorIs(t, err, gemini.ErrServerMisconfigured)
	require.Zero(t, fwd.calls)
}

func TestChat_InvalidShapeNeverForwards(t *testing.T) {
	fwd := &fakeForwarder{configured: true}
	rt := newRouter(t, fwd, nil)

	_, err := rt.Chat(context.Background(), mustParse(t, `{"foo":"bar"}`))
	require.ErrorIs(t, err, translator.ErrInvalidRequest)
	require.Zero(t, fwd.calls)
}

func TestChat_UnknownModel(t *testing.T) {
	fwd := &fakeForwarder{configured: true}
	rt := newRouter(t, fwd, []string{models.DefaultModel})

	_, err := rt.Chat(context.Background(), mustParse(t, `{"prompt":"x","model":"other"}`))
	require.ErrorIs(t, err, provider.ErrUnknownModel)
	require.Zero(t, fwd.calls)
}

func TestChat_WrapsTransportErrors(t *testing.T) {
	boom := errors.New("connection reset")
	fwd := &fakeForwarder{configured: true, err: boom}
	rt := newRouter(t, fwd, nil)

	_, err := rt.Chat(context.Background(), mustParse(t, `{"prompt":"x"}`))
	require.ErrorIs(t, err, boom)
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(nil, &fakeForwarder{}, translator.NormalizeOptions{})
	require.Error(t, err)
	_, err = New(provider.NewRegistry("m"), nil, translator.NormalizeOptions{})
	require.Error(t, err)
}
