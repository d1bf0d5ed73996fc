package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"gemini-relay/internal/config"
	"gemini-relay/internal/models"
)

const (
	contentTypeJSON  = "application/json"
	userAgent        = "gemini-relay/0.1"
	apiKeyHeader     = "x-goog-api-key"
	maxResponseBytes = 32 << 20

	// MaxRawChars caps the raw upstream text echoed back on malformed replies.
	MaxRawChars     = 1000
	truncatedMarker = "...(truncated)"
)

// ErrServerMisconfigured indicates the provider secret is absent.
var ErrServerMisconfigured = errors.New("server misconfiguration: GEMINI_API_KEY not set")

// ErrUpstreamTimeout indicates the upstream call exceeded its deadline.
var ErrUpstreamTimeout = errors.New("gemini request timed out")

// OutcomeKind classifies an upstream reply.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeUpstreamError
	OutcomeMalformedResponse
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeUpstreamError:
		return string(models.KindUpstreamError)
	case OutcomeMalformedResponse:
		return string(models.KindMalformedUpstreamResponse)
	default:
		return "unknown"
	}
}

// Outcome is the classified result of one generateContent call.
type Outcome struct {
	Kind       OutcomeKind
	Status     int
	StatusText string
	// Body holds the parsed reply verbatim; set for success and upstream errors.
	Body json.RawMessage
	// Raw holds the truncated reply text; set for malformed replies.
	Raw string
}

// Provider forwards generateContent requests to the Gemini API.
type Provider struct {
	apiKey  string
	baseURL string
	headers map[string]string
	client  *http.Client
	timeout time.Duration

	tracer   trace.Tracer
	duration metric.Float64Histogram
	outcomes metric.Int64Counter
}

// Option customises a Provider.
type Option func(*Provider)

// WithTracer sets the tracer used for upstream spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Provider) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}

// WithMeter registers upstream instruments on the given meter.
func WithMeter(meter metric.Meter) Option {
	return func(p *Provider) {
		if meter == nil {
			return
		}
		if h, err := meter.Float64Histogram(
			"gemini.request.duration",
			metric.WithDescription("generateContent round trip in milliseconds"),
			metric.WithUnit("ms"),
		); err == nil {
			p.duration = h
		}
		if c, err := meter.Int64Counter(
			"gemini.request.outcomes",
			metric.WithDescription("generateContent calls by outcome"),
		); err == nil {
			p.outcomes = c
		}
	}
}

// New constructs a Gemini provider instance.
func New(cfg config.GeminiConfig, client *http.Client, opts ...Option) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}

	p := &Provider{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: baseURL,
		headers: cfg.Headers,
		client:  client,
		timeout: cfg.Timeout,
		tracer:  otel.Tracer("gemini-relay"),
	}
	WithMeter(otel.Meter("gemini-relay"))(p)
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Configured reports whether the provider secret is present.
func (p *Provider) Configured() bool {
	return p.apiKey != ""
}

// GenerateContent performs one POST to the model's generateContent endpoint
// and classifies the reply. A missing secret fails before any network access.
// Transport failures are returned as errors; every HTTP reply is an Outcome.
func (p *Provider) GenerateContent(ctx context.Context, model string, body models.ProviderRequestBody) (*Outcome, error) {
	if !p.Configured() {
		return nil, ErrServerMisconfigured
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	ctx, span := p.tracer.Start(ctx, "gemini.generate_content",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("gemini.model", model)),
	)
	defer span.End()

	start := time.Now()
	outcome, err := p.do(ctx, model, body)
	elapsed := float64(time.Since(start).Milliseconds())

	kind := "transport_error"
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		kind = outcome.Kind.String()
		span.SetAttributes(attribute.Int("http.response.status_code", outcome.Status))
		if outcome.Kind != OutcomeSuccess {
			span.SetStatus(codes.Error, kind)
		}
	}

	attrs := metric.WithAttributes(attribute.String("gemini.model", model), attribute.String("outcome", kind))
	if p.duration != nil {
		p.duration.Record(ctx, elapsed, attrs)
	}
	if p.outcomes != nil {
		p.outcomes.Add(ctx, 1, attrs)
	}

	return outcome, err
}

func (p *Provider) do(ctx context.Context, model string, body models.ProviderRequestBody) (*Outcome, error) {
	httpReq, err := p.newRequest(ctx, p.endpoint(model), body)
	if err != nil {
		return nil, err
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("read gemini response: %w", err)
	}

	slog.DebugContext(ctx, "gemini raw response",
		"model", model,
		"status", httpResp.StatusCode,
		"raw", TruncateRaw(string(raw)),
	)

	return classify(httpResp, raw), nil
}

// classify never assumes JSON framing: the reply text is parsed only after it
// has been read in full.
func classify(resp *http.Response, raw []byte) *Outcome {
	outcome := &Outcome{
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
	}

	// Only a zero-length reply stands for null; whitespace alone is malformed.
	payload := []byte("null")
	if len(raw) > 0 {
		payload = bytes.TrimSpace(raw)
	}
	if len(payload) == 0 || !json.Valid(payload) {
		outcome.Kind = OutcomeMalformedResponse
		outcome.Raw = TruncateRaw(string(raw))
		return outcome
	}

	outcome.Body = json.RawMessage(payload)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		outcome.Kind = OutcomeUpstreamError
		return outcome
	}
	outcome.Kind = OutcomeSuccess
	return outcome
}

func (p *Provider) endpoint(model string) string {
	return p.baseURL + "/v1beta/models/" + url.PathEscape(model) + ":generateContent"
}

func (p *Provider) newRequest(ctx context.Context, endpoint string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)

	for k, v := range p.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set(apiKeyHeader, p.apiKey)

	return req, nil
}

// TruncateRaw caps text at MaxRawChars characters, appending a marker when
// anything was cut.
func TruncateRaw(text string) string {
	runes := []rune(text)
	if len(runes) <= MaxRawChars {
		return text
	}
	return string(runes[:MaxRawChars]) + truncatedMarker
}

func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
