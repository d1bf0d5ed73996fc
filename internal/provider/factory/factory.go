package factory

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"gemini-relay/internal/config"
	"gemini-relay/internal/provider"
	"gemini-relay/internal/provider/gemini"
)

const (
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// Telemetry bundles the instrumentation handed to the upstream provider.
type Telemetry struct {
	Tracer trace.Tracer
	Meter  metric.Meter
}

// NewGeminiProvider constructs the upstream provider from configuration.
// The request deadline is applied per call by the provider, so the client
// itself carries no overall timeout.
func NewGeminiProvider(cfg config.Config, tel Telemetry) (*gemini.Provider, error) {
	client := newHTTPClient()
	p, err := gemini.New(cfg.Gemini, client,
		gemini.WithTracer(tel.Tracer),
		gemini.WithMeter(tel.Meter),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise gemini provider: %w", err)
	}
	return p, nil
}

// NewModelRegistry builds the model catalog from configuration.
func NewModelRegistry(cfg config.Config) (*provider.Registry, error) {
	registry := provider.NewRegistry(cfg.Gemini.DefaultModel)
	if err := registry.RegisterModels(cfg.Gemini.Models, cfg.Gemini.Aliases); err != nil {
		return nil, fmt.Errorf("register gemini models: %w", err)
	}
	return registry, nil
}

func newHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: transport,
	}
}
