package router

import (
	"context"
	"errors"
	"fmt"

	"gemini-relay/internal/models"
	"gemini-relay/internal/provider"
	"gemini-relay/internal/provider/gemini"
	"gemini-relay/internal/translator"
)

// Forwarder sends a normalized body upstream and classifies the reply.
type Forwarder interface {
	Configured() bool
	GenerateContent(ctx context.Context, model string, body models.ProviderRequestBody) (*gemini.Outcome, error)
}

// Result is the upstream outcome together with the resolved model.
type Result struct {
	Outcome *gemini.Outcome
	Model   string
}

// Router runs a classified chat request through model resolution,
// normalization and forwarding.
type Router struct {
	registry  *provider.Registry
	forwarder Forwarder
	opts      translator.NormalizeOptions
}

// New constructs a router backed by the provided registry and forwarder.
func New(registry *provider.Registry, forwarder Forwarder, opts translator.NormalizeOptions) (*Router, error) {
	if registry == nil {
		return nil, errors.New("registry must not be nil")
	}
	if forwarder == nil {
		return nil, errors.New("forwarder must not be nil")
	}
	return &Router{
		registry:  registry,
		forwarder: forwarder,
		opts:      opts,
	}, nil
}

// Chat forwards req upstream. The secret is checked before caller content is
// inspected.
func (r *Router) Chat(ctx context.Context, req models.ChatRequest) (*Result, error) {
	if !r.forwarder.Configured() {
		return nil, gemini.ErrServerMisconfigured
	}

	model, err := r.registry.Resolve(req.Model)
	if err != nil {
		return nil, err
	}

	body, err := translator.Normalize(req, r.opts)
	if err != nil {
		return nil, err
	}

	outcome, err := r.forwarder.GenerateContent(ctx, model, body)
	if err != nil {
		return nil, fmt.Errorf("gemini generateContent: %w", err)
	}
	return &Result{Outcome: outcome, Model: model}, nil
}
