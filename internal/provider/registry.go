package provider

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrUnknownModel indicates the requested model is not in the allow-list.
var ErrUnknownModel = errors.New("unknown model")

// ErrDuplicateModel indicates an attempt to register the same model twice.
var ErrDuplicateModel = errors.New("model already registered")

// Registry resolves caller-facing model names to upstream model identifiers.
//
// With no registered models every name is accepted as-is; once models are
// registered, names outside the allow-list (after alias expansion) are rejected.
type Registry struct {
	mu           sync.RWMutex
	defaultModel string
	models       map[string]struct{}
	aliases      map[string]string
}

// NewRegistry constructs a registry that resolves empty names to defaultModel.
func NewRegistry(defaultModel string) *Registry {
	return &Registry{
		defaultModel: strings.TrimSpace(defaultModel),
		models:       make(map[string]struct{}),
		aliases:      make(map[string]string),
	}
}

// RegisterModels adds models to the allow-list and wires optional aliases.
func (r *Registry) RegisterModels(ids []string, aliases map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return errors.New("model id must not be empty")
		}
		if _, exists := r.models[id]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateModel, id)
		}
		r.models[id] = struct{}{}
	}

	for alias, target := range aliases {
		if _, exists := r.models[alias]; exists {
			return fmt.Errorf("alias %q conflicts with existing model", alias)
		}
		if len(r.models) > 0 {
			if _, ok := r.models[target]; !ok {
				return fmt.Errorf("alias %q references unknown model %q", alias, target)
			}
		}
		r.aliases[alias] = target
	}

	if r.defaultModel != "" && len(r.models) > 0 {
		if _, ok := r.models[r.resolveAliasLocked(r.defaultModel)]; !ok {
			return fmt.Errorf("default model %q is not in the configured model list", r.defaultModel)
		}
	}

	return nil
}

// Resolve returns the upstream model id for a requested name.
func (r *Registry) Resolve(requested string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name := strings.TrimSpace(requested)
	if name == "" {
		name = r.defaultModel
	}
	if name == "" {
		return "", fmt.Errorf("%w: no model requested and no default configured", ErrUnknownModel)
	}

	id := r.resolveAliasLocked(name)
	if len(r.models) == 0 {
		return id, nil
	}
	if _, ok := r.models[id]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownModel, requested)
	}
	return id, nil
}

func (r *Registry) resolveAliasLocked(name string) string {
	if target, ok := r.aliases[name]; ok {
		return target
	}
	return name
}
