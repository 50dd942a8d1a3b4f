package models

import (
	"fmt"
	"slices"
)

type ProviderType string

const (
	ProviderOpenAI ProviderType = "openai"
)

const (
	DefaultModel        = "gpt-4.1-mini"
	DefaultMaxImageSize = 5 * 1024 * 1024
)

// ModelCapabilities describes a vision model that can appraise images.
type ModelCapabilities struct {
	Name         string
	Provider     ProviderType
	MaxImageSize int64
	// Prices in USD per 1M tokens.
	InputPer1M  float64
	OutputPer1M float64
	// Reasoning models take max_completion_tokens instead of max_tokens.
	Reasoning bool
}

type ModelRegistry struct {
	models map[string]*ModelCapabilities
}

func NewModelRegistry() *ModelRegistry {
	return &ModelRegistry{
		models: make(map[string]*ModelCapabilities),
	}
}

func (r *ModelRegistry) Register(cap *ModelCapabilities) {
	r.models[cap.Name] = cap
}

func (r *ModelRegistry) Get(name string) (*ModelCapabilities, bool) {
	cap, ok := r.models[name]
	return cap, ok
}

// Lookup returns the capabilities for name or an error naming the known models.
func (r *ModelRegistry) Lookup(name string) (*ModelCapabilities, error) {
	cap, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("unknown model %q: available models: %v", name, r.List())
	}
	return cap, nil
}

func (r *ModelRegistry) List() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *ModelRegistry) ListByProvider(provider ProviderType) []string {
	var names []string
	for name, cap := range r.models {
		if cap.Provider == provider {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

func DefaultRegistry() *ModelRegistry {
	r := NewModelRegistry()

	r.Register(&ModelCapabilities{
		Name:         "gpt-4.1-mini",
		Provider:     ProviderOpenAI,
		MaxImageSize: DefaultMaxImageSize,
		InputPer1M:   0.40,
		OutputPer1M:  1.60,
	})

	r.Register(&ModelCapabilities{
		Name:         "gpt-4.1",
		Provider:     ProviderOpenAI,
		MaxImageSize: DefaultMaxImageSize,
		InputPer1M:   2.00,
		OutputPer1M:  8.00,
	})

	r.Register(&ModelCapabilities{
		Name:         "gpt-4o",
		Provider:     ProviderOpenAI,
		MaxImageSize: DefaultMaxImageSize,
		InputPer1M:   2.50,
		OutputPer1M:  10.00,
	})

	r.Register(&ModelCapabilities{
		Name:         "gpt-5-mini",
		Provider:     ProviderOpenAI,
		MaxImageSize: DefaultMaxImageSize,
		InputPer1M:   0.25,
		OutputPer1M:  2.00,
		Reasoning:    true,
	})

	return r
}
