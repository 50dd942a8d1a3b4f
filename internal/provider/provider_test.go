package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/manash/antika/pkg/models"
)

// mockProvider is a test implementation of Provider.
type mockProvider struct {
	cfg *Config
}

func (m *mockProvider) Name() models.ProviderType {
	return models.ProviderOpenAI
}

func (m *mockProvider) Analyze(_ context.Context, _ string) (*models.AnalysisResult, error) {
	return &models.AnalysisResult{Record: &models.AnalysisRecord{Title: "mock"}}, nil
}

func (m *mockProvider) OpenChat(_ string) (ChatSession, error) {
	return nil, nil
}

func (m *mockProvider) SupportsModel(_ string) bool {
	return true
}

func (m *mockProvider) ListModels() []string {
	return []string{models.DefaultModel}
}

func mockCtor(calls *int) Constructor {
	return func(cfg *Config, _ *models.ModelRegistry) (Provider, error) {
		*calls++
		return &mockProvider{cfg: cfg}, nil
	}
}

func TestFactory_New(t *testing.T) {
	calls := 0
	f := NewFactory(models.DefaultRegistry())
	f.Register(models.ProviderOpenAI, mockCtor(&calls))

	p, err := f.New(&Config{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	mp := p.(*mockProvider)
	if mp.cfg.Model != models.DefaultModel {
		t.Errorf("Model = %q, want default %q", mp.cfg.Model, models.DefaultModel)
	}
	if mp.cfg.MaxImageSize != models.DefaultMaxImageSize {
		t.Errorf("MaxImageSize = %d, want %d", mp.cfg.MaxImageSize, models.DefaultMaxImageSize)
	}
	if calls != 1 {
		t.Errorf("constructor calls = %d, want 1", calls)
	}
}

func TestFactory_New_MissingKey(t *testing.T) {
	calls := 0
	f := NewFactory(models.DefaultRegistry())
	f.Register(models.ProviderOpenAI, mockCtor(&calls))

	_, err := f.New(&Config{})
	if !errors.Is(err, models.ErrConfiguration) {
		t.Fatalf("New() error = %v, want configuration error", err)
	}
	if !errors.Is(err, ErrAPIKeyRequired) {
		t.Errorf("New() error should wrap ErrAPIKeyRequired")
	}
	if models.UserMessage(err) != MissingKeyMessage {
		t.Errorf("UserMessage() = %q", models.UserMessage(err))
	}
	if calls != 0 {
		t.Error("constructor must not run without a key")
	}
}

func TestFactory_New_UnknownModel(t *testing.T) {
	f := NewFactory(models.DefaultRegistry())
	f.Register(models.ProviderOpenAI, mockCtor(new(int)))

	_, err := f.New(&Config{APIKey: "k", Model: "dall-e-3"})
	if !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("New() error = %v, want configuration error", err)
	}
}

func TestFactory_New_ProviderNotRegistered(t *testing.T) {
	f := NewFactory(models.DefaultRegistry())

	_, err := f.New(&Config{APIKey: "k"})
	if !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("New() error = %v, want ErrProviderNotFound", err)
	}
}
