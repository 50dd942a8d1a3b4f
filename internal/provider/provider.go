package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/manash/antika/pkg/models"
)

var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrAPIKeyRequired   = errors.New("API key is required")
	ErrAnalysisFailed   = errors.New("image analysis failed")
	ErrChatFailed       = errors.New("chat request failed")
)

// MissingKeyMessage is shown when no credential could be found.
const MissingKeyMessage = "API key missing: run 'antika keys set', pass --api-key or set OPENAI_API_KEY"

// Analyzer appraises one image. imageData is base64 data, optionally with a
// data URL prefix.
type Analyzer interface {
	Analyze(ctx context.Context, imageData string) (*models.AnalysisResult, error)
}

// ChatSession is a stateful conversation held by the backend. Send returns
// the raw assistant reply.
type ChatSession interface {
	Send(ctx context.Context, message string) (string, error)
}

// ChatOpener starts conversations seeded with a system instruction.
type ChatOpener interface {
	OpenChat(systemInstruction string) (ChatSession, error)
}

type Provider interface {
	Analyzer
	ChatOpener
	Name() models.ProviderType
	SupportsModel(model string) bool
	ListModels() []string
}

type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	Language     string
	TimeoutSec   int
	MaxRetries   int
	MaxImageSize int64
	Verbose      bool
}

// Constructor builds a provider for a configuration.
type Constructor func(cfg *Config, registry *models.ModelRegistry) (Provider, error)

type Factory struct {
	registry     *models.ModelRegistry
	constructors map[models.ProviderType]Constructor
}

func NewFactory(registry *models.ModelRegistry) *Factory {
	return &Factory{
		registry:     registry,
		constructors: make(map[models.ProviderType]Constructor),
	}
}

func (f *Factory) Register(providerType models.ProviderType, ctor Constructor) {
	f.constructors[providerType] = ctor
}

// New builds the provider serving cfg.Model. A missing API key is reported
// as a configuration error before anything else is attempted.
func (f *Factory) New(cfg *Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, models.ConfigurationError(MissingKeyMessage, ErrAPIKeyRequired)
	}

	model := cfg.Model
	if model == "" {
		model = models.DefaultModel
	}
	cap, err := f.registry.Lookup(model)
	if err != nil {
		return nil, models.ConfigurationError(err.Error(), nil)
	}

	ctor, ok := f.constructors[cap.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s (required by model %s)", ErrProviderNotFound, cap.Provider, model)
	}

	c := *cfg
	c.Model = model
	if c.MaxImageSize <= 0 {
		c.MaxImageSize = cap.MaxImageSize
	}
	return ctor(&c, f.registry)
}
