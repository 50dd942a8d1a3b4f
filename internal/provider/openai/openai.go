package openai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/manash/antika/internal/cost"
	"github.com/manash/antika/internal/logging"
	"github.com/manash/antika/internal/provider"
	"github.com/manash/antika/pkg/models"
)

const (
	defaultBaseURL  = "https://api.openai.com/v1"
	defaultTimeout  = 120 * time.Second
	defaultLanguage = "Turkish"
)

type Provider struct {
	apiKey       string
	baseURL      string
	model        string
	language     string
	maxImageSize int64
	httpClient   *http.Client
	chatClient   *goopenai.Client
	registry     *models.ModelRegistry
	costCalc     *cost.Calculator
	verbose      bool
	debugOut     io.Writer
	log          *logrus.Entry
}

func New(cfg *provider.Config, registry *models.ModelRegistry) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, models.ConfigurationError(provider.MissingKeyMessage, provider.ErrAPIKeyRequired)
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	timeout := defaultTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}

	model := cfg.Model
	if model == "" {
		model = models.DefaultModel
	}

	language := cfg.Language
	if language == "" {
		language = defaultLanguage
	}

	maxImageSize := cfg.MaxImageSize
	if maxImageSize <= 0 {
		maxImageSize = models.DefaultMaxImageSize
	}

	log := logging.Component("openai")
	httpClient := newHTTPClient(timeout, cfg.MaxRetries, log)

	chatCfg := goopenai.DefaultConfig(cfg.APIKey)
	chatCfg.BaseURL = baseURL
	chatCfg.HTTPClient = httpClient

	return &Provider{
		apiKey:       cfg.APIKey,
		baseURL:      baseURL,
		model:        model,
		language:     language,
		maxImageSize: maxImageSize,
		httpClient:   httpClient,
		chatClient:   goopenai.NewClientWithConfig(chatCfg),
		registry:     registry,
		costCalc:     cost.NewCalculator(registry),
		verbose:      cfg.Verbose,
		debugOut:     os.Stderr,
		log:          log,
	}, nil
}

var _ provider.Provider = (*Provider)(nil)

// Constructor adapts New to provider.Factory.
func Constructor(cfg *provider.Config, registry *models.ModelRegistry) (provider.Provider, error) {
	p, err := New(cfg, registry)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// newHTTPClient returns a client that retries connection errors, 429 and
// 5xx responses. The final response is passed through so API error bodies
// can be reported.
func newHTTPClient(timeout time.Duration, retries int, log *logrus.Entry) *http.Client {
	if retries < 0 {
		retries = 0
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = retries
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = timeout
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = logging.LeveledLogger{Entry: log}
	return rc.StandardClient()
}

func (p *Provider) Name() models.ProviderType {
	return models.ProviderOpenAI
}

func (p *Provider) SupportsModel(model string) bool {
	cap, ok := p.registry.Get(model)
	if !ok {
		return false
	}
	return cap.Provider == models.ProviderOpenAI
}

func (p *Provider) ListModels() []string {
	return p.registry.ListByProvider(models.ProviderOpenAI)
}

func (p *Provider) reasoning() bool {
	cap, ok := p.registry.Get(p.model)
	return ok && cap.Reasoning
}

func (p *Provider) logRequest(method, url string, headers http.Header, body []byte) {
	if !p.verbose {
		return
	}

	out := p.debugOut
	fmt.Fprintln(out, "--- REQUEST ---")
	fmt.Fprintf(out, "%s %s\n", method, url)
	fmt.Fprintln(out, "Headers:")
	for key, values := range headers {
		for _, value := range values {
			if strings.ToLower(key) == "authorization" {
				value = "[REDACTED]"
			}
			fmt.Fprintf(out, "  %s: %s\n", key, value)
		}
	}
	if len(body) > 0 {
		fmt.Fprintln(out, "Body:")
		writeIndented(out, truncateBase64InJSON(body))
	}
	fmt.Fprintln(out, "---------------")
}

func (p *Provider) logResponse(statusCode int, headers http.Header, body []byte) {
	if !p.verbose {
		return
	}

	out := p.debugOut
	fmt.Fprintln(out, "--- RESPONSE ---")
	fmt.Fprintf(out, "Status: %d\n", statusCode)
	fmt.Fprintln(out, "Headers:")
	for key, values := range headers {
		for _, value := range values {
			fmt.Fprintf(out, "  %s: %s\n", key, value)
		}
	}
	if len(body) > 0 {
		fmt.Fprintln(out, "Body:")
		writeIndented(out, truncateBase64InJSON(body))
	}
	fmt.Fprintln(out, "----------------")
}

func writeIndented(out io.Writer, body []byte) {
	var prettyJSON bytes.Buffer
	if err := json.Indent(&prettyJSON, body, "  ", "  "); err == nil {
		fmt.Fprintf(out, "  %s\n", prettyJSON.String())
	} else {
		fmt.Fprintf(out, "  %s\n", string(body))
	}
}

func truncateBase64InJSON(body []byte) []byte {
	var data map[string]interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return body
	}

	truncateBase64Fields(data)

	result, err := json.Marshal(data)
	if err != nil {
		return body
	}
	return result
}

// truncateBase64Fields shortens inline image payloads: b64_json fields and
// data URLs.
func truncateBase64Fields(data map[string]interface{}) {
	for key, value := range data {
		switch v := value.(type) {
		case string:
			isPayload := key == "b64_json" || (key == "url" && strings.HasPrefix(v, "data:"))
			if isPayload && len(v) > 100 {
				data[key] = v[:100] + "... [truncated]"
			}
		case map[string]interface{}:
			truncateBase64Fields(v)
		case []interface{}:
			for _, item := range v {
				if m, ok := item.(map[string]interface{}); ok {
					truncateBase64Fields(m)
				}
			}
		}
	}
}
