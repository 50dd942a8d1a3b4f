package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/manash/antika/internal/provider"
	"github.com/manash/antika/pkg/models"
)

const validRecord = `{
	"title": "Late Victorian Mahogany Side Table",
	"estimatedDate": "Circa 1890-1910",
	"origin": "England",
	"style": "Victorian",
	"confidenceScore": 82,
	"estimatedValue": {"min": 300, "max": 600, "currency": "USD"},
	"description": "A mahogany side table with turned legs.",
	"restorationTips": ["Dust with a soft cloth", "Avoid silicone polish"],
	"historicalContext": "Popular in middle-class parlours.",
	"detailedHistory": "Long form history.",
	"searchQueries": ["victorian mahogany side table auction"],
	"keyFeatures": ["Dovetail joints", "Turned legs"],
	"isAuthentic": true
}`

func completion(content string) string {
	data, _ := json.Marshal(map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "gpt-4.1-mini",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 1000, "completion_tokens": 500, "total_tokens": 1500},
	})
	return string(data)
}

// fakeAPI records every request body sent to /chat/completions and replies
// with the queued responses in order, repeating the last one.
type fakeAPI struct {
	mu       sync.Mutex
	status   []int
	replies  []string
	requests []map[string]any
	auth     []string
}

func (f *fakeAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("request body is not JSON: %v", err)
		}

		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		i := len(f.requests) - 1
		if i >= len(f.replies) {
			i = len(f.replies) - 1
		}
		status := http.StatusOK
		if i < len(f.status) {
			status = f.status[i]
		}
		reply := f.replies[i]
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(reply))
	}
}

func (f *fakeAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newTestProvider(t *testing.T, api *fakeAPI, cfg provider.Config) *Provider {
	t.Helper()
	server := httptest.NewServer(api.handler(t))
	t.Cleanup(server.Close)

	if cfg.APIKey == "" {
		cfg.APIKey = "sk-test-key"
	}
	cfg.BaseURL = server.URL
	p, err := New(&cfg, models.DefaultRegistry())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func smallImage() string {
	return base64.StdEncoding.EncodeToString([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10})
}

func TestNew(t *testing.T) {
	registry := models.DefaultRegistry()

	tests := []struct {
		name    string
		cfg     *provider.Config
		wantErr error
	}{
		{
			name:    "valid config",
			cfg:     &provider.Config{APIKey: "test-key"},
			wantErr: nil,
		},
		{
			name:    "empty API key",
			cfg:     &provider.Config{APIKey: ""},
			wantErr: provider.ErrAPIKeyRequired,
		},
		{
			name:    "custom base URL",
			cfg:     &provider.Config{APIKey: "test-key", BaseURL: "https://custom.api.com/v1/"},
			wantErr: nil,
		},
		{
			name:    "custom timeout and retries",
			cfg:     &provider.Config{APIKey: "test-key", TimeoutSec: 60, MaxRetries: 3},
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.cfg, registry)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("New() error = %v, want %v", err, tt.wantErr)
				}
				if !errors.Is(err, models.ErrConfiguration) {
					t.Errorf("New() error = %v, want configuration error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v, want nil", err)
			}
			if strings.HasSuffix(p.baseURL, "/") {
				t.Errorf("baseURL = %q, trailing slash not trimmed", p.baseURL)
			}
			if p.model != models.DefaultModel {
				t.Errorf("model = %q, want %q", p.model, models.DefaultModel)
			}
			if p.language != defaultLanguage {
				t.Errorf("language = %q, want %q", p.language, defaultLanguage)
			}
		})
	}
}

func TestProvider_SupportsModel(t *testing.T) {
	p, _ := New(&provider.Config{APIKey: "test"}, models.DefaultRegistry())

	if !p.SupportsModel("gpt-4o") {
		t.Error("SupportsModel(gpt-4o) = false")
	}
	if p.SupportsModel("gemini-2.5-flash") {
		t.Error("SupportsModel(gemini-2.5-flash) = true")
	}
	if p.Name() != models.ProviderOpenAI {
		t.Errorf("Name() = %v", p.Name())
	}
	if len(p.ListModels()) == 0 {
		t.Error("ListModels() is empty")
	}
}

func TestProvider_Analyze(t *testing.T) {
	api := &fakeAPI{replies: []string{completion(validRecord)}}
	p := newTestProvider(t, api, provider.Config{Language: "English"})

	result, err := p.Analyze(context.Background(), "data:image/png;base64,"+smallImage())
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	rec := result.Record
	if rec.Title != "Late Victorian Mahogany Side Table" {
		t.Errorf("Title = %q", rec.Title)
	}
	if rec.EstimatedValue.Min != 300 || rec.EstimatedValue.Max != 600 {
		t.Errorf("EstimatedValue = %+v", rec.EstimatedValue)
	}
	if rec.IsAuthentic == nil || !*rec.IsAuthentic {
		t.Errorf("IsAuthentic = %v, want true", rec.IsAuthentic)
	}
	if got := rec.RestorationTips; len(got) != 2 || got[0] != "Dust with a soft cloth" {
		t.Errorf("RestorationTips = %v, want original order", got)
	}
	if result.Usage.InputTokens != 1000 || result.Usage.OutputTokens != 500 {
		t.Errorf("Usage = %+v", result.Usage)
	}
	if result.Cost == nil || result.Cost.Total <= 0 {
		t.Errorf("Cost = %+v, want positive total", result.Cost)
	}

	if api.calls() != 1 {
		t.Fatalf("requests = %d, want 1", api.calls())
	}
	req := api.requests[0]
	if api.auth[0] != "Bearer sk-test-key" {
		t.Errorf("Authorization = %q", api.auth[0])
	}
	if req["model"] != models.DefaultModel {
		t.Errorf("model = %v", req["model"])
	}
	if _, ok := req["max_tokens"]; !ok {
		t.Error("non-reasoning model should send max_tokens")
	}

	messages := req["messages"].([]any)
	system := messages[0].(map[string]any)["content"].([]any)[0].(map[string]any)["text"].(string)
	if !strings.Contains(system, "Always respond in English language") {
		t.Errorf("system directive = %q", system)
	}
	user := messages[1].(map[string]any)["content"].([]any)
	url := user[0].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	if url != "data:image/jpeg;base64,"+smallImage() {
		t.Errorf("image url = %q, want prefix replaced by a fixed jpeg media type", url)
	}
}

func TestProvider_Analyze_Schema(t *testing.T) {
	api := &fakeAPI{replies: []string{completion(validRecord)}}
	p := newTestProvider(t, api, provider.Config{})

	if _, err := p.Analyze(context.Background(), smallImage()); err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	format := api.requests[0]["response_format"].(map[string]any)
	if format["type"] != "json_schema" {
		t.Fatalf("response_format.type = %v", format["type"])
	}
	schema := format["json_schema"].(map[string]any)["schema"].(map[string]any)

	required := map[string]bool{}
	for _, f := range schema["required"].([]any) {
		required[f.(string)] = true
	}
	for _, f := range models.RequiredFields() {
		if !required[f] {
			t.Errorf("field %q should be required", f)
		}
	}
	for _, f := range []string{"style", "confidenceScore", "isAuthentic"} {
		if required[f] {
			t.Errorf("field %q should be optional", f)
		}
		if _, ok := schema["properties"].(map[string]any)[f]; !ok {
			t.Errorf("optional field %q missing from properties", f)
		}
	}
}

func TestProvider_Analyze_ReasoningModel(t *testing.T) {
	api := &fakeAPI{replies: []string{completion(validRecord)}}
	p := newTestProvider(t, api, provider.Config{Model: "gpt-5-mini"})

	if _, err := p.Analyze(context.Background(), smallImage()); err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	req := api.requests[0]
	if _, ok := req["max_completion_tokens"]; !ok {
		t.Error("reasoning model should send max_completion_tokens")
	}
	if _, ok := req["max_tokens"]; ok {
		t.Error("reasoning model must not send max_tokens")
	}
}

func TestProvider_Analyze_InvertedRange(t *testing.T) {
	inverted := strings.Replace(validRecord, `"min": 300, "max": 600`, `"min": 900, "max": 300`, 1)
	api := &fakeAPI{replies: []string{completion(inverted)}}
	p := newTestProvider(t, api, provider.Config{})

	result, err := p.Analyze(context.Background(), smallImage())
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if v := result.Record.EstimatedValue; v.Min != 300 || v.Max != 900 {
		t.Errorf("EstimatedValue = %+v, want normalized 300..900", v)
	}
}

func TestProvider_Analyze_CodeFence(t *testing.T) {
	api := &fakeAPI{replies: []string{completion("```json\n" + validRecord + "\n```")}}
	p := newTestProvider(t, api, provider.Config{})

	if _, err := p.Analyze(context.Background(), smallImage()); err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
}

func TestProvider_Analyze_Failures(t *testing.T) {
	missingOrigin := strings.Replace(validRecord, `"origin": "England",`, "", 1)
	nullOrigin := strings.Replace(validRecord, `"origin": "England",`, `"origin": null,`, 1)
	allNull := `{"title": null, "estimatedDate": null, "origin": null, "estimatedValue": null,
		"description": null, "restorationTips": null, "historicalContext": null,
		"detailedHistory": null, "searchQueries": null, "keyFeatures": null}`
	value := `{"min": 300, "max": 600, "currency": "USD"}`
	emptyValue := strings.Replace(validRecord, value, `{}`, 1)
	nullCurrency := strings.Replace(validRecord, value, `{"min": 300, "max": 600, "currency": null}`, 1)

	tests := []struct {
		name    string
		status  int
		reply   string
		wantMsg string
	}{
		{"empty content", 200, completion(""), emptyResponseMessage},
		{"missing required field", 200, completion(missingOrigin), badResponseMessage},
		{"null required field", 200, completion(nullOrigin), badResponseMessage},
		{"all required fields null", 200, completion(allNull), badResponseMessage},
		{"empty estimated value", 200, completion(emptyValue), badResponseMessage},
		{"null currency", 200, completion(nullCurrency), badResponseMessage},
		{"content not json", 200, completion("I think this is a chair."), badResponseMessage},
		{"content is array", 200, completion(`[1,2,3]`), badResponseMessage},
		{"api error", 400, `{"error":{"message":"Invalid image","type":"invalid_request_error"}}`, analysisFailedMessage},
		{"server error", 500, `oops`, analysisFailedMessage},
		{"bad status", 503, `{}`, analysisFailedMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{status: []int{tt.status}, replies: []string{tt.reply}}
			p := newTestProvider(t, api, provider.Config{})

			_, err := p.Analyze(context.Background(), smallImage())
			if !errors.Is(err, models.ErrService) {
				t.Fatalf("Analyze() error = %v, want service error", err)
			}
			if !errors.Is(err, provider.ErrAnalysisFailed) {
				t.Errorf("Analyze() error should wrap ErrAnalysisFailed")
			}
			if got := models.UserMessage(err); got != tt.wantMsg {
				t.Errorf("UserMessage() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestProvider_Analyze_Oversize(t *testing.T) {
	api := &fakeAPI{replies: []string{completion(validRecord)}}
	p := newTestProvider(t, api, provider.Config{MaxImageSize: 16})

	big := base64.StdEncoding.EncodeToString(make([]byte, 17))
	_, err := p.Analyze(context.Background(), "data:image/jpeg;base64,"+big)
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("Analyze() error = %v, want validation error", err)
	}
	if api.calls() != 0 {
		t.Errorf("requests = %d, want no network call", api.calls())
	}

	exact := base64.StdEncoding.EncodeToString(make([]byte, 16))
	if _, err := p.Analyze(context.Background(), exact); err != nil {
		t.Errorf("Analyze() at the limit error = %v", err)
	}
}

func TestProvider_Analyze_BadInput(t *testing.T) {
	api := &fakeAPI{replies: []string{completion(validRecord)}}
	p := newTestProvider(t, api, provider.Config{})

	for _, in := range []string{"", "data:image/png;base64,", "!!not-base64!!"} {
		if _, err := p.Analyze(context.Background(), in); !errors.Is(err, models.ErrValidation) {
			t.Errorf("Analyze(%q) error = %v, want validation error", in, err)
		}
	}
	if api.calls() != 0 {
		t.Errorf("requests = %d, want 0", api.calls())
	}
}

func TestProvider_Analyze_MissingKeyAtCallTime(t *testing.T) {
	api := &fakeAPI{replies: []string{completion(validRecord)}}
	p := newTestProvider(t, api, provider.Config{})
	p.apiKey = ""

	_, err := p.Analyze(context.Background(), smallImage())
	if !errors.Is(err, models.ErrConfiguration) {
		t.Fatalf("Analyze() error = %v, want configuration error", err)
	}
	if api.calls() != 0 {
		t.Error("no request should be sent without a key")
	}
}

func TestProvider_Analyze_Retries(t *testing.T) {
	api := &fakeAPI{
		status:  []int{http.StatusServiceUnavailable, http.StatusOK},
		replies: []string{`{"error":{"message":"overloaded"}}`, completion(validRecord)},
	}
	p := newTestProvider(t, api, provider.Config{MaxRetries: 1})

	if _, err := p.Analyze(context.Background(), smallImage()); err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if api.calls() != 2 {
		t.Errorf("requests = %d, want 2", api.calls())
	}
}

func TestProvider_VerboseLogging(t *testing.T) {
	api := &fakeAPI{replies: []string{completion(validRecord)}}
	p := newTestProvider(t, api, provider.Config{APIKey: "sk-secret-key-12345", Verbose: true})
	var out bytes.Buffer
	p.debugOut = &out

	big := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0xAB}, 400))
	if _, err := p.Analyze(context.Background(), big); err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	dump := out.String()
	for _, want := range []string{"--- REQUEST ---", "--- RESPONSE ---", "[REDACTED]", "[truncated]", "Status: 200"} {
		if !strings.Contains(dump, want) {
			t.Errorf("verbose output missing %q", want)
		}
	}
	if strings.Contains(dump, "sk-secret-key-12345") {
		t.Error("verbose output leaks the API key")
	}
	if strings.Contains(dump, big) {
		t.Error("verbose output contains the full image payload")
	}
}

func TestProvider_VerboseDisabled(t *testing.T) {
	api := &fakeAPI{replies: []string{completion(validRecord)}}
	p := newTestProvider(t, api, provider.Config{})
	var out bytes.Buffer
	p.debugOut = &out

	if _, err := p.Analyze(context.Background(), smallImage()); err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("verbose disabled but wrote %q", out.String())
	}
}

func TestTruncateBase64InJSON(t *testing.T) {
	long := "data:image/jpeg;base64," + strings.Repeat("A", 200)
	in, _ := json.Marshal(map[string]any{
		"messages": []any{map[string]any{
			"content": []any{map[string]any{"image_url": map[string]any{"url": long}}},
		}},
		"data": []any{map[string]any{"b64_json": strings.Repeat("B", 200)}},
		"note": strings.Repeat("C", 200),
	})

	out := string(truncateBase64InJSON(in))
	if strings.Contains(out, long) || strings.Contains(out, strings.Repeat("B", 200)) {
		t.Errorf("payloads not truncated: %s", out)
	}
	if !strings.Contains(out, strings.Repeat("C", 200)) {
		t.Error("ordinary strings must be left alone")
	}
	if got := string(truncateBase64InJSON([]byte("not json"))); got != "not json" {
		t.Errorf("non-JSON input changed: %q", got)
	}
}

func (s *chatSession) turns() []goopenai.ChatCompletionMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]goopenai.ChatCompletionMessage(nil), s.messages...)
}

func TestChatSession_Send(t *testing.T) {
	api := &fakeAPI{replies: []string{completion("Use a soft brush."), completion("Yes, wax is fine.")}}
	p := newTestProvider(t, api, provider.Config{})

	session, err := p.OpenChat("You are an antique expert.")
	if err != nil {
		t.Fatalf("OpenChat() error = %v", err)
	}

	reply, err := session.Send(context.Background(), "How do I clean it?")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if reply != "Use a soft brush." {
		t.Errorf("reply = %q", reply)
	}
	if _, err := session.Send(context.Background(), "Can I wax it?"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	second := api.requests[1]["messages"].([]any)
	roles := make([]string, len(second))
	for i, m := range second {
		roles[i] = m.(map[string]any)["role"].(string)
	}
	want := []string{"system", "user", "assistant", "user"}
	if strings.Join(roles, ",") != strings.Join(want, ",") {
		t.Errorf("second request roles = %v, want %v", roles, want)
	}

	if n := len(session.(*chatSession).turns()); n != 5 {
		t.Errorf("history length = %d, want 5", n)
	}
}

func TestChatSession_SendFailure(t *testing.T) {
	api := &fakeAPI{
		status:  []int{http.StatusBadRequest, http.StatusOK},
		replies: []string{`{"error":{"message":"bad request","type":"invalid_request_error"}}`, completion("ok")},
	}
	p := newTestProvider(t, api, provider.Config{})

	session, _ := p.OpenChat("system")
	_, err := session.Send(context.Background(), "first")
	if !errors.Is(err, provider.ErrChatFailed) {
		t.Fatalf("Send() error = %v, want ErrChatFailed", err)
	}
	if n := len(session.(*chatSession).turns()); n != 1 {
		t.Errorf("history length after failure = %d, want 1", n)
	}

	if _, err := session.Send(context.Background(), "retry"); err != nil {
		t.Fatalf("Send() retry error = %v", err)
	}
	if n := len(api.requests[1]["messages"].([]any)); n != 2 {
		t.Errorf("retry sent %d messages, want 2 (failed turn dropped)", n)
	}
}

func TestOpenChat_MissingKey(t *testing.T) {
	p, _ := New(&provider.Config{APIKey: "k"}, models.DefaultRegistry())
	p.apiKey = ""

	if _, err := p.OpenChat("x"); !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("OpenChat() error = %v, want configuration error", err)
	}
}
