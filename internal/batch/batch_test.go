package batch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/manash/antika/internal/app"
	"github.com/manash/antika/internal/history"
	"github.com/manash/antika/internal/image"
	"github.com/manash/antika/internal/kv"
	"github.com/manash/antika/pkg/models"
)

func TestParseText(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{
			name:  "basic list",
			input: "vase.jpg\nchair.png\nhttps://example.com/clock.jpg",
			want:  3,
		},
		{
			name:  "with empty lines",
			input: "vase.jpg\n\nchair.png\n\n",
			want:  2,
		},
		{
			name:  "with comments",
			input: "# attic finds\nvase.jpg\n# kitchen\nchair.png",
			want:  2,
		},
		{
			name:    "empty file",
			input:   "",
			wantErr: true,
		},
		{
			name:    "only comments",
			input:   "# comment\n# another",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := ParseText(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseText() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && len(items) != tt.want {
				t.Errorf("ParseText() got %d items, want %d", len(items), tt.want)
			}
		})
	}
}

func TestParseStructured(t *testing.T) {
	tests := []struct {
		name    string
		parse   func(string) ([]Item, error)
		input   string
		want    int
		wantErr bool
	}{
		{"json list", parseJSONString, `[{"image": "vase.jpg"}, {"image": "chair.png", "label": "Kitchen chair"}]`, 2, false},
		{"json empty", parseJSONString, `[]`, 0, true},
		{"json missing image", parseJSONString, `[{"label": "x"}]`, 0, true},
		{"json invalid", parseJSONString, `[{"image": "vase.jpg"`, 0, true},
		{"yaml list", parseYAMLString, "- image: vase.jpg\n- image: chair.png\n  label: Kitchen chair\n", 2, false},
		{"yaml empty", parseYAMLString, "", 0, true},
		{"yaml missing image", parseYAMLString, "- label: x\n", 0, true},
		{"yaml invalid", parseYAMLString, "- image: [", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := tt.parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("parse error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if len(items) != tt.want {
				t.Fatalf("got %d items, want %d", len(items), tt.want)
			}
			if items[1].Label != "Kitchen chair" || items[1].Index != 2 {
				t.Errorf("items[1] = %+v", items[1])
			}
		})
	}
}

func parseJSONString(s string) ([]Item, error) { return ParseJSON(strings.NewReader(s)) }
func parseYAMLString(s string) ([]Item, error) { return ParseYAML(strings.NewReader(s)) }

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "finds.txt")
	os.WriteFile(list, []byte("vase.jpg\n/abs/chair.png\nhttps://example.com/clock.jpg\n"), 0600)

	items, err := ParseFile(list)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	want := []string{filepath.Join(dir, "vase.jpg"), "/abs/chair.png", "https://example.com/clock.jpg"}
	for i, w := range want {
		if items[i].Source != w {
			t.Errorf("items[%d].Source = %q, want %q", i, items[i].Source, w)
		}
	}

	bad := filepath.Join(dir, "finds.csv")
	os.WriteFile(bad, []byte("vase.jpg"), 0600)
	if _, err := ParseFile(bad); err == nil {
		t.Error("ParseFile() should reject unknown extensions")
	}
	if _, err := ParseFile(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("ParseFile() should fail for a missing file")
	}
}

func TestFromArgs(t *testing.T) {
	items := FromArgs([]string{"a.jpg", "  ", "b.png"})
	if len(items) != 2 || items[1].Source != "b.png" || items[1].Index != 2 {
		t.Errorf("FromArgs() = %+v", items)
	}
}

type mockAnalyzer struct {
	calls int
	// fail lists the call numbers, from 1, that return an error.
	fail map[int]bool
}

func (m *mockAnalyzer) Analyze(_ context.Context, _ string) (*models.AnalysisResult, error) {
	m.calls++
	if m.fail[m.calls] {
		return nil, models.ServiceError("Could not analyze the antique. Please try again.", errors.New("HTTP 502"))
	}
	return &models.AnalysisResult{
		Record: &models.AnalysisRecord{
			Title:          "Item " + string(rune('A'+m.calls-1)),
			EstimatedValue: models.EstimatedValue{Min: 10, Max: 20, Currency: "USD"},
		},
		Cost: &models.CostInfo{Total: 0.01},
	}, nil
}

func writeImages(t *testing.T, n int) []Item {
	t.Helper()
	dir := t.TempDir()
	var sources []string
	for i := 0; i < n; i++ {
		path := filepath.Join(dir, string(rune('a'+i))+".png")
		os.WriteFile(path, []byte("\x89PNG\r\n\x1a\nxxxx"), 0600)
		sources = append(sources, path)
	}
	return FromArgs(sources)
}

func newTestProcessor(analyzer *mockAnalyzer) (*Processor, *history.Store, *bytes.Buffer) {
	store := history.NewStore(kv.NewMemory())
	out := &bytes.Buffer{}
	state := app.New(analyzer, store, 1024)
	return NewProcessor(image.NewLoader(1024), state, out, out), store, out
}

func TestProcessor_Process(t *testing.T) {
	analyzer := &mockAnalyzer{}
	proc, store, out := newTestProcessor(analyzer)

	results, err := proc.Process(context.Background(), writeImages(t, 3), &Options{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("Process() got %d results, want 3", len(results))
	}
	for i, r := range results {
		if r.Error != nil {
			t.Errorf("Result[%d] has error: %v", i, r.Error)
		}
		if r.EntryID == "" || r.Record == nil {
			t.Errorf("Result[%d] = %+v, want a saved record", i, r)
		}
	}

	entries := store.List()
	if len(entries) != 3 || entries[0].Title != "Item C" {
		t.Errorf("history = %v, want all items, latest first", entries)
	}
	if !strings.Contains(out.String(), "[2/3] Analyzing b.png...") {
		t.Errorf("output = %q", out.String())
	}
}

func TestProcessor_Failures(t *testing.T) {
	tests := []struct {
		name        string
		stopOnError bool
		wantResults int
		wantErr     bool
		wantCalls   int
	}{
		{"continue", false, 3, false, 3},
		{"stop on error", true, 2, true, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analyzer := &mockAnalyzer{fail: map[int]bool{2: true}}
			proc, store, out := newTestProcessor(analyzer)

			results, err := proc.Process(context.Background(), writeImages(t, 3), &Options{StopOnError: tt.stopOnError})
			if (err != nil) != tt.wantErr {
				t.Errorf("Process() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(results) != tt.wantResults {
				t.Errorf("got %d results, want %d", len(results), tt.wantResults)
			}
			if analyzer.calls != tt.wantCalls {
				t.Errorf("analyzer calls = %d, want %d", analyzer.calls, tt.wantCalls)
			}
			if !errors.Is(results[1].Error, models.ErrService) {
				t.Errorf("results[1].Error = %v", results[1].Error)
			}
			if got := len(store.List()); got != tt.wantCalls-1 {
				t.Errorf("history has %d entries, want %d", got, tt.wantCalls-1)
			}
			if strings.Contains(out.String(), "HTTP 502") {
				t.Error("diagnostic leaked to output")
			}
		})
	}
}

func TestProcessor_BadImage(t *testing.T) {
	analyzer := &mockAnalyzer{}
	proc, _, out := newTestProcessor(analyzer)

	items := []Item{{Index: 1, Source: filepath.Join(t.TempDir(), "missing.jpg")}}
	results, err := proc.Process(context.Background(), items, &Options{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !errors.Is(results[0].Error, models.ErrValidation) {
		t.Errorf("Error = %v, want validation error", results[0].Error)
	}
	if analyzer.calls != 0 {
		t.Error("analyzer called for an unreadable image")
	}
	if !strings.Contains(out.String(), "does not exist") {
		t.Errorf("output = %q", out.String())
	}
}

func TestProcessor_Cancelled(t *testing.T) {
	analyzer := &mockAnalyzer{}
	proc, _, _ := newTestProcessor(analyzer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := proc.Process(ctx, writeImages(t, 2), &Options{DelayMs: 10})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Process() error = %v, want context.Canceled", err)
	}
	if len(results) != 0 || analyzer.calls != 0 {
		t.Errorf("cancelled run processed %d items", len(results))
	}
}

func TestPrintSummary(t *testing.T) {
	tests := []struct {
		name    string
		results []Result
		wantOut []string
	}{
		{
			name: "all successful",
			results: []Result{
				{Index: 1, Source: "a.jpg", Cost: 0.01},
				{Index: 2, Source: "b.jpg", Cost: 0.02},
			},
			wantOut: []string{"Appraised: 2/2 images", "Total cost: $0.0300"},
		},
		{
			name: "with failures",
			results: []Result{
				{Index: 1, Source: "/photos/a.jpg", Cost: 0.01},
				{Index: 2, Source: "/photos/b.jpg", Label: "Brass lamp", Error: models.ValidationError("image is too large")},
			},
			wantOut: []string{"Appraised: 1/2 images", "Failed: 1", "[2] Brass lamp: image is too large"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			proc := NewProcessor(nil, nil, out, out)
			proc.PrintSummary(tt.results)

			for _, want := range tt.wantOut {
				if !strings.Contains(out.String(), want) {
					t.Errorf("PrintSummary() output missing %q:\n%s", want, out.String())
				}
			}
		})
	}
}

func TestCheckCapacity(t *testing.T) {
	if err := CheckCapacity(12, history.MaxEntries); err != nil {
		t.Errorf("CheckCapacity(12) = %v", err)
	}
	err := CheckCapacity(1500, 12)
	if !errors.Is(err, ErrTooMany) || !strings.Contains(err.Error(), "1,500 images") {
		t.Errorf("CheckCapacity(1500) = %v", err)
	}
}
