// Package display renders appraisal reports, the history list and chat
// transcripts for the terminal.
package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/manash/antika/internal/app"
	"github.com/manash/antika/internal/conversation"
	"github.com/manash/antika/internal/cost"
	"github.com/manash/antika/internal/image"
	"github.com/manash/antika/pkg/models"
)

const (
	defaultWidth = 88
	// previewColumns keeps inline photos narrower than the report box.
	previewColumns = 40
)

type styles struct {
	title     lipgloss.Style
	subtitle  lipgloss.Style
	heading   lipgloss.Style
	label     lipgloss.Style
	value     lipgloss.Style
	muted     lipgloss.Style
	good      lipgloss.Style
	warn      lipgloss.Style
	errorText lipgloss.Style
	box       lipgloss.Style
	user      lipgloss.Style
	assistant lipgloss.Style
}

func newStyles(r *lipgloss.Renderer, width int) styles {
	return styles{
		title:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("#B8860B")),
		subtitle:  r.NewStyle().Italic(true).Foreground(lipgloss.Color("#8B7355")),
		heading:   r.NewStyle().Bold(true).Underline(true).Foreground(lipgloss.Color("#8B4513")).MarginTop(1),
		label:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("#626262")),
		value:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("#2E8B57")),
		muted:     r.NewStyle().Foreground(lipgloss.Color("#626262")),
		good:      r.NewStyle().Foreground(lipgloss.Color("#2E8B57")),
		warn:      r.NewStyle().Foreground(lipgloss.Color("#D2691E")),
		errorText: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#CC3333")),
		box: r.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#B8860B")).
			Padding(0, 1).
			Width(width - 2),
		user:      r.NewStyle().Bold(true).Foreground(lipgloss.Color("#00BFFF")),
		assistant: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#B8860B")),
	}
}

type Renderer struct {
	out    io.Writer
	width  int
	styles styles
	// preview enables inline images through the kitty graphics protocol.
	preview bool
}

func New(out io.Writer) *Renderer {
	return &Renderer{
		out:     out,
		width:   defaultWidth,
		styles:  newStyles(lipgloss.NewRenderer(out), defaultWidth),
		preview: IsTerminalSupported(),
	}
}

// SetPreview forces inline image previews on or off.
func (r *Renderer) SetPreview(enabled bool) {
	r.preview = enabled
}

func (r *Renderer) wrap(s string) string {
	return lipgloss.NewStyle().Width(r.width).Render(s)
}

// Report prints a full appraisal.
func (r *Renderer) Report(rec *models.AnalysisRecord) {
	s := r.styles
	var b strings.Builder

	b.WriteString(s.title.Render(rec.Title))
	b.WriteString("\n")
	meta := []string{rec.EstimatedDate, rec.Origin}
	if rec.Style != "" {
		meta = append(meta, rec.Style)
	}
	b.WriteString(s.subtitle.Render(strings.Join(nonEmpty(meta), " · ")))
	b.WriteString("\n\n")

	v := rec.EstimatedValue
	b.WriteString(s.label.Render("Estimated value: "))
	b.WriteString(s.value.Render(FormatValue(v)))
	b.WriteString("\n")
	if rec.ConfidenceScore > 0 {
		b.WriteString(s.label.Render("Confidence:      "))
		b.WriteString(fmt.Sprintf("%.0f%%", rec.ConfidenceScore))
		b.WriteString("\n")
	}
	b.WriteString(s.label.Render("Authenticity:    "))
	switch {
	case rec.IsAuthentic == nil:
		b.WriteString(s.muted.Render(rec.Authenticity()))
	case *rec.IsAuthentic:
		b.WriteString(s.good.Render(rec.Authenticity()))
	default:
		b.WriteString(s.warn.Render(rec.Authenticity()))
	}
	fmt.Fprintln(r.out, s.box.Render(b.String()))

	r.section("Description", rec.Description)
	r.list("Key features", rec.KeyFeatures, false)
	r.list("Restoration tips", rec.RestorationTips, true)
	r.section("Historical context", rec.HistoricalContext)
	r.section("Detailed history", rec.DetailedHistory)

	if urls := rec.SearchURLs(); len(urls) > 0 {
		fmt.Fprintln(r.out, s.heading.Render("Research"))
		for i, q := range nonEmpty(rec.SearchQueries) {
			fmt.Fprintf(r.out, "  %s\n    %s\n", q, s.muted.Render(urls[i]))
		}
	}
}

func (r *Renderer) section(title, body string) {
	if strings.TrimSpace(body) == "" {
		return
	}
	fmt.Fprintln(r.out, r.styles.heading.Render(title))
	fmt.Fprintln(r.out, r.wrap(body))
}

func (r *Renderer) list(title string, items []string, numbered bool) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintln(r.out, r.styles.heading.Render(title))
	for i, item := range items {
		if numbered {
			fmt.Fprintf(r.out, "  %d. %s\n", i+1, item)
		} else {
			fmt.Fprintf(r.out, "  • %s\n", item)
		}
	}
}

// FormatValue renders a value range such as "1,200 - 3,500 USD".
func FormatValue(v models.EstimatedValue) string {
	currency := v.Currency
	if currency == "" {
		currency = "USD"
	}
	if v.Min == v.Max {
		return fmt.Sprintf("%s %s", humanize.Commaf(v.Min), currency)
	}
	return fmt.Sprintf("%s - %s %s", humanize.Commaf(v.Min), humanize.Commaf(v.Max), currency)
}

// HistoryList prints saved entries numbered from 1, most recent first.
func (r *Renderer) HistoryList(entries []models.HistoryEntry, now time.Time) {
	s := r.styles
	if len(entries) == 0 {
		fmt.Fprintln(r.out, s.muted.Render("No saved analyses yet."))
		return
	}

	fmt.Fprintln(r.out, s.heading.Render(fmt.Sprintf("History (%d)", len(entries))))
	for i, e := range entries {
		when := humanize.RelTime(time.UnixMilli(e.Timestamp), now, "ago", "from now")
		fmt.Fprintf(r.out, "  %2d. %s  %s  %s\n",
			i+1,
			s.muted.Render(ShortID(e.ID)),
			e.Title,
			s.muted.Render(fmt.Sprintf("(%s, %s)", FormatValue(e.EstimatedValue), when)))
	}
}

// ShortID is the prefix of an id shown in listings.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Transcript prints chat turns in order.
func (r *Renderer) Transcript(turns []conversation.Turn) {
	for _, t := range turns {
		r.Turn(t)
	}
}

func (r *Renderer) Turn(t conversation.Turn) {
	s := r.styles
	switch t.Role {
	case conversation.RoleUser:
		fmt.Fprintln(r.out, s.user.Render("You:"))
	default:
		fmt.Fprintln(r.out, s.assistant.Render("Assistant:"))
	}
	fmt.Fprintln(r.out, r.wrap(t.Text))
	fmt.Fprintln(r.out)
}

// Suggestions prints follow-up questions numbered from 1.
func (r *Renderer) Suggestions(suggestions []string) {
	if len(suggestions) == 0 {
		return
	}
	fmt.Fprintln(r.out, r.styles.muted.Render("Suggestions:"))
	for i, q := range suggestions {
		fmt.Fprintf(r.out, "  [%d] %s\n", i+1, q)
	}
}

func (r *Renderer) Error(msg string) {
	fmt.Fprintln(r.out, r.styles.errorText.Render("Error: ")+msg)
}

func (r *Renderer) Notice(msg string) {
	fmt.Fprintln(r.out, r.styles.warn.Render(msg))
}

// Cost prints the price of one analysis.
func (r *Renderer) Cost(result *models.AnalysisResult) {
	if result == nil || result.Cost == nil {
		return
	}
	fmt.Fprintln(r.out, r.styles.muted.Render(fmt.Sprintf("%s · %s in / %s out tokens · $%.4f",
		result.Model,
		humanize.Comma(int64(result.Usage.InputTokens)),
		humanize.Comma(int64(result.Usage.OutputTokens)),
		result.Cost.Total)))
}

// Tally prints the running cost of a session.
func (r *Renderer) Tally(t cost.Tally) {
	fmt.Fprintf(r.out, "Requests:      %d\n", t.Requests)
	fmt.Fprintf(r.out, "Input tokens:  %s\n", humanize.Comma(int64(t.InputTokens)))
	fmt.Fprintf(r.out, "Output tokens: %s\n", humanize.Comma(int64(t.OutputTokens)))
	fmt.Fprintf(r.out, "Total cost:    $%.4f\n", t.Total)
}

// Preview shows the image of a data URL inline when the terminal can.
func (r *Renderer) Preview(dataURL string) error {
	if !r.preview {
		return fmt.Errorf("terminal does not support inline images")
	}
	data, mediaType, err := image.Decode(dataURL)
	if err != nil {
		return err
	}
	enc := NewKittyEncoder(r.out, previewColumns)
	if err := enc.EncodeImage(data, mediaType); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	fmt.Fprintln(r.out)
	return nil
}

// Snapshot renders the screen for a state machine snapshot. It is meant to
// be registered with app.App.OnChange.
func (r *Renderer) Snapshot(s app.Snapshot) {
	if s.Notice != "" {
		r.Notice(s.Notice)
	}
	if s.HistoryOpen {
		r.HistoryList(s.History, time.Now())
		return
	}

	switch s.Mode {
	case app.Analyzing:
		fmt.Fprintln(r.out, r.styles.subtitle.Render("Analyzing... examining details, era and value."))
	case app.Viewing:
		if s.Record != nil {
			if r.preview && s.ImageURL != "" {
				r.Preview(s.ImageURL)
			}
			r.Report(s.Record)
			r.Cost(s.LastResult)
		}
	case app.Failed:
		r.Error(s.Error)
	}
}

func nonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if strings.TrimSpace(it) != "" {
			out = append(out, it)
		}
	}
	return out
}

// IsTerminalSupported reports whether stdout is a terminal that speaks the
// kitty graphics protocol.
func IsTerminalSupported() bool {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return false
	}

	termProgram := strings.ToLower(os.Getenv("TERM_PROGRAM"))
	supportedPrograms := []string{"kitty", "ghostty", "wezterm"}

	for _, prog := range supportedPrograms {
		if termProgram == prog {
			return true
		}
	}

	if os.Getenv("KITTY_WINDOW_ID") != "" {
		return true
	}

	term := strings.ToLower(os.Getenv("TERM"))
	return strings.Contains(term, "kitty") || strings.Contains(term, "ghostty")
}
