// Package batch appraises a queue of images one after another through the
// application state machine, saving each result to history.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/manash/antika/internal/app"
	"github.com/manash/antika/internal/display"
	"github.com/manash/antika/internal/image"
	"github.com/manash/antika/pkg/models"
)

type Result struct {
	Index    int
	Source   string
	Label    string
	EntryID  string
	Record   *models.AnalysisRecord
	Cost     float64
	Error    error
	Duration time.Duration
}

type Options struct {
	StopOnError bool
	// DelayMs is waited between items to stay under API rate limits.
	DelayMs int
}

type Processor struct {
	loader *image.Loader
	state  *app.App
	out    io.Writer
	err    io.Writer
}

func NewProcessor(loader *image.Loader, state *app.App, out, errOut io.Writer) *Processor {
	return &Processor{
		loader: loader,
		state:  state,
		out:    out,
		err:    errOut,
	}
}

// Process appraises items in order. Items are never analyzed concurrently.
func (p *Processor) Process(ctx context.Context, items []Item, opts *Options) ([]Result, error) {
	results := make([]Result, 0, len(items))
	total := len(items)

	for i, item := range items {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}

		result := p.processItem(ctx, item, i+1, total)
		results = append(results, result)

		if result.Error != nil && opts.StopOnError {
			return results, fmt.Errorf("stopped at item %d: %w", i+1, result.Error)
		}

		if opts.DelayMs > 0 && i < len(items)-1 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(time.Duration(opts.DelayMs) * time.Millisecond):
			}
		}
	}

	return results, nil
}

func (p *Processor) processItem(ctx context.Context, item Item, current, total int) Result {
	start := time.Now()
	result := Result{
		Index:  item.Index,
		Source: item.Source,
		Label:  item.Label,
	}

	fmt.Fprintf(p.out, "[%d/%d] Analyzing %s...\n", current, total, itemName(item))

	img, err := p.loader.Load(ctx, item.Source)
	if err == nil {
		err = p.state.SelectImage(ctx, img)
	}
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = err
		fmt.Fprintf(p.err, "       Error: %s\n", models.UserMessage(err))
		return result
	}

	snap := p.state.Snapshot()
	result.EntryID = snap.EntryID
	result.Record = snap.Record
	if snap.LastResult != nil && snap.LastResult.Cost != nil {
		result.Cost = snap.LastResult.Cost.Total
	}

	fmt.Fprintf(p.out, "       %s: %s (%s)\n", snap.Record.Title,
		display.FormatValue(snap.Record.EstimatedValue), result.Duration.Round(time.Millisecond))
	return result
}

func itemName(item Item) string {
	if item.Label != "" {
		return item.Label
	}
	if isURL(item.Source) {
		return item.Source
	}
	return filepath.Base(item.Source)
}

// PrintSummary reports totals and the failures of a run.
func (p *Processor) PrintSummary(results []Result) {
	var successful, failed int
	var totalCost float64
	var failures []Result

	for _, r := range results {
		if r.Error != nil {
			failed++
			failures = append(failures, r)
		} else {
			successful++
			totalCost += r.Cost
		}
	}

	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "Summary:")
	fmt.Fprintf(p.out, "  Appraised: %d/%d images\n", successful, len(results))
	if failed > 0 {
		fmt.Fprintf(p.out, "  Failed: %d (see errors below)\n", failed)
	}
	fmt.Fprintf(p.out, "  Total cost: $%.4f\n", totalCost)

	if len(failures) > 0 {
		fmt.Fprintln(p.out)
		fmt.Fprintln(p.out, "Errors:")
		for _, f := range failures {
			fmt.Fprintf(p.out, "  [%d] %s: %s\n", f.Index, itemName(Item{Source: f.Source, Label: f.Label}), models.UserMessage(f.Error))
		}
	}
}

// ErrTooMany is returned by CheckCapacity when a run would evict its own
// results from the bounded history.
var ErrTooMany = errors.New("more images than the history keeps")

// CheckCapacity reports whether n results fit in a history of capacity
// entries.
func CheckCapacity(n, capacity int) error {
	if n > capacity {
		return fmt.Errorf("%w: %s images, history keeps %s", ErrTooMany, humanize.Comma(int64(n)), humanize.Comma(int64(capacity)))
	}
	return nil
}
