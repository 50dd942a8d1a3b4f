package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/manash/antika/internal/app"
	"github.com/manash/antika/internal/batch"
	"github.com/manash/antika/internal/history"
	"github.com/manash/antika/internal/image"
	"github.com/manash/antika/pkg/models"
)

var (
	flagFrom        string
	flagStopOnError bool
	flagDelay       int
)

func newBatchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [images...]",
		Short: "Appraise several photos one after another",
		Long: `Appraise a list of photos in order and save every result to history.

Images are given as arguments or read with --from from a file. Plain text
files list one path or URL per line (# starts a comment); .json and .yaml
files hold a list of {image, label} objects. Relative paths in a list file
are resolved against the directory of that file.

Examples:
  antika batch vase.jpg chair.png
  antika batch --from attic.txt --delay 500`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, args, app)
		},
	}

	cmd.Flags().StringVar(&flagFrom, "from", "", "file listing the images (.txt, .json, .yaml)")
	cmd.Flags().BoolVar(&flagStopOnError, "stop-on-error", false, "stop at the first failed image")
	cmd.Flags().IntVar(&flagDelay, "delay", 0, "milliseconds to wait between images")
	return cmd
}

func runBatch(cmd *cobra.Command, args []string, a *App) error {
	var items []batch.Item
	switch {
	case flagFrom != "" && len(args) > 0:
		return models.ValidationError("give images as arguments or with --from, not both")
	case flagFrom != "":
		parsed, err := batch.ParseFile(flagFrom)
		if err != nil {
			return models.ValidationError(err.Error())
		}
		items = parsed
	default:
		items = batch.FromArgs(args)
	}
	if len(items) == 0 {
		return models.ValidationError("no images given")
	}
	if flagDelay < 0 {
		return models.ValidationError("--delay must not be negative")
	}

	if err := batch.CheckCapacity(len(items), history.MaxEntries); err != nil {
		fmt.Fprintf(a.Err, "Warning: %v; older results will be evicted\n", err)
	}

	prov, err := a.newProvider()
	if err != nil {
		return err
	}

	store, closeHistory, err := a.openHistory()
	if err != nil {
		return err
	}
	defer closeHistory()

	proc := batch.NewProcessor(
		image.NewLoader(a.cfg.MaxImageBytes),
		app.New(prov, store, a.cfg.MaxImageBytes),
		a.Out,
		a.Err,
	)
	results, err := proc.Process(cmd.Context(), items, &batch.Options{
		StopOnError: flagStopOnError,
		DelayMs:     flagDelay,
	})
	proc.PrintSummary(results)
	if err != nil {
		return err
	}

	for _, r := range results {
		if r.Error != nil {
			return errors.New("some images could not be appraised")
		}
	}
	return nil
}
