package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/manash/antika/internal/app"
	"github.com/manash/antika/internal/conversation"
	"github.com/manash/antika/internal/display"
	"github.com/manash/antika/internal/image"
	"github.com/manash/antika/internal/provider"
	"github.com/manash/antika/internal/repl"
	"github.com/manash/antika/pkg/models"
)

var (
	flagFormat string
	flagShow   bool
)

func newAnalyzeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "analyze <image>",
		Aliases: []string{"a"},
		Short:   "Appraise one photo and save it to history",
		Long: `Appraise a photo of an antique. The image may be a local file or an https
URL. JPEG, PNG, GIF, WebP and HEIC images under the size limit are accepted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, args, app)
		},
	}

	cmd.Flags().StringVarP(&flagFormat, "format", "f", "text", "output format (text, json, yaml)")
	cmd.Flags().BoolVarP(&flagShow, "show", "S", false, "preview the image inline (kitty-compatible terminals)")
	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string, a *App) error {
	ctx := cmd.Context()

	format := strings.ToLower(flagFormat)
	switch format {
	case "text", "json", "yaml":
	default:
		return models.ValidationError(fmt.Sprintf("invalid format %q: must be text, json or yaml", flagFormat))
	}

	img, err := image.NewLoader(a.cfg.MaxImageBytes).Load(ctx, args[0])
	if err != nil {
		return err
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

	renderer := display.New(a.Out)
	if flagShow {
		if err := renderer.Preview(img.DataURL); err != nil {
			fmt.Fprintf(a.Err, "Warning: failed to display: %v\n", err)
		}
	}

	fmt.Fprintf(a.Err, "Analyzing %s with %s...\n", img.Source, a.cfg.Model)

	state := app.New(prov, store, a.cfg.MaxImageBytes)
	if err := state.SelectImage(ctx, img); err != nil {
		return err
	}
	snap := state.Snapshot()

	switch format {
	case "json":
		return writeJSON(a.Out, snap.Record)
	case "yaml":
		return writeYAML(a.Out, snap.Record)
	}

	renderer.Report(snap.Record)
	renderer.Cost(snap.LastResult)
	fmt.Fprintf(a.Out, "Saved to history as %s\n", display.ShortID(snap.EntryID))
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func newInteractiveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "interactive",
		Aliases: []string{"i", "repl"},
		Short:   "Analyze, browse history and ask questions from a prompt",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInteractive(cmd, app)
		},
	}
}

// runInteractive starts the REPL. Without a credential the history can
// still be browsed; analysis and chat report the missing key.
func runInteractive(cmd *cobra.Command, a *App) error {
	var (
		analyzer provider.Analyzer
		opener   provider.ChatOpener
	)
	prov, err := a.newProvider()
	switch {
	case errors.Is(err, provider.ErrAPIKeyRequired):
		fmt.Fprintf(a.Err, "Warning: %s\n", provider.MissingKeyMessage)
	case err != nil:
		return err
	default:
		analyzer, opener = prov, prov
	}

	store, closeHistory, err := a.openHistory()
	if err != nil {
		return err
	}
	defer closeHistory()

	r := repl.New(&repl.Config{
		In:       a.In,
		Out:      a.Out,
		Err:      a.Err,
		App:      app.New(analyzer, store, a.cfg.MaxImageBytes),
		Chat:     conversation.NewClient(opener, a.cfg.Language),
		Loader:   image.NewLoader(a.cfg.MaxImageBytes),
		Renderer: display.New(a.Out),
	})
	return r.Run(cmd.Context())
}
