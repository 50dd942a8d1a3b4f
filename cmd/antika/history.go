package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/manash/antika/internal/display"
	"github.com/manash/antika/internal/image"
	"github.com/manash/antika/internal/security"
	"github.com/manash/antika/pkg/models"
)

var (
	flagOutput       string
	flagExportFormat string
	flagSaveImage    bool
	flagWithImages   bool
	flagForce        bool
)

func newHistoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"h"},
		Short:   "Browse and manage saved analyses",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistoryList(cmd, app)
		},
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved analyses, most recent first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistoryList(cmd, app)
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <n|id>",
		Short: "Show a saved analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryShow(cmd, args, app)
		},
	}
	showCmd.Flags().BoolVar(&flagSaveImage, "save-image", false, "write the analyzed image to the current directory")
	showCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "file name for --save-image (default from the title)")

	deleteCmd := &cobra.Command{
		Use:     "delete <n|id>",
		Aliases: []string{"rm"},
		Short:   "Delete a saved analysis",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryDelete(cmd, args, app)
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all saved analyses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistoryClear(cmd, app)
		},
	}
	clearCmd.Flags().BoolVar(&flagForce, "force", false, "do not ask for confirmation")

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export saved analyses as YAML or JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistoryExport(cmd, app)
		},
	}
	exportCmd.Flags().StringVarP(&flagExportFormat, "format", "f", "yaml", "export format (yaml, json)")
	exportCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "output file (default stdout)")
	exportCmd.Flags().BoolVar(&flagWithImages, "with-images", false, "include the image data URLs")

	cmd.AddCommand(listCmd, showCmd, deleteCmd, clearCmd, exportCmd)
	return cmd
}

func runHistoryList(_ *cobra.Command, a *App) error {
	store, closeHistory, err := a.openHistory()
	if err != nil {
		return err
	}
	defer closeHistory()

	display.New(a.Out).HistoryList(store.List(), a.Now())
	return nil
}

func runHistoryShow(_ *cobra.Command, args []string, a *App) error {
	store, closeHistory, err := a.openHistory()
	if err != nil {
		return err
	}
	defer closeHistory()

	entry, err := resolveEntry(store, args[0])
	if err != nil {
		return err
	}

	renderer := display.New(a.Out)
	if entry.ImageURL != "" {
		renderer.Preview(entry.ImageURL)
	}
	renderer.Report(&entry.AnalysisRecord)

	if flagSaveImage {
		path, err := saveImage(entry)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "Saved: %s\n", path)
	}
	return nil
}

// saveImage writes the image of entry below the working directory.
func saveImage(entry models.HistoryEntry) (string, error) {
	data, mediaType, err := image.Decode(entry.ImageURL)
	if err != nil {
		return "", models.ValidationError("this entry has no stored image")
	}
	ext := image.Extension(mediaType)

	path := flagOutput
	if path == "" {
		path = security.SanitizeFilename(entry.Title) + ext
	}
	if err := security.ValidateOutputPath(path, ext); err != nil {
		return "", models.ValidationError(fmt.Sprintf("invalid output path %q: %v", path, err))
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	return path, nil
}

func runHistoryDelete(_ *cobra.Command, args []string, a *App) error {
	store, closeHistory, err := a.openHistory()
	if err != nil {
		return err
	}
	defer closeHistory()

	entry, err := resolveEntry(store, args[0])
	if err != nil {
		return err
	}
	store.Remove(entry.ID)
	fmt.Fprintf(a.Out, "Deleted: %s (%s)\n", entry.Title, display.ShortID(entry.ID))
	return nil
}

func runHistoryClear(_ *cobra.Command, a *App) error {
	store, closeHistory, err := a.openHistory()
	if err != nil {
		return err
	}
	defer closeHistory()

	entries := store.List()
	if len(entries) == 0 {
		fmt.Fprintln(a.Out, "History is already empty.")
		return nil
	}

	if !flagForce {
		fmt.Fprintf(a.Out, "Delete all %d saved analyses? [y/N] ", len(entries))
		answer, _ := bufio.NewReader(a.In).ReadString('\n')
		if ans := strings.ToLower(strings.TrimSpace(answer)); ans != "y" && ans != "yes" {
			fmt.Fprintln(a.Out, "Aborted.")
			return nil
		}
	}

	store.Clear()
	fmt.Fprintln(a.Out, "History cleared.")
	return nil
}

func runHistoryExport(_ *cobra.Command, a *App) error {
	format := strings.ToLower(flagExportFormat)
	var exts []string
	switch format {
	case "yaml", "yml":
		format = "yaml"
		exts = []string{".yaml", ".yml"}
	case "json":
		exts = []string{".json"}
	default:
		return models.ValidationError(fmt.Sprintf("invalid format %q: must be yaml or json", flagExportFormat))
	}
	if flagOutput != "" {
		if err := security.ValidateOutputPath(flagOutput, exts...); err != nil {
			return models.ValidationError(fmt.Sprintf("invalid output path %q: %v", flagOutput, err))
		}
	}

	store, closeHistory, err := a.openHistory()
	if err != nil {
		return err
	}
	defer closeHistory()

	entries := store.List()
	if !flagWithImages {
		for i := range entries {
			entries[i].ImageURL = ""
		}
	}

	var buf bytes.Buffer
	if format == "json" {
		err = writeJSON(&buf, entries)
	} else {
		err = writeYAML(&buf, entries)
	}
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	if flagOutput == "" {
		_, err = a.Out.Write(buf.Bytes())
		return err
	}
	if err := os.WriteFile(flagOutput, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	fmt.Fprintf(a.Err, "Exported %d analyses to %s\n", len(entries), flagOutput)
	return nil
}
