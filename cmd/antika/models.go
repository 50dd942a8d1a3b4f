package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/manash/antika/pkg/models"
)

func newModelsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the vision models that can appraise images",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return runModels(app)
		},
	}
}

// runModels prints the registry with prices per 1M tokens. The configured
// model is marked with an asterisk.
func runModels(a *App) error {
	w := tabwriter.NewWriter(a.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  MODEL\tINPUT/1M\tOUTPUT/1M\tMAX IMAGE")
	for _, name := range a.Registry.ListByProvider(models.ProviderOpenAI) {
		cap, err := a.Registry.Lookup(name)
		if err != nil {
			return err
		}
		mark := " "
		if name == a.cfg.Model {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %s\t$%.2f\t$%.2f\t%s\n", mark, name, cap.InputPer1M, cap.OutputPer1M,
			humanize.IBytes(uint64(cap.MaxImageSize)))
	}
	return w.Flush()
}
