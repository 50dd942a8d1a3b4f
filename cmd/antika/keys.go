package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/manash/antika/internal/keys"
	"github.com/manash/antika/pkg/models"
)

const defaultKeyProvider = string(models.ProviderOpenAI)

func newKeysCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage stored API keys",
		Long: `Manage API keys stored in the antika config directory.

The key used for a run is chosen in this order:
  1. --api-key flag
  2. stored key (antika keys set)
  3. OPENAI_API_KEY environment variable`,
	}

	setCmd := &cobra.Command{
		Use:   "set [key]",
		Short: "Store the API key (prompts when no key is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysSet(cmd, args, app)
		},
	}

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Show the key that would be used, masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runKeysGet(cmd, app)
		},
	}

	deleteCmd := &cobra.Command{
		Use:     "delete",
		Aliases: []string{"rm"},
		Short:   "Delete the stored API key",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runKeysDelete(cmd, app)
		},
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored keys, masked",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runKeysList(cmd, app)
		},
	}

	cmd.AddCommand(setCmd, getCmd, deleteCmd, listCmd)
	return cmd
}

func runKeysSet(_ *cobra.Command, args []string, a *App) error {
	store, err := a.NewKeyStore()
	if err != nil {
		return models.ConfigurationError("Could not locate the config directory.", err)
	}

	var key string
	if len(args) == 1 {
		key = args[0]
	} else {
		key, err = a.ReadSecret("Enter OpenAI API key: ")
		if err != nil {
			return fmt.Errorf("failed to read key: %w", err)
		}
	}

	if err := store.Set(defaultKeyProvider, strings.TrimSpace(key)); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Stored key %s in %s\n", keys.MaskKey(strings.TrimSpace(key)), store.Path())
	return nil
}

func runKeysGet(_ *cobra.Command, a *App) error {
	store, err := a.NewKeyStore()
	if err != nil {
		store = nil
	}
	cred, err := keys.Resolve(store, flagAPIKey, defaultKeyProvider)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%s (from %s)\n", keys.MaskKey(cred.Key), cred.Source)
	return nil
}

func runKeysDelete(_ *cobra.Command, a *App) error {
	store, err := a.NewKeyStore()
	if err != nil {
		return models.ConfigurationError("Could not locate the config directory.", err)
	}
	if err := store.Delete(defaultKeyProvider); err != nil {
		return err
	}
	fmt.Fprintln(a.Out, "Deleted stored key")
	return nil
}

func runKeysList(_ *cobra.Command, a *App) error {
	store, err := a.NewKeyStore()
	if err != nil {
		return models.ConfigurationError("Could not locate the config directory.", err)
	}
	names, err := store.List()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintln(a.Out, "No stored keys")
		return nil
	}
	for _, name := range names {
		key, err := store.Get(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "%-10s %s\n", name, keys.MaskKey(key))
	}
	return nil
}
