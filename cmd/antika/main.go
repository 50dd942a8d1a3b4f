package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/manash/antika/internal/config"
	"github.com/manash/antika/internal/history"
	"github.com/manash/antika/internal/keys"
	"github.com/manash/antika/internal/kv"
	"github.com/manash/antika/internal/logging"
	"github.com/manash/antika/internal/provider"
	"github.com/manash/antika/internal/provider/openai"
	"github.com/manash/antika/pkg/models"
)

var (
	version = "dev"
	commit  = "none"
)

var (
	flagConfig   string
	flagAPIKey   string
	flagModel    string
	flagLanguage string
	flagVerbose  bool
	flagLogLevel string
)

type App struct {
	In          io.Reader
	Out         io.Writer
	Err         io.Writer
	Registry    *models.ModelRegistry
	NewProvider provider.Constructor
	OpenKV      func(backend, path string) (kv.Store, func() error, error)
	NewKeyStore func() (*keys.Store, error)
	ReadSecret  func(prompt string) (string, error)
	Now         func() time.Time

	cfg *config.Config
}

func DefaultApp() *App {
	return &App{
		In:          os.Stdin,
		Out:         os.Stdout,
		Err:         os.Stderr,
		Registry:    models.DefaultRegistry(),
		NewProvider: openai.Constructor,
		OpenKV:      kv.Open,
		NewKeyStore: keys.NewStore,
		ReadSecret:  readSecret,
		Now:         time.Now,
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", errorText(err))
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := DefaultApp()
	rootCmd := newRootCmd(app)
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		logging.Component("cli").WithError(err).Debug("command failed")
	}
	return err
}

// errorText is the message printed for a failed command. Typed errors show
// only their user-facing message.
func errorText(err error) string {
	var e *models.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

func newRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "antika",
		Short: "Appraise antiques from a photo",
		Long: `antika identifies an antique from a photo and estimates its era, origin,
style and market value, then answers restoration questions about it.

Analyses are kept in a local history of the 12 most recent items.

Examples:
  antika analyze vase.jpg
  antika analyze https://example.com/chair.png --format yaml
  antika batch --from attic.txt
  antika interactive
  antika history list
  antika chat 1`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.loadConfig(cmd)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "config file (default is $HOME/.antika.yaml)")
	pf.StringVar(&flagAPIKey, "api-key", "", "API key (defaults to stored key, then OPENAI_API_KEY)")
	pf.StringVarP(&flagModel, "model", "m", "", "vision model to use (default "+models.DefaultModel+")")
	pf.StringVarP(&flagLanguage, "language", "l", "", "language of reports and answers (default Turkish)")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "dump API requests and responses to stderr")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")

	cmd.AddCommand(
		newAnalyzeCmd(app),
		newBatchCmd(app),
		newInteractiveCmd(app),
		newHistoryCmd(app),
		newChatCmd(app),
		newKeysCmd(app),
		newModelsCmd(app),
		newVersionCmd(app),
	)
	return cmd
}

// loadConfig merges the config file, ANTIKA_ environment variables and the
// flags given on the command line, in increasing priority.
func (a *App) loadConfig(cmd *cobra.Command) error {
	v := viper.New()
	bindings := map[string]string{
		config.KeyModel:    "model",
		config.KeyLanguage: "language",
		config.KeyVerbose:  "verbose",
		config.KeyLogLevel: "log-level",
	}
	for key, name := range bindings {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	cfg, err := config.Load(v, flagConfig)
	if err != nil {
		return err
	}
	if err := logging.SetLevel(cfg.LogLevel); err != nil {
		return models.ConfigurationError(err.Error(), nil)
	}
	if cfg.File != "" {
		logging.Component("cli").WithField("file", cfg.File).Debug("using config file")
	}
	a.cfg = cfg
	return nil
}

// newProvider resolves the credential and builds the analysis backend for
// the configured model.
func (a *App) newProvider() (provider.Provider, error) {
	store, err := a.NewKeyStore()
	if err != nil {
		logging.Component("cli").WithError(err).Warn("key store unavailable")
		store = nil
	}
	cred, err := keys.Resolve(store, flagAPIKey, string(models.ProviderOpenAI))
	if err != nil {
		return nil, err
	}
	logging.Component("cli").WithField("source", cred.Source).Debug("using API key")

	factory := provider.NewFactory(a.Registry)
	factory.Register(models.ProviderOpenAI, a.NewProvider)
	return factory.New(&provider.Config{
		APIKey:       cred.Key,
		BaseURL:      a.cfg.BaseURL,
		Model:        a.cfg.Model,
		Language:     a.cfg.Language,
		TimeoutSec:   a.cfg.TimeoutSec,
		MaxRetries:   a.cfg.Retries,
		MaxImageSize: a.cfg.MaxImageBytes,
		Verbose:      a.cfg.Verbose,
	})
}

func (a *App) openHistory() (*history.Store, func() error, error) {
	backend, closeFn, err := a.OpenKV(a.cfg.HistoryBackend, a.cfg.HistoryPath)
	if err != nil {
		return nil, nil, models.StorageError("Could not open the history database.", err)
	}
	return history.NewStore(backend), closeFn, nil
}

// resolveEntry finds a saved analysis by id, id prefix or its 1-based
// position in the history list.
func resolveEntry(store *history.Store, ref string) (models.HistoryEntry, error) {
	return history.Find(store.List(), ref)
}

// readSecret reads a line without echo when stdin is a terminal.
func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func newVersionCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// Skips config loading.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(app.Out, "antika %s (commit: %s)\n", version, commit)
		},
	}
}
