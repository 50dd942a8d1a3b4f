// Package repl is the line-based interactive surface: images are analyzed,
// saved reports reopened and follow-up questions asked from one prompt.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/manash/antika/internal/app"
	"github.com/manash/antika/internal/conversation"
	"github.com/manash/antika/internal/cost"
	"github.com/manash/antika/internal/display"
	"github.com/manash/antika/internal/image"
	"github.com/manash/antika/pkg/models"
)

type REPL struct {
	in       io.Reader
	out      io.Writer
	err      io.Writer
	app      *app.App
	chat     *conversation.Client
	loader   *image.Loader
	renderer *display.Renderer
	commands map[string]Command
	order    []Command
	running  bool

	// session is the open chat and chatEntry the history entry it is about.
	session   *conversation.Session
	chatEntry string

	tally   cost.Tally
	tallied *models.AnalysisResult
}

type Config struct {
	In       io.Reader
	Out      io.Writer
	Err      io.Writer
	App      *app.App
	Chat     *conversation.Client
	Loader   *image.Loader
	Renderer *display.Renderer
}

// New wires the REPL and registers its renderer as an observer of the
// state machine.
func New(cfg *Config) *REPL {
	r := &REPL{
		in:       cfg.In,
		out:      cfg.Out,
		err:      cfg.Err,
		app:      cfg.App,
		chat:     cfg.Chat,
		loader:   cfg.Loader,
		renderer: cfg.Renderer,
		commands: make(map[string]Command),
	}
	r.registerCommands()
	r.app.OnChange(r.renderer.Snapshot)
	return r
}

func (r *REPL) Run(ctx context.Context) error {
	r.running = true
	r.printWelcome()

	scanner := bufio.NewScanner(r.in)
	for r.running {
		r.printPrompt()
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if err := r.execute(ctx, line); err != nil {
			fmt.Fprintf(r.err, "Error: %v\n", err)
		}
	}

	return scanner.Err()
}

func (r *REPL) execute(ctx context.Context, line string) error {
	parts := parseCommand(line)
	if len(parts) == 0 {
		return nil
	}

	cmdName := strings.ToLower(parts[0])
	args := parts[1:]

	cmd, ok := r.commands[cmdName]
	if !ok {
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmdName)
	}

	if lc, ok := cmd.(lineCommand); ok {
		_, rest, _ := strings.Cut(line, " ")
		return lc.ExecuteLine(ctx, r, strings.TrimSpace(rest))
	}
	return cmd.Execute(ctx, r, args)
}

func (r *REPL) Stop() {
	r.running = false
}

func (r *REPL) printWelcome() {
	fmt.Fprintln(r.out, "antika interactive mode")
	fmt.Fprintln(r.out, "Type 'analyze <image>' to appraise an antique, 'help' for all commands, 'quit' to exit.")
	fmt.Fprintln(r.out)
}

func (r *REPL) printPrompt() {
	s := r.app.Snapshot()
	if r.session != nil && r.chatEntry == s.EntryID && s.Mode == app.Viewing {
		fmt.Fprintf(r.out, "antika [%s] (chat)> ", s.Mode)
		return
	}
	fmt.Fprintf(r.out, "antika [%s]> ", s.Mode)
}

func parseCommand(line string) []string {
	var parts []string
	var current strings.Builder
	inQuotes := false
	quoteChar := rune(0)

	for _, ch := range line {
		switch {
		case ch == '"' || ch == '\'':
			if inQuotes && ch == quoteChar {
				inQuotes = false
				quoteChar = 0
			} else if !inQuotes {
				inQuotes = true
				quoteChar = ch
			} else {
				current.WriteRune(ch)
			}
		case ch == ' ' && !inQuotes:
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(ch)
		}
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}
