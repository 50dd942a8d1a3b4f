package repl

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/manash/antika/internal/app"
	"github.com/manash/antika/internal/conversation"
	"github.com/manash/antika/internal/display"
	"github.com/manash/antika/internal/history"
	"github.com/manash/antika/pkg/models"
)

type Command interface {
	Name() string
	Aliases() []string
	Description() string
	Usage() string
	Execute(ctx context.Context, r *REPL, args []string) error
}

// lineCommand is implemented by commands that take free text. They receive
// everything after the command name untouched.
type lineCommand interface {
	ExecuteLine(ctx context.Context, r *REPL, rest string) error
}

func (r *REPL) registerCommands() {
	r.order = []Command{
		&AnalyzeCommand{},
		&ShowCommand{},
		&ImageCommand{},
		&HistoryCommand{},
		&OpenCommand{},
		&DeleteCommand{},
		&ClearCommand{},
		&ResetCommand{},
		&AskCommand{},
		&SuggestCommand{},
		&CostCommand{},
		&HelpCommand{},
		&QuitCommand{},
	}

	for _, cmd := range r.order {
		r.commands[cmd.Name()] = cmd
		for _, alias := range cmd.Aliases() {
			r.commands[alias] = cmd
		}
	}
}

// AnalyzeCommand appraises an image file or URL
type AnalyzeCommand struct{}

func (c *AnalyzeCommand) Name() string        { return "analyze" }
func (c *AnalyzeCommand) Aliases() []string   { return []string{"a"} }
func (c *AnalyzeCommand) Description() string { return "Appraise an image file or https URL" }
func (c *AnalyzeCommand) Usage() string       { return "analyze <path|url>" }

func (c *AnalyzeCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	img, err := r.loader.Load(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Loaded %s (%s, %s)\n", img.Source, img.MediaType, humanize.IBytes(uint64(img.Size)))

	// Failures and notices reach the screen through the state observer.
	if err := r.app.SelectImage(ctx, img); errors.Is(err, app.ErrBusy) {
		return err
	}
	r.recordCost()
	return nil
}

// recordCost adds the latest analysis to the session tally once.
func (r *REPL) recordCost() {
	s := r.app.Snapshot()
	if s.LastResult == nil || s.LastResult == r.tallied {
		return
	}
	r.tallied = s.LastResult
	r.tally.Add(s.LastResult.Usage, s.LastResult.Cost)
}

// ShowCommand redraws the current screen
type ShowCommand struct{}

func (c *ShowCommand) Name() string        { return "show" }
func (c *ShowCommand) Aliases() []string   { return []string{"view", "s"} }
func (c *ShowCommand) Description() string { return "Show the current report" }
func (c *ShowCommand) Usage() string       { return "show" }

func (c *ShowCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	s := r.app.Snapshot()
	if s.Mode == app.Browsing && !s.HistoryOpen {
		fmt.Fprintln(r.out, "Nothing to show - use 'analyze' or 'open' first")
		return nil
	}
	r.renderer.Snapshot(s)
	return nil
}

// ImageCommand previews the current image inline
type ImageCommand struct{}

func (c *ImageCommand) Name() string        { return "image" }
func (c *ImageCommand) Aliases() []string   { return []string{"img"} }
func (c *ImageCommand) Description() string { return "Preview the current image (kitty-compatible terminals)" }
func (c *ImageCommand) Usage() string       { return "image" }

func (c *ImageCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	s := r.app.Snapshot()
	if s.ImageURL == "" {
		return fmt.Errorf("no current image")
	}
	return r.renderer.Preview(s.ImageURL)
}

// HistoryCommand toggles the history panel
type HistoryCommand struct{}

func (c *HistoryCommand) Name() string        { return "history" }
func (c *HistoryCommand) Aliases() []string   { return []string{"h", "hist"} }
func (c *HistoryCommand) Description() string { return "Open or close the saved analyses" }
func (c *HistoryCommand) Usage() string       { return "history" }

func (c *HistoryCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	r.app.ToggleHistory()
	return nil
}

// OpenCommand shows a saved analysis
type OpenCommand struct{}

func (c *OpenCommand) Name() string        { return "open" }
func (c *OpenCommand) Aliases() []string   { return []string{"o", "load"} }
func (c *OpenCommand) Description() string { return "Show a saved analysis by number or id" }
func (c *OpenCommand) Usage() string       { return "open <n|id>" }

func (c *OpenCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	entry, err := r.resolveEntry(args[0])
	if err != nil {
		return err
	}
	return r.app.SelectHistory(entry.ID)
}

// DeleteCommand removes a saved analysis
type DeleteCommand struct{}

func (c *DeleteCommand) Name() string        { return "delete" }
func (c *DeleteCommand) Aliases() []string   { return []string{"del", "rm"} }
func (c *DeleteCommand) Description() string { return "Delete a saved analysis by number or id" }
func (c *DeleteCommand) Usage() string       { return "delete <n|id>" }

func (c *DeleteCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	entry, err := r.resolveEntry(args[0])
	if err != nil {
		return err
	}
	r.app.DeleteHistory(entry.ID)
	fmt.Fprintf(r.out, "Deleted: %s (%s)\n", entry.Title, display.ShortID(entry.ID))
	return nil
}

// ClearCommand removes every saved analysis
type ClearCommand struct{}

func (c *ClearCommand) Name() string        { return "clear" }
func (c *ClearCommand) Aliases() []string   { return nil }
func (c *ClearCommand) Description() string { return "Delete all saved analyses" }
func (c *ClearCommand) Usage() string       { return "clear" }

func (c *ClearCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	r.app.ClearHistory()
	fmt.Fprintln(r.out, "History cleared")
	return nil
}

// ResetCommand returns to the empty screen
type ResetCommand struct{}

func (c *ResetCommand) Name() string        { return "reset" }
func (c *ResetCommand) Aliases() []string   { return []string{"new"} }
func (c *ResetCommand) Description() string { return "Discard the current report and start over" }
func (c *ResetCommand) Usage() string       { return "reset" }

func (c *ResetCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	r.app.Reset()
	r.session = nil
	r.chatEntry = ""
	fmt.Fprintln(r.out, "Ready for a new image")
	return nil
}

// AskCommand sends a question to the restoration assistant
type AskCommand struct{}

func (c *AskCommand) Name() string        { return "ask" }
func (c *AskCommand) Aliases() []string   { return []string{"chat"} }
func (c *AskCommand) Description() string { return "Ask the restoration assistant about the current item" }
func (c *AskCommand) Usage() string       { return "ask <question>" }

func (c *AskCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	return c.ExecuteLine(ctx, r, strings.Join(args, " "))
}

func (c *AskCommand) ExecuteLine(ctx context.Context, r *REPL, rest string) error {
	if rest == "" {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	return r.ask(ctx, rest)
}

// SuggestCommand sends one of the offered follow-up questions
type SuggestCommand struct{}

func (c *SuggestCommand) Name() string        { return "suggest" }
func (c *SuggestCommand) Aliases() []string   { return []string{"sg"} }
func (c *SuggestCommand) Description() string { return "Ask suggested question n" }
func (c *SuggestCommand) Usage() string       { return "suggest <n>" }

func (c *SuggestCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	sess, err := r.chatSession()
	if err != nil {
		return err
	}

	suggestions := sess.Suggestions()
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > len(suggestions) {
		return fmt.Errorf("no suggestion %s (%d available)", args[0], len(suggestions))
	}
	r.renderer.Turn(conversation.Turn{Role: conversation.RoleUser, Text: suggestions[n-1]})
	return r.ask(ctx, suggestions[n-1])
}

// chatSession returns the conversation about the report on screen, opening
// a new one when the report changed since the last question.
func (r *REPL) chatSession() (*conversation.Session, error) {
	s := r.app.Snapshot()
	if s.Mode != app.Viewing || s.Record == nil {
		return nil, fmt.Errorf("no report on screen - use 'analyze' or 'open' first")
	}
	if r.session != nil && r.chatEntry == s.EntryID {
		return r.session, nil
	}

	sess, err := r.chat.Open(s.Record)
	if err != nil {
		return nil, err
	}
	r.session = sess
	r.chatEntry = s.EntryID
	r.renderer.Transcript(sess.Transcript())
	return sess, nil
}

func (r *REPL) ask(ctx context.Context, question string) error {
	sess, err := r.chatSession()
	if err != nil {
		return err
	}

	reply, err := sess.Send(ctx, question)
	if err != nil {
		return err
	}
	r.renderer.Turn(conversation.Turn{Role: conversation.RoleAssistant, Text: reply.DisplayText})
	r.renderer.Suggestions(reply.Suggestions)
	return nil
}

// CostCommand shows what this session has spent
type CostCommand struct{}

func (c *CostCommand) Name() string        { return "cost" }
func (c *CostCommand) Aliases() []string   { return []string{"$"} }
func (c *CostCommand) Description() string { return "Show the cost of analyses in this session" }
func (c *CostCommand) Usage() string       { return "cost" }

func (c *CostCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	if r.tally.Requests == 0 {
		fmt.Fprintln(r.out, "No analyses run in this session.")
		return nil
	}
	r.renderer.Tally(r.tally)
	return nil
}

// HelpCommand shows help
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Aliases() []string   { return []string{"?"} }
func (c *HelpCommand) Description() string { return "Show available commands" }
func (c *HelpCommand) Usage() string       { return "help" }

func (c *HelpCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	fmt.Fprintln(r.out, "Available commands:")
	fmt.Fprintln(r.out)

	for _, cmd := range r.order {
		aliases := ""
		if len(cmd.Aliases()) > 0 {
			aliases = fmt.Sprintf(" (%s)", strings.Join(cmd.Aliases(), ", "))
		}
		fmt.Fprintf(r.out, "  %-20s%s\n", cmd.Name()+aliases, cmd.Description())
		fmt.Fprintf(r.out, "                      Usage: %s\n", cmd.Usage())
	}

	return nil
}

// QuitCommand exits the REPL
type QuitCommand struct{}

func (c *QuitCommand) Name() string        { return "quit" }
func (c *QuitCommand) Aliases() []string   { return []string{"exit", "q"} }
func (c *QuitCommand) Description() string { return "Exit interactive mode" }
func (c *QuitCommand) Usage() string       { return "quit" }

func (c *QuitCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	fmt.Fprintln(r.out, "Goodbye!")
	r.Stop()
	return nil
}

// resolveEntry finds a saved analysis by id, id prefix or its 1-based
// position in the history list.
func (r *REPL) resolveEntry(ref string) (models.HistoryEntry, error) {
	return history.Find(r.app.Snapshot().History, ref)
}
