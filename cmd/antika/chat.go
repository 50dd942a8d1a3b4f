package main

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/manash/antika/internal/conversation"
	"github.com/manash/antika/internal/display"
)

func newChatCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <n|id>",
		Short: "Ask restoration questions about a saved analysis",
		Long: `Start a conversation with the restoration assistant about a saved analysis.
Type a question, or the number of a suggested question. An empty line or
'quit' ends the conversation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, args, app)
		},
	}
}

func runChat(cmd *cobra.Command, args []string, a *App) error {
	ctx := cmd.Context()

	store, closeHistory, err := a.openHistory()
	if err != nil {
		return err
	}
	defer closeHistory()

	entry, err := resolveEntry(store, args[0])
	if err != nil {
		return err
	}

	prov, err := a.newProvider()
	if err != nil {
		return err
	}

	session, err := conversation.NewClient(prov, a.cfg.Language).Open(&entry.AnalysisRecord)
	if err != nil {
		return err
	}

	renderer := display.New(a.Out)
	renderer.Transcript(session.Transcript())
	renderer.Suggestions(session.Suggestions())

	scanner := bufio.NewScanner(a.In)
	for {
		fmt.Fprint(a.Out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == "quit" || line == "exit" {
			break
		}

		// A bare number picks one of the offered suggestions.
		if n, err := strconv.Atoi(line); err == nil {
			suggestions := session.Suggestions()
			if n >= 1 && n <= len(suggestions) {
				line = suggestions[n-1]
				renderer.Turn(conversation.Turn{Role: conversation.RoleUser, Text: line})
			}
		}

		reply, err := session.Send(ctx, line)
		if err != nil {
			fmt.Fprintf(a.Err, "Error: %s\n", errorText(err))
			continue
		}
		renderer.Turn(conversation.Turn{Role: conversation.RoleAssistant, Text: reply.DisplayText})
		renderer.Suggestions(reply.Suggestions)
	}
	return scanner.Err()
}
