package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"toolchat/internal/domain"
)

// Available is the command list quoted in the unknown-command reply.
const Available = "/calc, /convert, /generate, /analyze, /chart, /timer, /game, /embed, /note"

// ErrMissingNote is returned by /note without text.
var ErrMissingNote = errors.New("Content is required for /note command")

// CommandError is a user-input error of a slash command. Its message is
// shown to the user verbatim.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string { return e.Err.Error() }

func (e *CommandError) Unwrap() error { return e.Err }

type commandKind int

const (
	kindTool commandKind = iota
	kindVisualization
	kindEmbed
	kindNote
)

type commandSpec struct {
	kind         commandKind
	defaultQuery string
	toolType     string
}

var commands = map[string]commandSpec{
	"calc":       {kindTool, "calculator", "calculator"},
	"calculator": {kindTool, "calculator", "calculator"},
	"convert":    {kindTool, "unit converter", "converter"},
	"converter":  {kindTool, "unit converter", "converter"},
	"generate":   {kindTool, "generator tool", "generator"},
	"gen":        {kindTool, "generator tool", "generator"},
	"analyze":    {kindTool, "analyzer tool", "analyzer"},
	"analyzer":   {kindTool, "analyzer tool", "analyzer"},
	"chart":      {kindVisualization, "chart generator", "chart"},
	"graph":      {kindVisualization, "chart generator", "chart"},
	"diagram":    {kindVisualization, "diagram creator", "diagram"},
	"flowchart":  {kindVisualization, "diagram creator", "diagram"},
	"mindmap":    {kindVisualization, "mind map", "mindmap"},
	"timer":      {kindTool, "timer tool", "utility"},
	"countdown":  {kindTool, "timer tool", "utility"},
	"game":       {kindTool, "simple game", "game"},
	"embed":      {kind: kindEmbed},
	"note":       {kind: kindNote},
}

// Suggestions attached to command replies.
var (
	commandErrorSuggestions = []string{"Try /calc for calculator", "Try /embed <url> for websites", "Try /note <text> for quick notes"}
	noteSuggestions         = []string{"Add another note", "Create a reminder", "Organize my notes"}
)

// ParseCommand splits a slash command into its lower-cased name and the
// trimmed remainder. ok is false when input is not a command.
func ParseCommand(input string) (name, args string, ok bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(input[1:], " ")
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

func (r *Router) command(ctx context.Context, name, args string, history []domain.ChatMessage) Reply {
	reply, err := r.runCommand(ctx, name, args, history)
	if err == nil {
		return reply
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return commandErrorReply(cmdErr.Err)
	}
	r.log().Warn("router: command failed", "command", name, "error", err)
	return textReply(ErrorText(err), commandErrorSuggestions)
}

func (r *Router) runCommand(ctx context.Context, name, args string, history []domain.ChatMessage) (Reply, error) {
	def, ok := commands[name]
	if !ok {
		return Reply{}, &CommandError{Command: name, Err: fmt.Errorf("Unknown command: /%s. Available commands: %s", name, Available)}
	}
	query := args
	if query == "" {
		query = def.defaultQuery
	}
	switch def.kind {
	case kindTool:
		return r.generateTool(ctx, toolRequest{query: query, toolType: def.toolType}, history)
	case kindVisualization:
		return r.generateTool(ctx, toolRequest{query: query, toolType: def.toolType, visualization: true}, history)
	case kindEmbed:
		reply, err := r.embed(ctx, args)
		if err != nil {
			return Reply{}, &CommandError{Command: name, Err: err}
		}
		reply.Message.Suggestions = []string{"Embed another site", "Ask about this page"}
		return reply, nil
	default:
		if args == "" {
			return Reply{}, &CommandError{Command: name, Err: ErrMissingNote}
		}
		reply := textReply("Note: "+args, noteSuggestions)
		reply.Message.Pinned = true
		return reply, nil
	}
}

func commandErrorReply(err error) Reply {
	return textReply("Error: "+err.Error(), commandErrorSuggestions)
}
