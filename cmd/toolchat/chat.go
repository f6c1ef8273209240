package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"toolchat/internal/banner"
	"toolchat/internal/domain"
	"toolchat/internal/instance"
	"toolchat/internal/render"
	"toolchat/internal/router"
)

const chatPrompt = "> "

const chatHelp = `Type a message to chat. Tool replies become the current tool.
  :view              show the current tool
  :set <id> <value>  set an input of the current tool (value is JSON or text)
  :run [action]      run an action; the only action runs when omitted
  :quit              leave`

// terminalWidth is the column count used for rendering; tests replace it.
var terminalWidth = func() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

// chatREPL drives one terminal chat session.
type chatREPL struct {
	app     *app
	session string
	out     io.Writer
	term    *render.Terminal

	current *instance.Instance
	untrack []func()
}

func newChatREPL(a *app, sessionID string, out io.Writer) *chatREPL {
	return &chatREPL{app: a, session: sessionID, out: out, term: render.NewTerminal(terminalWidth())}
}

func runChat(cmd *cobra.Command, path, sessionID, version string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, path, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	banner.Startup(version, &banner.StartupOpts{Writer: out, Mode: "chat"})
	r := newChatREPL(a, sessionID, out)
	defer r.close()
	if err := r.resume(ctx); err != nil {
		a.logger.Warn("toolstore: could not restore session tools", "session", sessionID, "error", err)
	}
	fmt.Fprintln(out, "Type :help for commands.")
	return r.loop(ctx, cmd.InOrStdin())
}

// resume restores the session's saved tools and makes the newest one current.
func (r *chatREPL) resume(ctx context.Context) error {
	restored, err := r.app.restoreSession(ctx, r.session, r.track)
	if len(restored) > 0 {
		r.current = restored[len(restored)-1]
		fmt.Fprintf(r.out, "Restored %d tool(s); :view shows %q.\n", len(restored), r.current.Config.Title)
	}
	return err
}

func (r *chatREPL) track(in *instance.Instance, sessionID string) {
	if r.app.store == nil {
		return
	}
	r.untrack = append(r.untrack, r.app.store.Track(context.Background(), in, sessionID, r.app.logger))
}

func (r *chatREPL) close() {
	for _, cancel := range r.untrack {
		cancel()
	}
	r.untrack = nil
}

func (r *chatREPL) loop(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for {
		fmt.Fprint(r.out, chatPrompt)
		if !sc.Scan() {
			fmt.Fprintln(r.out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if r.handle(ctx, line) {
			return nil
		}
	}
}

// handle processes one line and reports whether the session should end.
func (r *chatREPL) handle(ctx context.Context, line string) (quit bool) {
	if rest, ok := strings.CutPrefix(line, ":"); ok {
		name, args, _ := strings.Cut(rest, " ")
		switch name {
		case "q", "quit", "exit":
			return true
		case "help", "h":
			fmt.Fprintln(r.out, chatHelp)
		case "view":
			r.showTool()
		case "set":
			r.set(strings.TrimSpace(args))
		case "run":
			r.run(ctx, strings.TrimSpace(args))
		default:
			fmt.Fprintf(r.out, "Unknown command :%s (try :help)\n", name)
		}
		return false
	}

	reply, err := r.app.router.Submit(ctx, router.Turn{SessionID: r.session, Input: line})
	if err != nil {
		fmt.Fprintf(r.out, "Error: %v\n", err)
		return false
	}
	r.show(reply)
	return false
}

func (r *chatREPL) show(reply router.Reply) {
	switch {
	case reply.Instance != nil:
		r.current = reply.Instance
		r.track(reply.Instance, r.session)
		r.showTool()
	case reply.Page != nil:
		p := reply.Page
		fmt.Fprintf(r.out, "%s\n%s\n", p.Title, p.URL)
		if p.Description != "" {
			fmt.Fprintln(r.out, p.Description)
		}
		render.QR(r.out, p.URL)
	default:
		fmt.Fprintln(r.out, reply.Message.Content)
		if reply.Message.Type == domain.ResponseText && len(reply.Message.Suggestions) > 0 {
			fmt.Fprintf(r.out, "Try: %s\n", strings.Join(reply.Message.Suggestions, " | "))
		}
	}
}

func (r *chatREPL) showTool() {
	if r.current == nil {
		fmt.Fprintln(r.out, "No tool yet. Ask for one, e.g. \"build a tip calculator\".")
		return
	}
	v, err := r.current.View()
	if err != nil {
		fmt.Fprintf(r.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(r.out, r.term.Render(v))
	if ids := actionIDs(r.current); len(ids) > 0 {
		fmt.Fprintf(r.out, "actions: %s\n", strings.Join(ids, ", "))
	}
}

func (r *chatREPL) set(args string) {
	if r.current == nil {
		fmt.Fprintln(r.out, "No tool to set.")
		return
	}
	id, raw, ok := strings.Cut(args, " ")
	if !ok {
		id, raw, ok = strings.Cut(args, "=")
	}
	if !ok || id == "" {
		fmt.Fprintln(r.out, "Usage: :set <id> <value>")
		return
	}
	if err := r.current.State.Set(id, parseInputValue(strings.TrimSpace(raw))); err != nil {
		fmt.Fprintf(r.out, "Error: %v\n", err)
		return
	}
	r.showTool()
}

func (r *chatREPL) run(ctx context.Context, action string) {
	if r.current == nil {
		fmt.Fprintln(r.out, "No tool to run.")
		return
	}
	if action == "" {
		ids := actionIDs(r.current)
		if len(ids) != 1 {
			fmt.Fprintf(r.out, "Usage: :run <action> (one of: %s)\n", strings.Join(ids, ", "))
			return
		}
		action = ids[0]
	}
	if _, err := r.app.registry.Run(ctx, r.current.ID, action); err != nil {
		fmt.Fprintf(r.out, "Error: %v\n", err)
		return
	}
	r.showTool()
}

// actionIDs lists the ids of every action of in, in display order.
func actionIDs(in *instance.Instance) []string {
	acts := in.Config.Actions()
	ids := make([]string, 0, len(acts))
	for _, a := range acts {
		ids = append(ids, a.ID)
	}
	return ids
}

// parseInputValue reads raw as JSON when it parses, else as text, so
// numbers, booleans and arrays reach the input as typed values.
func parseInputValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}
