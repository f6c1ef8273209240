// Package router turns one user turn into a reply: a slash command, a chat
// completion answered as text or embed, or a generated tool instance.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"toolchat/internal/brain"
	ctxmgr "toolchat/internal/context"
	"toolchat/internal/domain"
	"toolchat/internal/embed"
	"toolchat/internal/injection"
	"toolchat/internal/instance"
	"toolchat/internal/planner"
	"toolchat/internal/toolconfig"
)

var (
	// ErrEmptySessionID is returned when Submit is called without a session.
	ErrEmptySessionID = errors.New("router: session ID must not be empty")
	// ErrEmptyInput is returned for a blank user turn.
	ErrEmptyInput = errors.New("router: input must not be empty")
	// ErrSessionBusy is returned while the session still has a turn in flight.
	ErrSessionBusy = errors.New("router: a reply is already being generated for this session")
)

// FatalText is the reply for any failure outside the handled error paths.
const FatalText = "Sorry, I encountered an error while processing your request."

// Sender issues one completion. *brain.Brain satisfies it.
type Sender interface {
	Send(ctx context.Context, req brain.Request) (string, error)
}

// Planner analyses a request before its tool is generated. *planner.Planner
// satisfies it.
type Planner interface {
	PlanTool(ctx context.Context, query string, history []domain.ChatMessage) planner.ToolPlan
	PlanVisualization(ctx context.Context, query, vizType string, history []domain.ChatMessage) planner.VisualizationPlan
}

// HistoryFactory creates the transcript store for a session.
type HistoryFactory func(sessionID string) domain.SessionHistoryStore

// Turn is one user submission.
type Turn struct {
	SessionID string
	Input     string
	// Force restricts the chat reply to one response type. Empty lets the
	// model choose.
	Force domain.ResponseType
}

// Reply is the assistant's answer to a turn. Instance is set for tool
// replies and Page for embeds.
type Reply struct {
	Message   domain.Message
	Reasoning string
	Instance  *instance.Instance
	Page      *embed.Page
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets a structured logger. If l is nil it is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithHistory persists every turn through stores created by f.
func WithHistory(f HistoryFactory) Option {
	return func(r *Router) { r.historyFactory = f }
}

// WithPlanner enables the planning step of tool generation.
func WithPlanner(p Planner) Option {
	return func(r *Router) { r.planner = p }
}

// WithDescriber looks up titles for embedded pages.
func WithDescriber(d *embed.Describer) Option {
	return func(r *Router) { r.describer = d }
}

// WithExamples supplies the template summary placed in the tool prompt.
func WithExamples(f func() string) Option {
	return func(r *Router) { r.examples = f }
}

// WithParseOptions sets the options used to parse generated configurations.
func WithParseOptions(opts ...toolconfig.ParseOption) Option {
	return func(r *Router) { r.parseOpts = opts }
}

// WithWindows sets how many recent transcript messages accompany chat and
// tool-generation requests. Non-positive values keep the defaults.
func WithWindows(chat, tool int) Option {
	return func(r *Router) {
		if chat > 0 {
			r.chatWindow = chat
		}
		if tool > 0 {
			r.toolWindow = tool
		}
	}
}

// session is the per-session state the router keeps between turns.
type session struct {
	history  domain.SessionHistoryStore
	inFlight bool
}

// Router answers user turns. Each session has at most one turn in flight;
// different sessions proceed concurrently.
type Router struct {
	sender         Sender
	registry       *instance.Registry
	planner        Planner
	describer      *embed.Describer
	historyFactory HistoryFactory
	examples       func() string
	parseOpts      []toolconfig.ParseOption
	chatWindow     int
	toolWindow     int
	logger         *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// newID and now are replaced in tests.
var (
	newID = uuid.NewString
	now   = time.Now
)

// NewRouter creates a Router. Panics if sender or registry is nil.
func NewRouter(sender Sender, registry *instance.Registry, opts ...Option) *Router {
	if sender == nil {
		panic("router: sender must not be nil")
	}
	if registry == nil {
		panic("router: registry must not be nil")
	}
	r := &Router{
		sender:     sender,
		registry:   registry,
		chatWindow: 5,
		toolWindow: 3,
		sessions:   make(map[string]*session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) log() *slog.Logger {
	if r.logger != nil {
		return r.logger
	}
	return slog.Default()
}

// Sessions returns the sorted IDs of sessions seen so far.
func (r *Router) Sessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Busy reports whether the session has a turn in flight.
func (r *Router) Busy(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	return ok && s.inFlight
}

// acquire marks the session in flight, creating it on first use.
func (r *Router) acquire(sessionID string) (*session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		s = &session{}
		if r.historyFactory != nil {
			s.history = r.historyFactory(sessionID)
		}
		r.sessions[sessionID] = s
	}
	if s.inFlight {
		return nil, ErrSessionBusy
	}
	s.inFlight = true
	return s, nil
}

func (r *Router) release(s *session) {
	r.mu.Lock()
	s.inFlight = false
	r.mu.Unlock()
}

// Submit answers one turn. Failures of the model, the configuration or the
// command are reported inside the reply; only an empty or concurrent turn
// returns an error.
func (r *Router) Submit(ctx context.Context, turn Turn) (reply Reply, err error) {
	if turn.SessionID == "" {
		return Reply{}, ErrEmptySessionID
	}
	input := strings.TrimSpace(turn.Input)
	if input == "" {
		return Reply{}, ErrEmptyInput
	}
	s, err := r.acquire(turn.SessionID)
	if err != nil {
		return Reply{}, err
	}
	defer r.release(s)

	logger := r.log().With("session", turn.SessionID)
	injection.Check(input, logger)

	history := r.recent(s, logger)
	r.record(s, domain.Message{
		ID:        newID(),
		SessionID: turn.SessionID,
		Role:      domain.RoleUser,
		Type:      domain.ResponseText,
		Content:   input,
		Timestamp: now(),
	}, logger)

	defer func() {
		if p := recover(); p != nil {
			logger.Error("router: turn panicked", "panic", p)
			reply = textReply(FatalText, nil)
		}
		reply.Message.SessionID = turn.SessionID
		r.record(s, reply.Message, logger)
	}()

	if name, args, ok := ParseCommand(input); ok {
		return r.command(ctx, name, args, history), nil
	}
	return r.chat(ctx, input, turn.Force, history), nil
}

// recent loads the transcript window large enough for either request kind.
func (r *Router) recent(s *session, logger *slog.Logger) []domain.ChatMessage {
	if s.history == nil {
		return nil
	}
	msgs, err := s.history.LoadHistory(max(r.chatWindow, r.toolWindow))
	if err != nil {
		logger.Warn("router: load history failed", "error", err)
		return nil
	}
	out := make([]domain.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.AsChat())
	}
	return out
}

func (r *Router) record(s *session, msg domain.Message, logger *slog.Logger) {
	if s.history == nil {
		return
	}
	if err := s.history.Append(msg); err != nil {
		logger.Warn("router: append history failed", "message", msg.ID, "error", err)
	}
}

// textReply builds a plain assistant text message.
func textReply(content string, suggestions []string) Reply {
	return Reply{Message: domain.Message{
		ID:          newID(),
		Role:        domain.RoleAssistant,
		Type:        domain.ResponseText,
		Content:     content,
		Suggestions: suggestions,
		Timestamp:   now(),
	}}
}

func window(history []domain.ChatMessage, n int) []domain.ChatMessage {
	return ctxmgr.RecentWindow(history, n)
}

func errorf(format string, args ...any) error {
	return fmt.Errorf("router: "+format, args...)
}
