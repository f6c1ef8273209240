// Package instance owns the live tool instances of a chat: each instance
// pairs a configuration with its own input state and results, and runs its
// actions one at a time.
package instance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"toolchat/internal/queue"
	"toolchat/internal/render"
	"toolchat/internal/toolconfig"
	"toolchat/internal/toolengine"
	"toolchat/internal/toolstate"
)

var (
	// ErrNotFound is returned for an unknown instance id.
	ErrNotFound = errors.New("instance: not found")
	// ErrExists is returned when creating an instance under a taken id.
	ErrExists = errors.New("instance: already exists")
	// ErrUnknownAction is returned for an action id the config does not declare.
	ErrUnknownAction = errors.New("instance: unknown action")
	// ErrActionInFlight is returned by Trigger while another action of the
	// same instance is running.
	ErrActionInFlight = errors.New("instance: an action is already running")
	// ErrDisposed is returned for work on an instance that has been removed.
	ErrDisposed = errors.New("instance: disposed")
)

// Settings are per-registry defaults applied to every new instance.
type Settings struct {
	// CarryResults seeds each run with the previous results so stateful
	// tools such as games keep their state between actions.
	CarryResults bool
	// EnforceRequired blocks runs while required inputs are empty.
	EnforceRequired bool
}

// Option is a functional option for configuring Registry.
type Option func(*Registry)

// WithLogger sets a structured logger. If l is nil it is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithSettings sets the defaults for new instances.
func WithSettings(s Settings) Option {
	return func(r *Registry) { r.settings = s }
}

// Instance is one rendered tool. Its state and results are never shared with
// another instance, even one built from the same configuration.
type Instance struct {
	ID     string
	Config *toolconfig.Config
	State  *toolstate.Store

	settings Settings

	mu       sync.Mutex
	results  map[string]any
	errMsg   string
	running  bool
	disposed bool
	watchers map[int]func(*Instance)
	nextW    int
	unsub    func()
}

// Results returns a copy of the last successful results.
func (in *Instance) Results() map[string]any {
	in.mu.Lock()
	defer in.mu.Unlock()
	return maps.Clone(in.results)
}

// Err returns the banner message of the last failed run, or "".
func (in *Instance) Err() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.errMsg
}

// Busy reports whether an action is running.
func (in *Instance) Busy() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.running
}

// View builds the widget tree from the current state and results.
func (in *Instance) View() (render.View, error) {
	in.mu.Lock()
	results := maps.Clone(in.results)
	errMsg, busy := in.errMsg, in.running
	in.mu.Unlock()

	v, err := render.Build(in.Config, in.State.Snapshot(), results)
	if err != nil {
		return render.View{}, err
	}
	v.Error = errMsg
	v.Busy = busy
	for i := range v.Sections {
		for j := range v.Sections[i].Actions {
			v.Sections[i].Actions[j].Disabled = busy
		}
	}
	for i := range v.GlobalActions {
		v.GlobalActions[i].Disabled = busy
	}
	return v, nil
}

// Watch registers fn to be called after every input change and every
// finished run. The returned function unregisters it.
func (in *Instance) Watch(fn func(*Instance)) (cancel func()) {
	in.mu.Lock()
	id := in.nextW
	in.nextW++
	in.watchers[id] = fn
	in.mu.Unlock()
	return func() {
		in.mu.Lock()
		delete(in.watchers, id)
		in.mu.Unlock()
	}
}

func (in *Instance) notify() {
	in.mu.Lock()
	fns := make([]func(*Instance), 0, len(in.watchers))
	for i := 0; i < in.nextW; i++ {
		if fn, ok := in.watchers[i]; ok {
			fns = append(fns, fn)
		}
	}
	in.mu.Unlock()
	for _, fn := range fns {
		fn(in)
	}
}

// Registry is the arena of live instances keyed by instance id, normally the
// id of the chat message that carries the tool.
type Registry struct {
	engine   *toolengine.Engine
	lanes    *queue.Lanes
	settings Settings
	logger   *slog.Logger

	mu    sync.RWMutex
	items map[string]*Instance
}

// NewRegistry returns an empty Registry running actions on engine. Engine
// must not be nil.
func NewRegistry(engine *toolengine.Engine, opts ...Option) *Registry {
	if engine == nil {
		panic("instance: engine must not be nil")
	}
	r := &Registry{
		engine: engine,
		lanes:  queue.NewLanes(),
		items:  make(map[string]*Instance),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) log() *slog.Logger {
	if r.logger != nil {
		return r.logger
	}
	return slog.Default()
}

// Create builds a fresh instance for cfg with seeded state and empty results.
func (r *Registry) Create(id string, cfg *toolconfig.Config) (*Instance, error) {
	if id == "" {
		return nil, fmt.Errorf("instance: id must not be empty")
	}
	if cfg == nil {
		return nil, fmt.Errorf("instance: config must not be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, id)
	}
	in := &Instance{
		ID:       id,
		Config:   cfg,
		State:    toolstate.Initialize(cfg, toolstate.WithLogger(r.logger)),
		settings: r.settings,
		results:  map[string]any{},
		watchers: make(map[int]func(*Instance)),
	}
	in.unsub = in.State.Subscribe(func(toolstate.Change) { in.notify() })
	r.items[id] = in
	return in, nil
}

// Restore recreates an instance with saved input values and results, as
// when a transcript is reloaded. Values that no longer fit their input are
// dropped in favour of the seeded value.
func (r *Registry) Restore(id string, cfg *toolconfig.Config, state, results map[string]any) (*Instance, error) {
	in, err := r.Create(id, cfg)
	if err != nil {
		return nil, err
	}
	for k, v := range state {
		if err := in.State.Set(k, v); err != nil {
			r.log().Warn("instance: dropping saved input", "instance", id, "input", k, "error", err)
		}
	}
	in.mu.Lock()
	in.results = maps.Clone(results)
	if in.results == nil {
		in.results = map[string]any{}
	}
	in.mu.Unlock()
	return in, nil
}

// Get returns a live instance.
func (r *Registry) Get(id string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.items[id]
	return in, ok
}

// IDs returns the ids of live instances in no particular order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.items))
	for id := range r.items {
		ids = append(ids, id)
	}
	return ids
}

// Remove disposes an instance. Queued actions fail with ErrDisposed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	in, ok := r.items[id]
	delete(r.items, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	in.mu.Lock()
	in.disposed = true
	unsub := in.unsub
	in.mu.Unlock()
	unsub()
	r.lanes.Close(id)
	return true
}

// Run queues an action behind any running action of the same instance and
// waits for its outcome. On success the instance's results are replaced;
// on failure they are left untouched and the error banner is set.
func (r *Registry) Run(ctx context.Context, id, actionID string) (toolengine.Outcome, error) {
	in, act, err := r.lookup(id, actionID)
	if err != nil {
		return toolengine.Outcome{}, err
	}
	var out toolengine.Outcome
	err = r.lanes.Do(ctx, id, func() error {
		if err := in.begin(); err != nil {
			return err
		}
		out = r.execute(ctx, in, act)
		in.finish(out)
		return nil
	})
	if errors.Is(err, queue.ErrLaneClosed) {
		err = ErrDisposed
	}
	if err != nil {
		return toolengine.Outcome{}, err
	}
	in.notify()
	return out, nil
}

// Trigger starts an action the way a button press does: it is rejected with
// ErrActionInFlight while another action of the instance runs, and otherwise
// returns immediately with a channel receiving the single outcome.
func (r *Registry) Trigger(ctx context.Context, id, actionID string) (<-chan toolengine.Outcome, error) {
	in, act, err := r.lookup(id, actionID)
	if err != nil {
		return nil, err
	}
	if err := in.begin(); err != nil {
		return nil, err
	}
	in.notify()
	ch := make(chan toolengine.Outcome, 1)
	go func() {
		out := r.execute(ctx, in, act)
		in.finish(out)
		in.notify()
		ch <- out
	}()
	return ch, nil
}

func (r *Registry) lookup(id, actionID string) (*Instance, toolconfig.Action, error) {
	in, ok := r.Get(id)
	if !ok {
		return nil, toolconfig.Action{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	act, ok := in.Config.Action(actionID)
	if !ok {
		return nil, toolconfig.Action{}, fmt.Errorf("%w: %s", ErrUnknownAction, actionID)
	}
	return in, act, nil
}

// begin marks the instance busy.
func (in *Instance) begin() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	switch {
	case in.disposed:
		return ErrDisposed
	case in.running:
		return ErrActionInFlight
	}
	in.running = true
	return nil
}

func (in *Instance) finish(out toolengine.Outcome) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.running = false
	if out.Err != nil {
		var ee *toolengine.ExecError
		if errors.As(out.Err, &ee) {
			in.errMsg = ee.Message()
		} else {
			in.errMsg = out.Err.Error()
		}
		return
	}
	in.errMsg = ""
	in.results = out.Results
}

func (r *Registry) execute(ctx context.Context, in *Instance, act toolconfig.Action) toolengine.Outcome {
	if in.settings.EnforceRequired {
		if missing := in.State.MissingRequired(); len(missing) > 0 {
			return toolengine.Outcome{Err: &toolengine.ExecError{
				Action: act.ID,
				Err:    &toolengine.MissingRequiredError{IDs: missing},
			}}
		}
	}
	req := toolengine.Request{Action: act, Inputs: in.State.Snapshot()}
	if in.settings.CarryResults {
		req.Seed = in.Results()
	}
	out := r.engine.Execute(ctx, req)
	if out.Err != nil {
		r.log().Info("instance: action failed", "instance", in.ID, "action", act.ID, "error", out.Err)
	}
	return out
}
