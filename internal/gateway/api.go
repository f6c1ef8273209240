package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"toolchat/internal/domain"
	"toolchat/internal/embed"
	"toolchat/internal/instance"
	"toolchat/internal/render"
	"toolchat/internal/router"
	"toolchat/internal/toolengine"
	"toolchat/internal/toolstate"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// ChatRequest is the body of POST /api/sessions/{session}/messages.
type ChatRequest struct {
	Input string              `json:"input"`
	Force domain.ResponseType `json:"force,omitempty"`
}

// ReplyPayload is one assistant reply as sent to clients.
type ReplyPayload struct {
	Message   domain.Message `json:"message"`
	Reasoning string         `json:"reasoning,omitempty"`
	Page      *embed.Page    `json:"page,omitempty"`
	View      *render.View   `json:"view,omitempty"`
}

// TemplateInfo describes one template in GET /api/templates.
type TemplateInfo struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Builtin     bool   `json:"builtin"`
}

// SetInputRequest is the body of PUT /api/tools/{id}/inputs/{input}.
type SetInputRequest struct {
	Value any `json:"value"`
}

// ActionResponse reports an action outcome together with the refreshed view.
type ActionResponse struct {
	Results    map[string]any `json:"results,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"durationMs"`
	View       *render.View   `json:"view,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	b, err := json.Marshal(data)
	if err != nil {
		code = http.StatusInternalServerError
		b, _ = json.Marshal(errorBody{Error: "gateway: encode response: " + err.Error()})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(append(b, '\n'))
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// payload converts a router reply, attaching the view of a new tool and
// tracking it for persistence.
func (s *Server) payload(sessionID string, reply router.Reply) ReplyPayload {
	p := ReplyPayload{Message: reply.Message, Reasoning: reply.Reasoning, Page: reply.Page}
	if reply.Instance != nil {
		s.Track(reply.Instance, sessionID)
		if v, err := reply.Instance.View(); err == nil {
			p.View = &v
		} else {
			s.log().Warn("gateway: build view", "tool", reply.Instance.ID, "error", err)
		}
	}
	return p
}

func (s *Server) submit(ctx context.Context, sessionID string, req ChatRequest) (ReplyPayload, error) {
	reply, err := s.deps.Router.Submit(ctx, router.Turn{SessionID: sessionID, Input: req.Input, Force: req.Force})
	if err != nil {
		return ReplyPayload{}, err
	}
	return s.payload(sessionID, reply), nil
}

func submitStatus(err error) int {
	switch {
	case errors.Is(err, router.ErrSessionBusy):
		return http.StatusConflict
	case errors.Is(err, router.ErrEmptyInput), errors.Is(err, router.ErrEmptySessionID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	p, err := s.submit(r.Context(), chi.URLParam(r, "session"), req)
	if err != nil {
		writeError(w, submitStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) listTemplates(w http.ResponseWriter, _ *http.Request) {
	out := []TemplateInfo{}
	if s.deps.Templates != nil {
		for _, t := range s.deps.Templates.All() {
			out = append(out, TemplateInfo{
				Name:        t.Name,
				Title:       t.Config.Title,
				Description: t.Config.Description,
				Builtin:     t.Builtin,
			})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) instance(w http.ResponseWriter, r *http.Request) (*instance.Instance, bool) {
	in, ok := s.deps.Registry.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "tool not found")
	}
	return in, ok
}

func (s *Server) getTool(w http.ResponseWriter, r *http.Request) {
	in, ok := s.instance(w, r)
	if !ok {
		return
	}
	v, err := in.View()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) deleteTool(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.deps.Registry.Remove(id) {
		writeError(w, http.StatusNotFound, "tool not found")
		return
	}
	s.untrack(id)
	if s.deps.Store != nil {
		if err := s.deps.Store.Delete(r.Context(), id); err != nil {
			s.log().Warn("gateway: delete stored tool", "tool", id, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func inputStatus(err error) int {
	switch {
	case errors.Is(err, toolstate.ErrUnknownInput):
		return http.StatusNotFound
	case errors.Is(err, toolstate.ErrInvalidValue):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) setInput(w http.ResponseWriter, r *http.Request) {
	in, ok := s.instance(w, r)
	if !ok {
		return
	}
	var req SetInputRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := in.State.Set(chi.URLParam(r, "input"), req.Value); err != nil {
		writeError(w, inputStatus(err), err.Error())
		return
	}
	s.getTool(w, r)
}

func actionStatus(err error) int {
	switch {
	case errors.Is(err, instance.ErrNotFound), errors.Is(err, instance.ErrUnknownAction):
		return http.StatusNotFound
	case errors.Is(err, instance.ErrActionInFlight):
		return http.StatusConflict
	case errors.Is(err, instance.ErrDisposed):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) runAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	out, err := s.deps.Registry.Run(r.Context(), id, chi.URLParam(r, "action"))
	if err != nil {
		writeError(w, actionStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.actionResponse(id, out))
}

func (s *Server) actionResponse(id string, out toolengine.Outcome) ActionResponse {
	resp := ActionResponse{DurationMs: out.Duration.Milliseconds()}
	if out.Results != nil {
		resp.Results = render.JSONSafe(out.Results).(map[string]any)
	}
	if out.Err != nil {
		resp.Error = out.Err.Error()
		var ee *toolengine.ExecError
		if errors.As(out.Err, &ee) {
			resp.Error = ee.Message()
		}
	}
	if in, ok := s.deps.Registry.Get(id); ok {
		if v, err := in.View(); err == nil {
			resp.View = &v
		}
	}
	return resp
}
