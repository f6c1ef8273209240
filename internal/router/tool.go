package router

import (
	"context"
	"encoding/json"

	"toolchat/internal/brain"
	"toolchat/internal/domain"
	"toolchat/internal/llm"
	"toolchat/internal/prompts"
	"toolchat/internal/toolconfig"
)

// toolRequest describes one tool to generate. An empty toolType is taken
// from the plan.
type toolRequest struct {
	query         string
	toolType      string
	visualization bool
}

// generateTool plans, generates and instantiates a tool. A configuration
// that fails validation is replaced by the fallback calculator; only a
// failed model request returns an error.
func (r *Router) generateTool(ctx context.Context, req toolRequest, history []domain.ChatMessage) (Reply, error) {
	recent := window(history, r.toolWindow)
	system := prompts.ToolConfig(r.exampleText())

	if r.planner != nil {
		if req.visualization {
			system += "\n\n" + r.planner.PlanVisualization(ctx, req.query, req.toolType, recent).Brief()
		} else {
			plan := r.planner.PlanTool(ctx, req.query, recent)
			if req.toolType == "" {
				req.toolType = plan.ToolType
			}
			system += "\n\n" + plan.Brief()
		}
	}
	if req.toolType == "" {
		req.toolType = string(toolconfig.ToolCustom)
	}
	instruction := prompts.ToolInstruction(req.toolType, req.query)
	if req.visualization {
		instruction = prompts.VisualizationInstruction(req.toolType, req.query)
	}

	raw, err := r.sender.Send(ctx, brain.Request{
		SystemPrompt: system,
		History:      recent,
		UserMessage:  instruction,
		Temperature:  0.7,
		MaxTokens:    1500,
		JSONMode:     true,
	})
	if err != nil {
		return Reply{}, errorf("generate tool: %w", err)
	}
	cfg, perr := toolconfig.ParseOrFallback([]byte(llm.ExtractJSON(raw)), r.parseOpts...)
	if perr != nil {
		r.log().Warn("router: generated configuration rejected, using fallback", "query", req.query, "error", perr)
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return Reply{}, errorf("encode tool config: %w", err)
	}

	id := newID()
	inst, err := r.registry.Create(id, cfg)
	if err != nil {
		return Reply{}, errorf("create instance: %w", err)
	}
	r.log().Info("router: tool created", "instance", id, "tool", cfg.ID, "type", cfg.Type, "fallback", perr != nil)
	return Reply{
		Message: domain.Message{
			ID:         id,
			Role:       domain.RoleAssistant,
			Type:       domain.ResponseTool,
			Content:    cfg.Title,
			ToolConfig: data,
			Timestamp:  now(),
		},
		Instance: inst,
	}, nil
}

func (r *Router) exampleText() string {
	if r.examples == nil {
		return ""
	}
	return r.examples()
}
