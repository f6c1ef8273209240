package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"toolchat/internal/brain"
	"toolchat/internal/domain"
	"toolchat/internal/llm"
)

// Sender issues one completion. *brain.Brain satisfies it.
type Sender interface {
	Send(ctx context.Context, req brain.Request) (string, error)
}

// ToolPlan is the model's analysis of a tool request, used to enrich the
// tool-generation prompt.
type ToolPlan struct {
	ToolType            string   `json:"toolType"`
	Features            []string `json:"features"`
	Inputs              []string `json:"inputs"`
	Outputs             []string `json:"outputs"`
	Interactivity       []string `json:"interactivity"`
	Complexity          string   `json:"complexity"`
	SpecialRequirements []string `json:"specialRequirements"`
	UserExperience      []string `json:"userExperience"`
}

// VisualizationPlan is the planning result for chart, diagram and mindmap requests.
type VisualizationPlan struct {
	VizType        string   `json:"vizType"`
	DataStructure  []string `json:"dataStructure"`
	VisualElements []string `json:"visualElements"`
	Interactivity  []string `json:"interactivity"`
	ChartTypes     []string `json:"chartTypes"`
	Features       []string `json:"features"`
	ColorScheme    []string `json:"colorScheme"`
	Layout         []string `json:"layout"`
	Complexity     string   `json:"complexity"`
}

// DefaultToolPlan is used when planning fails.
func DefaultToolPlan() ToolPlan {
	return ToolPlan{
		ToolType:            "utility",
		Features:            []string{"basic functionality"},
		Inputs:              []string{"user inputs"},
		Outputs:             []string{"results"},
		Interactivity:       []string{"button clicks", "form inputs"},
		Complexity:          "simple",
		SpecialRequirements: []string{},
		UserExperience:      []string{"clear interface", "immediate feedback"},
	}
}

// DefaultVisualizationPlan is used when visualization planning fails.
func DefaultVisualizationPlan(vizType string) VisualizationPlan {
	chart := vizType
	if vizType == "chart" {
		chart = "bar"
	}
	return VisualizationPlan{
		VizType:        vizType,
		DataStructure:  []string{"labels", "values"},
		VisualElements: []string{"svg", "interactive controls"},
		Interactivity:  []string{"click", "hover", "input"},
		ChartTypes:     []string{chart},
		Features:       []string{"data input", "real-time updates", "export"},
		ColorScheme:    []string{"blue", "cyan", "slate"},
		Layout:         []string{"responsive", "centered"},
		Complexity:     "medium",
	}
}

// Brief renders the plan as prompt context for tool generation.
func (p ToolPlan) Brief() string {
	var sb strings.Builder
	sb.WriteString("TOOL PLAN CONTEXT:\n")
	writeField(&sb, "Tool Type", p.ToolType)
	writeList(&sb, "Key Features", p.Features)
	writeList(&sb, "Required Inputs", p.Inputs)
	writeList(&sb, "Expected Outputs", p.Outputs)
	writeList(&sb, "Interactivity", p.Interactivity)
	writeField(&sb, "Complexity Level", p.Complexity)
	writeList(&sb, "Special Requirements", p.SpecialRequirements)
	writeList(&sb, "UX Considerations", p.UserExperience)
	return sb.String()
}

// Brief renders the visualization plan as prompt context.
func (p VisualizationPlan) Brief() string {
	var sb strings.Builder
	sb.WriteString("VISUALIZATION PLAN:\n")
	writeField(&sb, "Type", p.VizType)
	writeList(&sb, "Data Structure", p.DataStructure)
	writeList(&sb, "Visual Elements", p.VisualElements)
	writeList(&sb, "Interactivity", p.Interactivity)
	writeList(&sb, "Chart Types", p.ChartTypes)
	writeList(&sb, "Features", p.Features)
	writeList(&sb, "Color Scheme", p.ColorScheme)
	writeList(&sb, "Layout", p.Layout)
	writeField(&sb, "Complexity", p.Complexity)
	return sb.String()
}

func writeField(sb *strings.Builder, name, value string) {
	fmt.Fprintf(sb, "- %s: %s\n", name, value)
}

func writeList(sb *strings.Builder, name string, values []string) {
	writeField(sb, name, strings.Join(values, ", "))
}

// Option configures a Planner.
type Option func(*Planner)

// WithLogger sets a structured logger for the Planner.
func WithLogger(l *slog.Logger) Option {
	return func(p *Planner) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithTemperature overrides the sampling temperature of planning requests.
func WithTemperature(t float64) Option {
	return func(p *Planner) { p.temperature = t }
}

// Planner asks the model to analyse a request before a tool is generated.
// Planning never fails: any model or parse error yields the default plan.
type Planner struct {
	sender      Sender
	temperature float64
	logger      *slog.Logger
}

// NewPlanner creates a Planner backed by the given sender. Panics if sender is nil.
func NewPlanner(sender Sender, opts ...Option) *Planner {
	if sender == nil {
		panic("planner: sender must not be nil")
	}
	p := &Planner{sender: sender, temperature: 0.7}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// log returns the Planner's logger, falling back to the default slog logger.
func (p *Planner) log() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return slog.Default()
}

// PlanTool analyses query and returns a tool plan.
func (p *Planner) PlanTool(ctx context.Context, query string, history []domain.ChatMessage) ToolPlan {
	var plan ToolPlan
	err := p.plan(ctx, BuildToolPlanPrompt(query), history, query, &plan)
	if err == nil && plan.ToolType == "" {
		err = fmt.Errorf("planner: plan has no toolType")
	}
	if err != nil {
		p.log().Warn("planning failed, using fallback", "error", err)
		return DefaultToolPlan()
	}
	p.log().Info("tool plan created", "tool_type", plan.ToolType, "features", len(plan.Features))
	return plan
}

// PlanVisualization analyses query for a visualization of the given type.
func (p *Planner) PlanVisualization(ctx context.Context, query, vizType string, history []domain.ChatMessage) VisualizationPlan {
	var plan VisualizationPlan
	if err := p.plan(ctx, BuildVisualizationPlanPrompt(query, vizType), history, query, &plan); err != nil {
		p.log().Warn("visualization planning failed, using fallback", "viz_type", vizType, "error", err)
		return DefaultVisualizationPlan(vizType)
	}
	if plan.VizType == "" {
		plan.VizType = vizType
	}
	return plan
}

func (p *Planner) plan(ctx context.Context, system string, history []domain.ChatMessage, query string, out any) error {
	raw, err := p.sender.Send(ctx, brain.Request{
		SystemPrompt: system,
		History:      history,
		UserMessage:  query,
		Temperature:  p.temperature,
		MaxTokens:    1000,
		JSONMode:     true,
	})
	if err != nil {
		return fmt.Errorf("planner: generate: %w", err)
	}
	return ParsePlan(raw, out)
}

// ParsePlan extracts a plan object from a model response. Handles raw JSON,
// markdown-wrapped code blocks, and JSON embedded in prose.
func ParsePlan(raw string, out any) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("planner: empty response")
	}
	jsonStr := llm.ExtractJSON(raw)
	if jsonStr == "" {
		return fmt.Errorf("planner: no valid JSON found in response")
	}
	if err := json.Unmarshal([]byte(jsonStr), out); err != nil {
		return fmt.Errorf("planner: failed to parse plan JSON: %w", err)
	}
	return nil
}

// BuildToolPlanPrompt creates the system prompt asking the model to plan a tool.
func BuildToolPlanPrompt(query string) string {
	return fmt.Sprintf(`You are a tool planning assistant. Analyze the following request and create a detailed plan for building a functional tool.

User Request: %s

Respond with a JSON object containing:
{
  "toolType": "calculator|converter|generator|analyzer|utility|game|visualizer|other",
  "features": ["list", "of", "key", "features"],
  "inputs": ["required", "input", "fields"],
  "outputs": ["expected", "output", "types"],
  "interactivity": ["user", "interactions", "needed"],
  "complexity": "simple|medium|complex",
  "specialRequirements": ["any", "special", "needs"],
  "userExperience": ["key", "ux", "considerations"]
}

Make the plan comprehensive and focused on user experience.`, query)
}

// BuildVisualizationPlanPrompt creates the system prompt asking the model to plan a visualization.
func BuildVisualizationPlanPrompt(query, vizType string) string {
	return fmt.Sprintf(`You are a visualization planning expert. Analyze this request and create a detailed plan for building a %[2]s visualization.

User Request: %[1]s
Visualization Type: %[2]s

Respond with a JSON object:
{
  "vizType": "%[2]s",
  "dataStructure": ["what", "data", "fields", "needed"],
  "visualElements": ["grid", "table", "chart", "elements"],
  "interactivity": ["user", "interactions"],
  "chartTypes": ["specific", "chart", "types"],
  "features": ["key", "features"],
  "colorScheme": ["color", "palette"],
  "layout": ["layout", "considerations"],
  "complexity": "simple|medium|complex"
}

Focus on clear data representation.`, query, vizType)
}
