package planner

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"toolchat/internal/brain"
	"toolchat/internal/domain"
)

// =============================================================================
// Mock sender
// =============================================================================

type mockSender struct {
	response string
	err      error
	last     brain.Request
	calls    int
}

func (m *mockSender) Send(ctx context.Context, req brain.Request) (string, error) {
	m.calls++
	m.last = req
	return m.response, m.err
}

func TestNewPlanner_WhenSenderIsNil_ShouldPanic(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	NewPlanner(nil)
}

// =============================================================================
// PlanTool
// =============================================================================

func TestPlanner_PlanTool_WhenValidJSON_ShouldReturnParsedPlan(t *testing.T) {
	s := &mockSender{response: `{"toolType":"calculator","features":["tip split"],"inputs":["bill","people"],"outputs":["per person"],"complexity":"simple"}`}
	p := NewPlanner(s)
	history := []domain.ChatMessage{{Role: domain.RoleUser, Content: "earlier"}}

	plan := p.PlanTool(context.Background(), "tip calculator", history)

	if plan.ToolType != "calculator" || len(plan.Inputs) != 2 || plan.Features[0] != "tip split" {
		t.Errorf("unexpected plan %+v", plan)
	}
	if !s.last.JSONMode {
		t.Error("planning requests should use JSON mode")
	}
	if s.last.UserMessage != "tip calculator" || len(s.last.History) != 1 {
		t.Errorf("query or history not forwarded: %+v", s.last)
	}
	if !strings.Contains(s.last.SystemPrompt, "User Request: tip calculator") {
		t.Errorf("system prompt should embed the query: %q", s.last.SystemPrompt)
	}
}

func TestPlanner_PlanTool_WhenMarkdownWrapped_ShouldExtract(t *testing.T) {
	s := &mockSender{response: "Plan:\n```json\n{\"toolType\":\"game\"}\n```"}
	plan := NewPlanner(s).PlanTool(context.Background(), "q", nil)
	if plan.ToolType != "game" {
		t.Errorf("want game, got %q", plan.ToolType)
	}
}

func TestPlanner_PlanTool_WhenSenderFails_ShouldReturnDefaultPlanAndWarn(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	s := &mockSender{err: errors.New("rate limited")}

	plan := NewPlanner(s, WithLogger(logger)).PlanTool(context.Background(), "q", nil)

	def := DefaultToolPlan()
	if plan.ToolType != def.ToolType || plan.Complexity != def.Complexity {
		t.Errorf("want default plan, got %+v", plan)
	}
	if !strings.Contains(buf.String(), "planning failed") {
		t.Errorf("expected warning, got %q", buf.String())
	}
}

func TestPlanner_PlanTool_WhenResponseNotJSON_ShouldReturnDefaultPlan(t *testing.T) {
	for _, raw := range []string{"", "   ", "sorry, no plan", "{not json}"} {
		plan := NewPlanner(&mockSender{response: raw}).PlanTool(context.Background(), "q", nil)
		if plan.ToolType != "utility" {
			t.Errorf("%q: want default plan, got %+v", raw, plan)
		}
	}
}

func TestPlanner_WithTemperature_ShouldOverrideDefault(t *testing.T) {
	s := &mockSender{response: "{}"}
	NewPlanner(s, WithTemperature(0.2)).PlanTool(context.Background(), "q", nil)
	if s.last.Temperature != 0.2 {
		t.Errorf("want 0.2, got %v", s.last.Temperature)
	}
}

// =============================================================================
// PlanVisualization
// =============================================================================

func TestPlanner_PlanVisualization_WhenVizTypeMissing_ShouldFillIn(t *testing.T) {
	s := &mockSender{response: `{"chartTypes":["line"]}`}
	plan := NewPlanner(s).PlanVisualization(context.Background(), "sales", "chart", nil)
	if plan.VizType != "chart" || plan.ChartTypes[0] != "line" {
		t.Errorf("unexpected plan %+v", plan)
	}
	if !strings.Contains(s.last.SystemPrompt, "Visualization Type: chart") {
		t.Errorf("prompt should name the viz type: %q", s.last.SystemPrompt)
	}
}

func TestPlanner_PlanVisualization_WhenFailing_ShouldReturnDefault(t *testing.T) {
	p := NewPlanner(&mockSender{err: errors.New("down")}, WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))

	chart := p.PlanVisualization(context.Background(), "q", "chart", nil)
	if chart.ChartTypes[0] != "bar" {
		t.Errorf("chart default should be bar, got %v", chart.ChartTypes)
	}
	mind := p.PlanVisualization(context.Background(), "q", "mindmap", nil)
	if mind.ChartTypes[0] != "mindmap" || mind.VizType != "mindmap" {
		t.Errorf("unexpected mindmap default %+v", mind)
	}
}

// =============================================================================
// Brief
// =============================================================================

func TestToolPlan_Brief_ShouldListEveryField(t *testing.T) {
	brief := ToolPlan{
		ToolType: "converter",
		Features: []string{"a", "b"},
		Inputs:   []string{"value"},
	}.Brief()
	for _, want := range []string{"TOOL PLAN CONTEXT:", "- Tool Type: converter", "- Key Features: a, b", "- Required Inputs: value", "- UX Considerations: "} {
		if !strings.Contains(brief, want) {
			t.Errorf("brief missing %q:\n%s", want, brief)
		}
	}
}

func TestVisualizationPlan_Brief_ShouldListChartTypes(t *testing.T) {
	brief := DefaultVisualizationPlan("chart").Brief()
	if !strings.Contains(brief, "- Chart Types: bar") || !strings.Contains(brief, "- Type: chart") {
		t.Errorf("unexpected brief:\n%s", brief)
	}
}

func TestPlanner_PlanTool_WhenToolTypeMissing_ShouldReturnDefaultPlan(t *testing.T) {
	p := NewPlanner(&mockSender{response: "{}"}, WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
	if plan := p.PlanTool(context.Background(), "q", nil); plan.ToolType != DefaultToolPlan().ToolType {
		t.Errorf("plan = %+v, want default", plan)
	}
}
