package templates

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"toolchat/internal/domain"
	"toolchat/internal/prompts"
	"toolchat/internal/toolconfig"
	"toolchat/internal/toolengine"
	"toolchat/internal/toolstate"
)

func newLibrary(t *testing.T) *Library {
	t.Helper()
	lib, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return lib
}

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

const userYAML = `
id: tip-calc
type: calculator
title: Tip Splitter
description: Split a bill
sections:
  - inputs:
      - {id: bill, type: number, label: Bill, defaultValue: 100}
      - {id: people, type: number, label: People, defaultValue: 4}
    actions:
      - id: split
        label: Split
        logic: results.each = round(inputs.bill * 1.15 / inputs.people, 2);
    outputs:
      - {id: each, type: number, label: Each, format: currency}
`

// =============================================================================
// Built-in templates
// =============================================================================

func TestNew_ShouldLoadBuiltinsInOrder(t *testing.T) {
	all := newLibrary(t).All()
	if len(all) != len(builtinOrder) {
		t.Fatalf("len = %d, want %d", len(all), len(builtinOrder))
	}
	for i, tpl := range all {
		if tpl.Name != builtinOrder[i] || !tpl.Builtin {
			t.Errorf("[%d] = %s (builtin %v)", i, tpl.Name, tpl.Builtin)
		}
	}
}

func TestBuiltins_ShouldRunEveryActionOnDefaults(t *testing.T) {
	eng := toolengine.New()
	for _, tpl := range newLibrary(t).All() {
		st := toolstate.Initialize(tpl.Config)
		for _, act := range tpl.Config.Actions() {
			out := eng.Execute(context.Background(), toolengine.Request{Action: act, Inputs: st.Snapshot()})
			if out.Err != nil {
				t.Errorf("%s/%s: %v", tpl.Name, act.ID, out.Err)
			}
		}
	}
}

func TestBuiltins_PercentageCalculator_ShouldHaveTwoSections(t *testing.T) {
	tpl, err := newLibrary(t).Get("percentageCalculator")
	if err != nil {
		t.Fatal(err)
	}
	if len(tpl.Config.Sections) != 2 {
		t.Fatalf("sections = %d, want 2", len(tpl.Config.Sections))
	}
	act, _ := tpl.Config.Action("calculateChange")
	out := toolengine.New().Execute(context.Background(), toolengine.Request{
		Action: act,
		Inputs: map[string]any{"oldValue": 50.0, "newValue": 75.0},
	})
	if out.Err != nil {
		t.Fatal(out.Err)
	}
	if got := out.Results["changeFormula"]; got != "From 50 to 75 is a 50% increase" {
		t.Errorf("changeFormula = %v", got)
	}
}

func TestBuiltins_UnitConverter_ShouldShareOptionsAnchor(t *testing.T) {
	tpl, _ := newLibrary(t).Get("unitConverter")
	in := tpl.Config.Sections[0].Inputs
	if len(in[1].Options) != 4 || len(in[2].Options) != 4 {
		t.Errorf("options = %d/%d, want 4/4", len(in[1].Options), len(in[2].Options))
	}
}

func TestExamples_ShouldListEveryTemplate(t *testing.T) {
	ex := newLibrary(t).Examples()
	lines := strings.Split(ex, "\n")
	if len(lines) != len(builtinOrder) {
		t.Fatalf("lines = %d", len(lines))
	}
	if lines[0] != `Template "simpleCalculator": Simple Calculator - Basic arithmetic calculator` {
		t.Errorf("first line = %q", lines[0])
	}
}

func TestGet_WhenUnknown_ShouldReturnErrNotFound(t *testing.T) {
	if _, err := newLibrary(t).Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}

// =============================================================================
// Decode and LoadDir
// =============================================================================

func TestDecode_ShouldAcceptJSON(t *testing.T) {
	raw, _ := json.Marshal(toolconfig.Fallback())
	cfg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.ID != toolconfig.FallbackID {
		t.Errorf("id = %q", cfg.ID)
	}
}

func TestDecode_WhenYAMLMalformed_ShouldFail(t *testing.T) {
	if _, err := Decode([]byte("id: [unclosed")); err == nil {
		t.Error("expected error")
	}
}

func TestLoadDir_ShouldLoadValidAndReportInvalid(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "tipSplitter.yaml", userYAML)
	writeFile(t, dir, "broken.yml", "id: x\nsections: []\n")
	writeFile(t, dir, "notes.txt", "ignored")
	writeFile(t, dir, "simpleCalculator.json", `{"id":"mine","type":"custom","title":"Mine","sections":[{"outputs":[{"id":"o","type":"text"}]}]}`)

	lib := newLibrary(t)
	err := lib.LoadDir(dir)
	if err == nil || !strings.Contains(err.Error(), "broken.yml") {
		t.Errorf("err = %v, want report for broken.yml", err)
	}
	tpl, err := lib.Get("tipSplitter")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if tpl.Builtin || tpl.Path == "" || tpl.Config.Title != "Tip Splitter" {
		t.Errorf("template = %+v", tpl)
	}
	if _, err := lib.Get("broken"); err == nil {
		t.Error("invalid template should not load")
	}
	if got, _ := lib.Get("simpleCalculator"); !got.Builtin {
		t.Error("builtin should shadow user file of the same name")
	}
	if n := len(lib.All()); n != len(builtinOrder)+1 {
		t.Errorf("All() = %d entries", n)
	}
}

func TestLoadDir_WhenMissing_ShouldClearUserTemplates(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "tipSplitter.yaml", userYAML)
	lib := newLibrary(t)
	_ = lib.LoadDir(dir)
	if err := lib.LoadDir(filepath.Join(dir, "missing")); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if _, err := lib.Get("tipSplitter"); err == nil {
		t.Error("user template should be cleared")
	}
}

func TestWatch_WhenFileAdded_ShouldReload(t *testing.T) {
	old := debounceDelay
	debounceDelay = 10 * time.Millisecond
	defer func() { debounceDelay = old }()

	dir := t.TempDir()
	lib := newLibrary(t)
	reloaded := make(chan error, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := lib.Watch(ctx, dir, func(err error) { reloaded <- err }); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	writeFile(t, dir, "tipSplitter.yaml", userYAML)
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-reloaded:
			if _, err := lib.Get("tipSplitter"); err == nil {
				return
			}
		case <-deadline:
			t.Fatal("template was not reloaded")
		}
	}
}

func TestWatch_WhenWatcherFails_ShouldReturnError(t *testing.T) {
	old := newWatcher
	newWatcher = func() (*fsnotify.Watcher, error) { return nil, errors.New("no inotify") }
	defer func() { newWatcher = old }()

	if err := newLibrary(t).Watch(context.Background(), t.TempDir(), nil); err == nil {
		t.Error("expected error")
	}
}

// =============================================================================
// Match and Respond
// =============================================================================

func TestMatch(t *testing.T) {
	lib := newLibrary(t)
	tests := map[string]string{
		"what's my BMI":              "bmiCalculator",
		"percentage of a number":     "percentageCalculator",
		"convert miles to km":        "unitConverter",
		"make me a strong password":  "passwordGenerator",
		"let's play tic tac toe":     "ticTacToe",
		"a number guessing game":     "numberGuessing",
		"calculator for my homework": "simpleCalculator",
	}
	for query, want := range tests {
		got, ok := lib.Match(query)
		if !ok || got.Name != want {
			t.Errorf("Match(%q) = %s, %v; want %s", query, got.Name, ok, want)
		}
	}
	if _, ok := lib.Match("tell me a story"); ok {
		t.Error("unrelated query should not match")
	}
}

func TestMatch_WhenUserTemplateNamed_ShouldPreferIt(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "tipSplitter.yaml", userYAML)
	lib := newLibrary(t)
	_ = lib.LoadDir(dir)
	if got, ok := lib.Match("open the tip splitter calculator"); !ok || got.Name != "tipSplitter" {
		t.Errorf("Match = %s, %v", got.Name, ok)
	}
}

func request(system, user string) domain.CompletionRequest {
	return domain.CompletionRequest{
		JSONMode: true,
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: system},
			{Role: domain.RoleUser, Content: user},
		},
	}
}

func TestRespond_WhenToolPrompt_ShouldReturnMatchedConfig(t *testing.T) {
	lib := newLibrary(t)
	raw, err := lib.Respond(request(prompts.ToolConfig(lib.Examples()), "Create a generator tool for: password"))
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := toolconfig.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("response does not parse: %v", err)
	}
	if cfg.ID != "password-generator" {
		t.Errorf("id = %q", cfg.ID)
	}

	raw, _ = lib.Respond(request(prompts.ToolConfig(""), "something odd"))
	if cfg, err := toolconfig.Parse([]byte(raw)); err != nil || cfg.ID != "simple-calculator" {
		t.Errorf("unmatched request should get the first template, got %v / %v", cfg, err)
	}
}

func TestRespond_WhenChatPrompt_ShouldPickResponseType(t *testing.T) {
	lib := newLibrary(t)
	var resp struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	}
	raw, _ := lib.Respond(request(prompts.Chat(""), "build a bmi tool"))
	_ = json.Unmarshal([]byte(raw), &resp)
	if resp.Type != "tool" || resp.Content != "build a bmi tool" {
		t.Errorf("resp = %+v", resp)
	}

	raw, _ = lib.Respond(request(prompts.Chat(""), "hello there"))
	_ = json.Unmarshal([]byte(raw), &resp)
	if resp.Type != "text" || resp.Content != offlineReply {
		t.Errorf("resp = %+v", resp)
	}
}

func TestRespond_WhenOtherPrompt_ShouldReturnEmptyObject(t *testing.T) {
	raw, _ := newLibrary(t).Respond(request("You are a tool planning assistant.", "x"))
	if raw != "{}" {
		t.Errorf("raw = %q", raw)
	}
}

func TestRespond_WhenNotJSONMode_ShouldReturnPlainText(t *testing.T) {
	raw, _ := newLibrary(t).Respond(domain.CompletionRequest{Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}}})
	if raw != offlineReply {
		t.Errorf("raw = %q", raw)
	}
}
