package templates

import (
	"encoding/json"
	"strings"

	"toolchat/internal/domain"
	"toolchat/internal/prompts"
)

// keywords map free-text requests onto built-in templates. Earlier entries
// win, so specific calculators come before the generic one.
var keywords = []struct {
	name  string
	words []string
}{
	{"bmiCalculator", []string{"bmi", "body mass"}},
	{"percentageCalculator", []string{"percent"}},
	{"unitConverter", []string{"convert", "unit", "meter", "feet", "mile"}},
	{"passwordGenerator", []string{"password"}},
	{"ticTacToe", []string{"tic tac", "tic-tac", "tictactoe", "noughts"}},
	{"numberGuessing", []string{"guess"}},
	{"simpleCalculator", []string{"calc", "arithmetic", "add", "sum", "multiply", "divide"}},
}

// Match picks the template that fits query: a user template whose name or
// title appears in it, else the first built-in whose keywords do.
func (l *Library) Match(query string) (Template, bool) {
	q := strings.ToLower(query)
	if q == "" {
		return Template{}, false
	}
	for _, t := range l.All() {
		if t.Builtin {
			continue
		}
		if strings.Contains(q, strings.ToLower(t.Name)) || strings.Contains(q, strings.ToLower(t.Config.Title)) {
			return t, true
		}
	}
	for _, k := range keywords {
		for _, w := range k.words {
			if strings.Contains(q, w) {
				t, err := l.Get(k.name)
				return t, err == nil
			}
		}
	}
	return Template{}, false
}

const offlineReply = "I'm running without a model, so I can only build tools from the local template library. " +
	"Try asking for a calculator, a unit converter, a password generator or a game."

// Respond answers a completion request from the library without a model.
// Its signature matches llm.Responder so it can back the local provider.
func (l *Library) Respond(req domain.CompletionRequest) (string, error) {
	user := lastUser(req.Conversation())
	if !req.JSONMode {
		return offlineReply, nil
	}
	sys := req.SystemPrompt()
	switch {
	case strings.HasPrefix(sys, prompts.ToolConfigIntro):
		t, ok := l.Match(user)
		if !ok {
			t = l.All()[0]
		}
		raw, err := json.Marshal(t.Config)
		return string(raw), err

	case strings.HasPrefix(sys, prompts.ChatIntro):
		resp := map[string]any{
			"type":        domain.ResponseText,
			"content":     offlineReply,
			"suggestions": []string{"Build a BMI calculator", "Generate a password", "Play tic tac toe"},
			"reasoning":   "no local template matched",
		}
		if t, ok := l.Match(user); ok {
			resp["type"] = domain.ResponseTool
			resp["content"] = user
			resp["reasoning"] = "matched template " + t.Name
		}
		raw, err := json.Marshal(resp)
		return string(raw), err
	}
	// Planning and other JSON requests get an empty object so callers use
	// their defaults.
	return "{}", nil
}

func lastUser(msgs []domain.ChatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == domain.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
