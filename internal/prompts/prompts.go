// Package prompts holds the system prompts sent to the model for chat turns
// and tool generation.
package prompts

import (
	"fmt"
	"strings"

	"toolchat/internal/domain"
	"toolchat/internal/toolconfig"
)

// ChatIntro opens the chat system prompt.
const ChatIntro = "You are an intelligent chat assistant with advanced tool creation capabilities."

// ToolConfigIntro opens the tool-generation system prompt.
const ToolConfigIntro = "You are an expert tool configuration generator."

const chatBody = `

RESPONSE FORMAT - Always reply ONLY in JSON:
{
  "type": "text" | "tool" | "embed",
  "content": "string",
  "suggestions": ["Follow-up 1", "Follow-up 2", "Follow-up 3"],
  "reasoning": "Brief explanation of why this type was chosen"
}

NOTE: When type = "tool" is returned, the system generates a JSON tool configuration from your content.
Put a one-sentence description of the tool to build in "content".

Return type = "tool" when the user asks for:
- Calculators and math tools (financial, scientific, percentage, tip, tax)
- Unit and currency converters
- Generators (passwords, names, colors, quotes, code snippets)
- Analyzers (text statistics, BMI, ROI, data summaries)
- Utilities (timers, counters, planners, trackers)
- Small games and simulators (tic-tac-toe, number guessing, dice)
- Charts, diagrams and other visualizations

KEY INDICATORS for "tool": "calculate", "generate", "create", "build", "make", "convert", "analyze",
"track", "measure", "compare", "I need a", "help me", "tool for", "app that".

Return type = "embed" for a specific website or URL the user wants to display. Put the URL in "content".

Return type = "text" for questions, explanations, discussions, advice and creative writing.

Always include "reasoning" to explain your type choice.
After every response, include 3-5 contextually relevant "suggestions" for follow-up questions or actions.`

var forcedInstructions = map[domain.ResponseType]string{
	domain.ResponseText:  "IMPORTANT: You MUST respond with type = 'text' only. Provide a clear, helpful text response.",
	domain.ResponseTool:  "IMPORTANT: You MUST respond with type = 'tool' only. Describe the interactive tool to build in 'content'.",
	domain.ResponseEmbed: "IMPORTANT: You MUST respond with type = 'embed' only. Provide a URL that can be embedded in a page.",
}

// Chat returns the chat system prompt. A non-empty forced type appends an
// instruction pinning the response type; an unknown one is ignored.
func Chat(forced domain.ResponseType) string {
	p := ChatIntro + chatBody
	if ins, ok := forcedInstructions[forced]; ok {
		p += "\n\n" + ins
	}
	return p
}

// ToolConfig returns the tool-generation system prompt. Examples lists the
// available templates, one per line.
func ToolConfig(examples string) string {
	var sb strings.Builder
	sb.WriteString(ToolConfigIntro)
	sb.WriteString(" Create intuitive, functional tool configurations rendered from JSON.\n\n")
	sb.WriteString(`DESIGN PHILOSOPHY:
- Use clear labels and helpful descriptions
- Pick the input type that fits the value (sliders for ranges, selects for fixed choices)
- Provide meaningful default values that demonstrate the tool
- Make outputs easy to read and copy; use "currency", "percent" or "fixed:N" formats where they help
- Simple tools stay simple; complex tools are split into sections
`)
	if examples != "" {
		sb.WriteString("\nAVAILABLE TOOL TEMPLATES:\n")
		sb.WriteString(examples)
		sb.WriteString("\n")
	}
	if schema := toolconfig.JSONSchema(); schema != "" {
		sb.WriteString("\nTOOL CONFIGURATION JSON SCHEMA:\n")
		sb.WriteString(schema)
		sb.WriteString("\n")
	}
	sb.WriteString(`
LOGIC WRITING GUIDE:
- Read inputs via inputs.inputId and write results via results.outputId = value
- Available helpers: Math, Date, JSON, round(num, decimals), formatCurrency(num), formatPercent(num)
- No other globals exist: no DOM, no network, no timers, no regular expressions
- Write plain synchronous code: no async/await or Promise, no class, no Set or Map, no labeled break or continue
- A bare "return;" ends the action early
- Handle edge cases (division by zero, empty input) with helpful messages in the outputs
- Use card outputs for explanations, table outputs for rows of objects, list outputs for ordered items
- For games, use a grid output with gridSize and keep game state in results

EXAMPLE LOGIC:
const principal = Number(inputs.principal);
const rate = Number(inputs.rate) / 100;
const years = Number(inputs.years);
if (principal <= 0 || rate < 0 || years <= 0) {
  results.total = 'Invalid input';
  return;
}
const total = principal * Math.pow(1 + rate, years);
results.total = round(total, 2);
results.summary = ` + "`With ${formatCurrency(principal)} at ${formatPercent(rate)} for ${years} years, you'll have ${formatCurrency(total)}`;" + `

Reply with the JSON tool configuration object only.`)
	return sb.String()
}

// ToolInstruction is the user message asking for a tool of the given type.
func ToolInstruction(toolType, query string) string {
	return fmt.Sprintf("Create a %s tool for: %s", toolType, query)
}

// VisualizationInstruction is the user message asking for a visualization.
func VisualizationInstruction(vizType, query string) string {
	return fmt.Sprintf("Create a %s visualization for: %s", vizType, query)
}
