package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mdp/qrterminal/v3"

	"toolchat/internal/numfmt"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#22D3EE"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#94A3B8"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#CBD5E1")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F87171")).Bold(true)
	emptyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#64748B")).Italic(true)
	sectionStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#334155")).Padding(0, 1)
	codeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#A7F3D0"))

	buttonStyles = map[string]lipgloss.Style{
		"primary":   lipgloss.NewStyle().Foreground(lipgloss.Color("#0F172A")).Background(lipgloss.Color("#22D3EE")).Padding(0, 1),
		"secondary": lipgloss.NewStyle().Foreground(lipgloss.Color("#E2E8F0")).Background(lipgloss.Color("#475569")).Padding(0, 1),
		"danger":    lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#DC2626")).Padding(0, 1),
	}

	cellStyles = map[CellClass]lipgloss.Style{
		ClassEmpty:  lipgloss.NewStyle().Foreground(lipgloss.Color("#475569")),
		ClassFirst:  lipgloss.NewStyle().Foreground(lipgloss.Color("#67E8F9")).Bold(true),
		ClassSecond: lipgloss.NewStyle().Foreground(lipgloss.Color("#D8B4FE")).Bold(true),
		ClassOther:  lipgloss.NewStyle().Foreground(lipgloss.Color("#E2E8F0")),
	}
)

// Terminal draws views as styled text.
type Terminal struct {
	width    int
	markdown *glamour.TermRenderer
}

// NewTerminal returns a Terminal wrapping at width columns. Markdown outputs
// fall back to plain text if the glamour renderer cannot be built.
func NewTerminal(width int) *Terminal {
	if width < 20 {
		width = 80
	}
	// Dark style avoids querying the terminal for its background.
	md, _ := glamour.NewTermRenderer(
		glamour.WithStylePath("dark"),
		glamour.WithWordWrap(width-4),
	)
	return &Terminal{width: width, markdown: md}
}

// Render draws the whole tool.
func (t *Terminal) Render(v View) string {
	var b strings.Builder
	title := v.Title
	if v.Icon != "" {
		title = v.Icon + " " + title
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteByte('\n')
	if v.Description != "" {
		b.WriteString(mutedStyle.Render(v.Description))
		b.WriteByte('\n')
	}
	if v.Error != "" {
		b.WriteString(errorStyle.Render("Error: " + v.Error))
		b.WriteByte('\n')
	}
	for _, s := range v.Sections {
		b.WriteString(sectionStyle.Width(t.width - 2).Render(t.section(s)))
		b.WriteByte('\n')
	}
	if len(v.GlobalActions) > 0 {
		b.WriteString(buttons(v.GlobalActions))
		b.WriteByte('\n')
	}
	if v.Busy {
		b.WriteString(mutedStyle.Render("Running..."))
		b.WriteByte('\n')
	}
	return b.String()
}

func (t *Terminal) section(s SectionView) string {
	var lines []string
	if s.Title != "" {
		lines = append(lines, labelStyle.Render(s.Title))
	}
	if s.Description != "" {
		lines = append(lines, mutedStyle.Render(s.Description))
	}
	for _, in := range s.Inputs {
		lines = append(lines, inputLine(in))
	}
	if len(s.Actions) > 0 {
		lines = append(lines, buttons(s.Actions))
	}
	for _, out := range s.Outputs {
		lines = append(lines, t.Output(out))
	}
	return strings.Join(lines, "\n")
}

func inputLine(in InputView) string {
	label := in.Label
	if in.Required {
		label += " *"
	}
	value := plain(in.Value)
	switch in.Widget {
	case WidgetToggle:
		if in.Value == true {
			value = "[x]"
		} else {
			value = "[ ]"
		}
	case WidgetDropdown, WidgetRadioGroup:
		for _, o := range in.Options {
			if plain(o.Value) == value {
				value = o.Label
				break
			}
		}
	case WidgetSlider:
		if in.Min != nil && in.Max != nil {
			value = fmt.Sprintf("%s (%s..%s)", value, numfmt.String(*in.Min), numfmt.String(*in.Max))
		}
	}
	if value == "" && in.Placeholder != "" {
		value = emptyStyle.Render(in.Placeholder)
	}
	line := fmt.Sprintf("%s: %s", labelStyle.Render(label), value)
	if in.HelpText != "" {
		line += "\n  " + mutedStyle.Render(in.HelpText)
	}
	return line
}

func buttons(bs []ButtonView) string {
	parts := make([]string, 0, len(bs))
	for _, b := range bs {
		style, ok := buttonStyles[string(b.Style)]
		if !ok {
			style = buttonStyles["primary"]
		}
		parts = append(parts, style.Render(b.Label))
	}
	return strings.Join(parts, " ")
}

// Output draws one output.
func (t *Terminal) Output(o OutputView) string {
	head := ""
	if o.Label != "" {
		head = labelStyle.Render(o.Label) + "\n"
	}
	if o.Empty {
		return head + emptyStyle.Render(o.Text)
	}
	var body string
	switch o.Strategy {
	case StrategyList:
		if o.Items == nil {
			body = o.Text
			break
		}
		items := make([]string, len(o.Items))
		for i, it := range o.Items {
			items[i] = "• " + it
		}
		body = strings.Join(items, "\n")
	case StrategyCard:
		if o.Fields == nil {
			body = o.Text
			break
		}
		rows := make([]string, len(o.Fields))
		for i, f := range o.Fields {
			rows[i] = mutedStyle.Render(f.Key+":") + " " + f.Value
		}
		body = strings.Join(rows, "\n")
	case StrategyTable:
		body = o.Text
		if o.Table != nil {
			body = tableString(o.Table)
		}
	case StrategyChart:
		body = o.Text
		if o.Chart != nil {
			body = chartString(o.Chart, t.width/2)
		}
	case StrategyGrid:
		body = o.Text
		if o.Grid != nil {
			body = gridString(o.Grid)
		}
	case StrategyCode:
		body = codeStyle.Render(o.Text)
	case StrategyMarkdown:
		body = o.Text
		if t.markdown != nil {
			if out, err := t.markdown.Render(o.Text); err == nil {
				body = strings.TrimRight(out, "\n")
			}
		}
	case StrategyNumber:
		body = titleStyle.Render(o.Text)
	case StrategyText, StrategyCanvas:
		body = o.Text
	}
	return head + body
}

func tableString(tv *TableView) string {
	tb := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Rows(tv.Rows...)
	if len(tv.Headers) > 0 {
		tb = tb.Headers(tv.Headers...)
	}
	return tb.String()
}

func chartString(c *ChartView, width int) string {
	if width < 10 {
		width = 10
	}
	maxVal, labelWidth := 0.0, 0
	for i, v := range c.Values {
		if v > maxVal {
			maxVal = v
		}
		if n := lipgloss.Width(c.Labels[i]); n > labelWidth {
			labelWidth = n
		}
	}
	var rows []string
	for i, v := range c.Values {
		n := 0
		if maxVal > 0 && v > 0 {
			n = int(v / maxVal * float64(width))
		}
		label := c.Labels[i] + strings.Repeat(" ", labelWidth-lipgloss.Width(c.Labels[i]))
		rows = append(rows, fmt.Sprintf("%s %s %s", label, cellStyles[ClassFirst].Render(strings.Repeat("█", n)), numfmt.String(v)))
	}
	return strings.Join(rows, "\n")
}

func gridString(g *GridView) string {
	width := 1
	for _, c := range g.Cells {
		if n := lipgloss.Width(c.Text); n > width {
			width = n
		}
	}
	var rows []string
	for r := 0; r < g.Rows; r++ {
		var cells []string
		for c := 0; c < g.Cols; c++ {
			i := r*g.Cols + c
			if i >= len(g.Cells) {
				break
			}
			cell := g.Cells[i]
			text := cell.Text
			if text == "" {
				text = fmt.Sprint(cell.Index)
			}
			pad := strings.Repeat(" ", width-lipgloss.Width(text))
			cells = append(cells, cellStyles[cell.Class].Render(text+pad))
		}
		if len(cells) > 0 {
			rows = append(rows, " "+strings.Join(cells, " │ "))
		}
	}
	return strings.Join(rows, "\n")
}

// QR writes url as a terminal QR code so embedded pages can be opened on a
// phone.
func QR(w io.Writer, url string) {
	qrterminal.GenerateHalfBlock(url, qrterminal.L, w)
}
