// Package render maps a tool configuration, its input state and its results
// to a tree of typed widgets, and draws that tree in a terminal.
package render

import (
	"fmt"
	"maps"
	"math"
	"slices"

	"toolchat/internal/toolconfig"
)

// Widget is the control family an input renders as.
type Widget string

const (
	WidgetTextField   Widget = "text-field"
	WidgetNumberField Widget = "number-field"
	WidgetDropdown    Widget = "dropdown"
	WidgetTextArea    Widget = "text-area"
	WidgetToggle      Widget = "toggle"
	WidgetRadioGroup  Widget = "radio-group"
	WidgetSlider      Widget = "slider"
	WidgetDatePicker  Widget = "date-picker"
	WidgetColorPicker Widget = "color-picker"
)

// Strategy is how an output renders its value.
type Strategy string

const (
	StrategyText     Strategy = "text"
	StrategyNumber   Strategy = "number"
	StrategyCard     Strategy = "card"
	StrategyList     Strategy = "list"
	StrategyTable    Strategy = "table"
	StrategyChart    Strategy = "chart"
	StrategyCode     Strategy = "code"
	StrategyMarkdown Strategy = "markdown"
	StrategyCanvas   Strategy = "canvas"
	StrategyGrid     Strategy = "grid"
)

// InputWidget dispatches on the input type alone.
func InputWidget(t toolconfig.InputType) (Widget, error) {
	switch t {
	case toolconfig.InputText:
		return WidgetTextField, nil
	case toolconfig.InputNumber:
		return WidgetNumberField, nil
	case toolconfig.InputSelect:
		return WidgetDropdown, nil
	case toolconfig.InputTextarea:
		return WidgetTextArea, nil
	case toolconfig.InputCheckbox:
		return WidgetToggle, nil
	case toolconfig.InputRadio:
		return WidgetRadioGroup, nil
	case toolconfig.InputSlider:
		return WidgetSlider, nil
	case toolconfig.InputDate:
		return WidgetDatePicker, nil
	case toolconfig.InputColor:
		return WidgetColorPicker, nil
	}
	return "", fmt.Errorf("render: no widget for input type %q", t)
}

// OutputStrategy dispatches on the output type alone.
func OutputStrategy(t toolconfig.OutputType) (Strategy, error) {
	switch t {
	case toolconfig.OutputText:
		return StrategyText, nil
	case toolconfig.OutputNumber:
		return StrategyNumber, nil
	case toolconfig.OutputCard:
		return StrategyCard, nil
	case toolconfig.OutputList:
		return StrategyList, nil
	case toolconfig.OutputTable:
		return StrategyTable, nil
	case toolconfig.OutputChart:
		return StrategyChart, nil
	case toolconfig.OutputCode:
		return StrategyCode, nil
	case toolconfig.OutputMarkdown:
		return StrategyMarkdown, nil
	case toolconfig.OutputCanvas:
		return StrategyCanvas, nil
	case toolconfig.OutputGrid:
		return StrategyGrid, nil
	}
	return "", fmt.Errorf("render: no strategy for output type %q", t)
}

// View is the widget tree of one tool instance.
type View struct {
	ToolID        string              `json:"toolId"`
	Type          toolconfig.ToolType `json:"type"`
	Title         string              `json:"title"`
	Description   string              `json:"description,omitempty"`
	Icon          string              `json:"icon,omitempty"`
	Sections      []SectionView       `json:"sections"`
	GlobalActions []ButtonView        `json:"globalActions,omitempty"`
	Busy          bool                `json:"busy,omitempty"`
	Error         string              `json:"error,omitempty"`
}

// SectionView is one section in rendering order.
type SectionView struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Inputs      []InputView  `json:"inputs,omitempty"`
	Actions     []ButtonView `json:"actions,omitempty"`
	Outputs     []OutputView `json:"outputs,omitempty"`
}

// InputView is one control with its current value.
type InputView struct {
	ID          string              `json:"id"`
	Label       string              `json:"label"`
	Widget      Widget              `json:"widget"`
	Value       any                 `json:"value"`
	Placeholder string              `json:"placeholder,omitempty"`
	HelpText    string              `json:"helpText,omitempty"`
	Required    bool                `json:"required,omitempty"`
	Options     []toolconfig.Option `json:"options,omitempty"`
	Min         *float64            `json:"min,omitempty"`
	Max         *float64            `json:"max,omitempty"`
	Step        *float64            `json:"step,omitempty"`
}

// ButtonView is one action button.
type ButtonView struct {
	ID       string                `json:"id"`
	Label    string                `json:"label"`
	Style    toolconfig.ActionType `json:"style"`
	Disabled bool                  `json:"disabled,omitempty"`
}

// OutputView is one output. Text always holds the formatted value or the
// placeholder; the structured payloads are set only for their strategy.
type OutputView struct {
	ID       string     `json:"id"`
	Label    string     `json:"label,omitempty"`
	Strategy Strategy   `json:"strategy"`
	Empty    bool       `json:"empty,omitempty"`
	Text     string     `json:"text"`
	Copy     string     `json:"copy,omitempty"`
	Items    []string   `json:"items,omitempty"`
	Fields   []Field    `json:"fields,omitempty"`
	Table    *TableView `json:"table,omitempty"`
	Chart    *ChartView `json:"chart,omitempty"`
	Grid     *GridView  `json:"grid,omitempty"`
}

// Field is one label/value pair of a card.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// TableView is a rendered table.
type TableView struct {
	Headers []string   `json:"headers,omitempty"`
	Rows    [][]string `json:"rows"`
}

// ChartView is chart data extracted from a result.
type ChartView struct {
	Kind   toolconfig.ChartType `json:"kind"`
	Labels []string             `json:"labels"`
	Values []float64            `json:"values"`
}

// CellClass distinguishes grid cells by value. The first two distinct
// non-empty values seen in a grid get ClassFirst and ClassSecond; any further
// value gets ClassOther.
type CellClass int

const (
	ClassEmpty CellClass = iota
	ClassFirst
	ClassSecond
	ClassOther
)

// GridView lays a flat array out in rows.
type GridView struct {
	Rows  int    `json:"rows"`
	Cols  int    `json:"cols"`
	Cells []Cell `json:"cells"`
}

// Cell is one grid cell; Index is its position in the flat array.
type Cell struct {
	Index int       `json:"index"`
	Text  string    `json:"text"`
	Class CellClass `json:"class"`
}

// defaultGrid matches the board most game configs use.
var defaultGrid = toolconfig.GridSize{Rows: 3, Cols: 3}

// Build produces the widget tree for cfg with the given input state and
// results. It is deterministic: equal arguments give equal trees.
func Build(cfg *toolconfig.Config, state, results map[string]any) (View, error) {
	v := View{
		ToolID:      cfg.ID,
		Type:        cfg.Type,
		Title:       cfg.Title,
		Description: cfg.Description,
		Icon:        cfg.Icon,
	}
	for _, s := range cfg.Sections {
		sv := SectionView{Title: s.Title, Description: s.Description}
		for _, in := range s.Inputs {
			iv, err := buildInput(in, state)
			if err != nil {
				return View{}, err
			}
			sv.Inputs = append(sv.Inputs, iv)
		}
		for _, a := range s.Actions {
			sv.Actions = append(sv.Actions, buildButton(a))
		}
		for _, out := range s.Outputs {
			ov, err := BuildOutput(out, results[out.ID])
			if err != nil {
				return View{}, err
			}
			sv.Outputs = append(sv.Outputs, ov)
		}
		v.Sections = append(v.Sections, sv)
	}
	for _, a := range cfg.GlobalActions {
		v.GlobalActions = append(v.GlobalActions, buildButton(a))
	}
	return v, nil
}

func buildInput(in toolconfig.Input, state map[string]any) (InputView, error) {
	w, err := InputWidget(in.Type)
	if err != nil {
		return InputView{}, err
	}
	return InputView{
		ID:          in.ID,
		Label:       in.Label,
		Widget:      w,
		Value:       state[in.ID],
		Placeholder: in.Placeholder,
		HelpText:    in.HelpText,
		Required:    in.Required,
		Options:     in.Options,
		Min:         in.Min,
		Max:         in.Max,
		Step:        in.Step,
	}, nil
}

func buildButton(a toolconfig.Action) ButtonView {
	label := a.Label
	if label == "" {
		label = a.ID
	}
	style := a.Type
	if style == "" {
		style = toolconfig.ActionPrimary
	}
	return ButtonView{ID: a.ID, Label: label, Style: style}
}

// BuildOutput renders one output value with the output's strategy.
func BuildOutput(out toolconfig.Output, value any) (OutputView, error) {
	strategy, err := OutputStrategy(out.Type)
	if err != nil {
		return OutputView{}, err
	}
	ov := OutputView{ID: out.ID, Label: out.Label, Strategy: strategy}
	if Absent(value) {
		ov.Empty = true
		ov.Text = Placeholder
		return ov, nil
	}
	ov.Text = FormatValue(value, out.Format)
	if out.Copyable {
		ov.Copy = CopyText(value)
	}

	switch strategy {
	case StrategyList:
		if items, ok := value.([]any); ok {
			ov.Items = make([]string, len(items))
			for i, item := range items {
				ov.Items[i] = inline(item)
			}
		}
	case StrategyCard:
		if obj, ok := value.(map[string]any); ok {
			for _, k := range sortedKeys(obj) {
				ov.Fields = append(ov.Fields, Field{Key: k, Value: FormatValue(obj[k], out.Format)})
			}
		}
	case StrategyTable:
		ov.Table = buildTable(value)
	case StrategyChart:
		ov.Chart = buildChart(value, out.ChartType)
	case StrategyGrid:
		ov.Grid = buildGrid(value, out.GridSize)
	case StrategyText, StrategyNumber, StrategyCode, StrategyMarkdown, StrategyCanvas:
	}
	return ov, nil
}

// buildTable accepts an array of objects, whose headers are the union of keys
// in first-seen order with each row's keys sorted, or an array of arrays.
func buildTable(value any) *TableView {
	rows, ok := value.([]any)
	if !ok || len(rows) == 0 {
		return nil
	}
	if _, isObj := rows[0].(map[string]any); isObj {
		t := &TableView{}
		seen := map[string]bool{}
		for _, r := range rows {
			obj, _ := r.(map[string]any)
			for _, k := range sortedKeys(obj) {
				if !seen[k] {
					seen[k] = true
					t.Headers = append(t.Headers, k)
				}
			}
		}
		for _, r := range rows {
			obj, _ := r.(map[string]any)
			cells := make([]string, len(t.Headers))
			for i, h := range t.Headers {
				if v, ok := obj[h]; ok {
					cells[i] = inline(v)
				}
			}
			t.Rows = append(t.Rows, cells)
		}
		return t
	}
	if _, isArr := rows[0].([]any); isArr {
		t := &TableView{}
		for _, r := range rows {
			cols, _ := r.([]any)
			cells := make([]string, len(cols))
			for i, c := range cols {
				cells[i] = inline(c)
			}
			t.Rows = append(t.Rows, cells)
		}
		return t
	}
	return nil
}

// buildChart accepts an array of {label, value} objects, an array of numbers
// or an object mapping labels to numbers.
// chartNumber is asNumber restricted to finite values; a chart has no place
// to draw NaN or an infinity.
func chartNumber(v any) (float64, bool) {
	n, ok := asNumber(v)
	return n, ok && !math.IsNaN(n) && !math.IsInf(n, 0)
}

func buildChart(value any, kind toolconfig.ChartType) *ChartView {
	if kind == "" {
		kind = toolconfig.ChartBar
	}
	c := &ChartView{Kind: kind}
	switch x := value.(type) {
	case []any:
		for i, item := range x {
			switch p := item.(type) {
			case map[string]any:
				n, ok := chartNumber(p["value"])
				if !ok {
					continue
				}
				label := plain(p["label"])
				if label == "" {
					label = plain(p["name"])
				}
				c.Labels = append(c.Labels, label)
				c.Values = append(c.Values, n)
			default:
				if n, ok := chartNumber(p); ok {
					c.Labels = append(c.Labels, fmt.Sprint(i+1))
					c.Values = append(c.Values, n)
				}
			}
		}
	case map[string]any:
		for _, k := range sortedKeys(x) {
			if n, ok := chartNumber(x[k]); ok {
				c.Labels = append(c.Labels, k)
				c.Values = append(c.Values, n)
			}
		}
	}
	if len(c.Values) == 0 {
		return nil
	}
	return c
}

func buildGrid(value any, size *toolconfig.GridSize) *GridView {
	cells, ok := value.([]any)
	if !ok {
		return nil
	}
	g := defaultGrid
	if size != nil && size.Rows > 0 && size.Cols > 0 {
		g = *size
	}
	rows := g.Rows
	if need := int(math.Ceil(float64(len(cells)) / float64(g.Cols))); need > rows {
		rows = need
	}
	gv := &GridView{Rows: rows, Cols: g.Cols, Cells: make([]Cell, len(cells))}
	classes := map[string]CellClass{}
	next := ClassFirst
	for i, c := range cells {
		text := ""
		if !Absent(c) {
			text = inline(c)
		}
		class := ClassEmpty
		if text != "" {
			cls, seen := classes[text]
			if !seen {
				cls = next
				classes[text] = cls
				if next < ClassOther {
					next++
				}
			}
			class = cls
		}
		gv.Cells[i] = Cell{Index: i, Text: text, Class: class}
	}
	return gv
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}
