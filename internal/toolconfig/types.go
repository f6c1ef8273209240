// Package toolconfig defines the tool configuration document a model emits to
// describe an interactive widget, and parses and validates it.
package toolconfig

// ToolType is advisory; it only selects an icon or style.
type ToolType string

const (
	ToolCalculator ToolType = "calculator"
	ToolConverter  ToolType = "converter"
	ToolGenerator  ToolType = "generator"
	ToolAnalyzer   ToolType = "analyzer"
	ToolVisualizer ToolType = "visualizer"
	ToolGame       ToolType = "game"
	ToolCustom     ToolType = "custom"
)

// AllToolTypes lists every ToolType.
var AllToolTypes = []ToolType{ToolCalculator, ToolConverter, ToolGenerator, ToolAnalyzer, ToolVisualizer, ToolGame, ToolCustom}

// InputType selects the widget family of an input.
type InputType string

const (
	InputText     InputType = "text"
	InputNumber   InputType = "number"
	InputSelect   InputType = "select"
	InputTextarea InputType = "textarea"
	InputCheckbox InputType = "checkbox"
	InputRadio    InputType = "radio"
	InputSlider   InputType = "slider"
	InputDate     InputType = "date"
	InputColor    InputType = "color"
)

// AllInputTypes lists every InputType.
var AllInputTypes = []InputType{InputText, InputNumber, InputSelect, InputTextarea, InputCheckbox, InputRadio, InputSlider, InputDate, InputColor}

// Numeric reports whether values of this input are numbers.
func (t InputType) Numeric() bool { return t == InputNumber || t == InputSlider }

// HasOptions reports whether the input needs an options list.
func (t InputType) HasOptions() bool { return t == InputSelect || t == InputRadio }

// OutputType selects the rendering strategy of an output.
type OutputType string

const (
	OutputText     OutputType = "text"
	OutputNumber   OutputType = "number"
	OutputCard     OutputType = "card"
	OutputList     OutputType = "list"
	OutputTable    OutputType = "table"
	OutputChart    OutputType = "chart"
	OutputCode     OutputType = "code"
	OutputMarkdown OutputType = "markdown"
	OutputCanvas   OutputType = "canvas"
	OutputGrid     OutputType = "grid"
)

// AllOutputTypes lists every OutputType.
var AllOutputTypes = []OutputType{OutputText, OutputNumber, OutputCard, OutputList, OutputTable, OutputChart, OutputCode, OutputMarkdown, OutputCanvas, OutputGrid}

// ActionType only affects button styling.
type ActionType string

const (
	ActionPrimary   ActionType = "primary"
	ActionSecondary ActionType = "secondary"
	ActionDanger    ActionType = "danger"
)

// AllActionTypes lists every ActionType.
var AllActionTypes = []ActionType{ActionPrimary, ActionSecondary, ActionDanger}

// ChartType is a hint for chart outputs.
type ChartType string

const (
	ChartBar      ChartType = "bar"
	ChartLine     ChartType = "line"
	ChartPie      ChartType = "pie"
	ChartDoughnut ChartType = "doughnut"
	ChartScatter  ChartType = "scatter"
)

// AllChartTypes lists every ChartType.
var AllChartTypes = []ChartType{ChartBar, ChartLine, ChartPie, ChartDoughnut, ChartScatter}

// Option is one choice of a select or radio input. Value is a string or a number.
type Option struct {
	Label string `json:"label"`
	Value any    `json:"value"`
}

// GridSize lays out the flat array value of a grid output.
type GridSize struct {
	Rows int `json:"rows" jsonschema:"minimum=1"`
	Cols int `json:"cols" jsonschema:"minimum=1"`
}

// Cells is rows*cols.
func (g GridSize) Cells() int { return g.Rows * g.Cols }

// Input is one control.
type Input struct {
	ID           string    `json:"id" jsonschema:"minLength=1"`
	Type         InputType `json:"type" jsonschema:"enum=text,enum=number,enum=select,enum=textarea,enum=checkbox,enum=radio,enum=slider,enum=date,enum=color"`
	Label        string    `json:"label" jsonschema:"minLength=1"`
	Placeholder  string    `json:"placeholder,omitempty"`
	DefaultValue any       `json:"defaultValue,omitempty"`
	Options      []Option  `json:"options,omitempty"`
	Min          *float64  `json:"min,omitempty"`
	Max          *float64  `json:"max,omitempty"`
	Step         *float64  `json:"step,omitempty"`
	Required     bool      `json:"required,omitempty"`
	HelpText     string    `json:"helpText,omitempty"`
}

// Output is one display.
type Output struct {
	ID           string     `json:"id" jsonschema:"minLength=1"`
	Type         OutputType `json:"type" jsonschema:"enum=text,enum=number,enum=card,enum=list,enum=table,enum=chart,enum=code,enum=markdown,enum=canvas,enum=grid"`
	Label        string     `json:"label,omitempty"`
	Format       string     `json:"format,omitempty"`
	ChartType    ChartType  `json:"chartType,omitempty" jsonschema:"enum=bar,enum=line,enum=pie,enum=doughnut,enum=scatter"`
	Copyable     bool       `json:"copyable,omitempty"`
	GridSize     *GridSize  `json:"gridSize,omitempty"`
	CellRenderer string     `json:"cellRenderer,omitempty"`
}

// Action is a user-triggerable operation. Logic is a toolscript body run
// against the inputs and results bindings.
type Action struct {
	ID    string     `json:"id" jsonschema:"minLength=1"`
	Label string     `json:"label,omitempty"`
	Type  ActionType `json:"type,omitempty" jsonschema:"enum=primary,enum=secondary,enum=danger"`
	Logic string     `json:"logic" jsonschema:"minLength=1"`
}

// Section groups inputs, outputs and actions. Sections render in order.
type Section struct {
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Inputs      []Input  `json:"inputs,omitempty"`
	Outputs     []Output `json:"outputs,omitempty"`
	Actions     []Action `json:"actions,omitempty"`
}

// Styling is a presentation hint with no effect on execution.
type Styling struct {
	PrimaryColor string `json:"primaryColor,omitempty"`
	AccentColor  string `json:"accentColor,omitempty"`
	Layout       string `json:"layout,omitempty" jsonschema:"enum=single,enum=split,enum=grid"`
}

// GameConfig is a presentation hint with no effect on execution.
type GameConfig struct {
	CanvasWidth    int  `json:"canvasWidth,omitempty"`
	CanvasHeight   int  `json:"canvasHeight,omitempty"`
	CellSize       int  `json:"cellSize,omitempty"`
	EnableKeyboard bool `json:"enableKeyboard,omitempty"`
	EnableMouse    bool `json:"enableMouse,omitempty"`
}

// Config is the root tool configuration.
type Config struct {
	ID            string      `json:"id" jsonschema:"minLength=1"`
	Type          ToolType    `json:"type" jsonschema:"enum=calculator,enum=converter,enum=generator,enum=analyzer,enum=visualizer,enum=game,enum=custom"`
	Title         string      `json:"title" jsonschema:"minLength=1"`
	Description   string      `json:"description,omitempty"`
	Icon          string      `json:"icon,omitempty"`
	Sections      []Section   `json:"sections" jsonschema:"minItems=1"`
	GlobalActions []Action    `json:"globalActions,omitempty"`
	Styling       *Styling    `json:"styling,omitempty"`
	GameConfig    *GameConfig `json:"gameConfig,omitempty"`
}

// Inputs returns every input across all sections in rendering order.
func (c *Config) Inputs() []Input {
	var out []Input
	for _, s := range c.Sections {
		out = append(out, s.Inputs...)
	}
	return out
}

// Outputs returns every output across all sections in rendering order.
func (c *Config) Outputs() []Output {
	var out []Output
	for _, s := range c.Sections {
		out = append(out, s.Outputs...)
	}
	return out
}

// Actions returns section actions in order followed by global actions.
func (c *Config) Actions() []Action {
	var out []Action
	for _, s := range c.Sections {
		out = append(out, s.Actions...)
	}
	return append(out, c.GlobalActions...)
}

// Action finds an action by id among section and global actions.
func (c *Config) Action(id string) (Action, bool) {
	for _, a := range c.Actions() {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}
