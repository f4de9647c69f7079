package confirm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"snipex/internal/resolve"
	"snipex/internal/snippet"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	keyStyle      = lipgloss.NewStyle().Bold(true).Padding(0, 1).Background(lipgloss.Color("236"))
)

type confirmKeyMap struct {
	Up     key.Binding
	Down   key.Binding
	Next   key.Binding
	Prev   key.Binding
	Submit key.Binding
	Cancel key.Binding
}

var confirmKeys = confirmKeyMap{
	Up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Next:   key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next")),
	Prev:   key.NewBinding(key.WithKeys("shift+tab"), key.WithHelp("shift+tab", "previous")),
	Submit: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "confirm")),
	Cancel: key.NewBinding(key.WithKeys("esc", "ctrl+c"), key.WithHelp("esc", "cancel")),
}

func helpBar(bindings ...key.Binding) string {
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		parts = append(parts, keyStyle.Render(h.Key)+" "+dimStyle.Render(h.Desc))
	}
	return strings.Join(parts, "  ")
}

func audienceLabel(a snippet.Audience) string {
	if a == snippet.External {
		return "Extern (Sie)"
	}
	return "Intern (du)"
}

// audienceModel is the picker screen.
type audienceModel struct {
	choice    AudienceChoice
	cursor    int
	confirmed bool
	width     int
}

func newAudienceModel(c AudienceChoice) audienceModel {
	m := audienceModel{choice: c, width: 60}
	for i, a := range c.Options {
		if a == c.Preselected {
			m.cursor = i
		}
	}
	return m
}

func (m audienceModel) Init() tea.Cmd { return nil }

func (m audienceModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, confirmKeys.Cancel):
			return m, tea.Quit
		case key.Matches(msg, confirmKeys.Up, confirmKeys.Prev):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, confirmKeys.Down, confirmKeys.Next):
			if m.cursor < len(m.choice.Options)-1 {
				m.cursor++
			}
		case key.Matches(msg, confirmKeys.Submit):
			if len(m.choice.Options) > 0 {
				m.confirmed = true
				return m, tea.Quit
			}
		}
	}
	return m, nil
}

func (m audienceModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Zielgruppe wählen") + "\n\n")
	wrap := lipgloss.NewStyle().Width(max(m.width-6, 20))
	for i, a := range m.choice.Options {
		marker, style := "  ", dimStyle
		if i == m.cursor {
			marker, style = "> ", selectedStyle
		}
		b.WriteString(style.Render(marker+audienceLabel(a)) + "\n")
		b.WriteString(boxStyle.Render(wrap.Render(m.choice.Variants.Get(a))) + "\n")
	}
	b.WriteString("\n" + helpBar(confirmKeys.Up, confirmKeys.Down, confirmKeys.Submit, confirmKeys.Cancel) + "\n")
	return b.String()
}

func (m audienceModel) selected() (snippet.Audience, bool) {
	if !m.confirmed || m.cursor >= len(m.choice.Options) {
		return "", false
	}
	return m.choice.Options[m.cursor], true
}

// TerminalAudienceUI renders the picker with bubbletea.
type TerminalAudienceUI struct {
	In  io.Reader
	Out io.Writer
}

func (t TerminalAudienceUI) ChooseAudience(ctx context.Context, c AudienceChoice) (snippet.Audience, bool, error) {
	final, err := runProgram(ctx, newAudienceModel(c), t.In, t.Out)
	if err != nil {
		return "", false, err
	}
	a, ok := final.(audienceModel).selected()
	return a, ok, nil
}

// variablesModel is the filler screen: one text input per placeholder.
type variablesModel struct {
	text      string
	names     []string
	inputs    []textinput.Model
	focus     int
	submitted bool
}

func newVariablesModel(text string, ph []resolve.Placeholder) variablesModel {
	m := variablesModel{text: text}
	for i, p := range ph {
		in := textinput.New()
		in.Placeholder = p.Name
		in.Prompt = p.Name + ": "
		in.CharLimit = 512
		if i == 0 {
			in.Focus()
		}
		m.names = append(m.names, p.Name)
		m.inputs = append(m.inputs, in)
	}
	return m
}

func (m variablesModel) Init() tea.Cmd { return textinput.Blink }

func (m variablesModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(k, confirmKeys.Cancel):
			return m, tea.Quit
		case key.Matches(k, confirmKeys.Submit):
			if m.focus >= len(m.inputs)-1 {
				m.submitted = true
				return m, tea.Quit
			}
			return m.move(1), nil
		case key.Matches(k, confirmKeys.Next, confirmKeys.Down):
			return m.move(1), nil
		case key.Matches(k, confirmKeys.Prev, confirmKeys.Up):
			return m.move(-1), nil
		}
	}
	if len(m.inputs) == 0 {
		return m, nil
	}
	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m variablesModel) move(delta int) variablesModel {
	if len(m.inputs) == 0 {
		return m
	}
	m.inputs[m.focus].Blur()
	m.focus = (m.focus + delta + len(m.inputs)) % len(m.inputs)
	m.inputs[m.focus].Focus()
	return m
}

func (m variablesModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Variablen ausfüllen") + "\n\n")
	b.WriteString(boxStyle.Render(m.text) + "\n\n")
	for _, in := range m.inputs {
		b.WriteString(in.View() + "\n")
	}
	b.WriteString("\n" + helpBar(confirmKeys.Next, confirmKeys.Submit, confirmKeys.Cancel) + "\n")
	return b.String()
}

func (m variablesModel) values() map[string]string {
	out := make(map[string]string, len(m.names))
	for i, name := range m.names {
		out[name] = strings.TrimSpace(m.inputs[i].Value())
	}
	return out
}

// TerminalVariablesUI renders the filler with bubbletea.
type TerminalVariablesUI struct {
	In  io.Reader
	Out io.Writer
}

func (t TerminalVariablesUI) FillVariables(ctx context.Context, text string, ph []resolve.Placeholder) (map[string]string, bool, error) {
	final, err := runProgram(ctx, newVariablesModel(text, ph), t.In, t.Out)
	if err != nil {
		return nil, false, err
	}
	m := final.(variablesModel)
	if !m.submitted {
		return nil, false, nil
	}
	return m.values(), true, nil
}

func runProgram(ctx context.Context, model tea.Model, in io.Reader, out io.Writer) (tea.Model, error) {
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if in != nil {
		opts = append(opts, tea.WithInput(in))
	}
	if out != nil {
		opts = append(opts, tea.WithOutput(out))
	}
	final, err := tea.NewProgram(model, opts...).Run()
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, tea.ErrProgramKilled) {
			return nil, context.Canceled
		}
		return nil, fmt.Errorf("run window: %w", err)
	}
	return final, nil
}
