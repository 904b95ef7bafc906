package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-split/split"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type keyMap struct {
	Up     key.Binding
	Down   key.Binding
	Enter  key.Binding
	Back   key.Binding
	Filter key.Binding
	Quit   key.Binding
}

var keys = keyMap{
	Up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Enter:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "inspect")),
	Back:   key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
	Filter: key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "filter")),
	Quit:   key.NewBinding(key.WithKeys("ctrl+c", "q"), key.WithHelp("q", "quit")),
}

func helpLine(bindings ...key.Binding) string {
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return helpStyle.Render(strings.Join(parts, " • "))
}

type modelState int

const (
	stateSelectTarget modelState = iota
	stateFilter
	stateShowTarget
)

// headerLines is the height of the title and help lines around the
// detail viewport.
const headerLines = 4

type targetInfo struct {
	stats  split.ModuleStats
	detail string
}

type interactiveModel struct {
	err      error
	opts     options
	out      *split.Output
	targets  []targetInfo
	visible  []int
	filter   textinput.Model
	viewport viewport.Model
	selected int
	width    int
	height   int
	state    modelState
}

type loadedMsg struct {
	err     error
	out     *split.Output
	targets []targetInfo
}

func newInteractiveModel(opts options) *interactiveModel {
	ti := textinput.New()
	ti.Prompt = "/ "
	ti.Placeholder = "target name"
	ti.Width = 40
	return &interactiveModel{
		opts:     opts,
		filter:   ti,
		viewport: viewport.New(defaultWidth, 20),
		state:    stateSelectTarget,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.loadPlan
}

func (m *interactiveModel) loadPlan() tea.Msg {
	out, err := load(context.Background(), m.opts)
	if err != nil {
		return loadedMsg{err: err}
	}
	r, err := split.NewReport(out)
	if err != nil {
		return loadedMsg{err: err}
	}

	targets := make([]targetInfo, len(r.Modules))
	for i, st := range r.Modules {
		targets[i] = targetInfo{stats: st, detail: describe(out, r, st)}
	}
	return loadedMsg{out: out, targets: targets}
}

// describe renders the detail page of one emitted module.
func describe(out *split.Output, r *split.Report, st split.ModuleStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n\n", typeStyle.Render(st.Target.String()), funcStyle.Render(st.Name))
	fmt.Fprintf(&b, "bytes      %d\n", st.Bytes)
	fmt.Fprintf(&b, "functions  %d local, %d imported\n", st.Funcs, st.Imports)
	fmt.Fprintf(&b, "exports    %d\n", st.Exports)
	fmt.Fprintf(&b, "data       %d bytes\n", st.DataBytes)

	p := out.Plan
	switch st.Target.Kind {
	case split.TargetMain:
		fmt.Fprintf(&b, "shared     %d nodes\n", len(p.Shared))
		fmt.Fprintf(&b, "unused     %d nodes\n", len(p.Unused))
		if len(p.Untranslated) > 0 {
			fmt.Fprintf(&b, "\n%s\n", errorStyle.Render(fmt.Sprintf(
				"%d symbols missing from the bindgened module, %d kept in main", len(p.Untranslated), len(p.Injected))))
		}

	case split.TargetSplit:
		sp := p.Splits[st.Target.Index]
		fmt.Fprintf(&b, "import     %s\n", sp.ImportName)
		fmt.Fprintf(&b, "export     %s\n", sp.ExportName)
		fmt.Fprintf(&b, "loader     %s\n", sp.LoaderName())
		fmt.Fprintf(&b, "chunks     %s\n", chunkList(st.ReliesOnChunks))
		fmt.Fprintf(&b, "\nreachable (%d)\n", len(sp.Reachable))
		for _, n := range sp.Reachable.Sorted() {
			owner := "local"
			if p.Main.Has(n) {
				owner = "main"
			} else if c, ok := p.ChunkOf(n); ok {
				owner = fmt.Sprintf("chunk %d", c)
			}
			fmt.Fprintf(&b, "  %s %s\n", typeStyle.Render(fmt.Sprintf("%-8s", owner)), p.NodeName(n))
		}

	case split.TargetChunk:
		c := r.Chunks[st.Target.Index]
		fmt.Fprintf(&b, "used by    %s\n", splitList(p, c.Users))
		fmt.Fprintf(&b, "\nmembers (%d)\n", len(c.Members))
		for _, name := range c.Members {
			fmt.Fprintf(&b, "  %s\n", name)
		}
	}
	return b.String()
}

func chunkList(chunks []int) string {
	if len(chunks) == 0 {
		return "-"
	}
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = fmt.Sprintf("chunk %d", c)
	}
	return strings.Join(parts, ", ")
}

func splitList(p *split.Plan, users []int) string {
	if len(users) == 0 {
		return "-"
	}
	parts := make([]string, len(users))
	for i, u := range users {
		parts[i] = p.Splits[u].ComponentName
	}
	return strings.Join(parts, ", ")
}

func (m *interactiveModel) applyFilter() {
	q := strings.ToLower(strings.TrimSpace(m.filter.Value()))
	m.visible = m.visible[:0]
	for i, t := range m.targets {
		label := strings.ToLower(t.stats.Target.String() + " " + t.stats.Name)
		if q == "" || strings.Contains(label, q) {
			m.visible = append(m.visible, i)
		}
	}
	if m.selected >= len(m.visible) {
		m.selected = max(len(m.visible)-1, 0)
	}
}

func (m *interactiveModel) resize() {
	m.viewport.Width = m.width
	m.viewport.Height = max(m.height-headerLines, 1)
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.out = msg.out
		m.targets = msg.targets
		m.applyFilter()

	case tea.KeyMsg:
		if m.state == stateFilter {
			switch msg.String() {
			case "ctrl+c":
				return m, tea.Quit
			case "enter", "esc":
				m.filter.Blur()
				m.state = stateSelectTarget
				return m, nil
			}
			var cmd tea.Cmd
			m.filter, cmd = m.filter.Update(msg)
			m.applyFilter()
			return m, cmd
		}

		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, keys.Back):
			if m.state == stateShowTarget {
				m.state = stateSelectTarget
			}
			return m, nil

		case m.state == stateShowTarget:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd

		case key.Matches(msg, keys.Up):
			if m.selected > 0 {
				m.selected--
			}

		case key.Matches(msg, keys.Down):
			if m.selected < len(m.visible)-1 {
				m.selected++
			}

		case key.Matches(msg, keys.Filter):
			m.state = stateFilter
			return m, m.filter.Focus()

		case key.Matches(msg, keys.Enter):
			if len(m.visible) == 0 {
				return m, nil
			}
			m.viewport.SetContent(m.targets[m.visible[m.selected]].detail)
			m.viewport.GotoTop()
			m.state = stateShowTarget
		}
	}
	return m, nil
}

func (m *interactiveModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}
	if m.out == nil {
		return "Splitting module..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("WASM Split"))
	b.WriteString(" ")
	b.WriteString(m.opts.bindgened)
	b.WriteString("\n\n")

	if m.state == stateShowTarget {
		b.WriteString(m.viewport.View())
		b.WriteString("\n")
		b.WriteString(helpLine(keys.Up, keys.Down, keys.Back, keys.Quit))
		return b.String()
	}

	for i, idx := range m.visible {
		st := m.targets[idx].stats
		line := fmt.Sprintf("%-10s %-24s %8d bytes", st.Target, st.Name, st.Bytes)
		if i == m.selected {
			b.WriteString(selectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	if len(m.visible) == 0 {
		b.WriteString(helpStyle.Render("  no targets match"))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	if m.state == stateFilter {
		b.WriteString(m.filter.View())
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter apply • esc done"))
	} else {
		b.WriteString(helpLine(keys.Up, keys.Down, keys.Enter, keys.Filter, keys.Quit))
	}
	return b.String()
}

func runInteractive(opts options) error {
	p := tea.NewProgram(newInteractiveModel(opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
