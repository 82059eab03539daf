// Package ui renders batch progress in the terminal.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"vlbdb/internal/batch"
)

// stageInfo is how a job in a stage is labeled and how far along it counts.
type stageInfo struct {
	working string
	weight  float64
}

var stages = map[batch.Stage]stageInfo{
	batch.StageLoad:       {"loading", 0.1},
	batch.StageRegister:   {"registering", 0.3},
	batch.StageSpecialize: {"specializing", 0.5},
	batch.StageCall:       {"calling", 0.9},
	batch.StageFinish:     {"", 1.0},
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	idleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	doneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

const statusColumn = 12

type jobItem struct {
	name   string
	status string
	style  lipgloss.Style
	stage  batch.Stage
	detail string
}

func (it *jobItem) finished() bool { return it.stage == batch.StageFinish }

type progressModel struct {
	title   string
	events  <-chan batch.Event
	spinner spinner.Model
	bar     progress.Model
	items   []jobItem
	index   map[string]int
	width   int
	closed  bool
}

type eventMsg batch.Event

type closedMsg struct{}

// NewProgressModel returns a Bubble Tea model showing one line per job plus
// an overall bar. It quits once events is closed.
func NewProgressModel(title string, jobs []string, events <-chan batch.Event) tea.Model {
	m := &progressModel{
		title:   title,
		events:  events,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(activeStyle)),
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(76)),
		items:   make([]jobItem, len(jobs)),
		index:   make(map[string]int, len(jobs)),
		width:   80,
	}
	for i, name := range jobs {
		m.items[i] = jobItem{name: name, status: string(batch.StatusQueued), style: idleStyle}
		m.index[name] = i
	}
	return m
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.next)
}

// next blocks for the following batch event.
func (m *progressModel) next() tea.Msg {
	ev, ok := <-m.events
	if !ok {
		return closedMsg{}
	}
	return eventMsg(ev)
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		return m, tea.Batch(m.applyEvent(batch.Event(msg)), m.next)
	case closedMsg:
		m.closed = true
		return m, tea.Quit
	case spinner.TickMsg:
		if m.closed {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.bar.Width = msg.Width - 4
		}
	case progress.FrameMsg:
		bar, cmd := m.bar.Update(msg)
		m.bar = bar.(progress.Model)
		return m, cmd
	}
	return m, nil
}

// applyEvent folds ev into its job's line. Events after a job's finish
// event are ignored.
func (m *progressModel) applyEvent(ev batch.Event) tea.Cmd {
	i, ok := m.index[ev.Job]
	if !ok || m.items[i].finished() {
		return nil
	}
	it := &m.items[i]
	switch ev.Status {
	case batch.StatusQueued:
		it.status, it.style = string(batch.StatusQueued), idleStyle
	case batch.StatusWorking:
		it.status, it.style, it.stage = stages[ev.Stage].working, activeStyle, ev.Stage
	case batch.StatusError:
		it.status, it.style, it.stage = "error", failedStyle, ev.Stage
	case batch.StatusDone:
		if ev.Stage != batch.StageFinish {
			return nil
		}
		it.status, it.style, it.stage = "done", doneStyle, ev.Stage
	}
	if ev.Stage == batch.StageFinish {
		switch {
		case ev.Err != nil:
			it.detail = ev.Err.Error()
		case ev.Elapsed > 0:
			it.detail = ev.Elapsed.Round(time.Millisecond).String()
		}
	}

	var sum float64
	for _, it := range m.items {
		sum += stages[it.stage].weight
	}
	return m.bar.SetPercent(sum / float64(len(m.items)))
}

func (m *progressModel) finished() int {
	n := 0
	for i := range m.items {
		if m.items[i].finished() {
			n++
		}
	}
	return n
}

func (m *progressModel) View() string {
	if len(m.items) == 0 {
		return ""
	}
	var b strings.Builder
	header := fmt.Sprintf("%s (%d/%d)", m.title, m.finished(), len(m.items))
	if m.closed {
		header = "done: " + header
	} else {
		header = m.spinner.View() + " " + header
	}
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")

	lineWidth := max(m.width-statusColumn-4, 20)
	for _, it := range m.items {
		line := it.name
		if it.detail != "" {
			line += ": " + it.detail
		}
		status := it.style.Render(fmt.Sprintf("%*s", statusColumn, it.status))
		fmt.Fprintf(&b, "  %s %s\n", status, truncate(line, lineWidth))
	}
	b.WriteString("\n")
	if m.closed {
		b.WriteString(m.bar.ViewAs(1))
	} else {
		b.WriteString(m.bar.View())
	}
	b.WriteString("\n")
	return b.String()
}

// truncate cuts value to width terminal cells, marking the cut with "..."
// when there is room for it.
func truncate(value string, width int) string {
	if width <= 0 || runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width-3, "...")
}
