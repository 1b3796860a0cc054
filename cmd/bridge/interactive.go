package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/canvas-bridge/bridge"
	"github.com/wippyai/canvas-bridge/geom"
	"github.com/wippyai/canvas-bridge/message"
	"github.com/wippyai/canvas-bridge/modhost"
	"github.com/wippyai/canvas-bridge/pointer"
	"github.com/wippyai/canvas-bridge/surface"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	stateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// headerRows is the number of terminal rows above the pointer area.
const headerRows = 3

const historySize = 10

type interactiveModel struct {
	ctx      context.Context
	err      error
	ctrl     *bridge.Controller
	name     string
	history  []string
	surface  geom.Viewport
	input    textinput.Model
	spin     spinner.Model
	start    time.Time
	last     pointer.Event
	width    int
	height   int
	ready    bool
	dragging bool
	closed   bool
}

type readyMsg struct{ err error }

type guestMsg struct{ m message.Message }

type closedMsg struct{}

type sentMsg struct{ err error }

func newInteractiveModel(ctx context.Context, ctrl *bridge.Controller, name string, sc surface.Config) *interactiveModel {
	ti := textinput.New()
	ti.Placeholder = "text for the guest"
	ti.Prompt = "send: "
	ti.Width = 40

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &interactiveModel{
		ctx:     ctx,
		ctrl:    ctrl,
		name:    name,
		surface: geom.Size(float64(sc.Width), float64(sc.Height)),
		input:   ti,
		spin:    sp,
		start:   time.Now(),
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.awaitReady, m.listen)
}

func (m *interactiveModel) awaitReady() tea.Msg {
	return readyMsg{err: m.ctrl.AwaitReady(m.ctx)}
}

func (m *interactiveModel) listen() tea.Msg {
	msg, ok := <-m.ctrl.Messages()
	if !ok {
		return closedMsg{}
	}
	return guestMsg{m: msg}
}

func (m *interactiveModel) send(text string) tea.Cmd {
	return func() tea.Msg {
		p, err := m.ctrl.Send(m.ctx, message.Log(text))
		if err != nil {
			return sentMsg{err: err}
		}
		return sentMsg{err: p.Wait(m.ctx)}
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "q":
			if !m.input.Focused() {
				return m, tea.Quit
			}
		case "tab":
			if m.input.Focused() {
				m.input.Blur()
			} else {
				m.input.Focus()
			}
			return m, nil
		case "esc":
			m.input.Blur()
			m.input.SetValue("")
			return m, nil
		case "enter":
			if m.input.Focused() && m.input.Value() != "" {
				text := m.input.Value()
				m.input.SetValue("")
				return m, m.send(text)
			}
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		host := geom.Size(float64(msg.Width), float64(max(msg.Height-headerRows, 0)))
		if err := m.ctrl.Resize(m.ctx, host, m.surface); err != nil {
			m.record(errorStyle.Render("resize: " + err.Error()))
		}
		return m, nil

	case tea.MouseMsg:
		m.pointer(msg)
		return m, nil

	case readyMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.ready = true
		return m, nil

	case guestMsg:
		m.record(describeStyled(msg.m))
		return m, m.listen

	case closedMsg:
		m.closed = true
		return m, nil

	case sentMsg:
		if msg.err != nil {
			m.record(errorStyle.Render("send: " + msg.err.Error()))
		}
		return m, nil

	case spinner.TickMsg:
		if m.ready || m.err != nil {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// pointer turns left-button mouse activity into pointer events. Terminal
// cells are the host coordinate space; rows above the pointer area are
// not part of it.
func (m *interactiveModel) pointer(msg tea.MouseMsg) {
	var phase pointer.Phase
	switch {
	case msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonLeft:
		phase = pointer.PhaseStart
		m.dragging = true
	case msg.Action == tea.MouseActionMotion && m.dragging:
		phase = pointer.PhaseMove
	case msg.Action == tea.MouseActionRelease && m.dragging:
		phase = pointer.PhaseEnd
		m.dragging = false
	default:
		return
	}

	m.last = pointer.Event{
		ID:        1,
		HostX:     float64(msg.X),
		HostY:     float64(msg.Y - headerRows),
		Phase:     phase,
		Timestamp: time.Since(m.start),
	}
	m.ctrl.OnPointerEvent(m.last)
}

func (m *interactiveModel) record(line string) {
	m.history = append(m.history, line)
	if len(m.history) > historySize {
		m.history = m.history[len(m.history)-historySize:]
	}
}

func describeStyled(msg message.Message) string {
	switch msg.Kind {
	case message.KindError:
		return errorStyle.Render(describe(msg))
	case message.KindResult:
		return resultStyle.Render(describe(msg))
	default:
		return stateStyle.Render(describe(msg))
	}
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Canvas Bridge"))
	b.WriteString(" ")
	b.WriteString(m.name)
	b.WriteString(" ")
	switch {
	case m.err != nil:
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	case !m.ready:
		b.WriteString(m.spin.View() + " loading")
	default:
		b.WriteString(stateStyle.Render(m.ctrl.State().String()))
	}
	b.WriteString("\n")

	stats := m.ctrl.Stats()
	fmt.Fprintf(&b, "last %s  forwarded %d  coalesced %d  dropped %d\n",
		m.last, stats.Forwarded, stats.Coalesced, stats.DroppedTotal())
	b.WriteString(m.input.View())
	b.WriteString("\n")

	for _, line := range m.history {
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	help := "drag with the left button • tab send text • q quit"
	if m.ctrl.State() == modhost.Failed {
		help = "module failed • q quit"
	}
	b.WriteString(helpStyle.Render(help))
	return b.String()
}

func runInteractive(ctx context.Context, ctrl *bridge.Controller, name string, sc surface.Config) error {
	if err := ctrl.Mount(ctx); err != nil {
		return fmt.Errorf("mount: %w", err)
	}
	defer func() { _ = ctrl.Unmount(context.Background()) }()

	p := tea.NewProgram(newInteractiveModel(ctx, ctrl, name, sc),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
