package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vwriter/ventoy-writer/pkg/blockdev"
	"github.com/vwriter/ventoy-writer/pkg/images"
	"github.com/vwriter/ventoy-writer/pkg/workflow"
)

// Controller is the part of *workflow.Controller the UI drives.
type Controller interface {
	Snapshot() workflow.State
	Subscribe() (<-chan workflow.Event, func())
	ScanDevices(ctx context.Context) ([]blockdev.Device, error)
	SelectDevice(ctx context.Context, id string) error
	SelectImages(paths []string) (images.Selection, error)
	ClearImages() error
	InstallVentoy(ctx context.Context, deviceID string) error
	WriteImages(ctx context.Context, deviceID string, paths []string) error
	Cancel() bool
}

// Focus is the panel receiving cursor keys.
type Focus int

const (
	FocusDevices Focus = iota
	FocusImages
)

// Mode is the input mode of the model.
type Mode int

const (
	ModeBrowse Mode = iota
	ModeAddImage
	ModeConfirmInstall
)

// MainModel is the Bubble Tea model over a workflow controller.
type MainModel struct {
	ctx  context.Context
	ctrl Controller

	events      <-chan workflow.Event
	unsubscribe func()

	state     workflow.State
	paths     []string
	deviceCur int
	imageCur  int
	focus     Focus
	mode      Mode
	notice    string

	spinner  spinner.Model
	progress progress.Model
	logView  viewport.Model
	input    textinput.Model

	quitting bool
	width    int
	height   int
}

// InitialModel subscribes to ctrl; initial paths are validated on start.
func InitialModel(ctx context.Context, ctrl Controller, paths []string) *MainModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	in := textinput.New()
	in.Placeholder = "/path/to/image.iso"
	in.CharLimit = 4096

	events, unsubscribe := ctrl.Subscribe()
	return &MainModel{
		ctx:         ctx,
		ctrl:        ctrl,
		events:      events,
		unsubscribe: unsubscribe,
		state:       ctrl.Snapshot(),
		paths:       append([]string(nil), paths...),
		spinner:     s,
		progress:    progress.New(progress.WithDefaultGradient()),
		logView:     viewport.New(80, 8),
		input:       in,
	}
}

func (m *MainModel) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, waitForEvent(m.events), scanCmd(m.ctx, m.ctrl)}
	if len(m.paths) > 0 {
		cmds = append(cmds, selectImagesCmd(m.ctrl, m.paths))
	}
	return tea.Batch(cmds...)
}

func (m *MainModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		return m.handleWindowSizeMsg(msg)

	case EventMsg:
		m.refresh()
		return m, waitForEvent(m.events)

	case EventsClosedMsg:
		return m, nil

	case ActionDoneMsg:
		m.refresh()
		if msg.Action == "images" || msg.Action == "clear" {
			// The list shows what a write would copy.
			m.paths = m.state.Images.Paths()
			m.imageCur = clamp(m.imageCur, len(m.paths))
		}
		if msg.Err != nil {
			m.notice = msg.Err.Error()
		} else {
			m.notice = ""
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *MainModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m.quit()
	}

	switch m.mode {
	case ModeAddImage:
		return m.handleAddImageKey(msg)
	case ModeConfirmInstall:
		return m.handleConfirmKey(msg)
	}

	busy := m.state.Phase.Busy()
	switch msg.String() {
	case "q":
		return m.quit()
	case "c", "esc":
		if busy {
			m.ctrl.Cancel()
			m.refresh()
		}
		return m, nil
	case "tab":
		if m.focus == FocusDevices {
			m.focus = FocusImages
		} else {
			m.focus = FocusDevices
		}
		return m, nil
	case "up", "k":
		m.moveCursor(-1)
		return m, nil
	case "down", "j":
		m.moveCursor(1)
		return m, nil
	case "pgup":
		m.logView.SetYOffset(m.logView.YOffset - 3)
		return m, nil
	case "pgdown":
		m.logView.SetYOffset(m.logView.YOffset + 3)
		return m, nil
	}

	if busy {
		return m, nil
	}

	switch msg.String() {
	case "r":
		return m, scanCmd(m.ctx, m.ctrl)
	case "enter":
		if m.focus == FocusDevices && m.deviceCur < len(m.state.Devices) {
			return m, selectDeviceCmd(m.ctx, m.ctrl, m.state.Devices[m.deviceCur].Path)
		}
	case "a":
		m.mode = ModeAddImage
		m.input.Reset()
		return m, m.input.Focus()
	case "d", "x":
		if m.focus == FocusImages && m.imageCur < len(m.paths) {
			m.paths = append(m.paths[:m.imageCur], m.paths[m.imageCur+1:]...)
			if m.imageCur > 0 && m.imageCur >= len(m.paths) {
				m.imageCur--
			}
			if len(m.paths) == 0 {
				return m, clearImagesCmd(m.ctrl)
			}
			return m, selectImagesCmd(m.ctrl, m.paths)
		}
	case "i":
		if d := m.state.Device; d != nil && d.Status == blockdev.StatusBare {
			m.mode = ModeConfirmInstall
			return m, nil
		}
		m.notice = "Select a device without Ventoy to install"
	case "w":
		if d := m.state.Device; d != nil && d.Status == blockdev.StatusVentoy {
			return m, writeCmd(m.ctx, m.ctrl, d.Path)
		}
		m.notice = "Select a Ventoy device to write images"
	}
	return m, nil
}

func (m *MainModel) handleAddImageKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.mode = ModeBrowse
		m.input.Blur()
		return m, nil
	case tea.KeyEnter:
		m.mode = ModeBrowse
		m.input.Blur()
		path := strings.TrimSpace(m.input.Value())
		if path == "" {
			return m, nil
		}
		m.paths = append(m.paths, path)
		m.focus = FocusImages
		m.imageCur = len(m.paths) - 1
		return m, selectImagesCmd(m.ctrl, m.paths)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *MainModel) handleConfirmKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.mode = ModeBrowse
	if msg.String() != "y" && msg.String() != "Y" {
		m.notice = "Installation aborted"
		return m, nil
	}
	d := m.state.Device
	if d == nil {
		return m, nil
	}
	return m, installCmd(m.ctx, m.ctrl, d.Path)
}

func (m *MainModel) handleWindowSizeMsg(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height
	m.progress.Width = max(msg.Width-10, 10)
	m.logView.Width = max(msg.Width-4, 20)
	m.logView.Height = max(msg.Height/3, 4)
	m.syncLog()
	return m, nil
}

func (m *MainModel) quit() (tea.Model, tea.Cmd) {
	if m.state.Phase.Busy() {
		m.ctrl.Cancel()
	}
	m.quitting = true
	m.unsubscribe()
	return m, tea.Quit
}

func (m *MainModel) moveCursor(delta int) {
	switch m.focus {
	case FocusDevices:
		m.deviceCur = clamp(m.deviceCur+delta, len(m.state.Devices))
	case FocusImages:
		m.imageCur = clamp(m.imageCur+delta, len(m.paths))
	}
}

// refresh pulls a new snapshot; events only signal that something changed.
func (m *MainModel) refresh() {
	m.state = m.ctrl.Snapshot()
	m.deviceCur = clamp(m.deviceCur, len(m.state.Devices))
	m.syncLog()
}

func (m *MainModel) syncLog() {
	atBottom := m.logView.AtBottom()
	m.logView.SetContent(strings.Join(m.state.Log, "\n"))
	if atBottom || m.state.Phase.Busy() {
		m.logView.GotoBottom()
	}
}

func clamp(i, n int) int {
	if i >= n {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}
