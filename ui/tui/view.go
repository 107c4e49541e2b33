package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/vwriter/ventoy-writer/pkg/blockdev"
	"github.com/vwriter/ventoy-writer/pkg/workflow"
)

func (m *MainModel) View() string {
	if m.quitting {
		return "Bye!\n"
	}

	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteString("\n\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, m.devicesView(), m.imagesView()))
	b.WriteString("\n")
	b.WriteString(m.statusView())
	b.WriteString("\n")
	b.WriteString(PanelStyle.Render(m.logView.View()))
	b.WriteString("\n")
	b.WriteString(m.footerView())
	return b.String()
}

func (m *MainModel) headerView() string {
	phase := string(m.state.Phase)
	if m.state.Phase.Busy() {
		phase = m.spinner.View() + " " + phase
	}
	return TitleStyle.Render("Ventoy Writer") + "  " + PhaseStyle.Render(phase)
}

func (m *MainModel) devicesView() string {
	var b strings.Builder
	b.WriteString("USB devices\n")
	if len(m.state.Devices) == 0 {
		b.WriteString(HelpStyle.Render("none found, press r to rescan"))
	}
	for i, d := range m.state.Devices {
		line := d.DisplayName()
		if sel := m.state.Device; sel != nil && sel.Path == d.Path {
			line = SelectedStyle.Render("● "+line) + " " + statusBadge(sel.Status)
		} else {
			line = "  " + line
		}
		b.WriteString(m.cursor(FocusDevices, i == m.deviceCur) + line + "\n")
	}

	style := PanelStyle
	if m.focus == FocusDevices {
		style = FocusedPanelStyle
	}
	return style.Width(m.panelWidth()).Render(strings.TrimRight(b.String(), "\n"))
}

func (m *MainModel) imagesView() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Images (%s)\n", humanize.IBytes(uint64(m.state.Images.TotalSize())))

	if len(m.paths) == 0 {
		b.WriteString(HelpStyle.Render("press a to add an ISO"))
	}
	valid := make(map[string]string, len(m.state.Images))
	for _, img := range m.state.Images {
		valid[img.Path] = img.String()
	}
	for i, p := range m.paths {
		line := p
		if s, ok := findImage(valid, p); ok {
			line = s
		}
		b.WriteString(m.cursor(FocusImages, i == m.imageCur) + line + "\n")
	}

	if m.mode == ModeAddImage {
		b.WriteString("\n" + m.input.View())
	}

	style := PanelStyle
	if m.focus == FocusImages {
		style = FocusedPanelStyle
	}
	return style.Width(m.panelWidth()).Render(strings.TrimRight(b.String(), "\n"))
}

func (m *MainModel) statusView() string {
	var lines []string
	if m.state.Phase.Busy() || m.state.Phase == workflow.PhaseDone {
		lines = append(lines, m.progress.ViewAs(float64(m.state.Progress)/100))
	}
	if m.state.LastReport != nil {
		lines = append(lines, "Last write: "+m.state.LastReport.Summary())
	}
	if m.mode == ModeConfirmInstall && m.state.Device != nil {
		lines = append(lines, ErrorStyle.Render(fmt.Sprintf("Install Ventoy on %s? ALL DATA WILL BE ERASED. [y/N]", m.state.Device.DisplayName())))
	}
	if m.notice != "" {
		lines = append(lines, ErrorStyle.Render(m.notice))
	} else if e := m.state.LastError; e != nil && m.state.Phase != workflow.PhaseDone {
		lines = append(lines, ErrorStyle.Render(e.Error()))
	}
	return strings.Join(lines, "\n")
}

func (m *MainModel) footerView() string {
	if m.mode == ModeAddImage {
		return HelpStyle.Render("enter: add • esc: back")
	}
	if m.state.Phase.Busy() {
		return HelpStyle.Render("c: cancel • pgup/pgdown: scroll log • q: quit")
	}
	return HelpStyle.Render("r: rescan • enter: select • tab: switch panel • a/d: add/remove image • i: install • w: write • q: quit")
}

func (m *MainModel) cursor(panel Focus, on bool) string {
	if on && m.focus == panel {
		return CursorStyle.Render("> ")
	}
	return "  "
}

func (m *MainModel) panelWidth() int {
	if m.width <= 0 {
		return 48
	}
	return max(m.width/2-4, 24)
}

func statusBadge(s blockdev.Status) string {
	switch s {
	case blockdev.StatusVentoy:
		return SelectedStyle.Render("[ventoy]")
	case blockdev.StatusBusy:
		return CursorStyle.Render("[busy]")
	case blockdev.StatusBare:
		return HelpStyle.Render("[no ventoy]")
	}
	return HelpStyle.Render("[" + string(s) + "]")
}

// findImage matches a user-entered path against validated absolute paths.
func findImage(valid map[string]string, p string) (string, bool) {
	if s, ok := valid[p]; ok {
		return s, true
	}
	for path, s := range valid {
		if strings.HasSuffix(path, "/"+strings.TrimPrefix(p, "./")) {
			return s, true
		}
	}
	return "", false
}
