package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/vwriter/ventoy-writer/pkg/workflow"
)

// Messages
type EventMsg workflow.Event

// EventsClosedMsg means the subscription ended.
type EventsClosedMsg struct{}

// ActionDoneMsg reports the result of a controller call.
type ActionDoneMsg struct {
	Action string
	Err    error
}

func waitForEvent(events <-chan workflow.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return EventsClosedMsg{}
		}
		return EventMsg(e)
	}
}

func scanCmd(ctx context.Context, c Controller) tea.Cmd {
	return func() tea.Msg {
		_, err := c.ScanDevices(ctx)
		return ActionDoneMsg{Action: "scan", Err: err}
	}
}

func selectDeviceCmd(ctx context.Context, c Controller, id string) tea.Cmd {
	return func() tea.Msg {
		return ActionDoneMsg{Action: "select", Err: c.SelectDevice(ctx, id)}
	}
}

// selectImagesCmd copies paths; the command runs after Update returns.
func selectImagesCmd(c Controller, paths []string) tea.Cmd {
	paths = append([]string(nil), paths...)
	return func() tea.Msg {
		_, err := c.SelectImages(paths)
		return ActionDoneMsg{Action: "images", Err: err}
	}
}

func clearImagesCmd(c Controller) tea.Cmd {
	return func() tea.Msg {
		return ActionDoneMsg{Action: "clear", Err: c.ClearImages()}
	}
}

func installCmd(ctx context.Context, c Controller, id string) tea.Cmd {
	return func() tea.Msg {
		return ActionDoneMsg{Action: "install", Err: c.InstallVentoy(ctx, id)}
	}
}

func writeCmd(ctx context.Context, c Controller, id string) tea.Cmd {
	return func() tea.Msg {
		return ActionDoneMsg{Action: "write", Err: c.WriteImages(ctx, id, nil)}
	}
}
