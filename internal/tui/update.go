package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/tibame201020/opencv-custom-sub001/internal/catalog"
	"github.com/tibame201020/opencv-custom-sub001/internal/errors"
	"github.com/tibame201020/opencv-custom-sub001/internal/instance"
	"github.com/tibame201020/opencv-custom-sub001/internal/orchestrator"
	"github.com/tibame201020/opencv-custom-sub001/internal/tui/keymap"
)

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case changedMsg:
		m.refresh()
		return m, m.notify.wait()

	case tickMsg:
		m.now = time.Time(msg)
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case opDoneMsg:
		delete(m.busy, msg.id)
		if msg.err != nil {
			m.logger.WithInstance(msg.id).Failure("console action failed", msg.err, "action", msg.action)
			m.setFlash(failureText(msg.action, msg.err), true)
		} else if msg.note != "" {
			m.setFlash(msg.note, false)
		}
		m.refresh()
		return m, nil

	case catalogMsg:
		if msg.err != nil {
			m.setFlash(failureText("loading scripts", msg.err), true)
		} else {
			m.setFlash(fmt.Sprintf("%d scripts available", msg.scripts), false)
		}
		if m.mode == keymap.ModePicker {
			m.filterPicker()
		}
		return m, nil

	case optionsMsg:
		m.applyOptions(msg.opts)
		m.resize()
		m.setFlash("configuration reloaded", false)
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.mode {
	case keymap.ModePicker:
		return m.handlePickerKey(msg)
	case keymap.ModeInput:
		return m.handleInputKey(msg)
	}

	cmd, ok := m.keymap.GetBinding(msg, keymap.ModeNormal)
	if !ok {
		return m, nil
	}
	m.flash = ""
	return m.execute(cmd, msg)
}

// execute runs a normal mode command.
func (m Model) execute(cmd keymap.Command, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch cmd {
	case keymap.CmdQuit:
		m.quitting = true
		return m, tea.Quit

	case keymap.CmdToggleHelp:
		m.showHelp = !m.showHelp

	case keymap.CmdNextInstance:
		m.cycleFocus(1)
	case keymap.CmdPrevInstance:
		m.cycleFocus(-1)
	case keymap.CmdJumpToInstance:
		if idx := int(msg.Runes[0] - '1'); idx < len(m.instances) {
			m.focus(m.instances[idx].ID)
		}

	case keymap.CmdScrollDown:
		m.scroll(1)
	case keymap.CmdScrollUp:
		m.scroll(-1)
	case keymap.CmdScrollPageDown:
		m.scroll(m.viewport.Height)
	case keymap.CmdScrollPageUp:
		m.scroll(-m.viewport.Height)
	case keymap.CmdScrollToTop:
		m.follow = false
		m.viewport.GotoTop()
	case keymap.CmdScrollToBottom:
		m.follow = true
		m.viewport.GotoBottom()

	case keymap.CmdToggleTimestamps:
		m.timestamps = !m.timestamps
		m.renderLogs(true)
	case keymap.CmdToggleFollow:
		m.follow = !m.follow
		if m.follow {
			m.viewport.GotoBottom()
		}
	case keymap.CmdRefreshCatalog:
		m.setFlash("loading scripts…", false)
		return m, m.refreshCatalog()

	case keymap.CmdOpenInstance:
		return m.openPicker()
	}

	if !m.hasFocus {
		return m, nil
	}
	id := m.focused.ID

	switch cmd {
	case keymap.CmdToggleSubView:
		view := instance.SubViewConsole
		if m.focused.SubView == instance.SubViewConsole {
			view = instance.SubViewParameters
		}
		m.report(m.orch.SetSubView(id, view))

	case keymap.CmdStartInstance:
		if _, busy := m.busy[id]; busy {
			return m, nil
		}
		m.busy[id] = "starting"
		orch := m.orch
		return m, m.op("start", id, func(ctx context.Context) (string, error) {
			return "", orch.Start(ctx, id)
		})

	case keymap.CmdStopInstance:
		if !m.focused.State().IsActive() {
			m.setFlash("instance is not running", false)
			return m, nil
		}
		m.busy[id] = "stopping"
		orch := m.orch
		return m, m.op("stop", id, func(ctx context.Context) (string, error) {
			return "", orch.Stop(ctx, id)
		})

	case keymap.CmdCloseInstance:
		m.busy[id] = "closing"
		orch, label := m.orch, m.focused.Label
		return m, m.op("close", id, func(ctx context.Context) (string, error) {
			return fmt.Sprintf("closed %s", label), orch.Close(ctx, id)
		})

	case keymap.CmdClearLogs:
		m.report(m.orch.Clear(id))

	case keymap.CmdNextDevice:
		m.cycleDevice()

	case keymap.CmdRename:
		return m.openInput(inputRename, "Label: ", m.focused.Label, "")
	case keymap.CmdEditParam:
		return m.openInput(inputParam, "Param: ", "", "key=value (empty value removes the key)")
	case keymap.CmdExportLogs:
		name := fmt.Sprintf("%s-%s.log", sanitizeFileName(m.focused.Label), time.Now().Format("20060102-150405"))
		return m.openInput(inputExport, "Export to: ", name, "path ending in .log or .jsonl")
	}

	m.refresh()
	return m, nil
}

// failureText renders a failed action for the status line, hinting when
// the failure is transient.
func failureText(action string, err error) string {
	text := fmt.Sprintf("%s failed: %s", action, errors.Reason(err))
	if errors.IsRetryable(err) {
		text += " (temporary, try again)"
	}
	return text
}

// report flashes err, if any, and refreshes.
func (m *Model) report(err error) {
	if err != nil {
		m.setFlash(errors.Reason(err), true)
	}
	m.refresh()
}

func (m *Model) focus(id string) {
	m.report(m.orch.Focus(id))
}

func (m *Model) cycleFocus(delta int) {
	n := len(m.instances)
	if n == 0 {
		return
	}
	idx := m.focusIndex()
	if idx < 0 {
		idx = 0
	} else {
		idx = ((idx+delta)%n + n) % n
	}
	m.focus(m.instances[idx].ID)
}

func (m *Model) scroll(lines int) {
	m.viewport.SetYOffset(m.viewport.YOffset + lines)
	m.follow = m.viewport.AtBottom()
}

// cycleDevice sets the focused instance's deviceId to the next known device.
func (m *Model) cycleDevice() {
	devices := m.orch.Devices()
	if len(devices) == 0 {
		m.setFlash("no devices connected (R to reload)", true)
		return
	}
	next := devices[0]
	if i := slices.Index(devices, m.focused.Param(catalog.DeviceParam)); i >= 0 {
		next = devices[(i+1)%len(devices)]
	}
	m.report(m.orch.SetParams(m.focused.ID, map[string]any{catalog.DeviceParam: next}))
	if !m.flashErr {
		m.setFlash("device: "+next, false)
	}
}

// -----------------------------------------------------------------------------
// Script picker
// -----------------------------------------------------------------------------

func (m Model) openPicker() (tea.Model, tea.Cmd) {
	m.mode = keymap.ModePicker
	m.input.Reset()
	m.input.Prompt = "Script: "
	m.input.Placeholder = "filter by name (glob)"
	m.pickIndex = 0
	m.filterPicker()
	return m, m.input.Focus()
}

func (m *Model) filterPicker() {
	picked, err := catalog.Filter(m.orch.Scripts(), m.input.Value())
	if err != nil {
		m.pickErr = errors.Reason(err)
		return
	}
	m.pickErr = ""
	m.picked = picked
	if m.pickIndex >= len(picked) {
		m.pickIndex = max(len(picked)-1, 0)
	}
}

func (m Model) handlePickerKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	cmd, ok := m.keymap.GetBinding(msg, keymap.ModePicker)
	if !ok {
		var icmd tea.Cmd
		m.input, icmd = m.input.Update(msg)
		m.filterPicker()
		return m, icmd
	}

	switch cmd {
	case keymap.CmdCancel:
		m.closeInput()
	case keymap.CmdPrevItem:
		if m.pickIndex > 0 {
			m.pickIndex--
		}
	case keymap.CmdNextItem:
		if m.pickIndex < len(m.picked)-1 {
			m.pickIndex++
		}
	case keymap.CmdConfirm:
		if len(m.picked) == 0 {
			return m, nil
		}
		script := m.picked[m.pickIndex]
		m.closeInput()
		if _, err := m.orch.Open(script.Ref); err != nil {
			m.setFlash(errors.Reason(err), true)
		} else {
			m.setFlash("opened "+script.DisplayName(), false)
		}
		m.refresh()
	}
	return m, nil
}

// -----------------------------------------------------------------------------
// Text input
// -----------------------------------------------------------------------------

func (m Model) openInput(purpose inputPurpose, prompt, value, placeholder string) (tea.Model, tea.Cmd) {
	m.mode = keymap.ModeInput
	m.purpose = purpose
	m.input.Reset()
	m.input.Prompt = prompt
	m.input.Placeholder = placeholder
	m.input.SetValue(value)
	m.input.CursorEnd()
	return m, m.input.Focus()
}

func (m *Model) closeInput() {
	m.mode = keymap.ModeNormal
	m.purpose = inputNone
	m.input.Blur()
	m.input.Reset()
}

func (m Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	cmd, ok := m.keymap.GetBinding(msg, keymap.ModeInput)
	if !ok {
		var icmd tea.Cmd
		m.input, icmd = m.input.Update(msg)
		return m, icmd
	}

	if cmd == keymap.CmdCancel {
		m.closeInput()
		return m, nil
	}

	value := strings.TrimSpace(m.input.Value())
	purpose := m.purpose
	m.closeInput()
	if !m.hasFocus {
		return m, nil
	}
	id := m.focused.ID

	switch purpose {
	case inputRename:
		m.report(m.orch.Rename(id, value))

	case inputParam:
		key, val, err := orchestrator.ParseParam(value)
		if err != nil {
			m.setFlash(errors.Reason(err), true)
			return m, nil
		}
		m.report(m.orch.SetParams(id, map[string]any{key: val}))

	case inputExport:
		if value == "" {
			return m, nil
		}
		return m, m.exportLogs(id, value)
	}
	return m, nil
}

// exportLogs writes the instance's log to path. Paths ending in .jsonl or
// .json are written as JSON lines, anything else as text.
func (m Model) exportLogs(id, path string) tea.Cmd {
	if !filepath.IsAbs(path) && m.exportDir != "" {
		path = filepath.Join(m.exportDir, path)
	}
	format := orchestrator.ExportText
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".json":
		format = orchestrator.ExportJSONLines
	}
	orch := m.orch
	return m.op("export", id, func(context.Context) (string, error) {
		f, err := os.Create(path)
		if err != nil {
			return "", err
		}
		if err := orch.ExportLogs(id, f, format); err != nil {
			_ = f.Close()
			return "", err
		}
		if err := f.Close(); err != nil {
			return "", err
		}
		return "log exported to " + path, nil
	})
}

func sanitizeFileName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, s)
	s = strings.Trim(s, "-")
	if s == "" {
		return "instance"
	}
	return s
}
