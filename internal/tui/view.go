package tui

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/tibame201020/opencv-custom-sub001/internal/catalog"
	"github.com/tibame201020/opencv-custom-sub001/internal/instance"
	"github.com/tibame201020/opencv-custom-sub001/internal/instance/state"
	"github.com/tibame201020/opencv-custom-sub001/internal/tui/keymap"
	"github.com/tibame201020/opencv-custom-sub001/internal/tui/styles"
	"github.com/tibame201020/opencv-custom-sub001/internal/util"
)

// View renders the console.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 || m.height == 0 {
		return "loading…"
	}

	sidebarW, mainW, bodyH := m.layout()
	body := lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderSidebar(sidebarW, bodyH),
		m.renderMain(mainW, bodyH),
	)
	return lipgloss.JoinVertical(lipgloss.Left, body, m.renderFooter())
}

// -----------------------------------------------------------------------------
// Sidebar
// -----------------------------------------------------------------------------

func (m Model) renderSidebar(width, height int) string {
	inner := max(width-4, 1)
	var b strings.Builder
	b.WriteString(m.styles.SidebarTitle.Render(util.TruncateANSI(fmt.Sprintf("Instances (%d)", len(m.instances)), inner)))
	b.WriteString("\n")

	if len(m.instances) == 0 {
		b.WriteString(m.styles.Muted.Render("No instances.\nPress n to open one."))
	}
	for i, rec := range m.instances {
		b.WriteString(m.renderSidebarItem(i, rec, inner))
		b.WriteString("\n")
	}

	return m.styles.Sidebar.
		Width(width - 2).
		Height(height - 2).
		MaxHeight(height).
		Render(b.String())
}

func (m Model) renderSidebarItem(i int, rec instance.Record, width int) string {
	num := " "
	if i < 9 {
		num = fmt.Sprintf("%d", i+1)
	}
	active := m.hasFocus && rec.ID == m.focused.ID

	icon := styles.StatusIcon(rec.Status)
	if _, busy := m.busy[rec.ID]; busy || rec.Phase.Pending() {
		icon = m.spinner.Spinner.Frames[0]
		if !active {
			icon = m.spinner.View()
		}
	} else if !active {
		icon = m.styles.Status(rec.Status, icon)
	}

	title := fmt.Sprintf("%s %s %s", num, icon, rec.Label)
	detail := "    " + m.statusDetail(rec)

	if active {
		title = m.styles.SidebarItemActive.Render(util.PadRight(util.TruncateANSI(title, width), width))
	} else {
		title = m.styles.SidebarItem.Render(util.TruncateANSI(title, width))
	}
	return title + "\n" + m.styles.Muted.Render(util.TruncateANSI(detail, width))
}

// statusDetail is the second sidebar line: status, and for running
// instances how long ago the last event arrived.
func (m Model) statusDetail(rec instance.Record) string {
	if action, busy := m.busy[rec.ID]; busy {
		return action + "…"
	}
	s := string(rec.Status)
	if rec.Status != state.StatusRunning {
		return s
	}
	if rec.LastEventAt.IsZero() {
		return s + " · waiting for output"
	}
	return s + " · last event " + util.FormatAge(m.now.Sub(rec.LastEventAt)) + " ago"
}

// -----------------------------------------------------------------------------
// Main panel
// -----------------------------------------------------------------------------

func (m Model) renderMain(width, height int) string {
	var content string
	switch {
	case m.mode == keymap.ModePicker:
		content = m.renderPicker(height - 2)
	case m.showHelp:
		content = m.styles.Title.Render("Keys") + "\n\n" + m.help.FullHelpView(m.keymap.HelpGroups(keymap.ModeNormal))
	case !m.hasFocus:
		content = m.renderWelcome()
	default:
		content = m.renderInstance()
	}

	return m.styles.ContentBox.
		Width(width - 2).
		Height(height - 2).
		MaxHeight(height).
		Render(content)
}

func (m Model) renderWelcome() string {
	return m.styles.Title.Render("scriptdeck") + "\n\n" +
		m.styles.Muted.Render("Open an instance with n, pick a script, then start it with s.")
}

func (m Model) renderInstance() string {
	rec := m.focused
	w := m.contentWidth()

	title := m.styles.Title.Render(rec.Label) + m.styles.Muted.Render(" · "+rec.ScriptRef)
	st := m.styles.Status(rec.Status, styles.StatusIcon(rec.Status)+" "+string(rec.Status))
	if rec.Phase != state.PhaseNone {
		st += m.styles.Muted.Render(" (" + string(rec.Phase) + ")")
	}
	if rec.RunID != "" {
		st += m.styles.Muted.Render(" run " + util.ShortID(rec.RunID))
	}
	header := util.TruncateANSI(title+"  "+st, w)

	tabs := m.renderTabs(rec.SubView)
	if rec.SubView == instance.SubViewConsole {
		info := fmt.Sprintf(" %d events", rec.LogCount)
		if !m.follow {
			info += fmt.Sprintf(" · %3.f%% · follow off", m.viewport.ScrollPercent()*100)
		}
		tabs += m.styles.Muted.Render(info)
		return header + "\n" + util.TruncateANSI(tabs, w) + "\n" + m.viewport.View()
	}
	return header + "\n" + util.TruncateANSI(tabs, w) + "\n" + m.renderParams(rec)
}

func (m Model) renderTabs(current instance.SubView) string {
	tab := func(view instance.SubView, label string) string {
		if view == current {
			return m.styles.TabActive.Render(label)
		}
		return m.styles.TabIdle.Render(label)
	}
	return tab(instance.SubViewParameters, "Parameters") + tab(instance.SubViewConsole, "Console")
}

func (m Model) renderParams(rec instance.Record) string {
	w := m.contentWidth()
	var b strings.Builder
	b.WriteString("\n")

	script, known := m.scriptFor(rec)
	if known {
		line := m.styles.ParamKey.Render("script ") + m.styles.ParamValue.Render(script.DisplayName())
		if script.Platform != "" {
			line += m.styles.Muted.Render(" [" + script.Platform + "]")
		}
		b.WriteString(util.TruncateANSI(line, w) + "\n")
		if script.Description != "" {
			b.WriteString(m.styles.Muted.Render(util.TruncateANSI(script.Description, w)) + "\n")
		}
		b.WriteString("\n")
	}

	if known && script.NeedsDevice() {
		device := rec.Param(catalog.DeviceParam)
		if device == "" {
			device = m.styles.Warning.Render("not selected")
		}
		hint := fmt.Sprintf(" (d cycles %d connected)", len(m.orch.Devices()))
		b.WriteString(m.styles.ParamKey.Render("device ") + device + m.styles.Muted.Render(hint) + "\n\n")
	}

	keys := make([]string, 0, len(rec.Params))
	for k := range rec.Params {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	if len(keys) == 0 {
		b.WriteString(m.styles.Muted.Render("No parameters set.") + "\n")
	}
	for _, k := range keys {
		line := m.styles.ParamKey.Render(k) + " = " + m.styles.ParamValue.Render(rec.Param(k))
		b.WriteString(util.TruncateANSI(line, w) + "\n")
	}

	b.WriteString("\n" + m.styles.Muted.Render("e sets a parameter · v shows the console · s starts"))
	return b.String()
}

func (m Model) renderPicker(height int) string {
	w := m.contentWidth()
	var b strings.Builder
	b.WriteString(m.styles.Title.Render("Open instance") + "\n")
	b.WriteString(m.input.View() + "\n\n")

	if m.pickErr != "" {
		b.WriteString(m.styles.ErrorMsg.Render(m.pickErr))
		return b.String()
	}
	if len(m.picked) == 0 {
		b.WriteString(m.styles.Muted.Render("No scripts match. R reloads the catalog."))
		return b.String()
	}

	rows := max(height-4, 1)
	start := 0
	if m.pickIndex >= rows {
		start = m.pickIndex - rows + 1
	}
	end := min(start+rows, len(m.picked))
	for i := start; i < end; i++ {
		s := m.picked[i]
		label := s.DisplayName()
		if s.Platform != "" {
			label += " [" + s.Platform + "]"
		}
		label = util.TruncateANSI(label, w-2)
		if i == m.pickIndex {
			b.WriteString(m.styles.DropdownItemSelected.Render(label))
		} else {
			b.WriteString(m.styles.DropdownItem.Render(label))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// -----------------------------------------------------------------------------
// Footer
// -----------------------------------------------------------------------------

func (m Model) renderFooter() string {
	var status string
	switch {
	case m.mode == keymap.ModeInput:
		status = m.input.View()
	case m.flash != "" && m.flashErr:
		status = m.styles.ErrorMsg.Render(m.flash)
	case m.flash != "":
		status = m.styles.InfoMsg.Render(m.flash)
	}
	status = util.TruncateANSI(status, m.width)

	helpLine := m.help.ShortHelpView(m.keymap.HelpBindings(m.mode, true))
	return status + "\n" + util.TruncateANSI(helpLine, m.width)
}
