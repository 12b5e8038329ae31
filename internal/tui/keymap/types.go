// Package keymap provides key binding definitions and lookup for the console.
// Bindings are declared per input mode and resolve a key press to a named
// Command, which keeps key handling declarative and out of the update loop.
package keymap

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// Mode represents the current input mode of the console.
// Different modes have different key bindings active.
type Mode string

const (
	ModeNormal Mode = "normal" // Navigating instances and logs
	ModePicker Mode = "picker" // Choosing a script for a new instance
	ModeInput  Mode = "input"  // Typing a label, param or export path
)

// Command represents a named action that can be triggered by a key binding.
type Command string

// Normal mode commands
const (
	// Navigation
	CmdNextInstance   Command = "next_instance"
	CmdPrevInstance   Command = "prev_instance"
	CmdJumpToInstance Command = "jump_to_instance" // 1-9 keys
	CmdToggleSubView  Command = "toggle_sub_view"

	// Log scrolling
	CmdScrollDown     Command = "scroll_down"
	CmdScrollUp       Command = "scroll_up"
	CmdScrollPageUp   Command = "scroll_page_up"
	CmdScrollPageDown Command = "scroll_page_down"
	CmdScrollToTop    Command = "scroll_to_top"
	CmdScrollToBottom Command = "scroll_to_bottom"

	// Instance control
	CmdOpenInstance  Command = "open_instance"
	CmdCloseInstance Command = "close_instance"
	CmdStartInstance Command = "start_instance"
	CmdStopInstance  Command = "stop_instance"
	CmdClearLogs     Command = "clear_logs"
	CmdRename        Command = "rename"
	CmdEditParam     Command = "edit_param"
	CmdNextDevice    Command = "next_device"
	CmdExportLogs    Command = "export_logs"

	// View toggles
	CmdToggleTimestamps Command = "toggle_timestamps"
	CmdToggleFollow     Command = "toggle_follow"
	CmdRefreshCatalog   Command = "refresh_catalog"
	CmdToggleHelp       Command = "toggle_help"

	// Exit
	CmdQuit Command = "quit"
)

// Picker and input mode commands
const (
	CmdCancel   Command = "cancel"
	CmdConfirm  Command = "confirm"
	CmdPrevItem Command = "prev_item"
	CmdNextItem Command = "next_item"
)

// KeyBinding represents a single key binding configuration.
type KeyBinding struct {
	// KeyType is the key. For printable keys use tea.KeyRunes and set Rune.
	KeyType tea.KeyType
	// Rune is the character for rune-based keys.
	Rune rune
	// Command is the action to execute when this binding is triggered.
	Command Command
	// Description is a human-readable description for help display.
	Description string
	// Category groups related bindings together in help display.
	Category string
	// Hidden bindings work but are left out of the short help line.
	Hidden bool
}

// Matches checks if a tea.KeyMsg matches this binding.
func (kb KeyBinding) Matches(msg tea.KeyMsg) bool {
	if msg.Alt {
		return false
	}
	if kb.KeyType != tea.KeyRunes {
		return msg.Type == kb.KeyType
	}
	if msg.Type != tea.KeyRunes || len(msg.Runes) != 1 {
		return false
	}
	return msg.Runes[0] == kb.Rune
}

// String returns a human-readable representation of the key binding.
func (kb KeyBinding) String() string {
	if kb.KeyType != tea.KeyRunes {
		return kb.KeyType.String()
	}
	if kb.Rune == ' ' {
		return "space"
	}
	return string(kb.Rune)
}

// ModeBindings holds all key bindings for a specific mode.
type ModeBindings struct {
	Mode     Mode
	Bindings []KeyBinding
}

// GetBinding looks up a command for a key in this mode.
func (mb *ModeBindings) GetBinding(msg tea.KeyMsg) (Command, bool) {
	for _, binding := range mb.Bindings {
		if binding.Matches(msg) {
			return binding.Command, true
		}
	}
	return "", false
}

// Keymap contains all key bindings organized by mode.
type Keymap struct {
	Name  string
	Modes map[Mode]*ModeBindings
}

// GetBinding looks up a command for a key in a specific mode.
func (km *Keymap) GetBinding(msg tea.KeyMsg, mode Mode) (Command, bool) {
	mb, ok := km.Modes[mode]
	if !ok {
		return "", false
	}
	return mb.GetBinding(msg)
}

// GetModeBindings returns all bindings for a specific mode.
func (km *Keymap) GetModeBindings(mode Mode) []KeyBinding {
	mb, ok := km.Modes[mode]
	if !ok {
		return nil
	}
	return mb.Bindings
}

// HelpBindings converts a mode's bindings to bubbles key bindings for the
// help view. Keys that trigger the same command are merged into one entry.
// With short set, hidden bindings are skipped.
func (km *Keymap) HelpBindings(mode Mode, short bool) []key.Binding {
	var order []Command
	keys := make(map[Command][]string)
	desc := make(map[Command]string)
	for _, kb := range km.GetModeBindings(mode) {
		if short && kb.Hidden {
			continue
		}
		if _, seen := keys[kb.Command]; !seen {
			order = append(order, kb.Command)
			desc[kb.Command] = kb.Description
		}
		keys[kb.Command] = append(keys[kb.Command], kb.String())
	}

	out := make([]key.Binding, 0, len(order))
	for _, cmd := range order {
		ks := keys[cmd]
		label := ks[0]
		if len(ks) > 1 && len(ks) <= 3 {
			label = ks[0]
			for _, k := range ks[1:] {
				label += "/" + k
			}
		} else if len(ks) > 3 {
			label = ks[0] + "-" + ks[len(ks)-1]
		}
		out = append(out, key.NewBinding(key.WithKeys(ks...), key.WithHelp(label, desc[cmd])))
	}
	return out
}

// GetCategories returns all unique categories in a mode's bindings, in
// declaration order.
func (km *Keymap) GetCategories(mode Mode) []string {
	seen := make(map[string]bool)
	var categories []string
	for _, binding := range km.GetModeBindings(mode) {
		if binding.Category != "" && !seen[binding.Category] {
			seen[binding.Category] = true
			categories = append(categories, binding.Category)
		}
	}
	return categories
}

// HelpGroups returns a mode's help bindings grouped by category, in the
// shape bubbles' help.Model.FullHelpView expects.
func (km *Keymap) HelpGroups(mode Mode) [][]key.Binding {
	var groups [][]key.Binding
	for _, cat := range km.GetCategories(mode) {
		sub := &Keymap{Modes: map[Mode]*ModeBindings{mode: {Mode: mode}}}
		for _, kb := range km.GetModeBindings(mode) {
			if kb.Category == cat {
				sub.Modes[mode].Bindings = append(sub.Modes[mode].Bindings, kb)
			}
		}
		groups = append(groups, sub.HelpBindings(mode, false))
	}
	return groups
}
