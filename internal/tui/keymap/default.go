package keymap

import tea "github.com/charmbracelet/bubbletea"

// DefaultKeymap returns the console's key bindings.
func DefaultKeymap() *Keymap {
	return &Keymap{
		Name: "default",
		Modes: map[Mode]*ModeBindings{
			ModeNormal: defaultNormalBindings(),
			ModePicker: defaultPickerBindings(),
			ModeInput:  defaultInputBindings(),
		},
	}
}

func defaultNormalBindings() *ModeBindings {
	bindings := []KeyBinding{
		// Instance navigation
		{KeyType: tea.KeyTab, Command: CmdNextInstance, Description: "next instance", Category: "Navigation"},
		{KeyType: tea.KeyRunes, Rune: 'l', Command: CmdNextInstance, Description: "next instance", Category: "Navigation", Hidden: true},
		{KeyType: tea.KeyShiftTab, Command: CmdPrevInstance, Description: "previous instance", Category: "Navigation", Hidden: true},
		{KeyType: tea.KeyRunes, Rune: 'h', Command: CmdPrevInstance, Description: "previous instance", Category: "Navigation", Hidden: true},
		{KeyType: tea.KeyRunes, Rune: 'v', Command: CmdToggleSubView, Description: "params/console", Category: "Navigation"},
	}
	for r := '1'; r <= '9'; r++ {
		bindings = append(bindings, KeyBinding{
			KeyType: tea.KeyRunes, Rune: r, Command: CmdJumpToInstance,
			Description: "jump to instance", Category: "Navigation", Hidden: true,
		})
	}
	bindings = append(bindings,
		// Log scrolling
		KeyBinding{KeyType: tea.KeyRunes, Rune: 'j', Command: CmdScrollDown, Description: "scroll down", Category: "Scrolling", Hidden: true},
		KeyBinding{KeyType: tea.KeyDown, Command: CmdScrollDown, Description: "scroll down", Category: "Scrolling", Hidden: true},
		KeyBinding{KeyType: tea.KeyRunes, Rune: 'k', Command: CmdScrollUp, Description: "scroll up", Category: "Scrolling", Hidden: true},
		KeyBinding{KeyType: tea.KeyUp, Command: CmdScrollUp, Description: "scroll up", Category: "Scrolling", Hidden: true},
		KeyBinding{KeyType: tea.KeyPgUp, Command: CmdScrollPageUp, Description: "page up", Category: "Scrolling", Hidden: true},
		KeyBinding{KeyType: tea.KeyCtrlB, Command: CmdScrollPageUp, Description: "page up", Category: "Scrolling", Hidden: true},
		KeyBinding{KeyType: tea.KeyPgDown, Command: CmdScrollPageDown, Description: "page down", Category: "Scrolling", Hidden: true},
		KeyBinding{KeyType: tea.KeyCtrlF, Command: CmdScrollPageDown, Description: "page down", Category: "Scrolling", Hidden: true},
		KeyBinding{KeyType: tea.KeyRunes, Rune: 'g', Command: CmdScrollToTop, Description: "top", Category: "Scrolling", Hidden: true},
		KeyBinding{KeyType: tea.KeyRunes, Rune: 'G', Command: CmdScrollToBottom, Description: "bottom and follow", Category: "Scrolling", Hidden: true},

		// Instance control
		KeyBinding{KeyType: tea.KeyRunes, Rune: 'n', Command: CmdOpenInstance, Description: "new", Category: "Instance"},
		KeyBinding{KeyType: tea.KeyRunes, Rune: 's', Command: CmdStartInstance, Description: "start", Category: "Instance"},
		KeyBinding{KeyType: tea.KeyRunes, Rune: 'x', Command: CmdStopInstance, Description: "stop", Category: "Instance"},
		KeyBinding{KeyType: tea.KeyRunes, Rune: 'c', Command: CmdClearLogs, Description: "clear log", Category: "Instance", Hidden: true},
		KeyBinding{KeyType: tea.KeyRunes, Rune: 'w', Command: CmdCloseInstance, Description: "close", Category: "Instance"},
		KeyBinding{KeyType: tea.KeyRunes, Rune: 'r', Command: CmdRename, Description: "rename", Category: "Instance", Hidden: true},
		KeyBinding{KeyType: tea.KeyRunes, Rune: 'e', Command: CmdEditParam, Description: "set param", Category: "Instance", Hidden: true},
		KeyBinding{KeyType: tea.KeyRunes, Rune: 'd', Command: CmdNextDevice, Description: "cycle device", Category: "Instance", Hidden: true},
		KeyBinding{KeyType: tea.KeyRunes, Rune: 'E', Command: CmdExportLogs, Description: "export log", Category: "Instance", Hidden: true},

		// View
		KeyBinding{KeyType: tea.KeyRunes, Rune: 't', Command: CmdToggleTimestamps, Description: "timestamps", Category: "View", Hidden: true},
		KeyBinding{KeyType: tea.KeyRunes, Rune: 'f', Command: CmdToggleFollow, Description: "follow output", Category: "View", Hidden: true},
		KeyBinding{KeyType: tea.KeyRunes, Rune: 'R', Command: CmdRefreshCatalog, Description: "reload scripts", Category: "View", Hidden: true},
		KeyBinding{KeyType: tea.KeyRunes, Rune: '?', Command: CmdToggleHelp, Description: "help", Category: "View"},

		// Exit
		KeyBinding{KeyType: tea.KeyRunes, Rune: 'q', Command: CmdQuit, Description: "quit", Category: "Application"},
		KeyBinding{KeyType: tea.KeyCtrlC, Command: CmdQuit, Description: "quit", Category: "Application"},
	)
	return &ModeBindings{Mode: ModeNormal, Bindings: bindings}
}

func defaultPickerBindings() *ModeBindings {
	return &ModeBindings{
		Mode: ModePicker,
		Bindings: []KeyBinding{
			{KeyType: tea.KeyEsc, Command: CmdCancel, Description: "cancel", Category: "Picker"},
			{KeyType: tea.KeyEnter, Command: CmdConfirm, Description: "open", Category: "Picker"},
			{KeyType: tea.KeyUp, Command: CmdPrevItem, Description: "previous", Category: "Picker"},
			{KeyType: tea.KeyCtrlP, Command: CmdPrevItem, Description: "previous", Category: "Picker", Hidden: true},
			{KeyType: tea.KeyDown, Command: CmdNextItem, Description: "next", Category: "Picker"},
			{KeyType: tea.KeyCtrlN, Command: CmdNextItem, Description: "next", Category: "Picker", Hidden: true},
		},
	}
}

func defaultInputBindings() *ModeBindings {
	return &ModeBindings{
		Mode: ModeInput,
		Bindings: []KeyBinding{
			{KeyType: tea.KeyEsc, Command: CmdCancel, Description: "cancel", Category: "Input"},
			{KeyType: tea.KeyEnter, Command: CmdConfirm, Description: "apply", Category: "Input"},
		},
	}
}
