// Package tui implements the interactive operator console.
//
// The console lists execution instances in a sidebar and shows the focused
// instance's parameters or live log in the main panel. All state comes from
// the orchestrator: the model pulls snapshots whenever the event bus reports
// a change and never mutates instances itself. Backend round trips (start,
// stop, close) run as tea.Cmds so the render loop stays responsive.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"

	"github.com/tibame201020/opencv-custom-sub001/internal/catalog"
	"github.com/tibame201020/opencv-custom-sub001/internal/config"
	"github.com/tibame201020/opencv-custom-sub001/internal/instance"
	"github.com/tibame201020/opencv-custom-sub001/internal/logging"
	"github.com/tibame201020/opencv-custom-sub001/internal/orchestrator"
	"github.com/tibame201020/opencv-custom-sub001/internal/tui/keymap"
	"github.com/tibame201020/opencv-custom-sub001/internal/tui/styles"
)

// Layout constants
const (
	DefaultSidebarWidth = 32
	MinSidebarWidth     = 20

	footerHeight = 2 // status line + help line
	headerHeight = 2 // title + tabs inside the main panel
)

// Options configures the console.
type Options struct {
	Palette        *styles.ColorPalette
	SidebarWidth   int
	ShowTimestamps bool
	FollowOutput   bool
	// ExportDir receives exported logs given as relative paths. Empty means
	// the working directory.
	ExportDir string
	Logger    *logging.Logger
}

// OptionsFromConfig builds Options from the console section of cfg.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	palette, err := styles.ResolvePalette(cfg.Console.Theme, cfg.Console.ThemeFile)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Palette:        palette,
		SidebarWidth:   cfg.Console.SidebarWidth,
		ShowTimestamps: cfg.Console.ShowTimestamps,
		FollowOutput:   cfg.Console.FollowOutput,
	}, nil
}

type inputPurpose int

const (
	inputNone inputPurpose = iota
	inputRename
	inputParam
	inputExport
)

// Model is the bubbletea model of the console.
type Model struct {
	ctx    context.Context
	orch   Orchestrator
	notify *changeNotifier
	logger *logging.Logger

	styles *styles.Styles
	keymap *keymap.Keymap
	help   help.Model
	mode   keymap.Mode

	width, height int
	sidebarWidth  int
	timestamps    bool
	follow        bool
	exportDir     string
	showHelp      bool

	// Snapshots from the orchestrator
	instances []instance.Record
	focused   instance.Record
	hasFocus  bool

	viewport viewport.Model
	viewKey  string
	spinner  spinner.Model
	input    textinput.Model
	purpose  inputPurpose

	// Script picker
	picked    []catalog.Script
	pickIndex int
	pickErr   string

	// busy maps instance id to the action in flight for it.
	busy     map[string]string
	flash    string
	flashErr bool
	now      time.Time
	quitting bool
}

// NewModel creates a console model bound to orch. ctx bounds every backend
// call the console makes.
func NewModel(ctx context.Context, orch Orchestrator, opts Options) Model {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	ti := textinput.New()
	ti.CharLimit = 256

	m := Model{
		ctx:      ctx,
		orch:     orch,
		notify:   newChangeNotifier(orch.Bus()),
		logger:   logger.With("component", "console"),
		keymap:   keymap.DefaultKeymap(),
		help:     help.New(),
		mode:     keymap.ModeNormal,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		input:    ti,
		busy:     make(map[string]string),
		now:      time.Now(),
	}
	m.applyOptions(opts)
	m.refresh()
	return m
}

func (m *Model) applyOptions(opts Options) {
	m.styles = styles.New(opts.Palette)
	m.sidebarWidth = opts.SidebarWidth
	if m.sidebarWidth <= 0 {
		m.sidebarWidth = DefaultSidebarWidth
	}
	m.timestamps = opts.ShowTimestamps
	m.follow = opts.FollowOutput
	if opts.ExportDir != "" {
		m.exportDir = opts.ExportDir
	}
	m.spinner.Style = m.styles.Primary
	m.help.Styles.ShortKey = m.styles.HelpKey
	m.help.Styles.FullKey = m.styles.HelpKey
	m.help.Styles.ShortDesc = m.styles.Muted
	m.help.Styles.FullDesc = m.styles.Muted
}

// Close releases the model's bus subscription.
func (m Model) Close() {
	m.notify.stop()
}

// Init starts the change listener, the spinner and the clock, and loads the
// script catalog.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.notify.wait(), m.spinner.Tick, tick(), m.refreshCatalog())
}

// refresh pulls fresh snapshots from the orchestrator.
func (m *Model) refresh() {
	m.instances = m.orch.Instances()
	m.focused, m.hasFocus = m.orch.Focused()
	for id := range m.busy {
		if !m.exists(id) {
			delete(m.busy, id)
		}
	}
	m.renderLogs(false)
}

func (m *Model) exists(id string) bool {
	for _, rec := range m.instances {
		if rec.ID == id {
			return true
		}
	}
	return false
}

// focusIndex returns the position of the focused instance, or -1.
func (m *Model) focusIndex() int {
	if !m.hasFocus {
		return -1
	}
	for i, rec := range m.instances {
		if rec.ID == m.focused.ID {
			return i
		}
	}
	return -1
}

// layout returns the outer sizes of the sidebar and main panel.
func (m *Model) layout() (sidebarW, mainW, bodyH int) {
	sidebarW = m.sidebarWidth
	if m.width < 80 {
		sidebarW = MinSidebarWidth
	}
	mainW = max(m.width-sidebarW, 10)
	bodyH = max(m.height-footerHeight, 5)
	return sidebarW, mainW, bodyH
}

func (m *Model) resize() {
	_, mainW, bodyH := m.layout()
	m.viewport.Width = max(mainW-4, 1)
	m.viewport.Height = max(bodyH-2-headerHeight, 1)
	m.help.Width = m.width
	// Leaves room for the longest prompt inside the main panel.
	m.input.Width = max(mainW-4-16, 10)
	m.renderLogs(true)
}

// renderLogs rebuilds the log viewport when the focused instance's log
// changed, or always when force is set.
func (m *Model) renderLogs(force bool) {
	if !m.hasFocus {
		m.viewKey = ""
		m.viewport.SetContent("")
		return
	}
	rec := m.focused
	var lastSeq uint64
	if n := len(rec.Logs); n > 0 {
		lastSeq = rec.Logs[n-1].Seq
	}
	key := fmt.Sprintf("%s/%d/%d/%t", rec.ID, rec.LogCount, lastSeq, m.timestamps)
	if !force && key == m.viewKey {
		return
	}
	switched := !strings.HasPrefix(m.viewKey, rec.ID+"/")
	m.viewKey = key

	width := m.viewport.Width
	lines := make([]string, 0, len(rec.Logs)+1)
	if rec.Dropped > 0 {
		lines = append(lines, m.styles.Muted.Render(fmt.Sprintf("… %d earlier events dropped", rec.Dropped)))
	}
	for _, ev := range rec.Logs {
		line := m.styles.LogStyle(ev.Kind).Render(orchestrator.FormatLine(ev, m.timestamps))
		if width > 0 {
			line = ansi.Wrap(line, width, "")
		}
		lines = append(lines, line)
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))

	switch {
	case m.follow:
		m.viewport.GotoBottom()
	case switched:
		m.viewport.GotoTop()
	}
}

func (m *Model) setFlash(msg string, isErr bool) {
	m.flash = msg
	m.flashErr = isErr
}

// scriptFor returns the catalog entry of rec's script.
func (m *Model) scriptFor(rec instance.Record) (catalog.Script, bool) {
	return catalog.Lookup(m.orch.Scripts(), rec.ScriptRef)
}

// contentWidth is the usable text width inside the main panel.
func (m *Model) contentWidth() int {
	_, mainW, _ := m.layout()
	return max(mainW-4, 1)
}

var _ tea.Model = Model{}
