package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// MinTerminalWidth is the minimum terminal width required for the full TUI
// layout to render correctly. Below this threshold RenderTooSmall is used.
const MinTerminalWidth = 80

// MinTerminalHeight is the minimum terminal height required for the full TUI
// layout. Below this threshold RenderTooSmall is used.
const MinTerminalHeight = 24

// DefaultStatusPanelWidth is the default fixed column width of the status panel.
const DefaultStatusPanelWidth = 28

// TitleBarHeight is the number of terminal rows consumed by the title bar.
const TitleBarHeight = 1

// StatusLineHeight is the number of terminal rows consumed by the bottom status line.
const StatusLineHeight = 1

// BorderWidth is the width of the vertical divider between the two panels.
const BorderWidth = 1

// PanelDimensions holds the computed width and height for a single TUI panel.
type PanelDimensions struct {
	Width  int
	Height int
}

// Layout computes and holds the dimensions of every panel in the Sq TUI.
// It must be updated on every tea.WindowSizeMsg by calling Resize.
//
// Layout diagram:
//
//	+---------------------------------------------------+
//	| Title Bar (1 line)                                 |
//	+---------------+-----------------------------------+
//	| Status Panel  | Transcript                         |
//	| (fixed width) | (agent output / event feed)        |
//	+---------------+-----------------------------------+
//	| Status Line (1 line)                               |
//	+---------------------------------------------------+
type Layout struct {
	termWidth        int
	termHeight       int
	statusPanelWidth int

	TitleBar    PanelDimensions
	StatusPanel PanelDimensions
	Transcript  PanelDimensions
	StatusLine  PanelDimensions
}

// NewLayout returns a Layout with DefaultStatusPanelWidth. All
// PanelDimensions fields are zero until the first Resize call.
func NewLayout() Layout {
	return Layout{statusPanelWidth: DefaultStatusPanelWidth}
}

// Resize recalculates all PanelDimensions for the given terminal size.
// Returns true when the layout was successfully recalculated, false when the
// terminal is smaller than the minimum supported dimensions.
func (l *Layout) Resize(width, height int) bool {
	l.termWidth = width
	l.termHeight = height

	if width < MinTerminalWidth || height < MinTerminalHeight {
		return false
	}

	contentHeight := l.termHeight - TitleBarHeight - StatusLineHeight
	if contentHeight < 1 {
		contentHeight = 1
	}

	mainWidth := l.termWidth - l.statusPanelWidth - BorderWidth
	if mainWidth < 1 {
		mainWidth = 1
	}

	l.TitleBar = PanelDimensions{Width: l.termWidth, Height: TitleBarHeight}
	l.StatusPanel = PanelDimensions{Width: l.statusPanelWidth, Height: contentHeight}
	l.Transcript = PanelDimensions{Width: mainWidth, Height: contentHeight}
	l.StatusLine = PanelDimensions{Width: l.termWidth, Height: StatusLineHeight}

	return true
}

// IsTooSmall returns true when the last known terminal dimensions fall below
// the minimum supported size.
func (l Layout) IsTooSmall() bool {
	return l.termWidth < MinTerminalWidth || l.termHeight < MinTerminalHeight
}

// TerminalSize returns the most recently recorded terminal dimensions.
func (l Layout) TerminalSize() (int, int) {
	return l.termWidth, l.termHeight
}

// Render assembles the complete TUI frame from the four pre-rendered content
// strings, applying exact panel sizing and the vertical divider.
func (l Layout) Render(theme Theme, titleBar, statusPanel, transcript, statusLine string) string {
	titleBarView := lipgloss.NewStyle().Width(l.TitleBar.Width).Height(l.TitleBar.Height).Render(titleBar)
	statusPanelView := lipgloss.NewStyle().Width(l.StatusPanel.Width).Height(l.StatusPanel.Height).Render(statusPanel)
	transcriptView := lipgloss.NewStyle().Width(l.Transcript.Width).Height(l.Transcript.Height).Render(transcript)
	statusLineView := lipgloss.NewStyle().Width(l.StatusLine.Width).Height(l.StatusLine.Height).Render(statusLine)

	dividerContent := strings.Repeat("|\n", l.StatusPanel.Height-1) + "|"
	divider := lipgloss.NewStyle().
		Width(BorderWidth).
		Height(l.StatusPanel.Height).
		Foreground(ColorBorder).
		Render(dividerContent)

	middle := lipgloss.JoinHorizontal(lipgloss.Top, statusPanelView, divider, transcriptView)

	return lipgloss.JoinVertical(lipgloss.Left, titleBarView, middle, statusLineView)
}

// RenderTooSmall returns a message instructing the user to enlarge their
// terminal, centered within the available area when a size has been recorded.
func (l Layout) RenderTooSmall(theme Theme) string {
	msg := "Terminal too small.\nPlease resize to at least 80x24."
	styled := theme.ErrorText.Render(msg)

	if l.termWidth <= 0 || l.termHeight <= 0 {
		return styled
	}
	return lipgloss.Place(l.termWidth, l.termHeight, lipgloss.Center, lipgloss.Center, styled)
}
