package output

import "github.com/charmbracelet/lipgloss"

var (
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("37"))            // dark green
	success2Style = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))             // green
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))             // red
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))            // yellow
	pendingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))            // blue
	infoStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))            // cyan
	debugStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))           // light grey
	detailStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))            // purple
	streamStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))           // grey
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69")) // purple
)

var StyleSymbols = map[string]string{
	"pass":    "✓",
	"fail":    "✗",
	"warning": "!",
	"pending": "◉",
	"paused":  "‖",
	"info":    "ℹ",
	"arrow":   "→",
	"bullet":  "•",
	"hline":   "━",
}

// Status of one download line.
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusSuccess  Status = "success"
	StatusCanceled Status = "canceled"
	StatusError    Status = "error"
)

const (
	indent       = 2
	streamIndent = 2 + 4
	barWidth     = 30
)
