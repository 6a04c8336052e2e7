package output

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tanq16/danzo-agent/internal/utils"
)

// DownloadOutput is the display state of one download.
type DownloadOutput struct {
	ID          int
	Label       string
	Status      Status
	Message     string
	Received    int64
	Total       int64
	StartTime   time.Time
	LastUpdated time.Time
	Error       error
}

type ErrorReport struct {
	Label string
	Error error
	Time  time.Time
}

// Manager renders download lines. On a terminal it redraws them in place;
// anywhere else it prints one line per finished download.
type Manager struct {
	mu          sync.RWMutex
	out         io.Writer
	live        bool
	outputs     map[int]*DownloadOutput
	nextID      int
	numLines    int
	errors      []ErrorReport
	doneCh      chan struct{}
	displayTick time.Duration
	displayWg   sync.WaitGroup
}

func NewManager(out io.Writer) *Manager {
	return &Manager{
		out:         out,
		live:        isTerminal(out),
		outputs:     make(map[int]*DownloadOutput),
		doneCh:      make(chan struct{}),
		displayTick: 300 * time.Millisecond,
	}
}

func (m *Manager) Register(label string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.outputs[m.nextID] = &DownloadOutput{
		ID:          m.nextID,
		Label:       label,
		Status:      StatusPending,
		Total:       -1,
		StartTime:   time.Now(),
		LastUpdated: time.Now(),
	}
	return m.nextID
}

func (m *Manager) update(id int, fn func(*DownloadOutput)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.outputs[id]
	if !ok {
		return
	}
	was := info.Status
	fn(info)
	info.LastUpdated = time.Now()
	if !m.live && !finished(was) && finished(info.Status) {
		m.printLine(info)
	}
}

func (m *Manager) SetMessage(id int, message string) {
	m.update(id, func(info *DownloadOutput) {
		info.Message = message
	})
}

// Start marks the download active once the server answered.
func (m *Manager) Start(id int, total int64) {
	m.update(id, func(info *DownloadOutput) {
		info.Status = StatusActive
		info.Total = total
		info.Message = "Downloading " + info.Label
	})
}

func (m *Manager) SetProgress(id int, received int64) {
	m.update(id, func(info *DownloadOutput) {
		info.Received = received
	})
}

func (m *Manager) Pause(id int, received int64) {
	m.update(id, func(info *DownloadOutput) {
		info.Status = StatusPaused
		info.Received = received
		info.Message = fmt.Sprintf("Paused %s at %s", info.Label, utils.FormatBytes(uint64(received)))
	})
}

func (m *Manager) Complete(id int, message string) {
	m.update(id, func(info *DownloadOutput) {
		if message == "" {
			message = "Completed " + info.Label
		}
		info.Status = StatusSuccess
		info.Message = message
	})
}

func (m *Manager) Cancel(id int, message string) {
	m.update(id, func(info *DownloadOutput) {
		info.Status = StatusCanceled
		info.Message = message
	})
}

func (m *Manager) ReportError(id int, err error) {
	m.update(id, func(info *DownloadOutput) {
		info.Status = StatusError
		info.Error = err
		info.Message = "Failed " + info.Label
		m.errors = append(m.errors, ErrorReport{Label: info.Label, Error: err, Time: time.Now()})
	})
}

// Counts returns how many downloads ended in each status.
func (m *Manager) Counts() map[Status]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[Status]int)
	for _, info := range m.outputs {
		counts[info.Status]++
	}
	return counts
}

func finished(s Status) bool {
	switch s {
	case StatusSuccess, StatusCanceled, StatusError, StatusPaused:
		return true
	}
	return false
}

func statusIndicator(status Status) string {
	switch status {
	case StatusSuccess:
		return successStyle.Render(StyleSymbols["pass"])
	case StatusError:
		return errorStyle.Render(StyleSymbols["fail"])
	case StatusCanceled:
		return warningStyle.Render(StyleSymbols["warning"])
	case StatusPaused:
		return warningStyle.Render(StyleSymbols["paused"])
	case StatusPending:
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func styledMessage(info *DownloadOutput) string {
	switch info.Status {
	case StatusSuccess:
		return successStyle.Render(info.Message)
	case StatusError:
		return errorStyle.Render(info.Message)
	case StatusCanceled, StatusPaused:
		return warningStyle.Render(info.Message)
	default:
		return pendingStyle.Render(info.Message)
	}
}

// printLine writes the status line of one download. Called with mu held.
func (m *Manager) printLine(info *DownloadOutput) int {
	elapsed := time.Since(info.StartTime).Round(time.Second)
	if finished(info.Status) {
		elapsed = info.LastUpdated.Sub(info.StartTime).Round(time.Second)
	}
	message := info.Message
	if message == "" {
		message = "Waiting for " + info.Label
	}
	shown := *info
	shown.Message = message
	fmt.Fprintf(m.out, "%s%s %s %s\n", strings.Repeat(" ", indent),
		statusIndicator(info.Status), debugStyle.Render(elapsed.String()), styledMessage(&shown))
	if info.Status != StatusActive {
		return 1
	}
	secs := time.Since(info.StartTime).Seconds()
	size := utils.FormatBytes(uint64(info.Received))
	if info.Total >= 0 {
		size += " / " + utils.FormatBytes(uint64(info.Total))
	}
	fmt.Fprintf(m.out, "%s%s%s %s %s\n", strings.Repeat(" ", streamIndent),
		progressBar(info.Received, info.Total, barWidth), debugStyle.Render(size),
		StyleSymbols["bullet"], debugStyle.Render(FormatSpeed(info.Received, secs)))
	return 2
}

func (m *Manager) sorted() []*DownloadOutput {
	all := make([]*DownloadOutput, 0, len(m.outputs))
	for _, info := range m.outputs {
		all = append(all, info)
	}
	slices.SortFunc(all, func(a, b *DownloadOutput) int { return a.ID - b.ID })
	return all
}

func (m *Manager) updateDisplay() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	available := terminalHeight(m.out) - 3
	if m.numLines > 0 {
		fmt.Fprintf(m.out, "\033[%dA\033[J", m.numLines)
	}
	all := m.sorted()
	// unfinished lines first, then as many finished ones as still fit
	var active, done []*DownloadOutput
	for _, info := range all {
		if finished(info.Status) {
			done = append(done, info)
		} else {
			active = append(active, info)
		}
	}
	lines := 0
	for _, info := range active {
		if lines >= available {
			break
		}
		lines += m.printLine(info)
	}
	if room := available - lines; len(done) > room {
		if room > 0 {
			hidden := len(done) - room + 1
			fmt.Fprintf(m.out, "%s%s\n", strings.Repeat(" ", indent),
				infoStyle.Render(fmt.Sprintf("%d downloads finished ...", hidden)))
			lines++
			done = done[hidden:]
		} else {
			done = nil
		}
	}
	for _, info := range done {
		lines += m.printLine(info)
	}
	m.numLines = lines
}

func (m *Manager) StartDisplay() {
	if !m.live {
		return
	}
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateDisplay()
			case <-m.doneCh:
				m.updateDisplay()
				return
			}
		}
	}()
}

// StopDisplay draws the final state and prints the summary.
func (m *Manager) StopDisplay() {
	close(m.doneCh)
	m.displayWg.Wait()
	m.ShowSummary()
}

func (m *Manager) displayErrors() {
	if len(m.errors) == 0 {
		return
	}
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, strings.Repeat(" ", indent)+errorStyle.Bold(true).Render("Errors:"))
	for i, report := range m.errors {
		fmt.Fprintf(m.out, "%s%s %s %s\n",
			strings.Repeat(" ", indent+2),
			errorStyle.Render(fmt.Sprintf("%d.", i+1)),
			debugStyle.Render(fmt.Sprintf("[%s]", report.Time.Format("15:04:05"))),
			errorStyle.Render(report.Label))
		fmt.Fprintf(m.out, "%s%s\n", strings.Repeat(" ", streamIndent), errorStyle.Render(fmt.Sprintf("Error: %v", report.Error)))
	}
}

func (m *Manager) ShowSummary() {
	counts := m.Counts()
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := len(m.outputs)
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, strings.Repeat(" ", indent)+success2Style.Render(fmt.Sprintf("Completed %d of %d", counts[StatusSuccess], total)))
	if n := counts[StatusPaused]; n > 0 {
		fmt.Fprintln(m.out, strings.Repeat(" ", indent)+warningStyle.Render(fmt.Sprintf("Paused %d of %d", n, total)))
	}
	if n := counts[StatusCanceled]; n > 0 {
		fmt.Fprintln(m.out, strings.Repeat(" ", indent)+warningStyle.Render(fmt.Sprintf("Canceled %d of %d", n, total)))
	}
	if n := counts[StatusError]; n > 0 {
		fmt.Fprintln(m.out, strings.Repeat(" ", indent)+errorStyle.Render(fmt.Sprintf("Failed %d of %d", n, total)))
	}
	m.displayErrors()
	fmt.Fprintln(m.out)
}
