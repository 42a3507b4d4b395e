package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Factoryleader/gdc-client/internal/utils"
)

type FileOutput struct {
	URL         string
	FileID      string
	State       utils.TransferState
	Message     string
	Downloaded  int64
	Total       int64
	Complete    bool
	Error       error
	StartTime   time.Time
	LastUpdated time.Time
	Index       int
}

type ErrorReport struct {
	FileID string
	Error  error
	Time   time.Time
}

// Manager tracks one line per file of a batch and redraws them on a ticker
// when writing to a terminal.
type Manager struct {
	outputs     map[string]*FileOutput
	mutex       sync.RWMutex
	out         io.Writer
	interactive bool
	numLines    int
	errors      []ErrorReport
	doneCh      chan struct{}
	displayTick time.Duration
	count       int
	displayWg   sync.WaitGroup
}

func NewManager(out io.Writer) *Manager {
	interactive := false
	if f, ok := out.(*os.File); ok {
		interactive = isTerminal(f)
	}
	return &Manager{
		outputs:     make(map[string]*FileOutput),
		out:         out,
		interactive: interactive,
		doneCh:      make(chan struct{}),
		displayTick: 300 * time.Millisecond,
	}
}

// Register adds url to the display. Registering twice is a no-op.
func (m *Manager) Register(url string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.register(url)
}

func (m *Manager) register(url string) *FileOutput {
	if info, exists := m.outputs[url]; exists {
		return info
	}
	m.count++
	info := &FileOutput{
		URL:         url,
		FileID:      utils.FileIDFromURL(url),
		State:       utils.StateResolving,
		Total:       -1,
		StartTime:   time.Now(),
		LastUpdated: time.Now(),
		Index:       m.count,
	}
	m.outputs[url] = info
	return info
}

// SetState has the signature of DownloadConfig.StateFunc.
func (m *Manager) SetState(url string, state utils.TransferState, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	info := m.register(url)
	info.State = state
	info.LastUpdated = time.Now()
	switch state {
	case utils.StateDone:
		info.Complete = true
		info.Message = fmt.Sprintf("Downloaded %s", info.FileID)
	case utils.StateFailed:
		info.Complete = true
		info.Error = err
		info.Message = fmt.Sprintf("Failed %s", info.FileID)
		m.errors = append(m.errors, ErrorReport{FileID: info.FileID, Error: err, Time: time.Now()})
	case utils.StateResolving:
		info.Message = fmt.Sprintf("Resolving %s", info.FileID)
	case utils.StateParallel, utils.StateStreaming:
		info.Message = fmt.Sprintf("Downloading %s", info.FileID)
	case utils.StateValidate:
		info.Message = fmt.Sprintf("Validating %s", info.FileID)
	case utils.StatePromote:
		info.Message = fmt.Sprintf("Finalizing %s", info.FileID)
	}
}

// UpdateProgress has the signature of DownloadConfig.ProgressFunc.
func (m *Manager) UpdateProgress(url string, downloaded, total int64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	info := m.register(url)
	info.Downloaded = downloaded
	info.Total = total
	info.LastUpdated = time.Now()
}

func (m *Manager) Get(url string) (FileOutput, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	info, exists := m.outputs[url]
	if !exists {
		return FileOutput{}, false
	}
	return *info, true
}

func (m *Manager) statusIndicator(info *FileOutput) string {
	switch {
	case info.State == utils.StateDone:
		return successStyle.Render(StyleSymbols["pass"])
	case info.State == utils.StateFailed:
		return errorStyle.Render(StyleSymbols["fail"])
	case info.State == utils.StateResolving:
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func (m *Manager) sorted() []*FileOutput {
	all := make([]*FileOutput, 0, len(m.outputs))
	for _, info := range m.outputs {
		all = append(all, info)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Index < all[j].Index
	})
	return all
}

func (m *Manager) updateDisplay() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	availableLines := getTerminalHeight() - 3
	if m.numLines > 0 {
		fmt.Fprintf(m.out, "\033[%dA\033[J", m.numLines)
	}
	files := m.sorted()
	// Keep the most recent files on screen when there are too many.
	if needed := 2 * len(files); needed > availableLines && availableLines > 0 {
		files = files[max(0, len(files)-availableLines/2):]
	}
	lineCount := 0
	for _, info := range files {
		elapsed := time.Since(info.StartTime).Round(time.Second)
		if info.Complete {
			elapsed = info.LastUpdated.Sub(info.StartTime).Round(time.Second)
		}
		message := pendingStyle.Render(info.Message)
		if info.State == utils.StateDone {
			message = successStyle.Render(info.Message)
		} else if info.State == utils.StateFailed {
			message = errorStyle.Render(info.Message)
		}
		fmt.Fprintf(m.out, "%s%s %s %s\n", strings.Repeat(" ", 2), m.statusIndicator(info), debugStyle.Render(elapsed.String()), message)
		lineCount++
		if info.Complete {
			continue
		}
		speed := formatSpeed(info.Downloaded, time.Since(info.StartTime).Seconds())
		fmt.Fprintf(m.out, "%s%s%s\n", strings.Repeat(" ", 2+4), ProgressBar(info.Downloaded, info.Total, 30), streamStyle.Render(speed))
		lineCount++
	}
	m.numLines = lineCount
}

// StartDisplay redraws progress until StopDisplay. Without a terminal it does
// nothing and only the summary is printed.
func (m *Manager) StartDisplay() {
	if !m.interactive {
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

func (m *Manager) StopDisplay() {
	select {
	case <-m.doneCh:
		return
	default:
	}
	close(m.doneCh)
	m.displayWg.Wait()
}

// Counts returns how many registered files succeeded and failed.
func (m *Manager) Counts() (success, failures int) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, info := range m.outputs {
		switch info.State {
		case utils.StateDone:
			success++
		case utils.StateFailed:
			failures++
		}
	}
	return success, failures
}

func (m *Manager) displayErrors() {
	if len(m.errors) == 0 {
		return
	}
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, strings.Repeat(" ", 2)+errorStyle.Bold(true).Render("Errors:"))
	for _, report := range m.errors {
		fmt.Fprintf(m.out, "%s%s %s\n",
			strings.Repeat(" ", 2+2),
			debugStyle.Render(fmt.Sprintf("[%s]", report.Time.Format("15:04:05"))),
			errorStyle.Render(fmt.Sprintf("%s: %v", report.FileID, report.Error)))
	}
}

// ShowSummary prints the batch totals followed by one line per failed file.
func (m *Manager) ShowSummary() {
	success, failures := m.Counts()
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	fmt.Fprintln(m.out)
	total := len(m.outputs)
	fmt.Fprintln(m.out, strings.Repeat(" ", 2)+success2Style.Render(fmt.Sprintf("Completed %d of %d", success, total)))
	if failures > 0 {
		fmt.Fprintln(m.out, strings.Repeat(" ", 2)+errorStyle.Render(fmt.Sprintf("Failed %d of %d", failures, total)))
	}
	m.displayErrors()
	fmt.Fprintln(m.out)
}
