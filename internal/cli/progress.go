package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/minhvn/holescan/internal/client"
	"github.com/minhvn/holescan/internal/protocol"
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
	Match   lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
	Match:   lipgloss.Color("#FFD700"), // gold
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

func (t Theme) matchStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Match)
}

// scanRunner drives a scan session and reports events as they arrive.
type scanRunner func(ctx context.Context, onEvent client.EventFunc) (client.View, error)

// scanEventMsg carries one applied server message and the resulting view.
type scanEventMsg struct {
	view client.View
}

// scanDoneMsg ends the UI when the session finishes or the runner fails.
type scanDoneMsg struct {
	view client.View
	err  error
}

// scanModel is the bubbletea model for live scan progress. Unlike a polled
// job monitor it is push-driven: the client callback feeds events into the
// program while the session runs.
type scanModel struct {
	view     client.View
	progress progress.Model
	theme    Theme
	cancel   context.CancelFunc
	done     bool
	quitting bool
	err      error
}

func newScanModel(cancel context.CancelFunc) scanModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	return scanModel{
		progress: prog,
		theme:    defaultTheme,
		cancel:   cancel,
	}
}

// Init returns the initial command.
func (m scanModel) Init() tea.Cmd {
	return m.progress.Init()
}

// Update handles messages and returns the updated model.
func (m scanModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			m.cancel()
			return m, tea.Quit
		}

	case scanEventMsg:
		m.view = msg.view
		return m, nil

	case scanDoneMsg:
		m.view = msg.view
		m.err = msg.err
		m.done = true
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m scanModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m scanModel) renderContent() string {
	if m.done {
		return m.finalView()
	}
	if m.view.SessionID == "" {
		return "Starting scan...\n"
	}

	var pct float64
	if m.view.Total > 0 {
		pct = float64(m.view.Processed) / float64(m.view.Total)
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.view.Status))
	bar := m.progress.ViewAs(pct)
	counts := fmt.Sprintf("%d/%d files", m.view.Processed, m.view.Total)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\n", status, bar, counts)
	for _, match := range m.view.Matches {
		line := fmt.Sprintf("  %s  %s", match.ItemRef, strings.Join(match.FoundCodes, ", "))
		b.WriteString(m.theme.matchStyle().Render(line) + "\n")
	}
	b.WriteString(m.theme.hintStyle().Render("Press Ctrl+C to detach; resume later with 'holescan resume'") + "\n")
	return b.String()
}

// finalView renders the completion message.
func (m scanModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nScan %s continues on the server.\nUse 'holescan resume' to reattach.\n", m.view.SessionID)
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Scan failed: %s\n", m.err))
	}

	var b strings.Builder
	b.WriteString(m.theme.completedStyle().Render("✓ Scan complete") + "\n\n")
	fmt.Fprintf(&b, "  Files processed: %d\n", m.view.Processed)
	fmt.Fprintf(&b, "  Matches found:   %d\n", m.view.TotalMatches)
	for _, match := range m.view.Matches {
		fmt.Fprintf(&b, "    %-30s %s\n", match.ItemRef, strings.Join(match.FoundCodes, ", "))
	}
	if m.view.DownloadURL != "" {
		fmt.Fprintf(&b, "\n  Report: %s\n", m.view.DownloadURL)
	}
	return b.String()
}

// followScan runs a scan with the interactive UI, falling back to plain
// line output when stdout is not a terminal.
func followScan(ctx context.Context, run scanRunner) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return followScanPlain(ctx, run)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newScanModel(cancel))
	go func() {
		view, err := run(ctx, func(v client.View, _ protocol.ServerMessage) {
			p.Send(scanEventMsg{view: v})
		})
		if ctx.Err() != nil {
			// Detached with Ctrl+C; the quit already rendered.
			return
		}
		p.Send(scanDoneMsg{view: view, err: err})
	}()

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(scanModel); ok {
		// Detaching leaves the scan running server-side - not an error.
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}
	return nil
}

// followScanPlain prints one line per event for logs and pipes.
func followScanPlain(ctx context.Context, run scanRunner) error {
	view, err := run(ctx, func(v client.View, msg protocol.ServerMessage) {
		switch m := msg.(type) {
		case protocol.Started:
			fmt.Printf("session %s started: %d files\n", m.SessionID, m.TotalFiles)
		case protocol.Progress:
			fmt.Printf("progress %d/%d (%d%%)\n", v.Processed, v.Total, v.Percent)
		case protocol.MatchFound:
			fmt.Printf("match %s: %s\n", m.Data.ItemRef, strings.Join(m.Data.FoundCodes, ", "))
		case protocol.SyncState:
			fmt.Printf("resynced: %d/%d processed, %d matches\n", m.ProcessedCount, m.TotalFiles, len(v.Matches))
		}
	})
	if err != nil {
		return err
	}

	fmt.Printf("complete: %d files, %d matches\n", view.Processed, view.TotalMatches)
	if view.DownloadURL != "" {
		fmt.Printf("report: %s\n", view.DownloadURL)
	}
	return nil
}
