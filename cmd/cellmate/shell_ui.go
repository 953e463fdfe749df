package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/lexcodex/cellmate/agents"
	"github.com/lexcodex/cellmate/framework"
	"github.com/lexcodex/cellmate/server"
)

const maxTranscriptLines = 500

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	userStyle   = lipgloss.NewStyle().Bold(true)
	answerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
)

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive chat against the workbook; Esc stops a running request",
		RunE: func(cmd *cobra.Command, args []string) error {
			events := make(chan framework.Event, 128)
			rt, err := openRuntime(framework.ChannelTelemetry{Ch: events})
			if err != nil {
				return err
			}
			defer rt.Close()
			label := fmt.Sprintf("%s | %s/%s", rt.workbook.Path(), rt.agentCfg.Provider, rt.agentCfg.Model)
			model := newShellModel(rt.service, events, label)
			program := tea.NewProgram(model, tea.WithInput(cmd.InOrStdin()), tea.WithOutput(cmd.OutOrStdout()), tea.WithAltScreen())
			_, err = program.Run()
			rt.service.Stop()
			return err
		},
	}
}

type eventMsg struct {
	Event framework.Event
}

type replyMsg struct {
	Result server.SendResult
	Err    error
}

type batchDoneMsg struct {
	Report agents.BatchReport
	Err    error
}

type shellModel struct {
	service    *server.Service
	events     <-chan framework.Event
	label      string
	input      textinput.Model
	transcript viewport.Model
	spinner    spinner.Model
	lines      []string
	running    bool
	statusLine string
	width      int
}

func newShellModel(svc *server.Service, events <-chan framework.Event, label string) *shellModel {
	txt := textinput.New()
	txt.Placeholder = "Ask about the workbook, or /help"
	txt.Focus()
	txt.CharLimit = 2000

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	return &shellModel{
		service:    svc,
		events:     events,
		label:      label,
		input:      txt,
		transcript: viewport.New(80, 20),
		spinner:    spin,
		statusLine: "ready",
	}
}

func (m *shellModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.listenEvents())
}

func (m *shellModel) listenEvents() tea.Cmd {
	if m.events == nil {
		return nil
	}
	return func() tea.Msg {
		evt, ok := <-m.events
		if !ok {
			return nil
		}
		return eventMsg{Event: evt}
	}
}

func (m *shellModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.service.Stop()
			return m, tea.Quit
		case "esc":
			if m.running && m.service.Stop() {
				m.statusLine = "stopping..."
			}
			return m, nil
		case "enter":
			if cmd := m.submit(m.input.Value()); cmd != nil {
				cmds = append(cmds, cmd)
			}
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.transcript.Width = msg.Width
		m.transcript.Height = max(msg.Height-4, 3)
		m.input.Width = max(msg.Width-4, 10)
	case eventMsg:
		m.appendLine(renderEvent(msg.Event))
		cmds = append(cmds, m.listenEvents())
	case replyMsg:
		m.running = false
		m.finishReply(msg)
	case batchDoneMsg:
		m.running = false
		if msg.Err != nil {
			m.statusLine = "batch failed: " + msg.Err.Error()
		} else {
			counts := msg.Report.Counts()
			m.statusLine = fmt.Sprintf("batch %s: %d ok, %d failed, %d skipped", msg.Report.Status,
				counts[framework.StatusSuccess], counts[framework.StatusError], counts[framework.StatusSkipped])
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.transcript, cmd = m.transcript.Update(msg)
	cmds = append(cmds, cmd)
	m.spinner, cmd = m.spinner.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *shellModel) finishReply(msg replyMsg) {
	switch {
	case msg.Err != nil:
		m.statusLine = msg.Err.Error()
	case msg.Result.Status == agents.OutcomeSuccess:
		m.appendLine(answerStyle.Render(msg.Result.Text))
		m.statusLine = fmt.Sprintf("done in %d iteration(s); /apply writes it to the selection", msg.Result.Iterations)
	case msg.Result.Status == agents.OutcomeCancelled:
		m.statusLine = "stopped"
	default:
		m.statusLine = "error: " + msg.Result.Error
	}
}

// submit interprets one input line and returns the command that runs it.
func (m *shellModel) submit(raw string) tea.Cmd {
	value := strings.TrimSpace(raw)
	m.input.SetValue("")
	if value == "" {
		return nil
	}
	if !strings.HasPrefix(value, "/") {
		return m.send(value)
	}
	verb, rest, _ := strings.Cut(value, " ")
	rest = strings.TrimSpace(rest)
	switch verb {
	case "/quit", "/exit":
		m.service.Stop()
		return tea.Quit
	case "/help":
		m.appendLine("/select <range>  /batch <range> <instruction>  /apply  /history  /clear  /tools  /quit")
	case "/select":
		if m.running {
			m.statusLine = framework.ErrBusy.Error()
			return nil
		}
		if err := m.service.Workbook.Select(rest); err != nil {
			m.statusLine = err.Error()
			return nil
		}
		m.statusLine = "selected " + m.service.Workbook.Selection().Address()
	case "/batch":
		rng, instruction, ok := strings.Cut(rest, " ")
		if !ok || strings.TrimSpace(instruction) == "" {
			m.statusLine = "usage: /batch <range> <instruction>"
			return nil
		}
		return m.batch(server.BatchParams{Range: rng, Instruction: strings.TrimSpace(instruction)})
	case "/apply":
		result, err := m.service.Apply()
		if err != nil {
			m.statusLine = err.Error()
			return nil
		}
		m.statusLine = "wrote answer to " + result.Address
	case "/history":
		entries, err := m.service.HistoryList(context.Background())
		if err != nil {
			m.statusLine = err.Error()
			return nil
		}
		for _, e := range entries {
			m.appendLine(fmt.Sprintf("%s: %s", e.Role, e.Content))
		}
	case "/clear":
		if err := m.service.HistoryClear(context.Background()); err != nil {
			m.statusLine = err.Error()
			return nil
		}
		m.lines = nil
		m.transcript.SetContent("")
		m.statusLine = "history cleared"
	case "/tools":
		names := make([]string, 0)
		for _, spec := range m.service.Tools() {
			names = append(names, spec.Name)
		}
		m.appendLine(strings.Join(names, ", "))
	default:
		m.statusLine = "unknown command " + verb
	}
	return nil
}

func (m *shellModel) send(prompt string) tea.Cmd {
	if m.running {
		m.statusLine = framework.ErrBusy.Error()
		return nil
	}
	m.running = true
	m.statusLine = "thinking... (Esc to stop)"
	m.appendLine(userStyle.Render("> " + prompt))
	svc := m.service
	return func() tea.Msg {
		result, err := svc.Send(context.Background(), server.SendParams{Prompt: prompt})
		return replyMsg{Result: result, Err: err}
	}
}

func (m *shellModel) batch(params server.BatchParams) tea.Cmd {
	if m.running {
		m.statusLine = framework.ErrBusy.Error()
		return nil
	}
	m.running = true
	m.statusLine = "batch running... (Esc to stop)"
	svc := m.service
	return func() tea.Msg {
		report, err := svc.Batch(context.Background(), params)
		return batchDoneMsg{Report: report, Err: err}
	}
}

func (m *shellModel) appendLine(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxTranscriptLines {
		m.lines = m.lines[len(m.lines)-maxTranscriptLines:]
	}
	m.transcript.SetContent(strings.Join(m.lines, "\n"))
	m.transcript.GotoBottom()
}

func (m *shellModel) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("cellmate " + m.label))
	b.WriteString("\n")
	b.WriteString(m.transcript.View())
	b.WriteString("\n")
	status := m.statusLine
	if m.running {
		status = m.spinner.View() + " " + status
	}
	b.WriteString(faintStyle.Render(fmt.Sprintf("[%s] %s", time.Now().Format("15:04"), status)))
	b.WriteString("\n")
	b.WriteString(m.input.View())
	return b.String()
}
