// This file implements the interactive chat interface using bubbletea.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"docchat/internal/session"
	"docchat/internal/status"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			Padding(0, 1)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	botStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	sourceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	activeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	stoppedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	confirmStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214"))
)

// Messages for tea updates.
type (
	loadedMsg       struct{}
	statusUpdateMsg session.Status
	queryDoneMsg    session.Message
	actionDoneMsg   struct {
		notice string
		err    error
	}
)

// confirmAction is a staged destructive action awaiting the y/N gate.
type confirmAction struct {
	prompt string
	run    func() tea.Msg
}

type chatModel struct {
	manager *session.Manager

	textinput textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	renderer  *glamour.TermRenderer

	width   int
	height  int
	ready   bool
	loading bool

	confirm *confirmAction
	notice  string
	errLine string

	backend      session.Status
	backendKnown bool
}

func newChatModel(manager *session.Manager) chatModel {
	ti := textinput.New()
	ti.Placeholder = "Ask about your documents... (Enter to send, /help for commands)"
	ti.Focus()
	ti.Prompt = "│ "
	ti.CharLimit = 4096
	ti.Width = 80

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = botStyle

	vp := viewport.New(80, 20)
	vp.SetContent("")

	renderer, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)

	return chatModel{
		manager:   manager,
		textinput: ti,
		viewport:  vp,
		spinner:   sp,
		renderer:  renderer,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		m.initialLoad,
	)
}

// initialLoad pulls remote history and the file list once on startup. Both
// failures are non-fatal; the client starts with whatever loaded.
func (m chatModel) initialLoad() tea.Msg {
	ctx := context.Background()
	_ = m.manager.Refresh(ctx)
	_ = m.manager.RefreshFiles(ctx)
	return loadedMsg{}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		spCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.confirm != nil {
			return m.handleConfirmKey(msg)
		}

		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit

		case tea.KeyEnter:
			if !m.loading {
				return m.handleSubmit()
			}
			return m, nil
		}

		if !m.loading {
			m.textinput, tiCmd = m.textinput.Update(msg)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 3
		footerHeight := 2
		inputHeight := 3

		if !m.ready {
			m.viewport = viewport.New(msg.Width-4, msg.Height-headerHeight-footerHeight-inputHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 4
			m.viewport.Height = msg.Height - headerHeight - footerHeight - inputHeight
		}
		m.textinput.Width = msg.Width - 6

		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(msg.Width-8),
		)
		m.viewport.SetContent(m.renderTranscript())

	case spinner.TickMsg:
		if m.loading {
			m.spinner, spCmd = m.spinner.Update(msg)
			return m, spCmd
		}

	case loadedMsg:
		m.viewport.SetContent(m.renderTranscript())
		m.viewport.GotoBottom()

	case statusUpdateMsg:
		m.backend = session.Status(msg)
		m.backendKnown = true

	case queryDoneMsg:
		m.loading = false
		m.viewport.SetContent(m.renderTranscript())
		m.viewport.GotoBottom()

	case actionDoneMsg:
		m.loading = false
		m.notice = msg.notice
		m.errLine = ""
		if msg.err != nil {
			m.errLine = msg.err.Error()
		}
		m.viewport.SetContent(m.renderTranscript())
		m.viewport.GotoBottom()
	}

	m.viewport, vpCmd = m.viewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd, spCmd)
}

// handleConfirmKey resolves the pending y/N gate. Anything but y cancels.
func (m chatModel) handleConfirmKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	confirm := m.confirm
	m.confirm = nil
	if msg.Type == tea.KeyRunes {
		answer := strings.ToLower(string(msg.Runes))
		if answer == "y" {
			return m, confirm.run
		}
	}
	m.notice = "Cancelled."
	return m, nil
}

func (m chatModel) handleSubmit() (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(m.textinput.Value())
	if input == "" {
		return m, nil
	}

	m.notice = ""
	m.errLine = ""

	if strings.HasPrefix(input, "/") {
		m.textinput.Reset()
		return m.handleCommand(input)
	}

	pending, err := m.manager.BeginSend(context.Background(), input)
	if err != nil {
		// Empty input is already filtered above; the only other cause is
		// an in-flight query, which the disabled input normally prevents.
		m.notice = err.Error()
		return m, nil
	}

	m.textinput.Reset()
	m.loading = true
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()

	return m, tea.Batch(
		m.spinner.Tick,
		func() tea.Msg {
			return queryDoneMsg(m.manager.CompleteSend(context.Background(), pending))
		},
	)
}

func (m chatModel) handleCommand(input string) (tea.Model, tea.Cmd) {
	parts := strings.Fields(input)
	cmd := parts[0]
	args := parts[1:]

	switch cmd {
	case "/quit", "/exit", "/q":
		return m, tea.Quit

	case "/new":
		return m, func() tea.Msg {
			m.manager.StartNewChat(context.Background())
			return actionDoneMsg{notice: "Started a new chat."}
		}

	case "/open":
		if len(args) != 1 {
			m.notice = "Usage: /open <number|id>"
			return m, nil
		}
		id := m.resolveSessionID(args[0])
		return m, func() tea.Msg {
			if err := m.manager.LoadSession(context.Background(), id); err != nil {
				return actionDoneMsg{err: fmt.Errorf("could not open session %s", id)}
			}
			return actionDoneMsg{}
		}

	case "/delete":
		if len(args) != 1 {
			m.notice = "Usage: /delete <number|id>"
			return m, nil
		}
		id := m.resolveSessionID(args[0])
		m.confirm = &confirmAction{
			prompt: "Delete this chat?",
			run: func() tea.Msg {
				if err := m.manager.DeleteSession(context.Background(), id); err != nil {
					return actionDoneMsg{err: fmt.Errorf("could not delete session %s", id)}
				}
				return actionDoneMsg{notice: "Chat deleted."}
			},
		}
		return m, nil

	case "/sessions":
		m.notice = m.formatSessions()
		return m, nil

	case "/files":
		m.notice = m.formatFiles()
		return m, nil

	case "/upload":
		if len(args) != 1 {
			m.notice = "Usage: /upload <path>"
			return m, nil
		}
		path := args[0]
		m.loading = true
		return m, tea.Batch(m.spinner.Tick, func() tea.Msg {
			f, err := os.Open(path)
			if err != nil {
				return actionDoneMsg{err: err}
			}
			defer func() { _ = f.Close() }()
			name := filepath.Base(path)
			if _, err := m.manager.UploadFile(context.Background(), name, f); err != nil {
				return actionDoneMsg{err: fmt.Errorf("❌ upload failed")}
			}
			return actionDoneMsg{notice: "✅ Uploaded " + name}
		})

	case "/rm":
		if len(args) != 1 {
			m.notice = "Usage: /rm <name>"
			return m, nil
		}
		name := args[0]
		m.confirm = &confirmAction{
			prompt: fmt.Sprintf("Delete %s? Queries referencing this document will break.", name),
			run: func() tea.Msg {
				if err := m.manager.DeleteFile(context.Background(), name); err != nil {
					return actionDoneMsg{err: fmt.Errorf("failed to delete %s", name)}
				}
				return actionDoneMsg{notice: "Deleted " + name}
			},
		}
		return m, nil

	case "/help":
		m.notice = "Commands: /new /open <n> /delete <n> /sessions /files /upload <path> /rm <name> /quit"
		return m, nil

	default:
		m.notice = "Unknown command " + cmd + " (try /help)"
		return m, nil
	}
}

// resolveSessionID accepts either a 1-based index into the session list or a
// raw session id.
func (m chatModel) resolveSessionID(arg string) string {
	sessions := m.manager.Sessions()
	if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(sessions) {
		return sessions[n-1].ID
	}
	return arg
}

func (m chatModel) formatSessions() string {
	sessions := m.manager.Sessions()
	if len(sessions) == 0 {
		return "No sessions yet."
	}
	current := m.manager.CurrentID()
	var sb strings.Builder
	sb.WriteString("Sessions:\n")
	for i, s := range sessions {
		marker := "  "
		if s.ID == current {
			marker = "➤ "
		}
		fmt.Fprintf(&sb, "%s%d. %s\n", marker, i+1, s.Title)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (m chatModel) formatFiles() string {
	files := m.manager.Files()
	if len(files) == 0 {
		return "No files uploaded."
	}
	return "Files: " + strings.Join(files, ", ")
}

func (m chatModel) View() string {
	if !m.ready {
		return "Initializing..."
	}

	header := m.renderHeader()
	chatView := m.viewport.View()

	if m.loading {
		chatView += "\n" + m.spinner.View() + " Thinking..."
	}
	if m.errLine != "" {
		chatView += "\n" + errorStyle.Render(m.errLine)
	}
	if m.notice != "" {
		chatView += "\n" + mutedStyle.Render(m.notice)
	}

	inputStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(0, 1)
	inputArea := inputStyle.Render(m.textinput.View())

	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		chatView,
		inputArea,
		m.renderFooter(),
	)
}

func (m chatModel) renderHeader() string {
	title := headerStyle.Render(" 📚 docchat ")
	server := mutedStyle.Render(cfg.RAGServerURL)

	var backend string
	switch {
	case !m.backendKnown:
		backend = mutedStyle.Render("● ...")
	case m.backend.Running():
		backend = activeStyle.Render(fmt.Sprintf("● Active · %d chunks", m.backend.ChunkCount))
	default:
		backend = stoppedStyle.Render("● Stopped")
	}

	line := lipgloss.JoinHorizontal(lipgloss.Center, title, "  ", backend, "  ", server)
	divider := mutedStyle.Render(strings.Repeat("─", max(m.width, 1)))
	return lipgloss.JoinVertical(lipgloss.Left, line, divider)
}

func (m chatModel) renderFooter() string {
	if m.confirm != nil {
		return confirmStyle.Render(m.confirm.prompt + " (y/N)")
	}
	return mutedStyle.Render("Enter to send · /help for commands · Ctrl+C to exit")
}

func (m chatModel) renderTranscript() string {
	cur, ok := m.manager.Current()
	if !ok || len(cur.Messages) == 0 {
		return mutedStyle.Render("\n  👋 Welcome! Upload a document and ask me anything.\n")
	}

	var sb strings.Builder
	for _, msg := range cur.Messages {
		if msg.Role == session.RoleUser {
			sb.WriteString(userStyle.Render("You") + "\n")
			sb.WriteString(msg.Text)
			sb.WriteString("\n\n")
			continue
		}
		sb.WriteString(botStyle.Render("📚 docchat") + "\n")
		sb.WriteString(m.safeRenderMarkdown(msg.Text))
		if line := formatSources(msg.Sources); line != "" {
			sb.WriteString(sourceStyle.Render(line) + "\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatSources(sources []session.Source) string {
	if len(sources) == 0 {
		return ""
	}
	parts := make([]string, 0, len(sources))
	for _, src := range sources {
		if src.ChunkID != nil {
			parts = append(parts, fmt.Sprintf("%s (chunk %d)", src.Document, *src.ChunkID))
		} else {
			parts = append(parts, src.Document)
		}
	}
	return "Sources: " + strings.Join(parts, ", ")
}

// safeRenderMarkdown renders markdown with panic recovery.
func (m chatModel) safeRenderMarkdown(content string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			result = content
		}
	}()

	if m.renderer != nil && content != "" {
		if rendered, err := m.renderer.Render(content); err == nil {
			return rendered
		}
	}
	return content + "\n"
}

func runChat(cmd *cobra.Command, args []string) error {
	// Keep log output away from the alternate screen.
	_ = os.MkdirAll("logs", 0o755)
	if f, err := tea.LogToFile(filepath.Join("logs", "docchat.log"), "docchat"); err == nil {
		defer func() { _ = f.Close() }()
	}

	prog := tea.NewProgram(newChatModel(manager), tea.WithAltScreen())

	poller := status.New(client, cfg.StatusPollInterval)
	poller.SetOnUpdate(func(st session.Status) {
		prog.Send(statusUpdateMsg(st))
	})
	go func() {
		if err := poller.Start(); err != nil {
			log.Printf("⚠️ failed to start status poller: %v", err)
		}
	}()
	defer poller.Stop()

	_, err := prog.Run()
	return err
}
