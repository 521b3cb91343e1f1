// Package tui is the interactive chat interface over one document.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kalambet/docchat/internal/chat"
)

var (
	userLabelStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	pendingStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	statusStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	inputBoxStyle       = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	chatBoxStyle        = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type sessionChangedMsg struct{}

type refreshDoneMsg struct{ err error }

type submitDoneMsg struct{ err error }

type loadMoreDoneMsg struct{ err error }

// Model is the Bubble Tea model for the document chat view.
type Model struct {
	session *chat.Session
	docName string

	input    textinput.Model
	viewport viewport.Model
	status   string
	ready    bool

	// changes carries session change notifications into the update loop.
	changes chan struct{}
}

// New creates the chat view over the given session.
func New(session *chat.Session, docName string) *Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask something about the document"
	ti.Focus()
	ti.CharLimit = 0

	m := &Model{
		session:  session,
		docName:  docName,
		input:    ti,
		viewport: viewport.New(0, 0),
		status:   "Loading conversation...",
		changes:  make(chan struct{}, 1),
	}
	session.OnChange = func() {
		select {
		case m.changes <- struct{}{}:
		default:
		}
	}
	return m
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.refreshCmd(),
		m.waitForChange(),
	)
}

func (m *Model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		<-m.changes
		return sessionChangedMsg{}
	}
}

func (m *Model) refreshCmd() tea.Cmd {
	return func() tea.Msg {
		return refreshDoneMsg{err: m.session.Refresh(context.Background())}
	}
}

func (m *Model) submitCmd() tea.Cmd {
	return func() tea.Msg {
		return submitDoneMsg{err: m.session.Submit(context.Background())}
	}
}

func (m *Model) loadMoreCmd() tea.Cmd {
	return func() tea.Msg {
		return loadMoreDoneMsg{err: m.session.LoadMore(context.Background())}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, ih := inputBoxStyle.GetFrameSize()
		_, ch := chatBoxStyle.GetFrameSize()
		vh := msg.Height - ih - ch - 4 // header, status, input line, spacer
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = maxInt(20, msg.Width-2)
		m.viewport.Height = vh
		m.renderConversation()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.session.SetDraft(text)
			m.input.SetValue("")
			m.status = "Thinking..."
			return m, m.submitCmd()
		case tea.KeyCtrlO:
			if m.session.HasMore() {
				m.status = "Loading older messages..."
				return m, m.loadMoreCmd()
			}
			return m, nil
		}

	case sessionChangedMsg:
		m.renderConversation()
		return m, m.waitForChange()

	case refreshDoneMsg:
		if msg.err != nil {
			m.status = errorStyle.Render("Error: " + msg.err.Error())
		} else {
			m.status = m.hint()
		}
		m.renderConversation()
		return m, nil

	case loadMoreDoneMsg:
		if msg.err != nil {
			m.status = errorStyle.Render("Error: " + msg.err.Error())
		} else {
			m.status = m.hint()
		}
		m.renderConversation()
		return m, nil

	case submitDoneMsg:
		switch {
		case msg.err == nil:
			m.status = m.hint()
		case errors.Is(msg.err, chat.ErrBusy):
			m.status = errorStyle.Render("Still answering the previous question")
		default:
			// The session restored the failed draft; put it back in the box.
			m.input.SetValue(m.session.Draft())
			m.status = errorStyle.Render("Error: " + msg.err.Error())
		}
		m.renderConversation()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("docchat — " + m.docName)
	conversation := chatBoxStyle.Render(m.viewport.View())
	input := inputBoxStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	return header + "\n" + conversation + "\n" + input + "\n" + status
}

func (m *Model) hint() string {
	if m.session.HasMore() {
		return "Enter to send, Ctrl+O for older messages, Esc to quit"
	}
	return "Enter to send, Esc to quit"
}

// renderConversation rebuilds the viewport from the session view, oldest
// message at the top, and pins the scroll to the newest entry.
func (m *Model) renderConversation() {
	entries := m.session.Entries()
	if len(entries) == 0 {
		m.viewport.SetContent(pendingStyle.Render("No messages yet. Ask the first question."))
		return
	}

	var sb strings.Builder
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		label := assistantLabelStyle.Render("Assistant")
		if e.IsUserMessage {
			label = userLabelStyle.Render("You")
		}
		text := e.Text
		switch e.Kind {
		case chat.EntryOptimistic:
			text = pendingStyle.Render(text)
		case chat.EntryInProgress:
			text = text + pendingStyle.Render(" ▌")
		}
		fmt.Fprintf(&sb, "%s\n%s\n\n", label, text)
	}

	m.viewport.SetContent(sb.String())
	m.viewport.GotoBottom()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
