// Package chatui is the terminal chat window for the relay.
package chatui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"gemini-relay/internal/client"
	"gemini-relay/internal/models"
)

const (
	assistantName  = "Gemini"
	welcomeMessage = "Hello! Ask me anything. Type a message and press Enter."
	fallbackHint   = "See the relay logs for details."
	bubbleMaxWidth = 72
)

// Sender delivers chat turns to the relay.
type Sender interface {
	Ask(ctx context.Context, prompt string) (string, error)
	Converse(ctx context.Context, history []models.Message) (string, error)
}

// Options tunes the chat window.
type Options struct {
	// History sends the whole transcript with each turn instead of only the
	// latest prompt.
	History bool
	// Endpoint is shown in the header.
	Endpoint string
}

type keyMap struct {
	Send key.Binding
	Quit key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Send, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Send, k.Quit}}
}

var keys = keyMap{
	Send: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "send"),
	),
	Quit: key.NewBinding(
		key.WithKeys("esc", "ctrl+c"),
		key.WithHelp("esc", "quit"),
	),
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	metaStyle   = lipgloss.NewStyle().Faint(true)
	noteStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	userBubble  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 1)
	aiBubble = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)
	errorBubble = aiBubble.BorderForeground(lipgloss.Color("9"))
)

type entry struct {
	fromUser bool
	failed   bool
	text     string
	at       time.Time
}

type replyMsg struct {
	text string
	err  error
}

// Model is the bubbletea model behind the chat window.
type Model struct {
	ctx    context.Context
	sender Sender
	opts   Options

	input   textinput.Model
	spinner spinner.Model
	vp      viewport.Model
	help    help.Model
	keys    keyMap

	entries []entry
	history []models.Message
	waiting bool
	note    string

	width  int
	height int
	now    func() time.Time
}

// New returns a chat window model that starts with a welcome bubble.
func New(ctx context.Context, sender Sender, opts Options) Model {
	ti := textinput.New()
	ti.Placeholder = "Type a message..."
	ti.Prompt = "> "
	ti.CharLimit = 4000
	ti.Focus()

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))

	m := Model{
		ctx:     ctx,
		sender:  sender,
		opts:    opts,
		input:   ti,
		spinner: sp,
		vp:      viewport.New(0, 0),
		help:    help.New(),
		keys:    keys,
		now:     time.Now,
	}
	m.entries = append(m.entries, entry{text: welcomeMessage, at: m.now()})
	m.refresh()
	return m
}

// Run starts the chat window on the given terminal streams.
func Run(ctx context.Context, sender Sender, opts Options, in io.Reader, out io.Writer) error {
	p := tea.NewProgram(New(ctx, sender, opts),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
		tea.WithAltScreen(),
	)
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.refresh()
		return m, nil

	case replyMsg:
		m.waiting = false
		if msg.err != nil {
			m.entries = append(m.entries, entry{failed: true, text: "Error: " + msg.err.Error(), at: m.now()})
			m.note = hintFor(msg.err)
			if m.opts.History && len(m.history) > 0 {
				m.history = m.history[:len(m.history)-1]
			}
		} else {
			m.entries = append(m.entries, entry{text: msg.text, at: m.now()})
			m.note = ""
			if m.opts.History {
				m.history = append(m.history, models.Message{Role: "model", Content: msg.text})
			}
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refresh()
		return m, cmd

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Send):
			return m.submit()
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit sends the current input. Empty input and input typed while a reply
// is outstanding are ignored.
func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.waiting {
		return m, nil
	}
	m.input.Reset()
	m.entries = append(m.entries, entry{fromUser: true, text: text, at: m.now()})
	m.waiting = true

	var call tea.Cmd
	if m.opts.History {
		m.history = append(m.history, models.Message{Role: "user", Content: text})
		call = m.converseCmd(append([]models.Message(nil), m.history...))
	} else {
		call = m.askCmd(text)
	}
	m.refresh()
	return m, tea.Batch(call, m.spinner.Tick)
}

func (m Model) askCmd(prompt string) tea.Cmd {
	ctx, sender := m.ctx, m.sender
	return func() tea.Msg {
		text, err := sender.Ask(ctx, prompt)
		return replyMsg{text: text, err: err}
	}
}

func (m Model) converseCmd(history []models.Message) tea.Cmd {
	ctx, sender := m.ctx, m.sender
	return func() tea.Msg {
		text, err := sender.Converse(ctx, history)
		return replyMsg{text: text, err: err}
	}
}

func (m Model) View() string {
	var b strings.Builder
	header := "Gemini chat"
	if m.opts.Endpoint != "" {
		header += "  " + m.opts.Endpoint
	}
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n")
	b.WriteString(m.vp.View())
	b.WriteString("\n")
	if m.note != "" {
		b.WriteString(noteStyle.Render(m.note))
		b.WriteString("\n")
	}
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m *Model) resize() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	// header(1) + note(1) + input(1) + help(1)
	avail := m.height - 4
	if avail < 3 {
		avail = 3
	}
	m.vp.Width = m.width
	m.vp.Height = avail
	m.input.Width = m.width - 3
}

func (m *Model) refresh() {
	m.vp.SetContent(m.transcript())
	m.vp.GotoBottom()
}

func (m Model) transcript() string {
	width := m.width
	if width <= 0 {
		width = bubbleMaxWidth + 4
	}
	bubbleWidth := max(min(bubbleMaxWidth, width-4), 10)

	blocks := make([]string, 0, len(m.entries)+1)
	for _, e := range m.entries {
		blocks = append(blocks, renderEntry(e, width, bubbleWidth))
	}
	if m.waiting {
		typing := aiBubble.Render(m.spinner.View() + " " + metaStyle.Render(assistantName+" is typing..."))
		blocks = append(blocks, typing)
	}
	return strings.Join(blocks, "\n")
}

func renderEntry(e entry, width, bubbleWidth int) string {
	who := assistantName
	style := aiBubble
	align := lipgloss.Left
	switch {
	case e.fromUser:
		who = "You"
		style = userBubble
		align = lipgloss.Right
	case e.failed:
		style = errorBubble
	}

	body := lipgloss.NewStyle().Width(bubbleWidth).Render(e.text)
	if lipgloss.Width(e.text) < bubbleWidth {
		body = e.text
	}
	meta := metaStyle.Render(fmt.Sprintf("%s · %s", e.at.Format("15:04:05"), who))
	bubble := style.Render(body + "\n" + meta)
	return lipgloss.PlaceHorizontal(width, align, bubble)
}

func hintFor(err error) string {
	var cerr *client.Error
	if errors.As(err, &cerr) {
		if hint := client.Hint(cerr.Kind); hint != "" {
			return hint
		}
	}
	return fallbackHint
}
