// Package tui is an interactive terminal chat over the pipeline.
package tui

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"primate-rag/internal/answerer"
	"primate-rag/internal/domain"
)

// askTimeout bounds one question, retrieval included.
const askTimeout = 2 * time.Minute

// Asker is the TUI-facing subset of the pipeline.
type Asker interface {
	Ask(ctx context.Context, question string, history []domain.Message) (answerer.Answer, error)
}

// answerMsg carries the result of an asynchronous Ask.
type answerMsg struct {
	question string
	answer   answerer.Answer
	err      error
}

// Model is the Bubble Tea model for the chat.
type Model struct {
	pipeline Asker
	input    textinput.Model
	viewport viewport.Model
	history  []domain.Message
	answer   string
	sources  []domain.SearchResult
	summary  string
	status   string
	cursor   int
	ready    bool
	waiting  bool
	question string
}

// New creates a chat model. summary is shown under the header.
func New(pipeline Asker, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about primate research and press Enter"
	ti.Focus()
	ti.CharLimit = 2000
	vp := viewport.New(0, 0)
	return Model{pipeline: pipeline, input: ti, viewport: vp, summary: summary, status: "Ready. Up/Down browse sources."}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) ask(question string) tea.Cmd {
	history := append([]domain.Message(nil), m.history...)
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), askTimeout)
		defer cancel()
		ans, err := m.pipeline.Ask(ctx, question, history)
		return answerMsg{question: question, answer: ans, err: err}
	}
}

// Update handles key, window and answer events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around answer and query boxes
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header+summary, status, spacer
		vh := msg.Height - reserved
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.render())
		return m, nil
	case answerMsg:
		m.waiting = false
		m.cursor = 0
		var upErr *answerer.UpstreamError
		switch {
		case errors.As(msg.err, &upErr):
			m.status = "Language model unavailable; showing retrieved excerpts."
			m.answer = ""
			m.sources = upErr.Sources
		case msg.err != nil:
			m.status = "Error: " + msg.err.Error()
			m.answer = ""
			m.sources = nil
		default:
			m.status = fmt.Sprintf("Answered %q from %d excerpts", msg.question, len(msg.answer.Sources))
			m.answer = msg.answer.Text
			m.sources = msg.answer.Sources
			m.history = append(m.history,
				domain.Message{Role: "user", Content: msg.question},
				domain.Message{Role: "assistant", Content: msg.answer.Text})
		}
		m.viewport.SetContent(m.render())
		m.viewport.GotoTop()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" && !m.waiting {
				m.waiting = true
				m.question = q
				m.status = "Thinking..."
				m.input.SetValue("")
				return m, m.ask(q)
			}
		case "down":
			if len(m.sources) > 0 {
				m.cursor = (m.cursor + 1) % len(m.sources)
				m.viewport.SetContent(m.render())
				return m, nil
			}
		case "up":
			if len(m.sources) > 0 {
				m.cursor = (m.cursor - 1 + len(m.sources)) % len(m.sources)
				m.viewport.SetContent(m.render())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Primate RAG")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	body := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + body + "\n" + input + "\n" + status
}

func (m Model) render() string {
	var b strings.Builder
	if m.answer != "" {
		b.WriteString(m.answer)
		b.WriteString("\n\n")
	}
	if len(m.sources) == 0 {
		if m.answer == "" {
			b.WriteString("No answer yet.")
		}
		return b.String()
	}
	r := m.sources[m.cursor]
	title := fmt.Sprintf("Source %d/%d  %s, %s  score=%.3f", m.cursor+1, len(m.sources),
		domain.Citation(r.Chunk.Title, r.Chunk.Year), r.Chunk.Section, r.Score)
	b.WriteString(sourceTitleStyle.Render(title))
	b.WriteString("\n\n")
	b.WriteString(highlightBestSentence(r.Chunk.Text, m.question))
	return b.String()
}

var (
	resultBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	sourceTitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	unicodeWordRe    = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe       = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

// highlightBestSentence emphasizes the sentence sharing most words with query.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(trimAll(sentences), " ")
	}
	bestIdx, bestScore := 0, -1
	for i, s := range sentences {
		if score := overlap(qTokens, s); score > bestScore {
			bestScore, bestIdx = score, i
		}
	}
	sentences = trimAll(sentences)
	sentences[bestIdx] = highlightStyle.Render(sentences[bestIdx])
	return strings.Join(sentences, " ")
}

func trimAll(ss []string) []string {
	for i := range ss {
		ss[i] = strings.TrimSpace(ss[i])
	}
	return ss
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func overlap(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	for t := range toTokenSet(sentence) {
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
