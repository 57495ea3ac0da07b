package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"followup/internal/gmail"
	"followup/internal/model"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

type viewState int

const (
	viewLoading viewState = iota // analysis running
	viewResults                  // attention list
	viewDetail                   // single result
)

// Analyzer runs the analysis for one mailbox.
type Analyzer interface {
	AnalyzeMailbox(ctx context.Context, mailbox string) (model.Report, error)
}

// Suppressor records that the owner dealt with a conversation.
type Suppressor interface {
	Suppress(ctx context.Context, sup model.Suppression) error
}

type AppModel struct {
	// Core state
	analyzer     Analyzer
	suppressions Suppressor
	mailbox      string
	Err          error
	status       string
	report       model.Report

	// View state machine
	view     viewState
	selected *resultItem

	// Sub-models
	resultsList    list.Model
	detailViewport viewport.Model

	// Layout
	width, height int

	// Program reference for sending messages from goroutines
	program *tea.Program
	open    func(url string) error
}

// SetProgram stores a reference to the tea.Program so the analysis can send
// progress messages back to the Update loop.
func (m *AppModel) SetProgram(p *tea.Program) {
	m.program = p
}

// Progress forwards run progress to the UI. It matches the pipeline's
// progress callback.
func (m *AppModel) Progress(_ string, p model.RunProgress) {
	if m.program != nil {
		m.program.Send(progressMsg(p))
	}
}

func NewAppModel(a Analyzer, s Suppressor, mailbox string) AppModel {
	rl := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	// Remove esc from the list's built-in Quit binding so it doesn't exit on home
	rl.KeyMap.Quit.SetKeys("q")

	return AppModel{
		analyzer:       a,
		suppressions:   s,
		mailbox:        mailbox,
		status:         "Analyzing " + mailbox + "...",
		view:           viewLoading,
		resultsList:    rl,
		detailViewport: viewport.New(0, 0),
		open:           gmail.OpenBrowser,
	}
}

func (m *AppModel) Init() tea.Cmd {
	return m.analyzeCmd()
}

func (m *AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resultsList.SetSize(msg.Width, msg.Height-4) // room for footer
		m.detailViewport.Width = msg.Width
		m.detailViewport.Height = msg.Height - 6 // room for header + footer
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case progressMsg:
		m.status = fmt.Sprintf("Analyzing... %d / %d  %s", msg.Index, msg.Total, msg.Subject)
		return m, nil

	case analysisCompleteMsg:
		if msg.err != nil {
			m.Err = msg.err
			m.status = "Analysis failed!"
			return m, tea.Quit
		}
		m.report = msg.report
		m.resultsList.SetItems(reportItems(msg.report))
		m.resultsList.Title = resultsTitle(m.mailbox, msg.report)
		m.view = viewResults
		m.status = ""
		return m, nil

	case actionResultMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("%s failed: %v", msg.action, msg.err)
		} else {
			m.status = fmt.Sprintf("%s complete", msg.action)
		}
		return m, clearStatusAfter(2 * time.Second)

	case statusMsg:
		if string(msg) == "" {
			m.status = ""
		}
		return m, nil
	}

	// Delegate to active sub-model
	var cmd tea.Cmd
	switch m.view {
	case viewResults:
		m.resultsList, cmd = m.resultsList.Update(msg)
	case viewDetail:
		m.detailViewport, cmd = m.detailViewport.Update(msg)
	}
	return m, cmd
}

func (m *AppModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	// Global keys
	switch key {
	case "ctrl+c":
		return m, tea.Quit
	}

	switch m.view {
	case viewLoading:
		if key == "q" {
			return m, tea.Quit
		}
		return m, nil

	case viewResults:
		// When the list is filtering, let it handle all keys except ctrl+c
		if m.resultsList.FilterState() == list.Filtering {
			var cmd tea.Cmd
			m.resultsList, cmd = m.resultsList.Update(msg)
			return m, cmd
		}
		switch key {
		case "q":
			return m, tea.Quit
		case "enter":
			return m.enterResult()
		case "d":
			return m.dealtWithSelected()
		case "o":
			return m, m.openCmd(m.currentItem())
		case "r":
			m.view = viewLoading
			m.status = "Analyzing " + m.mailbox + "..."
			return m, m.analyzeCmd()
		}
		var cmd tea.Cmd
		m.resultsList, cmd = m.resultsList.Update(msg)
		return m, cmd

	case viewDetail:
		switch key {
		case "q":
			return m, tea.Quit
		case "esc":
			m.view = viewResults
			m.selected = nil
			return m, nil
		case "o":
			return m, m.openCmd(m.selected)
		case "d":
			m.view = viewResults
			m.selected = nil
			return m.dealtWithSelected()
		}
		var cmd tea.Cmd
		m.detailViewport, cmd = m.detailViewport.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *AppModel) currentItem() *resultItem {
	selected := m.resultsList.SelectedItem()
	if selected == nil {
		return nil
	}
	it := selected.(resultItem)
	return &it
}

func (m *AppModel) enterResult() (tea.Model, tea.Cmd) {
	it := m.currentItem()
	if it == nil {
		return m, nil
	}
	m.selected = it
	m.detailViewport.SetContent(detailContent(*it))
	m.detailViewport.GotoTop()
	m.view = viewDetail
	return m, nil
}

func (m *AppModel) dealtWithSelected() (tea.Model, tea.Cmd) {
	it := m.currentItem()
	if it == nil {
		return m, nil
	}
	if m.suppressions == nil {
		m.status = "No suppression store configured"
		return m, clearStatusAfter(2 * time.Second)
	}

	// Optimistically remove from list
	m.resultsList.RemoveItem(m.resultsList.Index())
	m.status = "Marking as dealt with..."
	return m, m.suppressCmd(it.Result)
}

// Commands

func (m *AppModel) analyzeCmd() tea.Cmd {
	return func() tea.Msg {
		rep, err := m.analyzer.AnalyzeMailbox(context.Background(), m.mailbox)
		return analysisCompleteMsg{report: rep, err: err}
	}
}

func (m *AppModel) suppressCmd(r model.Result) tea.Cmd {
	return func() tea.Msg {
		err := m.suppressions.Suppress(context.Background(), model.Suppression{
			ConversationID:  r.ConversationID,
			LatestMessageID: r.LatestMessageID,
			Owner:           r.Owner,
			Subject:         r.Subject,
			Reason:          "marked in terminal",
		})
		return actionResultMsg{action: "Mark as dealt with", err: err}
	}
}

func (m *AppModel) openCmd(it *resultItem) tea.Cmd {
	if it == nil {
		return nil
	}
	link := it.WebLink
	return func() tea.Msg {
		if link == "" {
			return actionResultMsg{action: "Open", err: fmt.Errorf("no link for %q", it.Subject)}
		}
		return actionResultMsg{action: "Open (browser)", err: m.open(link)}
	}
}

func clearStatusAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return statusMsg("")
	})
}

// View renders the appropriate view based on current state.
func (m *AppModel) View() string {
	// Error state
	if m.Err != nil {
		return "Error: " + m.Err.Error() + "\n"
	}

	// Analysis running
	if m.view == viewLoading {
		if m.status != "" {
			return m.status + "\n"
		}
		return "Loading...\n"
	}

	var b strings.Builder

	switch m.view {
	case viewResults:
		b.WriteString(m.resultsList.View())
		b.WriteString("\n")
		b.WriteString(resultsFooter())
	case viewDetail:
		b.WriteString(m.detailViewport.View())
		b.WriteString("\n")
		b.WriteString(detailFooter())
	}

	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(m.status)
	}

	return b.String()
}
