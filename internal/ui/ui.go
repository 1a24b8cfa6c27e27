package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/kcx/internal/models"
	"github.com/desertthunder/kcx/internal/shared"
	"github.com/desertthunder/kcx/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	ContactsView ViewState = iota
	ComposeView
	ConfirmView
	MonitorView
	ResultView
)

// ContactSource lists the recipients offered by the picker.
type ContactSource interface {
	Contacts(ctx context.Context) ([]models.Contact, error)
}

// Options configures a [Model].
type Options struct {
	Contacts             ContactSource
	Campaigns            tasks.Campaigns
	SessionKey           string
	Recipients           []models.Recipient // preselected recipients skip the picker
	Message              string
	MessagesPerRecipient int
	Interval             time.Duration
	PollInterval         time.Duration
	Watch                bool // attach to the session's running campaign
}

// Model represents the TUI application state.
type Model struct {
	ctx   context.Context
	opts  Options
	view  ViewState
	width int

	contactList list.Model
	selected    map[string]models.Recipient
	input       textinput.Model
	bar         progress.Model

	snapshot      models.Snapshot
	paused        bool
	confirmCancel bool
	ticking       bool
	inflight      bool
	failures      int
	lastErr       error
	err           error

	help help.Model
	keys keyMap
}

// NewModel creates a new TUI model with the provided dependencies.
func NewModel(ctx context.Context, opts Options) *Model {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	if opts.MessagesPerRecipient <= 0 {
		opts.MessagesPerRecipient = 1
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}

	input := textinput.New()
	input.Placeholder = "Hello " + models.NameMarker + "!"
	input.SetValue(opts.Message)
	input.CharLimit = 2000

	contacts := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	contacts.Title = "Contacts"

	m := &Model{
		ctx:         ctx,
		opts:        opts,
		contactList: contacts,
		selected:    make(map[string]models.Recipient),
		input:       input,
		bar:         progress.New(progress.WithDefaultGradient()),
		help:        help.New(),
		keys:        newKeyMap(),
	}

	for _, r := range opts.Recipients {
		m.selected[r.ID] = r
	}

	switch {
	case opts.Watch:
		m.view = MonitorView
	case len(opts.Recipients) > 0:
		m.view = ComposeView
		m.input.Focus()
	default:
		m.view = ContactsView
	}
	return m
}

// Init fetches contacts, or the campaign status when watching.
func (m *Model) Init() tea.Cmd {
	switch m.view {
	case MonitorView:
		m.inflight = true
		return m.status()
	case ComposeView:
		return textinput.Blink
	default:
		return m.fetchContacts()
	}
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(msg.Width-8, 10)
		m.contactList.SetSize(msg.Width-4, msg.Height-6)
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case ContactsView:
			return m.handleContactsKeys(msg)
		case ComposeView:
			return m.handleComposeKeys(msg)
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		case MonitorView:
			return m.handleMonitorKeys(msg)
		case ResultView:
			return m.handleResultKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	return m, nil
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgContactsFetched:
		data := msg.data.(contactsData)
		if data.err != nil {
			m.err = data.err
			return m, tea.Quit
		}
		items := make([]list.Item, len(data.contacts))
		for i, c := range data.contacts {
			_, picked := m.selected[c.UserID()]
			items[i] = contactItem{contact: c, selected: picked}
		}
		return m, m.contactList.SetItems(items)

	case MsgCampaignStarted:
		data := msg.data.(campaignData)
		m.inflight = false
		if data.err != nil && data.snapshot.ID == "" {
			m.err = data.err
			m.view = ResultView
			return m, nil
		}
		m.snapshot = data.snapshot
		m.lastErr = data.err
		m.view = MonitorView
		if m.snapshot.IsComplete {
			m.view = ResultView
			return m, nil
		}
		return m, m.scheduleTick()

	case MsgTick:
		m.ticking = false
		if m.view != MonitorView || m.paused || m.confirmCancel || m.inflight {
			return m, nil
		}
		m.inflight = true
		return m, m.advance()

	case MsgAdvanced:
		return m.handleAdvanced(msg.data.(campaignData))

	case MsgCancelled:
		data := msg.data.(campaignData)
		m.inflight = false
		if data.snapshot.ID != "" {
			m.snapshot = data.snapshot
		}
		m.err = data.err
		m.view = ResultView
		return m, nil
	}
	return m, nil
}

func (m *Model) handleAdvanced(data campaignData) (tea.Model, tea.Cmd) {
	m.inflight = false
	if data.snapshot.ID != "" {
		m.snapshot = data.snapshot
	}

	switch {
	case data.err == nil:
		m.failures = 0
		m.lastErr = nil
	case errors.Is(data.err, shared.ErrNoActiveCampaign):
		if !m.snapshot.IsComplete {
			m.err = data.err
		}
		m.view = ResultView
		return m, nil
	case m.snapshot.State == models.CampaignCancelled.String():
		m.err = data.err
		m.view = ResultView
		return m, nil
	default:
		m.failures++
		m.lastErr = data.err
		if m.failures >= tasks.DefaultMaxErrors {
			m.err = data.err
			m.view = ResultView
			return m, nil
		}
	}

	if m.snapshot.IsComplete {
		m.view = ResultView
		return m, nil
	}
	if m.view != MonitorView {
		return m, nil
	}
	return m, m.scheduleTick()
}

func (m *Model) handleContactsKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.contactList.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.contactList, cmd = m.contactList.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.toggle):
		if item, ok := m.contactList.SelectedItem().(contactItem); ok {
			id := item.contact.UserID()
			if item.selected {
				delete(m.selected, id)
			} else {
				m.selected[id] = item.contact.Recipient()
			}
			item.selected = !item.selected
			return m, m.contactList.SetItem(m.contactList.Index(), item)
		}
		return m, nil
	case key.Matches(msg, m.keys.enter):
		if len(m.selected) == 0 {
			return m, nil
		}
		m.view = ComposeView
		m.input.Focus()
		return m, textinput.Blink
	}

	var cmd tea.Cmd
	m.contactList, cmd = m.contactList.Update(msg)
	return m, cmd
}

func (m *Model) handleComposeKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.input.Blur()
		if len(m.opts.Recipients) > 0 {
			return m, tea.Quit
		}
		m.view = ContactsView
		return m, nil
	case "enter":
		if strings.TrimSpace(m.input.Value()) == "" {
			return m, nil
		}
		m.input.Blur()
		m.view = ConfirmView
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit), key.Matches(msg, m.keys.no):
		m.view = ComposeView
		m.input.Focus()
		return m, nil
	case key.Matches(msg, m.keys.yes):
		m.view = MonitorView
		m.inflight = true
		return m, m.start()
	}
	return m, nil
}

func (m *Model) handleMonitorKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.confirmCancel {
		switch {
		case key.Matches(msg, m.keys.yes):
			m.confirmCancel = false
			return m, m.cancel()
		case key.Matches(msg, m.keys.no), msg.String() == "esc":
			m.confirmCancel = false
			return m, m.scheduleTick()
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.pause):
		m.paused = !m.paused
		if !m.paused {
			return m, m.scheduleTick()
		}
	case key.Matches(msg, m.keys.cancel):
		m.confirmCancel = true
	}
	return m, nil
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.restart):
		m.snapshot = models.Snapshot{}
		m.err = nil
		m.lastErr = nil
		m.failures = 0
		m.paused = false
		m.view = ComposeView
		m.input.Focus()
		return m, textinput.Blink
	}
	return m, nil
}

// scheduleTick arms the next advance, waiting at least the poll interval and until the next send is due.
func (m *Model) scheduleTick() tea.Cmd {
	if m.ticking || m.inflight || m.paused {
		return nil
	}
	m.ticking = true

	wait := m.opts.PollInterval
	if due := time.Duration(m.snapshot.WaitSeconds * float64(time.Second)); due > wait {
		wait = due
	}
	return tea.Tick(wait, func(time.Time) tea.Msg { return tickMsg() })
}

func (m *Model) recipients() []models.Recipient {
	if len(m.opts.Recipients) > 0 {
		return m.opts.Recipients
	}
	out := make([]models.Recipient, 0, len(m.selected))
	for _, item := range m.contactList.Items() {
		if ci, ok := item.(contactItem); ok && ci.selected {
			out = append(out, ci.contact.Recipient())
		}
	}
	return out
}

func (m *Model) fetchContacts() tea.Cmd {
	return func() tea.Msg {
		if m.opts.Contacts == nil {
			return contactsFetchedMsg(nil, fmt.Errorf("%w: no contact source", shared.ErrMissingArgument))
		}
		contacts, err := m.opts.Contacts.Contacts(m.ctx)
		return contactsFetchedMsg(contacts, err)
	}
}

func (m *Model) start() tea.Cmd {
	req := tasks.StartRequest{
		Recipients:           m.recipients(),
		Message:              strings.TrimSpace(m.input.Value()),
		MessagesPerRecipient: m.opts.MessagesPerRecipient,
		Interval:             m.opts.Interval,
	}
	return func() tea.Msg {
		snap, err := m.opts.Campaigns.Start(m.ctx, m.opts.SessionKey, req)
		return campaignStartedMsg(snap, err)
	}
}

func (m *Model) status() tea.Cmd {
	return func() tea.Msg {
		snap, err := m.opts.Campaigns.Status(m.ctx, m.opts.SessionKey)
		return campaignStartedMsg(snap, err)
	}
}

func (m *Model) advance() tea.Cmd {
	return func() tea.Msg {
		snap, err := m.opts.Campaigns.Advance(m.ctx, m.opts.SessionKey)
		return advancedMsg(snap, err)
	}
}

func (m *Model) cancel() tea.Cmd {
	return func() tea.Msg {
		snap, err := m.opts.Campaigns.Cancel(m.ctx, m.opts.SessionKey)
		return cancelledMsg(snap, err)
	}
}

// Err returns the error that ended the session, if any.
func (m *Model) Err() error { return m.err }

// Snapshot returns the last campaign state seen.
func (m *Model) Snapshot() models.Snapshot { return m.snapshot }

// View renders the UI based on the current view state.
func (m *Model) View() string {
	if m.err != nil && m.view != ResultView {
		return styles.err.Render(fmt.Sprintf("Error: %v\n\nPress q to quit", m.err))
	}

	switch m.view {
	case ContactsView:
		return m.renderContacts()
	case ComposeView:
		return m.renderCompose()
	case ConfirmView:
		return m.renderConfirm()
	case MonitorView:
		return m.renderMonitor()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

func (m *Model) helpLine() string {
	return m.help.ShortHelpView(m.keys.hints(m.view))
}

func (m *Model) renderContacts() string {
	helpView := m.helpLine()
	count := styles.help.Render(fmt.Sprintf("%d selected", len(m.selected)))
	return fmt.Sprintf("%s\n%s\n\n%s", m.contactList.View(), count, helpView)
}

func (m *Model) renderCompose() string {
	title := styles.title.Render(fmt.Sprintf("Message for %d recipients", len(m.recipients())))
	hint := styles.help.Render(fmt.Sprintf("%s is replaced with each recipient's name", models.NameMarker))
	helpView := m.helpLine()
	return fmt.Sprintf("%s\n%s\n%s\n\n%s", title, m.input.View(), hint, helpView)
}

func (m *Model) renderConfirm() string {
	n := len(m.recipients())
	title := styles.title.Render("Start campaign?")
	info := fmt.Sprintf(
		"Recipients: %d\nMessages each: %d\nTotal: %d\nInterval: %v\nMessage: %s\n",
		n, m.opts.MessagesPerRecipient, n*m.opts.MessagesPerRecipient, m.opts.Interval, m.input.Value(),
	)
	helpView := m.helpLine()
	return fmt.Sprintf("%s\n%s\n%s", title, info, helpView)
}

func (m *Model) renderMonitor() string {
	title := styles.title.Render("Sending")
	if m.snapshot.ID == "" {
		return fmt.Sprintf("%s\n\nStarting...", title)
	}

	status := fmt.Sprintf("Sent %d of %d", m.snapshot.Sent, m.snapshot.Total)
	if m.paused {
		status += styles.warn.Render(" (paused)")
	} else if m.snapshot.WaitSeconds > 0 {
		status += fmt.Sprintf(" • next in %.1fs", m.snapshot.WaitSeconds)
	}

	var lastErr string
	if m.lastErr != nil {
		lastErr = "\n" + styles.warn.Render(fmt.Sprintf("Last error: %v", m.lastErr))
	}

	var prompt string
	if m.confirmCancel {
		prompt = "\n\n" + styles.warn.Render("Cancel this campaign? (y/n)")
	}

	helpView := m.helpLine()
	return fmt.Sprintf("%s\n%s\n%s%s%s\n\n%s", title, m.bar.ViewAs(m.snapshot.Progress/100), status, lastErr, prompt, helpView)
}

func (m *Model) renderResult() string {
	helpView := m.helpLine()

	if m.err != nil {
		msg := fmt.Sprintf("Campaign stopped: %v", m.err)
		if m.snapshot.ID != "" {
			msg += fmt.Sprintf("\nSent %d of %d", m.snapshot.Sent, m.snapshot.Total)
		}
		return fmt.Sprintf("%s\n\n%s", styles.err.Render(msg), helpView)
	}

	var title string
	switch m.snapshot.State {
	case models.CampaignCancelled.String():
		title = styles.warn.Render("Campaign cancelled")
	default:
		title = styles.ok.Render("✓ Campaign complete!")
	}
	info := fmt.Sprintf("\n%s\nProgress: %.0f%%", m.snapshot.Message, m.snapshot.Progress)
	return fmt.Sprintf("%s\n%s\n\n%s", title, info, helpView)
}
