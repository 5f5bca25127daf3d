// Package tui is the interactive console of the cluster OS double: it shows
// the UI the cluster home reports and sends switch and cycle requests from
// the keyboard.
package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/1broseidon/clusterhome/internal/clusterstate"
	"github.com/1broseidon/clusterhome/internal/vhal"
)

const maxEvents = 6

// Controller is the cluster OS double driven by the console.
type Controller interface {
	Current() int
	Apply(r clusterstate.Report) (vhal.ReportState, bool)
	SwitchUI(ctx context.Context, mainUI int) error
	Cycle(ctx context.Context) error
}

// UI names one cluster UI slot.
type UI struct {
	Name      string
	Component string
}

// uiItem implements list.Item for the UI picker.
type uiItem struct {
	index     int
	ui        UI
	available bool
	shown     bool
}

func (i uiItem) Title() string {
	prefix := "  "
	if i.shown {
		prefix = "* "
	}
	suffix := ""
	if !i.available {
		suffix = " (unavailable)"
	}
	return fmt.Sprintf("%s%d %s%s", prefix, i.index, i.ui.Name, suffix)
}

func (i uiItem) Description() string { return i.ui.Component }
func (i uiItem) FilterValue() string { return i.ui.Name }

// reportMsg carries an accepted CLUSTER_REPORT_STATE.
type reportMsg struct {
	seq   uint64
	state vhal.ReportState
}

// ignoredReportMsg is sent for reports the double rejected.
type ignoredReportMsg struct {
	seq uint64
}

// streamClosedMsg is sent when the daemon stops streaming reports.
type streamClosedMsg struct{}

// requestMsg is sent after a switch or cycle request completes.
type requestMsg struct {
	text string
	err  error
}

// clearStatusMsg clears the status line after a delay.
type clearStatusMsg struct{}

type model struct {
	ctx     context.Context
	ctrl    Controller
	reports <-chan clusterstate.Report
	uis     []UI

	list       list.Model
	last       vhal.ReportState
	haveReport bool
	connected  bool
	ignored    int
	events     []string
	statusText string

	width  int
	height int
}

func newModel(ctx context.Context, ctrl Controller, reports <-chan clusterstate.Report, uis []UI) model {
	delegate := list.NewDefaultDelegate()
	delegate.SetSpacing(0)

	l := list.New(nil, delegate, 0, 0)
	l.Title = "Cluster UIs"
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.DisableQuitKeybindings()

	m := model{
		ctx:       ctx,
		ctrl:      ctrl,
		reports:   reports,
		uis:       uis,
		list:      l,
		connected: true,
	}
	m.rebuildItems()
	return m
}

func (m *model) rebuildItems() {
	items := make([]list.Item, 0, len(m.uis))
	for i, ui := range m.uis {
		available := true
		if m.haveReport {
			available = i < len(m.last.Availability) && m.last.Availability[i] != 0
		}
		items = append(items, uiItem{
			index:     i,
			ui:        ui,
			available: available,
			shown:     m.haveReport && m.last.MainUI == i,
		})
	}
	m.list.SetItems(items)
}

func (m *model) addEvent(text string) {
	line := time.Now().Format("15:04:05") + "  " + text
	m.events = append(m.events, line)
	if len(m.events) > maxEvents {
		m.events = m.events[len(m.events)-maxEvents:]
	}
}

func (m model) uiName(i int) string {
	if i >= 0 && i < len(m.uis) {
		return m.uis[i].Name
	}
	return "?"
}

// waitForReport reads the next report and hands it to the double.
func (m model) waitForReport() tea.Cmd {
	reports, ctrl := m.reports, m.ctrl
	return func() tea.Msg {
		r, ok := <-reports
		if !ok {
			return streamClosedMsg{}
		}
		state, accepted := ctrl.Apply(r)
		if !accepted {
			return ignoredReportMsg{seq: r.Seq}
		}
		return reportMsg{seq: r.Seq, state: state}
	}
}

func (m model) switchTo(ui int) tea.Cmd {
	ctx, ctrl, name := m.ctx, m.ctrl, m.uiName(ui)
	return func() tea.Msg {
		err := ctrl.SwitchUI(ctx, ui)
		return requestMsg{text: fmt.Sprintf("requested %d (%s)", ui, name), err: err}
	}
}

func (m model) cycle() tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	next := (ctrl.Current() + 1) % len(m.uis)
	name := m.uiName(next)
	return func() tea.Msg {
		err := ctrl.Cycle(ctx)
		return requestMsg{text: fmt.Sprintf("cycled to %d (%s)", next, name), err: err}
	}
}

func clearStatusLater() tea.Cmd {
	return tea.Tick(3*time.Second, func(time.Time) tea.Msg {
		return clearStatusMsg{}
	})
}

// Init implements tea.Model.
func (m model) Init() tea.Cmd {
	return m.waitForReport()
}

// Update implements tea.Model.
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		listHeight := m.height - maxEvents - 6
		if listHeight < 3 {
			listHeight = 3
		}
		m.list.SetSize(m.width, listHeight)
		return m, nil

	case reportMsg:
		m.last = msg.state
		m.haveReport = true
		m.rebuildItems()
		m.list.Select(msg.state.MainUI)
		m.addEvent(fmt.Sprintf("report #%d: main_ui=%d (%s)", msg.seq, msg.state.MainUI, m.uiName(msg.state.MainUI)))
		return m, m.waitForReport()

	case ignoredReportMsg:
		m.ignored++
		m.addEvent(fmt.Sprintf("report #%d ignored", msg.seq))
		return m, m.waitForReport()

	case streamClosedMsg:
		m.connected = false
		m.addEvent("report stream closed")
		return m, nil

	case requestMsg:
		if msg.err != nil {
			m.statusText = fmt.Sprintf("error: %v", msg.err)
		} else {
			m.statusText = msg.text
		}
		m.addEvent(m.statusText)
		return m, clearStatusLater()

	case clearStatusMsg:
		m.statusText = ""
		return m, nil

	case tea.KeyMsg:
		switch key := msg.String(); key {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "m", "tab":
			if len(m.uis) == 0 {
				return m, nil
			}
			return m, m.cycle()
		case "enter":
			item, ok := m.list.SelectedItem().(uiItem)
			if !ok {
				return m, nil
			}
			return m, m.switchTo(item.index)
		case "0", "1", "2", "3", "4", "5", "6", "7", "8", "9":
			ui := int(key[0] - '0')
			if ui >= len(m.uis) {
				m.statusText = fmt.Sprintf("no ui %d", ui)
				return m, clearStatusLater()
			}
			return m, m.switchTo(ui)
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m model) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		renderStatusBar(m.connected, m.haveReport, m.last.MainUI, m.uiName(m.last.MainUI), m.ignored, m.width),
		m.list.View(),
		renderEvents(m.events, m.width),
		renderStatusLine(m.statusText, m.width),
		renderHelpBar(m.width),
	)
}

// Run shows the console until the user quits or ctx is done.
func Run(ctx context.Context, ctrl Controller, reports <-chan clusterstate.Report, uis []UI) error {
	if len(uis) == 0 {
		return fmt.Errorf("tui: no cluster uis configured")
	}
	p := tea.NewProgram(newModel(ctx, ctrl, reports, uis), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	return nil
}
