package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/1broseidon/clusterhome/internal/clusterstate"
	"github.com/1broseidon/clusterhome/internal/osdouble"
	"github.com/1broseidon/clusterhome/internal/vhal"
)

var _ Controller = (*osdouble.Double)(nil)

type fakeController struct {
	current  int
	switched []int
	cycles   int
	err      error
}

func (f *fakeController) Current() int { return f.current }

func (f *fakeController) Apply(r clusterstate.Report) (vhal.ReportState, bool) {
	state, err := vhal.DecodeReportState(r.Values, r.Availability)
	if err != nil {
		return vhal.ReportState{}, false
	}
	f.current = state.MainUI
	return state, true
}

func (f *fakeController) SwitchUI(_ context.Context, mainUI int) error {
	f.switched = append(f.switched, mainUI)
	return f.err
}

func (f *fakeController) Cycle(context.Context) error {
	f.cycles++
	return f.err
}

var testUIs = []UI{
	{Name: "home", Component: "com.example/.Home"},
	{Name: "maps", Component: "com.example/.Maps"},
	{Name: "music", Component: "com.example/.Music"},
}

func newTestModel(ctrl Controller, reports chan clusterstate.Report) model {
	m := newModel(context.Background(), ctrl, reports, testUIs)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(model)
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestDigitKeySwitches(t *testing.T) {
	ctrl := &fakeController{}
	m := newTestModel(ctrl, nil)

	_, cmd := m.Update(runes("2"))
	if cmd == nil {
		t.Fatal("expected a command for key 2")
	}
	msg, ok := cmd().(requestMsg)
	if !ok {
		t.Fatalf("command returned %T, want requestMsg", cmd())
	}
	if len(ctrl.switched) != 1 || ctrl.switched[0] != 2 {
		t.Errorf("switched = %v, want [2]", ctrl.switched)
	}
	if !strings.Contains(msg.text, "music") {
		t.Errorf("request text = %q, want it to name the ui", msg.text)
	}
}

func TestDigitKeyOutOfRange(t *testing.T) {
	ctrl := &fakeController{}
	m := newTestModel(ctrl, nil)

	next, _ := m.Update(runes("7"))
	if len(ctrl.switched) != 0 {
		t.Errorf("switched = %v, want none", ctrl.switched)
	}
	if got := next.(model).statusText; got != "no ui 7" {
		t.Errorf("statusText = %q", got)
	}
}

func TestCycleKey(t *testing.T) {
	ctrl := &fakeController{current: 2}
	m := newTestModel(ctrl, nil)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	if cmd == nil {
		t.Fatal("expected a command for tab")
	}
	msg := cmd().(requestMsg)
	if ctrl.cycles != 1 {
		t.Errorf("cycles = %d, want 1", ctrl.cycles)
	}
	if !strings.Contains(msg.text, "cycled to 0 (home)") {
		t.Errorf("request text = %q, want wrap to home", msg.text)
	}
}

func TestRequestErrorShown(t *testing.T) {
	m := newTestModel(&fakeController{}, nil)
	next, cmd := m.Update(requestMsg{text: "requested 1 (maps)", err: errors.New("daemon not running")})
	if cmd == nil {
		t.Error("expected a clear-status tick")
	}
	got := next.(model)
	if got.statusText != "error: daemon not running" {
		t.Errorf("statusText = %q", got.statusText)
	}
	next, _ = got.Update(clearStatusMsg{})
	if next.(model).statusText != "" {
		t.Error("status not cleared")
	}
}

func TestReportUpdatesView(t *testing.T) {
	ctrl := &fakeController{}
	reports := make(chan clusterstate.Report, 2)
	m := newTestModel(ctrl, reports)

	values, avail := vhal.EncodeReportState(vhal.ReportState{
		MainUI:       1,
		SubUI:        -1,
		Availability: []byte{1, 1, 0},
	})
	reports <- clusterstate.Report{Seq: 4, Values: values, Availability: avail}

	msg := m.Init()()
	rm, ok := msg.(reportMsg)
	if !ok {
		t.Fatalf("Init command returned %T, want reportMsg", msg)
	}
	next, cmd := m.Update(rm)
	if cmd == nil {
		t.Error("expected to keep waiting for reports")
	}
	got := next.(model)
	if !got.haveReport || got.last.MainUI != 1 {
		t.Fatalf("last = %+v, haveReport = %v", got.last, got.haveReport)
	}
	item := got.list.SelectedItem().(uiItem)
	if item.index != 1 || !item.shown {
		t.Errorf("selected item = %+v, want shown maps", item)
	}

	view := got.View()
	for _, want := range []string{"cluster shows", "maps", "report #4", "music (unavailable)"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}

	close(reports)
	if _, ok := got.waitForReport()().(streamClosedMsg); !ok {
		t.Error("closed stream should yield streamClosedMsg")
	}
}

func TestQuitKey(t *testing.T) {
	m := newTestModel(&fakeController{}, nil)
	_, cmd := m.Update(runes("q"))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}
