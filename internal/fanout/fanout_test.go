package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/queuecall/internal/counter"
	"github.com/persistorai/queuecall/internal/history"
	"github.com/persistorai/queuecall/internal/models"
	"github.com/persistorai/queuecall/internal/protocol"
	"github.com/persistorai/queuecall/internal/session"
)

type captureSink struct {
	mu     sync.Mutex
	frames []map[string]any
	full   bool
	closed bool
}

func (c *captureSink) Deliver(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.full {
		return false
	}

	var frame map[string]any
	if err := json.Unmarshal(msg, &frame); err != nil {
		panic(err)
	}

	c.frames = append(c.frames, frame)

	return true
}

func (c *captureSink) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
}

func (c *captureSink) last(t *testing.T) map[string]any {
	t.Helper()

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.frames) == 0 {
		t.Fatal("no frames delivered")
	}

	return c.frames[len(c.frames)-1]
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.frames)
}

type mockSource struct {
	listFn func(agencyID string) ([]models.Counter, error)
	getFn  func(ticketID string) (*models.Ticket, error)
}

func (m *mockSource) ListCounters(_ context.Context, agencyID string) ([]models.Counter, error) {
	return m.listFn(agencyID)
}

func (m *mockSource) GetTicket(_ context.Context, ticketID string) (*models.Ticket, error) {
	return m.getFn(ticketID)
}

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newFanout(source LobbySource) (*Fanout, *session.Registry, *history.Buffer) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	reg := session.NewRegistry()
	hist := history.NewBuffer(4)

	if source == nil {
		source = &mockSource{
			listFn: func(string) ([]models.Counter, error) { return []models.Counter{{ID: "c1", AgencyID: "a1"}}, nil },
			getFn:  func(string) (*models.Ticket, error) { return nil, models.ErrTicketNotFound },
		}
	}

	return New(reg, hist, source, log), reg, hist
}

func attach(reg *session.Registry, role session.Role, agency, counterID string) (*session.Session, *captureSink) {
	sink := &captureSink{}
	s := session.New(role, sink)
	s.AgencyID = agency
	s.CounterID = counterID
	s.ServiceIDs = []string{"s1"}
	reg.Add(s)

	return s, sink
}

func servingTicket(counterID string, number int, calledAt time.Time) *models.Ticket {
	return &models.Ticket{
		ID:          "t" + counterID,
		AgencyID:    "a1",
		ServiceID:   "s1",
		QueueNumber: number,
		Status:      models.TicketServing,
		CounterID:   counterID,
		CalledAt:    &calledAt,
	}
}

func calledChange(counterID, name string, number int, calledAt time.Time) *counter.Change {
	t := servingTicket(counterID, number, calledAt)

	return &counter.Change{
		Kind: counter.ChangeCalled,
		At:   calledAt,
		State: counter.State{
			Counter:      models.Counter{ID: counterID, AgencyID: "a1", Name: name, StaffName: "Alice"},
			Current:      t,
			ServiceName:  "Passports",
			WaitingCount: 3,
			Feedback:     counter.Feedback{Mode: protocol.ModeService, Ticket: t, ServiceName: "Passports"},
		},
	}
}

func finishedChange(counterID, name string, number int, status models.TicketStatus) *counter.Change {
	mode := protocol.ModeRating
	if status == models.TicketMissed {
		mode = protocol.ModeAdvertisement
	}

	entry := models.HistoryEntry{CounterID: counterID, CounterName: name, QueueNumber: number, Status: status, At: t0}
	done := &models.Ticket{ID: "t" + counterID, QueueNumber: number, Status: status}

	ch := &counter.Change{
		Kind:     counter.ChangeFinished,
		At:       t0,
		Finished: done,
		State: counter.State{
			Counter:       models.Counter{ID: counterID, AgencyID: "a1", Name: name, TotalServed: 1},
			History:       []models.HistoryEntry{entry},
			AgencyHistory: []models.HistoryEntry{entry},
			Feedback:      counter.Feedback{Mode: mode},
		},
	}

	if mode == protocol.ModeRating {
		ch.Feedback.Ticket = done
	}

	return ch
}

func data(t *testing.T, frame map[string]any) map[string]any {
	t.Helper()

	d, ok := frame["data"].(map[string]any)
	if !ok {
		t.Fatalf("frame has no data: %v", frame)
	}

	return d
}

func TestPublish_RoleSpecificPayloads(t *testing.T) {
	f, reg, _ := newFanout(nil)

	_, staff := attach(reg, session.RoleStaffConsole, "a1", "c1")
	_, display := attach(reg, session.RoleCounterDisplay, "a1", "c1")
	_, feedback := attach(reg, session.RoleFeedbackDisplay, "a1", "c1")
	_, elsewhere := attach(reg, session.RoleCounterDisplay, "a1", "c2")

	f.Publish(calledChange("c1", "Counter 1", 7, t0))

	sf := staff.last(t)
	if sf["status"] != "update" || sf["kind"] != "update" {
		t.Errorf("staff frame = %v", sf)
	}

	sd := data(t, sf)
	if sd["currentNumber"] != float64(7) || sd["waitingCount"] != float64(3) || sd["statusTicket"] != "Serving" {
		t.Errorf("staff data = %v", sd)
	}

	dd := data(t, display.last(t))
	if _, ok := dd["waitingCount"]; ok {
		t.Error("counter display should not receive waitingCount")
	}

	if dd["currentNumber"] != float64(7) {
		t.Errorf("display data = %v", dd)
	}

	ff := feedback.last(t)
	if ff["kind"] != "feedback" || data(t, ff)["mode"] != "service" || data(t, ff)["staffName"] != "Alice" {
		t.Errorf("feedback frame = %v", ff)
	}

	if elsewhere.count() != 0 {
		t.Error("session on another counter received the update")
	}
}

func TestPublish_FinishClearsTicketFields(t *testing.T) {
	f, reg, _ := newFanout(nil)

	_, staff := attach(reg, session.RoleStaffConsole, "a1", "c1")
	_, feedback := attach(reg, session.RoleFeedbackDisplay, "a1", "c1")

	f.Publish(finishedChange("c1", "Counter 1", 7, models.TicketDone))

	sd := data(t, staff.last(t))
	if v, ok := sd["currentNumber"]; !ok || v != nil {
		t.Errorf("currentNumber should be present and null, got %v", sd)
	}

	if sd["totalServed"] != float64(1) {
		t.Errorf("totalServed = %v", sd["totalServed"])
	}

	fd := data(t, feedback.last(t))
	if fd["mode"] != "rating" || fd["ticketId"] != "tc1" {
		t.Errorf("feedback data = %v", fd)
	}

	f.Publish(finishedChange("c1", "Counter 1", 8, models.TicketMissed))

	if got := feedback.last(t)["kind"]; got != "advertisement" {
		t.Errorf("missed feedback kind = %v, want advertisement", got)
	}
}

func TestPublish_WaitingOnlyToStaff(t *testing.T) {
	f, reg, _ := newFanout(nil)

	_, staff := attach(reg, session.RoleStaffConsole, "a1", "c1")
	_, display := attach(reg, session.RoleCounterDisplay, "a1", "c1")

	ch := calledChange("c1", "Counter 1", 1, t0)
	ch.Kind = counter.ChangeWaiting
	f.Publish(ch)

	if staff.last(t)["kind"] != "waiting" {
		t.Errorf("staff frame = %v", staff.last(t))
	}

	if display.count() != 0 {
		t.Error("display received waiting update")
	}
}

func TestPublish_SeqMonotonicPerScope(t *testing.T) {
	f, reg, _ := newFanout(nil)

	_, staff := attach(reg, session.RoleStaffConsole, "a1", "c1")

	f.Publish(calledChange("c1", "Counter 1", 1, t0))
	f.Publish(finishedChange("c1", "Counter 1", 1, models.TicketDone))
	f.Publish(calledChange("c1", "Counter 1", 2, t0))

	staff.mu.Lock()
	defer staff.mu.Unlock()

	var prev float64
	for i, fr := range staff.frames {
		seq, _ := fr["seq"].(float64)
		if seq <= prev {
			t.Errorf("frame %d seq %v not above %v", i, seq, prev)
		}

		prev = seq
	}
}

func TestLobby_HeadlineIsLatestStillServing(t *testing.T) {
	f, reg, _ := newFanout(nil)

	_, lobby := attach(reg, session.RoleLobbyDisplay, "a1", "")

	f.Publish(calledChange("c1", "Counter 1", 5, t0))
	f.Publish(calledChange("c2", "Counter 2", 9, t0.Add(time.Minute)))

	ld := data(t, lobby.last(t))
	if ld["counterName"] != "Counter 2" || ld["currentNumber"] != float64(9) {
		t.Fatalf("headline = %v/%v, want Counter 2/9", ld["counterName"], ld["currentNumber"])
	}

	if a, _ := ld["announce"].(map[string]any); a == nil || a["currentNumber"] != float64(9) {
		t.Errorf("announce = %v", ld["announce"])
	}

	f.Publish(finishedChange("c2", "Counter 2", 9, models.TicketDone))

	fr := lobby.last(t)
	if fr["kind"] != "history" {
		t.Errorf("lobby kind after finish = %v", fr["kind"])
	}

	if d := data(t, fr); d["counterName"] != "Counter 1" || d["currentNumber"] != float64(5) {
		t.Errorf("headline should fall back to Counter 1, got %v/%v", d["counterName"], d["currentNumber"])
	}

	f.Publish(finishedChange("c1", "Counter 1", 5, models.TicketMissed))

	d := data(t, lobby.last(t))
	for _, key := range []string{"counterId", "counterName", "currentNumber", "calledAt"} {
		if v, ok := d[key]; !ok || v != nil {
			t.Errorf("%s = %v (present %v), want null with nothing serving", key, v, ok)
		}
	}
}

func TestJoinLobby_IdleSnapshotHasNullNumber(t *testing.T) {
	source := &mockSource{
		listFn: func(string) ([]models.Counter, error) {
			return []models.Counter{{ID: "c1", AgencyID: "a1", Name: "Counter 1"}}, nil
		},
	}

	f, _, _ := newFanout(source)

	sink := &captureSink{}
	s := session.New(session.RoleLobbyDisplay, sink)
	s.AgencyID = "a1"

	if err := f.JoinLobby(context.Background(), s, "r1"); err != nil {
		t.Fatalf("JoinLobby: %v", err)
	}

	d := data(t, sink.last(t))
	if v, ok := d["currentNumber"]; !ok || v != nil {
		t.Errorf("currentNumber = %v (present %v), want null", v, ok)
	}
}

func TestLobby_HistoryReadFromBuffer(t *testing.T) {
	f, reg, hist := newFanout(nil)

	_, lobby := attach(reg, session.RoleLobbyDisplay, "a1", "")

	hist.Record("a1", models.HistoryEntry{CounterID: "c2", QueueNumber: 3, Status: models.TicketDone})
	hist.Record("a1", models.HistoryEntry{CounterID: "c1", QueueNumber: 5, Status: models.TicketMissed})

	ch := finishedChange("c1", "Counter 1", 5, models.TicketMissed)
	ch.AgencyHistory = nil
	f.Publish(ch)

	if h, _ := data(t, lobby.last(t))["history"].([]any); len(h) != 2 {
		t.Errorf("lobby history = %v, want both recorded entries", h)
	}
}

func TestJoinLobby_SeedsFromStore(t *testing.T) {
	calledAt := t0.Add(-time.Minute)

	source := &mockSource{
		listFn: func(string) ([]models.Counter, error) {
			return []models.Counter{
				{ID: "c1", AgencyID: "a1", Name: "Counter 1", CurrentTicketID: "tc1"},
				{ID: "c2", AgencyID: "a1", Name: "Counter 2"},
			}, nil
		},
		getFn: func(id string) (*models.Ticket, error) {
			return servingTicket("c1", 4, calledAt), nil
		},
	}

	f, reg, hist := newFanout(source)
	hist.Record("a1", models.HistoryEntry{CounterID: "c2", QueueNumber: 3, Status: models.TicketDone})

	sink := &captureSink{}
	s := session.New(session.RoleLobbyDisplay, sink)
	s.AgencyID = "a1"

	if err := f.JoinLobby(context.Background(), s, "r1"); err != nil {
		t.Fatalf("JoinLobby: %v", err)
	}

	fr := sink.last(t)
	if fr["kind"] != "snapshot" || fr["ref"] != "r1" {
		t.Errorf("snapshot frame = %v", fr)
	}

	d := data(t, fr)
	if d["currentNumber"] != float64(4) || d["counterName"] != "Counter 1" {
		t.Errorf("seeded headline = %v/%v", d["counterName"], d["currentNumber"])
	}

	if h, _ := d["history"].([]any); len(h) != 1 {
		t.Errorf("history = %v", d["history"])
	}

	if len(reg.Lobby("a1")) != 1 {
		t.Error("lobby session not registered")
	}
}

func TestJoinLobby_Errors(t *testing.T) {
	source := &mockSource{
		listFn: func(string) ([]models.Counter, error) { return nil, nil },
		getFn:  func(string) (*models.Ticket, error) { return nil, models.ErrTicketNotFound },
	}

	f, _, _ := newFanout(source)

	s := session.New(session.RoleLobbyDisplay, &captureSink{})
	if err := f.JoinLobby(context.Background(), s, ""); !errors.Is(err, models.ErrMissingAgencyID) {
		t.Errorf("missing agency err = %v", err)
	}

	s.AgencyID = "nowhere"
	if err := f.JoinLobby(context.Background(), s, ""); !errors.Is(err, models.ErrAgencyNotFound) {
		t.Errorf("unknown agency err = %v", err)
	}
}

func TestSnapshot_CarriesRefAndRoleView(t *testing.T) {
	f, _, _ := newFanout(nil)

	sink := &captureSink{}
	s := session.New(session.RoleStaffConsole, sink)
	s.ServiceIDs = []string{"s1", "s2"}

	st := calledChange("c1", "Counter 1", 3, t0).State
	f.Snapshot(s, &st, "join-1")

	fr := sink.last(t)
	if fr["kind"] != "snapshot" || fr["ref"] != "join-1" || fr["status"] != "update" {
		t.Errorf("snapshot frame = %v", fr)
	}

	if ids, _ := data(t, fr)["serviceIds"].([]any); len(ids) != 2 {
		t.Errorf("serviceIds = %v", data(t, fr)["serviceIds"])
	}
}

func TestLogout_DeliversAndCloses(t *testing.T) {
	f, _, _ := newFanout(nil)

	sink := &captureSink{}
	s := session.New(session.RoleStaffConsole, sink)

	f.Logout(s, "token expired")

	fr := sink.last(t)
	if fr["status"] != "logout" || fr["message"] != "token expired" {
		t.Errorf("logout frame = %v", fr)
	}

	if !sink.closed {
		t.Error("sink not closed")
	}
}

func TestPublish_SlowSessionDoesNotBlockOthers(t *testing.T) {
	f, reg, _ := newFanout(nil)

	_, slow := attach(reg, session.RoleCounterDisplay, "a1", "c1")
	slow.full = true

	_, fast := attach(reg, session.RoleCounterDisplay, "a1", "c1")

	f.Publish(calledChange("c1", "Counter 1", 1, t0))

	if fast.count() != 1 {
		t.Errorf("fast session got %d frames, want 1", fast.count())
	}
}

type recordingRelay struct {
	sent []*counter.Change
}

func (r *recordingRelay) Send(ch *counter.Change) { r.sent = append(r.sent, ch) }

func TestRelay_PublishForwardsApplyRemoteDoesNot(t *testing.T) {
	f, reg, _ := newFanout(nil)
	rel := &recordingRelay{}
	f.SetRelay(rel)

	_, display := attach(reg, session.RoleCounterDisplay, "a1", "c1")

	f.Publish(calledChange("c1", "Counter 1", 1, t0))
	f.ApplyRemote(calledChange("c1", "Counter 1", 1, t0))

	if len(rel.sent) != 1 {
		t.Errorf("relay sent %d changes, want 1", len(rel.sent))
	}

	if display.count() != 2 {
		t.Errorf("display got %d frames, want 2", display.count())
	}
}
