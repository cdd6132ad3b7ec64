package directory

import (
	"context"
	"encoding/json"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophdirectory/internal/auth"
	"github.com/dmitrijs2005/gophdirectory/internal/clock"
	"github.com/dmitrijs2005/gophdirectory/internal/common"
	"github.com/dmitrijs2005/gophdirectory/internal/logging"
	"github.com/dmitrijs2005/gophdirectory/internal/models"
	"github.com/dmitrijs2005/gophdirectory/internal/pipeline"
	"github.com/stretchr/testify/require"
)

const (
	testDomain = "example.com"
	selfID     = int64(1)
)

var testStart = time.UnixMilli(1_700_000_000_000)

type handlerFunc func(ctx context.Context, payload json.RawMessage) (*pipeline.Response, error)

// fakePipeline answers requests from per-action handlers and records every
// call. Actions without a handler answer with a not-found code.
type fakePipeline struct {
	pipeline.Handlers

	mu       sync.Mutex
	handlers map[string]handlerFunc
	calls    []string
	payloads map[string][]json.RawMessage
	seq      int
	lastSN   string
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{
		handlers: make(map[string]handlerFunc),
		payloads: make(map[string][]json.RawMessage),
	}
}

func (f *fakePipeline) handle(action string, h handlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[action] = h
}

// reply registers a handler that always answers with data.
func (f *fakePipeline) reply(action string, data any) {
	f.handle(action, func(context.Context, json.RawMessage) (*pipeline.Response, error) {
		return ok(data), nil
	})
}

func (f *fakePipeline) Send(ctx context.Context, action string, payload any) (*pipeline.Response, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.seq++
	sn := "sn-" + strconv.Itoa(f.seq)
	if v, ok := pipeline.SNFromContext(ctx); ok {
		sn = v
	}
	f.lastSN = sn
	f.calls = append(f.calls, action)
	f.payloads[action] = append(f.payloads[action], raw)
	h := f.handlers[action]
	f.mu.Unlock()

	if h == nil {
		return &pipeline.Response{SN: sn, Action: action, StateCode: common.StateOK, Code: common.WireNotFound}, nil
	}
	resp, err := h(ctx, raw)
	if resp != nil {
		resp.SN = sn
		resp.Action = action
	}
	return resp, err
}

func (f *fakePipeline) count(action string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.calls {
		if a == action {
			n++
		}
	}
	return n
}

func (f *fakePipeline) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakePipeline) lastPayload(action string) json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.payloads[action]
	if len(p) == 0 {
		return nil
	}
	return p[len(p)-1]
}

// sn returns the serial number of the last request.
func (f *fakePipeline) sn() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSN
}

// push delivers an unsolicited packet to subscribers.
func (f *fakePipeline) push(action, sn string, data any) {
	resp := ok(data)
	resp.SN = sn
	resp.Action = action
	f.Dispatch(context.Background(), resp)
}

func ok(data any) *pipeline.Response {
	resp := &pipeline.Response{StateCode: common.StateOK, Code: common.WireOk}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			panic(err)
		}
		resp.Data = raw
	}
	return resp
}

func failed(code int) *pipeline.Response {
	return &pipeline.Response{StateCode: common.StateOK, Code: code}
}

// fakeStore keeps copies of written entities in maps.
type fakeStore struct {
	mu       sync.Mutex
	contacts map[int64]models.Contact
	groups   map[int64]models.Group
	reads    int
	writes   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		contacts: make(map[int64]models.Contact),
		groups:   make(map[int64]models.Group),
	}
}

func (s *fakeStore) ReadContact(_ context.Context, id int64) (*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	c, ok := s.contacts[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *fakeStore) WriteContact(_ context.Context, c *models.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	s.contacts[c.ID] = *c
	return nil
}

func (s *fakeStore) ReadGroup(_ context.Context, id int64) (*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	g, ok := s.groups[id]
	if !ok {
		return nil, nil
	}
	g.MemberIDs = slices.Clone(g.MemberIDs)
	return &g, nil
}

func (s *fakeStore) WriteGroup(_ context.Context, g *models.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	cp := *g
	cp.MemberIDs = slices.Clone(g.MemberIDs)
	s.groups[g.ID] = cp
	return nil
}

func (s *fakeStore) ReadGroups(_ context.Context, begin, end time.Time, states []models.GroupState) ([]*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Group
	for _, g := range s.groups {
		if !begin.IsZero() && g.LastActiveTime.Before(begin) {
			continue
		}
		if !end.IsZero() && !g.LastActiveTime.Before(end) {
			continue
		}
		if len(states) > 0 && !slices.Contains(states, g.State) {
			continue
		}
		cp := g
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *models.Group) int {
		return b.LastActiveTime.Compare(a.LastActiveTime)
	})
	return out, nil
}

func (s *fakeStore) group(id int64) (models.Group, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	return g, ok
}

type harness struct {
	engine *Engine
	pipe   *fakePipeline
	store  *fakeStore
	clock  *clock.FakeClock
	events *eventLog
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		pipe:   newFakePipeline(),
		store:  newFakeStore(),
		clock:  clock.Fake(testStart),
		events: &eventLog{},
	}
	h.engine = New(h.pipe, h.store, Options{
		Config: Config{
			Domain:          testDomain,
			InspectInterval: time.Hour,
		},
		Clock:  h.clock,
		Logger: logging.Discard(),
	})
	h.engine.Start(context.Background())
	h.engine.Subscribe(h.events.record)
	t.Cleanup(func() { _ = h.engine.Close() })
	return h
}

// settle waits for background durable writes.
func (h *harness) settle() {
	h.engine.pending.Wait()
}

// readyHandlers answers the four sign-in sub-fetches with empty results.
func (h *harness) readyHandlers() {
	h.pipe.reply(pipeline.ActionSignIn, nil)
	h.pipe.reply(pipeline.ActionListGroups, listGroupsPage{Groups: []*models.Group{}})
	h.pipe.reply(pipeline.ActionBlockList, listResponse{List: []int64{}})
	h.pipe.reply(pipeline.ActionTopList, listResponse{List: []int64{}})
	h.pipe.handle(pipeline.ActionGetAppendix, appendixHandler)
}

func (h *harness) signIn(t *testing.T) *models.Self {
	t.Helper()
	h.readyHandlers()

	token, err := auth.GenerateToken(selfID, "alice", testDomain, []byte("secret"), time.Hour)
	require.NoError(t, err)

	self, err := h.engine.SignIn(context.Background(), token)
	require.NoError(t, err)
	return self
}

// appendixHandler answers GetAppendix with an empty appendix of the asked kind.
func appendixHandler(_ context.Context, payload json.RawMessage) (*pipeline.Response, error) {
	var req appendixRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	if req.GroupID != nil {
		return ok(map[string]any{"groupId": *req.GroupID, "notice": ""}), nil
	}
	return ok(map[string]any{"contactId": *req.ContactID, "remarkName": ""}), nil
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) of(kind EventKind) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func contactJSON(id int64, name string) map[string]any {
	return map[string]any{
		"id":        id,
		"name":      name,
		"domain":    testDomain,
		"timestamp": testStart.UnixMilli(),
	}
}

func groupJSON(id, owner int64, members ...int64) map[string]any {
	return map[string]any{
		"id":         id,
		"name":       "group-" + strconv.FormatInt(id, 10),
		"domain":     testDomain,
		"owner":      contactJSON(owner, "owner"),
		"creation":   testStart.UnixMilli(),
		"lastActive": testStart.UnixMilli(),
		"state":      int(models.GroupStateNormal),
		"members":    members,
	}
}

func bundleJSON(group map[string]any, operator int64, modified ...int64) map[string]any {
	mods := make([]map[string]any, 0, len(modified))
	for _, id := range modified {
		mods = append(mods, contactJSON(id, "member"))
	}
	return map[string]any{
		"group":    group,
		"modified": mods,
		"operator": contactJSON(operator, "operator"),
	}
}

func localGroup(id, owner int64, members ...int64) *models.Group {
	g := &models.Group{
		Owner:     models.NewContact(owner, "owner", testDomain, testStart),
		Name:      "local",
		Domain:    testDomain,
		MemberIDs: members,
	}
	g.ID = id
	g.Touch(testStart, models.DefaultLifespan)
	return g
}
