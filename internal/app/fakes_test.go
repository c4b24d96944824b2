package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/dkeye/tsstatus/internal/core"
	"github.com/dkeye/tsstatus/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fakeSession struct {
	mu          sync.Mutex
	channels    []domain.Channel
	clients     []domain.Client
	listErr     error
	registerErr error
	registered  []string
	quits       int

	onEvent func(core.VoiceEvent)
	onError func(error)
	onClose func(error)
}

func (s *fakeSession) ChannelList(context.Context) ([]domain.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]domain.Channel(nil), s.channels...), nil
}

func (s *fakeSession) ClientList(context.Context) ([]domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]domain.Client(nil), s.clients...), nil
}

func (s *fakeSession) RegisterEvent(_ context.Context, event string, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registerErr != nil {
		return s.registerErr
	}
	s.registered = append(s.registered, event)
	return nil
}

func (s *fakeSession) OnEvent(fn func(core.VoiceEvent)) {
	s.mu.Lock()
	s.onEvent = fn
	s.mu.Unlock()
}

func (s *fakeSession) OnError(fn func(error)) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

func (s *fakeSession) OnClose(fn func(error)) {
	s.mu.Lock()
	s.onClose = fn
	s.mu.Unlock()
}

func (s *fakeSession) Quit(context.Context) error {
	s.mu.Lock()
	s.quits++
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) set(channels []domain.Channel, clients []domain.Client) {
	s.mu.Lock()
	s.channels, s.clients = channels, clients
	s.mu.Unlock()
}

func (s *fakeSession) emit(ev core.VoiceEvent) {
	s.mu.Lock()
	fn := s.onEvent
	s.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (s *fakeSession) fail(err error) {
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (s *fakeSession) close(err error) {
	s.mu.Lock()
	fn := s.onClose
	s.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (s *fakeSession) quitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quits
}

// fakeDialer hands out results in order and repeats the last one.
type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	calls   int
}

type dialResult struct {
	sess *fakeSession
	err  error
}

func (d *fakeDialer) Dial(context.Context) (core.VoiceSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.calls
	if i >= len(d.results) {
		i = len(d.results) - 1
	}
	d.calls++
	r := d.results[i]
	if r.err != nil {
		return nil, r.err
	}
	return r.sess, nil
}

type editCall struct {
	channelID snowflake.ID
	messageID snowflake.ID
	content   domain.DisplayContent
}

type sendCall struct {
	channelID snowflake.ID
	msg       domain.OutgoingMessage
}

type fakeDisplay struct {
	mu       sync.Mutex
	nextID   snowflake.ID
	edits    []editCall
	sends    []sendCall
	deletes  []snowflake.ID
	renames  []string
	editErr  error
	sendErr  error
	fetchErr error
	chanErr  error
	renErr   error
}

func (d *fakeDisplay) SendMessage(_ context.Context, channelID snowflake.ID, msg domain.OutgoingMessage) (snowflake.ID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sendErr != nil && msg.Embed != nil {
		return 0, d.sendErr
	}
	d.sends = append(d.sends, sendCall{channelID: channelID, msg: msg})
	d.nextID++
	return 9000 + d.nextID, nil
}

func (d *fakeDisplay) EditMessage(_ context.Context, channelID, messageID snowflake.ID, content domain.DisplayContent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.editErr != nil {
		return d.editErr
	}
	d.edits = append(d.edits, editCall{channelID: channelID, messageID: messageID, content: content})
	return nil
}

func (d *fakeDisplay) DeleteMessage(_ context.Context, _, messageID snowflake.ID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deletes = append(d.deletes, messageID)
	return nil
}

func (d *fakeDisplay) FetchChannel(_ context.Context, channelID snowflake.ID) (domain.ChannelInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.chanErr != nil {
		return domain.ChannelInfo{}, d.chanErr
	}
	return domain.ChannelInfo{ID: channelID, Name: "count"}, nil
}

func (d *fakeDisplay) FetchMessage(context.Context, snowflake.ID, snowflake.ID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fetchErr
}

func (d *fakeDisplay) RenameChannel(_ context.Context, _ snowflake.ID, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.renErr != nil {
		return d.renErr
	}
	d.renames = append(d.renames, name)
	return nil
}

func (d *fakeDisplay) editCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.edits)
}

type memStore struct {
	mu      sync.Mutex
	ref     domain.DisplayRef
	saves   int
	saveErr error
}

func (m *memStore) Load() (domain.DisplayRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ref, nil
}

func (m *memStore) Save(ref domain.DisplayRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.ref = ref
	return nil
}

var errBoom = errors.New("boom")

// fixture channels: 1 Lobby (default), 2 spacer, 3 Gaming.
func lobbyChannels() []domain.Channel {
	return []domain.Channel{
		{ID: 1, Name: "Lobby", IsDefault: true},
		{ID: 2, Name: "spacer-1"},
		{ID: 3, Name: "Gaming"},
	}
}

type harness struct {
	app     *App
	clock   *fakeClock
	display *fakeDisplay
	store   *memStore
	session *fakeSession
}

func newHarness(cfg Config) *harness {
	h := &harness{
		clock:   newFakeClock(),
		display: &fakeDisplay{},
		store:   &memStore{},
		session: &fakeSession{
			channels: lobbyChannels(),
			clients: []domain.Client{
				{ID: 10, Nickname: "a", ChannelID: 1},
				{ID: 11, Nickname: "b", ChannelID: 3},
			},
		},
	}
	h.app = New(cfg, h.display, h.store, WithClock(h.clock))
	h.app.setSession(h.session)
	return h
}

// withDisplay installs an active display that has never been rendered.
func (h *harness) withDisplay() {
	h.app.renderMu.Lock()
	h.app.ref = domain.DisplayRef{MessageID: 500, ChannelID: 600, GuildID: 700}
	h.app.renderMu.Unlock()
}
