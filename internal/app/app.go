package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/tsstatus/internal/core"
	"github.com/dkeye/tsstatus/internal/domain"
)

// Config is the runtime configuration of the synchronization engine.
type Config struct {
	StatusFilter        FilterPolicy
	CountExcludeDefault bool
	Formatter           Formatter

	Tick                 time.Duration
	UpdateInterval       time.Duration
	ForceRefreshInterval time.Duration
	MinEditSpacing       time.Duration

	CountChannelID snowflake.ID
	CountInterval  time.Duration
	CountTemplate  string
	RenameLimit    int
	RenameWindow   time.Duration
	RenameSpacing  time.Duration

	ReconnectDelay      time.Duration
	ConnectFailureDelay time.Duration

	CreateKeyword string

	// CallTimeout bounds each call to the messaging platform.
	CallTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		StatusFilter:         FilterPolicy{IgnorePatterns: DefaultIgnorePatterns, ExcludeDefault: true},
		CountExcludeDefault:  true,
		Formatter:            Formatter{Title: "TS Status", Color: 0xFF69B4, MaxNameLen: 15},
		Tick:                 5 * time.Second,
		UpdateInterval:       10 * time.Second,
		ForceRefreshInterval: 180 * time.Second,
		MinEditSpacing:       5 * time.Second,
		CountInterval:        60 * time.Second,
		CountTemplate:        "TeamSpeak: %COUNT%📞",
		RenameLimit:          2,
		RenameWindow:         10 * time.Minute,
		RenameSpacing:        61 * time.Second,
		ReconnectDelay:       5 * time.Second,
		ConnectFailureDelay:  30 * time.Second,
		CreateKeyword:        "create",
		CallTimeout:          15 * time.Second,
	}
}

// CountLabelState lives in memory only.
type CountLabelState struct {
	LastCount int
	Known     bool
	Renames   *RenameGuard
}

// App is the explicitly owned context shared by every component: the
// display reference, the count-label state, the connection state and the
// handles to both external systems.
type App struct {
	cfg     Config
	clock   Clock
	display core.DisplayClient
	store   core.DisplayStore
	pub     core.OccupancyPublisher

	connMu  sync.RWMutex
	session core.VoiceSession
	conn    domain.ConnectionState
	// fault reports a transport-fatal query error to the session's owner.
	fault func(error)

	// dirty is set by voice notifications and drained by the scheduler tick.
	dirty  atomic.Bool
	closed atomic.Bool
	botID  atomic.Int64

	// renderMu is the single-flight lock around every display edit and
	// every DisplayRef mutation.
	renderMu     sync.Mutex
	ref          domain.DisplayRef
	edits        *EditGuard
	lastSnapshot *domain.OccupancySnapshot

	countMu      sync.Mutex
	countChannel snowflake.ID
	count        CountLabelState
}

type Option func(*App)

func WithClock(c Clock) Option { return func(a *App) { a.clock = c } }

func WithPublisher(p core.OccupancyPublisher) Option { return func(a *App) { a.pub = p } }

func New(cfg Config, display core.DisplayClient, store core.DisplayStore, opts ...Option) *App {
	a := &App{
		cfg:          cfg,
		clock:        SystemClock,
		display:      display,
		store:        store,
		edits:        NewEditGuard(cfg.MinEditSpacing),
		countChannel: cfg.CountChannelID,
		count: CountLabelState{
			Renames: NewRenameGuard(cfg.RenameLimit, cfg.RenameWindow, cfg.RenameSpacing),
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Load restores the display reference persisted by a previous run.
// A missing record is a first run, not an error.
func (a *App) Load() error {
	ref, err := a.store.Load()
	if err != nil {
		return err
	}
	a.renderMu.Lock()
	defer a.renderMu.Unlock()
	if !ref.Active() {
		ref = domain.DisplayRef{}
	}
	a.ref = ref
	if ref.Active() {
		log.Info().Str("module", "app").
			Str("message_id", ref.MessageID.String()).
			Str("channel_id", ref.ChannelID.String()).
			Msg("restored display reference")
	}
	return nil
}

// Close stops all further persistence. Called once shutdown begins.
func (a *App) Close() {
	a.closed.Store(true)
}

func (a *App) Session() core.VoiceSession {
	a.connMu.RLock()
	defer a.connMu.RUnlock()
	return a.session
}

func (a *App) setSession(s core.VoiceSession) {
	a.bindSession(s, nil)
}

func (a *App) bindSession(s core.VoiceSession, fault func(error)) {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	a.session = s
	a.fault = fault
}

// queryOccupancy reads the current session. A transport-fatal failure is
// handed to the session's owner so the session gets replaced.
func (a *App) queryOccupancy(ctx context.Context) ([]domain.Channel, []domain.Client, error) {
	a.connMu.RLock()
	sess, fault := a.session, a.fault
	a.connMu.RUnlock()

	channels, clients, err := fetchOccupancy(ctx, sess)
	if err != nil && fault != nil && IsTransportFatal(err) {
		fault(err)
	}
	return channels, clients, err
}

func (a *App) ConnectionState() domain.ConnectionState {
	a.connMu.RLock()
	defer a.connMu.RUnlock()
	return a.conn
}

func (a *App) setConnectionState(s domain.ConnectionState) {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	a.conn = s
}

// MarkDirty asks the next eligible tick to re-evaluate the display.
func (a *App) MarkDirty() {
	a.dirty.Store(true)
}

func (a *App) Dirty() bool {
	return a.dirty.Load()
}

func (a *App) DisplayRef() domain.DisplayRef {
	a.renderMu.Lock()
	defer a.renderMu.Unlock()
	return a.ref
}

func (a *App) BotID() snowflake.ID {
	return snowflake.ID(a.botID.Load())
}

func (a *App) setBotID(id snowflake.ID) {
	a.botID.Store(int64(id))
}

func (a *App) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.cfg.CallTimeout)
}

// persistLocked writes the display reference. Failures are logged only: the
// next successful render retries the write. Requires renderMu.
func (a *App) persistLocked() {
	if a.closed.Load() {
		return
	}
	if err := a.store.Save(a.ref); err != nil {
		log.Error().Err(err).Str("module", "app").Msg("display reference not persisted")
	}
}

// clearDisplayLocked forgets the display until a new one is created by
// command. Requires renderMu.
func (a *App) clearDisplayLocked(reason error) {
	log.Warn().Err(reason).Str("module", "app").
		Str("message_id", a.ref.MessageID.String()).
		Msg("display gone, stopping updates")
	a.ref = domain.DisplayRef{}
	a.lastSnapshot = nil
	a.persistLocked()
}

func (a *App) publishSnapshot(snap domain.OccupancySnapshot, at time.Time) {
	if a.pub == nil {
		return
	}
	if err := a.pub.PublishSnapshot(snap, at); err != nil {
		log.Warn().Err(err).Str("module", "app").Msg("snapshot publish failed")
	}
}

func (a *App) publishCount(count int, at time.Time) {
	if a.pub == nil {
		return
	}
	if err := a.pub.PublishCount(count, at); err != nil {
		log.Warn().Err(err).Str("module", "app").Msg("count publish failed")
	}
}

// Status implements core.StatusProvider.
func (a *App) Status() core.StatusReport {
	rep := core.StatusReport{
		Connection:   a.ConnectionState().String(),
		PendingDirty: a.Dirty(),
	}

	a.renderMu.Lock()
	rep.Display = a.ref
	rep.LastEditAt = a.edits.Last()
	if a.lastSnapshot != nil {
		snap := *a.lastSnapshot
		rep.Snapshot = &snap
	}
	a.renderMu.Unlock()

	a.countMu.Lock()
	if a.count.Known {
		n := a.count.LastCount
		rep.LastCount = &n
	}
	a.countMu.Unlock()
	return rep
}
