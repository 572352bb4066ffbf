// Package fleet runs one polling loop per registered chat bot and fans every
// inbound event out to a per-chat worker.
package fleet

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/zulandar/botyard/internal/metrics"
	"github.com/zulandar/botyard/internal/models"
	"github.com/zulandar/botyard/internal/telegraph"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	// DefaultIdleTimeout is how long a chat worker waits for another event
	// before exiting.
	DefaultIdleTimeout = 5 * time.Minute
	// chatBacklog bounds the events queued for one chat.
	chatBacklog = 256
	// startConcurrency bounds parallel Connect calls during restore.
	startConcurrency = 8
)

var (
	// ErrInvalidCredential is returned when the platform rejects a bot token.
	ErrInvalidCredential = telegraph.ErrInvalidCredential
	// ErrDuplicateUsername is returned when a bot with the same username is
	// already registered.
	ErrDuplicateUsername = telegraph.ErrDuplicateUsername
	// ErrNotFound is returned by Bot for unknown ids.
	ErrNotFound = errors.New("fleet: bot not found")
)

// Handler processes one event for one bot. Returned errors are logged; they
// never stop the loop.
type Handler interface {
	Handle(ctx context.Context, bc telegraph.BotContext, ev telegraph.Event) error
}

// AdapterFactory builds an unconnected Adapter for a bot token.
type AdapterFactory func(token string) (telegraph.Adapter, error)

// Manager owns every running bot loop.
type Manager struct {
	db        *gorm.DB
	platform  string
	factories map[string]AdapterFactory
	idle      time.Duration
	log       zerolog.Logger

	handler atomic.Pointer[handlerBox]

	base     context.Context
	stopAll  context.CancelFunc
	loops    sync.WaitGroup
	mu       sync.Mutex
	handles  map[uint]*handle
	primary  *handle
	shutdown bool
}

type handlerBox struct{ h Handler }

// ManagerOpts holds parameters for creating a Manager.
type ManagerOpts struct {
	DB *gorm.DB
	// Platform selects the factory used for new registrations and for the
	// primary bot. Stored bots use the factory of their own platform.
	Platform    string
	Factories   map[string]AdapterFactory
	Handler     Handler
	IdleTimeout time.Duration
	Logger      zerolog.Logger
}

// NewManager creates a Manager. No loop is started until StartPrimary,
// RestoreAll or RegisterAndStart.
func NewManager(opts ManagerOpts) (*Manager, error) {
	if opts.DB == nil {
		return nil, errors.New("fleet: db is required")
	}
	if opts.Platform == "" {
		opts.Platform = "telegram"
	}
	if _, ok := opts.Factories[opts.Platform]; !ok {
		return nil, errors.Errorf("fleet: no adapter factory for platform %q", opts.Platform)
	}
	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}

	base, cancel := context.WithCancel(context.Background())
	m := &Manager{
		db:        opts.DB,
		platform:  opts.Platform,
		factories: opts.Factories,
		idle:      idle,
		log:       opts.Logger,
		base:      base,
		stopAll:   cancel,
		handles:   make(map[uint]*handle),
	}
	if opts.Handler != nil {
		m.SetHandler(opts.Handler)
	}
	return m, nil
}

// SetHandler installs the event handler. Events that arrive before a handler
// is set are dropped.
func (m *Manager) SetHandler(h Handler) {
	m.handler.Store(&handlerBox{h: h})
}

// RegisterAndStart validates token with the platform, persists the bot and
// starts its loop. The loop outlives ctx.
func (m *Manager) RegisterAndStart(ctx context.Context, token string) (*models.Bot, error) {
	bot, adapter, err := m.register(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := m.start(bot, adapter, false); err != nil {
		// The row exists; the next reconcile starts it.
		m.log.Error().Err(err).Str("bot", bot.Username).Msg("fleet: registered bot failed to start")
	}
	return bot, nil
}

// Register validates and persists a bot without starting it. A running
// daemon picks it up on its next reconcile.
func (m *Manager) Register(ctx context.Context, token string) (*models.Bot, error) {
	bot, adapter, err := m.register(ctx, token)
	if err != nil {
		return nil, err
	}
	adapter.Close()
	return bot, nil
}

func (m *Manager) register(ctx context.Context, token string) (*models.Bot, telegraph.Adapter, error) {
	adapter, err := m.connect(ctx, m.platform, token)
	if err != nil {
		if errors.Is(err, telegraph.ErrUnauthorized) {
			metrics.Registrations.WithLabelValues("invalid").Inc()
			return nil, nil, errors.Wrap(ErrInvalidCredential, "fleet: register")
		}
		metrics.Registrations.WithLabelValues("error").Inc()
		return nil, nil, errors.Wrap(err, "fleet: register")
	}

	id := adapter.Identity()
	if id.Username == "" {
		adapter.Close()
		metrics.Registrations.WithLabelValues("invalid").Inc()
		return nil, nil, errors.Wrap(ErrInvalidCredential, "fleet: register: platform returned no username")
	}
	bot := &models.Bot{Token: token, Name: id.Name, Username: id.Username, Platform: m.platform}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Bot{}).Where("username = ?", bot.Username).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrDuplicateUsername
		}
		return tx.Create(bot).Error
	})
	if err != nil {
		adapter.Close()
		if errors.Is(err, ErrDuplicateUsername) || errors.Is(err, gorm.ErrDuplicatedKey) {
			metrics.Registrations.WithLabelValues("duplicate").Inc()
			return nil, nil, errors.Wrapf(ErrDuplicateUsername, "fleet: register @%s", bot.Username)
		}
		metrics.Registrations.WithLabelValues("error").Inc()
		return nil, nil, errors.Wrapf(err, "fleet: register @%s: save", bot.Username)
	}

	metrics.Registrations.WithLabelValues("success").Inc()
	m.log.Info().Str("bot", bot.Username).Uint("id", bot.ID).Msg("fleet: bot registered")
	return bot, adapter, nil
}

// StartPrimary connects the operator-facing bot. It is not persisted.
func (m *Manager) StartPrimary(ctx context.Context, token string) error {
	adapter, err := m.connect(ctx, m.platform, token)
	if err != nil {
		return errors.Wrap(err, "fleet: primary")
	}
	id := adapter.Identity()
	bot := &models.Bot{Token: token, Name: id.Name, Username: id.Username, Platform: m.platform}
	if err := m.start(bot, adapter, true); err != nil {
		return errors.Wrap(err, "fleet: primary")
	}
	m.log.Info().Str("bot", bot.Username).Msg("fleet: primary bot started")
	return nil
}

// RestoreAll starts a loop for every stored bot that is not running yet.
// Bots that fail to start are logged and left for Reconcile.
func (m *Manager) RestoreAll(ctx context.Context) error {
	started, err := m.sync(ctx, false)
	if err != nil {
		return err
	}
	m.log.Info().Int("started", started).Msg("fleet: restored bots")
	return nil
}

// Reconcile starts stored bots that are not running (for example ones
// registered from the CLI) and restarts loops that have died.
func (m *Manager) Reconcile(ctx context.Context) error {
	m.restartPrimary(ctx)
	started, err := m.sync(ctx, true)
	if err != nil {
		return err
	}
	if started > 0 {
		m.log.Info().Int("started", started).Msg("fleet: reconciled bots")
	}
	return nil
}

func (m *Manager) sync(ctx context.Context, restart bool) (int, error) {
	var bots []models.Bot
	if err := m.db.WithContext(ctx).Order("id").Find(&bots).Error; err != nil {
		return 0, errors.Wrap(err, "fleet: load bots")
	}

	var (
		g       errgroup.Group
		started atomic.Int32
	)
	g.SetLimit(startConcurrency)
	for i := range bots {
		bot := &bots[i]
		dead, running := m.lookup(bot.ID)
		if running {
			continue
		}
		if dead != nil {
			if !restart {
				continue
			}
			m.forget(bot.ID, dead)
			metrics.BotRestarts.Inc()
			m.log.Warn().Str("bot", bot.Username).Msg("fleet: restarting dead loop")
		}
		g.Go(func() error {
			if err := m.startStored(ctx, bot); err != nil {
				m.log.Error().Err(err).Str("bot", bot.Username).Msg("fleet: start bot")
				return nil
			}
			started.Add(1)
			return nil
		})
	}
	g.Wait()
	return int(started.Load()), nil
}

func (m *Manager) restartPrimary(ctx context.Context) {
	m.mu.Lock()
	p := m.primary
	m.mu.Unlock()
	if p == nil || p.alive.Load() {
		return
	}
	metrics.BotRestarts.Inc()
	m.log.Warn().Str("bot", p.bot.Username).Msg("fleet: restarting primary loop")
	p.adapter.Close()
	if err := m.StartPrimary(ctx, p.bot.Token); err != nil {
		m.log.Error().Err(err).Msg("fleet: restart primary")
	}
}

// startStored connects a persisted bot using its own platform's factory.
func (m *Manager) startStored(ctx context.Context, bot *models.Bot) error {
	platform := bot.Platform
	if platform == "" {
		platform = m.platform
	}
	adapter, err := m.connect(ctx, platform, bot.Token)
	if err != nil {
		return err
	}
	return m.start(bot, adapter, false)
}

func (m *Manager) connect(ctx context.Context, platform, token string) (telegraph.Adapter, error) {
	factory, ok := m.factories[platform]
	if !ok {
		return nil, errors.Errorf("fleet: no adapter factory for platform %q", platform)
	}
	adapter, err := factory(token)
	if err != nil {
		return nil, errors.Wrap(err, "create adapter")
	}
	if err := adapter.Connect(ctx); err != nil {
		adapter.Close()
		return nil, err
	}
	return adapter, nil
}

// lookup returns the handle of id and whether its loop is alive.
func (m *Manager) lookup(id uint) (*handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.handles[id]
	return h, h != nil && h.alive.Load()
}

func (m *Manager) forget(id uint, h *handle) {
	m.mu.Lock()
	if m.handles[id] == h {
		delete(m.handles, id)
	}
	m.mu.Unlock()
	h.adapter.Close()
}

// start launches the loop for a connected adapter. Only one loop per bot id
// runs at a time; a second start for a live bot closes the new adapter.
func (m *Manager) start(bot *models.Bot, adapter telegraph.Adapter, primary bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		adapter.Close()
		return errors.New("fleet: manager is shut down")
	}
	if !primary {
		if h := m.handles[bot.ID]; h != nil && h.alive.Load() {
			adapter.Close()
			return nil
		}
	}

	ctx, cancel := context.WithCancel(m.base)
	events, err := adapter.Listen(ctx)
	if err != nil {
		cancel()
		adapter.Close()
		return errors.Wrapf(err, "fleet: listen @%s", bot.Username)
	}

	h := &handle{
		bot:     bot,
		adapter: adapter,
		primary: primary,
		cancel:  cancel,
		done:    make(chan struct{}),
		workers: make(map[int64]*worker),
	}
	h.alive.Store(true)
	if primary {
		m.primary = h
	} else {
		m.handles[bot.ID] = h
	}

	m.loops.Add(1)
	metrics.RunningBots.Inc()
	go func() {
		defer m.loops.Done()
		defer metrics.RunningBots.Dec()
		m.run(ctx, h, events)
	}()
	return nil
}

// Status describes one loop.
type Status struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Platform string `json:"platform"`
	Primary  bool   `json:"primary"`
	Alive    bool   `json:"alive"`
	Chats    int    `json:"active_chats"`
}

// Status returns a snapshot of every loop, primary first, then by id.
func (m *Manager) Status() []Status {
	m.mu.Lock()
	handles := make([]*handle, 0, len(m.handles)+1)
	ids := make([]uint, 0, len(m.handles))
	for id := range m.handles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if m.primary != nil {
		handles = append(handles, m.primary)
	}
	for _, id := range ids {
		handles = append(handles, m.handles[id])
	}
	m.mu.Unlock()

	out := make([]Status, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.status())
	}
	return out
}

// Bots lists every registered bot ordered by id.
func (m *Manager) Bots(ctx context.Context) ([]models.Bot, error) {
	var bots []models.Bot
	if err := m.db.WithContext(ctx).Order("id").Find(&bots).Error; err != nil {
		return nil, errors.Wrap(err, "fleet: list bots")
	}
	return bots, nil
}

// Bot returns the registered bot with id.
func (m *Manager) Bot(ctx context.Context, id uint) (*models.Bot, error) {
	var bot models.Bot
	if err := m.db.WithContext(ctx).First(&bot, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "id %d", id)
		}
		return nil, errors.Wrapf(err, "fleet: get bot %d", id)
	}
	return &bot, nil
}

// Shutdown stops every loop and waits for in-flight events to finish or ctx
// to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdown = true
	all := make([]*handle, 0, len(m.handles)+1)
	for _, h := range m.handles {
		all = append(all, h)
	}
	if m.primary != nil {
		all = append(all, m.primary)
	}
	m.mu.Unlock()

	m.stopAll()
	for _, h := range all {
		h.adapter.Close()
	}

	done := make(chan struct{})
	go func() {
		m.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.log.Info().Int("bots", len(all)).Msg("fleet: all loops stopped")
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "fleet: shutdown")
	}
}
