package infrastructure

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	"ledgerbot/internal/entities"
	"ledgerbot/internal/interfaces"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// DeliveryMode selects how updates reach the runtimes. It is set per
// deployment, not per tenant.
type DeliveryMode string

const (
	ModePolling DeliveryMode = "polling"
	ModeWebhook DeliveryMode = "webhook"
)

const (
	webhookSecretLen = 32
	handlerTimeout   = 30 * time.Second
)

// Dialer connects to the bot platform with token and confirms it is live.
type Dialer func(ctx context.Context, token string) (interfaces.BotAPI, tgbotapi.User, error)

type RuntimeManagerConfig struct {
	Mode         DeliveryMode
	Domain       string // public host for webhook URLs
	SecretKey    string
	StartTimeout time.Duration
	StopTimeout  time.Duration
	PollTimeout  int // seconds
}

// Runtime is one tenant's live bot.
type Runtime struct {
	TenantID  int64
	Bot       interfaces.BotAPI
	Self      tgbotapi.User
	Mode      DeliveryMode
	StartedAt time.Time

	dispatcher *Dispatcher
	cancel     context.CancelFunc
	done       chan struct{} // closed when the poll loop exits
	inflight   sync.WaitGroup
}

// Dispatch runs update through the runtime's handler chain.
func (r *Runtime) Dispatch(ctx context.Context, update tgbotapi.Update) interfaces.Verdict {
	ev := &interfaces.Event{TenantID: r.TenantID, Update: update, Bot: r.Bot}
	return r.dispatcher.Dispatch(ctx, ev)
}

// poll reads long-poll updates until ctx is cancelled. Each update is handled
// in its own goroutine.
func (r *Runtime) poll(ctx context.Context, timeout int) {
	defer close(r.done)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeout
	updates := r.Bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			r.inflight.Add(1)
			go func() {
				defer r.inflight.Done()
				hctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
				defer cancel()
				r.Dispatch(hctx, update)
			}()
		}
	}
}

// RuntimeStatus is reported by the admin API.
type RuntimeStatus struct {
	TenantID  int64        `json:"tenant_id"`
	Running   bool         `json:"running"`
	Username  string       `json:"username,omitempty"`
	Mode      DeliveryMode `json:"mode,omitempty"`
	StartedAt *time.Time   `json:"started_at,omitempty"`
}

// StartReport summarizes a StartAll fan-out.
type StartReport struct {
	Total   int
	Started int
	Failed  []int64
}

func (r StartReport) String() string {
	return fmt.Sprintf("%d/%d", r.Started, r.Total)
}

// RuntimeManager owns the set of live tenant runtimes. Each tenant has at
// most one runtime; start, stop and reload of one tenant never block another.
type RuntimeManager struct {
	cfg     RuntimeManagerConfig
	dial    Dialer
	logger  *zap.Logger
	metrics *Metrics

	gate     interfaces.Handler
	handlers []interfaces.Handler

	runtimes map[int64]*Runtime
	mu       sync.RWMutex
	locks    sync.Map // tenant id -> *sync.Mutex
}

func NewRuntimeManager(cfg RuntimeManagerConfig, dial Dialer, logger *zap.Logger, metrics *Metrics) *RuntimeManager {
	if cfg.Mode == "" {
		cfg.Mode = ModePolling
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 15 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 60
	}
	return &RuntimeManager{
		cfg:      cfg,
		dial:     dial,
		logger:   logger,
		metrics:  metrics,
		runtimes: make(map[int64]*Runtime),
	}
}

// SetHandlers installs the chain every runtime started afterwards uses. gate
// runs before all business handlers.
func (m *RuntimeManager) SetHandlers(gate interfaces.Handler, handlers ...interfaces.Handler) {
	m.gate = gate
	m.handlers = handlers
}

func (m *RuntimeManager) Mode() DeliveryMode {
	return m.cfg.Mode
}

func (m *RuntimeManager) tenantLock(tenantID int64) *sync.Mutex {
	l, _ := m.locks.LoadOrStore(tenantID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// GetRuntime returns the live runtime for tenantID.
func (m *RuntimeManager) GetRuntime(tenantID int64) (*Runtime, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.runtimes[tenantID]
	return rt, ok
}

// Count returns the number of live runtimes.
func (m *RuntimeManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.runtimes)
}

// StartRuntime brings tenantID up with token. It returns true if the runtime
// is running afterwards. Failures are logged, never propagated.
func (m *RuntimeManager) StartRuntime(ctx context.Context, token string, tenantID int64) bool {
	lock := m.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()
	return m.startLocked(ctx, token, tenantID)
}

func (m *RuntimeManager) startLocked(ctx context.Context, token string, tenantID int64) bool {
	if _, ok := m.GetRuntime(tenantID); ok {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.StartTimeout)
	defer cancel()

	rt, err := m.start(ctx, token, tenantID)
	if err != nil {
		m.logger.Error("failed to start tenant runtime",
			zap.Int64("tenant_id", tenantID), zap.Error(err))
		m.metrics.RuntimeStarted(false)
		return false
	}

	m.mu.Lock()
	m.runtimes[tenantID] = rt
	live := len(m.runtimes)
	m.mu.Unlock()

	m.metrics.RuntimeStarted(true)
	m.metrics.SetLiveRuntimes(live)
	m.logger.Info("tenant runtime started",
		zap.Int64("tenant_id", tenantID),
		zap.String("username", rt.Self.UserName),
		zap.String("mode", string(rt.Mode)))
	return true
}

func (m *RuntimeManager) start(ctx context.Context, token string, tenantID int64) (*Runtime, error) {
	var (
		bot  interfaces.BotAPI
		self tgbotapi.User
	)
	err := bounded(ctx, func() error {
		var err error
		bot, self, err = m.dial(ctx, token)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: handshake: %v", entities.ErrRuntimeStart, err)
	}

	d := NewDispatcher(m.logger.With(zap.Int64("tenant_id", tenantID)))
	if m.gate != nil {
		d.Register(PriorityGate, m.gate)
	}
	for _, h := range m.handlers {
		d.Register(PriorityDefault, h)
	}

	rt := &Runtime{
		TenantID:   tenantID,
		Bot:        bot,
		Self:       self,
		Mode:       m.cfg.Mode,
		StartedAt:  time.Now(),
		dispatcher: d,
	}

	switch m.cfg.Mode {
	case ModeWebhook:
		if err := bounded(ctx, func() error { return m.registerWebhook(bot, tenantID) }); err != nil {
			return nil, fmt.Errorf("%w: set webhook: %v", entities.ErrRuntimeStart, err)
		}
	default:
		// getUpdates is refused while a webhook is registered.
		if err := bounded(ctx, func() error {
			_, err := bot.Request(tgbotapi.DeleteWebhookConfig{})
			return err
		}); err != nil {
			m.logger.Warn("failed to clear webhook before polling",
				zap.Int64("tenant_id", tenantID), zap.Error(err))
		}
		pollCtx, cancel := context.WithCancel(context.Background())
		rt.cancel = cancel
		rt.done = make(chan struct{})
		go rt.poll(pollCtx, m.cfg.PollTimeout)
	}
	return rt, nil
}

// WebhookURL is the callback registered for tenantID.
func (m *RuntimeManager) WebhookURL(tenantID int64) string {
	return fmt.Sprintf("https://%s/telegram/webhook/%d", m.cfg.Domain, tenantID)
}

func (m *RuntimeManager) registerWebhook(bot interfaces.BotAPI, tenantID int64) error {
	params := tgbotapi.Params{"url": m.WebhookURL(tenantID)}
	params.AddNonEmpty("secret_token", m.WebhookSecret(tenantID))
	_, err := bot.MakeRequest("setWebhook", params)
	return err
}

// StopRuntime takes tenantID down. It is a no-op when nothing is running and
// reports whether a runtime was stopped.
func (m *RuntimeManager) StopRuntime(ctx context.Context, tenantID int64) bool {
	lock := m.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()
	return m.stopLocked(ctx, tenantID)
}

func (m *RuntimeManager) stopLocked(ctx context.Context, tenantID int64) bool {
	rt, ok := m.GetRuntime(tenantID)
	if !ok {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.StopTimeout)
	defer cancel()
	log := m.logger.With(zap.Int64("tenant_id", tenantID))

	switch rt.Mode {
	case ModeWebhook:
		err := bounded(ctx, func() error {
			_, err := rt.Bot.Request(tgbotapi.DeleteWebhookConfig{})
			return err
		})
		if err != nil {
			log.Warn("failed to delete webhook", zap.Error(err))
		}
	default:
		rt.cancel()
		rt.Bot.StopReceivingUpdates()
		select {
		case <-rt.done:
		case <-ctx.Done():
			log.Warn("poll loop did not exit before stop timeout")
		}
	}

	waited := make(chan struct{})
	go func() {
		rt.inflight.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		log.Warn("in-flight handlers still running after stop timeout")
	}

	m.mu.Lock()
	delete(m.runtimes, tenantID)
	live := len(m.runtimes)
	m.mu.Unlock()

	m.metrics.SetLiveRuntimes(live)
	log.Info("tenant runtime stopped")
	return true
}

// ReloadRuntime restarts tenantID, for credential rotation or to refresh the
// webhook registration.
func (m *RuntimeManager) ReloadRuntime(ctx context.Context, token string, tenantID int64) bool {
	lock := m.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	m.stopLocked(ctx, tenantID)
	return m.startLocked(ctx, token, tenantID)
}

// StartAll starts every tenant concurrently and waits for all attempts.
func (m *RuntimeManager) StartAll(ctx context.Context, tenants []entities.Tenant) StartReport {
	results := make([]bool, len(tenants))
	var wg sync.WaitGroup
	for i, t := range tenants {
		wg.Add(1)
		go func(i int, t entities.Tenant) {
			defer wg.Done()
			results[i] = m.StartRuntime(ctx, t.Token, t.ID)
		}(i, t)
	}
	wg.Wait()

	report := StartReport{Total: len(tenants)}
	for i, ok := range results {
		if ok {
			report.Started++
		} else {
			report.Failed = append(report.Failed, tenants[i].ID)
		}
	}
	m.logger.Info("tenant runtimes started",
		zap.String("success", report.String()),
		zap.Int64s("failed", report.Failed))
	return report
}

// StopAll stops every live runtime, for graceful shutdown.
func (m *RuntimeManager) StopAll(ctx context.Context) {
	m.mu.RLock()
	ids := make([]int64, 0, len(m.runtimes))
	for id := range m.runtimes {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			m.StopRuntime(ctx, id)
		}(id)
	}
	wg.Wait()
}

// Status reports whether tenantID is live.
func (m *RuntimeManager) Status(tenantID int64) RuntimeStatus {
	rt, ok := m.GetRuntime(tenantID)
	if !ok {
		return RuntimeStatus{TenantID: tenantID}
	}
	started := rt.StartedAt
	return RuntimeStatus{
		TenantID:  tenantID,
		Running:   true,
		Username:  rt.Self.UserName,
		Mode:      rt.Mode,
		StartedAt: &started,
	}
}

// Notify sends an HTML message through tenantID's runtime.
func (m *RuntimeManager) Notify(ctx context.Context, tenantID, chatID int64, text string) error {
	rt, ok := m.GetRuntime(tenantID)
	if !ok {
		return entities.ErrRuntimeNotFound
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	return bounded(ctx, func() error {
		_, err := rt.Bot.Send(msg)
		return err
	})
}

// HandleWebhook dispatches a pushed update to tenantID's runtime.
func (m *RuntimeManager) HandleWebhook(ctx context.Context, tenantID int64, update tgbotapi.Update) error {
	rt, ok := m.GetRuntime(tenantID)
	if !ok {
		return entities.ErrRuntimeNotFound
	}
	rt.Dispatch(ctx, update)
	return nil
}

// WebhookSecret derives tenantID's callback secret from the process key.
func (m *RuntimeManager) WebhookSecret(tenantID int64) string {
	return DeriveWebhookSecret(m.cfg.SecretKey, tenantID)
}

// VerifyWebhookSecret compares got with tenantID's secret in constant time.
func (m *RuntimeManager) VerifyWebhookSecret(tenantID int64, got string) bool {
	want := m.WebhookSecret(tenantID)
	return hmac.Equal([]byte(want), []byte(got))
}

// DeriveWebhookSecret is HMAC-SHA256(key, tenantID) in hex, truncated.
// Telegram accepts at most 256 characters from [A-Za-z0-9_-].
func DeriveWebhookSecret(key string, tenantID int64) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(strconv.FormatInt(tenantID, 10)))
	return hex.EncodeToString(mac.Sum(nil))[:webhookSecretLen]
}

// bounded runs fn and gives up when ctx is done. fn keeps running in the
// background; its result is discarded.
func bounded(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	go func() { errCh <- fn() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
