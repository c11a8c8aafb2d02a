package usecases

import (
	"context"
	"time"

	"ledgerbot/internal/entities"
	"ledgerbot/internal/infrastructure"
	"ledgerbot/internal/interfaces"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// LedgerService owns the recording state machine, the settlement window and
// the per-chat configuration. Every mutation commits to the store first and
// then invalidates the cache.
type LedgerService struct {
	store   interfaces.LedgerStore
	cache   interfaces.ConfigCache
	loc     *time.Location
	logger  *zap.Logger
	metrics *infrastructure.Metrics
	now     func() time.Time
}

func NewLedgerService(store interfaces.LedgerStore, cache interfaces.ConfigCache, loc *time.Location, logger *zap.Logger, metrics *infrastructure.Metrics) *LedgerService {
	if loc == nil {
		loc = time.Local
	}
	return &LedgerService{
		store:   store,
		cache:   cache,
		loc:     loc,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Location is the operating timezone.
func (s *LedgerService) Location() *time.Location {
	return s.loc
}

// Window returns the current settlement window.
func (s *LedgerService) Window() (time.Time, time.Time) {
	return SettlementWindow(s.now(), s.loc)
}

// RecordTransaction appends one record to the chat's ledger. It fails with
// entities.ErrNotRecording unless recording was started. The fee and USD
// rate in force now are stored with the record.
func (s *LedgerService) RecordTransaction(ctx context.Context, tenantID, chatID int64, kind entities.RecordKind,
	amount decimal.Decimal, operatorID int64, operatorName, rawText string) (*entities.Record, error) {
	if !kind.Valid() {
		return nil, entities.ErrInvalidKind
	}
	amount = amount.Round(2)
	if amount.IsZero() {
		return nil, entities.ErrInvalidAmount
	}

	var (
		rec          *entities.Record
		created      bool
		notRecording bool
	)
	err := s.store.InTx(ctx, func(q interfaces.LedgerQueries) error {
		cfg, err := q.GetChatConfig(ctx, tenantID, chatID, false)
		if err != nil {
			return err
		}
		if cfg == nil {
			cfg = entities.NewChatConfig(tenantID, chatID, "")
			if created, err = q.CreateChatConfig(ctx, cfg); err != nil {
				return err
			}
		}
		if !cfg.IsActive {
			// Keep a lazily created row; write no record.
			notRecording = true
			return nil
		}

		fee := decimal.Zero
		if kind == entities.KindDeposit {
			fee = amount.Mul(cfg.FeePercent).Div(hundred).Round(2)
		}
		rec = &entities.Record{
			TenantID:     tenantID,
			ChatID:       chatID,
			Kind:         kind,
			Amount:       amount,
			OperatorID:   operatorID,
			OperatorName: operatorName,
			FeeApplied:   fee,
			RateSnapshot: cfg.USDRate,
			CreatedAt:    s.now(),
			OriginalText: rawText,
		}
		return q.InsertRecord(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	if created {
		s.cache.Invalidate(ctx, tenantID, chatID)
	}
	if notRecording {
		return nil, entities.ErrNotRecording
	}

	s.metrics.RecordWritten(string(kind))
	s.logger.Debug("ledger record written",
		zap.Int64("tenant_id", tenantID),
		zap.Int64("chat_id", chatID),
		zap.String("type", string(kind)),
		zap.String("amount", amount.String()))
	return rec, nil
}

// GetDailySummary aggregates the current settlement window.
func (s *LedgerService) GetDailySummary(ctx context.Context, tenantID, chatID int64) (entities.DailySummary, error) {
	start, end := s.Window()
	return s.store.SummarizeRecords(ctx, tenantID, chatID, start, end)
}

// GetRecentRecords returns up to limit records of the current settlement
// window, newest first. An empty kind matches both types.
func (s *LedgerService) GetRecentRecords(ctx context.Context, tenantID, chatID int64, limit int, kind entities.RecordKind) ([]entities.Record, error) {
	start, end := s.Window()
	return s.listRecords(ctx, tenantID, chatID, start, end, limit, kind)
}

func (s *LedgerService) listRecords(ctx context.Context, tenantID, chatID int64, start, end time.Time, limit int, kind entities.RecordKind) ([]entities.Record, error) {
	if limit <= 0 {
		limit = 5
	}
	if kind != "" && !kind.Valid() {
		return nil, entities.ErrInvalidKind
	}
	return s.store.ListRecords(ctx, tenantID, chatID, start, end, limit, kind)
}

// LoadBill assembles the current window's bill for the web view, with up to
// limit lines per type. Unlike the chat commands it never creates the
// configuration row.
func (s *LedgerService) LoadBill(ctx context.Context, tenantID, chatID int64, limit int) (*Bill, error) {
	snap, version, ok := s.cache.Get(ctx, tenantID, chatID)
	if !ok {
		cfg, err := s.store.GetChatConfig(ctx, tenantID, chatID, false)
		if err != nil {
			return nil, err
		}
		if cfg == nil {
			return nil, entities.ErrChatNotFound
		}
		snap = cfg.Snapshot()
		s.cache.Fill(ctx, tenantID, chatID, version, snap)
	}
	return s.billFor(ctx, tenantID, chatID, snap, limit)
}

// billFor reads the summary and the record lines over one window.
func (s *LedgerService) billFor(ctx context.Context, tenantID, chatID int64, snap entities.ConfigSnapshot, limit int) (*Bill, error) {
	start, end := s.Window()
	summary, err := s.store.SummarizeRecords(ctx, tenantID, chatID, start, end)
	if err != nil {
		return nil, err
	}
	deposits, err := s.listRecords(ctx, tenantID, chatID, start, end, limit, entities.KindDeposit)
	if err != nil {
		return nil, err
	}
	payouts, err := s.listRecords(ctx, tenantID, chatID, start, end, limit, entities.KindPayout)
	if err != nil {
		return nil, err
	}
	return &Bill{Config: snap, Summary: summary, Deposits: deposits, Payouts: payouts}, nil
}

// ClearToday deletes the current window's records and nothing older.
func (s *LedgerService) ClearToday(ctx context.Context, tenantID, chatID int64) (int64, error) {
	start, end := s.Window()
	var n int64
	err := s.store.InTx(ctx, func(q interfaces.LedgerQueries) error {
		var err error
		n, err = q.DeleteRecords(ctx, tenantID, chatID, start, end)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("cleared today's records",
		zap.Int64("tenant_id", tenantID), zap.Int64("chat_id", chatID), zap.Int64("deleted", n))
	return n, nil
}

// StartRecording moves the chat to Active and stamps the start time.
func (s *LedgerService) StartRecording(ctx context.Context, tenantID, chatID int64) error {
	return s.mutateConfig(ctx, tenantID, chatID, func(cfg *entities.ChatConfig) error {
		now := s.now()
		cfg.IsActive = true
		cfg.ActiveStartTime = &now
		return nil
	})
}

// StopRecording moves the chat to Inactive.
func (s *LedgerService) StopRecording(ctx context.Context, tenantID, chatID int64) error {
	return s.mutateConfig(ctx, tenantID, chatID, func(cfg *entities.ChatConfig) error {
		cfg.IsActive = false
		return nil
	})
}

// SetFeePercent sets the deposit fee. Existing records keep their fee.
func (s *LedgerService) SetFeePercent(ctx context.Context, tenantID, chatID int64, pct decimal.Decimal) error {
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return entities.ErrInvalidAmount
	}
	return s.mutateConfig(ctx, tenantID, chatID, func(cfg *entities.ChatConfig) error {
		cfg.FeePercent = pct
		return nil
	})
}

// SetExchangeRate sets one currency rate. Zero hides the currency.
func (s *LedgerService) SetExchangeRate(ctx context.Context, tenantID, chatID int64, cur entities.Currency, rate decimal.Decimal) error {
	if rate.IsNegative() {
		return entities.ErrInvalidAmount
	}
	return s.mutateConfig(ctx, tenantID, chatID, func(cfg *entities.ChatConfig) error {
		return cfg.SetRate(cur, rate)
	})
}

// SetDisplayMode switches how amounts are rendered in replies.
func (s *LedgerService) SetDisplayMode(ctx context.Context, tenantID, chatID int64, mode entities.DisplayMode) error {
	return s.mutateConfig(ctx, tenantID, chatID, func(cfg *entities.ChatConfig) error {
		switch mode {
		case entities.ModeNoDecimals:
			cfg.DecimalMode = false
		case entities.ModeCount:
			cfg.SimpleMode = true
		case entities.ModeOriginal:
			cfg.DecimalMode = true
			cfg.SimpleMode = false
		default:
			return entities.ErrInvalidKind
		}
		return nil
	})
}

// mutateConfig loads the store-bound row under lock, applies fn, commits and
// invalidates the cache. The row is created with defaults if missing.
func (s *LedgerService) mutateConfig(ctx context.Context, tenantID, chatID int64, fn func(cfg *entities.ChatConfig) error) error {
	err := s.store.InTx(ctx, func(q interfaces.LedgerQueries) error {
		cfg, err := loadForUpdate(ctx, q, tenantID, chatID, "")
		if err != nil {
			return err
		}
		if err := fn(cfg); err != nil {
			return err
		}
		return q.UpdateChatConfig(ctx, cfg)
	})
	if err != nil {
		return err
	}
	s.cache.Invalidate(ctx, tenantID, chatID)
	return nil
}

// loadForUpdate returns the locked row for (tenantID, chatID), creating it if
// needed.
func loadForUpdate(ctx context.Context, q interfaces.LedgerQueries, tenantID, chatID int64, name string) (*entities.ChatConfig, error) {
	cfg, err := q.GetChatConfig(ctx, tenantID, chatID, true)
	if err != nil || cfg != nil {
		return cfg, err
	}
	cfg = entities.NewChatConfig(tenantID, chatID, name)
	if _, err := q.CreateChatConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return q.GetChatConfig(ctx, tenantID, chatID, true)
}

// GetOrCreateConfiguration returns a read-only snapshot of the chat's
// configuration, served from the cache when possible. A miss reads the store,
// creates the default row if absent and refreshes a changed display name.
// The fill is conditional on the version seen before the store read, so a
// write committed meanwhile is never masked.
// To change configuration use the mutating methods, never the snapshot.
func (s *LedgerService) GetOrCreateConfiguration(ctx context.Context, tenantID, chatID int64, displayName string) (entities.ConfigSnapshot, error) {
	snap, version, ok := s.cache.Get(ctx, tenantID, chatID)
	if ok && (displayName == "" || snap.ChatName == displayName) {
		return snap, nil
	}

	var changed bool
	err := s.store.InTx(ctx, func(q interfaces.LedgerQueries) error {
		cfg, err := q.GetChatConfig(ctx, tenantID, chatID, false)
		if err != nil {
			return err
		}
		if cfg == nil {
			cfg = entities.NewChatConfig(tenantID, chatID, displayName)
			if changed, err = q.CreateChatConfig(ctx, cfg); err != nil {
				return err
			}
		}
		if displayName != "" && cfg.ChatName != displayName {
			if cfg, err = q.GetChatConfig(ctx, tenantID, chatID, true); err != nil {
				return err
			}
			cfg.ChatName = displayName
			if err := q.UpdateChatConfig(ctx, cfg); err != nil {
				return err
			}
			changed = true
		}
		snap = cfg.Snapshot()
		return nil
	})
	if err != nil {
		return entities.ConfigSnapshot{}, err
	}
	if changed {
		s.cache.Invalidate(ctx, tenantID, chatID)
		return snap, nil
	}
	s.cache.Fill(ctx, tenantID, chatID, version, snap)
	return snap, nil
}

// IsRecording reports whether the chat is Active, through the cache.
func (s *LedgerService) IsRecording(ctx context.Context, tenantID, chatID int64) (bool, error) {
	snap, err := s.GetOrCreateConfiguration(ctx, tenantID, chatID, "")
	if err != nil {
		return false, err
	}
	return snap.IsActive, nil
}

// ListActiveChats returns every chat currently recording.
func (s *LedgerService) ListActiveChats(ctx context.Context) ([]entities.ChatConfig, error) {
	return s.store.ListActiveChats(ctx)
}
