package usecases

import (
	"context"
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	"ledgerbot/internal/entities"
	"ledgerbot/internal/interfaces"

	"go.uber.org/zap"
)

const (
	codePrefix   = "HY"
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeGroups   = 3
	codeGroupLen = 4
)

// LicenseService issues, redeems and checks time-boxed licenses. A license
// lives on a configuration row: a group's own row or a user's personal row.
type LicenseService struct {
	store  interfaces.LedgerStore
	cache  interfaces.ConfigCache
	logger *zap.Logger
	now    func() time.Time
}

func NewLicenseService(store interfaces.LedgerStore, cache interfaces.ConfigCache, logger *zap.Logger) *LicenseService {
	return &LicenseService{
		store:  store,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

// Redemption is the outcome of a successful Redeem.
type Redemption struct {
	Subject  entities.LicenseSubject
	Code     string
	Days     int
	ExpireAt time.Time
}

// LicenseInfo describes a subject's current license.
type LicenseInfo struct {
	Subject    entities.LicenseSubject `json:"-"`
	ExpireAt   *time.Time              `json:"expire_at"`
	LicenseKey string                  `json:"license_key,omitempty"`
	Valid      bool                    `json:"valid"`
}

// GenerateCode issues a new unused code worth days.
func (s *LicenseService) GenerateCode(ctx context.Context, days int) (*entities.LicenseCode, error) {
	if days <= 0 {
		return nil, entities.ErrInvalidDays
	}
	code, err := newLicenseCode()
	if err != nil {
		return nil, err
	}
	lc := &entities.LicenseCode{Code: code, Days: days}
	if err := s.store.InTx(ctx, func(q interfaces.LedgerQueries) error {
		return q.InsertLicenseCode(ctx, lc)
	}); err != nil {
		return nil, err
	}
	s.logger.Info("license code issued", zap.String("code", code), zap.Int("days", days))
	return lc, nil
}

func newLicenseCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	parts := make([]string, 0, codeGroups+1)
	parts = append(parts, codePrefix)
	for i := 0; i < codeGroups; i++ {
		var b strings.Builder
		for j := 0; j < codeGroupLen; j++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", err
			}
			b.WriteByte(codeAlphabet[n.Int64()])
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "-"), nil
}

// Redeem consumes code for subject under tenantID. Validity is extended from
// the later of now and the current expiry. The code is marked used in the
// same unit of work.
func (s *LicenseService) Redeem(ctx context.Context, tenantID int64, code string, subject entities.LicenseSubject) (*Redemption, error) {
	if subject.IsZero() {
		return nil, entities.ErrInvalidKind
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	chatKey := subject.ChatKey()

	var out *Redemption
	err := s.store.InTx(ctx, func(q interfaces.LedgerQueries) error {
		lc, err := q.GetLicenseCode(ctx, code, true)
		if err != nil {
			return err
		}
		if lc == nil {
			return entities.ErrLicenseCodeNotFound
		}
		if lc.IsUsed {
			return entities.ErrLicenseCodeUsed
		}

		cfg, err := loadForUpdate(ctx, q, tenantID, chatKey, "")
		if err != nil {
			return err
		}

		now := s.now()
		base := now
		if cfg.ExpireAt != nil && cfg.ExpireAt.After(now) {
			base = *cfg.ExpireAt
		}
		expire := base.AddDate(0, 0, lc.Days)
		cfg.ExpireAt = &expire
		cfg.LicenseKey = lc.Code
		if err := q.UpdateChatConfig(ctx, cfg); err != nil {
			return err
		}
		if err := q.MarkLicenseCodeUsed(ctx, lc.ID, chatKey, now); err != nil {
			return err
		}

		out = &Redemption{Subject: subject, Code: lc.Code, Days: lc.Days, ExpireAt: expire}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, tenantID, chatKey)
	s.logger.Info("license redeemed",
		zap.Int64("tenant_id", tenantID),
		zap.Stringer("subject", subject),
		zap.String("code", out.Code),
		zap.Time("expire_at", out.ExpireAt))
	return out, nil
}

// Check reports whether chatID is licensed, falling back to userID's
// personal license. userID 0 means there is no originating user.
func (s *LicenseService) Check(ctx context.Context, tenantID, chatID, userID int64) (bool, error) {
	ok, err := s.subjectValid(ctx, tenantID, entities.GroupSubject(chatID))
	if err != nil || ok {
		return ok, err
	}
	if userID == 0 {
		return false, nil
	}
	return s.subjectValid(ctx, tenantID, entities.UserSubject(userID))
}

func (s *LicenseService) subjectValid(ctx context.Context, tenantID int64, subject entities.LicenseSubject) (bool, error) {
	snap, found, err := s.snapshot(ctx, tenantID, subject.ChatKey())
	if err != nil || !found {
		return false, err
	}
	return snap.LicensedAt(s.now()), nil
}

// snapshot reads through the cache without creating rows; absent rows are
// not cached.
func (s *LicenseService) snapshot(ctx context.Context, tenantID, chatKey int64) (entities.ConfigSnapshot, bool, error) {
	snap, version, ok := s.cache.Get(ctx, tenantID, chatKey)
	if ok {
		return snap, true, nil
	}
	cfg, err := s.store.GetChatConfig(ctx, tenantID, chatKey, false)
	if err != nil {
		return entities.ConfigSnapshot{}, false, err
	}
	if cfg == nil {
		return entities.ConfigSnapshot{}, false, nil
	}
	snap = cfg.Snapshot()
	s.cache.Fill(ctx, tenantID, chatKey, version, snap)
	return snap, true, nil
}

// Info returns subject's license state.
func (s *LicenseService) Info(ctx context.Context, tenantID int64, subject entities.LicenseSubject) (LicenseInfo, error) {
	info := LicenseInfo{Subject: subject}
	snap, found, err := s.snapshot(ctx, tenantID, subject.ChatKey())
	if err != nil || !found {
		return info, err
	}
	info.ExpireAt = snap.ExpireAt
	info.LicenseKey = snap.LicenseKey
	info.Valid = snap.LicensedAt(s.now())
	return info, nil
}
