package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

type RecordKind string

const (
	KindDeposit RecordKind = "deposit"
	KindPayout  RecordKind = "payout"
)

func (k RecordKind) Valid() bool {
	return k == KindDeposit || k == KindPayout
}

type Currency string

const (
	CurrencyUSD Currency = "usd"
	CurrencyPHP Currency = "php"
	CurrencyMYR Currency = "myr"
	CurrencyTHB Currency = "thb"
)

type DisplayMode string

const (
	ModeNoDecimals DisplayMode = "no_decimals"
	ModeCount      DisplayMode = "count"
	ModeOriginal   DisplayMode = "original"
)

// ChatConfig is the store-bound configuration row of one (tenant, chat).
// It is only ever obtained from the durable store inside a unit of work;
// mutate it there and persist it with UpdateChatConfig.
type ChatConfig struct {
	ID              int64
	TenantID        int64
	ChatID          int64
	ChatName        string
	IsActive        bool
	ActiveStartTime *time.Time
	FeePercent      decimal.Decimal
	USDRate         decimal.Decimal
	PHPRate         decimal.Decimal
	MYRRate         decimal.Decimal
	THBRate         decimal.Decimal
	DecimalMode     bool
	SimpleMode      bool
	ExpireAt        *time.Time
	LicenseKey      string
	UpdatedAt       time.Time
}

// NewChatConfig returns the default row created on first access.
func NewChatConfig(tenantID, chatID int64, name string) *ChatConfig {
	return &ChatConfig{
		TenantID:    tenantID,
		ChatID:      chatID,
		ChatName:    name,
		FeePercent:  decimal.Zero,
		USDRate:     decimal.Zero,
		PHPRate:     decimal.Zero,
		MYRRate:     decimal.Zero,
		THBRate:     decimal.Zero,
		DecimalMode: true,
	}
}

// Rate returns the exchange rate for c.
func (c *ChatConfig) Rate(cur Currency) (decimal.Decimal, error) {
	switch cur {
	case CurrencyUSD:
		return c.USDRate, nil
	case CurrencyPHP:
		return c.PHPRate, nil
	case CurrencyMYR:
		return c.MYRRate, nil
	case CurrencyTHB:
		return c.THBRate, nil
	}
	return decimal.Zero, ErrUnknownRate
}

// SetRate stores v as the exchange rate for cur.
func (c *ChatConfig) SetRate(cur Currency, v decimal.Decimal) error {
	switch cur {
	case CurrencyUSD:
		c.USDRate = v
	case CurrencyPHP:
		c.PHPRate = v
	case CurrencyMYR:
		c.MYRRate = v
	case CurrencyTHB:
		c.THBRate = v
	default:
		return ErrUnknownRate
	}
	return nil
}

// Snapshot copies the row into a read-only value.
func (c *ChatConfig) Snapshot() ConfigSnapshot {
	return ConfigSnapshot{
		TenantID:        c.TenantID,
		ChatID:          c.ChatID,
		ChatName:        c.ChatName,
		IsActive:        c.IsActive,
		ActiveStartTime: copyTime(c.ActiveStartTime),
		FeePercent:      c.FeePercent,
		USDRate:         c.USDRate,
		PHPRate:         c.PHPRate,
		MYRRate:         c.MYRRate,
		THBRate:         c.THBRate,
		DecimalMode:     c.DecimalMode,
		SimpleMode:      c.SimpleMode,
		ExpireAt:        copyTime(c.ExpireAt),
		LicenseKey:      c.LicenseKey,
		UpdatedAt:       c.UpdatedAt,
	}
}

// ConfigSnapshot is a detached read view of a ChatConfig, as served by the
// configuration cache. Nothing accepts it for persistence.
type ConfigSnapshot struct {
	TenantID        int64           `json:"tenant_id"`
	ChatID          int64           `json:"chat_id"`
	ChatName        string          `json:"chat_name"`
	IsActive        bool            `json:"is_active"`
	ActiveStartTime *time.Time      `json:"active_start_time"`
	FeePercent      decimal.Decimal `json:"fee_percent"`
	USDRate         decimal.Decimal `json:"usd_rate"`
	PHPRate         decimal.Decimal `json:"php_rate"`
	MYRRate         decimal.Decimal `json:"myr_rate"`
	THBRate         decimal.Decimal `json:"thb_rate"`
	DecimalMode     bool            `json:"decimal_mode"`
	SimpleMode      bool            `json:"simple_mode"`
	ExpireAt        *time.Time      `json:"expire_at"`
	LicenseKey      string          `json:"license_key"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// LicensedAt reports whether the license is still valid at now.
// An expiry equal to now is already expired.
func (s ConfigSnapshot) LicensedAt(now time.Time) bool {
	return s.ExpireAt != nil && s.ExpireAt.After(now)
}

// Record is one immutable ledger line.
type Record struct {
	ID           int64           `json:"id"`
	TenantID     int64           `json:"tenant_id"`
	ChatID       int64           `json:"chat_id"`
	Kind         RecordKind      `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	OperatorID   int64           `json:"operator_id"`
	OperatorName string          `json:"operator_name"`
	FeeApplied   decimal.Decimal `json:"fee_applied"`
	RateSnapshot decimal.Decimal `json:"rate_snapshot"`
	CreatedAt    time.Time       `json:"created_at"`
	OriginalText string          `json:"original_text"`
}

// DailySummary aggregates one settlement window. TotalFee sums the fees
// snapshotted on the window's deposits.
type DailySummary struct {
	TotalDeposit decimal.Decimal `json:"total_deposit"`
	TotalFee     decimal.Decimal `json:"total_fee"`
	TotalPayout  decimal.Decimal `json:"total_payout"`
	CountDeposit int             `json:"count_deposit"`
	CountPayout  int             `json:"count_payout"`
	WindowStart  time.Time       `json:"window_start"`
	WindowEnd    time.Time       `json:"window_end"`
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
