package interfaces

import (
	"context"
	"strings"
	"time"

	"ledgerbot/internal/entities"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// LedgerStore is the durable source of truth. Every mutation runs inside
// InTx; returning an error from fn abandons the unit of work.
type LedgerStore interface {
	InTx(ctx context.Context, fn func(q LedgerQueries) error) error
	LedgerQueries
	Close()
}

// LedgerQueries are the statements available inside and outside a unit of work.
type LedgerQueries interface {
	// GetChatConfig returns nil, nil when no row exists. forUpdate locks the
	// row for the rest of the unit of work where the backend supports it.
	GetChatConfig(ctx context.Context, tenantID, chatID int64, forUpdate bool) (*entities.ChatConfig, error)
	// CreateChatConfig inserts cfg unless the row exists; it reports whether
	// this call created it and fills cfg with the stored row.
	CreateChatConfig(ctx context.Context, cfg *entities.ChatConfig) (bool, error)
	UpdateChatConfig(ctx context.Context, cfg *entities.ChatConfig) error
	ListActiveChats(ctx context.Context) ([]entities.ChatConfig, error)

	InsertRecord(ctx context.Context, rec *entities.Record) error
	SummarizeRecords(ctx context.Context, tenantID, chatID int64, from, to time.Time) (entities.DailySummary, error)
	// ListRecords returns up to limit records in [from, to), newest first.
	// An empty kind matches both types.
	ListRecords(ctx context.Context, tenantID, chatID int64, from, to time.Time, limit int, kind entities.RecordKind) ([]entities.Record, error)
	DeleteRecords(ctx context.Context, tenantID, chatID int64, from, to time.Time) (int64, error)

	// AddOperator inserts op unless the user is already an operator of the
	// chat; it reports whether this call added it.
	AddOperator(ctx context.Context, op *entities.Operator) (bool, error)
	RemoveOperator(ctx context.Context, tenantID, chatID, userID int64) (bool, error)
	ListOperators(ctx context.Context, tenantID, chatID int64) ([]entities.Operator, error)

	InsertLicenseCode(ctx context.Context, lc *entities.LicenseCode) error
	GetLicenseCode(ctx context.Context, code string, forUpdate bool) (*entities.LicenseCode, error)
	MarkLicenseCodeUsed(ctx context.Context, id int64, chatID int64, at time.Time) error

	CreateTenant(ctx context.Context, t *entities.Tenant) error
	GetTenant(ctx context.Context, id int64) (*entities.Tenant, error)
	ListTenants(ctx context.Context, status entities.TenantStatus) ([]entities.Tenant, error)
	SetTenantStatus(ctx context.Context, id int64, status entities.TenantStatus) error
}

// ConfigCache is the read-through cache of configuration snapshots.
//
// Get also returns the entry's version. After a miss, load the store and
// pass that version to Fill; Fill drops the snapshot when the entry was
// invalidated in between.
type ConfigCache interface {
	Get(ctx context.Context, tenantID, chatID int64) (snap entities.ConfigSnapshot, version int64, ok bool)
	Fill(ctx context.Context, tenantID, chatID int64, version int64, snap entities.ConfigSnapshot)
	Invalidate(ctx context.Context, tenantID, chatID int64)
}

// Notifier delivers a text to a chat through a tenant's live runtime.
type Notifier interface {
	Notify(ctx context.Context, tenantID, chatID int64, text string) error
}

// BotAPI is the subset of *tgbotapi.BotAPI a tenant runtime uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

// Verdict tells the dispatcher whether later handlers see the event.
type Verdict int

const (
	Continue Verdict = iota
	Halt
)

func (v Verdict) String() string {
	if v == Halt {
		return "halt"
	}
	return "continue"
}

// Handler processes one inbound event.
type Handler interface {
	Handle(ctx context.Context, ev *Event) Verdict
}

type HandlerFunc func(ctx context.Context, ev *Event) Verdict

func (f HandlerFunc) Handle(ctx context.Context, ev *Event) Verdict { return f(ctx, ev) }

// Event is one update delivered to a tenant runtime.
type Event struct {
	TenantID int64
	Update   tgbotapi.Update
	Bot      BotAPI
}

// Chat returns the chat the update belongs to, or nil.
func (e *Event) Chat() *tgbotapi.Chat {
	return e.Update.FromChat()
}

// ChatID returns 0 when the update has no chat.
func (e *Event) ChatID() int64 {
	if c := e.Chat(); c != nil {
		return c.ID
	}
	return 0
}

// UserID returns 0 when the update has no sender.
func (e *Event) UserID() int64 {
	if u := e.Update.SentFrom(); u != nil {
		return u.ID
	}
	return 0
}

func (e *Event) IsPrivate() bool {
	c := e.Chat()
	return c != nil && c.IsPrivate()
}

// Text returns the trimmed message text, or "".
func (e *Event) Text() string {
	if e.Update.Message == nil {
		return ""
	}
	return strings.TrimSpace(e.Update.Message.Text)
}

// OperatorName is the display name of the sender.
func (e *Event) OperatorName() string {
	u := e.Update.SentFrom()
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}

// Reply sends text to the event's chat, quoting the message when there is one.
func (e *Event) Reply(text string) error {
	chatID := e.ChatID()
	if chatID == 0 {
		return nil
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if e.Update.Message != nil {
		msg.ReplyToMessageID = e.Update.Message.MessageID
	}
	_, err := e.Bot.Send(msg)
	return err
}
