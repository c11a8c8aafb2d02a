package usecases

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"ledgerbot/internal/entities"
	"ledgerbot/internal/interfaces"
	"ledgerbot/internal/repository"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"
)

var shanghai = mustLocation("Asia/Shanghai")

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone(name, 8*3600)
	}
	return loc
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Set(t time.Time)         { c.t = t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// mapCache is an in-process ConfigCache that counts invalidations.
type mapCache struct {
	mu          sync.Mutex
	entries     map[string]entities.ConfigSnapshot
	invalidated map[string]int
	gets        int
}

func newMapCache() *mapCache {
	return &mapCache{
		entries:     map[string]entities.ConfigSnapshot{},
		invalidated: map[string]int{},
	}
}

func cacheKey(tenantID, chatID int64) string {
	return fmt.Sprintf("%d/%d", tenantID, chatID)
}

// Get uses the invalidation count as the entry version.
func (c *mapCache) Get(_ context.Context, tenantID, chatID int64) (entities.ConfigSnapshot, int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	key := cacheKey(tenantID, chatID)
	snap, ok := c.entries[key]
	return snap, int64(c.invalidated[key]), ok
}

func (c *mapCache) Fill(_ context.Context, tenantID, chatID int64, version int64, snap entities.ConfigSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey(tenantID, chatID)
	if int64(c.invalidated[key]) != version {
		return
	}
	c.entries[key] = snap
}

func (c *mapCache) Invalidate(_ context.Context, tenantID, chatID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey(tenantID, chatID)
	delete(c.entries, key)
	c.invalidated[key]++
}

func (c *mapCache) Cached(tenantID, chatID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[cacheKey(tenantID, chatID)]
	return ok
}

func (c *mapCache) Invalidations(tenantID, chatID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidated[cacheKey(tenantID, chatID)]
}

func newTestStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()
	store, err := repository.NewSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

// fakeBot captures outbound messages.
type fakeBot struct {
	mu     sync.Mutex
	sent   []tgbotapi.Chattable
	status string
}

func newFakeBot() *fakeBot {
	return &fakeBot{status: "member"}
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, c)
	return tgbotapi.Message{}, nil
}

func (b *fakeBot) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (b *fakeBot) MakeRequest(string, tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (b *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (b *fakeBot) StopReceivingUpdates() {}

func (b *fakeBot) GetChatMember(tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return tgbotapi.ChatMember{Status: b.status}, nil
}

func (b *fakeBot) SetStatus(s string) {
	b.mu.Lock()
	b.status = s
	b.mu.Unlock()
}

// Texts returns the text of every message sent so far.
func (b *fakeBot) Texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, c := range b.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

func (b *fakeBot) Last() tgbotapi.MessageConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.sent) - 1; i >= 0; i-- {
		if m, ok := b.sent[i].(tgbotapi.MessageConfig); ok {
			return m
		}
	}
	return tgbotapi.MessageConfig{}
}

func (b *fakeBot) Reset() {
	b.mu.Lock()
	b.sent = nil
	b.mu.Unlock()
}

// groupEvent builds a text message from userID in a group chat.
func groupEvent(bot *fakeBot, tenantID, chatID, userID int64, text string) *interfaces.Event {
	return textEvent(bot, tenantID, &tgbotapi.Chat{ID: chatID, Type: "supergroup", Title: "ops"}, userID, text)
}

func privateEvent(bot *fakeBot, tenantID, userID int64, text string) *interfaces.Event {
	return textEvent(bot, tenantID, &tgbotapi.Chat{ID: userID, Type: "private"}, userID, text)
}

func textEvent(bot *fakeBot, tenantID int64, chat *tgbotapi.Chat, userID int64, text string) *interfaces.Event {
	return &interfaces.Event{
		TenantID: tenantID,
		Bot:      bot,
		Update: tgbotapi.Update{
			UpdateID: 1,
			Message: &tgbotapi.Message{
				MessageID: 10,
				Chat:      chat,
				From:      &tgbotapi.User{ID: userID, FirstName: "Alice", UserName: "alice"},
				Text:      text,
			},
		},
	}
}
