package usecases

import (
	"context"
	"strings"
	"testing"
	"time"

	"ledgerbot/internal/infrastructure"
	"ledgerbot/internal/interfaces"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type messageFixture struct {
	svc      *MessageService
	ledger   *LedgerService
	licenses *LicenseService
	bot      *fakeBot
	clock    *fakeClock
}

func newTestRuntimes() *infrastructure.RuntimeManager {
	dial := func(ctx context.Context, token string) (interfaces.BotAPI, tgbotapi.User, error) {
		return newFakeBot(), tgbotapi.User{ID: 1, UserName: token + "_bot"}, nil
	}
	return infrastructure.NewRuntimeManager(infrastructure.RuntimeManagerConfig{
		Mode:         infrastructure.ModeWebhook,
		Domain:       "bots.example.com",
		SecretKey:    "test-secret",
		StartTimeout: time.Second,
		StopTimeout:  time.Second,
	}, dial, zap.NewNop(), nil)
}

func newMessageFixture(t *testing.T) *messageFixture {
	t.Helper()
	store := newTestStore(t)
	cache := newMapCache()
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, shanghai)}

	ledger := NewLedgerService(store, cache, shanghai, zap.NewNop(), nil)
	ledger.now = clock.Now
	licenses := NewLicenseService(store, cache, zap.NewNop())
	licenses.now = clock.Now
	tenants := NewTenantService(store, newTestRuntimes(), zap.NewNop())

	return &messageFixture{
		svc:      NewMessageService(ledger, licenses, tenants, "bots.example.com", zap.NewNop()),
		ledger:   ledger,
		licenses: licenses,
		bot:      newFakeBot(),
		clock:    clock,
	}
}

// say sends text to the group as user 5 and returns the last reply.
func (f *messageFixture) say(t *testing.T, text string) tgbotapi.MessageConfig {
	t.Helper()
	f.bot.Reset()
	assert.Equal(t, interfaces.Continue, f.svc.Handle(context.Background(), groupEvent(f.bot, testTenant, testChat, 5, text)))
	return f.bot.Last()
}

func (f *messageFixture) sayPrivate(t *testing.T, text string) tgbotapi.MessageConfig {
	t.Helper()
	f.bot.Reset()
	f.svc.Handle(context.Background(), privateEvent(f.bot, testTenant, 5, text))
	return f.bot.Last()
}

func TestMessageService_RecordingLifecycle(t *testing.T) {
	f := newMessageFixture(t)

	assert.Equal(t, msgNotStarted, f.say(t, "+100").Text)

	reply := f.say(t, "开始")
	assert.Equal(t, msgStarted, reply.Text)
	assert.Nil(t, reply.ReplyMarkup, "no menu keyboard in groups")

	f.say(t, "+100")
	f.say(t, "+250.50")
	bill := f.say(t, "下发50")
	assert.Equal(t, tgbotapi.ModeHTML, bill.ParseMode)
	assert.Contains(t, bill.Text, "入款 (2笔)：")
	assert.Contains(t, bill.Text, "下发 (1笔)：")
	assert.Contains(t, bill.Text, "总入款：350.50")
	assert.Contains(t, bill.Text, "未下发：300.50")

	kb, ok := bill.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, kb.InlineKeyboard, 3)
	require.NotNil(t, kb.InlineKeyboard[0][0].URL)
	assert.Equal(t, "http://bots.example.com/bill/1/-1001", *kb.InlineKeyboard[0][0].URL)
	assert.Equal(t, "24小时客服", kb.InlineKeyboard[2][0].Text)

	assert.Equal(t, msgStopped, f.say(t, "结束记录").Text)
	assert.Equal(t, msgNotStarted, f.say(t, "+1").Text)
}

func TestMessageService_PrivateStartShowsMenu(t *testing.T) {
	f := newMessageFixture(t)

	reply := f.sayPrivate(t, "/start")
	assert.Equal(t, msgStarted, reply.Text)
	kb, ok := reply.ReplyMarkup.(tgbotapi.ReplyKeyboardMarkup)
	require.True(t, ok)
	assert.Len(t, kb.Keyboard, 4)
	assert.Equal(t, btnTrial, kb.Keyboard[0][0].Text)
}

func TestMessageService_MenuButtons(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()

	assert.Equal(t, msgOperatorHelp, f.sayPrivate(t, btnSetOperator).Text)
	assert.Equal(t, msgOwnerHelp, f.sayPrivate(t, btnSetOwner).Text)
	assert.Equal(t, msgRenew, f.sayPrivate(t, btnRenew).Text)

	lc, err := f.licenses.GenerateCode(ctx, 7)
	require.NoError(t, err)
	f.sayPrivate(t, "/activate "+lc.Code)
	got := f.sayPrivate(t, btnRenew).Text
	assert.True(t, strings.HasPrefix(got, "📅 当前结束时间：2024-05-08 12:00\n"))
	assert.Contains(t, got, "/activate")
}

// pick sends text from user 5 with the given users text-mentioned.
func (f *messageFixture) pick(t *testing.T, text string, users ...*tgbotapi.User) tgbotapi.MessageConfig {
	t.Helper()
	f.bot.Reset()
	ev := groupEvent(f.bot, testTenant, testChat, 5, text)
	for _, u := range users {
		ev.Update.Message.Entities = append(ev.Update.Message.Entities,
			tgbotapi.MessageEntity{Type: "text_mention", Length: 2, User: u})
	}
	f.svc.Handle(context.Background(), ev)
	return f.bot.Last()
}

func TestMessageService_Operators(t *testing.T) {
	f := newMessageFixture(t)
	bob := &tgbotapi.User{ID: 42, FirstName: "Bob"}
	carol := &tgbotapi.User{ID: 43, FirstName: "Carol", LastName: "<C>"}

	assert.Equal(t, msgAdminOnly, f.pick(t, "设置操作人 @Bob", bob).Text)

	f.bot.SetStatus("administrator")
	assert.Equal(t, msgNeedMention, f.pick(t, "设置操作人").Text)
	assert.Equal(t, "✅ 已添加操作人: Bob", f.pick(t, "设置操作人 @Bob", bob).Text)
	assert.Equal(t, "✅ 已添加操作人: Bob", f.pick(t, "设置操作人 @Bob", bob).Text, "adding twice is harmless")

	f.bot.Reset()
	ev := groupEvent(f.bot, testTenant, testChat, 5, "设置操作人")
	ev.Update.Message.ReplyToMessage = &tgbotapi.Message{MessageID: 9, From: carol}
	f.svc.Handle(context.Background(), ev)
	assert.Equal(t, "✅ 已添加操作人: Carol <C>", f.bot.Last().Text)

	list := f.say(t, "显示操作人")
	assert.Equal(t, tgbotapi.ModeHTML, list.ParseMode)
	assert.Equal(t, "👤 <b>当前操作人列表：</b>\n- Bob (ID: 42)\n- Carol &lt;C&gt; (ID: 43)", list.Text)

	assert.Equal(t, msgRemoveUnknown, f.pick(t, "删除操作人").Text)
	assert.Equal(t, "🗑️ 已删除操作人: Bob", f.pick(t, "删除操作人 @Bob", bob).Text)
	assert.Equal(t, msgRemoveUnknown, f.pick(t, "删除操作人 @Bob", bob).Text)

	ops, err := f.ledger.Operators(context.Background(), testTenant, testChat)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, int64(43), ops[0].UserID)

	f.pick(t, "删除操作人 @Carol", carol)
	assert.Equal(t, msgNoOperators, f.say(t, "显示操作人").Text)
}

func TestMessageService_FeeAndRates(t *testing.T) {
	f := newMessageFixture(t)
	f.say(t, "开始")

	assert.Equal(t, "✅ 费率已设置为 5%", f.say(t, "设置费率5%").Text)
	bill := f.say(t, "+1000")
	assert.Contains(t, bill.Text, "费率：5%")
	assert.Contains(t, bill.Text, "应下发：950.00")

	assert.Equal(t, msgNoUSDRate, f.say(t, "下发10u").Text)

	f.say(t, "设置美元汇率7")
	bill = f.say(t, "下发10u")
	assert.Contains(t, bill.Text, "<b>70.00</b>")
	assert.Contains(t, bill.Text, "汇率：7")

	assert.Equal(t, "⚠️ 数值无效", f.say(t, "设置费率150%").Text)

	f.say(t, "设置为无小数")
	assert.Contains(t, f.say(t, "+0.5").Text, "总入款：1000\n")

	assert.Equal(t, "✅ 已切换为计数模式", f.say(t, "设置为计数模式").Text)
	assert.NotContains(t, f.say(t, "+1").Text, "<b>1</b>", "count mode hides the lines")
	assert.Equal(t, "✅ 已切换为原始模式", f.say(t, "设置为原始模式").Text)
	assert.Contains(t, f.say(t, "+1").Text, "总入款：1002.50\n")
}

func TestMessageService_RecentRecords(t *testing.T) {
	f := newMessageFixture(t)

	assert.Equal(t, "📭 暂无账单记录", f.say(t, "显示账单").Text)

	f.say(t, "开始")
	f.say(t, "+100")
	f.clock.Advance(time.Second)
	f.say(t, "下发20")

	got := f.say(t, "显示账单").Text
	assert.True(t, strings.HasPrefix(got, "📄 <b>最近 5 笔账单：</b>"))
	assert.Less(t, strings.Index(got, "下发"), strings.Index(got, "入款"), "newest first")
	assert.Contains(t, got, "👤 操作: Alice")
}

func TestMessageService_ClearTodayRequiresAdmin(t *testing.T) {
	f := newMessageFixture(t)
	f.say(t, "开始")
	f.say(t, "+100")

	assert.Equal(t, msgAdminOnly, f.say(t, "清理今天数据").Text)

	f.bot.SetStatus("administrator")
	assert.Equal(t, msgCleared, f.say(t, "清理今天数据").Text)

	sum, err := f.ledger.GetDailySummary(context.Background(), testTenant, testChat)
	require.NoError(t, err)
	assert.Zero(t, sum.CountDeposit)
}

func TestMessageService_Activation(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()

	assert.Equal(t, msgNoLicense, f.say(t, "到期时间").Text)
	assert.Equal(t, msgActivateAdmin, f.say(t, "/activate HY-AAAA-BBBB-CCCC").Text)

	f.bot.SetStatus("creator")
	assert.Equal(t, msgActivateUsage, f.say(t, "/activate").Text)
	assert.Equal(t, "❌ 激活失败: 无效的激活码", f.say(t, "/activate HY-AAAA-BBBB-CCCC").Text)

	lc, err := f.licenses.GenerateCode(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, "🎉 激活成功！有效期至：2024-05-31 12:00", f.say(t, "/activate "+lc.Code).Text)
	assert.Equal(t, "❌ 激活失败: 激活码已被使用", f.say(t, "/activate "+lc.Code).Text)
	assert.Equal(t, "📅 你已有权限啦，结束时间：2024-05-31 12:00", f.say(t, "到期时间").Text)
}

func TestMessageService_Trial(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()

	assert.Equal(t, msgTrialInGroup, f.say(t, "试用").Text)
	assert.Equal(t, msgTrialContact, f.sayPrivate(t, "试用").Text)

	lc, err := f.licenses.GenerateCode(ctx, 7)
	require.NoError(t, err)
	f.sayPrivate(t, "/activate "+lc.Code)
	assert.Equal(t, "✅ 您已有有效授权，有效期至: 2024-05-08", f.sayPrivate(t, "试用").Text)
}

func TestMessageService_IgnoresChatter(t *testing.T) {
	f := newMessageFixture(t)
	f.say(t, "开始")
	f.bot.Reset()

	ev := groupEvent(f.bot, testTenant, testChat, 5, "good morning")
	assert.Equal(t, interfaces.Continue, f.svc.Handle(context.Background(), ev))
	assert.Empty(t, f.bot.Texts())
}
