package usecases

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"ledgerbot/internal/entities"
	"ledgerbot/internal/interfaces"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const (
	msgStarted       = "✅ 机器人已开启，开始记录今日账单 (4:00 - 4:00)"
	msgStopped       = "🛑 记录已结束"
	msgNotStarted    = "⚠️ 请先输入“开始”以开启今日记录"
	msgNoUSDRate     = "⚠️ 未设置美元汇率，无法使用 U 结算"
	msgAdminOnly     = "⚠️ 只有管理员可以执行此操作"
	msgActivateAdmin = "⚠️ 只有管理员可以激活机器人"
	msgActivateUsage = "⚠️ 请输入激活码 (例如: /activate HY-XXXX-XXXX-XXXX)"
	msgCleared       = "🗑️ 今日数据已清理"
	msgNoLicense     = "⏳ 暂无授权信息，请使用 /activate 激活"
	msgTrialInGroup  = "⚠️ 请私聊机器人申请试用"
	msgTrialContact  = "📝 试用需由管理员开通，请联系管理员获取激活码后发送 /activate 激活码"
	msgFailed        = "❌ 操作失败，请稍后再试"
	msgRenew         = "💳 续费请联系管理员获取激活码，然后发送 /activate 激活码"
	msgOwnerHelp     = "请购买后再使用此功能！(目前仅限群主/管理员可操作)"
	msgOperatorHelp  = "群内发：设置操作人 @xxxxx\n先打空格再打@，会弹出选择更方便。"
	msgNeedMention   = "⚠️ 请@用户来设置操作人"
	msgNoOperators   = "📭 当前无操作人"
	msgRemoveUnknown = "⚠️ 未能识别要删除的用户"
	timeLayout       = "2006-01-02 15:04"
)

const msgManual = "📖 <b>使用说明</b>\n\n" +
	"开始 / 结束记录：开启或结束今日记账\n" +
	"+100 或 入款100：记录入款\n" +
	"下发100 或 下发100u：记录下发 (u 按美元汇率换算)\n" +
	"显示账单：查看最近账单\n" +
	"设置费率5%：设置入款费率\n" +
	"设置美元汇率7.2：设置汇率 (另有比索、马币、泰铢)\n" +
	"设置为无小数 / 设置为计数模式 / 设置为原始模式：切换显示方式\n" +
	"清理今天数据：清除今日记录 (仅管理员)\n" +
	"设置操作人 @用户 / 删除操作人 @用户 / 显示操作人：管理操作人 (仅管理员)\n" +
	"/activate 激活码：激活机器人"

var modeLabels = map[entities.DisplayMode]string{
	entities.ModeNoDecimals: "无小数模式",
	entities.ModeCount:      "计数模式",
	entities.ModeOriginal:   "原始模式",
}

// MessageService handles bookkeeping commands. It runs after the license
// gate, so every group event it sees is licensed.
type MessageService struct {
	ledger   *LedgerService
	licenses *LicenseService
	tenants  *TenantService
	domain   string
	logger   *zap.Logger
}

var _ interfaces.Handler = (*MessageService)(nil)

func NewMessageService(ledger *LedgerService, licenses *LicenseService, tenants *TenantService, domain string, logger *zap.Logger) *MessageService {
	return &MessageService{
		ledger:   ledger,
		licenses: licenses,
		tenants:  tenants,
		domain:   domain,
		logger:   logger,
	}
}

func (s *MessageService) Handle(ctx context.Context, ev *interfaces.Event) interfaces.Verdict {
	if ev.Update.Message == nil || ev.Chat() == nil {
		return interfaces.Continue
	}
	if err := s.ProcessMessage(ctx, ev); err != nil {
		s.logger.Error("failed to process message",
			zap.Int64("tenant_id", ev.TenantID),
			zap.Int64("chat_id", ev.ChatID()),
			zap.Error(err))
	}
	return interfaces.Continue
}

// ProcessMessage routes one text message. Order matters: exact commands
// first, then the parameterized ones, then transactions.
func (s *MessageService) ProcessMessage(ctx context.Context, ev *interfaces.Event) error {
	text := ev.Text()
	if text == "" {
		return nil
	}

	switch {
	case text == btnStart || isStartCommand(text):
		return s.handleStart(ctx, ev)
	case text == "结束记录":
		return s.handleStop(ctx, ev)
	case text == "显示账单":
		return s.handleRecent(ctx, ev)
	case text == "清理今天数据":
		return s.handleClear(ctx, ev)
	case text == btnExpiry:
		return s.handleExpiry(ctx, ev)
	case text == btnTrial:
		return s.handleTrial(ctx, ev)
	case text == btnManual:
		return s.sendHTML(ev, msgManual, nil)
	case text == btnRenew:
		return s.handleRenew(ctx, ev)
	case text == btnSetOwner:
		return ev.Reply(msgOwnerHelp)
	case text == btnSetOperator:
		return ev.Reply(msgOperatorHelp)
	case text == "显示操作人":
		return s.handleListOperators(ctx, ev)
	case strings.HasPrefix(text, "设置操作人"):
		return s.handleAddOperators(ctx, ev)
	case strings.HasPrefix(text, "删除操作人"):
		return s.handleRemoveOperators(ctx, ev)
	}

	if code, ok := ParseActivate(text); ok {
		return s.handleActivate(ctx, ev, code)
	}
	if mode, ok := ParseDisplayMode(text); ok {
		return s.handleDisplayMode(ctx, ev, mode)
	}
	if pct, ok := ParseFeeCommand(text); ok {
		if err := s.ledger.SetFeePercent(ctx, ev.TenantID, ev.ChatID(), pct); err != nil {
			return s.replyError(ev, err)
		}
		return ev.Reply(fmt.Sprintf("✅ 费率已设置为 %s%%", pct.String()))
	}
	if cur, rate, ok := ParseRateCommand(text); ok {
		if err := s.ledger.SetExchangeRate(ctx, ev.TenantID, ev.ChatID(), cur, rate); err != nil {
			return s.replyError(ev, err)
		}
		return ev.Reply(fmt.Sprintf("✅ 汇率已设置为 %s", rate.String()))
	}
	if tx, ok := ParseTransaction(text); ok {
		return s.handleTransaction(ctx, ev, tx)
	}
	return nil
}

func isStartCommand(text string) bool {
	cmd := strings.Fields(text)[0]
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return cmd == "/start"
}

func (s *MessageService) handleStart(ctx context.Context, ev *interfaces.Event) error {
	chat := ev.Chat()
	if _, err := s.ledger.GetOrCreateConfiguration(ctx, ev.TenantID, chat.ID, chatName(chat)); err != nil {
		return err
	}
	if err := s.ledger.StartRecording(ctx, ev.TenantID, chat.ID); err != nil {
		return err
	}
	if ev.IsPrivate() {
		msg := tgbotapi.NewMessage(chat.ID, msgStarted)
		msg.ReplyMarkup = MainMenuKeyboard()
		_, err := ev.Bot.Send(msg)
		return err
	}
	return ev.Reply(msgStarted)
}

func (s *MessageService) handleStop(ctx context.Context, ev *interfaces.Event) error {
	if err := s.ledger.StopRecording(ctx, ev.TenantID, ev.ChatID()); err != nil {
		return err
	}
	return ev.Reply(msgStopped)
}

func (s *MessageService) handleTransaction(ctx context.Context, ev *interfaces.Event, tx TransactionCommand) error {
	chat := ev.Chat()
	snap, err := s.ledger.GetOrCreateConfiguration(ctx, ev.TenantID, chat.ID, chatName(chat))
	if err != nil {
		return err
	}
	if !snap.IsActive {
		return ev.Reply(msgNotStarted)
	}

	amount := tx.Amount
	if tx.InUSD {
		if !snap.USDRate.IsPositive() {
			return ev.Reply(msgNoUSDRate)
		}
		amount = amount.Mul(snap.USDRate)
	}

	_, err = s.ledger.RecordTransaction(ctx, ev.TenantID, chat.ID, tx.Kind, amount, ev.UserID(), ev.OperatorName(), ev.Text())
	switch {
	case errors.Is(err, entities.ErrNotRecording):
		return ev.Reply(msgNotStarted)
	case err != nil:
		return s.replyError(ev, err)
	}
	return s.sendBill(ctx, ev)
}

// sendBill replies with the current window's bill and the tenant's buttons.
func (s *MessageService) sendBill(ctx context.Context, ev *interfaces.Event) error {
	chatID := ev.ChatID()
	snap, err := s.ledger.GetOrCreateConfiguration(ctx, ev.TenantID, chatID, "")
	if err != nil {
		return err
	}
	bill, err := s.ledger.billFor(ctx, ev.TenantID, chatID, snap, billLines)
	if err != nil {
		return err
	}
	kb := BillKeyboard(s.tenants.ButtonConfig(ctx, ev.TenantID), s.domain, ev.TenantID, chatID)
	return s.sendHTML(ev, bill.RenderHTML(s.ledger.Location()), kb)
}

func (s *MessageService) handleRecent(ctx context.Context, ev *interfaces.Event) error {
	snap, err := s.ledger.GetOrCreateConfiguration(ctx, ev.TenantID, ev.ChatID(), "")
	if err != nil {
		return err
	}
	records, err := s.ledger.GetRecentRecords(ctx, ev.TenantID, ev.ChatID(), billLines, "")
	if err != nil {
		return err
	}
	return s.sendHTML(ev, RenderRecent(records, snap.DecimalMode, s.ledger.Location()), nil)
}

func (s *MessageService) handleClear(ctx context.Context, ev *interfaces.Event) error {
	if !s.isAdmin(ev) {
		return ev.Reply(msgAdminOnly)
	}
	if _, err := s.ledger.ClearToday(ctx, ev.TenantID, ev.ChatID()); err != nil {
		return s.replyError(ev, err)
	}
	return ev.Reply(msgCleared)
}

func (s *MessageService) handleDisplayMode(ctx context.Context, ev *interfaces.Event, mode entities.DisplayMode) error {
	if err := s.ledger.SetDisplayMode(ctx, ev.TenantID, ev.ChatID(), mode); err != nil {
		return s.replyError(ev, err)
	}
	return ev.Reply("✅ 已切换为" + modeLabels[mode])
}

func (s *MessageService) handleActivate(ctx context.Context, ev *interfaces.Event, code string) error {
	if !s.isAdmin(ev) {
		return ev.Reply(msgActivateAdmin)
	}
	if code == "" {
		return ev.Reply(msgActivateUsage)
	}
	red, err := s.licenses.Redeem(ctx, ev.TenantID, code, subjectOf(ev))
	switch {
	case errors.Is(err, entities.ErrLicenseCodeNotFound):
		return ev.Reply("❌ 激活失败: 无效的激活码")
	case errors.Is(err, entities.ErrLicenseCodeUsed):
		return ev.Reply("❌ 激活失败: 激活码已被使用")
	case err != nil:
		return s.replyError(ev, err)
	}
	return ev.Reply("🎉 激活成功！有效期至：" + red.ExpireAt.In(s.ledger.Location()).Format(timeLayout))
}

func (s *MessageService) handleExpiry(ctx context.Context, ev *interfaces.Event) error {
	info, err := s.licenses.Info(ctx, ev.TenantID, subjectOf(ev))
	if err != nil {
		return s.replyError(ev, err)
	}
	if info.ExpireAt == nil {
		return ev.Reply(msgNoLicense)
	}
	return ev.Reply("📅 你已有权限啦，结束时间：" + info.ExpireAt.In(s.ledger.Location()).Format(timeLayout))
}

func (s *MessageService) handleTrial(ctx context.Context, ev *interfaces.Event) error {
	if !ev.IsPrivate() {
		return ev.Reply(msgTrialInGroup)
	}
	info, err := s.licenses.Info(ctx, ev.TenantID, entities.UserSubject(ev.UserID()))
	if err != nil {
		return s.replyError(ev, err)
	}
	if info.Valid {
		return ev.Reply("✅ 您已有有效授权，有效期至: " + info.ExpireAt.In(s.ledger.Location()).Format("2006-01-02"))
	}
	return ev.Reply(msgTrialContact)
}

func (s *MessageService) handleRenew(ctx context.Context, ev *interfaces.Event) error {
	info, err := s.licenses.Info(ctx, ev.TenantID, subjectOf(ev))
	if err != nil {
		return s.replyError(ev, err)
	}
	if info.ExpireAt == nil {
		return ev.Reply(msgRenew)
	}
	return ev.Reply("📅 当前结束时间：" + info.ExpireAt.In(s.ledger.Location()).Format(timeLayout) + "\n" + msgRenew)
}

func (s *MessageService) handleAddOperators(ctx context.Context, ev *interfaces.Event) error {
	if !s.isAdmin(ev) {
		return ev.Reply(msgAdminOnly)
	}
	users := pickedUsers(ev.Update.Message)
	if len(users) == 0 {
		return ev.Reply(msgNeedMention)
	}
	ops := make([]entities.Operator, 0, len(users))
	for _, u := range users {
		ops = append(ops, entities.Operator{UserID: u.ID, Username: userName(u)})
	}
	if _, err := s.ledger.AddOperators(ctx, ev.TenantID, ev.ChatID(), ops); err != nil {
		return s.replyError(ev, err)
	}
	return ev.Reply("✅ 已添加操作人: " + joinNames(users))
}

func (s *MessageService) handleRemoveOperators(ctx context.Context, ev *interfaces.Event) error {
	if !s.isAdmin(ev) {
		return ev.Reply(msgAdminOnly)
	}
	users := pickedUsers(ev.Update.Message)
	ids := make([]int64, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	removed, err := s.ledger.RemoveOperators(ctx, ev.TenantID, ev.ChatID(), ids)
	if err != nil {
		return s.replyError(ev, err)
	}
	if len(removed) == 0 {
		return ev.Reply(msgRemoveUnknown)
	}
	gone := users[:0:0]
	for _, u := range users {
		for _, id := range removed {
			if u.ID == id {
				gone = append(gone, u)
			}
		}
	}
	return ev.Reply("🗑️ 已删除操作人: " + joinNames(gone))
}

func (s *MessageService) handleListOperators(ctx context.Context, ev *interfaces.Event) error {
	ops, err := s.ledger.Operators(ctx, ev.TenantID, ev.ChatID())
	if err != nil {
		return s.replyError(ev, err)
	}
	if len(ops) == 0 {
		return ev.Reply(msgNoOperators)
	}
	var b strings.Builder
	b.WriteString("👤 <b>当前操作人列表：</b>")
	for _, op := range ops {
		fmt.Fprintf(&b, "\n- %s (ID: %d)", html.EscapeString(op.Username), op.UserID)
	}
	return s.sendHTML(ev, b.String(), nil)
}

// pickedUsers returns the users a message points at: text mentions first,
// then the author of the replied-to message. Bots are skipped.
func pickedUsers(msg *tgbotapi.Message) []*tgbotapi.User {
	var users []*tgbotapi.User
	seen := make(map[int64]bool)
	add := func(u *tgbotapi.User) {
		if u == nil || u.IsBot || seen[u.ID] {
			return
		}
		seen[u.ID] = true
		users = append(users, u)
	}
	for _, e := range msg.Entities {
		if e.Type == "text_mention" {
			add(e.User)
		}
	}
	if msg.ReplyToMessage != nil {
		add(msg.ReplyToMessage.From)
	}
	return users
}

func userName(u *tgbotapi.User) string {
	if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
		return name
	}
	return u.UserName
}

func joinNames(users []*tgbotapi.User) string {
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, userName(u))
	}
	return strings.Join(names, ", ")
}

// isAdmin treats the owner of a private chat as its admin.
func (s *MessageService) isAdmin(ev *interfaces.Event) bool {
	if ev.IsPrivate() {
		return true
	}
	member, err := ev.Bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: ev.ChatID(), UserID: ev.UserID()},
	})
	if err != nil {
		s.logger.Warn("failed to fetch chat member", zap.Int64("chat_id", ev.ChatID()), zap.Error(err))
		return false
	}
	return member.IsCreator() || member.IsAdministrator()
}

func (s *MessageService) replyError(ev *interfaces.Event, err error) error {
	switch {
	case errors.Is(err, entities.ErrInvalidAmount):
		return ev.Reply("⚠️ 数值无效")
	case errors.Is(err, entities.ErrUnknownRate):
		return ev.Reply("⚠️ 不支持的币种")
	}
	if rerr := ev.Reply(msgFailed); rerr != nil {
		s.logger.Warn("failed to send error reply", zap.Error(rerr))
	}
	return err
}

func (s *MessageService) sendHTML(ev *interfaces.Event, text string, markup any) error {
	msg := tgbotapi.NewMessage(ev.ChatID(), text)
	msg.ParseMode = tgbotapi.ModeHTML
	if ev.Update.Message != nil {
		msg.ReplyToMessageID = ev.Update.Message.MessageID
	}
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	_, err := ev.Bot.Send(msg)
	return err
}

// subjectOf binds a license to the group, or to the user in a private chat.
func subjectOf(ev *interfaces.Event) entities.LicenseSubject {
	if ev.IsPrivate() {
		return entities.UserSubject(ev.UserID())
	}
	return entities.GroupSubject(ev.ChatID())
}

func chatName(chat *tgbotapi.Chat) string {
	if chat.Title != "" {
		return chat.Title
	}
	return strings.TrimSpace(chat.FirstName + " " + chat.LastName)
}
