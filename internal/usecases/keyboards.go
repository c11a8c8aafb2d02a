package usecases

import (
	"fmt"

	"ledgerbot/internal/entities"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Menu button labels. Each one is also a text command.
const (
	btnTrial       = "试用"
	btnStart       = "开始"
	btnExpiry      = "到期时间"
	btnManual      = "详细说明书"
	btnRenew       = "自助续费"
	btnSetOwner    = "如何设置权限人"
	btnSetOperator = "如何设置群内操作人"
)

// MainMenuKeyboard is the reply keyboard shown in private chats.
func MainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnTrial),
			tgbotapi.NewKeyboardButton(btnStart),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnExpiry),
			tgbotapi.NewKeyboardButton(btnManual),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnRenew),
			tgbotapi.NewKeyboardButton(btnSetOwner),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnSetOperator),
		),
	)
	kb.ResizeKeyboard = true
	return kb
}

// Default link buttons under a bill reply.
var defaultButtons = entities.ButtonConfig{
	BillText:      "点击跳转完整账单",
	BizText:       "业务对接",
	BizURL:        "https://t.me/",
	ComplaintText: "投诉建议",
	ComplaintURL:  "https://t.me/",
	SupportText:   "24小时客服",
	SupportURL:    "https://t.me/",
}

// withDefaults fills empty fields of cfg from the defaults.
func withDefaults(cfg entities.ButtonConfig) entities.ButtonConfig {
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&cfg.BillText, defaultButtons.BillText)
	fill(&cfg.BizText, defaultButtons.BizText)
	fill(&cfg.BizURL, defaultButtons.BizURL)
	fill(&cfg.ComplaintText, defaultButtons.ComplaintText)
	fill(&cfg.ComplaintURL, defaultButtons.ComplaintURL)
	fill(&cfg.SupportText, defaultButtons.SupportText)
	fill(&cfg.SupportURL, defaultButtons.SupportURL)
	return cfg
}

// BillKeyboard renders the link buttons under a bill. The full-bill link is
// omitted when no public domain is configured.
func BillKeyboard(cfg entities.ButtonConfig, domain string, tenantID, chatID int64) tgbotapi.InlineKeyboardMarkup {
	cfg = withDefaults(cfg)
	var rows [][]tgbotapi.InlineKeyboardButton
	if domain != "" {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(cfg.BillText, BillURL(domain, tenantID, chatID)),
		))
	}
	rows = append(rows,
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(cfg.BizText, cfg.BizURL),
			tgbotapi.NewInlineKeyboardButtonURL(cfg.ComplaintText, cfg.ComplaintURL),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(cfg.SupportText, cfg.SupportURL),
		),
	)
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// BillURL is the public page listing a chat's bill.
func BillURL(domain string, tenantID, chatID int64) string {
	return fmt.Sprintf("http://%s/bill/%d/%d", domain, tenantID, chatID)
}
