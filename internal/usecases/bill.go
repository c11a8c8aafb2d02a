package usecases

import (
	"fmt"
	"strings"
	"time"

	"ledgerbot/internal/entities"

	"github.com/shopspring/decimal"
)

const billLines = 5

// Bill is everything rendered in a bill reply.
type Bill struct {
	Config   entities.ConfigSnapshot
	Summary  entities.DailySummary
	Deposits []entities.Record // newest first
	Payouts  []entities.Record
}

// FormatAmount renders d per the chat's decimal mode: two places, or the
// integer part only.
func FormatAmount(d decimal.Decimal, decimalMode bool) string {
	if decimalMode {
		return d.StringFixed(2)
	}
	return d.Truncate(0).String()
}

// toUSDT converts d with rate. rate must be positive.
func toUSDT(d, rate decimal.Decimal) string {
	return d.Div(rate).StringFixed(2)
}

// BillTotals are the derived amounts of a summary.
type BillTotals struct {
	Fee     decimal.Decimal
	Net     decimal.Decimal
	Pending decimal.Decimal
}

// Totals uses the fees snapshotted on each deposit, so a fee change only
// affects deposits recorded after it.
func (b Bill) Totals() BillTotals {
	fee := b.Summary.TotalFee
	net := b.Summary.TotalDeposit.Sub(fee)
	return BillTotals{Fee: fee, Net: net, Pending: net.Sub(b.Summary.TotalPayout)}
}

// RenderHTML renders the bill as Telegram HTML.
func (b Bill) RenderHTML(loc *time.Location) string {
	cfg := b.Config
	rate := cfg.USDRate
	hasRate := rate.IsPositive()
	amount := func(d decimal.Decimal) string { return FormatAmount(d, cfg.DecimalMode) }

	var sb strings.Builder
	sb.WriteString("<b>HYPay国际支付</b>\n\n")

	fmt.Fprintf(&sb, "入款 (%d笔)：\n", b.Summary.CountDeposit)
	if !cfg.SimpleMode {
		for _, r := range firstN(b.Deposits, billLines) {
			fmt.Fprintf(&sb, "%s  <b>%s</b>", r.CreatedAt.In(loc).Format("15:04:05"), amount(r.Amount))
			if hasRate {
				fmt.Fprintf(&sb, " / %s=%s", rate.String(), toUSDT(r.Amount, rate))
			}
			sb.WriteString("\n")
		}
	}

	fmt.Fprintf(&sb, "\n下发 (%d笔)：\n", b.Summary.CountPayout)
	if !cfg.SimpleMode {
		for _, r := range firstN(b.Payouts, billLines) {
			fmt.Fprintf(&sb, "%s  <b>%s</b>", r.CreatedAt.In(loc).Format("15:04:05"), amount(r.Amount))
			if hasRate {
				fmt.Fprintf(&sb, " / %s=%s", rate.String(), toUSDT(r.Amount, rate))
			}
			sb.WriteString("\n")
		}
	}

	t := b.Totals()
	fmt.Fprintf(&sb, "\n总入款：%s\n", amount(b.Summary.TotalDeposit))
	fmt.Fprintf(&sb, "费率：%s%%\n", cfg.FeePercent.String())
	if hasRate {
		fmt.Fprintf(&sb, "汇率：%s\n", rate.String())
		fmt.Fprintf(&sb, "应下发：%s U\n", toUSDT(t.Net, rate))
		fmt.Fprintf(&sb, "未下发：%s U", toUSDT(t.Pending, rate))
	} else {
		fmt.Fprintf(&sb, "应下发：%s\n", amount(t.Net))
		fmt.Fprintf(&sb, "未下发：%s", amount(t.Pending))
	}
	return sb.String()
}

// RenderRecent lists records for the "显示账单" command.
func RenderRecent(records []entities.Record, decimalMode bool, loc *time.Location) string {
	if len(records) == 0 {
		return "📭 暂无账单记录"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "📄 <b>最近 %d 笔账单：</b>\n\n", billLines)
	for _, r := range records {
		icon, label := "🟢", "入款"
		if r.Kind == entities.KindPayout {
			icon, label = "🔴", "下发"
		}
		fmt.Fprintf(&sb, "%s %s <b>%s</b> %s\n", icon, r.CreatedAt.In(loc).Format("15:04:05"), label, FormatAmount(r.Amount, decimalMode))
		if r.OperatorName != "" {
			fmt.Fprintf(&sb, "   👤 操作: %s\n", escapeHTML(r.OperatorName))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func firstN(records []entities.Record, n int) []entities.Record {
	if len(records) > n {
		return records[:n]
	}
	return records
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}
