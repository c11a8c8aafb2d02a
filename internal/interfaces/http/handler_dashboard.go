package http

import (
	"errors"
	"html/template"
	"net/http"
	"time"

	"ledgerbot/internal/entities"
	"ledgerbot/internal/logger"
	"ledgerbot/internal/usecases"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	billTemplateName = "bill"
	billPageLines    = 50
)

var billTemplate = template.Must(template.New(billTemplateName).Parse(`<!DOCTYPE html>
<html lang="zh">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; max-width: 640px; margin: 0 auto; padding: 16px; }
table { width: 100%; border-collapse: collapse; margin-bottom: 16px; }
td, th { padding: 4px 8px; border-bottom: 1px solid #eee; text-align: left; }
.num { text-align: right; font-variant-numeric: tabular-nums; }
</style>
</head>
<body>
<h2>{{.Title}}</h2>
<p>{{.WindowStart}} ~ {{.WindowEnd}}</p>
<h3>入款 ({{.CountDeposit}}笔)</h3>
<table>
{{range .Deposits}}<tr><td>{{.Time}}</td><td class="num">{{.Amount}}</td><td>{{.Operator}}</td></tr>
{{end}}</table>
<h3>下发 ({{.CountPayout}}笔)</h3>
<table>
{{range .Payouts}}<tr><td>{{.Time}}</td><td class="num">{{.Amount}}</td><td>{{.Operator}}</td></tr>
{{end}}</table>
<table>
<tr><th>总入款</th><td class="num">{{.TotalDeposit}}</td></tr>
<tr><th>费率</th><td class="num">{{.FeePercent}}%</td></tr>
{{if .Rate}}<tr><th>汇率</th><td class="num">{{.Rate}}</td></tr>
{{end}}<tr><th>应下发</th><td class="num">{{.Net}}</td></tr>
<tr><th>未下发</th><td class="num">{{.Pending}}</td></tr>
</table>
</body>
</html>`))

type billLine struct {
	Time     string
	Amount   string
	Operator string
}

type billPage struct {
	Title        string
	WindowStart  string
	WindowEnd    string
	CountDeposit int
	CountPayout  int
	Deposits     []billLine
	Payouts      []billLine
	TotalDeposit string
	FeePercent   string
	Rate         string
	Net          string
	Pending      string
}

// BillHandler serves the read-only web view linked under every bill reply.
type BillHandler struct {
	ledger *usecases.LedgerService
	logger *zap.Logger
}

func NewBillHandler(ledger *usecases.LedgerService, logger *zap.Logger) *BillHandler {
	return &BillHandler{ledger: ledger, logger: logger}
}

// RegisterRoutes installs the template on r and the bill route.
func (h *BillHandler) RegisterRoutes(r *gin.Engine) {
	r.SetHTMLTemplate(billTemplate)
	r.GET("/bill/:tenant_id/:chat_id", h.GetBill)
}

// GetBill renders the current settlement window for one chat
func (h *BillHandler) GetBill(c *gin.Context) {
	tenantID, ok := parseID(c, "tenant_id")
	if !ok {
		return
	}
	chatID, ok := parseID(c, "chat_id")
	if !ok {
		return
	}

	bill, err := h.ledger.LoadBill(c.Request.Context(), tenantID, chatID, billPageLines)
	if errors.Is(err, entities.ErrChatNotFound) {
		c.String(http.StatusNotFound, "Bill not found")
		return
	}
	if err != nil {
		logger.FromContext(c.Request.Context(), h.logger).Error("load bill failed",
			zap.Int64("tenant_id", tenantID), zap.Int64("chat_id", chatID), zap.Error(err))
		c.String(http.StatusInternalServerError, "Failed to load bill")
		return
	}

	c.HTML(http.StatusOK, billTemplateName, newBillPage(bill, h.ledger.Location()))
}

func newBillPage(b *usecases.Bill, loc *time.Location) billPage {
	dm := b.Config.DecimalMode
	totals := b.Totals()
	page := billPage{
		Title:        "HYPay国际支付",
		WindowStart:  b.Summary.WindowStart.In(loc).Format("2006-01-02 15:04"),
		WindowEnd:    b.Summary.WindowEnd.In(loc).Format("2006-01-02 15:04"),
		CountDeposit: b.Summary.CountDeposit,
		CountPayout:  b.Summary.CountPayout,
		Deposits:     billLines(b.Deposits, dm, loc),
		Payouts:      billLines(b.Payouts, dm, loc),
		TotalDeposit: usecases.FormatAmount(b.Summary.TotalDeposit, dm),
		FeePercent:   b.Config.FeePercent.String(),
		Net:          usecases.FormatAmount(totals.Net, dm),
		Pending:      usecases.FormatAmount(totals.Pending, dm),
	}
	if b.Config.ChatName != "" {
		page.Title = b.Config.ChatName
	}
	if rate := b.Config.USDRate; rate.IsPositive() {
		page.Rate = rate.String()
		page.Net = inUSDT(totals.Net, rate)
		page.Pending = inUSDT(totals.Pending, rate)
	}
	return page
}

func inUSDT(d, rate decimal.Decimal) string {
	return d.Div(rate).StringFixed(2) + " U"
}

func billLines(records []entities.Record, decimalMode bool, loc *time.Location) []billLine {
	lines := make([]billLine, 0, len(records))
	for _, r := range records {
		lines = append(lines, billLine{
			Time:     r.CreatedAt.In(loc).Format("15:04:05"),
			Amount:   usecases.FormatAmount(r.Amount, decimalMode),
			Operator: r.OperatorName,
		})
	}
	return lines
}
