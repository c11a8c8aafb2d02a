package usecases

import (
	"regexp"
	"strings"

	"ledgerbot/internal/entities"

	"github.com/shopspring/decimal"
)

var (
	depositPattern = regexp.MustCompile(`^(\+|入款)\s*(-?\d+(\.\d+)?)`)
	payoutPattern  = regexp.MustCompile(`^(下发)\s*(-?\d+(\.\d+)?)(u|U)?`)
	feePattern     = regexp.MustCompile(`^(设置|更改)费率\s*([\d.]+)%?`)
	ratePattern    = regexp.MustCompile(`^设置(美元|比索|马币|泰铢)汇率\s*([\d.]+)`)
)

var currencyNames = map[string]entities.Currency{
	"美元": entities.CurrencyUSD,
	"比索": entities.CurrencyPHP,
	"马币": entities.CurrencyMYR,
	"泰铢": entities.CurrencyTHB,
}

var displayModes = map[string]entities.DisplayMode{
	"设置为无小数":  entities.ModeNoDecimals,
	"设置为计数模式": entities.ModeCount,
	"设置为原始模式": entities.ModeOriginal,
}

// TransactionCommand is a parsed "+100" / "入款100" / "下发100u" message.
type TransactionCommand struct {
	Kind   entities.RecordKind
	Amount decimal.Decimal
	// InUSD marks a payout given in USD; it is converted with the chat's USD rate.
	InUSD bool
}

// ParseTransaction recognizes deposit and payout messages.
func ParseTransaction(text string) (TransactionCommand, bool) {
	text = strings.TrimSpace(text)
	if m := depositPattern.FindStringSubmatch(text); m != nil {
		amount, err := decimal.NewFromString(m[2])
		if err != nil {
			return TransactionCommand{}, false
		}
		return TransactionCommand{Kind: entities.KindDeposit, Amount: amount}, true
	}
	if m := payoutPattern.FindStringSubmatch(text); m != nil {
		amount, err := decimal.NewFromString(m[2])
		if err != nil {
			return TransactionCommand{}, false
		}
		return TransactionCommand{Kind: entities.KindPayout, Amount: amount, InUSD: m[4] != ""}, true
	}
	return TransactionCommand{}, false
}

// ParseFeeCommand recognizes "设置费率5%" and "更改费率 2.5%".
func ParseFeeCommand(text string) (decimal.Decimal, bool) {
	m := feePattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return decimal.Zero, false
	}
	pct, err := decimal.NewFromString(m[2])
	if err != nil {
		return decimal.Zero, false
	}
	return pct, true
}

// ParseRateCommand recognizes "设置美元汇率7.2" and the other currencies.
func ParseRateCommand(text string) (entities.Currency, decimal.Decimal, bool) {
	m := ratePattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return "", decimal.Zero, false
	}
	rate, err := decimal.NewFromString(m[2])
	if err != nil {
		return "", decimal.Zero, false
	}
	return currencyNames[m[1]], rate, true
}

// ParseDisplayMode recognizes the display mode switches.
func ParseDisplayMode(text string) (entities.DisplayMode, bool) {
	mode, ok := displayModes[strings.TrimSpace(text)]
	return mode, ok
}

// ParseActivate returns the code argument of "/activate CODE". A bare
// "/activate" returns ok with an empty code.
func ParseActivate(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", false
	}
	cmd := fields[0]
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	if cmd != "/activate" {
		return "", false
	}
	if len(fields) < 2 {
		return "", true
	}
	return fields[1], true
}
