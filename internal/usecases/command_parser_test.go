package usecases

import (
	"testing"

	"ledgerbot/internal/entities"

	"github.com/stretchr/testify/assert"
)

func TestParseTransaction(t *testing.T) {
	tests := []struct {
		input  string
		ok     bool
		kind   entities.RecordKind
		amount string
		usd    bool
	}{
		{"+100", true, entities.KindDeposit, "100", false},
		{"+ 100", true, entities.KindDeposit, "100", false},
		{"+250.50", true, entities.KindDeposit, "250.50", false},
		{"入款100", true, entities.KindDeposit, "100", false},
		{"入款 -100", true, entities.KindDeposit, "-100", false},
		{"下发100", true, entities.KindPayout, "100", false},
		{"下发100u", true, entities.KindPayout, "100", true},
		{"下发 12.5U", true, entities.KindPayout, "12.5", true},
		{"  +7 lunch", true, entities.KindDeposit, "7", false},
		{"hello", false, "", "", false},
		{"+abc", false, "", "", false},
		{"100+", false, "", "", false},
		{"下发", false, "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseTransaction(tt.input)
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			assert.Equal(t, tt.kind, got.Kind)
			assert.True(t, dec(tt.amount).Equal(got.Amount), got.Amount.String())
			assert.Equal(t, tt.usd, got.InUSD)
		})
	}
}

func TestParseFeeCommand(t *testing.T) {
	tests := []struct {
		input string
		ok    bool
		want  string
	}{
		{"设置费率5%", true, "5"},
		{"更改费率 2.5%", true, "2.5"},
		{"设置费率0", true, "0"},
		{"费率5%", false, ""},
		{"设置费率abc", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseFeeCommand(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, dec(tt.want).Equal(got))
			}
		})
	}
}

func TestParseRateCommand(t *testing.T) {
	tests := []struct {
		input string
		ok    bool
		cur   entities.Currency
		want  string
	}{
		{"设置美元汇率7.2", true, entities.CurrencyUSD, "7.2"},
		{"设置比索汇率 0.12", true, entities.CurrencyPHP, "0.12"},
		{"设置马币汇率1.5", true, entities.CurrencyMYR, "1.5"},
		{"设置泰铢汇率0.2", true, entities.CurrencyTHB, "0.2"},
		{"设置欧元汇率1", false, "", ""},
		{"设置美元汇率", false, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cur, rate, ok := ParseRateCommand(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.cur, cur)
				assert.True(t, dec(tt.want).Equal(rate))
			}
		})
	}
}

func TestParseDisplayMode(t *testing.T) {
	tests := []struct {
		text string
		want entities.DisplayMode
		ok   bool
	}{
		{"设置为无小数", entities.ModeNoDecimals, true},
		{"设置为计数模式", entities.ModeCount, true},
		{"设置为原始模式", entities.ModeOriginal, true},
		{" 设置为计数模式 ", entities.ModeCount, true},
		{"计数模式", "", false},
		{"原始模式", "", false},
		{"无小数", "", false},
	}
	for _, tt := range tests {
		mode, ok := ParseDisplayMode(tt.text)
		assert.Equal(t, tt.ok, ok, tt.text)
		assert.Equal(t, tt.want, mode, tt.text)
	}
}

func TestParseActivate(t *testing.T) {
	tests := []struct {
		input string
		ok    bool
		code  string
	}{
		{"/activate HY-AAAA-BBBB-CCCC", true, "HY-AAAA-BBBB-CCCC"},
		{"/activate@ledger_bot HY-AAAA-BBBB-CCCC", true, "HY-AAAA-BBBB-CCCC"},
		{"/activate", true, ""},
		{"/activated x", false, ""},
		{"activate x", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			code, ok := ParseActivate(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.code, code)
		})
	}
}
