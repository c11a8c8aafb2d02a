package usecases

import (
	"context"
	"strings"

	"ledgerbot/internal/infrastructure"
	"ledgerbot/internal/interfaces"

	"go.uber.org/zap"
)

const guidanceText = "⚠️ 机器人未激活或授权已过期。\n请发送 '试用' 获取试用时长，或联系管理员获取激活码。"

// bootstrap commands reach their handlers while unlicensed.
var (
	bootstrapPrefixes = []string{"/activate", "/start"}
	bootstrapExact    = []string{"开始", "试用"}

	// guidance is only sent for text that looks like bookkeeping.
	guidancePrefixes = []string{"+", "入款", "下发"}
	guidanceExact    = []string{"显示账单", "清理今天数据"}
)

// LicenseGate is the first handler of every tenant chain. Events from
// unlicensed group chats are halted before any business handler runs.
type LicenseGate struct {
	licenses *LicenseService
	limiter  *infrastructure.MessageRateLimiter
	logger   *zap.Logger
	metrics  *infrastructure.Metrics
}

var _ interfaces.Handler = (*LicenseGate)(nil)

func NewLicenseGate(licenses *LicenseService, limiter *infrastructure.MessageRateLimiter, logger *zap.Logger, metrics *infrastructure.Metrics) *LicenseGate {
	return &LicenseGate{
		licenses: licenses,
		limiter:  limiter,
		logger:   logger,
		metrics:  metrics,
	}
}

func (g *LicenseGate) Handle(ctx context.Context, ev *interfaces.Event) interfaces.Verdict {
	if ev.Chat() == nil || ev.IsPrivate() || isBootstrap(ev.Text()) {
		g.metrics.GateDecision("bypass")
		return interfaces.Continue
	}

	ok, err := g.licenses.Check(ctx, ev.TenantID, ev.ChatID(), ev.UserID())
	if err != nil {
		// Fail closed; the event is dropped with a log entry.
		g.logger.Error("license check failed",
			zap.Int64("tenant_id", ev.TenantID),
			zap.Int64("chat_id", ev.ChatID()),
			zap.Error(err))
	}
	if ok {
		g.metrics.GateDecision("allowed")
		return interfaces.Continue
	}

	g.metrics.GateDecision("blocked")
	if wantsGuidance(ev.Text()) && g.allowReply(ev.TenantID, ev.ChatID()) {
		if err := ev.Reply(guidanceText); err != nil {
			g.logger.Warn("failed to send license guidance",
				zap.Int64("tenant_id", ev.TenantID),
				zap.Int64("chat_id", ev.ChatID()),
				zap.Error(err))
		}
	}
	return interfaces.Halt
}

func (g *LicenseGate) allowReply(tenantID, chatID int64) bool {
	if g.limiter == nil {
		return true
	}
	return g.limiter.Allow(tenantID, chatID)
}

func isBootstrap(text string) bool {
	return matches(text, bootstrapPrefixes, bootstrapExact)
}

func wantsGuidance(text string) bool {
	return matches(text, guidancePrefixes, guidanceExact)
}

func matches(text string, prefixes, exact []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(text, p) {
			return true
		}
	}
	for _, e := range exact {
		if text == e {
			return true
		}
	}
	return false
}
