package usecases

import (
	"context"
	"errors"
	"fmt"

	"ledgerbot/internal/entities"
	"ledgerbot/internal/interfaces"

	"go.uber.org/zap"
)

const settlementNotice = "🌅 <b>每日自动结算完成</b>\n\n已停止当日记账功能。\n如需开始新的一天，请发送 /start 或 点击下方按钮"

// SettlementReport summarizes one sweep.
type SettlementReport struct {
	Stopped  int
	Notified int
	Failed   int
}

func (r SettlementReport) String() string {
	return fmt.Sprintf("stopped=%d notified=%d failed=%d", r.Stopped, r.Notified, r.Failed)
}

// SettlementService closes the day: every recording chat is stopped and
// group chats are told so through their tenant's runtime.
type SettlementService struct {
	ledger   *LedgerService
	notifier interfaces.Notifier
	logger   *zap.Logger
}

func NewSettlementService(ledger *LedgerService, notifier interfaces.Notifier, logger *zap.Logger) *SettlementService {
	return &SettlementService{ledger: ledger, notifier: notifier, logger: logger}
}

// Run performs one sweep. A chat that fails to stop is logged and skipped.
func (s *SettlementService) Run(ctx context.Context) (SettlementReport, error) {
	var report SettlementReport

	chats, err := s.ledger.ListActiveChats(ctx)
	if err != nil {
		return report, fmt.Errorf("list active chats: %w", err)
	}

	for _, c := range chats {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := s.ledger.StopRecording(ctx, c.TenantID, c.ChatID); err != nil {
			report.Failed++
			s.logger.Error("settlement failed to stop chat",
				zap.Int64("tenant_id", c.TenantID), zap.Int64("chat_id", c.ChatID), zap.Error(err))
			continue
		}
		report.Stopped++

		if c.ChatID >= 0 || s.notifier == nil {
			continue
		}
		err := s.notifier.Notify(ctx, c.TenantID, c.ChatID, settlementNotice)
		switch {
		case err == nil:
			report.Notified++
		case errors.Is(err, entities.ErrRuntimeNotFound):
			s.logger.Debug("tenant not live, skipping settlement notice",
				zap.Int64("tenant_id", c.TenantID), zap.Int64("chat_id", c.ChatID))
		default:
			s.logger.Warn("failed to send settlement notice",
				zap.Int64("tenant_id", c.TenantID), zap.Int64("chat_id", c.ChatID), zap.Error(err))
		}
	}

	s.logger.Info("daily settlement finished", zap.Stringer("report", report))
	return report, nil
}
