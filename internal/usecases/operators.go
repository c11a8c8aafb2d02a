package usecases

import (
	"context"

	"ledgerbot/internal/entities"
	"ledgerbot/internal/interfaces"

	"go.uber.org/zap"
)

// AddOperators registers users as operators of the chat and returns the ones
// that were not registered before.
func (s *LedgerService) AddOperators(ctx context.Context, tenantID, chatID int64, users []entities.Operator) ([]entities.Operator, error) {
	var added []entities.Operator
	err := s.store.InTx(ctx, func(q interfaces.LedgerQueries) error {
		added = added[:0]
		for _, u := range users {
			op := u
			op.TenantID, op.ChatID = tenantID, chatID
			ok, err := q.AddOperator(ctx, &op)
			if err != nil {
				return err
			}
			if ok {
				added = append(added, op)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("operators added",
		zap.Int64("tenant_id", tenantID), zap.Int64("chat_id", chatID), zap.Int("count", len(added)))
	return added, nil
}

// RemoveOperators unregisters users and returns the IDs that were removed.
func (s *LedgerService) RemoveOperators(ctx context.Context, tenantID, chatID int64, userIDs []int64) ([]int64, error) {
	var removed []int64
	err := s.store.InTx(ctx, func(q interfaces.LedgerQueries) error {
		removed = removed[:0]
		for _, id := range userIDs {
			ok, err := q.RemoveOperator(ctx, tenantID, chatID, id)
			if err != nil {
				return err
			}
			if ok {
				removed = append(removed, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("operators removed",
		zap.Int64("tenant_id", tenantID), zap.Int64("chat_id", chatID), zap.Int("count", len(removed)))
	return removed, nil
}

// Operators lists the chat's operators in registration order.
func (s *LedgerService) Operators(ctx context.Context, tenantID, chatID int64) ([]entities.Operator, error) {
	return s.store.ListOperators(ctx, tenantID, chatID)
}
