package usecases

import (
	"context"
	"testing"

	"ledgerbot/internal/entities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTenantService_Lifecycle(t *testing.T) {
	store := newTestStore(t)
	runtimes := newTestRuntimes()
	svc := NewTenantService(store, runtimes, zap.NewNop())
	ctx := context.Background()

	_, _, err := svc.Register(ctx, "  ", "empty", nil)
	assert.ErrorIs(t, err, entities.ErrInvalidTenant)

	tenant, started, err := svc.Register(ctx, "alpha", "Alpha", &entities.ButtonConfig{SupportText: "客服", SupportURL: "https://t.me/help"})
	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, 1, runtimes.Count())

	status, err := svc.Status(ctx, tenant.ID)
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Equal(t, "alpha_bot", status.Username)

	buttons := svc.ButtonConfig(ctx, tenant.ID)
	assert.Equal(t, "客服", buttons.SupportText)
	assert.Equal(t, "业务对接", buttons.BizText, "unset fields take defaults")

	require.NoError(t, svc.Stop(ctx, tenant.ID))
	assert.Equal(t, 0, runtimes.Count())
	stored, err := store.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.TenantDisabled, stored.Status)

	report, err := svc.StartActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Total, "disabled tenants are not started")

	status, err = svc.Start(ctx, tenant.ID)
	require.NoError(t, err)
	assert.True(t, status.Running)

	status, err = svc.Reload(ctx, tenant.ID)
	require.NoError(t, err)
	assert.True(t, status.Running)

	_, err = svc.Status(ctx, 999)
	assert.ErrorIs(t, err, entities.ErrTenantNotFound)
	assert.ErrorIs(t, svc.Stop(ctx, 999), entities.ErrTenantNotFound)

	runtimes.StopAll(ctx)
}

func TestTenantService_MalformedButtonsFallBack(t *testing.T) {
	store := newTestStore(t)
	svc := NewTenantService(store, newTestRuntimes(), zap.NewNop())
	ctx := context.Background()

	tenant := &entities.Tenant{Token: "beta", ButtonConfig: "{not json"}
	require.NoError(t, store.CreateTenant(ctx, tenant))

	assert.Equal(t, defaultButtons, svc.ButtonConfig(ctx, tenant.ID))
	assert.Equal(t, defaultButtons, svc.ButtonConfig(ctx, 404))
}
