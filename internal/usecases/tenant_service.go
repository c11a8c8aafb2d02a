package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ledgerbot/internal/entities"
	"ledgerbot/internal/infrastructure"
	"ledgerbot/internal/interfaces"

	"go.uber.org/zap"
)

// TenantService provisions tenants and drives their runtimes.
type TenantService struct {
	store    interfaces.LedgerStore
	runtimes *infrastructure.RuntimeManager
	logger   *zap.Logger
}

func NewTenantService(store interfaces.LedgerStore, runtimes *infrastructure.RuntimeManager, logger *zap.Logger) *TenantService {
	return &TenantService{store: store, runtimes: runtimes, logger: logger}
}

// Register stores a new tenant and starts its runtime. A tenant whose
// runtime fails to start stays registered; started reports the outcome.
func (s *TenantService) Register(ctx context.Context, token, name string, buttons *entities.ButtonConfig) (*entities.Tenant, bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, false, fmt.Errorf("%w: token is required", entities.ErrInvalidTenant)
	}
	t := &entities.Tenant{Token: token, Name: name, Status: entities.TenantActive}
	if buttons != nil {
		raw, err := json.Marshal(buttons)
		if err != nil {
			return nil, false, err
		}
		t.ButtonConfig = string(raw)
	}
	if err := s.store.InTx(ctx, func(q interfaces.LedgerQueries) error {
		return q.CreateTenant(ctx, t)
	}); err != nil {
		return nil, false, err
	}
	s.logger.Info("tenant registered", zap.Int64("tenant_id", t.ID), zap.String("name", t.Name))

	started := s.runtimes.StartRuntime(ctx, t.Token, t.ID)
	return t, started, nil
}

// Start marks the tenant active and brings its runtime up.
func (s *TenantService) Start(ctx context.Context, id int64) (infrastructure.RuntimeStatus, error) {
	t, err := s.setStatus(ctx, id, entities.TenantActive)
	if err != nil {
		return infrastructure.RuntimeStatus{}, err
	}
	if !s.runtimes.StartRuntime(ctx, t.Token, t.ID) {
		return s.runtimes.Status(id), entities.ErrRuntimeStart
	}
	return s.runtimes.Status(id), nil
}

// Stop marks the tenant disabled and tears its runtime down.
func (s *TenantService) Stop(ctx context.Context, id int64) error {
	if _, err := s.setStatus(ctx, id, entities.TenantDisabled); err != nil {
		return err
	}
	s.runtimes.StopRuntime(ctx, id)
	return nil
}

// Reload restarts the runtime with the stored credential.
func (s *TenantService) Reload(ctx context.Context, id int64) (infrastructure.RuntimeStatus, error) {
	t, err := s.store.GetTenant(ctx, id)
	if err != nil {
		return infrastructure.RuntimeStatus{}, err
	}
	if !s.runtimes.ReloadRuntime(ctx, t.Token, t.ID) {
		return s.runtimes.Status(id), entities.ErrRuntimeStart
	}
	return s.runtimes.Status(id), nil
}

func (s *TenantService) Status(ctx context.Context, id int64) (infrastructure.RuntimeStatus, error) {
	if _, err := s.store.GetTenant(ctx, id); err != nil {
		return infrastructure.RuntimeStatus{}, err
	}
	return s.runtimes.Status(id), nil
}

// TenantView pairs a stored tenant with its live runtime state.
type TenantView struct {
	entities.Tenant
	Runtime infrastructure.RuntimeStatus `json:"runtime"`
}

// List returns every tenant, enabled or not.
func (s *TenantService) List(ctx context.Context) ([]TenantView, error) {
	tenants, err := s.store.ListTenants(ctx, "")
	if err != nil {
		return nil, err
	}
	views := make([]TenantView, 0, len(tenants))
	for _, t := range tenants {
		views = append(views, TenantView{Tenant: t, Runtime: s.runtimes.Status(t.ID)})
	}
	return views, nil
}

// StartActive starts every active tenant concurrently.
func (s *TenantService) StartActive(ctx context.Context) (infrastructure.StartReport, error) {
	tenants, err := s.store.ListTenants(ctx, entities.TenantActive)
	if err != nil {
		return infrastructure.StartReport{}, err
	}
	return s.runtimes.StartAll(ctx, tenants), nil
}

// ButtonConfig returns the tenant's bill buttons. A missing tenant or a
// malformed blob yields the defaults.
func (s *TenantService) ButtonConfig(ctx context.Context, id int64) entities.ButtonConfig {
	var cfg entities.ButtonConfig
	t, err := s.store.GetTenant(ctx, id)
	if err != nil {
		return withDefaults(cfg)
	}
	if t.ButtonConfig != "" {
		if err := json.Unmarshal([]byte(t.ButtonConfig), &cfg); err != nil {
			s.logger.Warn("ignoring malformed button config", zap.Int64("tenant_id", id), zap.Error(err))
			cfg = entities.ButtonConfig{}
		}
	}
	return withDefaults(cfg)
}

func (s *TenantService) setStatus(ctx context.Context, id int64, status entities.TenantStatus) (*entities.Tenant, error) {
	var t *entities.Tenant
	err := s.store.InTx(ctx, func(q interfaces.LedgerQueries) error {
		var err error
		if t, err = q.GetTenant(ctx, id); err != nil {
			return err
		}
		if t.Status == status {
			return nil
		}
		t.Status = status
		return q.SetTenantStatus(ctx, id, status)
	})
	return t, err
}
