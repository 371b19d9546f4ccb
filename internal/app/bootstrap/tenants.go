package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/endovel/clinic-platform/internal/clinic"
	"github.com/endovel/clinic-platform/internal/conversation"
	"github.com/endovel/clinic-platform/internal/tenancy"
	"github.com/endovel/clinic-platform/internal/tenantdb"
)

type tenantResolver interface {
	Resolve(ctx context.Context, code string) (tenancy.Tenant, error)
}

type handleCache interface {
	GetLabeled(ctx context.Context, connString, label string) (tenantdb.Handle, error)
}

// TenantDatabases turns a tenant code into repositories over that tenant's
// cached connection pool.
type TenantDatabases struct {
	registry tenantResolver
	cache    handleCache
	defaults tenancy.ConnDefaults
}

// NewTenantDatabases wires the master registry to the connection cache.
func NewTenantDatabases(registry tenantResolver, cache handleCache, defaults tenancy.ConnDefaults) *TenantDatabases {
	if registry == nil {
		panic("bootstrap: tenant registry cannot be nil")
	}
	if cache == nil {
		panic("bootstrap: tenant cache cannot be nil")
	}
	return &TenantDatabases{registry: registry, cache: cache, defaults: defaults}
}

// ForTenant returns the booking repository of a tenant.
func (t *TenantDatabases) ForTenant(ctx context.Context, code string) (clinic.Repository, error) {
	pool, err := t.pool(ctx, code)
	if err != nil {
		return nil, err
	}
	return clinic.NewPostgresRepository(pool), nil
}

// StatsForTenant returns the booking statistics of a tenant.
func (t *TenantDatabases) StatsForTenant(ctx context.Context, code string) (*clinic.StatsRepository, error) {
	pool, err := t.pool(ctx, code)
	if err != nil {
		return nil, err
	}
	return clinic.NewStatsRepository(pool), nil
}

// SettingsFor returns the per-clinic options of the booking flow.
func (t *TenantDatabases) SettingsFor(ctx context.Context, code string) (conversation.TenantSettings, error) {
	tenant, err := t.registry.Resolve(ctx, code)
	if err != nil {
		return conversation.TenantSettings{}, err
	}
	return conversation.TenantSettings{
		ClinicName:     tenant.Name,
		ReceptionPhone: tenant.ReceptionPhone,
		PhoneNumberID:  tenant.WhatsAppPhoneNumberID,
		CashRegisterID: tenant.CashRegisterID,
		CashUserID:     tenant.CashUserID,
	}, nil
}

func (t *TenantDatabases) pool(ctx context.Context, code string) (*pgxpool.Pool, error) {
	tenant, err := t.registry.Resolve(ctx, code)
	if err != nil {
		return nil, err
	}
	connString, err := t.defaults.ConnString(tenant)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: tenant %s: %w", tenant.Code, err)
	}
	handle, err := t.cache.GetLabeled(ctx, connString, tenant.Code)
	if err != nil {
		return nil, err
	}
	return tenantdb.PgxPool(handle)
}
