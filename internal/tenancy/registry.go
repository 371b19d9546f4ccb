package tenancy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const tenantColumns = `id, code, name, db_name, whatsapp_phone_number_id, reception_phone, cash_register_id, cash_user_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (Tenant, error) {
	var t Tenant
	var dbName, phoneNumberID, reception, register, cashUser sql.NullString
	if err := row.Scan(&t.ID, &t.Code, &t.Name, &dbName, &phoneNumberID, &reception, &register, &cashUser); err != nil {
		return Tenant{}, err
	}
	t.DBName = dbName.String
	t.WhatsAppPhoneNumberID = phoneNumberID.String
	t.ReceptionPhone = reception.String
	t.CashRegisterID = register.String
	t.CashUserID = cashUser.String
	return t, nil
}

// Registry reads tenants from the master database.
type Registry struct {
	db *sql.DB
}

// NewRegistry creates a registry over the master database handle.
func NewRegistry(db *sql.DB) *Registry {
	if db == nil {
		panic("tenancy: master db required")
	}
	return &Registry{db: db}
}

// Resolve looks up an active tenant by code.
func (r *Registry) Resolve(ctx context.Context, code string) (Tenant, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Tenant{}, ErrTenantNotFound
	}
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE code = $1 AND active`

	t, err := scanTenant(r.db.QueryRowContext(ctx, query, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tenant{}, fmt.Errorf("%w: %s", ErrTenantNotFound, code)
		}
		return Tenant{}, fmt.Errorf("tenancy: resolve tenant: %w", err)
	}
	return t, nil
}

// List returns every active tenant ordered by code.
func (r *Registry) List(ctx context.Context) ([]Tenant, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE active ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("tenancy: list tenants: %w", err)
	}
	defer rows.Close()

	var out []Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("tenancy: scan tenant: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tenancy: list tenants: %w", err)
	}
	return out, nil
}
