package tenancy

import (
	"errors"
	"net"
	"net/url"
	"strings"
)

var (
	// ErrTenantNotFound is returned when no active tenant has the requested code.
	ErrTenantNotFound = errors.New("tenancy: tenant not found")
	// ErrMissingDatabase is returned for a tenant row without a database.
	ErrMissingDatabase = errors.New("tenancy: tenant has no database")
)

// Tenant is one clinic registered in the master database.
type Tenant struct {
	ID     string `json:"id"`
	Code   string `json:"code"`
	Name   string `json:"name"`
	DBName string `json:"-"`

	// WhatsAppPhoneNumberID is the clinic's business number in the Cloud API.
	WhatsAppPhoneNumberID string `json:"whatsapp_phone_number_id,omitempty"`
	ReceptionPhone        string `json:"reception_phone,omitempty"`
	// CashRegisterID and CashUserID live in the clinic's own database.
	CashRegisterID string `json:"-"`
	CashUserID     string `json:"-"`
}

// ConnDefaults fill in tenant connection strings stored as a bare database name.
type ConnDefaults struct {
	User     string
	Password string
	Host     string
	Port     string
}

// ConnString returns the tenant database URL. A stored postgres URL is used
// as-is; a bare name is combined with the defaults.
func (d ConnDefaults) ConnString(t Tenant) (string, error) {
	stored := strings.TrimSpace(t.DBName)
	if stored == "" {
		return "", ErrMissingDatabase
	}
	if strings.HasPrefix(stored, "postgres://") || strings.HasPrefix(stored, "postgresql://") {
		return stored, nil
	}

	host := d.Host
	if host == "" {
		host = "localhost"
	}
	port := d.Port
	if port == "" {
		port = "5432"
	}
	u := url.URL{
		Scheme:   "postgresql",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(host, port),
		Path:     "/" + stored,
		RawQuery: "search_path=public",
	}
	return u.String(), nil
}
