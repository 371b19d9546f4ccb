package whatsapp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TenantRouter maps the receiving business number to a clinic.
type TenantRouter struct {
	fallback        string
	byPhoneNumberID map[string]string
}

// NewTenantRouter builds a router from a fixed tenant code and an optional JSON
// object of phone_number_id to tenant code.
func NewTenantRouter(fallback, mapJSON string) (*TenantRouter, error) {
	r := &TenantRouter{
		fallback:        strings.TrimSpace(fallback),
		byPhoneNumberID: map[string]string{},
	}
	if strings.TrimSpace(mapJSON) != "" {
		if err := json.Unmarshal([]byte(mapJSON), &r.byPhoneNumberID); err != nil {
			return nil, fmt.Errorf("whatsapp: parse tenant map: %w", err)
		}
	}
	return r, nil
}

// Tenant returns the tenant code for a business phone number ID.
func (r *TenantRouter) Tenant(phoneNumberID string) (string, bool) {
	if code := strings.TrimSpace(r.byPhoneNumberID[phoneNumberID]); code != "" {
		return code, true
	}
	return r.fallback, r.fallback != ""
}
