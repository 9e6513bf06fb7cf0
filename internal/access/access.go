package access

import (
	"strings"
	"time"

	"github.com/kalendae/meeting-insights/internal/backend"
)

// Company status values reported by the backend.
const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusSuspended = "suspended"
)

// User is the backend's user record, mapped from whichever field naming
// convention the backend answered with.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	CompanyID   string    `json:"company_id"`
	Role        string    `json:"role"`
	Department  string    `json:"department,omitempty"`
	CompanyRole string    `json:"company_role,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// Company joins a user population to its assistant identity. Every
// active company must carry a non-empty AssistantID for insight
// generation to work.
type Company struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	AssistantID string   `json:"assistant_id"`
	Status      string   `json:"status"`
	Domains     []string `json:"domains,omitempty"`
}

// AccessDetails is the resolved authorization bundle for one user. It is
// derived, never persisted by the backend.
type AccessDetails struct {
	UserID      string `json:"user_id"`
	CompanyID   string `json:"company_id"`
	AssistantID string `json:"assistant_id"`
	Role        string `json:"role"`
	Status      string `json:"status"`
}

// CanGenerateInsights gates insight generation on company status. An
// empty status is treated as active because older backend records
// predate the status field.
func (a *AccessDetails) CanGenerateInsights() bool {
	return a.Status == "" || a.Status == StatusActive
}

// NormalizeEmail canonicalizes an address before any lookup or cache
// key; matching is case-insensitive everywhere in this service.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailDomain returns the part after '@', normalized, or "".
func EmailDomain(email string) string {
	email = NormalizeEmail(email)
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return email[at+1:]
}

// UserFromEntity maps an untyped backend record onto a User.
func UserFromEntity(entity backend.Entity) *User {
	if entity == nil {
		return nil
	}
	return &User{
		ID:          backend.EntityID(entity),
		Email:       NormalizeEmail(getString(entity, "email")),
		Name:        getString(entity, "name"),
		CompanyID:   getString(entity, "companyId", "company_id"),
		Role:        getString(entity, "role"),
		Department:  getString(entity, "department"),
		CompanyRole: getString(entity, "companyRole", "company_role"),
	}
}

// CompanyFromEntity maps an untyped backend record onto a Company.
func CompanyFromEntity(entity backend.Entity) *Company {
	if entity == nil {
		return nil
	}
	return &Company{
		ID:          backend.EntityID(entity),
		Name:        getString(entity, "name"),
		AssistantID: getString(entity, "assistantId", "assistant_id"),
		Status:      getString(entity, "status"),
		Domains:     getDomains(entity),
	}
}

func getString(entity backend.Entity, keys ...string) string {
	for _, key := range keys {
		if value, ok := entity[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}

func getDomains(entity backend.Entity) []string {
	switch v := entity["domains"].(type) {
	case []any:
		domains := make([]string, 0, len(v))
		for _, item := range v {
			if domain, ok := item.(string); ok {
				domains = append(domains, strings.ToLower(domain))
			}
		}
		return domains
	}
	if domain, ok := entity["domain"].(string); ok && domain != "" {
		return []string{strings.ToLower(domain)}
	}
	return nil
}
