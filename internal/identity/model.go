package identity

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type Role string

const (
	RoleSuperAdmin Role = "super-admin"
	RoleAdmin      Role = "admin"
	RoleEmployee   Role = "employee"
)

// Privileged reports whether the role can only be changed by itself.
func (r Role) Privileged() bool {
	return r == RoleSuperAdmin
}

func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleEmployee:
		return true
	}
	return false
}

// ProviderLocal marks identities that may sign in with a password.
const ProviderLocal = "local"

// Identity is a user account as stored in the users table.
type Identity struct {
	ID                  uuid.UUID      `db:"id"`
	FirstName           string         `db:"first_name"`
	LastName            string         `db:"last_name"`
	Email               string         `db:"email"`
	Username            string         `db:"username"`
	PasswordHash        *string        `db:"password_hash"`
	Role                Role           `db:"role"`
	Providers           pq.StringArray `db:"providers"`
	ExternalSubject     *string        `db:"external_subject"`
	SubjectProvider     *string        `db:"subject_provider"`
	AvatarURL           string         `db:"avatar_url"`
	FailedLoginAttempts int            `db:"failed_login_attempts"`
	LockUntil           *time.Time     `db:"lock_until"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

func (i *Identity) HasProvider(name string) bool {
	return slices.Contains(i.Providers, name)
}

// HasSubject reports whether the identity is bound to subject as issued by
// provider. Subjects are only unique within one provider.
func (i *Identity) HasSubject(provider, subject string) bool {
	return i.ExternalSubject != nil && i.SubjectProvider != nil &&
		*i.SubjectProvider == provider && *i.ExternalSubject == subject
}

// LockedAt reports whether the lock is still in force at now.
func (i *Identity) LockedAt(now time.Time) bool {
	return i.LockUntil != nil && i.LockUntil.After(now)
}

// LockExpiredAt reports whether a lock was set and has since lapsed.
func (i *Identity) LockExpiredAt(now time.Time) bool {
	return i.LockUntil != nil && !i.LockUntil.After(now)
}

// ExternalProvider returns the first non-local provider, if any.
func (i *Identity) ExternalProvider() string {
	for _, p := range i.Providers {
		if p != ProviderLocal {
			return p
		}
	}
	return ""
}

// Profile is the public view returned to clients.
type Profile struct {
	ID        string   `json:"id"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	Role      Role     `json:"role"`
	Providers []string `json:"authProvider"`
	AvatarURL string   `json:"profileImage,omitempty"`
}

func (i *Identity) Profile() Profile {
	return Profile{
		ID:        i.ID.String(),
		FirstName: i.FirstName,
		LastName:  i.LastName,
		Username:  i.Username,
		Email:     i.Email,
		Role:      i.Role,
		Providers: slices.Clone([]string(i.Providers)),
		AvatarURL: i.AvatarURL,
	}
}
