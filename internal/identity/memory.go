package identity

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store with the same uniqueness rules as the
// users table.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*Identity
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: make(map[uuid.UUID]*Identity),
		now:  time.Now,
	}
}

func clone(i *Identity) *Identity {
	c := *i
	c.Providers = slices.Clone(i.Providers)
	if i.PasswordHash != nil {
		h := *i.PasswordHash
		c.PasswordHash = &h
	}
	if i.ExternalSubject != nil {
		s := *i.ExternalSubject
		c.ExternalSubject = &s
	}
	if i.SubjectProvider != nil {
		p := *i.SubjectProvider
		c.SubjectProvider = &p
	}
	if i.LockUntil != nil {
		t := *i.LockUntil
		c.LockUntil = &t
	}
	return &c
}

func (m *MemoryStore) find(match func(*Identity) bool) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range m.rows {
		if match(row) {
			return clone(row), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) FindByID(_ context.Context, id uuid.UUID) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(row), nil
}

func (m *MemoryStore) FindByEmail(_ context.Context, email string) (*Identity, error) {
	return m.find(func(i *Identity) bool { return strings.EqualFold(i.Email, email) })
}

func (m *MemoryStore) FindByUsername(_ context.Context, username string) (*Identity, error) {
	return m.find(func(i *Identity) bool { return strings.EqualFold(i.Username, username) })
}

func (m *MemoryStore) FindBySubject(_ context.Context, provider, subject string) (*Identity, error) {
	return m.find(func(i *Identity) bool { return i.HasSubject(provider, subject) })
}

// sameSubject mirrors the (subject_provider, external_subject) unique index.
func sameSubject(a, b *Identity) bool {
	if a.ExternalSubject == nil || b.ExternalSubject == nil {
		return false
	}
	return *a.ExternalSubject == *b.ExternalSubject && deref(a.SubjectProvider) == deref(b.SubjectProvider)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (m *MemoryStore) UsernameTaken(ctx context.Context, username string) (bool, error) {
	_, err := m.FindByUsername(ctx, username)
	if err == ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (m *MemoryStore) Create(_ context.Context, ident *Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range m.rows {
		if strings.EqualFold(row.Email, ident.Email) || strings.EqualFold(row.Username, ident.Username) {
			return ErrConflict
		}
		if sameSubject(row, ident) {
			return ErrConflict
		}
	}

	if ident.Role == "" {
		ident.Role = RoleEmployee
	}
	if len(ident.Providers) == 0 {
		ident.Providers = []string{ProviderLocal}
	}
	ident.ID = uuid.New()
	ident.CreatedAt = m.now()
	ident.UpdatedAt = ident.CreatedAt

	m.rows[ident.ID] = clone(ident)
	return nil
}

func (m *MemoryStore) update(id uuid.UUID, fn func(*Identity) error) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := fn(row); err != nil {
		return nil, err
	}
	row.UpdatedAt = m.now()
	return clone(row), nil
}

func (m *MemoryStore) LinkProvider(_ context.Context, id uuid.UUID, link LinkUpdate) (*Identity, error) {
	m.mu.Lock()
	if link.Subject != "" {
		for other, row := range m.rows {
			if other != id && row.HasSubject(link.Provider, link.Subject) {
				m.mu.Unlock()
				return nil, ErrConflict
			}
		}
	}
	m.mu.Unlock()

	return m.update(id, func(row *Identity) error {
		if !row.HasProvider(link.Provider) {
			row.Providers = append(row.Providers, link.Provider)
		}
		if row.ExternalSubject == nil && link.Subject != "" {
			s, p := link.Subject, link.Provider
			row.ExternalSubject = &s
			row.SubjectProvider = &p
		}
		if row.AvatarURL == "" {
			row.AvatarURL = link.AvatarURL
		}
		return nil
	})
}

func (m *MemoryStore) SetPassword(_ context.Context, id uuid.UUID, hash string) error {
	_, err := m.update(id, func(row *Identity) error {
		row.PasswordHash = &hash
		if !row.HasProvider(ProviderLocal) {
			row.Providers = append(row.Providers, ProviderLocal)
		}
		row.FailedLoginAttempts = 0
		row.LockUntil = nil
		return nil
	})
	return err
}

func (m *MemoryStore) RecordLoginFailure(_ context.Context, id uuid.UUID, threshold int, lockUntil time.Time) (*Identity, error) {
	return m.update(id, func(row *Identity) error {
		row.FailedLoginAttempts++
		if row.FailedLoginAttempts >= threshold && row.LockUntil == nil {
			t := lockUntil
			row.LockUntil = &t
		}
		return nil
	})
}

func (m *MemoryStore) ResetLoginFailures(_ context.Context, id uuid.UUID) error {
	_, err := m.update(id, func(row *Identity) error {
		row.FailedLoginAttempts = 0
		row.LockUntil = nil
		return nil
	})
	return err
}

func (m *MemoryStore) UnlockIfExpired(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	unlocked := false
	_, err := m.update(id, func(row *Identity) error {
		if row.LockExpiredAt(now) {
			row.FailedLoginAttempts = 0
			row.LockUntil = nil
			unlocked = true
		}
		return nil
	})
	return unlocked, err
}
