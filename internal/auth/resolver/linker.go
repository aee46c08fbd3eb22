package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/SspStark/adminsphere-server/internal/apperr"
	"github.com/SspStark/adminsphere-server/internal/auth"
	"github.com/SspStark/adminsphere-server/internal/identity"
	"github.com/SspStark/adminsphere-server/internal/logger"
	"github.com/SspStark/adminsphere-server/internal/utils"
)

const usernameAttempts = 5

// Linker resolves external identities against the identity store: by
// provider and subject, then by email (linking the provider), else by
// creating a record. An identity carries at most one external subject.
type Linker struct {
	store identity.Store
}

func NewLinker(store identity.Store) *Linker {
	return &Linker{store: store}
}

func (l *Linker) Resolve(ctx context.Context, ext *auth.ExternalIdentity) (*identity.Identity, Outcome, error) {
	if ext == nil || ext.Subject == "" || ext.Email == "" {
		return nil, "", apperr.New(apperr.KindOAuthFailed, "OAuth authentication failed")
	}
	if !ext.EmailVerified {
		return nil, "", apperr.New(apperr.KindEmailNotVerified, "Email is not verified with "+ext.Provider)
	}

	ident, outcome, err := l.resolve(ctx, ext)
	if errors.Is(err, identity.ErrConflict) {
		// a concurrent first login created or linked the record; the second pass finds it
		ident, outcome, err = l.resolve(ctx, ext)
	}
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return nil, "", ae
		}
		return nil, "", apperr.Internal(fmt.Errorf("resolve %s identity: %w", ext.Provider, err))
	}

	logger.Info("external identity resolved", map[string]any{
		"provider": ext.Provider,
		"user_id":  ident.ID.String(),
		"outcome":  string(outcome),
	})
	return ident, outcome, nil
}

func (l *Linker) resolve(ctx context.Context, ext *auth.ExternalIdentity) (*identity.Identity, Outcome, error) {
	ident, err := l.store.FindBySubject(ctx, ext.Provider, ext.Subject)
	if err == nil {
		return ident, OutcomeMatched, nil
	}
	if !errors.Is(err, identity.ErrNotFound) {
		return nil, "", err
	}

	ident, err = l.store.FindByEmail(ctx, ext.Email)
	switch {
	case err == nil:
		if ident.ExternalSubject != nil {
			return nil, "", linkedElsewhere(ident, ext)
		}
		linked, err := l.store.LinkProvider(ctx, ident.ID, identity.LinkUpdate{
			Provider:  ext.Provider,
			Subject:   ext.Subject,
			AvatarURL: ext.Picture,
		})
		if err != nil {
			return nil, "", err
		}
		return linked, OutcomeLinked, nil
	case !errors.Is(err, identity.ErrNotFound):
		return nil, "", err
	}

	username, err := l.freeUsername(ctx, ext)
	if err != nil {
		return nil, "", err
	}

	first, last := names(ext)
	subject, provider := ext.Subject, ext.Provider
	created := &identity.Identity{
		FirstName:       first,
		LastName:        last,
		Email:           strings.ToLower(ext.Email),
		Username:        username,
		Role:            identity.RoleEmployee,
		Providers:       []string{ext.Provider},
		ExternalSubject: &subject,
		SubjectProvider: &provider,
		AvatarURL:       ext.Picture,
	}
	if err := l.store.Create(ctx, created); err != nil {
		return nil, "", err
	}
	return created, OutcomeCreated, nil
}

func linkedElsewhere(ident *identity.Identity, ext *auth.ExternalIdentity) error {
	if ident.SubjectProvider != nil && *ident.SubjectProvider != ext.Provider {
		return apperr.New(apperr.KindConflict,
			"This email is already linked to a "+*ident.SubjectProvider+" account")
	}
	return apperr.New(apperr.KindConflict,
		"This email is already linked to a different "+ext.Provider+" account")
}

// freeUsername derives a username from the assertion and suffixes digits
// until it is unused.
func (l *Linker) freeUsername(ctx context.Context, ext *auth.ExternalIdentity) (string, error) {
	base := sanitize(ext.Username)
	if base == "" {
		local, _, _ := strings.Cut(ext.Email, "@")
		base = sanitize(local)
	}
	if base == "" {
		base = "user"
	}

	candidate := base
	for range usernameAttempts {
		taken, err := l.store.UsernameTaken(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = base + utils.RandomDigits(4)
	}
	return base + utils.RandomDigits(8), nil
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func names(ext *auth.ExternalIdentity) (first, last string) {
	first, last = strings.TrimSpace(ext.GivenName), strings.TrimSpace(ext.FamilyName)
	if first == "" && ext.Name != "" {
		first, last, _ = strings.Cut(strings.TrimSpace(ext.Name), " ")
		last = strings.TrimSpace(last)
	}
	if first == "" {
		first, _, _ = strings.Cut(ext.Email, "@")
	}
	return first, last
}
