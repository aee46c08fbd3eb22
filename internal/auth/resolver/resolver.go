package resolver

import (
	"context"

	"github.com/SspStark/adminsphere-server/internal/auth"
	"github.com/SspStark/adminsphere-server/internal/identity"
)

// Outcome says how an external identity was matched to a local one.
type Outcome string

const (
	OutcomeMatched Outcome = "matched"
	OutcomeLinked  Outcome = "linked"
	OutcomeCreated Outcome = "created"
)

// Resolver determines which internal user an external identity belongs to.
// It is the ONLY place where identity-to-user mapping logic lives.
type Resolver interface {
	Resolve(ctx context.Context, ext *auth.ExternalIdentity) (*identity.Identity, Outcome, error)
}
