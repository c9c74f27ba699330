package ports

import (
	"context"

	"github.com/layer-3/agentrelay/core"
)

// KeyAuthority lists the access keys currently attached to an account
type KeyAuthority interface {
	AccessKeys(ctx context.Context, accountID string) ([]core.AccessKey, error)
}

// Verifier decides whether an identity assertion is genuine
type Verifier interface {
	Authenticate(ctx context.Context, assertion core.Assertion) bool
}

// CredentialSource turns a session into the bearer token used against the agent service
type CredentialSource interface {
	Credential(session core.Session) (string, error)
}

// CredentialRenewer refreshes a credential kept in a run record before it is
// presented again
type CredentialRenewer interface {
	Renew(credential string) (string, error)
}
