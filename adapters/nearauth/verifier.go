package nearauth

import (
	"context"
	"fmt"

	"github.com/layer-3/agentrelay/core"
	"github.com/layer-3/agentrelay/ports"
	"go.uber.org/zap"
)

var _ ports.Verifier = (*Verifier)(nil)

// Verifier accepts an assertion only when its signature is valid and the
// signing key currently holds full access to the account
type Verifier struct {
	keys   ports.KeyAuthority
	logger *zap.Logger
}

// NewVerifier creates a new verifier
func NewVerifier(keys ports.KeyAuthority, logger *zap.Logger) *Verifier {
	return &Verifier{keys: keys, logger: logger}
}

// Authenticate fails closed: any error is a rejection
func (v *Verifier) Authenticate(ctx context.Context, a core.Assertion) bool {
	if err := v.Verify(ctx, a); err != nil {
		v.logger.Info("assertion rejected",
			zap.String("account_id", a.AccountID),
			zap.Error(err))
		return false
	}
	return true
}

// Verify returns the reason an assertion is rejected, nil if it is accepted
func (v *Verifier) Verify(ctx context.Context, a core.Assertion) error {
	if a.AccountID == "" {
		return fmt.Errorf("%w: missing account id", core.ErrKeyNotAuthorized)
	}
	if err := VerifySignature(a); err != nil {
		return err
	}

	keys, err := v.keys.AccessKeys(ctx, a.AccountID)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrKeyNotAuthorized, err)
	}
	for _, k := range keys {
		if k.PublicKey == a.PublicKey && k.FullAccess {
			return nil
		}
	}
	return core.ErrKeyNotAuthorized
}
