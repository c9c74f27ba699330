package core

import "errors"

var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrInvalidNonce         = errors.New("nonce must be 32 bytes")
	ErrInvalidPublicKey     = errors.New("invalid public key")
	ErrUnsupportedKeyType   = errors.New("unsupported key type")
	ErrKeyNotAuthorized     = errors.New("key does not hold full access")
	ErrSessionNotFound      = errors.New("session not found")
	ErrRunNotFound          = errors.New("run not found")
	ErrRunSuperseded        = errors.New("run superseded by a newer run")
	ErrRunNotRunning        = errors.New("run is not running")
	ErrStoreOperation       = errors.New("store operation failed")
	ErrAgentUnavailable     = errors.New("agent service unavailable")
	ErrLedgerReverted       = errors.New("ledger transaction reverted")
	ErrLedgerUnavailable    = errors.New("ledger unavailable")
)
