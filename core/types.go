package core

import "time"

// Assertion is the identity assertion a wallet client presents: a message
// signed by one of the account's keys.
type Assertion struct {
	AccountID   string `json:"accountId"`
	PublicKey   string `json:"publicKey"`
	Signature   string `json:"signature"`
	Message     string `json:"message"`
	Nonce       string `json:"nonce"`
	Recipient   string `json:"recipient"`
	CallbackURL string `json:"callbackUrl,omitempty"`
}

// Session is a verified assertion held in the session store
type Session struct {
	AccountID string
	Assertion Assertion
	// Raw is the assertion exactly as it was stored
	Raw string
}

// AccessKey is one key record returned by the key authority
type AccessKey struct {
	PublicKey  string
	FullAccess bool
}

// RunStatus is the lifecycle state of a tracked run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is the registry record for the latest run of an account
type Run struct {
	AccountID  string
	ThreadID   string
	RunID      string
	Status     RunStatus
	Result     string
	Error      string
	Credential string // bearer used to poll the agent for this run
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Terminal reports whether the run will never change again
func (r Run) Terminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}

// RunHandle identifies a run on the agent service
type RunHandle struct {
	ThreadID string
	RunID    string
}

// AgentRunState is the status reported by the agent service for a run
type AgentRunState string

const (
	AgentRunQueued     AgentRunState = "queued"
	AgentRunInProgress AgentRunState = "in_progress"
	AgentRunCompleted  AgentRunState = "completed"
	AgentRunFailed     AgentRunState = "failed"
	AgentRunCancelled  AgentRunState = "cancelled"
	AgentRunExpired    AgentRunState = "expired"
	AgentRunIncomplete AgentRunState = "incomplete"
)

// Failed reports whether the agent will never complete the run
func (s AgentRunState) Failed() bool {
	switch s {
	case AgentRunFailed, AgentRunCancelled, AgentRunExpired, AgentRunIncomplete:
		return true
	}
	return false
}

// LedgerEvent names a notification sent to the ledger contract
type LedgerEvent string

const (
	LedgerEventInitiated LedgerEvent = "initiated"
	LedgerEventFinished  LedgerEvent = "finished"
)

// LedgerQuery mirrors one entry of the contract's queries mapping
type LedgerQuery struct {
	User      string `json:"user"`
	QueryText string `json:"queryText"`
	State     uint8  `json:"state"`
	RunID     string `json:"runId"`
}
