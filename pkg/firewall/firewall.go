// Package firewall implements a capability-based delegation engine: an
// administrator funds a shared vault, grants a bounded, revocable,
// time-limited spending permission to an agent, and every transfer runs a
// two-phase propose/execute sequence before value moves.
//
// All transitions are pure with respect to I/O: they take object state,
// validate every precondition before any mutation, and either apply all
// effects or none. Serialization of concurrent transitions against the
// same objects is the caller's substrate concern (row locks, a ledger's
// transaction engine); the engine itself never locks.
package firewall

import (
	"errors"
	"math"

	"github.com/google/uuid"
)

// AdminCap is the unforgeable administrator credential. Possession is the
// entire proof: the engine never inspects it beyond presence.
type AdminCap struct {
	ID string `json:"admin_id"`
}

// Vault pools the balance of a single asset, denominated in its smallest
// indivisible unit. Only ExecuteTransfer debits it.
type Vault struct {
	ID      string `json:"vault_id"`
	Balance uint64 `json:"balance"`
}

// Permission is a delegated, scoped spending capability against one vault.
// All fields except Used and Revoked are immutable after issuance.
type Permission struct {
	ID             string `json:"permission_id"`
	VaultID        string `json:"vault_id"`
	Agent          string `json:"agent_address"`
	MaxPerTransfer uint64 `json:"max_per_transfer"`
	TotalQuota     uint64 `json:"total_quota"` // 0 = unlimited
	Used           uint64 `json:"used"`
	ExpiresAt      int64  `json:"expires_at_millis"` // 0 = no expiry
	Revoked        bool   `json:"revoked"`
}

// ActionProposal is a single proposed transfer under one permission. It is
// executed at most once and never destroyed; an executed proposal is the
// audit record of the transfer.
type ActionProposal struct {
	ID           string `json:"proposal_id"`
	PermissionID string `json:"permission_id"`
	Recipient    string `json:"recipient_address"`
	Amount       uint64 `json:"amount"`
	CreatedAt    int64  `json:"created_at_millis"`
	Executed     bool   `json:"executed"`
}

func newID(prefix string) string { return prefix + "_" + uuid.NewString() }

// CreateAdmin mints a fresh administrator credential. Any number of
// independent credentials may exist; the engine does not deduplicate
// administrators.
func CreateAdmin() *AdminCap {
	return &AdminCap{ID: newID("adm")}
}

// CreateVault produces an empty vault. Presenting an AdminCap is the only
// precondition; its value is not otherwise checked.
func CreateVault(admin *AdminCap) (*Vault, error) {
	if admin == nil || admin.ID == "" {
		return nil, ErrUnauthorized
	}
	return &Vault{ID: newID("vlt")}, nil
}

// Deposit credits the vault. Anyone may top up a shared vault.
func Deposit(v *Vault, amount uint64) error {
	if amount == 0 || v.Balance > math.MaxUint64-amount {
		return ErrInvalidAmount
	}
	v.Balance += amount
	return nil
}

// IssuePermission grants agent a bounded spending capability against v.
// totalQuota 0 means unlimited; expiresAt 0 means no expiry, otherwise it
// must lie in the future at issuance.
func IssuePermission(admin *AdminCap, v *Vault, agent string, maxPerTransfer, totalQuota uint64, expiresAt int64, clk Clock) (*Permission, error) {
	if admin == nil || admin.ID == "" {
		return nil, ErrUnauthorized
	}
	if v == nil || v.ID == "" {
		return nil, errors.New("vault is required")
	}
	if agent == "" {
		return nil, errors.New("agent address is required")
	}
	if maxPerTransfer == 0 {
		return nil, ErrInvalidAmount
	}
	// A quota below the per-transfer cap could never be reached.
	if totalQuota != 0 && totalQuota < maxPerTransfer {
		return nil, ErrInvalidAmount
	}
	if expiresAt != 0 && expiresAt <= clk.NowMillis() {
		return nil, ErrInvalidExpiry
	}
	return &Permission{
		ID:             newID("perm"),
		VaultID:        v.ID,
		Agent:          agent,
		MaxPerTransfer: maxPerTransfer,
		TotalQuota:     totalQuota,
		ExpiresAt:      expiresAt,
	}, nil
}

// RevokePermission sets the kill switch. Irreversible; proposals already
// executed under the permission are unaffected.
func RevokePermission(admin *AdminCap, p *Permission) error {
	if admin == nil || admin.ID == "" {
		return ErrUnauthorized
	}
	p.Revoked = true
	return nil
}

// ProposeTransfer records the agent's intent to move amount to recipient.
// Quota is deliberately not checked here: competing proposals under one
// permission are screened against the live used counter at execution, not
// at proposal time.
func ProposeTransfer(p *Permission, caller, recipient string, amount uint64, clk Clock) (*ActionProposal, error) {
	if caller == "" || caller != p.Agent {
		return nil, abort(AbortNotPermissionAgent)
	}
	if p.Revoked {
		return nil, abort(AbortPermissionRevoked)
	}
	if p.ExpiresAt != 0 && clk.NowMillis() >= p.ExpiresAt {
		return nil, abort(AbortPermissionExpired)
	}
	if amount == 0 || amount > p.MaxPerTransfer {
		return nil, abort(AbortExceedsMaxPerTransfer)
	}
	return &ActionProposal{
		ID:           newID("prop"),
		PermissionID: p.ID,
		Recipient:    recipient,
		Amount:       amount,
		CreatedAt:    clk.NowMillis(),
	}, nil
}

// ExecuteTransfer is the only transition that moves value. Every
// precondition is checked, in a fixed order, before any mutation; on
// success the debit, the usage increment and the executed flag commit
// together. A proposal that fails a precondition here stays pending.
func ExecuteTransfer(v *Vault, p *Permission, prop *ActionProposal, clk Clock) error {
	if prop.Executed {
		return abort(AbortAlreadyExecuted)
	}
	if prop.PermissionID != p.ID {
		return abort(AbortProposalMismatch)
	}
	if p.VaultID != v.ID {
		return abort(AbortVaultMismatch)
	}
	if p.Revoked {
		return abort(AbortPermissionRevoked)
	}
	if p.ExpiresAt != 0 && clk.NowMillis() >= p.ExpiresAt {
		return abort(AbortPermissionExpired)
	}
	// Caps are immutable after issuance; re-checking here is a safety net
	// should an adjust-cap operation ever be added.
	if prop.Amount > p.MaxPerTransfer {
		return abort(AbortExceedsMaxPerTransfer)
	}
	if p.TotalQuota != 0 && prop.Amount > p.TotalQuota-p.Used {
		return abort(AbortQuotaExceeded)
	}
	if v.Balance < prop.Amount {
		return ErrInsufficientBalance
	}
	v.Balance -= prop.Amount
	p.Used += prop.Amount
	prop.Executed = true
	return nil
}
