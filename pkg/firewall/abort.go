package firewall

import (
	"errors"
	"fmt"
)

// Failures outside the numeric abort enumeration. Remote callers must not
// conflate these with the firewall codes below.
var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidExpiry       = errors.New("invalid expiry")
	ErrInsufficientBalance = errors.New("insufficient vault balance")
)

// AbortCode is a stable numeric identifier for a precondition failure.
// The values are part of the wire contract and never renumbered.
type AbortCode int

const (
	AbortNotPermissionAgent    AbortCode = 0
	AbortPermissionRevoked     AbortCode = 1
	AbortPermissionExpired     AbortCode = 2
	AbortExceedsMaxPerTransfer AbortCode = 3
	AbortAlreadyExecuted       AbortCode = 4
	AbortProposalMismatch      AbortCode = 5
	AbortVaultMismatch         AbortCode = 6
	AbortQuotaExceeded         AbortCode = 7
)

var abortCodeNames = map[AbortCode]string{
	AbortNotPermissionAgent:    "NOT_PERMISSION_AGENT",
	AbortPermissionRevoked:     "PERMISSION_REVOKED",
	AbortPermissionExpired:     "PERMISSION_EXPIRED",
	AbortExceedsMaxPerTransfer: "EXCEEDS_MAX_PER_TRANSFER",
	AbortAlreadyExecuted:       "PROPOSAL_ALREADY_EXECUTED",
	AbortProposalMismatch:      "PROPOSAL_PERMISSION_MISMATCH",
	AbortVaultMismatch:         "VAULT_PERMISSION_MISMATCH",
	AbortQuotaExceeded:         "QUOTA_EXCEEDED",
}

// abortCodeMessages is the fixed lookup table callers use to map a numeric
// code to a user-facing explanation without parsing implementation detail.
var abortCodeMessages = map[AbortCode]string{
	AbortNotPermissionAgent:    "caller is not the permission's designated agent",
	AbortPermissionRevoked:     "permission has been revoked",
	AbortPermissionExpired:     "permission has expired",
	AbortExceedsMaxPerTransfer: "amount exceeds the permission's per-transfer cap",
	AbortAlreadyExecuted:       "proposal already executed",
	AbortProposalMismatch:      "proposal does not belong to the given permission",
	AbortVaultMismatch:         "vault does not belong to the given permission",
	AbortQuotaExceeded:         "cumulative usage would exceed the permission's total quota",
}

func (c AbortCode) String() string {
	if name, ok := abortCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ABORT_%d", int(c))
}

// Message returns the user-facing explanation for the code.
func (c AbortCode) Message() string {
	if msg, ok := abortCodeMessages[c]; ok {
		return msg
	}
	return "unknown abort code"
}

// AbortError carries one code from the closed enumeration. Transitions
// return it before any state is mutated.
type AbortError struct {
	Code AbortCode
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("firewall abort %d: %s", int(e.Code), e.Code.Message())
}

func abort(code AbortCode) error { return &AbortError{Code: code} }

// AsAbort unwraps err into its abort code, reporting whether err belongs
// to the closed enumeration at all.
func AsAbort(err error) (AbortCode, bool) {
	var ae *AbortError
	if errors.As(err, &ae) {
		return ae.Code, true
	}
	return 0, false
}
