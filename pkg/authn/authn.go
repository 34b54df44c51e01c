// Package authn resolves bearer tokens to firewall identities. The engine
// treats AdminCap and agent identity as unforgeable capabilities; in an
// HTTP deployment possession of the minted token stands in for possession
// of the object, so tokens are stored only as SHA-256 hashes and compared
// by hash on every privileged call.
package authn

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrUnauthorized = errors.New("unauthorized")

// AdminIdentity is a resolved administrator credential.
type AdminIdentity struct {
	AdminID string
}

// AgentIdentity is a resolved agent. Address is the identity proposals
// are authorized against.
type AgentIdentity struct {
	Address string
}

// AuthenticateAdminBearer resolves an Authorization header to an AdminCap.
// A disposed credential no longer authenticates.
func AuthenticateAdminBearer(ctx context.Context, db *pgxpool.Pool, authorization string) (*AdminIdentity, error) {
	token, ok := parseBearerToken(authorization)
	if !ok {
		return nil, ErrUnauthorized
	}
	var out AdminIdentity
	err := db.QueryRow(ctx, `
SELECT admin_id
FROM admin_caps
WHERE token_hash=$1
  AND disposed_at IS NULL
`, HashToken(token)).Scan(&out.AdminID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	return &out, nil
}

// AuthenticateAgentBearer resolves an Authorization header to an agent
// address.
func AuthenticateAgentBearer(ctx context.Context, db *pgxpool.Pool, authorization string) (*AgentIdentity, error) {
	token, ok := parseBearerToken(authorization)
	if !ok {
		return nil, ErrUnauthorized
	}
	var out AgentIdentity
	err := db.QueryRow(ctx, `
SELECT address
FROM agent_credentials
WHERE token_hash=$1
  AND revoked_at IS NULL
`, HashToken(token)).Scan(&out.Address)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	return &out, nil
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func parseBearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}
