// Package store persists firewall objects in Postgres and supplies the
// serializing execution substrate the engine requires: every mutating
// transition runs inside one transaction, and ExecuteTransfer takes row
// locks in a fixed order so concurrent executions against the same vault
// or permission commit strictly one after another.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"actionfirewall/pkg/firewall"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("not found")

type Store struct{ DB *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

// EnsureSchema creates the firewall tables when absent. Amounts are
// stored as BIGINT, which caps the representable base-unit value at
// 2^63-1; toBig rejects anything larger before it reaches a query.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, `
CREATE TABLE IF NOT EXISTS admin_caps(
  admin_id    TEXT PRIMARY KEY,
  token_hash  TEXT NOT NULL UNIQUE,
  created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
  disposed_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS agent_credentials(
  address     TEXT PRIMARY KEY,
  token_hash  TEXT NOT NULL UNIQUE,
  created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
  revoked_at  TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS vaults(
  vault_id    TEXT PRIMARY KEY,
  balance     BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
  created_by  TEXT NOT NULL REFERENCES admin_caps(admin_id),
  created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS permissions(
  permission_id    TEXT PRIMARY KEY,
  vault_id         TEXT NOT NULL REFERENCES vaults(vault_id),
  agent_address    TEXT NOT NULL,
  max_per_transfer BIGINT NOT NULL CHECK (max_per_transfer > 0),
  total_quota      BIGINT NOT NULL DEFAULT 0 CHECK (total_quota >= 0),
  used             BIGINT NOT NULL DEFAULT 0 CHECK (used >= 0),
  expires_at       BIGINT NOT NULL DEFAULT 0,
  revoked          BOOLEAN NOT NULL DEFAULT false,
  issued_by        TEXT NOT NULL REFERENCES admin_caps(admin_id),
  created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS proposals(
  proposal_id       TEXT PRIMARY KEY,
  permission_id     TEXT NOT NULL REFERENCES permissions(permission_id),
  recipient_address TEXT NOT NULL,
  amount            BIGINT NOT NULL CHECK (amount > 0),
  created_at        BIGINT NOT NULL,
  executed          BOOLEAN NOT NULL DEFAULT false,
  executed_at       TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS firewall_events(
  event_id    BIGSERIAL PRIMARY KEY,
  vault_id    TEXT NOT NULL,
  type        TEXT NOT NULL,
  actor_id    TEXT,
  payload     JSONB NOT NULL DEFAULT '{}'::jsonb,
  occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS idempotency_records(
  actor_address   TEXT NOT NULL,
  idempotency_key TEXT NOT NULL,
  endpoint        TEXT NOT NULL,
  response_status INT NOT NULL,
  response_body   JSONB NOT NULL,
  created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (actor_address, idempotency_key, endpoint)
);
`)
	return err
}

func toBig(u uint64) (int64, error) {
	if u > math.MaxInt64 {
		return 0, fmt.Errorf("amount %d exceeds the storable range", u)
	}
	return int64(u), nil
}

// --- credentials ---

func (s *Store) CreateAdminCap(ctx context.Context, adminID, tokenHash string) error {
	_, err := s.DB.Exec(ctx, `INSERT INTO admin_caps(admin_id,token_hash) VALUES($1,$2)`, adminID, tokenHash)
	return err
}

func (s *Store) CreateAgentCredential(ctx context.Context, address, tokenHash string) error {
	_, err := s.DB.Exec(ctx, `INSERT INTO agent_credentials(address,token_hash) VALUES($1,$2)`, address, tokenHash)
	return err
}

// --- vaults ---

func (s *Store) InsertVault(ctx context.Context, v *firewall.Vault, createdBy string) error {
	_, err := s.DB.Exec(ctx, `INSERT INTO vaults(vault_id,balance,created_by) VALUES($1,0,$2)`, v.ID, createdBy)
	return err
}

func (s *Store) GetVault(ctx context.Context, vaultID string) (firewall.Vault, error) {
	var v firewall.Vault
	var balance int64
	err := s.DB.QueryRow(ctx, `SELECT vault_id,balance FROM vaults WHERE vault_id=$1`, vaultID).Scan(&v.ID, &balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return v, fmt.Errorf("vault %s: %w", vaultID, ErrNotFound)
	}
	v.Balance = uint64(balance)
	return v, err
}

// Deposit locks the vault row, runs the engine credit and writes the new
// balance back, all in one transaction.
func (s *Store) Deposit(ctx context.Context, vaultID string, amt uint64) (firewall.Vault, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return firewall.Vault{}, err
	}
	defer tx.Rollback(ctx)

	v, err := lockVault(ctx, tx, vaultID)
	if err != nil {
		return firewall.Vault{}, err
	}
	if err := firewall.Deposit(&v, amt); err != nil {
		return firewall.Vault{}, err
	}
	newBalance, err := toBig(v.Balance)
	if err != nil {
		return firewall.Vault{}, firewall.ErrInvalidAmount
	}
	if _, err := tx.Exec(ctx, `UPDATE vaults SET balance=$1 WHERE vault_id=$2`, newBalance, vaultID); err != nil {
		return firewall.Vault{}, err
	}
	if err := addEvent(ctx, tx, vaultID, "DEPOSITED", "", map[string]any{"amount": amt}); err != nil {
		return firewall.Vault{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return firewall.Vault{}, err
	}
	return v, nil
}

// --- permissions ---

func (s *Store) InsertPermission(ctx context.Context, p *firewall.Permission, issuedBy string) error {
	maxPer, err := toBig(p.MaxPerTransfer)
	if err != nil {
		return firewall.ErrInvalidAmount
	}
	quota, err := toBig(p.TotalQuota)
	if err != nil {
		return firewall.ErrInvalidAmount
	}
	_, err = s.DB.Exec(ctx, `
INSERT INTO permissions(permission_id,vault_id,agent_address,max_per_transfer,total_quota,used,expires_at,revoked,issued_by)
VALUES($1,$2,$3,$4,$5,0,$6,false,$7)`,
		p.ID, p.VaultID, p.Agent, maxPer, quota, p.ExpiresAt, issuedBy)
	if err != nil {
		return err
	}
	return s.AddEvent(ctx, p.VaultID, "PERMISSION_ISSUED", issuedBy, map[string]any{
		"permission_id":    p.ID,
		"agent_address":    p.Agent,
		"max_per_transfer": p.MaxPerTransfer,
		"total_quota":      p.TotalQuota,
		"expires_at":       p.ExpiresAt,
	})
}

func (s *Store) GetPermission(ctx context.Context, permissionID string) (firewall.Permission, error) {
	return scanPermission(s.DB.QueryRow(ctx, `
SELECT permission_id,vault_id,agent_address,max_per_transfer,total_quota,used,expires_at,revoked
FROM permissions WHERE permission_id=$1`, permissionID), permissionID)
}

func (s *Store) ListVaultPermissions(ctx context.Context, vaultID string) ([]firewall.Permission, error) {
	rows, err := s.DB.Query(ctx, `
SELECT permission_id,vault_id,agent_address,max_per_transfer,total_quota,used,expires_at,revoked
FROM permissions WHERE vault_id=$1 ORDER BY created_at ASC`, vaultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []firewall.Permission
	for rows.Next() {
		p, err := scanPermission(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RevokePermission flips the kill switch under the row lock. Revoking an
// already revoked permission is a no-op, matching the engine's terminal
// disable semantics.
func (s *Store) RevokePermission(ctx context.Context, admin *firewall.AdminCap, permissionID string) (firewall.Permission, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return firewall.Permission{}, err
	}
	defer tx.Rollback(ctx)

	p, err := lockPermission(ctx, tx, permissionID)
	if err != nil {
		return firewall.Permission{}, err
	}
	if err := firewall.RevokePermission(admin, &p); err != nil {
		return firewall.Permission{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE permissions SET revoked=true WHERE permission_id=$1`, permissionID); err != nil {
		return firewall.Permission{}, err
	}
	if err := addEvent(ctx, tx, p.VaultID, "PERMISSION_REVOKED", admin.ID, map[string]any{"permission_id": permissionID}); err != nil {
		return firewall.Permission{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return firewall.Permission{}, err
	}
	return p, nil
}

// --- proposals ---

func (s *Store) InsertProposal(ctx context.Context, prop *firewall.ActionProposal, vaultID string) error {
	amt, err := toBig(prop.Amount)
	if err != nil {
		return firewall.ErrInvalidAmount
	}
	_, err = s.DB.Exec(ctx, `
INSERT INTO proposals(proposal_id,permission_id,recipient_address,amount,created_at,executed)
VALUES($1,$2,$3,$4,$5,false)`,
		prop.ID, prop.PermissionID, prop.Recipient, amt, prop.CreatedAt)
	if err != nil {
		return err
	}
	return s.AddEvent(ctx, vaultID, "TRANSFER_PROPOSED", "", map[string]any{
		"proposal_id":       prop.ID,
		"permission_id":     prop.PermissionID,
		"recipient_address": prop.Recipient,
		"amount":            prop.Amount,
	})
}

func (s *Store) GetProposal(ctx context.Context, proposalID string) (firewall.ActionProposal, error) {
	return scanProposal(s.DB.QueryRow(ctx, `
SELECT proposal_id,permission_id,recipient_address,amount,created_at,executed
FROM proposals WHERE proposal_id=$1`, proposalID), proposalID)
}

func (s *Store) ListPermissionProposals(ctx context.Context, permissionID string) ([]firewall.ActionProposal, error) {
	rows, err := s.DB.Query(ctx, `
SELECT proposal_id,permission_id,recipient_address,amount,created_at,executed
FROM proposals WHERE permission_id=$1 ORDER BY created_at ASC, proposal_id ASC`, permissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []firewall.ActionProposal
	for rows.Next() {
		p, err := scanProposal(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ExecutionResult is the post-commit state of the three objects an
// execution touches.
type ExecutionResult struct {
	Vault      firewall.Vault          `json:"vault"`
	Permission firewall.Permission     `json:"permission"`
	Proposal   firewall.ActionProposal `json:"proposal"`
}

// ExecuteTransfer loads and locks vault, permission and proposal (in that
// fixed order, so concurrent executions cannot deadlock), runs the pure
// engine transition, and persists either all four effects or none. The
// three identifiers travel independently through the call; the engine's
// cross-binding checks are what ties them together.
func (s *Store) ExecuteTransfer(ctx context.Context, vaultID, permissionID, proposalID string, clk firewall.Clock) (ExecutionResult, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return ExecutionResult{}, err
	}
	defer tx.Rollback(ctx)

	v, err := lockVault(ctx, tx, vaultID)
	if err != nil {
		return ExecutionResult{}, err
	}
	p, err := lockPermission(ctx, tx, permissionID)
	if err != nil {
		return ExecutionResult{}, err
	}
	prop, err := lockProposal(ctx, tx, proposalID)
	if err != nil {
		return ExecutionResult{}, err
	}

	if err := firewall.ExecuteTransfer(&v, &p, &prop, clk); err != nil {
		return ExecutionResult{}, err
	}

	newBalance, err := toBig(v.Balance)
	if err != nil {
		return ExecutionResult{}, firewall.ErrInvalidAmount
	}
	newUsed, err := toBig(p.Used)
	if err != nil {
		return ExecutionResult{}, firewall.ErrInvalidAmount
	}
	if _, err := tx.Exec(ctx, `UPDATE vaults SET balance=$1 WHERE vault_id=$2`, newBalance, v.ID); err != nil {
		return ExecutionResult{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE permissions SET used=$1 WHERE permission_id=$2`, newUsed, p.ID); err != nil {
		return ExecutionResult{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE proposals SET executed=true, executed_at=now() WHERE proposal_id=$1`, prop.ID); err != nil {
		return ExecutionResult{}, err
	}
	// The payout rail is external; the event row is the durable record of
	// value leaving the vault.
	if err := addEvent(ctx, tx, v.ID, "TRANSFER_EXECUTED", p.Agent, map[string]any{
		"proposal_id":       prop.ID,
		"permission_id":     p.ID,
		"recipient_address": prop.Recipient,
		"amount":            prop.Amount,
	}); err != nil {
		return ExecutionResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return ExecutionResult{}, err
	}
	return ExecutionResult{Vault: v, Permission: p, Proposal: prop}, nil
}

// --- events ---

func (s *Store) AddEvent(ctx context.Context, vaultID, typ, actorID string, payload map[string]any) error {
	b, _ := json.Marshal(payload)
	_, err := s.DB.Exec(ctx, `INSERT INTO firewall_events(vault_id,type,actor_id,payload) VALUES($1,$2,$3,$4::jsonb)`,
		vaultID, typ, nullable(actorID), string(b))
	return err
}

func (s *Store) ListEvents(ctx context.Context, vaultID string) ([]map[string]any, error) {
	rows, err := s.DB.Query(ctx, `SELECT type,actor_id,occurred_at,payload FROM firewall_events WHERE vault_id=$1 ORDER BY event_id ASC`, vaultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []map[string]any
	for rows.Next() {
		var typ string
		var actorID *string
		var at time.Time
		var payload []byte
		if err := rows.Scan(&typ, &actorID, &at, &payload); err != nil {
			return nil, err
		}
		var obj any
		_ = json.Unmarshal(payload, &obj)
		out = append(out, map[string]any{"type": typ, "actor_id": actorID, "at": at.Format(time.RFC3339), "payload": obj})
	}
	return out, rows.Err()
}

// --- idempotency ---

func (s *Store) GetIdempotencyRecord(ctx context.Context, actorAddress, idempotencyKey, endpoint string) (int, map[string]any, bool, error) {
	var status int
	var body []byte
	err := s.DB.QueryRow(ctx, `
SELECT response_status,response_body FROM idempotency_records
WHERE actor_address=$1 AND idempotency_key=$2 AND endpoint=$3`,
		actorAddress, idempotencyKey, endpoint).Scan(&status, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, err
	}
	var obj map[string]any
	_ = json.Unmarshal(body, &obj)
	return status, obj, true, nil
}

func (s *Store) SaveIdempotencyRecord(ctx context.Context, actorAddress, idempotencyKey, endpoint string, responseStatus int, responseBody map[string]any) error {
	b, _ := json.Marshal(responseBody)
	_, err := s.DB.Exec(ctx, `
INSERT INTO idempotency_records(actor_address,idempotency_key,endpoint,response_status,response_body)
VALUES($1,$2,$3,$4,$5::jsonb)
ON CONFLICT (actor_address,idempotency_key,endpoint) DO NOTHING`,
		actorAddress, idempotencyKey, endpoint, responseStatus, string(b))
	return err
}

// --- row helpers ---

type rowScanner interface{ Scan(dest ...any) error }

func scanPermission(row rowScanner, id string) (firewall.Permission, error) {
	var p firewall.Permission
	var maxPer, quota, used int64
	err := row.Scan(&p.ID, &p.VaultID, &p.Agent, &maxPer, &quota, &used, &p.ExpiresAt, &p.Revoked)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, fmt.Errorf("permission %s: %w", id, ErrNotFound)
	}
	p.MaxPerTransfer = uint64(maxPer)
	p.TotalQuota = uint64(quota)
	p.Used = uint64(used)
	return p, err
}

func scanProposal(row rowScanner, id string) (firewall.ActionProposal, error) {
	var prop firewall.ActionProposal
	var amt int64
	err := row.Scan(&prop.ID, &prop.PermissionID, &prop.Recipient, &amt, &prop.CreatedAt, &prop.Executed)
	if errors.Is(err, pgx.ErrNoRows) {
		return prop, fmt.Errorf("proposal %s: %w", id, ErrNotFound)
	}
	prop.Amount = uint64(amt)
	return prop, err
}

func lockVault(ctx context.Context, tx pgx.Tx, vaultID string) (firewall.Vault, error) {
	var v firewall.Vault
	var balance int64
	err := tx.QueryRow(ctx, `SELECT vault_id,balance FROM vaults WHERE vault_id=$1 FOR UPDATE`, vaultID).Scan(&v.ID, &balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return v, fmt.Errorf("vault %s: %w", vaultID, ErrNotFound)
	}
	v.Balance = uint64(balance)
	return v, err
}

func lockPermission(ctx context.Context, tx pgx.Tx, permissionID string) (firewall.Permission, error) {
	return scanPermission(tx.QueryRow(ctx, `
SELECT permission_id,vault_id,agent_address,max_per_transfer,total_quota,used,expires_at,revoked
FROM permissions WHERE permission_id=$1 FOR UPDATE`, permissionID), permissionID)
}

func lockProposal(ctx context.Context, tx pgx.Tx, proposalID string) (firewall.ActionProposal, error) {
	return scanProposal(tx.QueryRow(ctx, `
SELECT proposal_id,permission_id,recipient_address,amount,created_at,executed
FROM proposals WHERE proposal_id=$1 FOR UPDATE`, proposalID), proposalID)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func addEvent(ctx context.Context, tx pgx.Tx, vaultID, typ, actorID string, payload map[string]any) error {
	b, _ := json.Marshal(payload)
	_, err := tx.Exec(ctx, `INSERT INTO firewall_events(vault_id,type,actor_id,payload) VALUES($1,$2,$3,$4::jsonb)`,
		vaultID, typ, nullable(actorID), string(b))
	return err
}
