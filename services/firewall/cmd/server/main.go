package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"os"

	"actionfirewall/pkg/amount"
	"actionfirewall/pkg/authn"
	"actionfirewall/pkg/db"
	"actionfirewall/pkg/firewall"
	"actionfirewall/pkg/httpx"
	"actionfirewall/services/firewall/internal/idempotency"
	"actionfirewall/services/firewall/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func main() {
	pool := db.MustConnect()
	st := store.New(pool)
	if err := st.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("schema: %v", err)
	}

	port := os.Getenv("SERVICE_PORT")
	if port == "" {
		port = "8084"
	}

	clk := firewall.SystemClock

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	r.Route("/firewall", func(api chi.Router) {

		// Minting an AdminCap is deliberately unauthenticated: the
		// credential itself is the capability, and any number of
		// independent administrators may exist.
		api.Post("/admins", func(w http.ResponseWriter, r *http.Request) {
			cap := firewall.CreateAdmin()
			token := "admc_live_" + randomToken()
			if err := st.CreateAdminCap(r.Context(), cap.ID, authn.HashToken(token)); err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 201, map[string]any{
				"request_id": httpx.NewRequestID(),
				"admin":      cap,
				"credentials": map[string]any{
					"token":      token,
					"token_hint": "store once; not retrievable again",
				},
			})
		})

		api.Post("/agents", func(w http.ResponseWriter, r *http.Request) {
			address := "agt_" + uuid.NewString()
			token := "agt_live_" + randomToken()
			if err := st.CreateAgentCredential(r.Context(), address, authn.HashToken(token)); err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 201, map[string]any{
				"request_id": httpx.NewRequestID(),
				"agent":      map[string]any{"address": address},
				"credentials": map[string]any{
					"token":      token,
					"token_hint": "store once; not retrievable again",
				},
			})
		})

		api.Post("/vaults", func(w http.ResponseWriter, r *http.Request) {
			admin, err := authn.AuthenticateAdminBearer(r.Context(), pool, r.Header.Get("Authorization"))
			if err != nil {
				writeFirewallError(w, err)
				return
			}
			v, err := firewall.CreateVault(&firewall.AdminCap{ID: admin.AdminID})
			if err != nil {
				writeFirewallError(w, err)
				return
			}
			if err := st.InsertVault(r.Context(), v, admin.AdminID); err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			_ = st.AddEvent(r.Context(), v.ID, "VAULT_CREATED", admin.AdminID, map[string]any{})
			httpx.WriteJSON(w, 201, map[string]any{"request_id": httpx.NewRequestID(), "vault": vaultView(*v)})
		})

		api.Get("/vaults/{vault_id}", func(w http.ResponseWriter, r *http.Request) {
			v, err := st.GetVault(r.Context(), chi.URLParam(r, "vault_id"))
			if err != nil {
				writeFirewallError(w, err)
				return
			}
			perms, err := st.ListVaultPermissions(r.Context(), v.ID)
			if err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "vault": vaultView(v), "permissions": perms})
		})

		// Anyone may top up a shared vault; no bearer required.
		api.Post("/vaults/{vault_id}/deposit", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Amount string `json:"amount"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			amt, err := amount.Parse(req.Amount)
			if err != nil {
				httpx.WriteError(w, 400, "INVALID_AMOUNT", err.Error(), nil)
				return
			}
			v, err := st.Deposit(r.Context(), chi.URLParam(r, "vault_id"), amt)
			if err != nil {
				writeFirewallError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "vault": vaultView(v)})
		})

		api.Get("/vaults/{vault_id}/events", func(w http.ResponseWriter, r *http.Request) {
			vaultID := chi.URLParam(r, "vault_id")
			if _, err := st.GetVault(r.Context(), vaultID); err != nil {
				writeFirewallError(w, err)
				return
			}
			events, err := st.ListEvents(r.Context(), vaultID)
			if err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "vault_id": vaultID, "events": events})
		})

		api.Post("/permissions", func(w http.ResponseWriter, r *http.Request) {
			admin, err := authn.AuthenticateAdminBearer(r.Context(), pool, r.Header.Get("Authorization"))
			if err != nil {
				writeFirewallError(w, err)
				return
			}
			var req struct {
				VaultID          string `json:"vault_id"`
				AgentAddress     string `json:"agent_address"`
				MaxPerTransfer   string `json:"max_per_transfer"`
				TotalQuota       string `json:"total_quota"`
				ExpiresInMinutes int64  `json:"expires_in_minutes"`
				ExpiresAtMillis  int64  `json:"expires_at_millis"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			maxPer, err := amount.Parse(req.MaxPerTransfer)
			if err != nil {
				httpx.WriteError(w, 400, "INVALID_AMOUNT", "max_per_transfer: "+err.Error(), nil)
				return
			}
			quota := uint64(0)
			if req.TotalQuota != "" {
				quota, err = amount.Parse(req.TotalQuota)
				if err != nil {
					httpx.WriteError(w, 400, "INVALID_AMOUNT", "total_quota: "+err.Error(), nil)
					return
				}
			}
			expiresAt := req.ExpiresAtMillis
			if expiresAt == 0 && req.ExpiresInMinutes > 0 {
				expiresAt = clk.NowMillis() + req.ExpiresInMinutes*60_000
			}
			v, err := st.GetVault(r.Context(), req.VaultID)
			if err != nil {
				writeFirewallError(w, err)
				return
			}
			p, err := firewall.IssuePermission(&firewall.AdminCap{ID: admin.AdminID}, &v, req.AgentAddress, maxPer, quota, expiresAt, clk)
			if err != nil {
				writeFirewallError(w, err)
				return
			}
			if err := st.InsertPermission(r.Context(), p, admin.AdminID); err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 201, map[string]any{"request_id": httpx.NewRequestID(), "permission": p})
		})

		api.Get("/permissions/{permission_id}", func(w http.ResponseWriter, r *http.Request) {
			p, err := st.GetPermission(r.Context(), chi.URLParam(r, "permission_id"))
			if err != nil {
				writeFirewallError(w, err)
				return
			}
			proposals, err := st.ListPermissionProposals(r.Context(), p.ID)
			if err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "permission": p, "proposals": proposals})
		})

		api.Post("/permissions/{permission_id}/revoke", func(w http.ResponseWriter, r *http.Request) {
			admin, err := authn.AuthenticateAdminBearer(r.Context(), pool, r.Header.Get("Authorization"))
			if err != nil {
				writeFirewallError(w, err)
				return
			}
			p, err := st.RevokePermission(r.Context(), &firewall.AdminCap{ID: admin.AdminID}, chi.URLParam(r, "permission_id"))
			if err != nil {
				writeFirewallError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "permission": p})
		})

		api.Post("/proposals", func(w http.ResponseWriter, r *http.Request) {
			agent, err := authn.AuthenticateAgentBearer(r.Context(), pool, r.Header.Get("Authorization"))
			if err != nil {
				writeFirewallError(w, err)
				return
			}
			var req struct {
				PermissionID     string `json:"permission_id"`
				RecipientAddress string `json:"recipient_address"`
				Amount           string `json:"amount"`
				IdempotencyKey   string `json:"idempotency_key"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			actor := idempotency.ActorContext{Address: agent.Address, IdempotencyKey: req.IdempotencyKey}
			if status, body, replayed, err := idempotency.Replay(r.Context(), st, actor, "POST /firewall/proposals"); err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			} else if replayed {
				httpx.WriteJSON(w, status, body)
				return
			}
			if req.RecipientAddress == "" {
				httpx.WriteError(w, 400, "BAD_REQUEST", "recipient_address is required", nil)
				return
			}
			amt, err := amount.Parse(req.Amount)
			if err != nil {
				httpx.WriteError(w, 400, "INVALID_AMOUNT", err.Error(), nil)
				return
			}
			p, err := st.GetPermission(r.Context(), req.PermissionID)
			if err != nil {
				writeFirewallError(w, err)
				return
			}
			prop, err := firewall.ProposeTransfer(&p, agent.Address, req.RecipientAddress, amt, clk)
			if err != nil {
				writeFirewallError(w, err)
				return
			}
			if err := st.InsertProposal(r.Context(), prop, p.VaultID); err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			resp := map[string]any{"request_id": httpx.NewRequestID(), "proposal": prop}
			_ = idempotency.Save(r.Context(), st, actor, "POST /firewall/proposals", 201, resp)
			httpx.WriteJSON(w, 201, resp)
		})

		api.Get("/proposals/{proposal_id}", func(w http.ResponseWriter, r *http.Request) {
			prop, err := st.GetProposal(r.Context(), chi.URLParam(r, "proposal_id"))
			if err != nil {
				writeFirewallError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "proposal": prop})
		})

		// Execution is open to anyone holding the three identifiers; the
		// engine's cross-binding checks decide whether they belong
		// together.
		api.Post("/proposals/{proposal_id}/execute", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				VaultID      string `json:"vault_id"`
				PermissionID string `json:"permission_id"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			result, err := st.ExecuteTransfer(r.Context(), req.VaultID, req.PermissionID, chi.URLParam(r, "proposal_id"), clk)
			if err != nil {
				writeFirewallError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id": httpx.NewRequestID(),
				"vault":      vaultView(result.Vault),
				"permission": result.Permission,
				"proposal":   result.Proposal,
			})
		})
	})

	log.Printf("firewall service listening on :%s", port)
	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.Fatal(err)
	}
}

// vaultView renders a vault with its balance in both base units and the
// decimal form front ends display.
func vaultView(v firewall.Vault) map[string]any {
	return map[string]any{
		"vault_id":        v.ID,
		"balance":         v.Balance,
		"balance_decimal": amount.Format(v.Balance),
	}
}

// writeFirewallError maps engine and store failures to HTTP envelopes.
// Abort codes 0-7 always travel in details.abort_code; lower-level
// failures use their own string codes and never borrow from that table.
func writeFirewallError(w http.ResponseWriter, err error) {
	if code, ok := firewall.AsAbort(err); ok {
		status := 409
		if code == firewall.AbortNotPermissionAgent {
			status = 403
		}
		httpx.WriteError(w, status, code.String(), code.Message(), map[string]any{"abort_code": int(code)})
		return
	}
	switch {
	case errors.Is(err, firewall.ErrInsufficientBalance):
		httpx.WriteError(w, 409, "INSUFFICIENT_BALANCE", err.Error(), nil)
	case errors.Is(err, firewall.ErrInvalidAmount):
		httpx.WriteError(w, 400, "INVALID_AMOUNT", err.Error(), nil)
	case errors.Is(err, firewall.ErrInvalidExpiry):
		httpx.WriteError(w, 400, "INVALID_EXPIRY", err.Error(), nil)
	case errors.Is(err, firewall.ErrUnauthorized), errors.Is(err, authn.ErrUnauthorized):
		httpx.WriteError(w, 401, "UNAUTHORIZED", "valid bearer token required", nil)
	case errors.Is(err, store.ErrNotFound):
		httpx.WriteError(w, 404, "NOT_FOUND", err.Error(), nil)
	default:
		httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
	}
}

func randomToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
