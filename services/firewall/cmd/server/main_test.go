package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"testing"
	"time"
)

// Full propose/execute lifecycle against a running service. The suite is
// ordered: later steps depend on the objects earlier steps create.
func TestFirewallLifecycleLive(t *testing.T) {
	if os.Getenv("FW_INTEGRATION") != "1" {
		t.Skip("set FW_INTEGRATION=1 to run live integration")
	}
	baseURL := getenvOr("FW_BASE_URL", "http://localhost:8084")

	adminResp := postJSONLive(t, baseURL+"/firewall/admins", "", map[string]any{})
	adminToken := nestedString(t, adminResp, "credentials", "token")
	adminAuth := "Bearer " + adminToken

	agentResp := postJSONLive(t, baseURL+"/firewall/agents", "", map[string]any{})
	agentAddress := nestedString(t, agentResp, "agent", "address")
	agentAuth := "Bearer " + nestedString(t, agentResp, "credentials", "token")

	strangerResp := postJSONLive(t, baseURL+"/firewall/agents", "", map[string]any{})
	strangerAuth := "Bearer " + nestedString(t, strangerResp, "credentials", "token")

	vaultResp := postJSONLive(t, baseURL+"/firewall/vaults", adminAuth, map[string]any{})
	vaultID := nestedString(t, vaultResp, "vault", "vault_id")

	depositResp := postJSONLive(t, baseURL+"/firewall/vaults/"+vaultID+"/deposit", "", map[string]any{"amount": "10"})
	if got := nestedString(t, depositResp, "vault", "balance_decimal"); got != "10" {
		t.Fatalf("balance after deposit: %s", got)
	}

	permResp := postJSONLive(t, baseURL+"/firewall/permissions", adminAuth, map[string]any{
		"vault_id":         vaultID,
		"agent_address":    agentAddress,
		"max_per_transfer": "5",
		"total_quota":      "10",
	})
	permissionID := nestedString(t, permResp, "permission", "permission_id")

	propResp := postJSONLive(t, baseURL+"/firewall/proposals", agentAuth, map[string]any{
		"permission_id":     permissionID,
		"recipient_address": agentAddress,
		"amount":            "3",
		"idempotency_key":   "live-prop-" + time.Now().UTC().Format("20060102150405"),
	})
	proposalID := nestedString(t, propResp, "proposal", "proposal_id")

	execResp := postJSONLive(t, baseURL+"/firewall/proposals/"+proposalID+"/execute", "", map[string]any{
		"vault_id":      vaultID,
		"permission_id": permissionID,
	})
	if got := nestedString(t, execResp, "vault", "balance_decimal"); got != "7" {
		t.Fatalf("balance after execute: %s", got)
	}

	// Replaying an executed proposal must abort with code 4.
	status, code := postJSONExpectAbort(t, baseURL+"/firewall/proposals/"+proposalID+"/execute", "", map[string]any{
		"vault_id":      vaultID,
		"permission_id": permissionID,
	})
	if status != 409 || code != 4 {
		t.Fatalf("double execute: status=%d abort_code=%d", status, code)
	}

	// Consume the rest of the quota, then breach it.
	second := proposeLive(t, baseURL, agentAuth, permissionID, agentAddress, "4")
	_ = postJSONLive(t, baseURL+"/firewall/proposals/"+second+"/execute", "", map[string]any{
		"vault_id":      vaultID,
		"permission_id": permissionID,
	})
	third := proposeLive(t, baseURL, agentAuth, permissionID, agentAddress, "4")
	status, code = postJSONExpectAbort(t, baseURL+"/firewall/proposals/"+third+"/execute", "", map[string]any{
		"vault_id":      vaultID,
		"permission_id": permissionID,
	})
	if status != 409 || code != 7 {
		t.Fatalf("quota breach: status=%d abort_code=%d", status, code)
	}

	// A different agent cannot propose under this permission.
	status, code = postJSONExpectAbort(t, baseURL+"/firewall/proposals", strangerAuth, map[string]any{
		"permission_id":     permissionID,
		"recipient_address": agentAddress,
		"amount":            "1",
	})
	if status != 403 || code != 0 {
		t.Fatalf("wrong agent: status=%d abort_code=%d", status, code)
	}

	// Revocation is sticky.
	_ = postJSONLive(t, baseURL+"/firewall/permissions/"+permissionID+"/revoke", adminAuth, map[string]any{})
	status, code = postJSONExpectAbort(t, baseURL+"/firewall/proposals", agentAuth, map[string]any{
		"permission_id":     permissionID,
		"recipient_address": agentAddress,
		"amount":            "1",
	})
	if status != 409 || code != 1 {
		t.Fatalf("revoked propose: status=%d abort_code=%d", status, code)
	}
}

func TestExpiredPermissionLive(t *testing.T) {
	if os.Getenv("FW_INTEGRATION") != "1" {
		t.Skip("set FW_INTEGRATION=1 to run live integration")
	}
	baseURL := getenvOr("FW_BASE_URL", "http://localhost:8084")

	adminResp := postJSONLive(t, baseURL+"/firewall/admins", "", map[string]any{})
	adminAuth := "Bearer " + nestedString(t, adminResp, "credentials", "token")
	agentResp := postJSONLive(t, baseURL+"/firewall/agents", "", map[string]any{})
	agentAddress := nestedString(t, agentResp, "agent", "address")
	agentAuth := "Bearer " + nestedString(t, agentResp, "credentials", "token")
	vaultResp := postJSONLive(t, baseURL+"/firewall/vaults", adminAuth, map[string]any{})
	vaultID := nestedString(t, vaultResp, "vault", "vault_id")

	permResp := postJSONLive(t, baseURL+"/firewall/permissions", adminAuth, map[string]any{
		"vault_id":          vaultID,
		"agent_address":     agentAddress,
		"max_per_transfer":  "1",
		"expires_at_millis": time.Now().UnixMilli() + 1500,
	})
	permissionID := nestedString(t, permResp, "permission", "permission_id")

	time.Sleep(2 * time.Second)

	status, code := postJSONExpectAbort(t, baseURL+"/firewall/proposals", agentAuth, map[string]any{
		"permission_id":     permissionID,
		"recipient_address": agentAddress,
		"amount":            "0.5",
	})
	if status != 409 || code != 2 {
		t.Fatalf("expired propose: status=%d abort_code=%d", status, code)
	}
}

func proposeLive(t *testing.T, baseURL, agentAuth, permissionID, recipient, amt string) string {
	t.Helper()
	resp := postJSONLive(t, baseURL+"/firewall/proposals", agentAuth, map[string]any{
		"permission_id":     permissionID,
		"recipient_address": recipient,
		"amount":            amt,
	})
	return nestedString(t, resp, "proposal", "proposal_id")
}

func postJSONLive(t *testing.T, url, auth string, body map[string]any) map[string]any {
	t.Helper()
	status, out := doPostJSON(t, url, auth, body)
	if status >= 300 {
		t.Fatalf("POST %s: status %d: %v", url, status, out)
	}
	return out
}

func postJSONExpectAbort(t *testing.T, url, auth string, body map[string]any) (int, int) {
	t.Helper()
	status, out := doPostJSON(t, url, auth, body)
	errObj, ok := out["error"].(map[string]any)
	if !ok {
		t.Fatalf("POST %s: expected error envelope, got %v", url, out)
	}
	details, ok := errObj["details"].(map[string]any)
	if !ok {
		t.Fatalf("POST %s: expected abort details, got %v", url, errObj)
	}
	code, ok := details["abort_code"].(float64)
	if !ok {
		t.Fatalf("POST %s: missing abort_code in %v", url, details)
	}
	return status, int(code)
}

func doPostJSON(t *testing.T, url, auth string, body map[string]any) (int, map[string]any) {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("content-type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp.StatusCode, out
}

func nestedString(t *testing.T, m map[string]any, keys ...string) string {
	t.Helper()
	cur := any(m)
	for i, k := range keys {
		obj, ok := cur.(map[string]any)
		if !ok {
			t.Fatalf("expected object at %v, got %T", keys[:i], cur)
		}
		cur = obj[k]
	}
	s, ok := cur.(string)
	if !ok || s == "" {
		t.Fatalf("expected string at %v, got %v", keys, cur)
	}
	return s
}

func getenvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
