package fwclient

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLifecycleAgainstFakeService(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		switch r.URL.Path {
		case "/firewall/admins":
			_, _ = w.Write([]byte(`{"admin":{"admin_id":"adm_1"},"credentials":{"token":"admc_live_abc"}}`))
		case "/firewall/vaults":
			if r.Header.Get("Authorization") != "Bearer admc_live_abc" {
				w.WriteHeader(401)
				_, _ = w.Write([]byte(`{"error":{"code":"UNAUTHORIZED","message":"valid bearer token required"}}`))
				return
			}
			_, _ = w.Write([]byte(`{"vault":{"vault_id":"vlt_1","balance":0,"balance_decimal":"0"}}`))
		case "/firewall/vaults/vlt_1/deposit":
			_, _ = w.Write([]byte(`{"vault":{"vault_id":"vlt_1","balance":10000000000,"balance_decimal":"10"}}`))
		case "/firewall/proposals/prop_1/execute":
			w.WriteHeader(409)
			_, _ = w.Write([]byte(`{"error":{"code":"QUOTA_EXCEEDED","message":"cumulative usage would exceed the permission's total quota","details":{"abort_code":7}}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	c := New(ts.URL)
	admin, err := c.CreateAdmin()
	if err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	if admin.AdminID != "adm_1" || admin.Token != "admc_live_abc" {
		t.Fatalf("unexpected admin: %+v", admin)
	}

	v, err := c.CreateVault(admin.Token)
	if err != nil {
		t.Fatalf("CreateVault: %v", err)
	}
	if v.VaultID != "vlt_1" {
		t.Fatalf("unexpected vault: %+v", v)
	}

	if _, err := c.CreateVault("wrong-token"); err == nil {
		t.Fatal("expected unauthorized error")
	}

	v, err = c.Deposit("vlt_1", "10")
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if v.Balance != 10_000_000_000 || v.BalanceDecimal != "10" {
		t.Fatalf("unexpected vault after deposit: %+v", v)
	}
}

func TestAbortCodeSurfaced(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		w.WriteHeader(409)
		_, _ = w.Write([]byte(`{"error":{"code":"PROPOSAL_ALREADY_EXECUTED","message":"proposal already executed","details":{"abort_code":4}}}`))
	}))
	defer ts.Close()

	c := New(ts.URL)
	_, err := c.ExecuteTransfer("prop_1", "vlt_1", "perm_1")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Status != 409 || apiErr.Code != "PROPOSAL_ALREADY_EXECUTED" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
	if apiErr.AbortCode == nil || *apiErr.AbortCode != 4 {
		t.Fatalf("expected abort code 4, got %v", apiErr.AbortCode)
	}
}

func TestNonEnvelopeErrorStillTyped(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", 502)
	}))
	defer ts.Close()

	c := New(ts.URL)
	_, err := c.GetProposal("prop_1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != 502 || apiErr.Code != "UNKNOWN" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}
