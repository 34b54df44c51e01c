package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"actionfirewall/pkg/fwclient"
)

const usageText = "usage: fwctl <admin|agent|vault|permission|proposal> <verb> [flags] (run a group without a verb for its flags; FW_BASE_URL or --base-url selects the service)"

func main() {
	if len(os.Args) < 3 {
		fail(usageText)
		os.Exit(2)
	}
	switch os.Args[1] {
	case "admin":
		runAdmin(os.Args[2], os.Args[3:])
	case "agent":
		runAgent(os.Args[2], os.Args[3:])
	case "vault":
		runVault(os.Args[2], os.Args[3:])
	case "permission":
		runPermission(os.Args[2], os.Args[3:])
	case "proposal":
		runProposal(os.Args[2], os.Args[3:])
	default:
		fail(usageText)
		os.Exit(2)
	}
}

func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	baseURL := fs.String("base-url", "", "firewall service base URL (default FW_BASE_URL or http://localhost:8084)")
	return fs, baseURL
}

func client(baseURL string) *fwclient.Client {
	url := strings.TrimSpace(baseURL)
	if url == "" {
		url = os.Getenv("FW_BASE_URL")
	}
	if url == "" {
		url = "http://localhost:8084"
	}
	return fwclient.New(url)
}

func runAdmin(verb string, args []string) {
	if verb != "create" {
		fail("usage: fwctl admin create")
		os.Exit(2)
	}
	fs, baseURL := newFlagSet("admin create")
	parseOrExit(fs, args)
	admin, err := client(*baseURL).CreateAdmin()
	if err != nil {
		fail(err.Error())
		os.Exit(1)
	}
	pass(map[string]any{"admin_id": admin.AdminID, "token": admin.Token})
}

func runAgent(verb string, args []string) {
	if verb != "create" {
		fail("usage: fwctl agent create")
		os.Exit(2)
	}
	fs, baseURL := newFlagSet("agent create")
	parseOrExit(fs, args)
	agent, err := client(*baseURL).CreateAgent()
	if err != nil {
		fail(err.Error())
		os.Exit(1)
	}
	pass(map[string]any{"agent_address": agent.Address, "token": agent.Token})
}

func runVault(verb string, args []string) {
	switch verb {
	case "create":
		fs, baseURL := newFlagSet("vault create")
		adminToken := fs.String("admin-token", "", "administrator bearer token")
		parseOrExit(fs, args)
		requireFlags(map[string]string{"admin-token": *adminToken})
		v, err := client(*baseURL).CreateVault(*adminToken)
		if err != nil {
			fail(err.Error())
			os.Exit(1)
		}
		pass(map[string]any{"vault_id": v.VaultID, "balance_decimal": v.BalanceDecimal})
	case "deposit":
		fs, baseURL := newFlagSet("vault deposit")
		vaultID := fs.String("vault", "", "vault id")
		amt := fs.String("amount", "", "deposit amount, decimal whole units")
		parseOrExit(fs, args)
		requireFlags(map[string]string{"vault": *vaultID, "amount": *amt})
		v, err := client(*baseURL).Deposit(*vaultID, *amt)
		if err != nil {
			fail(err.Error())
			os.Exit(1)
		}
		pass(map[string]any{"vault_id": v.VaultID, "balance_decimal": v.BalanceDecimal})
	case "show":
		fs, baseURL := newFlagSet("vault show")
		vaultID := fs.String("vault", "", "vault id")
		parseOrExit(fs, args)
		requireFlags(map[string]string{"vault": *vaultID})
		v, perms, err := client(*baseURL).GetVault(*vaultID)
		if err != nil {
			fail(err.Error())
			os.Exit(1)
		}
		pass(map[string]any{"vault": v, "permissions": perms})
	case "events":
		fs, baseURL := newFlagSet("vault events")
		vaultID := fs.String("vault", "", "vault id")
		parseOrExit(fs, args)
		requireFlags(map[string]string{"vault": *vaultID})
		events, err := client(*baseURL).VaultEvents(*vaultID)
		if err != nil {
			fail(err.Error())
			os.Exit(1)
		}
		pass(map[string]any{"vault_id": *vaultID, "events": events})
	default:
		fail("usage: fwctl vault <create|deposit|show|events>")
		os.Exit(2)
	}
}

func runPermission(verb string, args []string) {
	switch verb {
	case "issue":
		fs, baseURL := newFlagSet("permission issue")
		adminToken := fs.String("admin-token", "", "administrator bearer token")
		vaultID := fs.String("vault", "", "vault id")
		agent := fs.String("agent", "", "agent address")
		maxPer := fs.String("max", "", "per-transfer cap, decimal whole units")
		quota := fs.String("quota", "", "total quota, decimal whole units (empty = unlimited)")
		expMinutes := fs.Int64("expires-minutes", 0, "minutes until expiry (0 = never)")
		parseOrExit(fs, args)
		requireFlags(map[string]string{"admin-token": *adminToken, "vault": *vaultID, "agent": *agent, "max": *maxPer})
		p, err := client(*baseURL).IssuePermission(*adminToken, fwclient.IssuePermissionRequest{
			VaultID:          *vaultID,
			AgentAddress:     *agent,
			MaxPerTransfer:   *maxPer,
			TotalQuota:       *quota,
			ExpiresInMinutes: *expMinutes,
		})
		if err != nil {
			fail(err.Error())
			os.Exit(1)
		}
		pass(map[string]any{"permission": p})
	case "revoke":
		fs, baseURL := newFlagSet("permission revoke")
		adminToken := fs.String("admin-token", "", "administrator bearer token")
		permissionID := fs.String("permission", "", "permission id")
		parseOrExit(fs, args)
		requireFlags(map[string]string{"admin-token": *adminToken, "permission": *permissionID})
		p, err := client(*baseURL).RevokePermission(*adminToken, *permissionID)
		if err != nil {
			fail(err.Error())
			os.Exit(1)
		}
		pass(map[string]any{"permission": p})
	case "show":
		fs, baseURL := newFlagSet("permission show")
		permissionID := fs.String("permission", "", "permission id")
		parseOrExit(fs, args)
		requireFlags(map[string]string{"permission": *permissionID})
		p, proposals, err := client(*baseURL).GetPermission(*permissionID)
		if err != nil {
			fail(err.Error())
			os.Exit(1)
		}
		pass(map[string]any{"permission": p, "proposals": proposals})
	default:
		fail("usage: fwctl permission <issue|revoke|show>")
		os.Exit(2)
	}
}

func runProposal(verb string, args []string) {
	switch verb {
	case "create":
		fs, baseURL := newFlagSet("proposal create")
		agentToken := fs.String("agent-token", "", "agent bearer token")
		permissionID := fs.String("permission", "", "permission id")
		recipient := fs.String("recipient", "", "recipient address")
		amt := fs.String("amount", "", "transfer amount, decimal whole units")
		idemKey := fs.String("idempotency-key", "", "optional idempotency key")
		parseOrExit(fs, args)
		requireFlags(map[string]string{"agent-token": *agentToken, "permission": *permissionID, "recipient": *recipient, "amount": *amt})
		prop, err := client(*baseURL).ProposeTransfer(*agentToken, fwclient.ProposeTransferRequest{
			PermissionID:     *permissionID,
			RecipientAddress: *recipient,
			Amount:           *amt,
			IdempotencyKey:   *idemKey,
		})
		if err != nil {
			fail(err.Error())
			os.Exit(1)
		}
		pass(map[string]any{"proposal": prop})
	case "execute":
		fs, baseURL := newFlagSet("proposal execute")
		proposalID := fs.String("proposal", "", "proposal id")
		vaultID := fs.String("vault", "", "vault id")
		permissionID := fs.String("permission", "", "permission id")
		parseOrExit(fs, args)
		requireFlags(map[string]string{"proposal": *proposalID, "vault": *vaultID, "permission": *permissionID})
		result, err := client(*baseURL).ExecuteTransfer(*proposalID, *vaultID, *permissionID)
		if err != nil {
			fail(err.Error())
			os.Exit(1)
		}
		pass(map[string]any{"vault": result.Vault, "permission": result.Permission, "proposal": result.Proposal})
	case "show":
		fs, baseURL := newFlagSet("proposal show")
		proposalID := fs.String("proposal", "", "proposal id")
		parseOrExit(fs, args)
		requireFlags(map[string]string{"proposal": *proposalID})
		prop, err := client(*baseURL).GetProposal(*proposalID)
		if err != nil {
			fail(err.Error())
			os.Exit(1)
		}
		pass(map[string]any{"proposal": prop})
	default:
		fail("usage: fwctl proposal <create|execute|show>")
		os.Exit(2)
	}
}

func parseOrExit(fs *flag.FlagSet, args []string) {
	if err := fs.Parse(args); err != nil {
		fail(err.Error())
		os.Exit(2)
	}
}

func requireFlags(required map[string]string) {
	for name, value := range required {
		if strings.TrimSpace(value) == "" {
			fail("--" + name + " is required")
			os.Exit(2)
		}
	}
}

func pass(result map[string]any) {
	out := map[string]any{
		"status":        "OK",
		"timestamp_utc": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range result {
		out[k] = v
	}
	b, _ := json.Marshal(out)
	fmt.Println(string(b))
}

func fail(reason string) {
	b, _ := json.Marshal(map[string]any{
		"status":        "FAIL",
		"reason":        reason,
		"timestamp_utc": time.Now().UTC().Format(time.RFC3339),
	})
	fmt.Println(string(b))
}
