// Package fwclient is a typed HTTP client for the firewall service.
package fwclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// APIError is a non-2xx response envelope. AbortCode is set when the
// failure came from the firewall's closed numeric enumeration.
type APIError struct {
	Status    int
	Code      string
	Message   string
	AbortCode *int
}

func (e *APIError) Error() string {
	if e.AbortCode != nil {
		return fmt.Sprintf("firewall %s (abort %d): %s", e.Code, *e.AbortCode, e.Message)
	}
	return fmt.Sprintf("firewall %s (http %d): %s", e.Code, e.Status, e.Message)
}

type Admin struct {
	AdminID string `json:"admin_id"`
	Token   string `json:"-"`
}

type Agent struct {
	Address string `json:"address"`
	Token   string `json:"-"`
}

type Vault struct {
	VaultID        string `json:"vault_id"`
	Balance        uint64 `json:"balance"`
	BalanceDecimal string `json:"balance_decimal"`
}

type Permission struct {
	PermissionID   string `json:"permission_id"`
	VaultID        string `json:"vault_id"`
	AgentAddress   string `json:"agent_address"`
	MaxPerTransfer uint64 `json:"max_per_transfer"`
	TotalQuota     uint64 `json:"total_quota"`
	Used           uint64 `json:"used"`
	ExpiresAt      int64  `json:"expires_at_millis"`
	Revoked        bool   `json:"revoked"`
}

type Proposal struct {
	ProposalID   string `json:"proposal_id"`
	PermissionID string `json:"permission_id"`
	Recipient    string `json:"recipient_address"`
	Amount       uint64 `json:"amount"`
	CreatedAt    int64  `json:"created_at_millis"`
	Executed     bool   `json:"executed"`
}

type Event struct {
	Type    string         `json:"type"`
	ActorID *string        `json:"actor_id"`
	At      string         `json:"at"`
	Payload map[string]any `json:"payload"`
}

// ExecutionResult is the post-commit state of the three objects a
// successful execution touched.
type ExecutionResult struct {
	Vault      Vault      `json:"vault"`
	Permission Permission `json:"permission"`
	Proposal   Proposal   `json:"proposal"`
}

func (c *Client) CreateAdmin() (*Admin, error) {
	var out struct {
		Admin       Admin `json:"admin"`
		Credentials struct {
			Token string `json:"token"`
		} `json:"credentials"`
	}
	if err := c.do(http.MethodPost, "/firewall/admins", "", map[string]any{}, &out); err != nil {
		return nil, err
	}
	out.Admin.Token = out.Credentials.Token
	return &out.Admin, nil
}

func (c *Client) CreateAgent() (*Agent, error) {
	var out struct {
		Agent       Agent `json:"agent"`
		Credentials struct {
			Token string `json:"token"`
		} `json:"credentials"`
	}
	if err := c.do(http.MethodPost, "/firewall/agents", "", map[string]any{}, &out); err != nil {
		return nil, err
	}
	out.Agent.Token = out.Credentials.Token
	return &out.Agent, nil
}

func (c *Client) CreateVault(adminToken string) (*Vault, error) {
	var out struct {
		Vault Vault `json:"vault"`
	}
	if err := c.do(http.MethodPost, "/firewall/vaults", adminToken, map[string]any{}, &out); err != nil {
		return nil, err
	}
	return &out.Vault, nil
}

func (c *Client) GetVault(vaultID string) (*Vault, []Permission, error) {
	var out struct {
		Vault       Vault        `json:"vault"`
		Permissions []Permission `json:"permissions"`
	}
	if err := c.do(http.MethodGet, "/firewall/vaults/"+vaultID, "", nil, &out); err != nil {
		return nil, nil, err
	}
	return &out.Vault, out.Permissions, nil
}

func (c *Client) Deposit(vaultID, amountDecimal string) (*Vault, error) {
	var out struct {
		Vault Vault `json:"vault"`
	}
	if err := c.do(http.MethodPost, "/firewall/vaults/"+vaultID+"/deposit", "", map[string]any{"amount": amountDecimal}, &out); err != nil {
		return nil, err
	}
	return &out.Vault, nil
}

func (c *Client) VaultEvents(vaultID string) ([]Event, error) {
	var out struct {
		Events []Event `json:"events"`
	}
	if err := c.do(http.MethodGet, "/firewall/vaults/"+vaultID+"/events", "", nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

type IssuePermissionRequest struct {
	VaultID          string `json:"vault_id"`
	AgentAddress     string `json:"agent_address"`
	MaxPerTransfer   string `json:"max_per_transfer"`
	TotalQuota       string `json:"total_quota,omitempty"`
	ExpiresInMinutes int64  `json:"expires_in_minutes,omitempty"`
	ExpiresAtMillis  int64  `json:"expires_at_millis,omitempty"`
}

func (c *Client) IssuePermission(adminToken string, req IssuePermissionRequest) (*Permission, error) {
	var out struct {
		Permission Permission `json:"permission"`
	}
	if err := c.do(http.MethodPost, "/firewall/permissions", adminToken, req, &out); err != nil {
		return nil, err
	}
	return &out.Permission, nil
}

func (c *Client) GetPermission(permissionID string) (*Permission, []Proposal, error) {
	var out struct {
		Permission Permission `json:"permission"`
		Proposals  []Proposal `json:"proposals"`
	}
	if err := c.do(http.MethodGet, "/firewall/permissions/"+permissionID, "", nil, &out); err != nil {
		return nil, nil, err
	}
	return &out.Permission, out.Proposals, nil
}

func (c *Client) RevokePermission(adminToken, permissionID string) (*Permission, error) {
	var out struct {
		Permission Permission `json:"permission"`
	}
	if err := c.do(http.MethodPost, "/firewall/permissions/"+permissionID+"/revoke", adminToken, map[string]any{}, &out); err != nil {
		return nil, err
	}
	return &out.Permission, nil
}

type ProposeTransferRequest struct {
	PermissionID     string `json:"permission_id"`
	RecipientAddress string `json:"recipient_address"`
	Amount           string `json:"amount"`
	IdempotencyKey   string `json:"idempotency_key,omitempty"`
}

func (c *Client) ProposeTransfer(agentToken string, req ProposeTransferRequest) (*Proposal, error) {
	var out struct {
		Proposal Proposal `json:"proposal"`
	}
	if err := c.do(http.MethodPost, "/firewall/proposals", agentToken, req, &out); err != nil {
		return nil, err
	}
	return &out.Proposal, nil
}

func (c *Client) GetProposal(proposalID string) (*Proposal, error) {
	var out struct {
		Proposal Proposal `json:"proposal"`
	}
	if err := c.do(http.MethodGet, "/firewall/proposals/"+proposalID, "", nil, &out); err != nil {
		return nil, err
	}
	return &out.Proposal, nil
}

func (c *Client) ExecuteTransfer(proposalID, vaultID, permissionID string) (*ExecutionResult, error) {
	var out ExecutionResult
	err := c.do(http.MethodPost, "/firewall/proposals/"+proposalID+"/execute", "", map[string]any{
		"vault_id":      vaultID,
		"permission_id": permissionID,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(method, path, token string, body, dst any) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if dst == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Code: "UNKNOWN"}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil {
		if envelope.Error.Code != "" {
			apiErr.Code = envelope.Error.Code
		}
		apiErr.Message = envelope.Error.Message
		if v, ok := envelope.Error.Details["abort_code"].(float64); ok {
			code := int(v)
			apiErr.AbortCode = &code
		}
	}
	return apiErr
}
