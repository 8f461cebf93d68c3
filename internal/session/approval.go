package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ApprovalRequest is a tool invocation parked on a thread awaiting a
// human's exec-approval decision (§4.3's ApprovalAlways gate, §13 Open
// Question 1). The main loop (C11) creates one when a tool call needs
// sign-off; the engine resolves it by id when the exec-approval
// submission arrives.
type ApprovalRequest struct {
	ID       string
	ToolName string
	Params   json.RawMessage
	Token    string
	IssuedAt time.Time
}

// approvalClaims is the JWT payload minted for a pending ApprovalRequest.
// The token is self-issued and self-verified: its job is to make a
// replayed or tampered exec-approval id fail closed (expired or bad
// signature), not to authenticate an external approver's identity.
type approvalClaims struct {
	jwt.RegisteredClaims
	ToolName string `json:"tool"`
}

// ApprovalSigner mints and verifies the bearer tokens backing pending
// ApprovalRequests (golang-jwt/jwt/v5, per SPEC_FULL.md §11).
type ApprovalSigner struct {
	key []byte
	ttl time.Duration
}

// NewApprovalSigner returns a signer keyed by key, with minted tokens
// expiring after ttl. A zero or negative ttl defaults to 10 minutes.
func NewApprovalSigner(key []byte, ttl time.Duration) *ApprovalSigner {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &ApprovalSigner{key: key, ttl: ttl}
}

// Issue mints a token binding id to toolName with the signer's TTL.
func (s *ApprovalSigner) Issue(id, toolName string) (string, error) {
	now := time.Now().UTC()
	claims := approvalClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		ToolName: toolName,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// Verify reports whether token is a currently-valid token for id.
func (s *ApprovalSigner) Verify(id, token string) error {
	claims := &approvalClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	})
	if err != nil {
		return fmt.Errorf("session: invalid exec-approval token: %w", err)
	}
	if !parsed.Valid {
		return fmt.Errorf("session: exec-approval token is not valid")
	}
	if claims.Subject != id {
		return fmt.Errorf("session: exec-approval token subject mismatch")
	}
	return nil
}
