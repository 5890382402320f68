// Package cot verifies a claimed task's provenance chain before the run
// loop executes it. The Verifier interface is the seam; JWTVerifier is the
// concrete implementation wired into cmd/worker.
package cot

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/chainworker/chainworker/internal/queueclient"
)

// ErrVerificationFailed means the chain was checked and rejected; the
// controller reports "malformed-payload".
var ErrVerificationFailed = errors.New("cot: chain of trust verification failed")

// ErrTransient means the verifier could not complete the check (JWTVerifier
// returns it when no signing key is configured); the controller reports
// "intermittent-task".
var ErrTransient = errors.New("cot: verification could not complete")

// Verifier checks a claimed task's provenance chain.
type Verifier interface {
	Verify(ctx context.Context, claim *queueclient.Claim) error
}

// JWTVerifier checks a chain-of-trust artifact carried in the task
// document's Extra map under the "chainOfTrust" key: a JWT whose claims
// bind the signing scope to the task's declared scopes and whose "deps"
// claim must list exactly the task's declared Dependencies (a task cannot
// claim provenance from a dependency it doesn't declare).
type JWTVerifier struct {
	signingKey []byte
}

// NewJWTVerifier builds a verifier trusting signingKey.
func NewJWTVerifier(signingKey []byte) *JWTVerifier {
	return &JWTVerifier{signingKey: signingKey}
}

type chainClaims struct {
	Scopes []string `json:"scopes"`
	Deps   []string `json:"deps"`
	jwt.RegisteredClaims
}

// Verify parses and validates the chain-of-trust token, then checks its
// declared scopes and dependency set against the claimed task document.
func (v *JWTVerifier) Verify(ctx context.Context, claim *queueclient.Claim) error {
	if len(v.signingKey) == 0 {
		return fmt.Errorf("%w: no signing key configured", ErrTransient)
	}

	raw, ok := claim.Task.Extra["chainOfTrust"].(string)
	if !ok || raw == "" {
		return fmt.Errorf("%w: task document carries no chainOfTrust artifact", ErrVerificationFailed)
	}

	claims := &chainClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil || !token.Valid {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	if !scopesSatisfied(claim.Task.Scopes, claims.Scopes) {
		return fmt.Errorf("%w: chain scopes do not cover task scopes", ErrVerificationFailed)
	}
	if !sameSet(claim.Task.Dependencies, claims.Deps) {
		return fmt.Errorf("%w: chain dependency set does not match declared dependencies", ErrVerificationFailed)
	}

	return nil
}

func scopesSatisfied(required, granted []string) bool {
	grantedSet := make(map[string]struct{}, len(granted))
	for _, g := range granted {
		grantedSet[g] = struct{}{}
	}
	for _, r := range required {
		if _, ok := grantedSet[r]; !ok {
			return false
		}
	}
	return true
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, x := range a {
		set[x] = struct{}{}
	}
	for _, x := range b {
		if _, ok := set[x]; !ok {
			return false
		}
	}
	return true
}
