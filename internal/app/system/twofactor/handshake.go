// Package twofactor implements the mandatory two-factor login handshake:
// password check, challenge issuance, code verification, and session issuance.
//
// Every account goes through the same flow. A correct password never yields a
// session by itself; only a challenge that flips from unverified to verified
// can produce one.
package twofactor

import (
	"context"
	"errors"

	"github.com/dalemusser/stratamind/internal/app/store/audit"
	"github.com/dalemusser/stratamind/internal/app/system/auditlog"
	"github.com/dalemusser/stratamind/internal/app/system/network"
)

// Handshake composes the components of the login flow.
type Handshake struct {
	Credentials *CredentialVerifier
	Issuer      *Issuer
	Verifier    *Verifier
	audit       *auditlog.Logger
}

// NewHandshake wires the flow together. audit may be nil.
func NewHandshake(creds *CredentialVerifier, issuer *Issuer, verifier *Verifier, audit *auditlog.Logger) *Handshake {
	return &Handshake{Credentials: creds, Issuer: issuer, Verifier: verifier, audit: audit}
}

// Login checks the password and, for verified email addresses, issues a
// second-factor challenge.
func (h *Handshake) Login(ctx context.Context, email, password string, o network.Origin) (*Issued, error) {
	acct, err := h.Credentials.Verify(ctx, email, password)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownEmail):
			h.audit.Auth(ctx, o, audit.EventLoginFailedUnknownEmail, nil, reasonFor(err), map[string]string{"email": email})
		case errors.Is(err, ErrWrongPassword):
			h.audit.Auth(ctx, o, audit.EventLoginFailedWrongPassword, nil, reasonFor(err), map[string]string{"email": email})
		}
		return nil, err
	}
	if !acct.EmailVerified() {
		h.audit.Auth(ctx, o, audit.EventLoginFailedUnverified, &acct.ID, reasonFor(ErrEmailUnverified), nil)
		return nil, ErrEmailUnverified
	}
	h.audit.Auth(ctx, o, audit.EventLoginPasswordOK, &acct.ID, "", nil)

	issued, err := h.Issuer.Issue(ctx, acct)
	if err != nil {
		return nil, err
	}
	h.audit.SecondFactorIssued(ctx, o, acct.ID, issued.ChallengeToken, issued.IsFirstTimeSetup)
	return issued, nil
}

// Verify redeems a challenge. See Verifier.Verify.
func (h *Handshake) Verify(ctx context.Context, token, code string, o network.Origin) (*Verified, error) {
	return h.Verifier.Verify(ctx, token, code, o)
}

// Status reports whether a challenge has been verified. See Verifier.Status.
func (h *Handshake) Status(ctx context.Context, token string) (bool, error) {
	return h.Verifier.Status(ctx, token)
}
