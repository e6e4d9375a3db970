package twofactor

import (
	"errors"
	"fmt"

	"github.com/dalemusser/stratamind/internal/app/store/challenges"
)

var (
	// ErrInvalidCredentials covers both an unknown email and a wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrUnknownEmail and ErrWrongPassword both match ErrInvalidCredentials
	// with errors.Is; they only differ for audit records.
	ErrUnknownEmail  = fmt.Errorf("%w: no such account", ErrInvalidCredentials)
	ErrWrongPassword = fmt.Errorf("%w: password mismatch", ErrInvalidCredentials)

	// ErrEmailUnverified is returned for a correct password on an account
	// whose email address has not been confirmed.
	ErrEmailUnverified = errors.New("email address not verified")

	// ErrInvalidCode is returned when the submitted code matches no time step
	// in the tolerance window. The challenge stays usable.
	ErrInvalidCode = errors.New("invalid second-factor code")

	// ErrTooManyAttempts is returned once a challenge has used up its wrong codes.
	ErrTooManyAttempts = errors.New("too many second-factor attempts")

	// ErrEnrollmentSuperseded is returned when an enrollment challenge is
	// verified after the account was already enrolled with another secret.
	ErrEnrollmentSuperseded = errors.New("second factor already enrolled with a different secret")

	// ErrRestartLogin is returned when a code was accepted but the session
	// could not be issued and the challenge could not be released. The
	// token is spent; the client must log in again.
	ErrRestartLogin = errors.New("challenge consumed without a session; restart login")

	// Challenge outcomes, re-exported so callers need only this package.
	ErrChallengeNotFound        = challenges.ErrNotFound
	ErrChallengeExpired         = challenges.ErrExpired
	ErrChallengeAlreadyVerified = challenges.ErrAlreadyVerified
)
