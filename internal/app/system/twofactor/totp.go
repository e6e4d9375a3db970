package twofactor

import (
	"bytes"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	DefaultIssuer = "Stratamind"
	DefaultPeriod = 30
	DefaultSkew   = 2
	DefaultQRSize = 256

	// SecretSize is the raw secret length in bytes (160 bits).
	SecretSize = 20
)

// TOTPConfig holds the authenticator parameters shared by issuer and verifier.
type TOTPConfig struct {
	Issuer string // label shown in authenticator apps
	Period uint   // seconds per time step
	Skew   uint   // time steps accepted on each side of the current one; 0 means DefaultSkew
	QRSize int    // QR image width and height in pixels
}

func (c TOTPConfig) withDefaults() TOTPConfig {
	if c.Issuer == "" {
		c.Issuer = DefaultIssuer
	}
	if c.Period == 0 {
		c.Period = DefaultPeriod
	}
	if c.Skew == 0 {
		c.Skew = DefaultSkew
	}
	if c.QRSize <= 0 {
		c.QRSize = DefaultQRSize
	}
	return c
}

func (c TOTPConfig) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    c.Period,
		Skew:      c.Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// newKey builds a provisioning key for accountName. An empty secret
// generates a fresh one; otherwise the base32 secret is reused as-is.
func (c TOTPConfig) newKey(accountName, secret string) (*otp.Key, error) {
	opts := totp.GenerateOpts{
		Issuer:      c.Issuer,
		AccountName: accountName,
		Period:      c.Period,
		SecretSize:  SecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	}
	if secret != "" {
		raw, err := b32.DecodeString(secret)
		if err != nil {
			return nil, fmt.Errorf("decode stored secret: %w", err)
		}
		opts.Secret = raw
	}
	return totp.Generate(opts)
}

// qrDataURI renders the key's otpauth URI as a PNG data URI.
func (c TOTPConfig) qrDataURI(key *otp.Key) (string, error) {
	img, err := key.Image(c.QRSize, c.QRSize)
	if err != nil {
		return "", fmt.Errorf("render qr: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// validate checks code against secret at t within the skew window.
// A code of the wrong length is a mismatch, not an error.
func (c TOTPConfig) validate(code, secret string, t time.Time) (bool, error) {
	ok, err := totp.ValidateCustom(code, secret, t.UTC(), c.validateOpts())
	if errors.Is(err, otp.ErrValidateInputInvalidLength) {
		return false, nil
	}
	return ok, err
}
