package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// CodeFormat selects how two-factor codes are rendered
type CodeFormat string

const (
	// CodeFormatSteam renders 5 characters from the remote service's own alphabet
	CodeFormatSteam CodeFormat = "steam"
	// CodeFormatRFC6238 renders standard 6 digit codes
	CodeFormatRFC6238 CodeFormat = "rfc6238"
)

const (
	codePeriod    = 30
	steamAlphabet = "23456789BCDFGHJKMNPQRTVWXY"
	steamCodeLen  = 5
	maxTagLength  = 32
)

// TOTPManager produces time-based two-factor codes and confirmation keys
// from the shared and identity secrets of the account.
type TOTPManager struct {
	format CodeFormat
}

// NewTOTPManager creates a new TOTP manager for the given code format
func NewTOTPManager(format CodeFormat) (*TOTPManager, error) {
	switch format {
	case CodeFormatSteam, CodeFormatRFC6238:
	default:
		return nil, fmt.Errorf("unsupported code format %q", format)
	}

	return &TOTPManager{format: format}, nil
}

// GenerateAuthCode returns the code valid at the given authoritative time
func (tm *TOTPManager) GenerateAuthCode(sharedSecret string, at time.Time) (string, error) {
	if tm.format == CodeFormatRFC6238 {
		code, err := totp.GenerateCodeCustom(sharedSecret, at, totp.ValidateOpts{
			Period:    codePeriod,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err != nil {
			return "", fmt.Errorf("failed to generate TOTP code: %w", err)
		}
		return code, nil
	}

	secret, err := decodeSecret(sharedSecret)
	if err != nil {
		return "", fmt.Errorf("invalid shared secret: %w", err)
	}

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(at.Unix()/codePeriod))

	mac := hmac.New(sha1.New, secret)
	mac.Write(buf)
	sum := mac.Sum(nil)

	// Dynamic truncation as in RFC 4226, rendered in base 26 instead of decimal
	start := sum[len(sum)-1] & 0x0f
	full := binary.BigEndian.Uint32(sum[start:start+4]) & 0x7fffffff

	code := make([]byte, steamCodeLen)
	for i := range code {
		code[i] = steamAlphabet[full%uint32(len(steamAlphabet))]
		full /= uint32(len(steamAlphabet))
	}

	return string(code), nil
}

// ConfirmationKey returns the base64 key that authorizes a mobile confirmation
// with the given tag (e.g. "conf", "details", "allow") at the given time.
func (tm *TOTPManager) ConfirmationKey(identitySecret string, at time.Time, tag string) (string, error) {
	secret, err := decodeSecret(identitySecret)
	if err != nil {
		return "", fmt.Errorf("invalid identity secret: %w", err)
	}

	if len(tag) > maxTagLength {
		tag = tag[:maxTagLength]
	}

	buf := make([]byte, 8, 8+len(tag))
	binary.BigEndian.PutUint64(buf, uint64(at.Unix()))
	buf = append(buf, tag...)

	mac := hmac.New(sha1.New, secret)
	mac.Write(buf)

	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// decodeSecret accepts secrets as 40 hex characters or standard base64
func decodeSecret(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("secret is empty")
	}

	if len(secret) == 40 {
		if b, err := hex.DecodeString(secret); err == nil {
			return b, nil
		}
	}

	b, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("secret is neither hex nor base64: %w", err)
	}
	return b, nil
}
