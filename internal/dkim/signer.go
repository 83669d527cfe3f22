// Package dkim signs outgoing campaign mail for the studio's sending domain.
package dkim

import (
	"bytes"
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-msgauth/dkim"
)

// ErrUnsigned is returned by Verify for a message without a DKIM signature
var ErrUnsigned = errors.New("message has no DKIM signature")

// signedHeaders are covered by every signature. Absent ones are signed as
// empty so they cannot be added in transit.
var signedHeaders = []string{
	"From", "To", "Reply-To", "Subject", "Date", "Message-Id",
	"List-Unsubscribe", "List-Unsubscribe-Post", "Mime-Version", "Content-Type",
}

// Signer signs messages for one domain and selector
type Signer struct {
	key      crypto.Signer
	domain   string
	selector string
}

// NewSigner creates a signer. key must be an RSA or Ed25519 private key.
func NewSigner(key crypto.Signer, domain, selector string) (*Signer, error) {
	switch key.(type) {
	case *rsa.PrivateKey, ed25519.PrivateKey:
	default:
		return nil, fmt.Errorf("unsupported DKIM key type %T", key)
	}
	domain = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(domain), "."))
	if domain == "" || selector == "" {
		return nil, fmt.Errorf("DKIM domain and selector are required")
	}
	return &Signer{key: key, domain: domain, selector: selector}, nil
}

// LoadSigner creates a signer from a PEM key file
func LoadSigner(keyFile, domain, selector string) (*Signer, error) {
	key, err := LoadPrivateKey(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load DKIM key: %w", err)
	}
	return NewSigner(key, domain, selector)
}

// Sign returns message with a DKIM-Signature header prepended
func (s *Signer) Sign(message []byte) ([]byte, error) {
	options := &dkim.SignOptions{
		Domain:                 s.domain,
		Selector:               s.selector,
		Signer:                 s.key,
		Hash:                   crypto.SHA256,
		HeaderKeys:             signedHeaders,
		HeaderCanonicalization: dkim.CanonicalizationRelaxed,
		BodyCanonicalization:   dkim.CanonicalizationRelaxed,
	}

	var signed bytes.Buffer
	if err := dkim.Sign(&signed, bytes.NewReader(message), options); err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	return signed.Bytes(), nil
}

// Domain returns the signing domain
func (s *Signer) Domain() string {
	return s.domain
}

// Selector returns the DNS selector
func (s *Signer) Selector() string {
	return s.selector
}

// Verify checks the DKIM signatures of message and returns the domains that
// verified. lookupTXT resolves key records; nil uses DNS.
func Verify(message []byte, lookupTXT func(domain string) ([]string, error)) ([]string, error) {
	verifications, err := dkim.VerifyWithOptions(bytes.NewReader(message), &dkim.VerifyOptions{
		LookupTXT: lookupTXT,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to verify message: %w", err)
	}
	if len(verifications) == 0 {
		return nil, ErrUnsigned
	}

	var domains []string
	var errs []error
	for _, v := range verifications {
		if v.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", v.Domain, v.Err))
			continue
		}
		domains = append(domains, v.Domain)
	}
	return domains, errors.Join(errs...)
}
