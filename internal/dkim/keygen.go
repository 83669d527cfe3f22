package dkim

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// Algorithm is a DKIM key type
type Algorithm string

const (
	AlgorithmRSA     Algorithm = "rsa"
	AlgorithmEd25519 Algorithm = "ed25519"
)

// rsaBits is the RSA modulus size; 1024 is rejected by major receivers
const rsaBits = 2048

// KeyPair is a generated signing key and where its public half is published
type KeyPair struct {
	Key       crypto.Signer
	Algorithm Algorithm
	Domain    string
	Selector  string
}

// GenerateKey creates a new key for domain and selector
func GenerateKey(alg Algorithm, domain, selector string) (*KeyPair, error) {
	var key crypto.Signer
	switch alg {
	case AlgorithmRSA, "":
		k, err := rsa.GenerateKey(rand.Reader, rsaBits)
		if err != nil {
			return nil, fmt.Errorf("failed to generate RSA key: %w", err)
		}
		key, alg = k, AlgorithmRSA
	case AlgorithmEd25519:
		_, k, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate Ed25519 key: %w", err)
		}
		key = k
	default:
		return nil, fmt.Errorf("unknown DKIM algorithm %q", alg)
	}

	return &KeyPair{Key: key, Algorithm: alg, Domain: domain, Selector: selector}, nil
}

// SavePrivateKey writes the key as PKCS#8 PEM readable only by the owner
func (kp *KeyPair) SavePrivateKey(path string) error {
	der, err := x509.MarshalPKCS8PrivateKey(kp.Key)
	if err != nil {
		return fmt.Errorf("failed to encode private key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	defer file.Close()

	return pem.Encode(file, &pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

// RecordName is the TXT record name that publishes the key
func (kp *KeyPair) RecordName() string {
	return fmt.Sprintf("%s._domainkey.%s", kp.Selector, kp.Domain)
}

// RecordValue is the TXT record content for the public key
func (kp *KeyPair) RecordValue() (string, error) {
	var pub []byte
	switch k := kp.Key.(type) {
	case *rsa.PrivateKey:
		der, err := x509.MarshalPKIXPublicKey(&k.PublicKey)
		if err != nil {
			return "", err
		}
		pub = der
	case ed25519.PrivateKey:
		// Ed25519 records carry the raw 32-byte key
		pub = k.Public().(ed25519.PublicKey)
	default:
		return "", fmt.Errorf("unsupported DKIM key type %T", kp.Key)
	}
	return fmt.Sprintf("v=DKIM1; k=%s; p=%s", kp.Algorithm, base64.StdEncoding.EncodeToString(pub)), nil
}

// LoadPrivateKey reads an RSA or Ed25519 key from a PKCS#1 or PKCS#8 PEM file
func LoadPrivateKey(path string) (crypto.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		switch k := key.(type) {
		case *rsa.PrivateKey:
			return k, nil
		case ed25519.PrivateKey:
			return k, nil
		}
		return nil, fmt.Errorf("unsupported key type %T", key)
	default:
		return nil, fmt.Errorf("unsupported PEM block: %s", block.Type)
	}
}
