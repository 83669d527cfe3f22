package dkim

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testMessage = "From: Lumen Studio <studio@lumen.example>\r\n" +
	"To: ada@clients.example\r\n" +
	"Subject: Your session guide\r\n" +
	"Date: Mon, 02 Mar 2026 09:00:00 +0000\r\n" +
	"Message-ID: <d-1@lumen.example>\r\n" +
	"List-Unsubscribe: <https://lumen.example/u/sub-1>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"See you Saturday.\r\n"

// lookupFor serves the key pair's record and nothing else
func lookupFor(t *testing.T, kp *KeyPair) func(string) ([]string, error) {
	t.Helper()
	value, err := kp.RecordValue()
	if err != nil {
		t.Fatal(err)
	}
	return func(name string) ([]string, error) {
		if name != kp.RecordName() {
			return nil, fmt.Errorf("no record for %s", name)
		}
		return []string{value}, nil
	}
}

func TestSignVerify(t *testing.T) {
	for _, alg := range []Algorithm{AlgorithmRSA, AlgorithmEd25519} {
		t.Run(string(alg), func(t *testing.T) {
			kp, err := GenerateKey(alg, "lumen.example", "drip")
			if err != nil {
				t.Fatal(err)
			}
			signer, err := NewSigner(kp.Key, "Lumen.Example.", "drip")
			if err != nil {
				t.Fatal(err)
			}
			if signer.Domain() != "lumen.example" {
				t.Errorf("Domain() = %q, want lumen.example", signer.Domain())
			}

			signed, err := signer.Sign([]byte(testMessage))
			if err != nil {
				t.Fatalf("Sign() error = %v", err)
			}
			if !strings.HasPrefix(string(signed), "DKIM-Signature:") {
				t.Fatal("signed message should start with DKIM-Signature")
			}
			if !strings.Contains(strings.ToLower(string(signed)), "list-unsubscribe") {
				t.Error("signature should cover List-Unsubscribe")
			}

			domains, err := Verify(signed, lookupFor(t, kp))
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if len(domains) != 1 || domains[0] != "lumen.example" {
				t.Errorf("Verify() domains = %v", domains)
			}

			tampered := strings.Replace(string(signed), "Saturday", "Sunday", 1)
			if _, err := Verify([]byte(tampered), lookupFor(t, kp)); err == nil {
				t.Error("Verify() should fail for a modified body")
			}
		})
	}
}

func TestVerify_Unsigned(t *testing.T) {
	_, err := Verify([]byte(testMessage), nil)
	if !errors.Is(err, ErrUnsigned) {
		t.Errorf("Verify() error = %v, want ErrUnsigned", err)
	}
}

func TestNewSigner_Invalid(t *testing.T) {
	kp, err := GenerateKey(AlgorithmEd25519, "lumen.example", "drip")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewSigner(kp.Key, "", "drip"); err == nil {
		t.Error("expected error for empty domain")
	}
	if _, err := NewSigner(kp.Key, "lumen.example", ""); err == nil {
		t.Error("expected error for empty selector")
	}
	if _, err := GenerateKey("dsa", "lumen.example", "drip"); err == nil {
		t.Error("expected error for unknown algorithm")
	}
}

func TestRecord(t *testing.T) {
	kp, err := GenerateKey(AlgorithmEd25519, "lumen.example", "drip")
	if err != nil {
		t.Fatal(err)
	}
	if got := kp.RecordName(); got != "drip._domainkey.lumen.example" {
		t.Errorf("RecordName() = %q", got)
	}
	value, err := kp.RecordValue()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(value, "v=DKIM1; k=ed25519; p=") {
		t.Errorf("RecordValue() = %q", value)
	}
}

func TestLoadSigner(t *testing.T) {
	dir := t.TempDir()

	kp, err := GenerateKey(AlgorithmRSA, "lumen.example", "drip")
	if err != nil {
		t.Fatal(err)
	}
	pkcs8 := filepath.Join(dir, "keys", "drip.pem")
	if err := kp.SavePrivateKey(pkcs8); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(pkcs8)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("key file mode = %v, want 0600", info.Mode().Perm())
	}

	legacy, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	pkcs1 := filepath.Join(dir, "legacy.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(legacy)})
	if err := os.WriteFile(pkcs1, data, 0600); err != nil {
		t.Fatal(err)
	}

	garbage := filepath.Join(dir, "garbage.pem")
	if err := os.WriteFile(garbage, []byte("not a key"), 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"pkcs8", pkcs8, false},
		{"pkcs1", pkcs1, false},
		{"missing", filepath.Join(dir, "missing.pem"), true},
		{"not pem", garbage, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer, err := LoadSigner(tt.path, "lumen.example", "drip")
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadSigner() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && signer.Selector() != "drip" {
				t.Errorf("Selector() = %q", signer.Selector())
			}
		})
	}
}
