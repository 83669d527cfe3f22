package email

import "testing"

func TestDomain(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		fallback string
		want     string
	}{
		{"simple", "user@example.com", "", "example.com"},
		{"with name", "User Name <user@example.com>", "", "example.com"},
		{"uppercase", "user@EXAMPLE.COM", "", "example.com"},
		{"subdomain", "user@Mail.Example.Com", "", "mail.example.com"},
		{"single label", "user@a", "", "a"},
		{"no at", "invalid", "localhost", "localhost"},
		{"empty local part", "@example.com", "localhost", "localhost"},
		{"empty domain", "user@", "localhost", "localhost"},
		{"empty", "", "studio.local", "studio.local"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Domain(tc.addr, tc.fallback); got != tc.want {
				t.Errorf("Domain(%q, %q) = %q, want %q", tc.addr, tc.fallback, got, tc.want)
			}
		})
	}
}

func TestIsDeliverable(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"jane@example.com", true},
		{"jane.doe+wedding@mail.example.co.uk", true},
		{"  jane@example.com  ", true},
		{"Jane <jane@example.com>", false},
		{"jane@localhost", false},
		{"jane@example.", false},
		{"jane", false},
		{"", false},
		{"a@b@example.com", false},
	}
	for _, tc := range tests {
		if got := IsDeliverable(tc.addr); got != tc.want {
			t.Errorf("IsDeliverable(%q) = %v, want %v", tc.addr, got, tc.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{" Jane@Example.COM ", "Jane@example.com"},
		{"no-at", "no-at"},
	}
	for _, tc := range tests {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
