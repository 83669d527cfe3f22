package models

import "time"

// APIKey represents an API key for the HTTP API
type APIKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"key_prefix"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// APIKeyCreateResult contains the created key and the plaintext value (shown once)
type APIKeyCreateResult struct {
	APIKey
	Key string `json:"key"`
}
