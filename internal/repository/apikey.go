package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/thephotocrm/thephotocrm-sub005/internal/db"
	"github.com/thephotocrm/thephotocrm-sub005/internal/models"
	"golang.org/x/crypto/bcrypt"
)

const keyPrefixLen = 11 // "pk_" + 8 hex chars

type APIKeyRepository struct {
	db *db.DB
}

func NewAPIKeyRepository(database *db.DB) *APIKeyRepository {
	return &APIKeyRepository{db: database}
}

// Create creates a new API key and returns the full key (only shown once)
func (r *APIKeyRepository) Create(ctx context.Context, name string) (*models.APIKeyCreateResult, error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	key := "pk_" + hex.EncodeToString(keyBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash key: %w", err)
	}

	k := models.APIKey{
		ID:        uuid.New().String(),
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: key[:keyPrefixLen],
		CreatedAt: time.Now().UTC(),
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, name, key_hash, key_prefix, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		k.ID, k.Name, k.KeyHash, k.KeyPrefix, k.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create API key: %w", err)
	}

	return &models.APIKeyCreateResult{APIKey: k, Key: key}, nil
}

// Validate checks a plaintext key and returns the matching active key
func (r *APIKeyRepository) Validate(ctx context.Context, key string) (*models.APIKey, error) {
	if len(key) < keyPrefixLen {
		return nil, ErrNotFound
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, key_hash, key_prefix, created_at
		FROM api_keys WHERE key_prefix = ? AND revoked_at IS NULL`, key[:keyPrefixLen])
	if err != nil {
		return nil, fmt.Errorf("failed to look up API key: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.CreatedAt); err != nil {
			return nil, err
		}
		if bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(key)) == nil {
			return &k, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nil, ErrNotFound
}

// UpdateLastUsed updates the last used timestamp
func (r *APIKeyRepository) UpdateLastUsed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// Revoke disables an API key
func (r *APIKeyRepository) Revoke(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to revoke API key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("api key %s: %w", id, ErrNotFound)
	}
	return nil
}
