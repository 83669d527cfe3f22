package transport

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var bucketSandbox = []byte("sandbox")

// Captured is a message stored by the sandbox instead of being sent
type Captured struct {
	ID         string            `json:"id"`
	MessageID  string            `json:"message_id"`
	From       string            `json:"from"`
	To         string            `json:"to"`
	Subject    string            `json:"subject"`
	HTML       string            `json:"html,omitempty"`
	Text       string            `json:"text,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
	Channel    string            `json:"channel"`
	CapturedAt time.Time         `json:"captured_at"`
}

// SandboxStore keeps captured messages in a BoltDB file
type SandboxStore struct {
	db *bolt.DB
}

// OpenSandboxStore opens or creates the capture file at path
func OpenSandboxStore(path string) (*SandboxStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open sandbox store: %w", err)
	}

	// Create bucket if not exists
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSandbox)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sandbox bucket: %w", err)
	}

	return &SandboxStore{db: db}, nil
}

// Close closes the underlying file
func (s *SandboxStore) Close() error {
	return s.db.Close()
}

// Save stores a captured message keyed by capture time for ordering
func (s *SandboxStore) Save(ctx context.Context, msg *Captured) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		return tx.Bucket(bucketSandbox).Put(makeIndexKey(msg.CapturedAt, msg.ID), data)
	})
}

// List returns captured messages newest first. limit <= 0 means all.
func (s *SandboxStore) List(ctx context.Context, limit int) ([]*Captured, error) {
	var messages []*Captured

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSandbox).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var msg Captured
			if err := json.Unmarshal(v, &msg); err != nil {
				continue
			}
			messages = append(messages, &msg)
			if limit > 0 && len(messages) >= limit {
				break
			}
		}
		return nil
	})

	return messages, err
}

// Count returns the number of captured messages
func (s *SandboxStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketSandbox).Stats().KeyN
		return nil
	})
	return n, err
}

// Clear removes messages captured before cutoff
func (s *SandboxStore) Clear(ctx context.Context, cutoff time.Time) (int, error) {
	var count int
	limit := makeIndexKey(cutoff, "")

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSandbox)
		c := bucket.Cursor()

		var keysToDelete [][]byte
		for k, _ := c.First(); k != nil && string(k) < string(limit); k, _ = c.Next() {
			keysToDelete = append(keysToDelete, append([]byte(nil), k...))
		}

		for _, k := range keysToDelete {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			count++
		}
		return nil
	})

	return count, err
}

// makeIndexKey orders keys by capture time, then id
func makeIndexKey(t time.Time, id string) []byte {
	key := make([]byte, 8+len(id))
	binary.BigEndian.PutUint64(key, uint64(t.UnixNano()))
	copy(key[8:], id)
	return key
}

// SandboxSender captures messages instead of sending them
type SandboxSender struct {
	store  *SandboxStore
	logger *slog.Logger
}

// NewSandboxSender creates a capturing sender
func NewSandboxSender(store *SandboxStore, logger *slog.Logger) *SandboxSender {
	return &SandboxSender{store: store, logger: logger.With("component", "sandbox")}
}

// Send implements Sender
func (s *SandboxSender) Send(ctx context.Context, msg *Message) (*Result, error) {
	captured := &Captured{
		ID:         uuid.New().String(),
		MessageID:  msg.ID,
		From:       msg.From,
		To:         msg.To,
		Subject:    msg.Subject,
		HTML:       msg.HTML,
		Text:       msg.Text,
		Tags:       msg.Tags,
		Channel:    "email",
		CapturedAt: time.Now().UTC(),
	}
	if err := s.store.Save(ctx, captured); err != nil {
		return nil, Temporaryf("sandbox: failed to save message: %v", err)
	}

	s.logger.Info("sandbox: message captured",
		"id", msg.ID,
		"to", msg.To,
	)
	return &Result{ProviderID: "sandbox-" + captured.ID}, nil
}

// SendSMS implements SMSSender
func (s *SandboxSender) SendSMS(ctx context.Context, to, body string) (*Result, error) {
	captured := &Captured{
		ID:         uuid.New().String(),
		To:         to,
		Text:       body,
		Channel:    "sms",
		CapturedAt: time.Now().UTC(),
	}
	if err := s.store.Save(ctx, captured); err != nil {
		return nil, Temporaryf("sandbox: failed to save sms: %v", err)
	}
	s.logger.Info("sandbox: sms captured", "to", to)
	return &Result{ProviderID: "sandbox-" + captured.ID}, nil
}
