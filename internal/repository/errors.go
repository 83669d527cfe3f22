package repository

import (
	"database/sql"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested row does not exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyEnrolled is returned when the subject already has a
	// subscription in the campaign's lineage
	ErrAlreadyEnrolled = errors.New("already enrolled")
	// ErrAlreadyExists is returned when a unique row is already present
	ErrAlreadyExists = errors.New("already exists")
	// ErrConflict is returned when a guarded update lost a race
	ErrConflict = errors.New("concurrent modification")
	// ErrIntegrity is returned when stored data violates an invariant
	ErrIntegrity = errors.New("data integrity violation")
	// ErrInvalidTransition is returned for an illegal lifecycle move
	ErrInvalidTransition = errors.New("invalid status transition")
)

// IsConflict reports whether err is an expected, non-fatal conflict
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrAlreadyEnrolled) || errors.Is(err, ErrAlreadyExists)
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// placeholders returns "?, ?, ?" for n values
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',', ' ')
		}
		b = append(b, '?')
	}
	return string(b)
}
