package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestErrorClassifiers(t *testing.T) {
	wrapped := func(code string) error {
		return fmt.Errorf("inserting booking: %w", &pgconn.PgError{Code: code})
	}

	if !IsUniqueViolation(wrapped("23505")) {
		t.Fatal("expected unique violation")
	}
	if !IsExclusionViolation(wrapped("23P01")) {
		t.Fatal("expected exclusion violation")
	}
	if !IsRetryable(wrapped("40001")) || !IsRetryable(wrapped("40P01")) {
		t.Fatal("expected serialization failure and deadlock to be retryable")
	}
	if IsRetryable(wrapped("23505")) {
		t.Fatal("unique violation must not be retryable")
	}
	if !IsNotFound(fmt.Errorf("scan: %w", pgx.ErrNoRows)) {
		t.Fatal("expected pgx.ErrNoRows to classify as not found")
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, func() error {
		calls++
		if calls < 2 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRetryExhaustionWrapsConflict(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, func() error {
		calls++
		return &pgconn.PgError{Code: "40P01"}
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryPassesThroughBusinessErrors(t *testing.T) {
	sentinel := errors.New("room not available")
	calls := 0
	err := Retry(context.Background(), 5, func() error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) || calls != 1 {
		t.Fatalf("expected single call returning sentinel, got %d calls, err %v", calls, err)
	}
}

func TestMigrateURL(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@localhost:5432/motel":   "pgx5://u:p@localhost:5432/motel",
		"postgresql://u:p@localhost:5432/motel": "pgx5://u:p@localhost:5432/motel",
		"pgx5://localhost/motel":                "pgx5://localhost/motel",
	}
	for in, want := range tests {
		if got := migrateURL(in); got != want {
			t.Fatalf("migrateURL(%q) = %q, want %q", in, got, want)
		}
	}
}
