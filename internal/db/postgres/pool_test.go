package postgres

import (
	"context"
	"testing"
)

func TestNewPool_RequiresDSN(t *testing.T) {
	if _, err := NewPool(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}

func TestNewPool_InvalidDSN(t *testing.T) {
	if _, err := NewPool(context.Background(), Config{DSN: "postgres://%zz"}); err == nil {
		t.Fatal("expected parse error")
	}
}
