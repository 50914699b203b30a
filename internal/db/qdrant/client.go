// Package qdrant opens gRPC clients to a Qdrant server.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
)

// DefaultPort is the Qdrant gRPC port.
const DefaultPort = 6334

// Config holds connection parameters for a Qdrant client.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// NewClient connects and fails fast when the server does not answer a health check.
func NewClient(ctx context.Context, cfg Config) (*qdrant.Client, error) {
	if cfg.Host == "" {
		return nil, errors.New("host is required")
	}
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("health check: %w", err)
	}
	return client, nil
}
