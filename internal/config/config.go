package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

const (
	// DefaultMaxHeapBytes is the admission-control threshold: new websocket
	// connections are rejected while heap usage exceeds it.
	DefaultMaxHeapBytes = 1 << 30

	// DefaultConnMaxLifetime bounds how long a websocket connection may stay
	// registered before the reaper closes it.
	DefaultConnMaxLifetime = 6 * time.Hour

	// DefaultReapInterval is how often stale connections are swept.
	DefaultReapInterval = time.Hour
)

type Config struct {
	DatabaseDSN     string
	ServerAddr      string
	SigningKey      []byte
	AllowedOrigins  []string
	MaxHeapBytes    uint64
	ConnMaxLifetime time.Duration
	ReapInterval    time.Duration
}

func decodeSigningKey(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string, maxHeapBytes uint64) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningKey(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	if maxHeapBytes == 0 {
		maxHeapBytes = DefaultMaxHeapBytes
	}

	return &Config{
		DatabaseDSN:     databaseDSN,
		ServerAddr:      serverAddr,
		SigningKey:      signingKey,
		AllowedOrigins:  allowedOrigins,
		MaxHeapBytes:    maxHeapBytes,
		ConnMaxLifetime: DefaultConnMaxLifetime,
		ReapInterval:    DefaultReapInterval,
	}, nil
}
