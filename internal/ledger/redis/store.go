// Package redis keeps the ledger in a Redis hash keyed by fingerprint.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-redis/redis"

	"github.com/JakeFAU/bid-monitor/internal/ledger"
)

// Config holds the Redis connection parameters.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// Store persists entries as fields of a single hash.
type Store struct {
	client *redis.Client
	key    string
}

// New connects to Redis and verifies the connection with PING.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("ledger.redis.addr is required")
	}
	key := cfg.Key
	if key == "" {
		key = "bidmonitor:ledger"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping().Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Store{client: client, key: key}, nil
}

// Load reads every field of the ledger hash.
func (s *Store) Load(ctx context.Context) (map[string]ledger.Entry, error) {
	fields, err := s.client.WithContext(ctx).HGetAll(s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", s.key, err)
	}
	return decodeEntries(fields)
}

// Save replaces the hash atomically inside MULTI/EXEC.
func (s *Store) Save(ctx context.Context, entries map[string]ledger.Entry) error {
	fields, err := encodeEntries(entries)
	if err != nil {
		return err
	}
	_, err = s.client.WithContext(ctx).TxPipelined(func(pipe redis.Pipeliner) error {
		pipe.Del(s.key)
		if len(fields) > 0 {
			pipe.HMSet(s.key, fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save ledger hash: %w", err)
	}
	return nil
}

// Reset deletes the hash.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.client.WithContext(ctx).Del(s.key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", s.key, err)
	}
	return nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func encodeEntries(entries map[string]ledger.Entry) (map[string]interface{}, error) {
	fields := make(map[string]interface{}, len(entries))
	for k, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("encode ledger entry %s: %w", k, err)
		}
		fields[k] = string(b)
	}
	return fields, nil
}

func decodeEntries(fields map[string]string) (map[string]ledger.Entry, error) {
	entries := make(map[string]ledger.Entry, len(fields))
	for k, v := range fields {
		var e ledger.Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, fmt.Errorf("decode ledger entry %s: %w", k, err)
		}
		entries[k] = e
	}
	return entries, nil
}
