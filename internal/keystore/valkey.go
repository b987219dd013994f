package keystore

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// scanBatch is the COUNT hint passed to SCAN and the maximum number of keys
// sent in one DEL.
const scanBatch = 200

type RedisTLSConfig struct {
	Enabled bool
	CAFile  string
}

type RedisConfig struct {
	Address   string
	Username  string
	Password  string
	DB        int
	TLS       RedisTLSConfig
	OpTimeout time.Duration
}

type valkeyStore struct {
	client    valkey.Client
	opTimeout time.Duration
}

// NewValkey opens the single long-lived client used for the lifetime of the
// process and verifies it with a PING.
func NewValkey(cfg RedisConfig) (KeyStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("keystore: redis address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
		DisableRetry:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("keystore: read redis ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("keystore: redis ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("keystore: redis client: %w", err)
	}

	store := &valkeyStore{client: client, opTimeout: cfg.OpTimeout}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return store, nil
}

func (s *valkeyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := withTimeout(ctx, s.opTimeout)
	defer cancel()

	var cmd valkey.Completed
	if ttl > 0 {
		cmd = s.client.B().Set().Key(key).Value(valkey.BinaryString(value)).Px(ttl).Build()
	} else {
		cmd = s.client.B().Set().Key(key).Value(valkey.BinaryString(value)).Build()
	}
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return unavailable("redis set", err)
	}
	return nil
}

func (s *valkeyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := withTimeout(ctx, s.opTimeout)
	defer cancel()

	resp := s.client.Do(ctx, s.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return nil, false, nil
		}
		return nil, false, unavailable("redis get", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return nil, false, unavailable("redis get bytes", err)
	}
	return payload, true, nil
}

func (s *valkeyStore) Del(ctx context.Context, key string) (int64, error) {
	ctx, cancel := withTimeout(ctx, s.opTimeout)
	defer cancel()

	deleted, err := s.client.Do(ctx, s.client.B().Del().Key(key).Build()).AsInt64()
	if err != nil {
		return 0, unavailable("redis del", err)
	}
	return deleted, nil
}

// DelByPattern walks the whole keyspace, so the op timeout bounds each SCAN
// and DEL round trip rather than the walk. The caller's ctx bounds the walk.
func (s *valkeyStore) DelByPattern(ctx context.Context, pattern string) (int64, error) {
	if pattern == "" {
		return 0, nil
	}

	var matched []string
	var cursor uint64
	for {
		if err := ctx.Err(); err != nil {
			return 0, unavailable("redis scan", err)
		}
		entry, err := s.roundTrip(ctx, s.client.B().Scan().Cursor(cursor).Match(pattern).Count(scanBatch).Build()).AsScanEntry()
		if err != nil {
			return 0, unavailable("redis scan", err)
		}
		matched = append(matched, entry.Elements...)
		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}

	var deleted int64
	for start := 0; start < len(matched); start += scanBatch {
		end := min(start+scanBatch, len(matched))
		n, err := s.roundTrip(ctx, s.client.B().Del().Key(matched[start:end]...).Build()).AsInt64()
		if err != nil {
			return deleted, unavailable("redis del batch", err)
		}
		deleted += n
	}
	return deleted, nil
}

func (s *valkeyStore) roundTrip(ctx context.Context, cmd valkey.Completed) valkey.ValkeyResult {
	ctx, cancel := withTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.client.Do(ctx, cmd)
}

func (s *valkeyStore) FlushAll(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.client.Do(ctx, s.client.B().Flushdb().Build()).Error(); err != nil {
		return unavailable("redis flushdb", err)
	}
	return nil
}

func (s *valkeyStore) Ping(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.client.Do(ctx, s.client.B().Ping().Build()).Error(); err != nil {
		return unavailable("redis ping", err)
	}
	return nil
}

func (s *valkeyStore) Close(context.Context) error {
	s.client.Close()
	return nil
}
