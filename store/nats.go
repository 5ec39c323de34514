package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/trackstream/errors"
	"github.com/c360/trackstream/telemetry"
)

// DefaultBucket is the KV bucket holding per-vehicle position history.
const DefaultBucket = "trackstream_positions"

// NATSConfig configures the JetStream-backed position store.
type NATSConfig struct {
	Bucket       string        `yaml:"bucket"`
	HistoryDepth int           `yaml:"history_depth"`
	OpTimeout    time.Duration `yaml:"op_timeout"`
}

// DefaultNATSConfig returns production defaults. History depth is capped
// at 64 by JetStream KV.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		Bucket:       DefaultBucket,
		HistoryDepth: 32,
		OpTimeout:    5 * time.Second,
	}
}

// NATS is a PositionStore persisted in a JetStream KV bucket. Each
// vehicle is one key whose revision history holds its recent positions,
// so LatestByVehicle is a single History call and LatestBySection scans
// the newest revision of each key.
type NATS struct {
	bucket jetstream.KeyValue
	cfg    NATSConfig
	logger *slog.Logger
}

var _ PositionStore = (*NATS)(nil)

// NewNATS binds a position store to the configured bucket, creating it
// if needed.
func NewNATS(ctx context.Context, js jetstream.JetStream, cfg NATSConfig, logger *slog.Logger) (*NATS, error) {
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.HistoryDepth <= 0 {
		cfg.HistoryDepth = 32
	}
	if cfg.HistoryDepth > 64 {
		cfg.HistoryDepth = 64
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	bucket, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "per-vehicle position history",
		History:     uint8(cfg.HistoryDepth),
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "store.nats", "bucket setup failed")
	}

	return &NATS{
		bucket: bucket,
		cfg:    cfg,
		logger: logger.With("component", "store.nats"),
	}, nil
}

// Insert writes the position as the newest revision of its vehicle key.
func (s *NATS) Insert(ctx context.Context, p telemetry.Position) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	data, err := json.Marshal(p)
	if err != nil {
		return errors.WrapInvalid(err, "store.nats", "position encode failed")
	}
	if _, err := s.bucket.Put(ctx, p.VehicleID, data); err != nil {
		return errors.WrapTransient(err, "store.nats", "kv put failed")
	}
	return nil
}

// LatestByVehicle reads the vehicle's revision history, newest first.
func (s *NATS) LatestByVehicle(ctx context.Context, vehicleID string, limit int) ([]telemetry.Position, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	entries, err := s.bucket.History(ctx, vehicleID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return []telemetry.Position{}, nil
		}
		return nil, errors.WrapTransient(err, "store.nats", "kv history failed")
	}

	positions := make([]telemetry.Position, 0, len(entries))
	for _, entry := range entries {
		if entry.Operation() != jetstream.KeyValuePut {
			continue
		}
		var p telemetry.Position
		if err := json.Unmarshal(entry.Value(), &p); err != nil {
			s.logger.Warn("skipping undecodable history entry",
				"vehicle_id", vehicleID,
				"revision", entry.Revision(),
				"error", err)
			continue
		}
		positions = append(positions, p)
	}
	return takeNewest(positions, limit), nil
}

// LatestBySection scans the newest revision of every vehicle key and
// keeps the ones reporting in the section, newest first.
func (s *NATS) LatestBySection(ctx context.Context, sectionID string, limit int) ([]telemetry.Position, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	lister, err := s.bucket.ListKeys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "store.nats", "kv list failed")
	}
	defer func() { _ = lister.Stop() }()

	var positions []telemetry.Position
	for key := range lister.Keys() {
		entry, err := s.bucket.Get(ctx, key)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			return nil, errors.WrapTransient(err, "store.nats", "kv get failed")
		}
		var p telemetry.Position
		if err := json.Unmarshal(entry.Value(), &p); err != nil {
			s.logger.Warn("skipping undecodable entry",
				"vehicle_id", key,
				"revision", entry.Revision(),
				"error", err)
			continue
		}
		if p.SectionID == sectionID {
			positions = append(positions, p)
		}
	}
	return takeNewest(positions, limit), nil
}
