// Package redisstore keeps portfolios in Redis as one JSON record per key,
// with a sorted set per owner for the overview.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kalambet/folio/internal/portfolio"
	"github.com/kalambet/folio/internal/storage"
)

const (
	keyPrefix    = "folio:portfolio:"
	ownerPrefix  = "folio:owner:"
	slugPrefix   = "folio:slug:"
	maxTxRetries = 5
)

// Store implements the portfolio repository on Redis.
type Store struct {
	client *redis.Client
}

// NewStore connects to redisURL and checks the connection.
func NewStore(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Store{client: client}, nil
}

// NewStoreWithClient creates a store from an existing Redis client.
func NewStoreWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func key(id string) string { return keyPrefix + id }

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// CreatePortfolio stores rec unless its id is already in use.
func (s *Store) CreatePortfolio(ctx context.Context, rec portfolio.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal portfolio: %w", err)
	}
	ok, err := s.client.SetNX(ctx, key(rec.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("save portfolio: %w", err)
	}
	if !ok {
		return fmt.Errorf("portfolio %s already exists", rec.ID)
	}
	score := float64(rec.CreatedAt.UnixNano())
	if err := s.client.ZAdd(ctx, ownerPrefix+rec.OwnerID, redis.Z{Score: score, Member: rec.ID}).Err(); err != nil {
		return fmt.Errorf("index portfolio: %w", err)
	}
	return nil
}

// GetPortfolio loads a portfolio by id.
func (s *Store) GetPortfolio(ctx context.Context, id string) (portfolio.Record, error) {
	data, err := s.client.Get(ctx, key(id)).Bytes()
	if err == redis.Nil {
		return portfolio.Record{}, storage.ErrNotFound
	}
	if err != nil {
		return portfolio.Record{}, fmt.Errorf("load portfolio: %w", err)
	}
	var rec portfolio.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return portfolio.Record{}, fmt.Errorf("unmarshal portfolio: %w", err)
	}
	return rec, nil
}

// ListByOwner returns the owner's portfolios, newest first.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]portfolio.Record, error) {
	ids, err := s.client.ZRevRange(ctx, ownerPrefix+ownerID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list portfolios: %w", err)
	}
	results := make([]portfolio.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetPortfolio(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, nil
}

// update applies fn to the stored record inside an optimistic transaction.
func (s *Store) update(ctx context.Context, id string, fn func(*portfolio.Record) error) error {
	k := key(id)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, k).Bytes()
		if err == redis.Nil {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		var rec portfolio.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("unmarshal portfolio: %w", err)
		}
		if err := fn(&rec); err != nil {
			return err
		}
		rec.UpdatedAt = time.Now().UTC()
		out, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal portfolio: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, out, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, k)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return fmt.Errorf("update portfolio %s: too much contention", id)
}

// SaveDocument replaces the sections of a portfolio and the listed metadata
// fields.
func (s *Store) SaveDocument(ctx context.Context, portfolioID string, doc portfolio.Document, fields []portfolio.Field) error {
	return s.update(ctx, portfolioID, func(rec *portfolio.Record) error {
		rec.Document = rec.Document.WithSections(doc.Sections)
		for _, f := range fields {
			if !rec.Document.Metadata.Set(f, doc.Metadata.Get(f)) {
				return fmt.Errorf("unknown metadata field %q", f)
			}
		}
		return nil
	})
}

// SaveField updates one metadata field.
func (s *Store) SaveField(ctx context.Context, portfolioID string, field portfolio.Field, value string) error {
	return s.update(ctx, portfolioID, func(rec *portfolio.Record) error {
		if !rec.Document.Metadata.Set(field, value) {
			return fmt.Errorf("unknown metadata field %q", field)
		}
		return nil
	})
}

// SaveSection updates the payload of one existing section.
func (s *Store) SaveSection(ctx context.Context, portfolioID string, section portfolio.Section) error {
	return s.update(ctx, portfolioID, func(rec *portfolio.Record) error {
		for i := range rec.Document.Sections {
			if rec.Document.Sections[i].Type == section.Type {
				rec.Document.Sections[i].Data = append(json.RawMessage(nil), section.Data...)
				return nil
			}
		}
		return storage.ErrNotFound
	})
}

// SetSlug records the publish slug, claiming it so no other portfolio can.
func (s *Store) SetSlug(ctx context.Context, id, slug string) error {
	ok, err := s.client.SetNX(ctx, slugPrefix+slug, id, 0).Result()
	if err != nil {
		return fmt.Errorf("claim slug: %w", err)
	}
	if !ok {
		owner, err := s.client.Get(ctx, slugPrefix+slug).Result()
		if err != nil {
			return fmt.Errorf("claim slug: %w", err)
		}
		if owner != id {
			return storage.ErrSlugTaken
		}
	}
	err = s.update(ctx, id, func(rec *portfolio.Record) error {
		rec.Slug = slug
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		s.client.Del(ctx, slugPrefix+slug)
	}
	return err
}
