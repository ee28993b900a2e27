package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-ops/internal/metrics"
	"go.mongodb.org/mongo-driver/bson"
)

// RetryConfig bounds how often an atomic write is retried after a conflict.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig returns the retry policy used when none is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     250 * time.Millisecond,
	}
}

// Collection is a typed view over one backend collection.
type Collection[T any] struct {
	backend Backend
	name    string
	retrier retry.Retry[struct{}]
	log     *logrus.Entry
}

// NewCollection binds T to the named collection of backend.
func NewCollection[T any](backend Backend, name string, cfg RetryConfig) *Collection[T] {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig()
	}
	return &Collection[T]{
		backend: backend,
		name:    name,
		retrier: retry.New[struct{}](retry.Config{
			MaxAttempts:   cfg.MaxAttempts,
			InitialDelay:  cfg.InitialDelay,
			MaxDelay:      cfg.MaxDelay,
			BackoffPolicy: retry.BackoffExponential,
			Multiplier:    2.0,
			Jitter:        true,
			IsRetryable: func(err error) bool {
				return errors.Is(err, ErrConflict)
			},
		}),
		log: logrus.WithField("collection", name),
	}
}

// Name returns the backend collection name.
func (c *Collection[T]) Name() string { return c.name }

// Create stores rec and returns the id the backend assigned.
func (c *Collection[T]) Create(ctx context.Context, rec *T) (string, error) {
	doc, err := encode(rec)
	if err != nil {
		return "", wrapErr("create", c.name, "", err)
	}
	id, err := c.backend.Insert(ctx, c.name, doc)
	if err != nil {
		return "", wrapErr("create", c.name, "", err)
	}
	return id, nil
}

// Get returns the record with the given id, or nil when it does not exist.
func (c *Collection[T]) Get(ctx context.Context, id string) (*T, error) {
	doc, err := c.backend.Get(ctx, c.name, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get", c.name, id, err)
	}
	rec, err := decode[T](doc)
	if err != nil {
		return nil, wrapErr("get", c.name, id, err)
	}
	return rec, nil
}

// Update writes fields into the record. With merge=false the record is replaced by fields.
func (c *Collection[T]) Update(ctx context.Context, id string, fields Fields, merge bool) error {
	doc, err := encode(fields)
	if err != nil {
		return wrapErr("update", c.name, id, err)
	}
	delete(doc, "_id")
	return wrapErr("update", c.name, id, c.backend.Update(ctx, c.name, id, doc, merge))
}

// Replace overwrites the whole record with rec.
func (c *Collection[T]) Replace(ctx context.Context, id string, rec *T) error {
	doc, err := encode(rec)
	if err != nil {
		return wrapErr("replace", c.name, id, err)
	}
	delete(doc, "_id")
	return wrapErr("replace", c.name, id, c.backend.Update(ctx, c.name, id, doc, false))
}

// Delete removes the record.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	return wrapErr("delete", c.name, id, c.backend.Delete(ctx, c.name, id))
}

// Query returns every record matching filter. Records that cannot be
// decoded, for example because of an unknown status, are skipped.
func (c *Collection[T]) Query(ctx context.Context, filter Filter) ([]T, error) {
	docs, err := c.backend.Find(ctx, c.name, filter)
	if err != nil {
		return nil, wrapErr("query", c.name, "", err)
	}
	return c.decodeAll(docs), nil
}

// Subscribe calls onChange with the matching records now and after every
// matching change, until the subscription is closed or ctx ends.
func (c *Collection[T]) Subscribe(ctx context.Context, filter Filter, onChange func([]T)) (Subscription, error) {
	sub, err := c.backend.Watch(ctx, c.name, filter, func(docs []Document) {
		onChange(c.decodeAll(docs))
	})
	if err != nil {
		return nil, wrapErr("subscribe", c.name, "", err)
	}
	metrics.SubscriptionOpened(c.name)
	go func() {
		<-sub.Done()
		metrics.SubscriptionClosed(c.name)
	}()
	return sub, nil
}

// Snapshots adapts Subscribe to a channel that always holds the latest
// snapshot. The channel is closed once the subscription ends.
func (c *Collection[T]) Snapshots(ctx context.Context, filter Filter) (<-chan []T, Subscription, error) {
	ch := make(chan []T, 1)
	sub, err := c.Subscribe(ctx, filter, func(items []T) {
		select {
		case <-ch:
		default:
		}
		ch <- items
	})
	if err != nil {
		return nil, nil, err
	}
	go func() {
		<-sub.Done()
		close(ch)
	}()
	return ch, sub, nil
}

// RunAtomic reads the current record, lets fn decide which fields to write,
// and commits only if nobody else wrote the record in between. Lost races are
// retried with backoff; errors returned by fn abort without retry. fn receives
// nil when the record does not exist and may return nil fields to skip the write.
func (c *Collection[T]) RunAtomic(ctx context.Context, id string, fn func(current *T) (Fields, error)) error {
	var lastErr error
	attempts := 0
	_, err := c.retrier.Do(ctx, func(ctx context.Context) (struct{}, error) {
		attempts++
		lastErr = c.backend.Atomic(ctx, c.name, id, func(doc Document) (Fields, error) {
			var current *T
			if doc != nil {
				rec, err := decode[T](doc)
				if err != nil {
					return nil, err
				}
				current = rec
			}
			fields, err := fn(current)
			if err != nil || fields == nil {
				return nil, err
			}
			normalized, err := encode(fields)
			if err != nil {
				return nil, err
			}
			delete(normalized, "_id")
			return normalized, nil
		})
		if errors.Is(lastErr, ErrConflict) {
			metrics.Conflict(c.name)
			c.log.WithFields(logrus.Fields{"id": id, "attempt": attempts}).Debug("atomic write conflict")
		}
		return struct{}{}, lastErr
	})
	if err == nil {
		return nil
	}
	if lastErr != nil {
		err = lastErr
	}
	if errors.Is(err, ErrConflict) {
		c.log.WithFields(logrus.Fields{"id": id, "attempts": attempts}).Warn("atomic write gave up after repeated conflicts")
	}
	return wrapErr("atomic", c.name, id, err)
}

func (c *Collection[T]) decodeAll(docs []Document) []T {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		rec, err := decode[T](doc)
		if err != nil {
			c.log.WithError(err).WithField("id", doc["_id"]).Warn("skipping undecodable record")
			continue
		}
		out = append(out, *rec)
	}
	return out
}

// encode converts a record or field set into plain BSON values.
func encode(v interface{}) (Document, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	var doc Document
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return doc, nil
}

func decode[T any](doc Document) (*T, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	var rec T
	if err := bson.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &rec, nil
}
