// Package s3store provides an S3 object storage backend.
//
// Each key is stored as one object under a prefix. S3 has no change feed
// that reaches a running process, so Subscribe never delivers events on
// its own; pair the store with relay.Attach to broadcast writes between
// processes sharing the bucket.
//
// Example usage:
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	store := s3store.New(s3.NewFromConfig(cfg), "my-bucket", "prefs/")
//	theme := pref.New(store, "theme", "light")
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/vango-dev/prefsync/pkg/storage"
)

const contentType = "application/json"

// S3API is the subset of *s3.Client the store uses.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Store keeps slots as S3 objects. It implements storage.Backend.
type Store struct {
	client S3API
	bucket string
	prefix string

	mu     sync.Mutex
	closed bool
}

// New creates a store writing objects to bucket under prefix
// (e.g. "prefs/").
func New(client S3API, bucket, prefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

// ObjectKey returns the object key used for a slot key.
func (s *Store) ObjectKey(key string) string {
	return s.prefix + url.PathEscape(key) + ".json"
}

// Get implements storage.Store.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if err := s.check(); err != nil {
		return "", false, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.ObjectKey(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("s3store: get %q: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", false, fmt.Errorf("s3store: read %q: %w", key, err)
	}
	return string(data), true, nil
}

// Set implements storage.Store.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.ObjectKey(key)),
		Body:        bytes.NewReader([]byte(value)),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"slot-key": key,
		},
	})
	if err != nil {
		return fmt.Errorf("s3store: put %q: %w", key, err)
	}
	return nil
}

// Remove implements storage.Store. Deleting an absent object succeeds.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.ObjectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("s3store: delete %q: %w", key, err)
	}
	return nil
}

// Subscribe implements storage.Notifier. It never delivers events.
func (s *Store) Subscribe(func(storage.Event)) func() {
	return func() {}
}

// Available reports whether the store is open.
func (s *Store) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.client != nil
}

// Close marks the store closed. The client is owned by the caller.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	return nil
}
