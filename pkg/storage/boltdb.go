package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/agenthub/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketTokens = []byte("tokens")
)

// ErrTokenNotFound is returned when no token matches the requested secret
var ErrTokenNotFound = errors.New("token not found")

// BoltStore implements TokenStore using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// openTimeout bounds the wait for the file lock held by another process
const openTimeout = 2 * time.Second

// NewBoltStore opens (or creates) the BoltDB file at path
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, fmt.Errorf("token database %s is locked by another process (is the server running?): %w", path, err)
		}
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketTokens); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketTokens, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// NewBoltStoreInDir opens the token database inside dataDir
func NewBoltStoreInDir(dataDir string) (*BoltStore, error) {
	return NewBoltStore(filepath.Join(dataDir, "tokens.db"))
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Token operations
func (s *BoltStore) PutToken(token *types.AccessToken) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		data, err := json.Marshal(token)
		if err != nil {
			return err
		}
		return b.Put([]byte(token.Secret), data)
	})
}

func (s *BoltStore) GetToken(secret string) (*types.AccessToken, error) {
	var token types.AccessToken
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		data := b.Get([]byte(secret))
		if data == nil {
			return ErrTokenNotFound
		}
		return json.Unmarshal(data, &token)
	})
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (s *BoltStore) ListTokens() ([]*types.AccessToken, error) {
	var tokens []*types.AccessToken
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		return b.ForEach(func(k, v []byte) error {
			var token types.AccessToken
			if err := json.Unmarshal(v, &token); err != nil {
				return err
			}
			tokens = append(tokens, &token)
			return nil
		})
	})
	return tokens, err
}

func (s *BoltStore) DeleteToken(secret string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		return b.Delete([]byte(secret))
	})
}
