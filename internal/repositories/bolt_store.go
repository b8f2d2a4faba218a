package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BradenHooton/autobot/internal/models"
	bolt "go.etcd.io/bbolt"
)

var runStateBucket = []byte("run_state")

// BoltRunStateStore keeps the run state in a single bbolt file, one JSON
// document per account.
type BoltRunStateStore struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBoltRunStateStore opens (or creates) the store at path
func NewBoltRunStateStore(path string) (*BoltRunStateStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open run state file: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(runStateBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create run state bucket: %w", err)
	}

	return &BoltRunStateStore{db: db, now: time.Now}, nil
}

func (s *BoltRunStateStore) Close() error {
	return s.db.Close()
}

// Load returns the run state of an account, or models.ErrNotFound
func (s *BoltRunStateStore) Load(ctx context.Context, accountName string) (*models.RunState, error) {
	var state *models.RunState
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(runStateBucket).Get([]byte(accountName))
		if raw == nil {
			return models.ErrNotFound
		}
		state = &models.RunState{}
		return json.Unmarshal(raw, state)
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// SaveLoginAttempts replaces the stored login attempt timestamps
func (s *BoltRunStateStore) SaveLoginAttempts(ctx context.Context, accountName string, attempts []time.Time) error {
	return s.update(accountName, func(state *models.RunState) {
		state.LoginAttempts = append([]time.Time(nil), attempts...)
	})
}

// SaveLoginKey replaces the stored login key
func (s *BoltRunStateStore) SaveLoginKey(ctx context.Context, accountName, loginKey string) error {
	return s.update(accountName, func(state *models.RunState) {
		state.LoginKey = loginKey
	})
}

// SavePollData replaces the stored trade poll data
func (s *BoltRunStateStore) SavePollData(ctx context.Context, accountName string, pollData json.RawMessage) error {
	return s.update(accountName, func(state *models.RunState) {
		state.PollData = pollData
	})
}

// update applies fn to the stored state in a single read-modify-write transaction
func (s *BoltRunStateStore) update(accountName string, fn func(*models.RunState)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(runStateBucket)

		state := models.RunState{AccountName: accountName}
		if raw := bucket.Get([]byte(accountName)); raw != nil {
			if err := json.Unmarshal(raw, &state); err != nil {
				return fmt.Errorf("failed to decode run state: %w", err)
			}
		}

		fn(&state)
		state.UpdatedAt = s.now().UTC()

		raw, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("failed to encode run state: %w", err)
		}
		return bucket.Put([]byte(accountName), raw)
	})
}
