// Package checkpoint persists the best model of a training run in BadgerDB.
package checkpoint

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/cnclabs/hetlink/internal/train"
	"github.com/cnclabs/hetlink/pkg/nn"
)

// Key prefixes
const (
	keyMeta     = "meta"
	prefixParam = "p:" // p:<position>, little-endian float64 values
)

// ErrNoCheckpoint is returned by Load when nothing was saved yet
var ErrNoCheckpoint = errors.New("no checkpoint stored")

// Meta describes the stored snapshot
type Meta struct {
	Epoch      int                `json:"epoch"`
	Step       int                `json:"step"`
	Loss       float64            `json:"loss"`
	Accuracies map[string]float64 `json:"accuracies"`
	ParamNames []string           `json:"param_names"`
	ParamSizes []int              `json:"param_sizes"`
	SavedAt    time.Time          `json:"saved_at"`
}

// Store is a BadgerDB-backed best-model store
type Store struct {
	db *badger.DB
	mu sync.Mutex
}

var _ train.Checkpointer = (*Store)(nil)

// Open opens or creates the store in dir
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).
		WithNumCompactors(2).
		WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open checkpoint store %s", dir)
	}
	return &Store{db: db}, nil
}

// Close releases the database
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// SaveBest replaces the stored snapshot in a single transaction
func (s *Store) SaveBest(snap train.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return errors.New("checkpoint store is closed")
	}

	meta := Meta{
		Epoch:      snap.Epoch,
		Step:       snap.Step,
		Loss:       snap.Loss,
		Accuracies: snap.Accuracies,
		SavedAt:    time.Now().UTC(),
	}
	for _, p := range snap.Params {
		meta.ParamNames = append(meta.ParamNames, p.Name)
		meta.ParamSizes = append(meta.ParamSizes, len(p.Value))
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, "marshal meta")
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(keyMeta), data); err != nil {
			return errors.Wrap(err, "set meta")
		}
		for i, p := range snap.Params {
			if err := txn.Set(paramKey(i), encode(p.Value)); err != nil {
				return errors.Wrapf(err, "set param %s", p.Name)
			}
		}
		return nil
	})
}

// Load returns the stored meta and parameter values in save order
func (s *Store) Load() (*Meta, [][]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, nil, errors.New("checkpoint store is closed")
	}

	var meta Meta
	var values [][]float64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyMeta))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNoCheckpoint
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		}); err != nil {
			return errors.Wrap(err, "decode meta")
		}

		values = make([][]float64, len(meta.ParamSizes))
		for i, size := range meta.ParamSizes {
			item, err := txn.Get(paramKey(i))
			if err != nil {
				return errors.Wrapf(err, "param %d", i)
			}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if len(raw) != 8*size {
				return errors.Errorf("param %d: stored %d bytes, want %d", i, len(raw), 8*size)
			}
			values[i] = decode(raw)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &meta, values, nil
}

// Restore copies the stored values into params, which must match the saved
// names and sizes
func (s *Store) Restore(params []*nn.Param) (*Meta, error) {
	meta, values, err := s.Load()
	if err != nil {
		return nil, err
	}
	if len(params) != len(values) {
		return nil, errors.Errorf("checkpoint has %d params, model has %d", len(values), len(params))
	}
	for i, p := range params {
		if p.Name != meta.ParamNames[i] || len(p.Value) != len(values[i]) {
			return nil, errors.Errorf("param %d: checkpoint %s[%d], model %s[%d]",
				i, meta.ParamNames[i], len(values[i]), p.Name, len(p.Value))
		}
	}
	for i, p := range params {
		copy(p.Value, values[i])
	}
	return meta, nil
}

func paramKey(i int) []byte {
	return []byte(fmt.Sprintf("%s%06d", prefixParam, i))
}

func encode(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(x))
	}
	return buf
}

func decode(buf []byte) []float64 {
	v := make([]float64, len(buf)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return v
}
