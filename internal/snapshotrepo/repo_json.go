// Package snapshotrepo manages the durable snapshot of the whole service
// state as a single JSON document on disk.
package snapshotrepo

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/go-fin/fin-ledger/internal/domain"
)

// FileStore reads and writes the snapshot file. Writes replace the file
// atomically via a temporary file and rename, so a crash mid-write leaves the
// previous acknowledged snapshot intact.
//
// The store retains the last loaded or written state so that the ledger and
// identity sections can be saved independently without losing each other.
type FileStore struct {
	mu      sync.Mutex
	path    string
	current domain.Snapshot
}

// NewFileStore returns a file store over the given snapshot path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the snapshot from disk. A missing file yields an empty snapshot;
// it is created on the first save.
func (r *FileStore) Load(ctx context.Context) (domain.Snapshot, error) {
	l := zerolog.Ctx(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	raw, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.current = domain.Snapshot{}
			return r.current, nil
		}

		l.Error().Err(err).Send()

		return domain.Snapshot{}, err
	}

	var snapshot domain.Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		l.Error().Err(err).Send()
		return domain.Snapshot{}, err
	}

	r.current = snapshot

	return snapshot, nil
}

// Save persists the ledger section, keeping the stored identity section.
func (r *FileStore) Save(ctx context.Context, snapshot domain.LedgerSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current
	r.current.Accounts = snapshot.Accounts
	r.current.Transactions = snapshot.Transactions

	if err := r.write(ctx); err != nil {
		r.current = prev
		return err
	}

	return nil
}

// SaveUsers persists the identity section, keeping the stored ledger section.
func (r *FileStore) SaveUsers(ctx context.Context, users []domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current
	r.current.Users = users

	if err := r.write(ctx); err != nil {
		r.current = prev
		return err
	}

	return nil
}

func (r *FileStore) write(ctx context.Context) error {
	l := zerolog.Ctx(ctx)

	raw, err := json.MarshalIndent(r.current, "", "  ")
	if err != nil {
		l.Error().Err(err).Send()
		return err
	}

	dir := filepath.Dir(r.path)

	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".tmp-*")
	if err != nil {
		l.Error().Err(err).Send()
		return err
	}

	if _, err := tmp.Write(raw); err != nil {
		l.Error().Err(err).Send()
		tmp.Close()
		os.Remove(tmp.Name())

		return err
	}

	if err := tmp.Sync(); err != nil {
		l.Error().Err(err).Send()
		tmp.Close()
		os.Remove(tmp.Name())

		return err
	}

	if err := tmp.Close(); err != nil {
		l.Error().Err(err).Send()
		os.Remove(tmp.Name())

		return err
	}

	if err := os.Rename(tmp.Name(), r.path); err != nil {
		l.Error().Err(err).Send()
		os.Remove(tmp.Name())

		return err
	}

	return nil
}
