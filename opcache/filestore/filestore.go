// Package filestore implements op.Cache by persisting each fingerprint as
// one file under a base directory (spec §4.3 "cache backend"). It exists
// for single-process deployments that want Op output caching to survive a
// restart without standing up Redis or MongoDB.
package filestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/flowllm-ai/flowllm/flowerr"
)

type entry struct {
	Value   []byte    `json:"value"`
	Expires time.Time `json:"expires,omitempty"`
	HasExp  bool      `json:"has_exp,omitempty"`
}

// Store is a directory-backed op.Cache. Each fingerprint maps to one file
// named "{fingerprint}.json" under Dir.
type Store struct {
	Dir string
}

// New constructs a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, flowerr.Wrap(flowerr.KindDeterministic, err, "filestore: create dir %q", dir)
	}
	return &Store{Dir: dir}, nil
}

func (s *Store) path(fingerprint string) string {
	return filepath.Join(s.Dir, fingerprint+".json")
}

// Get reads the cached value for fingerprint, treating a missing file or
// an expired entry as a cache miss (spec §4.3 "Expiry").
func (s *Store) Get(_ context.Context, fingerprint string) ([]byte, bool, error) {
	raw, err := os.ReadFile(s.path(fingerprint))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, flowerr.Wrap(flowerr.KindDeterministic, err, "filestore: read %q", fingerprint)
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, flowerr.Wrap(flowerr.KindDeterministic, err, "filestore: decode %q", fingerprint)
	}
	if e.HasExp && time.Now().After(e.Expires) {
		_ = os.Remove(s.path(fingerprint))
		return nil, false, nil
	}
	return e.Value, true, nil
}

// Set persists value under fingerprint, overwriting any prior entry
// (spec §4.3 "Overwrite semantics").
func (s *Store) Set(_ context.Context, fingerprint string, value []byte, expire time.Duration) error {
	e := entry{Value: value}
	if expire > 0 {
		e.Expires = time.Now().Add(expire)
		e.HasExp = true
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return flowerr.Wrap(flowerr.KindDeterministic, err, "filestore: encode %q", fingerprint)
	}
	tmp := s.path(fingerprint) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return flowerr.Wrap(flowerr.KindDeterministic, err, "filestore: write %q", fingerprint)
	}
	return os.Rename(tmp, s.path(fingerprint))
}
