// Package namemap implements the persistent volume-name to LUN-number map
// stored in the bucket's metadata on the storage cluster.
package namemap

import (
	"context"
	"encoding/json"
	"fmt"
	"math/bits"
	"strconv"

	"github.com/edgelun/edgelun/internal/backend"
	drverr "github.com/edgelun/edgelun/internal/errors"
	"github.com/edgelun/edgelun/internal/metrics"
)

const (
	// MinLUN and MaxLUN bound the LUN number space exported by one bucket.
	MinLUN = 1
	MaxLUN = 255

	// MetadataKey is the bucket-metadata key holding the serialized map.
	MetadataKey = "X-Name-Map"
	// RevisionKey is the bucket-metadata key holding the map's write revision.
	RevisionKey = "X-Name-Map-Rev"
)

// Store is the authoritative mapping from volume display name to LUN number.
// It is loaded once from bucket metadata at setup, held in memory, and
// written back wholesale after every mutation. Writes carry a revision token
// so a cluster that enforces revisions rejects stale overwrites.
//
// Store is not safe for concurrent use; the lifecycle manager serializes all
// access under its own lock.
type Store struct {
	client    backend.Client
	bucketURL string

	names map[string]int
	// used is a 256-bit occupancy set over LUN numbers. Bit 0 is preset so
	// it can never be allocated.
	used [4]uint64
	rev  int64
}

// NewStore creates an unloaded Store addressing the given bucket URL.
func NewStore(client backend.Client, bucketURL string) *Store {
	s := &Store{
		client:    client,
		bucketURL: bucketURL,
		names:     make(map[string]int),
	}
	s.used[0] = 1
	return s
}

// Load fetches the bucket metadata and deserializes the name map. A missing
// metadata key initializes an empty map; a fetch failure surfaces as
// BackendUnreachable.
func (s *Store) Load(ctx context.Context) error {
	rsp, err := s.client.Get(ctx, s.bucketURL)
	if err != nil {
		return drverr.ErrBackendUnreachable.Wrap(err)
	}

	s.names = make(map[string]int)
	s.used = [4]uint64{1}
	s.rev = 0

	meta := rsp.Map("bucketMetadata")
	if meta == nil {
		return nil
	}
	if raw, ok := meta[RevisionKey].(string); ok {
		if rev, err := strconv.ParseInt(raw, 10, 64); err == nil {
			s.rev = rev
		}
	}
	raw, ok := meta[MetadataKey].(string)
	if !ok {
		return nil
	}

	var names map[string]int
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return fmt.Errorf("parsing bucket name map: %w", err)
	}
	for name, lun := range names {
		if lun < MinLUN || lun > MaxLUN {
			return fmt.Errorf("bucket name map entry %q has LUN number %d outside [%d,%d]", name, lun, MinLUN, MaxLUN)
		}
		if s.isUsed(lun) {
			return fmt.Errorf("bucket name map assigns LUN number %d twice", lun)
		}
		s.names[name] = lun
		s.setUsed(lun)
	}
	metrics.LunsInUse.Set(float64(len(s.names)))
	return nil
}

// LookupLUN returns the LUN number mapped to name, or UnknownVolume if the
// name is absent.
func (s *Store) LookupLUN(name string) (int, error) {
	lun, ok := s.names[name]
	if !ok {
		return 0, drverr.ErrUnknownVolume.WithMessage("volume %q is not present in the bucket name map", name)
	}
	return lun, nil
}

// Contains reports whether name is present in the map.
func (s *Store) Contains(name string) bool {
	_, ok := s.names[name]
	return ok
}

// AllocateLUN returns the lowest LUN number not currently in use, or
// LunSpaceExhausted when all 255 numbers are occupied. The number is not
// reserved; callers record it with Put once the backend object exists.
func (s *Store) AllocateLUN() (int, error) {
	for w := 0; w < len(s.used); w++ {
		if inv := ^s.used[w]; inv != 0 {
			return w*64 + bits.TrailingZeros64(inv), nil
		}
	}
	return 0, drverr.ErrLunSpaceExhausted
}

// Put records name -> lun in memory. An existing mapping for name is
// replaced and its old number released. The change is not durable until
// Persist succeeds.
func (s *Store) Put(name string, lun int) {
	if old, ok := s.names[name]; ok {
		s.clearUsed(old)
	}
	s.names[name] = lun
	s.setUsed(lun)
	metrics.LunsInUse.Set(float64(len(s.names)))
}

// Remove drops name from the in-memory map and releases its LUN number.
// The change is not durable until Persist succeeds.
func (s *Store) Remove(name string) {
	if lun, ok := s.names[name]; ok {
		s.clearUsed(lun)
		delete(s.names, name)
	}
	metrics.LunsInUse.Set(float64(len(s.names)))
}

// Persist serializes the whole map and writes it back as the bucket metadata
// value, bumping the revision token. A revision-enforcing cluster rejects
// the write with a conflict when another writer got there first, surfaced as
// StaleNameMap; any other write failure surfaces as BackendUnreachable.
func (s *Store) Persist(ctx context.Context) error {
	data, err := json.Marshal(s.names)
	if err != nil {
		return fmt.Errorf("serializing bucket name map: %w", err)
	}
	_, err = s.client.Put(ctx, s.bucketURL, backend.Params{
		"optionsObject": map[string]any{
			MetadataKey: string(data),
			RevisionKey: strconv.FormatInt(s.rev+1, 10),
		},
	})
	if err != nil {
		if be, ok := err.(*backend.Error); ok && be.IsConflict() {
			return drverr.ErrStaleNameMap.Wrap(err)
		}
		return drverr.ErrBackendUnreachable.Wrap(err)
	}
	s.rev++
	return nil
}

// Len returns the number of mapped volumes.
func (s *Store) Len() int {
	return len(s.names)
}

// Entries returns a copy of the current mapping.
func (s *Store) Entries() map[string]int {
	out := make(map[string]int, len(s.names))
	for name, lun := range s.names {
		out[name] = lun
	}
	return out
}

// Revision returns the revision token of the last loaded or persisted map.
func (s *Store) Revision() int64 {
	return s.rev
}

func (s *Store) isUsed(lun int) bool {
	return s.used[lun/64]&(1<<(uint(lun)%64)) != 0
}

func (s *Store) setUsed(lun int) {
	s.used[lun/64] |= 1 << (uint(lun) % 64)
}

func (s *Store) clearUsed(lun int) {
	s.used[lun/64] &^= 1 << (uint(lun) % 64)
}
