package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/nathanfiscus/zigbee-herdsman/pkg/codec"
)

// fileStore keeps the registry in memory and rewrites a CBOR snapshot on
// every mutation. Writes go through a temp file and rename so a crash never
// leaves a torn snapshot behind.
type fileStore struct {
	path  string
	codec codec.Codec

	mu      sync.Mutex
	devices map[uint64]DeviceRecord
}

type snapshot struct {
	Version int            `cbor:"1,keyasint"`
	Devices []DeviceRecord `cbor:"2,keyasint"`
}

const snapshotVersion = 1

// OpenFile opens (or creates) a snapshot-file store.
func OpenFile(path string) (Store, error) {
	if path == "" {
		return nil, fmt.Errorf("snapshot path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	s := &fileStore{
		path:    path,
		codec:   codec.NewRegistry().Get(codec.ContentCBOR),
		devices: make(map[uint64]DeviceRecord),
	}
	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// fresh store
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	default:
		var snap snapshot
		if err := s.codec.Unmarshal(raw, &snap); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		for _, rec := range snap.Devices {
			s.devices[rec.IEEE] = rec
		}
	}
	zap.L().Info("device store opened",
		zap.String("backend", "file"),
		zap.String("path", path),
		zap.Int("devices", len(s.devices)))
	return s, nil
}

func (s *fileStore) Upsert(rec DeviceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[rec.IEEE] = rec
	return s.persist()
}

func (s *fileStore) Get(ieee uint64) (DeviceRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.devices[ieee]
	return rec, ok, nil
}

func (s *fileStore) Delete(ieee uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[ieee]; !ok {
		return nil
	}
	delete(s.devices, ieee)
	return s.persist()
}

func (s *fileStore) List() ([]DeviceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(), nil
}

func (s *fileStore) Close() error { return nil }

// sorted snapshots the map ordered by address. Callers hold s.mu.
func (s *fileStore) sorted() []DeviceRecord {
	out := make([]DeviceRecord, 0, len(s.devices))
	for _, rec := range s.devices {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IEEE < out[j].IEEE })
	return out
}

// persist rewrites the snapshot. Callers hold s.mu.
func (s *fileStore) persist() error {
	raw, err := s.codec.Marshal(snapshot{Version: snapshotVersion, Devices: s.sorted()})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".devices-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
