package store

import (
	"encoding/hex"
	"io"
	"sync"

	"github.com/zeebo/blake3"
)

type cacheEntry struct {
	Size    int64
	ModTime int64
	Hash    string
}

type digestCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

func newDigestCache() *digestCache {
	return &digestCache{entries: make(map[string]cacheEntry)}
}

func (c *digestCache) forget(local string) {
	c.mu.Lock()
	delete(c.entries, local)
	c.mu.Unlock()
}

// Digest returns the hex BLAKE3 hash of name. Results are cached until
// the file's size or modification time changes.
func (s *Store) Digest(name string) (string, error) {
	local, info, err := s.stat(name)
	if err != nil {
		return "", err
	}

	s.digests.mu.RLock()
	entry, ok := s.digests.entries[local]
	s.digests.mu.RUnlock()

	if ok && entry.Size == info.Size() && entry.ModTime == info.ModTime().UnixNano() {
		return entry.Hash, nil
	}

	hash, err := s.hashFile(local)
	if err != nil {
		return "", err
	}
	s.digests.mu.Lock()
	s.digests.entries[local] = cacheEntry{
		Size:    info.Size(),
		ModTime: info.ModTime().UnixNano(),
		Hash:    hash,
	}
	s.digests.mu.Unlock()
	return hash, nil
}

func (s *Store) hashFile(local string) (string, error) {
	file, err := s.root.Open(local)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
