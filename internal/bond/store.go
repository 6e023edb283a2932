// Package bond persists bonded peers for the base station. Changes are
// flushed to disk asynchronously; Pending reports flushes in flight and the
// notify callback reports each completion.
package bond

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/chaz8081/basestation/internal/bond/crypto"
	"github.com/chaz8081/basestation/internal/central"
)

// MaxWhitelist is the number of addresses the controller whitelist holds.
const MaxWhitelist = 8

var (
	magicPlain  = []byte("BSB0")
	magicSealed = []byte("BSB1")
)

// ErrLocked is returned when the bond file is sealed and no secret was given.
var ErrLocked = errors.New("bond: file is sealed, secret required")

// Store holds bonded peers keyed by address.
type Store struct {
	path   string
	key    []byte // nil: file written unsealed
	notify func(error)

	mu      sync.Mutex
	records map[string]Record

	flushMu sync.Mutex
	pending atomic.Int32
	wg      sync.WaitGroup
}

// Open loads the bond file at path, creating an empty store if it does not
// exist. A non-empty secret seals the file. notify, if non-nil, is called
// from a background goroutine after every flush.
func Open(path string, secret []byte, notify func(error)) (*Store, error) {
	s := &Store{
		path:    path,
		notify:  notify,
		records: make(map[string]Record),
	}
	if len(secret) > 0 {
		key, err := crypto.DeriveKey(secret)
		if err != nil {
			return nil, fmt.Errorf("bond: %w", err)
		}
		s.key = key
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bond: read %s: %w", path, err)
	}
	records, err := s.decode(data)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		s.records[normalize(r.Address)] = r
	}
	slog.Debug("[BOND] loaded bonds", "path", path, "count", len(s.records))
	return s, nil
}

// Whitelist returns up to MaxWhitelist bonded addresses in sorted order.
func (s *Store) Whitelist() ([]central.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	addrs := make([]central.Address, 0, len(s.records))
	for _, r := range s.records {
		addrs = append(addrs, central.Address(r.Address))
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	if len(addrs) > MaxWhitelist {
		addrs = addrs[:MaxWhitelist]
	}
	return addrs, nil
}

// Pending returns the number of flushes in flight.
func (s *Store) Pending() (int, error) {
	return int(s.pending.Load()), nil
}

// Lookup returns the bond for addr.
func (s *Store) Lookup(addr string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[normalize(addr)]
	return r, ok
}

// List returns all bonds sorted by address.
func (s *Store) List() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked()
}

// Save adds or replaces a bond and schedules a flush.
func (s *Store) Save(r Record) {
	s.mu.Lock()
	s.records[normalize(r.Address)] = r
	s.mu.Unlock()
	s.flush()
}

// Delete removes the bond for addr and schedules a flush. It reports whether
// a bond was removed.
func (s *Store) Delete(addr string) bool {
	s.mu.Lock()
	_, ok := s.records[normalize(addr)]
	delete(s.records, normalize(addr))
	s.mu.Unlock()
	if ok {
		s.flush()
	}
	return ok
}

// Erase removes all bonds and schedules a flush.
func (s *Store) Erase() {
	s.mu.Lock()
	n := len(s.records)
	s.records = make(map[string]Record)
	s.mu.Unlock()
	slog.Info("[BOND] erasing bonds", "count", n)
	s.flush()
}

// Wait blocks until every scheduled flush has completed.
func (s *Store) Wait() {
	s.wg.Wait()
}

func (s *Store) flush() {
	s.pending.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.flushMu.Lock()
		err := s.write()
		s.flushMu.Unlock()
		if err != nil {
			slog.Error("[BOND] flush failed", "path", s.path, "error", err)
		}

		s.pending.Add(-1)
		if s.notify != nil {
			s.notify(err)
		}
	}()
}

// write snapshots the current records and replaces the file atomically.
func (s *Store) write() error {
	s.mu.Lock()
	body := marshalRecords(s.sortedLocked())
	s.mu.Unlock()

	data, err := s.encode(body)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("bond: create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".bonds-*")
	if err != nil {
		return fmt.Errorf("bond: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("bond: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("bond: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("bond: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("bond: rename: %w", err)
	}
	return nil
}

func (s *Store) encode(body []byte) ([]byte, error) {
	if s.key == nil {
		return append(bytes.Clone(magicPlain), body...), nil
	}
	sealed, err := crypto.Seal(s.key, body, magicSealed)
	if err != nil {
		return nil, fmt.Errorf("bond: %w", err)
	}
	return append(bytes.Clone(magicSealed), sealed...), nil
}

func (s *Store) decode(data []byte) ([]Record, error) {
	switch {
	case bytes.HasPrefix(data, magicPlain):
		return unmarshalRecords(data[len(magicPlain):])
	case bytes.HasPrefix(data, magicSealed):
		if s.key == nil {
			return nil, ErrLocked
		}
		body, err := crypto.Open(s.key, data[len(magicSealed):], magicSealed)
		if err != nil {
			return nil, fmt.Errorf("bond: %w", err)
		}
		return unmarshalRecords(body)
	default:
		return nil, fmt.Errorf("bond: %s is not a bond file", s.path)
	}
}

func (s *Store) sortedLocked() []Record {
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

func normalize(addr string) string {
	return strings.ToUpper(addr)
}

// HandleStorageEvent logs flush completions as the central sees them.
func (s *Store) HandleStorageEvent(ev central.StorageEvent) {
	slog.Debug("[BOND] flush complete", "pending", s.pending.Load(), "error", ev.Err)
}
