package resptest

import (
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Update reports a key that was written or deleted.
type Update struct {
	Key     string
	Deleted bool
}

// Store is the server's keyspace: a JSON document of string values.
type Store struct {
	mu     sync.Mutex
	values []byte

	updateChans []chan *Update
	closed      bool
}

func NewStore() *Store {
	return &Store{values: []byte("{}")}
}

func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := sjson.SetBytes(s.values, escapeKey(key), value)
	if err != nil {
		return err
	}
	s.values = values

	s.notify(&Update{Key: key})
	return nil
}

// Get returns the value of key and whether it exists.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := gjson.GetBytes(s.values, escapeKey(key))
	return result.String(), result.Exists()
}

// Del deletes key, reporting whether it existed.
func (s *Store) Del(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !gjson.GetBytes(s.values, escapeKey(key)).Exists() {
		return false, nil
	}

	values, err := sjson.DeleteBytes(s.values, escapeKey(key))
	if err != nil {
		return false, err
	}
	s.values = values

	s.notify(&Update{Key: key, Deleted: true})
	return true, nil
}

// Restore replaces the keyspace with a JSON object.
func (s *Store) Restore(values []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values = append([]byte(nil), values...)
}

// Backup returns the keyspace as a JSON object.
func (s *Store) Backup() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]byte(nil), s.values...)
}

// ListenToUpdates returns a channel receiving every later write. Updates
// are dropped for listeners that fall behind.
func (s *Store) ListenToUpdates() <-chan *Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	updateChan := make(chan *Update, 255)
	if s.closed {
		close(updateChan)
		return updateChan
	}

	s.updateChans = append(s.updateChans, updateChan)
	return updateChan
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, updateChan := range s.updateChans {
		close(updateChan)
	}
	s.updateChans = nil

	return nil
}

func (s *Store) notify(u *Update) {
	for _, updateChan := range s.updateChans {
		select {
		case updateChan <- u:
		default:
		}
	}
}

// escapeKey escapes the characters gjson and sjson treat as path syntax.
func escapeKey(key string) string {
	var sb strings.Builder
	for _, c := range key {
		switch c {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%':
			sb.WriteByte('\\')
		}
		sb.WriteRune(c)
	}
	return sb.String()
}
