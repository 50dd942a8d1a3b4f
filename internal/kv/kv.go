// Package kv provides small string-keyed byte stores used to persist local
// application state.
package kv

import "errors"

// Store is a synchronous key/value capability. Get reports a missing key
// with ok=false and a nil error.
type Store interface {
	Get(key string) (value []byte, ok bool, err error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// Open selects a backend by name. The path is ignored by the memory backend.
func Open(backend, path string) (Store, func() error, error) {
	switch backend {
	case "", "sqlite":
		s, err := NewSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "bolt":
		s, err := NewBolt(path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "memory":
		return NewMemory(), func() error { return nil }, nil
	default:
		return nil, nil, errors.New("unknown history backend " + backend + ": use sqlite, bolt or memory")
	}
}
