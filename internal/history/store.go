// Package history keeps a bounded, most-recent-first cache of past
// analyses in a key/value store.
package history

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/manash/antika/internal/kv"
	"github.com/manash/antika/internal/logging"
	"github.com/manash/antika/pkg/models"
)

const (
	Key        = "antika_ai_history"
	MaxEntries = 12
)

// Store owns the persisted history collection. Read failures degrade to an
// empty history and write failures are logged and dropped; neither is
// returned to the caller.
type Store struct {
	kv    kv.Store
	now   func() time.Time
	newID func() string
	log   *logrus.Entry
}

type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides the entry id source.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

func NewStore(backend kv.Store, opts ...Option) *Store {
	s := &Store{
		kv:    backend,
		now:   time.Now,
		newID: newID,
		log:   logging.Component("history"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newID returns a time-ordered identifier.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// List returns the stored entries, most recently saved first.
func (s *Store) List() []models.HistoryEntry {
	entries, err := s.load()
	if err != nil {
		s.log.WithError(err).Warn("failed to load history")
	}
	return entries
}

// load reads the collection. Corrupt data yields an empty history and no
// error so that the next write replaces it; a backend failure is returned
// so callers can avoid overwriting entries they could not see.
func (s *Store) load() ([]models.HistoryEntry, error) {
	data, ok, err := s.kv.Get(Key)
	if err != nil {
		return []models.HistoryEntry{}, models.StorageError("read history", err)
	}
	if !ok || len(data) == 0 {
		return []models.HistoryEntry{}, nil
	}

	var entries []models.HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.log.WithError(models.StorageError("decode history", err)).Warn("discarding unreadable history")
		return []models.HistoryEntry{}, nil
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	return entries, nil
}

// Save prepends a new entry for record and keeps only the MaxEntries most
// recent ones. The entry is returned even when persisting it failed. Nothing
// is written when the existing history could not be read.
func (s *Store) Save(record models.AnalysisRecord, imageURL string) models.HistoryEntry {
	entry := models.HistoryEntry{
		AnalysisRecord: record,
		ID:             s.newID(),
		ImageURL:       imageURL,
		Timestamp:      s.now().UnixMilli(),
	}

	existing, err := s.load()
	if err != nil {
		s.log.WithError(err).WithField("id", entry.ID).Warn("history unreadable, entry not saved")
		return entry
	}
	entries := append([]models.HistoryEntry{entry}, existing...)
	if len(entries) > MaxEntries {
		entries = entries[:MaxEntries]
	}

	if err := s.write(entries); err != nil {
		s.log.WithError(err).WithField("id", entry.ID).Warn("failed to save history entry; storage may be full")
	}
	return entry
}

// Remove deletes the entry with id and returns the resulting history.
// Removing an unknown id leaves the history unchanged.
func (s *Store) Remove(id string) []models.HistoryEntry {
	entries, err := s.load()
	if err != nil {
		s.log.WithError(err).WithField("id", id).Warn("history unreadable, nothing removed")
		return entries
	}
	kept := make([]models.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		if e.ID != id {
			kept = append(kept, e)
		}
	}

	if err := s.write(kept); err != nil {
		s.log.WithError(err).WithField("id", id).Warn("failed to persist history after delete")
	}
	return kept
}

// Clear deletes the whole collection.
func (s *Store) Clear() {
	if err := s.kv.Delete(Key); err != nil {
		s.log.WithError(models.StorageError("clear history", err)).Warn("failed to clear history")
	}
}

// Find resolves ref against entries: an exact id, then a unique id prefix,
// then a 1-based position in the list. Ids win over positions because short
// ids may be all digits.
func Find(entries []models.HistoryEntry, ref string) (models.HistoryEntry, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return models.HistoryEntry{}, models.ValidationError("no history entry given")
	}

	var found []models.HistoryEntry
	for _, e := range entries {
		if e.ID == ref {
			return e, nil
		}
		if strings.HasPrefix(e.ID, ref) {
			found = append(found, e)
		}
	}
	if len(found) == 1 {
		return found[0], nil
	}

	n, err := strconv.Atoi(ref)
	isPosition := err == nil
	if isPosition && n >= 1 && n <= len(entries) {
		return entries[n-1], nil
	}

	switch {
	case len(found) > 1:
		return models.HistoryEntry{}, models.ValidationError(
			fmt.Sprintf("id prefix %s matches %d entries", ref, len(found)))
	case isPosition:
		return models.HistoryEntry{}, models.ValidationError(
			fmt.Sprintf("no history entry %d (%d saved)", n, len(entries)))
	default:
		return models.HistoryEntry{}, models.ValidationError("no history entry " + ref)
	}
}

func (s *Store) write(entries []models.HistoryEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return models.StorageError("encode history", err)
	}
	if err := s.kv.Set(Key, data); err != nil {
		return models.StorageError("write history", err)
	}
	return nil
}
