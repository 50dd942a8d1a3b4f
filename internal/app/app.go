// Package app holds the screen state of an appraisal session: which image
// is being analyzed, which report is shown and whether the history panel
// is open.
package app

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/manash/antika/internal/image"
	"github.com/manash/antika/internal/logging"
	"github.com/manash/antika/internal/provider"
	"github.com/manash/antika/pkg/models"
)

// ErrBusy is returned by SelectImage while an analysis is in flight.
var ErrBusy = errors.New("an analysis is already running")

// History is the persistence the state machine needs.
type History interface {
	List() []models.HistoryEntry
	Save(record models.AnalysisRecord, imageURL string) models.HistoryEntry
	Remove(id string) []models.HistoryEntry
	Clear()
}

// Mode is the primary state.
type Mode int

const (
	Browsing Mode = iota
	Analyzing
	Viewing
	Failed
)

func (m Mode) String() string {
	switch m {
	case Browsing:
		return "idle"
	case Analyzing:
		return "analyzing"
	case Viewing:
		return "success"
	case Failed:
		return "error"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable copy of the state. Record, ImageURL and Error
// are only meaningful in the modes that carry them.
type Snapshot struct {
	Mode        Mode
	ImageURL    string
	Record      *models.AnalysisRecord
	EntryID     string
	Error       string
	Notice      string
	HistoryOpen bool
	History     []models.HistoryEntry
	LastResult  *models.AnalysisResult
}

type App struct {
	analyzer provider.Analyzer
	history  History
	maxSize  int64
	log      *logrus.Entry

	mu         sync.Mutex
	state      Snapshot
	generation uint64
	observers  []func(Snapshot)
}

// New builds the state machine and loads the history list. A nil analyzer
// means no credential is configured: analysis then fails with the missing
// key message while history browsing keeps working.
func New(analyzer provider.Analyzer, history History, maxImageSize int64) *App {
	if maxImageSize <= 0 {
		maxImageSize = models.DefaultMaxImageSize
	}
	a := &App{
		analyzer: analyzer,
		history:  history,
		maxSize:  maxImageSize,
		log:      logging.Component("app"),
	}
	a.state.History = history.List()
	return a
}

// OnChange registers fn to receive every new snapshot. fn runs on the
// goroutine that caused the change, after the lock is released.
func (a *App) OnChange(fn func(Snapshot)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observers = append(a.observers, fn)
}

func (a *App) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.copy()
}

// SelectImage analyzes img. Oversize images are refused without leaving the
// current state. The outcome is applied only if no Reset or history
// selection happened while the analyzer was running.
func (a *App) SelectImage(ctx context.Context, img *image.Image) error {
	a.mu.Lock()
	if a.state.Mode == Analyzing {
		a.mu.Unlock()
		return ErrBusy
	}
	if img.Size > a.maxSize {
		err := models.ImageTooLarge(img.Size, a.maxSize)
		a.state.Notice = models.UserMessage(err)
		a.commitLocked()
		return err
	}

	a.generation++
	gen := a.generation
	a.state.Mode = Analyzing
	a.state.ImageURL = img.DataURL
	a.state.Record = nil
	a.state.EntryID = ""
	a.state.Error = ""
	a.state.Notice = ""
	a.state.HistoryOpen = false
	a.state.LastResult = nil
	a.commitLocked()

	var (
		result *models.AnalysisResult
		err    error
	)
	if a.analyzer == nil {
		err = models.ConfigurationError(provider.MissingKeyMessage, provider.ErrAPIKeyRequired)
	} else {
		result, err = a.analyzer.Analyze(ctx, img.DataURL)
	}

	a.mu.Lock()
	if gen != a.generation {
		a.mu.Unlock()
		a.log.WithField("generation", gen).Debug("discarding stale analysis result")
		return nil
	}

	if err != nil {
		a.log.WithError(err).Warn("analysis failed")
		a.state.Mode = Failed
		a.state.Error = models.UserMessage(err)
		a.commitLocked()
		return err
	}

	// Write failures are logged by the store.
	entry := a.history.Save(*result.Record, img.DataURL)
	a.state.Mode = Viewing
	a.state.Record = result.Record
	a.state.EntryID = entry.ID
	a.state.LastResult = result
	a.state.History = a.history.List()
	a.commitLocked()
	return nil
}

// Reset returns to the empty screen from any state. An analysis still in
// flight is discarded when it completes.
func (a *App) Reset() {
	a.mu.Lock()
	a.generation++
	a.state.Mode = Browsing
	a.state.ImageURL = ""
	a.state.Record = nil
	a.state.EntryID = ""
	a.state.Error = ""
	a.state.Notice = ""
	a.state.HistoryOpen = false
	a.state.LastResult = nil
	a.commitLocked()
}

// SelectHistory shows a saved entry without contacting the analysis
// service.
func (a *App) SelectHistory(id string) error {
	a.mu.Lock()
	var entry *models.HistoryEntry
	for i := range a.state.History {
		if a.state.History[i].ID == id {
			entry = &a.state.History[i]
			break
		}
	}
	if entry == nil {
		a.mu.Unlock()
		return models.ValidationError("no history entry " + id)
	}

	record := entry.AnalysisRecord
	a.generation++
	a.state.Mode = Viewing
	a.state.Record = &record
	a.state.ImageURL = entry.ImageURL
	a.state.EntryID = entry.ID
	a.state.Error = ""
	a.state.Notice = ""
	a.state.HistoryOpen = false
	a.state.LastResult = nil
	a.commitLocked()
	return nil
}

// ToggleHistory opens or closes the history panel and leaves the primary
// state alone.
func (a *App) ToggleHistory() {
	a.mu.Lock()
	a.state.HistoryOpen = !a.state.HistoryOpen
	a.commitLocked()
}

// DeleteHistory removes one entry. The report on screen is kept even if it
// came from that entry.
func (a *App) DeleteHistory(id string) {
	a.mu.Lock()
	a.state.History = a.history.Remove(id)
	a.commitLocked()
}

func (a *App) ClearHistory() {
	a.mu.Lock()
	a.history.Clear()
	a.state.History = nil
	a.commitLocked()
}

// commitLocked publishes the current state and releases the lock.
func (a *App) commitLocked() {
	snap := a.state.copy()
	observers := slices.Clone(a.observers)
	a.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}

func (s Snapshot) copy() Snapshot {
	c := s
	if s.Record != nil {
		r := *s.Record
		c.Record = &r
	}
	c.History = append([]models.HistoryEntry(nil), s.History...)
	return c
}
