// Package session owns the active picking manifest and serializes every
// mutation of it. All state transitions (select, scan, back, complete)
// run inside one mutex-guarded turn together with the persistence write
// they produce, which makes the single-writer rule structural rather
// than a convention.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/binho-transportes/picking/client"
	"github.com/binho-transportes/picking/manifest"
	"github.com/binho-transportes/picking/repository"
	"github.com/binho-transportes/picking/scanner"
)

var (
	// ErrNoManifest means no shipment is selected.
	ErrNoManifest = errors.New("session: no active manifest")
	// ErrNotReady means completion was requested before every line was done.
	ErrNotReady = errors.New("session: not all lines are complete")
	// ErrCompletionInFlight means a completion request is already outstanding.
	ErrCompletionInFlight = errors.New("session: completion already requested")
)

// Config tunes session behavior.
type Config struct {
	Policy         manifest.Policy
	DebounceWindow time.Duration
}

// CompleteResult reports how a completion ended.
type CompleteResult struct {
	// Queued is true when the submission could not reach the endpoint
	// and was stored for offline replay instead.
	Queued bool
}

// Session is the owning object for one operator's picking state.
type Session struct {
	mu       sync.Mutex
	manifest *manifest.Manifest
	policy   manifest.Policy

	store  *repository.Store
	remote *client.Client
	logger *zap.Logger

	deb        *scanner.Debouncer
	debTimer   *time.Timer
	completing bool
}

// New creates a session. Call Restore before serving any presentation
// request so no deferred-restore state is ever needed.
func New(store *repository.Store, remote *client.Client, logger *zap.Logger, cfg Config) *Session {
	return &Session{
		store:  store,
		remote: remote,
		logger: logger,
		policy: cfg.Policy,
		deb:    scanner.New(cfg.DebounceWindow),
	}
}

// Restore loads persisted progress, honoring the in-picking flag. It
// returns the restored manifest or nil when there is nothing to resume.
func (s *Session) Restore() (*manifest.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.store.LoadProgress()
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, nil
	}
	s.manifest = m
	s.logger.Info("restored picking progress",
		zap.String("ctrc", m.ID), zap.Int("scanned", m.Totals.ScannedTotal))
	return m.Clone(), nil
}

// Select fetches a shipment, makes it the active manifest and arms the
// in-picking flag so a reload mid-picking can restore it.
func (s *Session) Select(ctx context.Context, id string) (*manifest.Manifest, error) {
	m, err := s.remote.FetchCtrc(ctx, id)
	if err != nil {
		return nil, err
	}
	// The endpoint may answer with the placeholder ID; the operator's
	// choice is authoritative.
	m.ID = id

	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifest = m
	s.completing = false
	if err := s.store.SetInPicking(); err != nil {
		return nil, err
	}
	if err := s.store.SaveProgress(m); err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

// Current returns a snapshot of the active manifest, or nil.
func (s *Session) Current() *manifest.Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manifest.Clone()
}

// Scan applies one token to the active manifest. The mutation and its
// persistence write happen in the same turn; a crash in between loses
// at most this one scan, never corrupts the store. NotFound and
// AlreadyComplete leave both the manifest and the store untouched.
func (s *Session) Scan(token string) (manifest.ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.manifest == nil {
		return manifest.ScanResult{}, ErrNoManifest
	}

	res := manifest.ApplyScan(s.manifest, token, s.policy)
	if res.Outcome != manifest.OutcomeApplied {
		return res, nil
	}

	if err := s.store.SaveProgress(s.manifest); err != nil {
		return res, err
	}
	s.logger.Info("scan applied",
		zap.String("token", token),
		zap.String("product", res.Line.Description),
		zap.Int("scanned", res.Line.ScannedQty),
		zap.Int("expected", res.Line.ExpectedQty))
	return res, nil
}

// FeedChar consumes one raw character event from the scanning device.
// Tokens assembled by the debouncer are applied via Scan; the result of
// a timer-emitted token surfaces through the persisted state.
func (s *Session) FeedChar(ch rune) {
	s.mu.Lock()
	now := time.Now()
	token, emitted := s.deb.Feed(ch, now)
	s.armDebounceTimer()
	s.mu.Unlock()

	if emitted {
		s.applyToken(token)
	}
}

// FeedTerminator consumes an explicit terminator key (Enter), flushing
// the pending buffer immediately. Returns the scan result when a token
// was emitted.
func (s *Session) FeedTerminator() (*manifest.ScanResult, error) {
	s.mu.Lock()
	if s.debTimer != nil {
		s.debTimer.Stop()
		s.debTimer = nil
	}
	token, emitted := s.deb.Terminate(time.Now())
	s.mu.Unlock()

	if !emitted {
		return nil, nil
	}
	res, err := s.Scan(token)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// armDebounceTimer schedules a flush at the debouncer deadline. Caller
// must hold s.mu.
func (s *Session) armDebounceTimer() {
	deadline, ok := s.deb.Deadline()
	if !ok {
		return
	}
	if s.debTimer != nil {
		s.debTimer.Stop()
	}
	s.debTimer = time.AfterFunc(time.Until(deadline), s.onDebounceExpired)
}

func (s *Session) onDebounceExpired() {
	s.mu.Lock()
	token, emitted := s.deb.Expire(time.Now())
	s.mu.Unlock()

	if emitted {
		s.applyToken(token)
	}
}

func (s *Session) applyToken(token string) {
	res, err := s.Scan(token)
	if err != nil {
		s.logger.Warn("scan failed", zap.String("token", token), zap.Error(err))
		return
	}
	if res.Outcome != manifest.OutcomeApplied {
		s.logger.Warn("scan rejected",
			zap.String("token", token), zap.String("outcome", string(res.Outcome)))
	}
}

// Back abandons the active manifest: progress and the in-picking flag
// are cleared so the stale manifest can never resurrect after the
// operator chose a different shipment.
func (s *Session) Back() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.manifest = nil
	s.completing = false
	if err := s.store.SaveProgress(nil); err != nil {
		return err
	}
	return s.store.ClearInPicking()
}

// Complete submits the completion event. It is gated on AllDone and
// disarmed the instant it is requested: a second call while the first
// request is outstanding gets ErrCompletionInFlight, so repeated
// invocations never fire a duplicate submit. The network call runs
// outside the lock; further scans during the flight are an accepted
// race. On success or queued submission the session state, progress and
// flag are cleared.
func (s *Session) Complete(ctx context.Context) (CompleteResult, error) {
	s.mu.Lock()
	if s.manifest == nil {
		s.mu.Unlock()
		return CompleteResult{}, ErrNoManifest
	}
	if !s.manifest.AllDone() {
		s.mu.Unlock()
		return CompleteResult{}, ErrNotReady
	}
	if s.completing {
		s.mu.Unlock()
		return CompleteResult{}, ErrCompletionInFlight
	}
	s.completing = true
	snapshot := s.manifest.Clone()
	s.mu.Unlock()

	queued, err := s.remote.Complete(ctx, snapshot)
	if err != nil {
		// Application-level rejection: re-arm so the operator can retry.
		s.mu.Lock()
		s.completing = false
		s.mu.Unlock()
		return CompleteResult{}, err
	}

	// Audited only once the outcome is known; a rejected submit leaves
	// no trace of a completion that never happened.
	if err := s.store.AppendAudit("finalizar_picking", snapshot); err != nil {
		s.logger.Warn("failed to append audit entry", zap.Error(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifest = nil
	s.completing = false
	if err := s.store.SaveProgress(nil); err != nil {
		return CompleteResult{Queued: queued}, err
	}
	if err := s.store.ClearInPicking(); err != nil {
		return CompleteResult{Queued: queued}, err
	}

	if queued {
		s.logger.Info("completion queued for replay", zap.String("ctrc", snapshot.ID))
	} else {
		s.logger.Info("picking completed", zap.String("ctrc", snapshot.ID))
	}
	return CompleteResult{Queued: queued}, nil
}
