// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Devanshjoshi2804/mentornet/internal/logging"
	"github.com/Devanshjoshi2804/mentornet/internal/metrics"
	"github.com/Devanshjoshi2804/mentornet/internal/progress"
)

// Service is the authoritative Ledger. It validates writes, merges them
// monotonically inside a store transaction and publishes events for
// committed changes.
type Service struct {
	store            Store
	publisher        Publisher
	now              func() time.Time
	defaultThreshold int
	logger           zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the event sink.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithDefaultThreshold sets the threshold used for modules registered
// without one.
func WithDefaultThreshold(pct int) Option {
	return func(s *Service) {
		if pct > 0 && pct <= 100 {
			s.defaultThreshold = pct
		}
	}
}

// NewService creates a ledger service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:            store,
		now:              time.Now,
		defaultThreshold: DefaultCompletionThreshold,
		logger:           logging.WithComponent("ledger"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Ledger = (*Service)(nil)

// RegisterModule adds or replaces a catalog entry.
func (s *Service) RegisterModule(ctx context.Context, m Module) (Module, error) {
	if m.CourseID == "" || m.ModuleID == "" {
		return Module{}, fmt.Errorf("%w: course and module ids are required", ErrInvalidRequest)
	}
	if m.Duration <= 0 {
		return Module{}, fmt.Errorf("%w: module duration must be positive", ErrInvalidRequest)
	}
	if m.CompletionThreshold == 0 {
		m.CompletionThreshold = s.defaultThreshold
	}
	if m.CompletionThreshold < 1 || m.CompletionThreshold > 100 {
		return Module{}, fmt.Errorf("%w: completion threshold must be within 1..100", ErrInvalidRequest)
	}

	start := time.Now()
	err := s.store.PutModule(ctx, m)
	s.record("register_module", start, err)
	if err != nil {
		return Module{}, s.classify(err)
	}
	s.logger.Info().
		Str("course_id", m.CourseID).
		Str("module_id", m.ModuleID).
		Dur("duration", m.Duration).
		Int("threshold", m.CompletionThreshold).
		Msg("Module registered")
	return m, nil
}

// Modules lists the catalog entries of a course.
func (s *Service) Modules(ctx context.Context, courseID string) ([]Module, error) {
	if courseID == "" {
		return nil, fmt.Errorf("%w: course id is required", ErrInvalidRequest)
	}
	mods, err := s.store.ListModules(ctx, courseID)
	if err != nil {
		return nil, s.classify(err)
	}
	return mods, nil
}

// Module returns one catalog entry.
func (s *Service) Module(ctx context.Context, courseID, moduleID string) (Module, error) {
	m, err := s.store.GetModule(ctx, courseID, moduleID)
	if errors.Is(err, ErrNotFound) {
		return Module{}, ErrUnknownModule
	}
	if err != nil {
		return Module{}, s.classify(err)
	}
	if m.CompletionThreshold == 0 {
		m.CompletionThreshold = s.defaultThreshold
	}
	return m, nil
}

// TrackProgress merges one segment. Play segments are clipped to the module
// duration and unioned into the covered set; skip segments only raise the
// seek count. The returned record is the merged state.
func (s *Service) TrackProgress(ctx context.Context, req TrackRequest) (ProgressRecord, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		s.record("track_progress", start, err)
		return ProgressRecord{}, err
	}
	mod, err := s.Module(ctx, req.CourseID, req.ModuleID)
	if err != nil {
		s.record("track_progress", start, err)
		return ProgressRecord{}, err
	}

	now := s.now().UTC()
	ts := req.Timestamp
	if ts.IsZero() {
		ts = now
	}

	rec, changed, err := s.store.UpdateRecord(ctx, req.Key, func(rec *ProgressRecord) (bool, error) {
		return mergeTrack(rec, req, mod, ts, now), nil
	})
	if err != nil {
		s.record("track_progress", start, err)
		return ProgressRecord{}, s.classify(err)
	}
	if !changed {
		s.record("track_progress", start, errNoop)
		return rec, nil
	}
	s.record("track_progress", start, nil)

	snapshot := rec.Clone()
	s.publish(ctx, newEvent(EventProgressUpdated, req.LearnerID, req.CourseID, req.ModuleID, now, &snapshot))
	return rec, nil
}

// mergeTrack applies a track request to rec and reports whether anything
// moved. Nothing here ever lowers a field.
func mergeTrack(rec *ProgressRecord, req TrackRequest, mod Module, ts, now time.Time) bool {
	changed := !rec.Registered

	set := progress.NewIntervalSet(rec.Intervals...)
	if !req.IsSkip {
		iv := progress.Interval{Start: req.SegmentStart, End: min(req.SegmentEnd, mod.Duration)}
		if !iv.Empty() && set.Add(iv) > 0 {
			changed = true
		}
	}
	if req.SeekCount > rec.SeekCount {
		rec.SeekCount = req.SeekCount
		changed = true
	}
	if mod.Duration != rec.ModuleDuration {
		rec.ModuleDuration = mod.Duration
		changed = true
	}
	if !changed {
		return false
	}

	rec.Intervals = set.Intervals()
	rec.WatchedDuration = max(rec.WatchedDuration, set.Total())
	rec.WatchPercentage = max(rec.WatchPercentage, progress.Percentage(rec.WatchedDuration, mod.Duration))
	if ts.After(rec.LastTimestamp) {
		rec.LastTimestamp = ts.UTC()
	}
	rec.UpdatedAt = now
	return true
}

// CompleteModule marks a module completed once its recorded percentage has
// reached the module threshold. Repeated calls are no-ops and publish
// nothing.
func (s *Service) CompleteModule(ctx context.Context, key Key) error {
	start := time.Now()
	if err := key.Validate(); err != nil {
		s.record("complete_module", start, err)
		return err
	}
	mod, err := s.Module(ctx, key.CourseID, key.ModuleID)
	if err != nil {
		s.record("complete_module", start, err)
		return err
	}

	now := s.now().UTC()
	rec, changed, err := s.store.UpdateRecord(ctx, key, func(rec *ProgressRecord) (bool, error) {
		if rec.Completed {
			return false, nil
		}
		if rec.WatchPercentage < mod.CompletionThreshold {
			return false, fmt.Errorf("%w: watched %d%%, need %d%%",
				ErrThresholdNotMet, rec.WatchPercentage, mod.CompletionThreshold)
		}
		rec.Completed = true
		rec.CompletedAt = now
		rec.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		s.record("complete_module", start, err)
		return s.classify(err)
	}

	if changed {
		s.record("complete_module", start, nil)
		s.logger.Info().
			Str("learner_id", key.LearnerID).
			Str("course_id", key.CourseID).
			Str("module_id", key.ModuleID).
			Int("watch_percentage", rec.WatchPercentage).
			Msg("Module completed")
		snapshot := rec.Clone()
		s.publish(ctx, newEvent(EventModuleCompleted, key.LearnerID, key.CourseID, key.ModuleID, now, &snapshot))
	} else {
		s.record("complete_module", start, errNoop)
	}

	// Re-checked on no-op completions as well so a course completion that
	// failed to commit earlier is picked up by the next caller.
	s.checkCourse(ctx, key.LearnerID, key.CourseID, now)
	return nil
}

// checkCourse emits CourseCompleted once every catalogued module of the
// course is completed. Failures are logged; the module completion stands.
func (s *Service) checkCourse(ctx context.Context, learnerID, courseID string, now time.Time) {
	mods, err := s.store.ListModules(ctx, courseID)
	if err != nil || len(mods) == 0 {
		if err != nil {
			s.logger.Warn().Err(err).Str("course_id", courseID).Msg("Course completion check failed")
		}
		return
	}
	done, err := s.store.ListCompleted(ctx, learnerID, courseID)
	if err != nil {
		s.logger.Warn().Err(err).Str("course_id", courseID).Msg("Course completion check failed")
		return
	}
	completed := make(map[string]struct{}, len(done))
	for _, id := range done {
		completed[id] = struct{}{}
	}
	for _, m := range mods {
		if _, ok := completed[m.ModuleID]; !ok {
			return
		}
	}

	first, err := s.store.MarkCourseCompleted(ctx, learnerID, courseID, now)
	if err != nil {
		s.logger.Warn().Err(err).Str("course_id", courseID).Msg("Failed to record course completion")
		return
	}
	if !first {
		return
	}
	s.logger.Info().Str("learner_id", learnerID).Str("course_id", courseID).Msg("Course completed")
	s.publish(ctx, newEvent(EventCourseCompleted, learnerID, courseID, "", now, nil))
}

// GetProgress returns the record for key. A never-written record comes back
// with Registered false and the catalogued module duration.
func (s *Service) GetProgress(ctx context.Context, key Key) (ProgressRecord, error) {
	start := time.Now()
	if err := key.Validate(); err != nil {
		return ProgressRecord{}, err
	}
	mod, err := s.Module(ctx, key.CourseID, key.ModuleID)
	if err != nil {
		s.record("get_progress", start, err)
		return ProgressRecord{}, err
	}
	rec, err := s.store.GetRecord(ctx, key)
	if errors.Is(err, ErrNotFound) {
		s.record("get_progress", start, nil)
		return ProgressRecord{Key: key, ModuleDuration: mod.Duration}, nil
	}
	s.record("get_progress", start, err)
	if err != nil {
		return ProgressRecord{}, s.classify(err)
	}
	return rec, nil
}

// IsModuleCompleted reports the one-way completion flag.
func (s *Service) IsModuleCompleted(ctx context.Context, key Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	rec, err := s.store.GetRecord(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, s.classify(err)
	}
	return rec.Completed, nil
}

func (s *Service) publish(ctx context.Context, e Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		metrics.LedgerEventPublishErrors.WithLabelValues(string(e.Type), s.publisher.Name()).Inc()
		s.logger.Warn().Err(err).Str("event_type", string(e.Type)).Str("event_id", e.ID).Msg("Event publish failed")
		return
	}
	metrics.LedgerEventsPublished.WithLabelValues(string(e.Type), s.publisher.Name()).Inc()
}

var errNoop = errors.New("noop")

// classify maps store failures to ErrUnavailable while passing domain
// errors through untouched.
func (s *Service) classify(err error) error {
	switch {
	case errors.Is(err, ErrRejected), errors.Is(err, ErrThresholdNotMet), errors.Is(err, ErrUnavailable):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	default:
		s.logger.Error().Err(err).Str("store", s.store.Name()).Msg("Ledger store failure")
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}

func (s *Service) record(op string, start time.Time, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, errNoop):
		result = "noop"
	case errors.Is(err, ErrRejected), errors.Is(err, ErrThresholdNotMet):
		result = "rejected"
	default:
		result = "error"
	}
	metrics.RecordLedgerOperation(op, s.store.Name(), result, time.Since(start))
}
