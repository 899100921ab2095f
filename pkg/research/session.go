// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package research

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Phase is the lifecycle state of a Session.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// errEmptyResult is reported when the researcher returns neither a result
// nor an error.
var errEmptyResult = errors.New("research backend returned an empty result")

// Schedule is the timing of the stage animation.
//
// The backend answers a research request in one response, so stage progress
// shown while the request is in flight is presentational only. Each stage is
// active for Dwell, then completed, then the display holds for Settle before
// the next stage starts. If the backend ever streams per-stage events the
// animation should be driven by those events instead of this schedule.
type Schedule struct {
	Dwell  time.Duration `yaml:"dwell"`
	Settle time.Duration `yaml:"settle"`
}

// DefaultSchedule is 1.2s active and 0.3s settle per stage.
func DefaultSchedule() Schedule {
	return Schedule{Dwell: 1200 * time.Millisecond, Settle: 300 * time.Millisecond}
}

// SessionState is an immutable snapshot of a Session.
type SessionState struct {
	Phase    Phase
	Question string
	Running  bool
	Stages   []Stage
	Result   *ResearchResult
	Err      error
}

// StageByID returns the stage with the given id.
func (s SessionState) StageByID(id StageID) (Stage, bool) {
	for _, st := range s.Stages {
		if st.ID == id {
			return st, true
		}
	}
	return Stage{}, false
}

// ActiveStage returns the stage currently marked active, if any.
func (s SessionState) ActiveStage() (Stage, bool) {
	for _, st := range s.Stages {
		if st.Status == StatusActive {
			return st, true
		}
	}
	return Stage{}, false
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSchedule overrides the stage animation timing.
func WithSchedule(schedule Schedule) SessionOption {
	return func(s *Session) {
		s.schedule = schedule
	}
}

// WithObserver registers a callback invoked after every state change.
//
// The callback runs on the goroutine that made the change and must not call
// back into Submit.
func WithObserver(fn func(SessionState)) SessionOption {
	return func(s *Session) {
		s.onChange = fn
	}
}

// WithFailureHandler registers a callback invoked once when a run fails.
func WithFailureHandler(fn func(error)) SessionOption {
	return func(s *Session) {
		s.onFailure = fn
	}
}

// WithSessionLogger sets the logger. Defaults to slog.Default().
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Session is the research submission and progress state machine.
//
// # Description
//
// A Session moves idle → running → completed|failed and back to running on
// every accepted submission. Each submission issues exactly one research
// call. The call and the stage animation run concurrently; the final stage
// waits for the response before it completes, earlier stages only carry
// latency and score if the response was already in when they completed.
//
// A failed call stops the animation where it is, leaves Result nil and keeps
// the question so it can be retried.
//
// # Thread Safety
//
// Safe for concurrent use. Every state change produces a new SessionState
// under the mutex; continuations that arrive after Close are dropped.
type Session struct {
	api       Researcher
	schedule  Schedule
	logger    *slog.Logger
	onChange  func(SessionState)
	onFailure func(error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	state  SessionState
	closed bool
}

// NewSession creates an idle session that submits through api.
func NewSession(api Researcher, opts ...SessionOption) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		api:      api,
		schedule: DefaultSchedule(),
		logger:   slog.Default(),
		ctx:      ctx,
		cancel:   cancel,
		state: SessionState{
			Phase:  PhaseIdle,
			Stages: DefaultStages(),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit starts a research run for question.
//
// # Inputs
//
//   - ctx: Cancels the run when done. The run also ends on Close.
//   - question: Must be non-blank after trimming.
//   - req: Attached document ids and options. Question is overwritten.
//
// # Outputs
//
//   - error: ErrEmptyQuestion, ErrAlreadyRunning (the call is a no-op) or
//     ErrClosed. Nil means the run was accepted; its outcome is reported
//     through the observer, the failure handler and Snapshot.
func (s *Session) Submit(ctx context.Context, question string, req Request) error {
	trimmed := strings.TrimSpace(question)
	if trimmed == "" {
		return ErrEmptyQuestion
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state.Running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.state = SessionState{
		Phase:    PhaseRunning,
		Question: question,
		Running:  true,
		Stages:   DefaultStages(),
	}
	snap := s.state
	s.wg.Add(1)
	s.mu.Unlock()

	s.notify(snap)

	req.Question = trimmed
	runCtx, cancel := linkContext(s.ctx, ctx)
	go s.run(runCtx, cancel, req)
	return nil
}

// Snapshot returns the current state.
func (s *Session) Snapshot() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Running reports whether a run is in flight.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Running
}

// Wait blocks until no run is in flight.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Close tears the session down. The in-flight call is cancelled, animation
// timers stop and any later result is ignored. Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
}

// ===== Run =====

func (s *Session) run(ctx context.Context, cancel context.CancelFunc, req Request) {
	defer s.wg.Done()
	defer cancel()

	var result *ResearchResult
	done := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(done)
		res, err := s.api.Research(ctx, req)
		if err != nil {
			return err
		}
		if res == nil {
			return errEmptyResult
		}
		result = res
		return nil
	})
	g.Go(func() error {
		return s.animate(gctx, done, &result)
	})

	err := g.Wait()
	s.finish(req.Question, result, err)
}

// animate walks the stages on the schedule. result may only be read after
// done is closed.
func (s *Session) animate(ctx context.Context, done <-chan struct{}, result **ResearchResult) error {
	stages := DefaultStages()
	for i := range stages {
		s.update(func(st *SessionState) {
			st.Stages[i].Status = StatusActive
		})

		if err := sleep(ctx, s.schedule.Dwell); err != nil {
			return err
		}

		var res *ResearchResult
		if i == len(stages)-1 {
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		select {
		case <-done:
			res = *result
			if res == nil {
				// The call failed; the group reports its error.
				return nil
			}
		default:
		}

		s.update(func(st *SessionState) {
			completeStage(&st.Stages[i], res)
		})

		if err := sleep(ctx, s.schedule.Settle); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) finish(question string, result *ResearchResult, err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Debug("Dropping research outcome after close", "question", question)
		return
	}
	next := s.state
	next.Running = false
	if err != nil {
		next.Phase = PhaseFailed
		next.Result = nil
		next.Err = err
	} else {
		next.Phase = PhaseCompleted
		next.Result = result
	}
	s.state = next
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Research failed", "question", question, "error", err)
		if s.onFailure != nil {
			s.onFailure(err)
		}
	} else {
		s.logger.Info("Research completed",
			"question", question,
			"latency_s", TotalLatency(result.Metrics),
			"sources", len(result.Sources),
		)
	}
	s.notify(next)
}

// update applies fn to a copy of the state and publishes it.
func (s *Session) update(fn func(*SessionState)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	next := s.state
	next.Stages = slices.Clone(s.state.Stages)
	fn(&next)
	s.state = next
	s.mu.Unlock()

	s.notify(next)
}

func (s *Session) notify(state SessionState) {
	if s.onChange != nil {
		s.onChange(state)
	}
}

// completeStage marks a stage completed and, when the response is in,
// attaches its metric and content.
func completeStage(stage *Stage, res *ResearchResult) {
	stage.Status = StatusCompleted
	if res == nil {
		return
	}
	if m, ok := res.MetricFor(stage.ID); ok {
		latency := m.Latency
		stage.Latency = &latency
		if score, ok := m.Score(); ok {
			stage.Score = &score
		}
	}
	switch stage.ID {
	case StagePlan:
		stage.Content = res.Plan
	case StageAnalyze:
		stage.Content = res.Insights
	}
}

// ===== Helpers =====

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// linkContext derives a context from the owner's lifetime that is also
// cancelled when the caller's context is.
func linkContext(owner, caller context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(owner)
	if caller == nil {
		return ctx, cancel
	}
	stop := context.AfterFunc(caller, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
