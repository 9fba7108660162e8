// Package loop drives one goal run from bootstrap to a terminal status:
// screenshot, Critic decision, action dispatch, artifact capture, with
// pause and abort honored at every external call.
package loop

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/NerovaAutomation/nerovaagent-sub000/pkg/models"
)

// Supervisor coordinates pause/abort signals between a control surface and
// one active run. Every external call of the run passes a Barrier; a pause
// cancels in-flight work, the barrier surfaces pause_interrupt, and the
// run parks until SupplyContext delivers the operator's input.
type Supervisor struct {
	mu         sync.Mutex
	paused     bool
	aborted    bool
	generation int

	// contexts queues operator-supplied override texts until the loop
	// consumes them at the next step entry.
	contexts []string

	resume chan struct{}

	cancels map[int]context.CancelCauseFunc
	nextID  int
}

// NewSupervisor returns a supervisor in the running state.
func NewSupervisor() *Supervisor {
	return &Supervisor{}
}

// RequestPause asks the run to yield at its next barrier and cancels
// in-flight work. Calling it while already paused is a no-op.
func (s *Supervisor) RequestPause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused || s.aborted {
		return
	}
	s.pauseLocked()
}

// SupplyContext resumes a paused run. Non-blank text is queued as override
// context and consumed at the next step entry; blank text just resumes.
func (s *Supervisor) SupplyContext(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted {
		return
	}
	if text = strings.TrimSpace(text); text != "" {
		s.contexts = append(s.contexts, text)
	}
	s.resumeLocked()
}

// AbortRun cancels in-flight work, clears queued contexts, and makes every
// subsequent barrier fail with run_aborted. Idempotent.
func (s *Supervisor) AbortRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted {
		return
	}
	s.aborted = true
	s.contexts = nil
	s.resumeLocked()
	s.cancelInFlightLocked(models.NewError(models.CodeRunAborted))
}

// Reset returns the supervisor to the running state before a new run
// reuses it.
func (s *Supervisor) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumeLocked()
	s.aborted = false
	s.contexts = nil
	s.cancelInFlightLocked(models.NewError(models.CodeRunAborted))
}

// StepContext derives a context the supervisor cancels on pause or abort,
// with the control code attached as the cancellation cause. The returned
// release func must run when the attempt ends; a resumed attempt derives a
// fresh context.
func (s *Supervisor) StepContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	s.mu.Lock()
	if s.cancels == nil {
		s.cancels = make(map[int]context.CancelCauseFunc)
	}
	id := s.nextID
	s.nextID++
	s.cancels[id] = cancel
	s.mu.Unlock()

	return ctx, func() {
		s.mu.Lock()
		delete(s.cancels, id)
		s.mu.Unlock()
		cancel(nil)
	}
}

// Barrier is the pause/abort checkpoint before and after every external
// call. It returns run_aborted or pause_interrupt, never blocks.
func (s *Supervisor) Barrier(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return s.Interpret(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted {
		return models.WrapError(models.CodeRunAborted, fmt.Errorf("abort observed at %s", stage))
	}
	if s.paused {
		return models.WrapError(models.CodePauseInterrupt, fmt.Errorf("pause observed at %s", stage))
	}
	return nil
}

// AwaitResume blocks a paused run until SupplyContext or AbortRun.
func (s *Supervisor) AwaitResume(ctx context.Context) error {
	s.mu.Lock()
	if s.aborted {
		s.mu.Unlock()
		return models.NewError(models.CodeRunAborted)
	}
	if !s.paused {
		s.mu.Unlock()
		return nil
	}
	resume := s.resume
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-resume:
	}
	if s.Aborted() {
		return models.NewError(models.CodeRunAborted)
	}
	return nil
}

// Park moves the run into the paused state from the inside, used when the
// Assistant cannot produce a confident decision, then waits for operator
// input like any other pause.
func (s *Supervisor) Park(ctx context.Context) error {
	s.mu.Lock()
	if s.aborted {
		s.mu.Unlock()
		return models.NewError(models.CodeRunAborted)
	}
	if !s.paused {
		s.pauseLocked()
	}
	s.mu.Unlock()
	return s.AwaitResume(ctx)
}

// NextContext pops the oldest queued override context.
func (s *Supervisor) NextContext() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.contexts) == 0 {
		return "", false
	}
	text := s.contexts[0]
	s.contexts = s.contexts[1:]
	return text, true
}

// InterpretCause classifies a step error using the step context's
// cancellation cause first, then the supervisor state. The cause matters
// when the operator pauses and resumes before the cancelled call's error
// surfaces: the state says running, but the step must still replay.
func (s *Supervisor) InterpretCause(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	switch models.ErrorCode(err) {
	case models.CodePauseInterrupt, models.CodeRunAborted:
		return err
	}
	if cause := context.Cause(ctx); cause != nil {
		switch code := models.ErrorCode(cause); code {
		case models.CodePauseInterrupt, models.CodeRunAborted:
			return models.WrapError(code, err)
		}
	}
	return s.Interpret(err)
}

// Interpret maps errors caused by supervisor cancellation onto the pause
// and abort control codes, leaving other errors untouched.
func (s *Supervisor) Interpret(err error) error {
	if err == nil {
		return nil
	}
	switch models.ErrorCode(err) {
	case models.CodePauseInterrupt, models.CodeRunAborted:
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted {
		return models.WrapError(models.CodeRunAborted, err)
	}
	if s.paused {
		return models.WrapError(models.CodePauseInterrupt, err)
	}
	return err
}

// Paused reports whether the run is parked or a pause is pending.
func (s *Supervisor) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Aborted reports whether AbortRun was called.
func (s *Supervisor) Aborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

// Generation counts pause requests, for journaling.
func (s *Supervisor) Generation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *Supervisor) pauseLocked() {
	s.paused = true
	s.generation++
	s.resume = make(chan struct{})
	s.cancelInFlightLocked(models.NewError(models.CodePauseInterrupt))
}

func (s *Supervisor) resumeLocked() {
	if !s.paused {
		return
	}
	s.paused = false
	close(s.resume)
}

func (s *Supervisor) cancelInFlightLocked(cause error) {
	for id, cancel := range s.cancels {
		cancel(cause)
		delete(s.cancels, id)
	}
}
