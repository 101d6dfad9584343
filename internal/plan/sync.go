package plan

import (
	"context"
	"errors"
	"slices"

	"github.com/javi11/mediajanitor/internal/model"
)

// Pending is the outcome of a queued selection edit.
type Pending struct {
	done chan struct{}
	err  error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func resolvedPending(err error) *Pending {
	p := newPending()
	p.resolve(err)
	return p
}

func (p *Pending) resolve(err error) {
	p.err = err
	close(p.done)
}

// Done is closed once the edit is settled.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Err returns the outcome. It is only meaningful after Done is closed.
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Wait blocks until the edit is settled or ctx ends. A failed edit resolves
// only after the plan has been reloaded from the server.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type syncJob struct {
	planID    model.PlanID
	updates   []model.SelectionUpdate
	selectAll *bool
	barrier   bool
	pending   *Pending
}

type failedJob struct {
	pending *Pending
	err     error
}

func (s *Store) enqueueLocked(job syncJob) {
	s.queue = append(s.queue, job)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// runSync sends queued edits one at a time so the server sees them in the
// order they were made.
func (s *Store) runSync(ctx context.Context) {
	defer s.abandonQueue()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			job := s.queue[0]
			s.queue = s.queue[1:]
			s.inflight = &job
			s.mu.Unlock()

			s.process(ctx, job)

			if ctx.Err() != nil {
				return
			}
		}
	}
}

func (s *Store) process(ctx context.Context, job syncJob) {
	if job.barrier {
		s.mu.Lock()
		s.inflight = nil
		s.mu.Unlock()
		job.pending.resolve(nil)
		return
	}

	var err error
	if job.selectAll != nil {
		err = s.backend.SetAllSelected(ctx, job.planID, *job.selectAll)
	} else {
		err = s.backend.UpdateItems(ctx, job.planID, job.updates)
	}
	s.syncSent.Add(1)

	s.mu.Lock()
	s.inflight = nil
	s.mu.Unlock()

	if err == nil {
		job.pending.resolve(nil)
	} else {
		s.syncFailed.Add(1)
		s.log.ErrorContext(ctx, "Selection sync failed", "plan_id", job.planID, "error", err)
		s.notifyError(err)

		s.mu.Lock()
		s.failed[job.planID] = append(s.failed[job.planID], failedJob{pending: job.pending, err: err})
		s.mu.Unlock()
	}

	s.reconcileIfIdle(ctx, job.planID)
}

// reconcileIfIdle reloads the plan once no more edits for it are queued, then
// settles the edits that failed. Reloading earlier would hide edits that are
// still on their way to the server.
func (s *Store) reconcileIfIdle(ctx context.Context, planID model.PlanID) {
	s.mu.Lock()
	failed := s.failed[planID]
	if len(failed) == 0 || s.hasQueuedEditsLocked(planID) {
		s.mu.Unlock()
		return
	}
	delete(s.failed, planID)
	s.mu.Unlock()

	s.reconciled.Add(1)
	if _, err := s.load(ctx, planID, ChangeReconciled, true); err != nil && !errors.Is(err, ErrSuperseded) {
		s.log.WarnContext(ctx, "Failed to reload plan after rejected edit", "plan_id", planID, "error", err)
	}

	for _, f := range failed {
		f.pending.resolve(f.err)
	}
}

// overlayLocked replays edits the server has not confirmed yet onto a freshly
// fetched plan, so a reload never shows a selection older than the user's.
func (s *Store) overlayLocked(id model.PlanID, p *model.Plan) {
	jobs := make([]syncJob, 0, len(s.queue)+1)
	if s.inflight != nil {
		jobs = append(jobs, *s.inflight)
	}
	jobs = append(jobs, s.queue...)

	for _, job := range jobs {
		if job.barrier || job.planID != id {
			continue
		}
		if job.selectAll != nil {
			for idx := range p.Items {
				if !p.Items[idx].IsProtected() {
					p.Items[idx].Selected = *job.selectAll
				}
			}
			continue
		}
		for _, u := range job.updates {
			if _, idx, ok := p.Item(u.ID); ok && !p.Items[idx].IsProtected() {
				p.Items[idx].Selected = u.Selected
			}
		}
	}
}

func (s *Store) hasQueuedEditsLocked(planID model.PlanID) bool {
	return slices.ContainsFunc(s.queue, func(j syncJob) bool {
		return !j.barrier && j.planID == planID
	})
}

func (s *Store) abandonQueue() {
	s.mu.Lock()
	queue := s.queue
	s.queue = nil
	failed := s.failed
	s.failed = make(map[model.PlanID][]failedJob)
	s.mu.Unlock()

	for _, job := range queue {
		job.pending.resolve(ErrClosed)
	}
	for _, list := range failed {
		for _, f := range list {
			f.pending.resolve(f.err)
		}
	}
}
