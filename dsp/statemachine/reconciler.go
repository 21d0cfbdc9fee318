// Copyright 2024 openterms
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package statemachine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/google/uuid"

	"github.com/openterms/converge/dsp/constants"
	"github.com/openterms/converge/dsp/contract"
	"github.com/openterms/converge/dsp/persistence"
	"github.com/openterms/converge/dsp/shared"
	"github.com/openterms/converge/dsp/transfer"
	"github.com/openterms/converge/logging"
)

var (
	ErrFatal     = errors.New("fatal error")
	ErrTransient = errors.New("transient error")
)

type ReconciliationType uint

const (
	ReconciliationUndefined ReconciliationType = iota
	ReconciliationContract
	ReconciliationTransferRequest
)

const (
	initialQueueSize     = 100
	reconciliationMillis = 10
	workers              = 1

	// Backoff settings.
	initialRetry = 200 * time.Millisecond
	multiplier   = 2
	maxInterval  = 30 * time.Second
	maxDuration  = 30 * time.Second
)

// Reconciler accepts outbound protocol messages and keeps retrying them
// until they are delivered or the time budget runs out.
type Reconciler interface {
	Add(entry ReconciliationEntry)
}

type reconciliationOperation struct {
	Submitted       time.Time
	NextAttempt     time.Time
	Attempts        int
	Entry           ReconciliationEntry
	CurrentInterval time.Duration
}

// ReconciliationEntry is a single outbound message. TargetState is the
// settled state the entity moves to once the message is delivered.
type ReconciliationEntry struct {
	EntityID    uuid.UUID
	Type        ReconciliationType
	Role        constants.DataspaceRole
	TargetState string
	Method      string
	URL         *url.URL
	Body        []byte
	Context     context.Context
}

// QueueReconciler tries to send out all the http requests, and retries them if something fails.
// A request has an exponential backoff: the interval doubles on each attempt
// up to a cap, and the whole operation gives up after a total duration. A
// given-up entity is moved to the terminating state with an error detail.
type QueueReconciler struct {
	ctx   context.Context
	c     chan reconciliationOperation
	r     shared.Requester
	store persistence.StorageProvider
	q     *deque.Deque[reconciliationOperation]

	// Waitgroup to keep track of management/worker processes.
	WaitGroup sync.WaitGroup
	sync.Mutex
}

func NewReconciler(
	ctx context.Context,
	r shared.Requester,
	store persistence.StorageProvider,
) *QueueReconciler {
	q := &deque.Deque[reconciliationOperation]{}
	q.Grow(initialQueueSize)

	return &QueueReconciler{
		ctx:   ctx,
		c:     make(chan reconciliationOperation),
		r:     r,
		store: store,
		q:     q,
	}
}

func (r *QueueReconciler) Run() {
	r.WaitGroup.Add(1 + workers)
	go r.manager()
	for range workers {
		go r.worker()
	}
}

func (r *QueueReconciler) Add(entry ReconciliationEntry) {
	r.Lock()
	defer r.Unlock()
	r.q.PushBack(reconciliationOperation{
		Submitted:       time.Now(),
		NextAttempt:     time.Now(),
		Attempts:        0,
		Entry:           entry,
		CurrentInterval: initialRetry,
	})
}

func (r *QueueReconciler) manager() {
	// We use a ticker to trigger iterations, this is to not hammer the queue in a tight loop.
	ticker := time.NewTicker(reconciliationMillis * time.Millisecond)
	logger := logging.Extract(r.ctx)
	for {
		select {
		case <-ticker.C:
			if r.q.Len() == 0 {
				continue
			}

			r.Lock()
			op := r.q.PopFront()
			r.Unlock()
			if time.Now().After(op.NextAttempt) {
				logger.Debug("Reconciling...", "entity_id", op.Entry.EntityID)
				op.Attempts++
				r.c <- op
				continue
			}

			r.Lock()
			r.q.PushBack(op)
			r.Unlock()
		case <-r.ctx.Done():
			ticker.Stop()
			r.WaitGroup.Done()
			return
		}
	}
}

func (r *QueueReconciler) worker() {
	// rLogger is the non-entry specific logger for the reconciler.
	rLogger := logging.Extract(r.ctx)
	rLogger.Info("Starting reconciliation loop")
	for {
		select {
		case op := <-r.c:
			entry := op.Entry
			ctx := context.WithoutCancel(entry.Context)
			ctx, logger := logging.InjectLabels(ctx,
				"entityType", entry.Type,
				"entityRole", entry.Role,
				"entityID", entry.EntityID.String(),
				"method", entry.Method,
				"url", entry.URL.String(),
			)
			logger.Debug("Attempting to reconcile entry")

			// As the dataspace standard doesn't care if we parse this, we won't.
			_, err := r.r.SendHTTPRequest(ctx, entry.Method, entry.URL, entry.Body)
			if err != nil {
				r.handleError(ctx, op, fmt.Errorf("could not send HTTP request: %w", err))
				continue
			}

			err = r.updateState(ctx, entry, entry.TargetState, "")
			if err != nil {
				r.handleError(ctx, op, fmt.Errorf("could not update state: %w", err))
				continue
			}
		case <-r.ctx.Done():
			rLogger.Info("Context done called, exiting.")
			r.WaitGroup.Done()
			return
		}
	}
}

func (r *QueueReconciler) handleError(ctx context.Context, op reconciliationOperation, err error) {
	logger := logging.Extract(ctx).With(
		"err", err, "submitted", op.Submitted, "attempts", op.Attempts, "orig_next_attempt", op.NextAttempt)
	// If the error is fatal, just immediately give up on the operation.
	if errors.Is(err, ErrFatal) {
		r.giveUp(ctx, op.Entry)
		return
	}
	op.NextAttempt, op.CurrentInterval = calculateNextAttempt(op.CurrentInterval, op.Attempts)
	logger = logger.With("next_attempt", op.NextAttempt)
	if op.NextAttempt.Sub(op.Submitted) > maxDuration {
		r.giveUp(ctx, op.Entry)
		return
	}
	logger.Warn("Requeuing operation")
	r.Lock()
	r.q.PushBack(op)
	r.Unlock()
}

// giveUp moves the entity to the terminating state and records why. The
// counterparty was unreachable, so no termination message goes out.
func (r *QueueReconciler) giveUp(ctx context.Context, entry ReconciliationEntry) {
	logger := logging.Extract(ctx)
	logger.Error("Giving up on entry")

	// Try a few times to record the failure, if it doesn't succeed panic.
	// This is to make any bugs extremely obvious.
	var err error
	for range 10 {
		err = r.updateState(ctx, entry, "TERMINATING", "callback failed")
		if err == nil {
			logger.Debug("Entry marked as terminating")
			return
		}
		logger.Debug("Could not update state", "err", err)
	}
	panic(fmt.Sprintf("Could not set state to terminating, %s", err))
}

func calculateNextAttempt(currentInterval time.Duration, attempts int) (time.Time, time.Duration) {
	// The interval doubles on every attempt after the first, capped.
	ci := currentInterval
	if attempts != 1 {
		ci *= multiplier
	}
	if ci > maxInterval {
		ci = maxInterval
	}

	nextRun := time.Now().Add(ci)
	return nextRun, ci
}

func (r *QueueReconciler) updateState(
	ctx context.Context, entry ReconciliationEntry, state, errorDetail string,
) error {
	logger := logging.Extract(ctx)
	switch entry.Type {
	case ReconciliationContract:
		return r.setContractState(ctx, state, errorDetail, entry.Role, entry.EntityID)
	case ReconciliationTransferRequest:
		return r.setTransferState(ctx, state, entry.Role, entry.EntityID)
	case ReconciliationUndefined:
		logger.Error("Undefined type")
		return fmt.Errorf("undefined type")
	default:
		logger.Error("Undefined type")
		return fmt.Errorf("undefined type")
	}
}

func (r *QueueReconciler) setContractState(
	ctx context.Context, state, errorDetail string, role constants.DataspaceRole, id uuid.UUID,
) error {
	cs, err := contract.ParseState(state)
	if err != nil {
		return fmt.Errorf("%w: invalid state: %w", ErrFatal, err)
	}
	negotiation, err := r.store.GetContractRW(ctx, id, role)
	if err != nil {
		return fmt.Errorf("can't find negotiation: %w", err)
	}
	cause := "message delivered"
	if errorDetail != "" {
		cause = errorDetail
		negotiation.SetErrorDetail(errorDetail)
	}
	if err := negotiation.SetState(cs, cause); err != nil {
		_ = r.store.ReleaseContract(ctx, negotiation)
		return fmt.Errorf("can't change state: %w", err)
	}
	if err := r.store.PutContract(ctx, negotiation); err != nil {
		return fmt.Errorf("can't save negotiation: %w", err)
	}
	return nil
}

func (r *QueueReconciler) setTransferState(
	ctx context.Context, state string, role constants.DataspaceRole, id uuid.UUID,
) error {
	ts, err := transfer.ParseState(state)
	if err != nil {
		return fmt.Errorf("%w: invalid state: %w", ErrFatal, err)
	}
	request, err := r.store.GetTransferRW(ctx, id, role)
	if err != nil {
		return fmt.Errorf("can't find transfer request: %w", err)
	}
	if err := request.SetState(ts); err != nil {
		_ = r.store.ReleaseTransfer(ctx, request)
		return fmt.Errorf("can't change state: %w", err)
	}
	if err := r.store.PutTransfer(ctx, request); err != nil {
		return fmt.Errorf("can't save transfer request: %w", err)
	}
	return nil
}
