// Package ingestion orchestrates the single-event and batch ingestion
// pipeline: layered validation, per-scope sequence-ID allocation,
// hash-chain construction, idempotent persistence, and dead-letter
// routing for events that fail even after the retry engine gives up.
package ingestion

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eld-core/ingestion/domain/dlq"
	"github.com/eld-core/ingestion/domain/eldevent"
	"github.com/eld-core/ingestion/domain/hashchain"
	"github.com/eld-core/ingestion/domain/idempotency"
	"github.com/eld-core/ingestion/domain/sequence"
	"github.com/eld-core/ingestion/domain/validation"
	infraerrors "github.com/eld-core/ingestion/infrastructure/errors"
	"github.com/eld-core/ingestion/infrastructure/logging"
	"github.com/eld-core/ingestion/infrastructure/retry"
)

// Store is the persistence boundary the controller depends on. The
// production implementation is infrastructure/eventstore's Postgres
// adapter; tests substitute an in-memory fake.
type Store interface {
	// LastInScope returns the most recently persisted event in scope, if
	// any, used to seed the chain-ordering check and the hash chain.
	LastInScope(ctx context.Context, scope eldevent.Scope) (eldevent.Event, bool, error)
	// SequenceState returns the current allocator state for scope.
	SequenceState(ctx context.Context, scope eldevent.Scope) (sequence.State, error)
	// Persist writes an event that has already been allocated a sequence
	// ID and chain hash, atomically with the updated sequence state.
	Persist(ctx context.Context, event eldevent.Event, nextState sequence.State) error
	// FindBySequence looks up the committed event at scope+sequenceID, if
	// any. It resolves a proposed offline sequence ID that collides with
	// one already issued into either an idempotent replay (identical
	// content hash) or a genuine conflict (content differs).
	FindBySequence(ctx context.Context, scope eldevent.Scope, sequenceID int) (eldevent.Event, bool, error)
}

// Controller runs the ingestion pipeline. A Controller is safe for
// concurrent use; it serializes writes per scope with an internal mutex
// table so concurrent submissions for the same (deviceID, logDate) are
// never interleaved, while distinct scopes proceed fully in parallel.
type Controller struct {
	store           Store
	idempotency     *idempotency.Store
	dlqStore        *dlq.Store
	retryEngine     *retry.Engine
	logger          *logging.Logger
	clockSkew       time.Duration
	directoryLookup validation.DirectoryLookup

	scopeLocks sync.Map // eldevent.Scope -> *sync.Mutex
}

// NewController builds a Controller wired to its collaborators.
func NewController(store Store, idempotencyStore *idempotency.Store, dlqStore *dlq.Store, retryEngine *retry.Engine, logger *logging.Logger) *Controller {
	if retryEngine == nil {
		retryEngine = retry.NewEngine(retry.DefaultConfig(), infraerrors.IsTransient)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Controller{
		store:       store,
		idempotency: idempotencyStore,
		dlqStore:    dlqStore,
		retryEngine: retryEngine,
		logger:      logger,
		clockSkew:   2 * time.Minute,
	}
}

// WithDirectoryLookup sets the L3 cross-reference collaborator and
// returns the Controller for chaining. A Controller with no directory
// lookup configured (the default) treats L3 as a no-op, matching the
// fail-open policy for when no directory service is wired in.
func (c *Controller) WithDirectoryLookup(lookup validation.DirectoryLookup) *Controller {
	c.directoryLookup = lookup
	return c
}

func (c *Controller) scopeLock(scope eldevent.Scope) *sync.Mutex {
	lock, _ := c.scopeLocks.LoadOrStore(scope, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// Outcome reports how a single event submission was handled.
type Outcome struct {
	Event      eldevent.Event
	Accepted   bool
	Duplicate  bool
	GapWarning bool
	GapOutcome sequence.Outcome // set when GapWarning is true: GAP_DETECTED or LARGE_GAP
	Missing    []int            // sequence IDs skipped when GapWarning is true
	Err        error
}

// IngestSingle runs one event through the full pipeline: L1/L2, scope
// lock acquisition, L3, sequence allocation, hash chaining, and retrying
// transient store failures. A single-event submission that still fails
// after retries returns the error directly rather than dead-lettering:
// the client is expected to retry the same request with its idempotency
// key intact.
func (c *Controller) IngestSingle(ctx context.Context, userID, clientKey string, e eldevent.Event) Outcome {
	return c.ingest(ctx, userID, clientKey, e, false)
}

// ingest is the shared pipeline behind IngestSingle and IngestBatch.
// dlqOnFail governs what happens when the store still fails after the
// retry engine gives up: batch processing dead-letters the payload so the
// rest of the batch keeps moving, single-event processing does not.
func (c *Controller) ingest(ctx context.Context, userID, clientKey string, e eldevent.Event, dlqOnFail bool) Outcome {
	completed := false
	if clientKey != "" {
		if record, started := c.idempotency.Begin(ctx, userID, clientKey, e.ComputeContentHash()); !started {
			return Outcome{
				Event:     e,
				Accepted:  record.State == idempotency.StateCompleted,
				Duplicate: true,
			}
		}
		defer func() {
			if !completed {
				c.idempotency.Release(ctx, userID, clientKey)
			}
		}()
	}

	if issues := validation.L1(e); len(issues) > 0 {
		return c.rejectValidation(e, issues)
	}
	if issues := validation.L2(e, time.Now().UTC()); len(issues) > 0 {
		return c.rejectValidation(e, issues)
	}

	scope := e.Scope()
	lock := c.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()

	// The prior-event lookup feeds both chain linking and ordering; a
	// store error here is fail-open, proceeding as if this were the
	// first event in scope rather than blocking ingestion on it.
	prior, hasPrior, err := c.store.LastInScope(ctx, scope)
	if err != nil {
		c.logger.LogIngestion(ctx, scope.String(), e.SequenceID, "PRIOR_LOOKUP_FAILED_OPEN", err)
		hasPrior = false
	}

	var priorEvent *validation.PriorEvent
	previousChainHash := hashchain.GenesisChainHash
	if hasPrior {
		priorEvent = &validation.PriorEvent{EventTimestamp: prior.EventTimestamp, DutyStatus: prior.DutyStatus}
		previousChainHash = prior.ChainHash
	}
	if issues := validation.CheckChainOrdering(e, priorEvent, c.clockSkew); len(issues) > 0 {
		return c.rejectValidation(e, issues)
	}

	if issues, err := validation.L3(ctx, e, c.directoryLookup); err != nil {
		c.logger.LogIngestion(ctx, scope.String(), e.SequenceID, "L3_LOOKUP_FAILED_OPEN", err)
	} else if len(issues) > 0 {
		return c.rejectValidation(e, issues)
	}

	state, err := c.store.SequenceState(ctx, scope)
	if err != nil {
		return c.infraFailure(ctx, e, scope, 1, infraerrors.DatabaseError("sequence_state", err), dlqOnFail)
	}

	var decision sequence.Decision
	if e.SequenceID > 0 {
		// The event already carries a proposed sequence ID — an
		// offline-origin event synced after the fact — so it is
		// classified against the conflict table instead of auto-issued.
		decision = sequence.Accept(state, e.SequenceID)
		switch decision.Outcome {
		case sequence.OutcomeNonMonotonic:
			return Outcome{Event: e, Err: infraerrors.NonMonotonic(scope.String(), e.SequenceID, state.LastIssued)}
		case sequence.OutcomeDuplicate:
			return c.resolveSequenceCollision(ctx, e, scope, state.LastIssued)
		}
	} else {
		decision, err = sequence.Issue(state)
		if err != nil {
			return Outcome{Event: e, Err: infraerrors.SequenceExhausted(scope.String())}
		}
	}

	e.SequenceID = decision.SequenceID
	if e.RecordStatus == 0 {
		e.RecordStatus = eldevent.RecordStatusActive
	}
	e.ContentHash = e.ComputeContentHash()
	e.ChainHash = hashchain.ComputeChainHash(previousChainHash, e.ContentHash)
	e.ClientKey = clientKey
	e.RecordedAt = time.Now().UTC()

	result := c.retryEngine.Execute(ctx, func(ctx context.Context, attempt int) error {
		return c.store.Persist(ctx, e, decision.NextState)
	})

	if result.Err != nil {
		return c.infraFailure(ctx, e, scope, result.Attempts, result.Err, dlqOnFail)
	}

	if clientKey != "" {
		c.idempotency.Complete(ctx, userID, clientKey, e.ID, e.SequenceID, e.ContentHash)
		completed = true
	}
	c.logger.LogIngestion(ctx, scope.String(), e.SequenceID, "ACCEPTED", nil)

	outcome := Outcome{Event: e, Accepted: true}
	if decision.Outcome == sequence.OutcomeGapDetected || decision.Outcome == sequence.OutcomeLargeGap {
		outcome.GapWarning = true
		outcome.GapOutcome = decision.Outcome
		outcome.Missing = missingSequenceIDs(state.LastIssued, decision.SequenceID)
	}
	return outcome
}

// resolveSequenceCollision handles Accept's DUPLICATE outcome: the
// proposed sequence ID is not ahead of the scope's last-issued value.
// Per the conflict table this has exactly two valid resolutions — a
// replay of an event already committed at that exact scope+sequence,
// accepted as an idempotent no-op when the content hash matches, or a
// genuine conflict rejected as DUPLICATE when it doesn't. A proposed ID
// in this range with nothing committed behind it — a hole a prior gap
// left in the sequence — is not a replay of anything, so it is rejected
// as NON_MONOTONIC instead.
func (c *Controller) resolveSequenceCollision(ctx context.Context, e eldevent.Event, scope eldevent.Scope, lastIssued int) Outcome {
	existing, found, err := c.store.FindBySequence(ctx, scope, e.SequenceID)
	if err != nil {
		return Outcome{Event: e, Err: infraerrors.DatabaseError("find_by_sequence", err)}
	}
	if !found {
		return Outcome{Event: e, Err: infraerrors.NonMonotonic(scope.String(), e.SequenceID, lastIssued)}
	}

	candidate := e
	if candidate.RecordStatus == 0 {
		candidate.RecordStatus = eldevent.RecordStatusActive
	}
	if candidate.ComputeContentHash() == existing.ContentHash {
		return Outcome{Event: existing, Accepted: true, Duplicate: true}
	}
	return Outcome{Event: e, Err: infraerrors.Duplicate(scope.String(), e.SequenceID)}
}

// missingSequenceIDs lists the IDs skipped between lastIssued and
// proposed, exclusive of both endpoints, for the sync protocol's
// GAP_DETECTED/LARGE_GAP warning.
func missingSequenceIDs(lastIssued, proposed int) []int {
	if proposed <= lastIssued+1 {
		return nil
	}
	missing := make([]int, 0, proposed-lastIssued-1)
	for id := lastIssued + 1; id < proposed; id++ {
		missing = append(missing, id)
	}
	return missing
}

func (c *Controller) rejectValidation(e eldevent.Event, issues []validation.Issue) Outcome {
	svcErr := infraerrors.Validation("event failed validation")
	for _, issue := range issues {
		svcErr = svcErr.WithDetails(issue.Field, issue.Reason)
	}
	return Outcome{Event: e, Err: svcErr}
}

// infraFailure handles a store failure that survived the retry engine. In
// a batch, the payload is dead-lettered so the rest of the batch can keep
// moving and the response can point an admin at the DLQ entry. For a
// single-event submission the error is returned as-is: the client already
// holds the idempotency key needed to retry safely, so there is nothing
// for the DLQ to add.
func (c *Controller) infraFailure(ctx context.Context, e eldevent.Event, scope eldevent.Scope, attempts int, err error, dlqOnFail bool) Outcome {
	if !dlqOnFail {
		c.logger.LogIngestion(ctx, scope.String(), e.SequenceID, "INFRA_FAILURE", err)
		return Outcome{Event: e, Err: err}
	}

	code := infraerrors.ErrCodeInternal
	if se := infraerrors.GetServiceError(err); se != nil {
		code = se.Code
	}
	id := c.dlqStore.Enqueue(ctx, scope, e, string(code), err.Error(), attempts)
	c.logger.LogIngestion(ctx, scope.String(), e.SequenceID, "DEAD_LETTERED", err)
	return Outcome{Event: e, Err: fmt.Errorf("dead-lettered as %s: %w", id, err)}
}

// IngestBatchItem runs one event through the ingestion pipeline with
// batch dead-lettering semantics: a failure that survives the retry
// engine is written to DLQ instead of being returned bare. The offline
// sync handler uses this for each event in a drain batch, since the sync
// wire contract always returns HTTP 200 with per-event outcomes rather
// than letting one failure abort the whole request.
func (c *Controller) IngestBatchItem(ctx context.Context, userID, clientKey string, e eldevent.Event) Outcome {
	return c.ingest(ctx, userID, clientKey, e, true)
}

// IngestBatch runs each event through the ingestion pipeline in the
// chronological order the sync protocol requires, accumulating partial
// acceptance: events that fail validation do not block subsequent events
// in the batch, and events that still fail after retries are
// dead-lettered rather than aborting the batch.
func (c *Controller) IngestBatch(ctx context.Context, userID, clientKey string, events []eldevent.Event) []Outcome {
	sorted := make([]eldevent.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EventTimestamp.Before(sorted[j].EventTimestamp)
	})

	outcomes := make([]Outcome, 0, len(sorted))
	for _, e := range sorted {
		outcomes = append(outcomes, c.ingest(ctx, userID, clientKey, e, true))
	}
	return outcomes
}
