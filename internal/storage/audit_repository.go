package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/commitment-pool/internal/logging"
)

// AuditEvent is one append-only record of something that happened to a pool.
// Events never drive decisions; they exist for operators auditing a pool's
// history, especially halted ones.
type AuditEvent struct {
	EventID   string                 `json:"eventId"`
	PoolID    string                 `json:"poolId"`
	Wallet    string                 `json:"wallet,omitempty"`
	Kind      string                 `json:"kind"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Audit event kinds
const (
	AuditPoolCreated     = "pool_created"
	AuditParticipantJoin = "participant_joined"
	AuditPoolTransition  = "pool_transition"
	AuditVerification    = "verification_recorded"
	AuditDayFinalized    = "day_finalized"
	AuditPayoutSubmitted = "payout_submitted"
	AuditPayoutConfirmed = "payout_confirmed"
	AuditPayoutFailed    = "payout_failed"
	AuditPoolHalted      = "pool_halted"
	AuditEscrowViolation = "escrow_violation"
	AuditYieldAccrued    = "yield_accrued"
	AuditEvidenceSubmit  = "evidence_submitted"
	AuditIdentityBound   = "identity_bound"
)

// AuditRepository buffers audit events and flushes them to ClickHouse in
// batches. Writes are best-effort: an unreachable sink logs and drops rather
// than blocking pool processing.
type AuditRepository struct {
	db *ClickHouseDB

	mu     sync.Mutex
	buffer []*AuditEvent

	flushSize     int
	flushInterval time.Duration
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// NewAuditRepository creates a new audit repository. Call Start to begin the
// background flush loop.
func NewAuditRepository(db *ClickHouseDB) *AuditRepository {
	return &AuditRepository{
		db:            db,
		flushSize:     200,
		flushInterval: 5 * time.Second,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start launches the background flush loop
func (r *AuditRepository) Start() {
	go r.flushLoop()
}

// Stop flushes remaining events and stops the loop
func (r *AuditRepository) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

// EnsureSchema creates the pool_events table if it does not exist
func (r *AuditRepository) EnsureSchema(ctx context.Context) error {
	return r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS pool_events (
			event_id  String,
			pool_id   String,
			wallet    String,
			kind      String,
			payload   String,
			timestamp DateTime64(3, 'UTC')
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (pool_id, timestamp)
	`)
}

// Record queues an audit event for the next flush
func (r *AuditRepository) Record(poolID, wallet, kind string, payload map[string]interface{}) {
	event := &AuditEvent{
		EventID:   uuid.New().String(),
		PoolID:    poolID,
		Wallet:    wallet,
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	r.mu.Lock()
	r.buffer = append(r.buffer, event)
	shouldFlush := len(r.buffer) >= r.flushSize
	r.mu.Unlock()

	if shouldFlush {
		r.flush()
	}
}

func (r *AuditRepository) flushLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.flush()
		case <-r.stopCh:
			r.flush()
			return
		}
	}
}

func (r *AuditRepository) flush() {
	r.mu.Lock()
	events := r.buffer
	r.buffer = nil
	r.mu.Unlock()

	if len(events) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.insertBatch(ctx, events); err != nil {
		logging.WithFields(map[string]interface{}{
			"events": len(events),
			"error":  err.Error(),
		}).Warn("Failed to flush audit events, dropping batch")
	}
}

func (r *AuditRepository) insertBatch(ctx context.Context, events []*AuditEvent) error {
	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO pool_events (event_id, pool_id, wallet, kind, payload, timestamp)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, e := range events {
		var payloadJSON []byte
		if len(e.Payload) == 0 {
			payloadJSON = []byte("{}")
		} else {
			payloadJSON, err = json.Marshal(e.Payload)
			if err != nil {
				return fmt.Errorf("failed to marshal payload for event %s: %w", e.EventID, err)
			}
		}

		if err := batch.Append(
			e.EventID,
			e.PoolID,
			e.Wallet,
			e.Kind,
			string(payloadJSON),
			e.Timestamp,
		); err != nil {
			return fmt.Errorf("failed to append event %s to batch: %w", e.EventID, err)
		}
	}

	return batch.Send()
}

// QueryPoolEvents retrieves events for a pool, newest first
func (r *AuditRepository) QueryPoolEvents(ctx context.Context, poolID string, limit int) ([]*AuditEvent, error) {
	rows, err := r.db.Conn().Query(ctx, `
		SELECT event_id, pool_id, wallet, kind, payload, timestamp
		FROM pool_events WHERE pool_id = $1
		ORDER BY timestamp DESC LIMIT $2
	`, poolID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pool events: %w", err)
	}
	defer rows.Close()

	var events []*AuditEvent
	for rows.Next() {
		var e AuditEvent
		var payloadJSON string
		if err := rows.Scan(&e.EventID, &e.PoolID, &e.Wallet, &e.Kind, &payloadJSON, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan pool event: %w", err)
		}
		if payloadJSON != "" && payloadJSON != "{}" {
			if err := json.Unmarshal([]byte(payloadJSON), &e.Payload); err != nil {
				return nil, fmt.Errorf("corrupt payload for event %s: %w", e.EventID, err)
			}
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
