package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/puddle/v2"

	"github.com/wisbric/avitosentry/internal/telemetry"
)

// Store provides the leasing and CRUD operations over a Postgres connection
// pool. Every exported method is a single atomic operation: a thin struct
// wrapping direct SQL rather than an ORM.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Leased is the result of a successful lease.
type Leased struct {
	ID      int64
	Article string // for tasks
	Address string // for proxies
}

// LeaseNextTask selects one NEW task with the lowest created_at, skipping
// rows locked by another transaction, and moves it to IN_PROGRESS. Returns
// (nil, nil) if the queue is empty.
func (s *Store) LeaseNextTask(ctx context.Context, workerID string) (*Leased, error) {
	var out *Leased
	err := withRetry(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		var id int64
		var article string
		row := tx.QueryRow(ctx, `
			SELECT id, article FROM tasks
			WHERE status = $1
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1`, TaskStatusNew)
		if scanErr := row.Scan(&id, &article); scanErr != nil {
			if errors.Is(scanErr, pgx.ErrNoRows) {
				out = nil
				return nil
			}
			return scanErr
		}

		if _, err := tx.Exec(ctx, `
			UPDATE tasks
			SET status = $1, worker_id = $2, taken_at = now(), last_heartbeat = now()
			WHERE id = $3`, TaskStatusInProgress, workerID, id); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
		out = &Leased{ID: id, Article: article}
		telemetry.TasksLeasedTotal.Inc()
		return nil
	})
	return out, err
}

// LeaseFreeProxy selects one FREE proxy uniformly at random among FREE
// rows, skipping rows locked by another transaction, and moves it to
// IN_USE. Returns (nil, nil) if no proxy is available.
func (s *Store) LeaseFreeProxy(ctx context.Context, workerID string) (*Leased, error) {
	var out *Leased
	err := withRetry(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		var id int64
		var address string
		row := tx.QueryRow(ctx, `
			SELECT id, address FROM proxies
			WHERE status = $1
			ORDER BY random()
			FOR UPDATE SKIP LOCKED
			LIMIT 1`, ProxyStatusFree)
		if scanErr := row.Scan(&id, &address); scanErr != nil {
			if errors.Is(scanErr, pgx.ErrNoRows) {
				out = nil
				return nil
			}
			return scanErr
		}

		if _, err := tx.Exec(ctx, `
			UPDATE proxies
			SET status = $1, worker_id = $2, taken_at = now()
			WHERE id = $3`, ProxyStatusInUse, workerID, id); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
		out = &Leased{ID: id, Address: address}
		return nil
	})
	return out, err
}

// BlockProxy moves a proxy to BLOCKED and clears its holder. BLOCKED is
// terminal: nothing in this package ever moves a proxy back to FREE from
// BLOCKED.
func (s *Store) BlockProxy(ctx context.Context, proxyID int64, reason string) error {
	err := withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, `
			UPDATE proxies
			SET status = $1, worker_id = NULL, blocked_at = now(), blocked_reason = $2
			WHERE id = $3`, ProxyStatusBlocked, reason, proxyID)
		return err
	})
	if err == nil {
		telemetry.ProxiesBlockedTotal.WithLabelValues(reason).Inc()
	}
	return err
}

// ReleaseProxy moves a proxy from IN_USE back to FREE.
func (s *Store) ReleaseProxy(ctx context.Context, proxyID int64) error {
	return withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, `
			UPDATE proxies
			SET status = $1, worker_id = NULL, taken_at = NULL
			WHERE id = $2 AND status = $3`, ProxyStatusFree, proxyID, ProxyStatusInUse)
		return err
	})
}

// Heartbeat stamps last_heartbeat for an IN_PROGRESS task. If the pool has
// already been closed, it returns ErrPoolClosed so callers can treat it as
// benign rather than a
// transient failure worth retrying.
func (s *Store) Heartbeat(ctx context.Context, taskID int64) error {
	return withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, `
			UPDATE tasks SET last_heartbeat = now()
			WHERE id = $1 AND status = $2`, taskID, TaskStatusInProgress)
		if err != nil && errors.Is(err, puddle.ErrClosedPool) {
			return ErrPoolClosed
		}
		return err
	})
}

// ReturnTaskToQueue moves a task back to NEW, optionally incrementing
// retry_count, and records error.
func (s *Store) ReturnTaskToQueue(ctx context.Context, taskID int64, taskErr string, incrementRetry bool) error {
	err := withRetry(ctx, func() error {
		var sql string
		if incrementRetry {
			sql = `UPDATE tasks
				SET status = $1, worker_id = NULL, taken_at = NULL, last_heartbeat = NULL,
				    retry_count = retry_count + 1, error_message = $2
				WHERE id = $3`
		} else {
			sql = `UPDATE tasks
				SET status = $1, worker_id = NULL, taken_at = NULL, last_heartbeat = NULL,
				    error_message = $2
				WHERE id = $3`
		}
		_, err := s.pool.Exec(ctx, sql, TaskStatusNew, taskErr, taskID)
		return err
	})
	if err == nil {
		reason := "no_retry"
		if incrementRetry {
			reason = "transient_error"
		}
		telemetry.TasksReturnedTotal.WithLabelValues(reason).Inc()
	}
	return err
}

// MarkTaskAsError moves a task to the terminal ERROR state.
func (s *Store) MarkTaskAsError(ctx context.Context, taskID int64, taskErr string) error {
	err := withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, `
			UPDATE tasks
			SET status = $1, error_message = $2
			WHERE id = $3`, TaskStatusError, taskErr, taskID)
		return err
	})
	if err == nil {
		telemetry.TasksErroredTotal.Inc()
	}
	return err
}

// CompleteTask marks a task DONE and upserts its ProcessedArticle row in a
// single transaction.
func (s *Store) CompleteTask(ctx context.Context, taskID int64, article, workerID string, status ProcessingStatus, found, passed int) error {
	err := withRetry(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		var takenAt *time.Time
		if err := tx.QueryRow(ctx, `SELECT taken_at FROM tasks WHERE id = $1`, taskID).Scan(&takenAt); err != nil {
			return err
		}
		startedAt := time.Now()
		if takenAt != nil {
			startedAt = *takenAt
		}

		if _, err := tx.Exec(ctx, `
			UPDATE tasks SET status = $1, completed_at = now()
			WHERE id = $2`, TaskStatusDone, taskID); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO processed_articles
				(article, processed_at, processing_status, items_found, items_passed, started_at, worker_id)
			VALUES ($1, now(), $2, $3, $4, $5, $6)
			ON CONFLICT (article) DO UPDATE SET
				processed_at = EXCLUDED.processed_at,
				processing_status = EXCLUDED.processing_status,
				items_found = EXCLUDED.items_found,
				items_passed = EXCLUDED.items_passed,
				started_at = EXCLUDED.started_at,
				worker_id = EXCLUDED.worker_id`,
			article, status, found, passed, startedAt, workerID); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
	if err == nil {
		telemetry.TasksCompletedTotal.WithLabelValues(string(status)).Inc()
	}
	return err
}

// StuckOutcome describes what ReturnStuckTasks did to one task.
type StuckOutcome string

const (
	StuckOutcomeReturned StuckOutcome = "returned"
	StuckOutcomeErrored  StuckOutcome = "errored"
)

// ReturnStuckTasks recovers IN_PROGRESS tasks whose last_heartbeat is older
// than timeout: tasks under the retry budget go back to NEW with
// retry_count+1; tasks at or over the budget are marked ERROR.
func (s *Store) ReturnStuckTasks(ctx context.Context, timeout time.Duration, maxRetryAttempts int) (map[StuckOutcome]int, error) {
	counts := map[StuckOutcome]int{}
	err := withRetry(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		cutoff := time.Now().Add(-timeout)
		rows, err := tx.Query(ctx, `
			SELECT id, retry_count FROM tasks
			WHERE status = $1 AND last_heartbeat < $2
			FOR UPDATE SKIP LOCKED`, TaskStatusInProgress, cutoff)
		if err != nil {
			return err
		}
		type stuck struct {
			id         int64
			retryCount int
		}
		var stuckTasks []stuck
		for rows.Next() {
			var st stuck
			if err := rows.Scan(&st.id, &st.retryCount); err != nil {
				rows.Close()
				return err
			}
			stuckTasks = append(stuckTasks, st)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, st := range stuckTasks {
			if st.retryCount < maxRetryAttempts {
				if _, err := tx.Exec(ctx, `
					UPDATE tasks
					SET status = $1, worker_id = NULL, taken_at = NULL, last_heartbeat = NULL,
					    retry_count = retry_count + 1, error_message = $2
					WHERE id = $3`, TaskStatusNew, "stuck timeout exceeded", st.id); err != nil {
					return err
				}
				counts[StuckOutcomeReturned]++
			} else {
				if _, err := tx.Exec(ctx, `
					UPDATE tasks SET status = $1, error_message = $2
					WHERE id = $3`, TaskStatusError, "stuck timeout exceeded", st.id); err != nil {
					return err
				}
				counts[StuckOutcomeErrored]++
			}
		}

		return tx.Commit(ctx)
	})
	if err == nil {
		for outcome, n := range counts {
			telemetry.StuckTasksRecoveredTotal.WithLabelValues(string(outcome)).Add(float64(n))
		}
	}
	return counts, err
}

// GetTaskRetryCount returns the current retry_count for a task.
func (s *Store) GetTaskRetryCount(ctx context.Context, taskID int64) (int, error) {
	var count int
	err := withRetry(ctx, func() error {
		return s.pool.QueryRow(ctx, `SELECT retry_count FROM tasks WHERE id = $1`, taskID).Scan(&count)
	})
	return count, err
}

// CatalogListing is the shape of one listing observed during catalog
// traversal (component F's output), independent of the external collaborator
// package so that queue does not import catalog.
type CatalogListing struct {
	AvitoItemID int64
	Title       string
	Description string
	Price       float64
	Seller      string
}

// SaveParsedCard inserts a card on first observation, or updates its
// article on re-observation.
func (s *Store) SaveParsedCard(ctx context.Context, article string, listing CatalogListing) error {
	return withRetry(ctx, func() error {
		parsedData, _ := json.Marshal(map[string]any{"article": article})
		_, err := s.pool.Exec(ctx, `
			INSERT INTO parsed_cards
				(avito_item_id, article, title, description, price, seller_name, parsed_data, parsed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			ON CONFLICT (avito_item_id) DO UPDATE SET
				parsed_data = jsonb_set(parsed_cards.parsed_data, '{article}', to_jsonb($2::text)),
				parsed_at = now()`,
			listing.AvitoItemID, article, listing.Title, listing.Description, listing.Price, listing.Seller, parsedData)
		return err
	})
}

// CheckExistingCards returns the subset of the given item IDs that are
// already present in parsed_cards, used to skip redundant catalog inserts.
func (s *Store) CheckExistingCards(ctx context.Context, itemIDs []int64) (map[int64]bool, error) {
	existing := make(map[int64]bool)
	if len(itemIDs) == 0 {
		return existing, nil
	}
	err := withRetry(ctx, func() error {
		rows, err := s.pool.Query(ctx, `
			SELECT avito_item_id FROM parsed_cards WHERE avito_item_id = ANY($1)`, itemIDs)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			existing[id] = true
		}
		return rows.Err()
	})
	return existing, err
}

// SaveValidationResult inserts one ValidationResult row.
func (s *Store) SaveValidationResult(ctx context.Context, r ValidationResult) error {
	err := withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO validation_results
				(avito_item_id, validation_type, passed, rejection_reason, validation_details, created_at)
			VALUES ($1, $2, $3, $4, $5, now())`,
			r.AvitoItemID, r.ValidationType, r.Passed, r.RejectionReason, r.ValidationDetails)
		return err
	})
	if err == nil {
		telemetry.ValidationResultsTotal.WithLabelValues(string(r.ValidationType), strconv.FormatBool(r.Passed)).Inc()
	}
	return err
}

// GetCardsForAIValidation returns the avito_item_ids whose most-recent
// MECHANICAL result is passed=true and that have no AI result yet.
func (s *Store) GetCardsForAIValidation(ctx context.Context, article string) ([]int64, error) {
	var ids []int64
	err := withRetry(ctx, func() error {
		rows, err := s.pool.Query(ctx, `
			SELECT pc.avito_item_id
			FROM parsed_cards pc
			JOIN LATERAL (
				SELECT passed FROM validation_results vr
				WHERE vr.avito_item_id = pc.avito_item_id AND vr.validation_type = $1
				ORDER BY vr.created_at DESC LIMIT 1
			) mech ON mech.passed
			WHERE pc.article = $2
			  AND NOT EXISTS (
				SELECT 1 FROM validation_results vr2
				WHERE vr2.avito_item_id = pc.avito_item_id AND vr2.validation_type = $3
			  )`, ValidationTypeMechanical, article, ValidationTypeAI)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	return ids, err
}

// GetCardsForDetailedParsing returns cards where both mechanical and AI
// validation passed and published_at is still unset.
func (s *Store) GetCardsForDetailedParsing(ctx context.Context, article string) ([]ParsedCard, error) {
	var cards []ParsedCard
	err := withRetry(ctx, func() error {
		rows, err := s.pool.Query(ctx, `
			SELECT pc.avito_item_id, pc.article, pc.title, pc.description, pc.price, pc.seller_name
			FROM parsed_cards pc
			WHERE pc.article = $1 AND pc.published_at IS NULL
			  AND EXISTS (
				SELECT 1 FROM validation_results vr
				WHERE vr.avito_item_id = pc.avito_item_id AND vr.validation_type = $2 AND vr.passed
			  )
			  AND (
				NOT EXISTS (
					SELECT 1 FROM validation_results vr3
					WHERE vr3.avito_item_id = pc.avito_item_id AND vr3.validation_type = $3
				)
				OR EXISTS (
					SELECT 1 FROM validation_results vr4
					WHERE vr4.avito_item_id = pc.avito_item_id AND vr4.validation_type = $3 AND vr4.passed
				)
			  )`, article, ValidationTypeMechanical, ValidationTypeAI)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var c ParsedCard
			if err := rows.Scan(&c.AvitoItemID, &c.Article, &c.Title, &c.Description, &c.Price, &c.SellerName); err != nil {
				return err
			}
			cards = append(cards, c)
		}
		return rows.Err()
	})
	return cards, err
}

// DetailUpdate carries the fields written back after detail-page enrichment.
type DetailUpdate struct {
	PublishedAt     *time.Time
	Location        *string
	ViewsCount      *int
	Characteristics json.RawMessage
	MergeIntoParsed map[string]any
}

// UpdateCardDetailedData merges detail-page fields into parsed_data and the
// dedicated columns. Returns ErrCardNotFound if no row matched.
func (s *Store) UpdateCardDetailedData(ctx context.Context, avitoItemID int64, upd DetailUpdate) error {
	return withRetry(ctx, func() error {
		mergePatch, _ := json.Marshal(upd.MergeIntoParsed)
		tag, err := s.pool.Exec(ctx, `
			UPDATE parsed_cards
			SET published_at = $1,
			    location = $2,
			    views_count = $3,
			    characteristics = $4,
			    parsed_data = parsed_data || $5::jsonb
			WHERE avito_item_id = $6`,
			upd.PublishedAt, upd.Location, upd.ViewsCount, upd.Characteristics, mergePatch, avitoItemID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: avito_item_id=%d", ErrCardNotFound, avitoItemID)
		}
		return nil
	})
}

// ErrCardNotFound is a programming error: UpdateCardDetailedData was asked
// to update a card that GetCardsForDetailedParsing just returned.
var ErrCardNotFound = errors.New("queue: card not found for detail update")
