package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/mbd888/walletguard/internal/pagination"
	"github.com/mbd888/walletguard/internal/protocol"
)

// PostgresStore persists verdicts in PostgreSQL. The schema lives in
// migrations/ and is applied with goose.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed verdict store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const verdictColumns = `id, wallet, contract, tx_type, risk, score, reasons,
	graph_signals, forecast_signals, outcome, reason, source, created_at, decided_at`

func (s *PostgresStore) Record(ctx context.Context, v *Verdict) error {
	reasons, err := json.Marshal(nonNil(v.Assessment.Reasons))
	if err != nil {
		return fmt.Errorf("failed to marshal reasons: %w", err)
	}
	graph, err := nullableJSON(v.Assessment.GraphSignals)
	if err != nil {
		return fmt.Errorf("failed to marshal graph signals: %w", err)
	}
	forecast, err := nullableJSON(v.Assessment.ForecastSignals)
	if err != nil {
		return fmt.Errorf("failed to marshal forecast signals: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO verdicts (`+verdictColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		v.ID,
		v.Wallet,
		v.Contract,
		string(v.TxType),
		string(v.Assessment.Risk),
		v.Assessment.Score,
		string(reasons),
		graph,
		forecast,
		string(v.Outcome),
		v.Reason,
		string(v.Source),
		v.CreatedAt,
		v.DecidedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			switch {
			case pqErr.Code == "23505":
				return ErrDuplicateVerdict
			// 22: data exception, 23: integrity constraint violation.
			case pqErr.Code.Class() == "22" || pqErr.Code.Class() == "23":
				return fmt.Errorf("%w: %s", ErrInvalidVerdict, pqErr.Message)
			}
		}
		return fmt.Errorf("failed to record verdict: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Verdict, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+verdictColumns+` FROM verdicts WHERE id = $1`, id)
	v, err := scanVerdict(row)
	if err == sql.ErrNoRows {
		return nil, ErrVerdictNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get verdict: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) List(ctx context.Context, cursor string, limit int) (*Page, error) {
	c, err := pagination.Decode(cursor)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	limit = ClampLimit(limit)

	var rows *sql.Rows
	if c == nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+verdictColumns+`
			FROM verdicts
			ORDER BY created_at DESC, id DESC
			LIMIT $1
		`, limit+1)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+verdictColumns+`
			FROM verdicts
			WHERE (created_at, id) < ($1, $2)
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		`, c.CreatedAt, c.ID, limit+1)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list verdicts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Verdict
	for rows.Next() {
		v, err := scanVerdict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan verdict: %w", err)
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list verdicts: %w", err)
	}

	items, next, more := pagination.ComputePage(result, limit, verdictKey)
	if items == nil {
		items = []*Verdict{}
	}
	return &Page{Verdicts: items, NextCursor: next, HasMore: more}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVerdict(sc scanner) (*Verdict, error) {
	var (
		v                        Verdict
		txType, tier             string
		outcome, source          string
		reasons, graph, forecast []byte
		createdAt, decidedAt     time.Time
	)
	err := sc.Scan(&v.ID, &v.Wallet, &v.Contract, &txType, &tier, &v.Assessment.Score,
		&reasons, &graph, &forecast, &outcome, &v.Reason, &source, &createdAt, &decidedAt)
	if err != nil {
		return nil, err
	}

	v.TxType = TxType(txType)
	v.Assessment.Risk = Tier(tier)
	v.Outcome = protocol.Outcome(outcome)
	v.Source = protocol.Source(source)
	v.CreatedAt = createdAt
	v.DecidedAt = decidedAt

	if err := json.Unmarshal(reasons, &v.Assessment.Reasons); err != nil {
		return nil, fmt.Errorf("decode reasons: %w", err)
	}
	if len(graph) > 0 {
		v.Assessment.GraphSignals = &GraphSignals{}
		if err := json.Unmarshal(graph, v.Assessment.GraphSignals); err != nil {
			return nil, fmt.Errorf("decode graph signals: %w", err)
		}
	}
	if len(forecast) > 0 {
		v.Assessment.ForecastSignals = &ForecastSignals{}
		if err := json.Unmarshal(forecast, v.Assessment.ForecastSignals); err != nil {
			return nil, fmt.Errorf("decode forecast signals: %w", err)
		}
	}
	return &v, nil
}

// nullableJSON encodes p as a JSON string, or SQL NULL when p is nil.
func nullableJSON[T any](p *T) (any, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
