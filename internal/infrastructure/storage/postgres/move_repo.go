package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/money"
	"stockledger/internal/domain/ledger"
)

const stockMovesTable = "stock_moves"

// MoveRepo implements ledger.MoveRepository over the stock_moves table.
// The table is append-only: historical rows are never updated or deleted,
// except for cost population before the appending transaction commits.
type MoveRepo struct {
	txManager *TxManager
	builder   squirrel.StatementBuilderType
}

// NewMoveRepo creates a new stock move repository.
func NewMoveRepo(txManager *TxManager) *MoveRepo {
	return &MoveRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

var moveColumns = []string{
	"move_id", "seq", "tenant_id", "product_id", "warehouse_id", "location_id", "lot_id",
	"move_type", "quantity", "reference_type", "reference_id",
	"unit_cost", "total_cost", "idempotency_key", "reason", "created_at", "created_by",
}

// Append inserts the move and assigns its audit sequence number.
// Must be called inside the pipeline transaction.
func (r *MoveRepo) Append(ctx context.Context, m *entity.StockMove) error {
	if r.txManager.GetTx(ctx) == nil {
		return fmt.Errorf("move append requires transaction context")
	}

	sql := `
		INSERT INTO stock_moves (
			move_id, tenant_id, product_id, warehouse_id, location_id, lot_id,
			move_type, quantity, reference_type, reference_id,
			unit_cost, total_cost, idempotency_key, reason, created_at, created_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING seq
	`

	querier := r.txManager.GetQuerier(ctx)
	err := querier.QueryRow(ctx, sql,
		m.MoveID, m.TenantID, m.ProductID, m.WarehouseID, m.LocationID, m.LotID,
		m.MoveType, m.Quantity, m.ReferenceType, m.ReferenceID,
		costArg(m.UnitCost), costArg(m.TotalCost), m.IdempotencyKey, m.Reason, m.CreatedAt, m.CreatedBy,
	).Scan(&m.Seq)
	if err != nil {
		return fmt.Errorf("append move: %w", err)
	}

	return nil
}

// SetCost populates the computed cost of a freshly appended move.
// Only valid inside the same transaction that appended the move; after commit
// the row is immutable.
func (r *MoveRepo) SetCost(ctx context.Context, tenantID, moveID id.ID, unitCost, totalCost money.Money) error {
	if r.txManager.GetTx(ctx) == nil {
		return fmt.Errorf("move cost population requires transaction context")
	}

	q := r.builder.Update(stockMovesTable).
		Set("unit_cost", unitCost.MinorUnits()).
		Set("total_cost", totalCost.MinorUnits()).
		Where(squirrel.Eq{"tenant_id": tenantID, "move_id": moveID})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("set move cost: %w", err)
	}

	return nil
}

// GetByID retrieves a move scoped to its tenant.
func (r *MoveRepo) GetByID(ctx context.Context, tenantID, moveID id.ID) (*entity.StockMove, error) {
	q := r.builder.Select(moveColumns...).
		From(stockMovesTable).
		Where(squirrel.Eq{"tenant_id": tenantID, "move_id": moveID})

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var row moveRow
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get move: %w", err)
	}

	return row.toEntity(), nil
}

// GetByIdempotencyKey returns the move created under the given key, if any.
func (r *MoveRepo) GetByIdempotencyKey(ctx context.Context, tenantID id.ID, key string) (*entity.StockMove, error) {
	q := r.builder.Select(moveColumns...).
		From(stockMovesTable).
		Where(squirrel.Eq{"tenant_id": tenantID, "idempotency_key": key})

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var row moveRow
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get move by idempotency key: %w", err)
	}

	return row.toEntity(), nil
}

// FindReversal returns the reversal move of an original, if one exists.
func (r *MoveRepo) FindReversal(ctx context.Context, tenantID, originalMoveID id.ID) (*entity.StockMove, error) {
	q := r.builder.Select(moveColumns...).
		From(stockMovesTable).
		Where(squirrel.Eq{
			"tenant_id":      tenantID,
			"reference_type": ledger.ReferenceTypeReversal,
			"reference_id":   originalMoveID,
		}).Limit(1)

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var row moveRow
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find reversal: %w", err)
	}

	return row.toEntity(), nil
}

// List returns movement history ordered by audit sequence, newest first.
func (r *MoveRepo) List(ctx context.Context, tenantID id.ID, filter ledger.MoveFilter) ([]entity.StockMove, error) {
	q := r.builder.Select(moveColumns...).
		From(stockMovesTable).
		Where(squirrel.Eq{"tenant_id": tenantID})

	if filter.ProductID != nil {
		q = q.Where(squirrel.Eq{"product_id": *filter.ProductID})
	}
	if filter.WarehouseID != nil {
		q = q.Where(squirrel.Eq{"warehouse_id": *filter.WarehouseID})
	}
	if filter.LocationID != nil {
		q = q.Where(squirrel.Eq{"location_id": *filter.LocationID})
	}
	if filter.MoveType != nil {
		q = q.Where(squirrel.Eq{"move_type": *filter.MoveType})
	}
	if filter.From != nil {
		q = q.Where(squirrel.GtOrEq{"created_at": *filter.From})
	}
	if filter.To != nil {
		q = q.Where(squirrel.Lt{"created_at": *filter.To})
	}

	q = q.OrderBy("seq DESC")

	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []moveRow
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("select moves: %w", err)
	}

	moves := make([]entity.StockMove, len(rows))
	for i := range rows {
		moves[i] = *rows[i].toEntity()
	}
	return moves, nil
}

// Turnover aggregates receipt and issue totals for a period.
func (r *MoveRepo) Turnover(ctx context.Context, tenantID id.ID, filter ledger.TurnoverFilter) (ledger.Turnover, error) {
	var result ledger.Turnover

	args := []any{tenantID, filter.From, filter.To}
	conditions := "tenant_id = $1 AND created_at >= $2 AND created_at < $3"
	argIndex := 4

	if filter.WarehouseID != nil {
		conditions += fmt.Sprintf(" AND warehouse_id = $%d", argIndex)
		args = append(args, *filter.WarehouseID)
		result.WarehouseID = filter.WarehouseID
		argIndex++
	}
	if filter.ProductID != nil {
		conditions += fmt.Sprintf(" AND product_id = $%d", argIndex)
		args = append(args, *filter.ProductID)
		result.ProductID = filter.ProductID
	}

	sql := fmt.Sprintf(`
		SELECT
			COALESCE(SUM(CASE WHEN quantity > 0 THEN quantity ELSE 0 END), 0) AS receipt,
			COALESCE(SUM(CASE WHEN quantity < 0 THEN -quantity ELSE 0 END), 0) AS issue
		FROM stock_moves
		WHERE %s
		  AND move_type NOT IN ('reservation', 'release')
	`, conditions)

	querier := r.txManager.GetQuerier(ctx)
	err := querier.QueryRow(ctx, sql, args...).Scan(&result.Receipt, &result.Issue)
	if err != nil && err != pgx.ErrNoRows {
		return result, fmt.Errorf("calculate turnover: %w", err)
	}

	opening, err := r.balanceBefore(ctx, tenantID, filter, filter.From)
	if err != nil {
		return result, err
	}
	result.Opening = opening
	result.Closing = opening + result.Receipt - result.Issue

	return result, nil
}

// balanceBefore sums on-hand deltas strictly before the cutoff.
func (r *MoveRepo) balanceBefore(ctx context.Context, tenantID id.ID, filter ledger.TurnoverFilter, cutoff time.Time) (int64, error) {
	args := []any{tenantID, cutoff}
	conditions := "tenant_id = $1 AND created_at < $2"
	argIndex := 3

	if filter.WarehouseID != nil {
		conditions += fmt.Sprintf(" AND warehouse_id = $%d", argIndex)
		args = append(args, *filter.WarehouseID)
		argIndex++
	}
	if filter.ProductID != nil {
		conditions += fmt.Sprintf(" AND product_id = $%d", argIndex)
		args = append(args, *filter.ProductID)
	}

	sql := fmt.Sprintf(`
		SELECT COALESCE(SUM(quantity), 0)
		FROM stock_moves
		WHERE %s
		  AND move_type NOT IN ('reservation', 'release')
	`, conditions)

	var balance int64
	querier := r.txManager.GetQuerier(ctx)
	err := querier.QueryRow(ctx, sql, args...).Scan(&balance)
	if err != nil && err != pgx.ErrNoRows {
		return 0, fmt.Errorf("calculate opening balance: %w", err)
	}
	return balance, nil
}

// moveRow is the scan target with cost columns as nullable minor units.
type moveRow struct {
	MoveID         id.ID           `db:"move_id"`
	Seq            int64           `db:"seq"`
	TenantID       id.ID           `db:"tenant_id"`
	ProductID      id.ID           `db:"product_id"`
	WarehouseID    id.ID           `db:"warehouse_id"`
	LocationID     id.ID           `db:"location_id"`
	LotID          *id.ID          `db:"lot_id"`
	MoveType       entity.MoveType `db:"move_type"`
	Quantity       int64           `db:"quantity"`
	ReferenceType  string          `db:"reference_type"`
	ReferenceID    id.ID           `db:"reference_id"`
	UnitCost       *int64          `db:"unit_cost"`
	TotalCost      *int64          `db:"total_cost"`
	IdempotencyKey string          `db:"idempotency_key"`
	Reason         string          `db:"reason"`
	CreatedAt      time.Time       `db:"created_at"`
	CreatedBy      id.ID           `db:"created_by"`
}

func (r *moveRow) toEntity() *entity.StockMove {
	m := &entity.StockMove{
		MoveID:         r.MoveID,
		Seq:            r.Seq,
		TenantID:       r.TenantID,
		ProductID:      r.ProductID,
		WarehouseID:    r.WarehouseID,
		LocationID:     r.LocationID,
		LotID:          r.LotID,
		MoveType:       r.MoveType,
		Quantity:       r.Quantity,
		ReferenceType:  r.ReferenceType,
		ReferenceID:    r.ReferenceID,
		IdempotencyKey: r.IdempotencyKey,
		Reason:         r.Reason,
		CreatedAt:      r.CreatedAt,
		CreatedBy:      r.CreatedBy,
	}
	if r.UnitCost != nil {
		v := money.FromMinorUnits(*r.UnitCost)
		m.UnitCost = &v
	}
	if r.TotalCost != nil {
		v := money.FromMinorUnits(*r.TotalCost)
		m.TotalCost = &v
	}
	return m
}

// costArg converts an optional Money to a nullable insert argument.
func costArg(m *money.Money) *int64 {
	if m == nil {
		return nil
	}
	v := m.MinorUnits()
	return &v
}
