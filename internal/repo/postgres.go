package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/algotrendy/execution-engine/internal/model"
)

// PostgresRepository implements OrderRepository using PostgreSQL as the
// source of truth. All monetary values are stored as NUMERIC for exact
// decimal precision.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL-backed repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const orderColumns = `id, client_order_id, exchange_order_id, symbol, exchange,
	side, type, status,
	quantity::TEXT, filled_quantity::TEXT, avg_fill_price::TEXT,
	price::TEXT, stop_price::TEXT,
	strategy_id, reject_reason, created_at, submitted_at, closed_at`

func (r *PostgresRepository) Create(ctx context.Context, o *model.Order) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO orders (id, client_order_id, exchange_order_id, symbol, exchange,
		                     side, type, status,
		                     quantity, filled_quantity, avg_fill_price, price, stop_price,
		                     strategy_id, reject_reason, created_at, submitted_at, closed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8,
		         $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12::NUMERIC, $13::NUMERIC,
		         $14, $15, $16, $17, $18)`,
		o.ID, o.ClientOrderID, o.ExchangeOrderID, o.Symbol, o.Exchange,
		o.Side, o.Type, o.Status,
		o.Quantity.String(), o.FilledQuantity.String(), o.AvgFillPrice.String(),
		o.Price.String(), o.StopPrice.String(),
		o.StrategyID, o.RejectReason, o.CreatedAt, o.SubmittedAt, o.ClosedAt,
	)
	return err
}

func (r *PostgresRepository) Update(ctx context.Context, o *model.Order) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders
		 SET exchange_order_id = $2, status = $3,
		     filled_quantity = $4::NUMERIC, avg_fill_price = $5::NUMERIC,
		     reject_reason = $6, submitted_at = $7, closed_at = $8
		 WHERE id = $1`,
		o.ID, o.ExchangeOrderID, o.Status,
		o.FilledQuantity.String(), o.AvgFillPrice.String(),
		o.RejectReason, o.SubmittedAt, o.ClosedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update order %s: %w", o.ID, model.ErrNotFound)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

func (r *PostgresRepository) GetByClientOrderID(ctx context.Context, key string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE client_order_id = $1`, key)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("client order id %s: %w", key, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get order by client id %s: %w", key, err)
	}
	return o, nil
}

func (r *PostgresRepository) GetActiveOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE status NOT IN ('FILLED', 'CANCELLED', 'REJECTED', 'EXPIRED')
		 ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var qty, filled, avgPrice, price, stopPrice string

	if err := row.Scan(&o.ID, &o.ClientOrderID, &o.ExchangeOrderID, &o.Symbol, &o.Exchange,
		&o.Side, &o.Type, &o.Status,
		&qty, &filled, &avgPrice, &price, &stopPrice,
		&o.StrategyID, &o.RejectReason, &o.CreatedAt, &o.SubmittedAt, &o.ClosedAt); err != nil {
		return nil, err
	}

	o.Quantity, _ = decimal.NewFromString(qty)
	o.FilledQuantity, _ = decimal.NewFromString(filled)
	o.AvgFillPrice, _ = decimal.NewFromString(avgPrice)
	o.Price, _ = decimal.NewFromString(price)
	o.StopPrice, _ = decimal.NewFromString(stopPrice)

	return &o, nil
}
