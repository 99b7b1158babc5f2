package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

const pgUniqueViolation = "23505"

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS inventory (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		available_quantity INTEGER NOT NULL CHECK (available_quantity >= 0),
		unit_price NUMERIC(18,4) NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id UUID PRIMARY KEY,
		customer_id TEXT NOT NULL,
		items JSONB NOT NULL,
		total_amount NUMERIC(18,4) NOT NULL,
		applied_discount NUMERIC(18,4) NOT NULL,
		status VARCHAR(16) NOT NULL,
		notes TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		processed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
}

// PostgresAdapter is the pgx-backed document store. Numeric columns cross the
// wire as text so decimals keep their exact value.
type PostgresAdapter struct {
	pool *pgxpool.Pool
}

func NewPostgresAdapter(pool *pgxpool.Pool) *PostgresAdapter {
	return &PostgresAdapter{pool: pool}
}

func OpenPostgres(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func (p *PostgresAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (p *PostgresAdapter) FindOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	var (
		order                  domain.Order
		items, total, discount string
		status                 string
		notes                  *string
		processedAt            *time.Time
	)
	err := p.pool.QueryRow(ctx, `
		SELECT customer_id, items::text, total_amount::text, applied_discount::text, status, notes, created_at, processed_at
		FROM orders WHERE id = $1`, id.String(),
	).Scan(&order.CustomerID, &items, &total, &discount, &status, &notes, &order.CreatedAt, &processedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	order.ID = id
	if err := json.Unmarshal([]byte(items), &order.Items); err != nil {
		return nil, fmt.Errorf("decode order items: %w", err)
	}
	if order.Items == nil {
		order.Items = []domain.OrderLine{}
	}
	if order.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	if order.AppliedDiscount, err = decimal.NewFromString(discount); err != nil {
		return nil, fmt.Errorf("parse discount: %w", err)
	}
	order.Status = domain.OrderStatus(status)
	if notes != nil {
		order.Notes = *notes
	}
	order.CreatedAt = order.CreatedAt.UTC()
	if processedAt != nil {
		t := processedAt.UTC()
		order.ProcessedAt = &t
	}
	return &order, nil
}

func (p *PostgresAdapter) InsertOrderIfAbsent(ctx context.Context, order domain.Order) (bool, error) {
	args, err := pgOrderArgs(order)
	if err != nil {
		return false, err
	}

	tag, err := p.pool.Exec(ctx, `
		INSERT INTO orders (id, customer_id, items, total_amount, applied_discount, status, notes, created_at, processed_at)
		VALUES ($1, $2, $3::jsonb, $4::numeric, $5::numeric, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`, args...,
	)
	if err != nil {
		return false, fmt.Errorf("insert order: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PostgresAdapter) ReplaceOrder(ctx context.Context, order domain.Order) error {
	args, err := pgOrderArgs(order)
	if err != nil {
		return err
	}

	tag, err := p.pool.Exec(ctx, `
		UPDATE orders
		SET customer_id = $2, items = $3::jsonb, total_amount = $4::numeric, applied_discount = $5::numeric,
			status = $6, notes = $7, created_at = $8, processed_at = $9
		WHERE id = $1`, args...,
	)
	if err != nil {
		return fmt.Errorf("replace order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("replace order %s: %w", order.ID, ErrNotFound)
	}
	return nil
}

func (p *PostgresAdapter) FindItem(ctx context.Context, id uuid.UUID) (*domain.InventoryItem, error) {
	var (
		item  domain.InventoryItem
		price string
	)
	err := p.pool.QueryRow(ctx, `
		SELECT name, available_quantity, unit_price::text
		FROM inventory WHERE id = $1`, id.String(),
	).Scan(&item.Name, &item.AvailableQuantity, &price)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}

	if item.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse unit price: %w", err)
	}
	item.ID = id
	return &item, nil
}

func (p *PostgresAdapter) CreateItem(ctx context.Context, item domain.InventoryItem) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO inventory (id, name, available_quantity, unit_price)
		VALUES ($1, $2, $3, $4::numeric)`,
		item.ID.String(), item.Name, item.AvailableQuantity, item.UnitPrice.String(),
	)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("create item %s: %w", item.ID, ErrDuplicateID)
	}
	if err != nil {
		return fmt.Errorf("insert inventory: %w", err)
	}
	return nil
}

func (p *PostgresAdapter) ConditionalDecrement(ctx context.Context, id uuid.UUID, quantity int) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE inventory
		SET available_quantity = available_quantity - $2, updated_at = NOW()
		WHERE id = $1 AND available_quantity >= $2`,
		id.String(), quantity,
	)
	if err != nil {
		return false, fmt.Errorf("update inventory: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func pgOrderArgs(order domain.Order) ([]any, error) {
	lines := order.Items
	if lines == nil {
		lines = []domain.OrderLine{}
	}
	items, err := json.Marshal(lines)
	if err != nil {
		return nil, fmt.Errorf("encode order items: %w", err)
	}

	var notes *string
	if order.Notes != "" {
		notes = &order.Notes
	}
	var processedAt *time.Time
	if order.ProcessedAt != nil {
		t := order.ProcessedAt.UTC()
		processedAt = &t
	}

	return []any{
		order.ID.String(),
		order.CustomerID,
		string(items),
		order.TotalAmount.String(),
		order.AppliedDiscount.String(),
		string(order.Status),
		notes,
		order.CreatedAt.UTC(),
		processedAt,
	}, nil
}
