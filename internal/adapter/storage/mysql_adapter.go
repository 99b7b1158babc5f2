package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

const mysqlErrDuplicateEntry = 1062

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS inventory (
		id CHAR(36) NOT NULL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		available_quantity INT NOT NULL,
		unit_price DECIMAL(18,4) NOT NULL,
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		CONSTRAINT chk_inventory_available CHECK (available_quantity >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id CHAR(36) NOT NULL PRIMARY KEY,
		customer_id VARCHAR(255) NOT NULL,
		items JSON NOT NULL,
		total_amount DECIMAL(18,4) NOT NULL,
		applied_discount DECIMAL(18,4) NOT NULL,
		status VARCHAR(16) NOT NULL,
		notes TEXT NULL,
		created_at DATETIME(6) NOT NULL,
		processed_at DATETIME(6) NULL
	)`,
}

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// Migrate creates the orders and inventory tables when missing.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range mysqlSchema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) FindOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	var (
		order       domain.Order
		rawID       string
		items       []byte
		status      string
		notes       sql.NullString
		processedAt sql.NullTime
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT id, customer_id, items, total_amount, applied_discount, status, notes, created_at, processed_at
		FROM orders WHERE id = ?`, id.String(),
	).Scan(&rawID, &order.CustomerID, &items, &order.TotalAmount, &order.AppliedDiscount,
		&status, &notes, &order.CreatedAt, &processedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	if order.ID, err = uuid.Parse(rawID); err != nil {
		return nil, fmt.Errorf("parse order id: %w", err)
	}
	if err := json.Unmarshal(items, &order.Items); err != nil {
		return nil, fmt.Errorf("decode order items: %w", err)
	}
	if order.Items == nil {
		order.Items = []domain.OrderLine{}
	}
	order.Status = domain.OrderStatus(status)
	order.Notes = notes.String
	order.CreatedAt = order.CreatedAt.UTC()
	if processedAt.Valid {
		t := processedAt.Time.UTC()
		order.ProcessedAt = &t
	}
	return &order, nil
}

func (m *MySQLAdapter) InsertOrderIfAbsent(ctx context.Context, order domain.Order) (bool, error) {
	args, err := orderArgs(order)
	if err != nil {
		return false, err
	}

	// A duplicate key turns the insert into a no-op update, reported as 0 rows.
	result, err := m.db.ExecContext(ctx, `
		INSERT INTO orders (id, customer_id, items, total_amount, applied_discount, status, notes, created_at, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE id = id`, args...,
	)
	if err != nil {
		return false, fmt.Errorf("insert order: %w", err)
	}

	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

func (m *MySQLAdapter) ReplaceOrder(ctx context.Context, order domain.Order) error {
	args, err := orderArgs(order)
	if err != nil {
		return err
	}

	result, err := m.db.ExecContext(ctx, `
		UPDATE orders
		SET customer_id = ?, items = ?, total_amount = ?, applied_discount = ?, status = ?, notes = ?, created_at = ?, processed_at = ?
		WHERE id = ?`, append(append([]any{}, args[1:]...), args[0])...,
	)
	if err != nil {
		return fmt.Errorf("replace order: %w", err)
	}

	// MySQL counts changed rows, so an identical rewrite also reports 0.
	rows, _ := result.RowsAffected()
	if rows == 0 {
		existing, err := m.FindOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("replace order %s: %w", order.ID, ErrNotFound)
		}
	}
	return nil
}

func (m *MySQLAdapter) FindItem(ctx context.Context, id uuid.UUID) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := m.db.QueryRowContext(ctx, `
		SELECT name, available_quantity, unit_price
		FROM inventory WHERE id = ?`, id.String(),
	).Scan(&item.Name, &item.AvailableQuantity, &item.UnitPrice)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}

	item.ID = id
	return &item, nil
}

func (m *MySQLAdapter) CreateItem(ctx context.Context, item domain.InventoryItem) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO inventory (id, name, available_quantity, unit_price)
		VALUES (?, ?, ?, ?)`,
		item.ID.String(), item.Name, item.AvailableQuantity, item.UnitPrice.String(),
	)

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry {
		return fmt.Errorf("create item %s: %w", item.ID, ErrDuplicateID)
	}
	if err != nil {
		return fmt.Errorf("insert inventory: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) ConditionalDecrement(ctx context.Context, id uuid.UUID, quantity int) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE inventory
		SET available_quantity = available_quantity - ?, updated_at = NOW(6)
		WHERE id = ? AND available_quantity >= ?`,
		quantity, id.String(), quantity,
	)
	if err != nil {
		return false, fmt.Errorf("update inventory: %w", err)
	}

	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

// orderArgs returns the column values in insert order, id first.
func orderArgs(order domain.Order) ([]any, error) {
	lines := order.Items
	if lines == nil {
		lines = []domain.OrderLine{}
	}
	items, err := json.Marshal(lines)
	if err != nil {
		return nil, fmt.Errorf("encode order items: %w", err)
	}

	var notes sql.NullString
	if order.Notes != "" {
		notes = sql.NullString{String: order.Notes, Valid: true}
	}
	var processedAt sql.NullTime
	if order.ProcessedAt != nil {
		processedAt = sql.NullTime{Time: order.ProcessedAt.UTC(), Valid: true}
	}

	return []any{
		order.ID.String(),
		order.CustomerID,
		items,
		order.TotalAmount.String(),
		order.AppliedDiscount.String(),
		string(order.Status),
		notes,
		order.CreatedAt.UTC(),
		processedAt,
	}, nil
}

// OpenMySQL opens a pool and verifies connectivity.
func OpenMySQL(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}
