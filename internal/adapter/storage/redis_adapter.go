package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

const (
	orderKeyPrefix     = "order:"
	inventoryKeyPrefix = "inventory:"

	fieldName      = "name"
	fieldAvailable = "available_quantity"
	fieldUnitPrice = "unit_price"
)

var decrementStockScript = redis.NewScript(`
local key = KEYS[1]
local quantity = tonumber(ARGV[1])

local current = redis.call('HGET', key, 'available_quantity')
if not current then
	return 0
end

current = tonumber(current)
if current >= quantity then
	redis.call('HINCRBY', key, 'available_quantity', -quantity)
	return 1
end

return 0
`)

var createItemScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 1 then
	return 0
end
redis.call('HSET', key, 'name', ARGV[1], 'available_quantity', ARGV[2], 'unit_price', ARGV[3])
return 1
`)

// RedisAdapter stores order documents as JSON strings and inventory items as
// hashes.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func orderKey(id uuid.UUID) string     { return orderKeyPrefix + id.String() }
func inventoryKey(id uuid.UUID) string { return inventoryKeyPrefix + id.String() }

func (r *RedisAdapter) FindOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	data, err := r.client.Get(ctx, orderKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}

	var order domain.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("decode order %s: %w", id, err)
	}
	if order.Items == nil {
		order.Items = []domain.OrderLine{}
	}
	return &order, nil
}

func (r *RedisAdapter) InsertOrderIfAbsent(ctx context.Context, order domain.Order) (bool, error) {
	data, err := json.Marshal(order)
	if err != nil {
		return false, fmt.Errorf("encode order: %w", err)
	}

	ok, err := r.client.SetNX(ctx, orderKey(order.ID), data, 0).Result()
	if err != nil {
		return false, fmt.Errorf("insert order: %w", err)
	}
	return ok, nil
}

func (r *RedisAdapter) ReplaceOrder(ctx context.Context, order domain.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}

	ok, err := r.client.SetXX(ctx, orderKey(order.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("replace order: %w", err)
	}
	if !ok {
		return fmt.Errorf("replace order %s: %w", order.ID, ErrNotFound)
	}
	return nil
}

func (r *RedisAdapter) FindItem(ctx context.Context, id uuid.UUID) (*domain.InventoryItem, error) {
	fields, err := r.client.HGetAll(ctx, inventoryKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get inventory: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	available, err := strconv.Atoi(fields[fieldAvailable])
	if err != nil {
		return nil, fmt.Errorf("parse available quantity of %s: %w", id, err)
	}
	price, err := decimal.NewFromString(fields[fieldUnitPrice])
	if err != nil {
		return nil, fmt.Errorf("parse unit price of %s: %w", id, err)
	}

	return &domain.InventoryItem{
		ID:                id,
		Name:              fields[fieldName],
		AvailableQuantity: available,
		UnitPrice:         price,
	}, nil
}

func (r *RedisAdapter) CreateItem(ctx context.Context, item domain.InventoryItem) error {
	created, err := createItemScript.Run(ctx, r.client, []string{inventoryKey(item.ID)},
		item.Name, item.AvailableQuantity, item.UnitPrice.String()).Int()
	if err != nil {
		return fmt.Errorf("create inventory: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("create item %s: %w", item.ID, ErrDuplicateID)
	}
	return nil
}

func (r *RedisAdapter) ConditionalDecrement(ctx context.Context, id uuid.UUID, quantity int) (bool, error) {
	result, err := decrementStockScript.Run(ctx, r.client, []string{inventoryKey(id)}, quantity).Int()
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}

	return result == 1, nil
}
