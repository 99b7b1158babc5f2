// Command stress_test floods a running worker (STORE_BACKEND=redis,
// QUEUE_BACKEND=redis) with concurrent orders for one item and checks that
// stock was never oversold.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/rl1809/order-fulfillment/internal/adapter/queue"
	"github.com/rl1809/order-fulfillment/internal/adapter/storage"
	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

const (
	initialStock  = 20
	totalRequests = 50
	waitTimeout   = 2 * time.Minute
)

func main() {
	ctx := context.Background()

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	queueName := os.Getenv("QUEUE_NAME")
	if queueName == "" {
		queueName = "orders"
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	store := storage.NewRedisAdapter(rdb)
	publisher := queue.NewRedisPublisher(redis.NewClient(&redis.Options{Addr: redisAddr}), queueName)
	defer publisher.Close()

	itemID := uuid.New()
	if err := store.CreateItem(ctx, domain.InventoryItem{
		ID:                itemID,
		Name:              "flash-sale-item",
		AvailableQuantity: initialStock,
		UnitPrice:         decimal.RequireFromString("9.99"),
	}); err != nil {
		log.Fatalf("failed to seed item: %v", err)
	}

	orderIDs := make([]uuid.UUID, totalRequests)
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			ev := domain.OrderEvent{
				OrderID:    uuid.New(),
				CustomerID: fmt.Sprintf("user-%d", i),
				Items:      []domain.EventItem{{InventoryItemID: itemID, Quantity: 1}},
			}
			orderIDs[i] = ev.OrderID

			body, err := domain.EncodeOrderEvent(ev)
			if err != nil {
				log.Fatalf("encode: %v", err)
			}
			if err := publisher.Publish(ctx, ev.OrderID.String(), body, nil); err != nil {
				log.Fatalf("publish: %v", err)
			}
		}(i)
	}
	wg.Wait()

	processed, failed, pending := 0, 0, 0
	deadline := time.Now().Add(waitTimeout)
	for {
		processed, failed, pending = 0, 0, 0
		for _, id := range orderIDs {
			order, err := store.FindOrder(ctx, id)
			if err != nil {
				log.Fatalf("find order %s: %v", id, err)
			}
			switch {
			case order == nil || order.Status == domain.OrderStatusPending:
				pending++
			case order.Status == domain.OrderStatusProcessed:
				processed++
			default:
				failed++
			}
		}
		if pending == 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}
	elapsed := time.Since(start)

	item, err := store.FindItem(ctx, itemID)
	if err != nil || item == nil {
		log.Fatalf("failed to read final stock: %v", err)
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Orders:     %d\n", totalRequests)
	fmt.Printf("Processed:        %d\n", processed)
	fmt.Printf("Failed:           %d\n", failed)
	fmt.Printf("Pending:          %d\n", pending)
	fmt.Printf("Final Stock:      %d\n", item.AvailableQuantity)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	ok := true
	if pending > 0 {
		fmt.Printf("FAIL: %d orders still pending after %v\n", pending, waitTimeout)
		ok = false
	}
	if processed != initialStock || failed != totalRequests-initialStock {
		fmt.Printf("FAIL: Expected %d processed/%d failed, got %d/%d\n",
			initialStock, totalRequests-initialStock, processed, failed)
		ok = false
	}
	if item.AvailableQuantity != 0 {
		fmt.Printf("FAIL: Expected stock 0, got %d\n", item.AvailableQuantity)
		ok = false
	}
	if !ok {
		os.Exit(1)
	}
	fmt.Println("PASS: no oversell, stock depleted to 0")
}
