package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/rl1809/order-fulfillment/internal/adapter/storage"
	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/metrics"
	"github.com/rl1809/order-fulfillment/internal/port"
)

type HTTPHandler struct {
	publisher port.Publisher
	orders    port.OrderRepository
	inventory port.InventoryRepository
	collector *metrics.Collector
	logger    *zap.Logger
}

type CreateOrderRequest struct {
	CustomerID string             `json:"customerId"`
	Items      []domain.EventItem `json:"items"`
	PromoCode  *string            `json:"promoCode"`
}

type CreateOrderResponse struct {
	OrderID uuid.UUID          `json:"orderId"`
	Status  domain.OrderStatus `json:"status"`
}

type CreateInventoryRequest struct {
	Name              string          `json:"name"`
	AvailableQuantity int             `json:"availableQuantity"`
	UnitPrice         decimal.Decimal `json:"unitPrice"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func NewHTTPHandler(
	publisher port.Publisher,
	orders port.OrderRepository,
	inventory port.InventoryRepository,
	collector *metrics.Collector,
	logger *zap.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		publisher: publisher,
		orders:    orders,
		inventory: inventory,
		collector: collector,
		logger:    logger,
	}
}

func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Post("/orders", h.CreateOrder)
	r.Get("/orders/{id}", h.GetOrder)
	r.Post("/inventory", h.CreateInventory)
	r.Get("/metrics", h.GetMetrics)
	r.Get("/health", h.HealthCheck)
	return r
}

// CreateOrder publishes an order event and returns before it is processed.
func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if msg := validateOrder(req); msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_order", msg)
		return
	}

	ev := domain.OrderEvent{
		OrderID:    uuid.New(),
		CustomerID: req.CustomerID,
		Items:      req.Items,
		PromoCode:  req.PromoCode,
	}
	body, err := domain.EncodeOrderEvent(ev)
	if err != nil {
		h.logger.Error("failed to encode order event", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	headers := map[string]string{}
	otel.GetTextMapPropagator().Inject(r.Context(), propagation.MapCarrier(headers))

	if err := h.publisher.Publish(r.Context(), ev.OrderID.String(), body, headers); err != nil {
		h.logger.Error("failed to publish order event",
			zap.String("order_id", ev.OrderID.String()), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "queue_unavailable", "order could not be queued")
		return
	}

	h.logger.Info("order accepted",
		zap.String("order_id", ev.OrderID.String()),
		zap.String("customer_id", ev.CustomerID),
		zap.Int("items", len(ev.Items)),
	)
	w.Header().Set("Location", "/orders/"+ev.OrderID.String())
	writeJSON(w, http.StatusAccepted, CreateOrderResponse{
		OrderID: ev.OrderID,
		Status:  domain.OrderStatusPending,
	})
}

func validateOrder(req CreateOrderRequest) string {
	if strings.TrimSpace(req.CustomerID) == "" {
		return "customerId is required"
	}
	if len(req.Items) == 0 {
		return "at least one item is required"
	}
	for _, it := range req.Items {
		if it.InventoryItemID == uuid.Nil {
			return "inventoryItemId is required"
		}
		if it.Quantity <= 0 {
			return "quantity must be positive"
		}
	}
	return ""
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "order id must be a UUID")
		return
	}

	order, err := h.orders.FindOrder(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to load order", zap.String("order_id", id.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	if order == nil {
		writeError(w, http.StatusNotFound, "not_found", "order not found")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) CreateInventory(w http.ResponseWriter, r *http.Request) {
	var req CreateInventoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	switch {
	case strings.TrimSpace(req.Name) == "":
		writeError(w, http.StatusBadRequest, "invalid_item", "name is required")
		return
	case req.UnitPrice.IsNegative():
		writeError(w, http.StatusBadRequest, "invalid_item", "unitPrice must not be negative")
		return
	case req.AvailableQuantity < 0:
		writeError(w, http.StatusBadRequest, "invalid_item", "availableQuantity must not be negative")
		return
	}

	item := domain.InventoryItem{
		ID:                uuid.New(),
		Name:              strings.TrimSpace(req.Name),
		AvailableQuantity: req.AvailableQuantity,
		UnitPrice:         req.UnitPrice,
	}
	if err := h.inventory.CreateItem(r.Context(), item); err != nil {
		if errors.Is(err, storage.ErrDuplicateID) {
			writeError(w, http.StatusConflict, "duplicate_item", "")
			return
		}
		h.logger.Error("failed to create inventory item", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	w.Header().Set("Location", "/inventory/"+item.ID.String())
	writeJSON(w, http.StatusCreated, item)
}

func (h *HTTPHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.collector.Stats())
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}
