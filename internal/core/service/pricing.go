package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

const (
	DefaultPromoKeyword = "hello"
	NoDiscountNote      = "No discount"
)

var DefaultPromoPercent = decimal.NewFromInt(10)

// DiscountRule decides whether a promo token earns a discount on total.
type DiscountRule interface {
	Discount(total decimal.Decimal, promo string) (amount decimal.Decimal, note string, ok bool)
}

// PromoKeywordRule grants Percent of the total when the promo token equals
// Keyword, ignoring case.
type PromoKeywordRule struct {
	Keyword string
	Percent decimal.Decimal
}

func (r PromoKeywordRule) Discount(total decimal.Decimal, promo string) (decimal.Decimal, string, bool) {
	if r.Keyword == "" || !strings.EqualFold(promo, r.Keyword) {
		return decimal.Zero, "", false
	}
	amount := total.Mul(r.Percent).Div(decimal.NewFromInt(100))
	return amount, fmt.Sprintf("%s%% discount applied (promo: %s)", r.Percent.String(), r.Keyword), true
}

type Quote struct {
	Total    decimal.Decimal
	Discount decimal.Decimal
	Note     string
}

// PricingEngine totals reserved lines and applies the first matching
// discount rule. Latency simulates slow business rules.
type PricingEngine struct {
	rules   []DiscountRule
	latency time.Duration
	tracer  trace.Tracer
}

func NewPricingEngine(tracer trace.Tracer, latency time.Duration, rules ...DiscountRule) *PricingEngine {
	return &PricingEngine{
		rules:   rules,
		latency: latency,
		tracer:  tracer,
	}
}

// Price is the pure pricing computation.
func (e *PricingEngine) Price(lines []domain.OrderLine, promo string) Quote {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Amount())
	}

	for _, rule := range e.rules {
		if amount, note, ok := rule.Discount(total, promo); ok {
			return Quote{Total: total, Discount: amount, Note: note}
		}
	}
	return Quote{Total: total, Discount: decimal.Zero, Note: NoDiscountNote}
}

// Quote waits out the configured latency and prices the lines.
func (e *PricingEngine) Quote(ctx context.Context, lines []domain.OrderLine, promo string) (Quote, error) {
	ctx, span := e.tracer.Start(ctx, "pricing.quote")
	defer span.End()

	if e.latency > 0 {
		timer := time.NewTimer(e.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Quote{}, ctx.Err()
		case <-timer.C:
		}
	}

	q := e.Price(lines, promo)
	span.SetAttributes(
		attribute.String("pricing.total", q.Total.String()),
		attribute.String("pricing.discount", q.Discount.String()),
	)
	return q, nil
}
