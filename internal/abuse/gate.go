// Package abuse enforces per-IP and per-subject velocity limits on
// sensitive flows. Windows live in Redis so limits hold across instances;
// every denial is recorded as an append-only AbuseRiskEvent. Monetary flows
// fail closed when the window store is unreachable.
package abuse

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/database"
)

// Flow identifies a protected flow.
type Flow string

const (
	FlowSignup           Flow = "signup"
	FlowLogin            Flow = "login"
	FlowDisplayNameCheck Flow = "display_name_check"
	FlowOrderCreate      Flow = "order_create"
	FlowPaymentStart     Flow = "payment_start"
	FlowRefundRequest    Flow = "refund_request"
	FlowPinVerify        Flow = "pin_verify"
)

type limit struct {
	Max      int
	Window   time.Duration
	Monetary bool // fail closed when Redis is down
}

// Per-flow limits. Subject limits use the same budget as IP limits.
var limits = map[Flow]limit{
	FlowSignup:           {Max: 5, Window: time.Hour},
	FlowLogin:            {Max: 10, Window: 15 * time.Minute},
	FlowDisplayNameCheck: {Max: 60, Window: time.Minute},
	FlowOrderCreate:      {Max: 20, Window: time.Hour, Monetary: true},
	FlowPaymentStart:     {Max: 20, Window: time.Hour, Monetary: true},
	FlowRefundRequest:    {Max: 5, Window: 24 * time.Hour, Monetary: true},
	FlowPinVerify:        {Max: 15, Window: 10 * time.Minute, Monetary: true},
}

type Gate struct {
	rdb    *redis.Client
	db     *database.DB
	logger *log.Logger
}

func NewGate(rdb *redis.Client, db *database.DB) *Gate {
	return &Gate{
		rdb:    rdb,
		db:     db,
		logger: log.New(log.Writer(), "[ABUSE] ", log.LstdFlags),
	}
}

// Check applies both window keys for the flow. subject may be empty for
// unauthenticated flows. Returns RATE_LIMITED on breach.
func (g *Gate) Check(ctx context.Context, flow Flow, ip, subject string) error {
	cfg, ok := limits[flow]
	if !ok {
		return nil
	}

	keys := []string{windowKey(flow, "ip", ip)}
	if subject != "" {
		keys = append(keys, windowKey(flow, "subject", subject))
	}

	for _, key := range keys {
		count, err := g.bump(ctx, key, cfg.Window)
		if err != nil {
			if cfg.Monetary {
				g.record(ctx, flow, subject, ip, "failed_closed", map[string]interface{}{"error": err.Error()})
				g.logger.Printf("🚫 Window store unavailable, failing closed: flow=%s", flow)
				return apperr.RateLimited.WithMessage("service is temporarily limiting this flow")
			}
			g.logger.Printf("⚠️ Window store unavailable, failing open: flow=%s err=%v", flow, err)
			return nil
		}
		if count > int64(cfg.Max) {
			g.record(ctx, flow, subject, ip, "denied", map[string]interface{}{
				"key": key, "count": count, "limit": cfg.Max,
			})
			g.logger.Printf("🚫 Rate limit exceeded: flow=%s key=%s count=%d limit=%d", flow, key, count, cfg.Max)
			return apperr.RateLimited
		}
	}
	return nil
}

// bump implements a two-bucket sliding window: INCR the current bucket and
// weigh in the previous one. Fixed-window with one-window memory, same
// shape as the in-process limiter this replaced.
func (g *Gate) bump(ctx context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now()
	bucket := now.Truncate(window).Unix()
	currentKey := fmt.Sprintf("%s:%d", key, bucket)
	previousKey := fmt.Sprintf("%s:%d", key, bucket-int64(window.Seconds()))

	pipe := g.rdb.Pipeline()
	incr := pipe.Incr(ctx, currentKey)
	pipe.Expire(ctx, currentKey, 2*window)
	prev := pipe.Get(ctx, previousKey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, err
	}

	count := incr.Val()
	if prevCount, err := prev.Int64(); err == nil {
		elapsed := now.Sub(now.Truncate(window)).Seconds()
		weight := 1 - elapsed/window.Seconds()
		count += int64(float64(prevCount) * weight)
	}
	return count, nil
}

func windowKey(flow Flow, kind, value string) string {
	return fmt.Sprintf("abuse:%s:%s:%s", flow, kind, value)
}

// record appends an AbuseRiskEvent. Logging failures are not fatal to the
// request path.
func (g *Gate) record(ctx context.Context, flow Flow, subject, ip, decision string, detail map[string]interface{}) {
	detailJSON, _ := json.Marshal(detail)
	var subjectArg interface{}
	if subject != "" {
		subjectArg = subject
	}
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO abuse_risk_events (flow, subject, ip, decision, detail)
		VALUES ($1, $2, $3, $4, $5)`,
		string(flow), subjectArg, ip, decision, detailJSON)
	if err != nil {
		g.logger.Printf("⚠️ Failed to record risk event: %v", err)
	}
}
