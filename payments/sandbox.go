package payments

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/anjiri1684/rental_escrow/escrow"
)

type sandboxHold struct {
	txnID   string
	amount  float64
	settled string
}

// SandboxGateway is an in-process provider used when no gateway is
// configured. Holds are keyed by reference so repeated calls return the
// same transaction, as a real provider does with an idempotency key.
type SandboxGateway struct {
	mu     sync.Mutex
	holds  map[string]*sandboxHold
	byTxn  map[string]*sandboxHold
	logger *slog.Logger
}

var _ escrow.Gateway = (*SandboxGateway)(nil)

func NewSandboxGateway(logger *slog.Logger) *SandboxGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &SandboxGateway{
		holds:  make(map[string]*sandboxHold),
		byTxn:  make(map[string]*sandboxHold),
		logger: logger.With("component", "sandbox_gateway"),
	}
}

func (g *SandboxGateway) Hold(ctx context.Context, req escrow.GatewayRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.Amount <= 0 {
		return "", fmt.Errorf("%w: amount must be positive", escrow.ErrDeclined)
	}
	if _, err := accountFor(req.Method, req.Party); err != nil {
		return "", fmt.Errorf("%w: %v", escrow.ErrDeclined, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if h, ok := g.holds[req.Reference]; ok {
		return h.txnID, nil
	}
	h := &sandboxHold{txnID: "sbx_hold_" + uuid.NewString(), amount: req.Amount}
	g.holds[req.Reference] = h
	g.byTxn[h.txnID] = h
	g.logger.Info("funds held", "reference", req.Reference, "amount", req.Amount, "txn", h.txnID)
	return h.txnID, nil
}

func (g *SandboxGateway) Release(ctx context.Context, req escrow.GatewayRequest) (string, error) {
	return g.settle(ctx, "release", req)
}

func (g *SandboxGateway) Refund(ctx context.Context, req escrow.GatewayRequest) (string, error) {
	return g.settle(ctx, "refund", req)
}

func (g *SandboxGateway) settle(ctx context.Context, op string, req escrow.GatewayRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.byTxn[req.HoldTxnID]
	if !ok {
		return "", fmt.Errorf("%w: unknown hold %q", escrow.ErrDeclined, req.HoldTxnID)
	}
	switch h.settled {
	case "":
	case op:
		return fmt.Sprintf("sbx_%s_%s", op, h.txnID), nil
	default:
		return "", fmt.Errorf("%w: hold already settled by %s", escrow.ErrDeclined, h.settled)
	}
	if req.Amount > h.amount {
		return "", fmt.Errorf("%w: %s exceeds held amount", escrow.ErrDeclined, op)
	}
	h.settled = op
	g.logger.Info("funds settled", "op", op, "reference", req.Reference, "party", req.Party, "amount", req.Amount)
	return fmt.Sprintf("sbx_%s_%s", op, h.txnID), nil
}
