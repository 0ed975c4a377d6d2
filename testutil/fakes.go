package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anjiri1684/rental_escrow/booking"
	"github.com/anjiri1684/rental_escrow/escrow"
	"github.com/anjiri1684/rental_escrow/models"
)

type GatewayCall struct {
	Op  string
	Req escrow.GatewayRequest
}

// Gateway is a scripted escrow.Gateway. Errors queued with FailNext are
// returned, in order, before calls for that op start succeeding.
type Gateway struct {
	mu       sync.Mutex
	calls    []GatewayCall
	failures map[string][]error
	seq      int

	// Delay makes every call wait, honouring ctx.
	Delay time.Duration
}

var _ escrow.Gateway = (*Gateway)(nil)

func NewGateway() *Gateway {
	return &Gateway{failures: make(map[string][]error)}
}

func (g *Gateway) FailNext(op string, errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[op] = append(g.failures[op], errs...)
}

func (g *Gateway) Hold(ctx context.Context, req escrow.GatewayRequest) (string, error) {
	return g.do(ctx, "hold", req)
}

func (g *Gateway) Release(ctx context.Context, req escrow.GatewayRequest) (string, error) {
	return g.do(ctx, "release", req)
}

func (g *Gateway) Refund(ctx context.Context, req escrow.GatewayRequest) (string, error) {
	return g.do(ctx, "refund", req)
}

func (g *Gateway) do(ctx context.Context, op string, req escrow.GatewayRequest) (string, error) {
	if g.Delay > 0 {
		select {
		case <-time.After(g.Delay):
		case <-ctx.Done():
			g.record(op, req)
			return "", ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, GatewayCall{Op: op, Req: req})
	if q := g.failures[op]; len(q) > 0 {
		err := q[0]
		g.failures[op] = q[1:]
		return "", err
	}
	g.seq++
	return fmt.Sprintf("%s-%04d", op, g.seq), nil
}

func (g *Gateway) record(op string, req escrow.GatewayRequest) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, GatewayCall{Op: op, Req: req})
}

func (g *Gateway) Calls(op string) []escrow.GatewayRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []escrow.GatewayRequest
	for _, c := range g.calls {
		if c.Op == op {
			out = append(out, c.Req)
		}
	}
	return out
}

// Dispatcher records every notice it is handed.
type Dispatcher struct {
	mu      sync.Mutex
	notices []booking.Notice
}

func (d *Dispatcher) Dispatch(n booking.Notice) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notices = append(d.notices, n)
}

func (d *Dispatcher) Types() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.notices))
	for i, n := range d.notices {
		out[i] = n.Type
	}
	return out
}

func (d *Dispatcher) Notices() []booking.Notice {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]booking.Notice(nil), d.notices...)
}

// Catalog serves rental items and schemas from memory.
type Catalog struct {
	Items   map[uuid.UUID]*models.RentalItem
	Schemas map[uuid.UUID][]models.RenterInputField
}

func NewCatalog() *Catalog {
	return &Catalog{
		Items:   make(map[uuid.UUID]*models.RentalItem),
		Schemas: make(map[uuid.UUID][]models.RenterInputField),
	}
}

// AddItem registers an available item owned by ownerID with the given
// schema and returns its id.
func (c *Catalog) AddItem(ownerID uuid.UUID, schema ...models.RenterInputField) uuid.UUID {
	id := uuid.New()
	c.Items[id] = &models.RentalItem{ID: id, OwnerID: ownerID, Title: "Camera kit", IsAvailable: true}
	for i := range schema {
		schema[i].RentalItemID = id
	}
	c.Schemas[id] = schema
	return id
}

func (c *Catalog) RentalItem(_ context.Context, id uuid.UUID) (*models.RentalItem, error) {
	it, ok := c.Items[id]
	if !ok {
		return nil, booking.ErrItemNotFound
	}
	cp := *it
	return &cp, nil
}

func (c *Catalog) RequirementsSchema(_ context.Context, id uuid.UUID) ([]models.RenterInputField, error) {
	return c.Schemas[id], nil
}
