package escrow_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anjiri1684/rental_escrow/escrow"
	"github.com/anjiri1684/rental_escrow/models"
	"github.com/anjiri1684/rental_escrow/testutil"
)

type fixture struct {
	store   *testutil.EscrowStore
	gateway *testutil.Gateway
	clock   *testutil.FakeClock
	coord   *escrow.Coordinator
}

func newFixture(t *testing.T, opts escrow.Options) *fixture {
	t.Helper()
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}
	if opts.AttemptTimeout == 0 {
		opts.AttemptTimeout = time.Second
	}
	opts.InitialBackoff = time.Millisecond
	opts.MaxBackoff = 2 * time.Millisecond

	f := &fixture{store: testutil.NewEscrowStore(), gateway: testutil.NewGateway(), clock: testutil.NewFakeClock(testutil.Epoch)}
	f.store.Now = f.clock.Now
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.coord = escrow.NewCoordinator(f.store, f.gateway, f.clock, logger, opts)
	return f
}

func holdReq(id uuid.UUID) escrow.HoldRequest {
	return escrow.HoldRequest{BookingID: id, Method: "mpesa", AccountRef: "254700000001", Amount: 105, ServiceFee: 5}
}

func TestHold_IsIdempotentByBooking(t *testing.T) {
	f := newFixture(t, escrow.Options{})
	ctx := context.Background()
	id := uuid.New()

	first, err := f.coord.Hold(ctx, holdReq(id))
	require.NoError(t, err)
	second, err := f.coord.Hold(ctx, holdReq(id))
	require.NoError(t, err)

	assert.Equal(t, models.EscrowHeld, first.Status)
	assert.Equal(t, models.EscrowHeld, second.Status)
	assert.Equal(t, *first.HoldTxnID, *second.HoldTxnID)
	assert.Len(t, f.gateway.Calls("hold"), 1, "second hold must not charge again")
	assert.InDelta(t, 105, f.gateway.Calls("hold")[0].Amount, 0.001)
}

func TestHold_RetriesTransientFailures(t *testing.T) {
	f := newFixture(t, escrow.Options{MaxAttempts: 4})
	f.gateway.FailNext("hold", errors.New("503 upstream"), errors.New("connection reset"))

	h, err := f.coord.Hold(context.Background(), holdReq(uuid.New()))
	require.NoError(t, err)
	assert.Equal(t, models.EscrowHeld, h.Status)
	assert.Equal(t, 3, h.Attempts)
	assert.Nil(t, h.LastError)
}

func TestHold_ExhaustionMarksLedgerFailed(t *testing.T) {
	f := newFixture(t, escrow.Options{MaxAttempts: 3})
	boom := errors.New("503 upstream")
	f.gateway.FailNext("hold", boom, boom, boom)
	id := uuid.New()

	_, err := f.coord.Hold(context.Background(), holdReq(id))
	var gwErr *escrow.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "hold", gwErr.Op)
	assert.Equal(t, 3, gwErr.Attempts)
	assert.ErrorIs(t, err, boom)

	row, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowFailed, row.Status)
	require.NotNil(t, row.LastError)
	assert.Nil(t, row.HoldTxnID)

	// A later attempt picks the failed hold back up.
	h, err := f.coord.Hold(context.Background(), holdReq(id))
	require.NoError(t, err)
	assert.Equal(t, models.EscrowHeld, h.Status)
	assert.Equal(t, 4, h.Attempts)
}

func TestHold_DeclineIsNotRetried(t *testing.T) {
	f := newFixture(t, escrow.Options{MaxAttempts: 5})
	f.gateway.FailNext("hold", escrow.ErrDeclined)

	_, err := f.coord.Hold(context.Background(), holdReq(uuid.New()))
	assert.ErrorIs(t, err, escrow.ErrDeclined)
	assert.Len(t, f.gateway.Calls("hold"), 1)
}

func TestHold_TimedOutAttemptIsAFailure(t *testing.T) {
	f := newFixture(t, escrow.Options{MaxAttempts: 2, AttemptTimeout: 5 * time.Millisecond})
	f.gateway.Delay = time.Second

	_, err := f.coord.Hold(context.Background(), holdReq(uuid.New()))
	var gwErr *escrow.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, gwErr.Attempts)
}

func TestRelease_PaysOwnerNetOfFee(t *testing.T) {
	f := newFixture(t, escrow.Options{})
	ctx := context.Background()
	id := uuid.New()
	_, err := f.coord.Hold(ctx, holdReq(id))
	require.NoError(t, err)

	h, err := f.coord.Release(ctx, id, "owner-1", false)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowReleased, h.Status)
	require.NotNil(t, h.SettledAt)

	calls := f.gateway.Calls("release")
	require.Len(t, calls, 1)
	assert.Equal(t, "owner-1", calls[0].Party)
	assert.InDelta(t, 100, calls[0].Amount, 0.001)
	assert.Equal(t, *h.HoldTxnID, calls[0].HoldTxnID)

	again, err := f.coord.Release(ctx, id, "owner-1", false)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowReleased, again.Status)
	assert.Len(t, f.gateway.Calls("release"), 1)
}

func TestRefund_ReturnsPaymentAmountToRenter(t *testing.T) {
	f := newFixture(t, escrow.Options{})
	ctx := context.Background()
	id := uuid.New()
	_, err := f.coord.Hold(ctx, holdReq(id))
	require.NoError(t, err)

	h, err := f.coord.Refund(ctx, id, false)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowRefunded, h.Status)

	calls := f.gateway.Calls("refund")
	require.Len(t, calls, 1)
	assert.Equal(t, "254700000001", calls[0].Party)
	assert.InDelta(t, 100, calls[0].Amount, 0.001)
}

func TestSettlement_OnlyOneOutcome(t *testing.T) {
	f := newFixture(t, escrow.Options{})
	ctx := context.Background()
	id := uuid.New()
	_, err := f.coord.Hold(ctx, holdReq(id))
	require.NoError(t, err)

	_, err = f.coord.Release(ctx, id, "owner-1", false)
	require.NoError(t, err)

	_, err = f.coord.Refund(ctx, id, true)
	assert.ErrorIs(t, err, escrow.ErrSettlementInProgress)
	assert.Empty(t, f.gateway.Calls("refund"))
}

func TestSettlement_ConcurrentReleaseAndRefund(t *testing.T) {
	f := newFixture(t, escrow.Options{})
	ctx := context.Background()
	id := uuid.New()
	_, err := f.coord.Hold(ctx, holdReq(id))
	require.NoError(t, err)
	f.gateway.Delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = f.coord.Release(ctx, id, "owner-1", false)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = f.coord.Refund(ctx, id, false)
	}()
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, escrow.ErrSettlementInProgress)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, len(f.gateway.Calls("release"))+len(f.gateway.Calls("refund")))
}

func TestRelease_FailedSettlementNeedsForce(t *testing.T) {
	f := newFixture(t, escrow.Options{MaxAttempts: 2})
	ctx := context.Background()
	id := uuid.New()
	_, err := f.coord.Hold(ctx, holdReq(id))
	require.NoError(t, err)

	boom := errors.New("bank offline")
	f.gateway.FailNext("release", boom, boom)
	_, err = f.coord.Release(ctx, id, "owner-1", false)
	var gwErr *escrow.GatewayError
	require.ErrorAs(t, err, &gwErr)

	row, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowFailed, row.Status)
	assert.NotNil(t, row.HoldTxnID, "funds stay held after a failed release")

	_, err = f.coord.Release(ctx, id, "owner-1", false)
	assert.ErrorIs(t, err, escrow.ErrStatusMismatch)

	h, err := f.coord.Release(ctx, id, "owner-1", true)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowReleased, h.Status)
}

func TestSettle_NothingHeld(t *testing.T) {
	f := newFixture(t, escrow.Options{})
	ctx := context.Background()

	_, err := f.coord.Refund(ctx, uuid.New(), false)
	assert.ErrorIs(t, err, escrow.ErrHoldNotFound)

	id := uuid.New()
	f.gateway.FailNext("hold", escrow.ErrDeclined)
	_, err = f.coord.Hold(ctx, holdReq(id))
	require.Error(t, err)

	_, err = f.coord.Release(ctx, id, "owner-1", true)
	assert.ErrorIs(t, err, escrow.ErrNothingHeld)
}

func TestVoid_ClosesEmptyLedger(t *testing.T) {
	f := newFixture(t, escrow.Options{})
	ctx := context.Background()
	id := uuid.New()

	h, err := f.coord.Void(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowVoid, h.Status)

	again, err := f.coord.Void(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowVoid, again.Status)

	_, err = f.coord.Hold(ctx, holdReq(id))
	assert.ErrorIs(t, err, escrow.ErrHoldVoided)
	assert.Empty(t, f.gateway.Calls("hold"))
}

func TestVoid_RefundsHeldFunds(t *testing.T) {
	f := newFixture(t, escrow.Options{})
	ctx := context.Background()
	id := uuid.New()
	_, err := f.coord.Hold(ctx, holdReq(id))
	require.NoError(t, err)

	h, err := f.coord.Void(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowRefunded, h.Status)
	require.Len(t, f.gateway.Calls("refund"), 1)
	assert.InDelta(t, 100, f.gateway.Calls("refund")[0].Amount, 0.001)
}

func TestVoid_FailedHoldIsClosed(t *testing.T) {
	f := newFixture(t, escrow.Options{MaxAttempts: 1})
	ctx := context.Background()
	id := uuid.New()
	f.gateway.FailNext("hold", errors.New("503 upstream"))
	_, err := f.coord.Hold(ctx, holdReq(id))
	require.Error(t, err)

	h, err := f.coord.Void(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowVoid, h.Status)
	assert.Empty(t, f.gateway.Calls("refund"))
}

func TestVoid_HoldInFlight(t *testing.T) {
	f := newFixture(t, escrow.Options{})
	id := uuid.New()
	f.store.Put(models.EscrowHold{BookingID: id, Status: models.EscrowPending, AccountRef: "254700000001"})

	_, err := f.coord.Void(context.Background(), id)
	assert.ErrorIs(t, err, escrow.ErrSettlementInProgress)
}

func TestVoid_SettledLedgerCannotBeVoided(t *testing.T) {
	f := newFixture(t, escrow.Options{})
	ctx := context.Background()
	id := uuid.New()
	_, err := f.coord.Hold(ctx, holdReq(id))
	require.NoError(t, err)
	_, err = f.coord.Release(ctx, id, "owner-1", false)
	require.NoError(t, err)

	_, err = f.coord.Void(ctx, id)
	assert.ErrorIs(t, err, escrow.ErrStatusMismatch)
}

func TestAbandonStale_FailsOnlyOldClaims(t *testing.T) {
	f := newFixture(t, escrow.Options{})
	ctx := context.Background()
	stale, fresh, settled := uuid.New(), uuid.New(), uuid.New()

	f.store.Put(models.EscrowHold{BookingID: stale, Status: models.EscrowRefunding, HoldTxnID: ptr("txn-1"), UpdatedAt: f.clock.Now()})
	_, err := f.coord.Hold(ctx, holdReq(settled))
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	f.store.Put(models.EscrowHold{BookingID: fresh, Status: models.EscrowPending, UpdatedAt: f.clock.Now()})

	out, err := f.coord.AbandonStale(ctx, f.clock.Now().Add(-15*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, stale, out[0].BookingID)
	assert.Equal(t, models.EscrowFailed, out[0].Status)
	require.NotNil(t, out[0].LastError)
	assert.Contains(t, *out[0].LastError, "refunding claim abandoned")

	h, err := f.store.Get(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowPending, h.Status)
	h, err = f.store.Get(ctx, settled)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowHeld, h.Status)

	// The failed settlement can be forced by an admin.
	refunded, err := f.coord.Refund(ctx, stale, true)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowRefunded, refunded.Status)
}

func ptr(s string) *string { return &s }
