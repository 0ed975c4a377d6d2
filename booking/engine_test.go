package booking_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anjiri1684/rental_escrow/booking"
	"github.com/anjiri1684/rental_escrow/confirmation"
	"github.com/anjiri1684/rental_escrow/escrow"
	"github.com/anjiri1684/rental_escrow/models"
	"github.com/anjiri1684/rental_escrow/testutil"
)

var ctx = context.Background()

type parties struct {
	booking uuid.UUID
	item    uuid.UUID
	renter  uuid.UUID
	owner   uuid.UUID
	admin   uuid.UUID
}

func submit(t *testing.T, h *testutil.Harness) parties {
	t.Helper()
	p := parties{renter: uuid.New(), owner: uuid.New(), admin: uuid.New()}
	p.item = h.Catalog.AddItem(p.owner, models.RenterInputField{FieldName: "days", FieldType: booking.FieldNumber, Required: true})

	sub, err := h.Service.SubmitRequirements(ctx, booking.SubmitRequest{
		RentalItemID:     p.item,
		RenterID:         p.renter,
		RequirementsData: map[string]any{"days": 2, "total_price": 100},
		ContractAccepted: true,
	})
	require.NoError(t, err)
	assert.InDelta(t, 100, sub.PaymentAmount, 0.001)
	p.booking = sub.BookingID
	return p
}

func pay(t *testing.T, h *testutil.Harness, p parties) {
	t.Helper()
	_, err := h.Service.CompletePayment(ctx, p.booking, p.renter, booking.PaymentDetails{Method: "mpesa", Account: "254700000001"}, 0)
	require.NoError(t, err)
}

func accept(t *testing.T, h *testutil.Harness, p parties) *models.Booking {
	t.Helper()
	b, err := h.Service.OwnerDecision(ctx, p.booking, p.owner, booking.Decision{Accept: true}, 0)
	require.NoError(t, err)
	return b
}

func get(t *testing.T, h *testutil.Harness, id uuid.UUID) *models.Booking {
	t.Helper()
	b, err := h.Service.Get(ctx, id)
	require.NoError(t, err)
	return b
}

func TestScenarioA_PaymentIsHeld(t *testing.T) {
	h := testutil.NewHarness()
	p := submit(t, h)

	created := get(t, h, p.booking)
	assert.Equal(t, models.StatusRequirementsSubmitted, created.Status)
	assert.Equal(t, models.PaymentPending, created.PaymentStatus)
	assert.Equal(t, int64(1), created.Version)

	sum, err := h.Service.CompletePayment(ctx, p.booking, p.renter, booking.PaymentDetails{Method: "mpesa", Account: "254700000001"}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 5, sum.ServiceFee, 0.001)
	assert.InDelta(t, 105, sum.TotalAmount, 0.001)

	b := get(t, h, p.booking)
	assert.Equal(t, models.StatusPaymentHeld, b.Status)
	assert.Equal(t, models.PaymentHeld, b.PaymentStatus)
	assert.Equal(t, int64(2), b.Version)
	require.NotNil(t, b.PaymentHeldAt)
	assert.Equal(t, testutil.Epoch, *b.PaymentHeldAt)

	holds := h.Gateway.Calls("hold")
	require.Len(t, holds, 1)
	assert.InDelta(t, 105, holds[0].Amount, 0.001)
	assert.Equal(t, "254700000001", holds[0].Party)
}

func TestScenarioB_RejectionRefundsPaymentAmount(t *testing.T) {
	h := testutil.NewHarness()
	p := submit(t, h)
	pay(t, h, p)

	b, err := h.Service.OwnerDecision(ctx, p.booking, p.owner, booking.Decision{Accept: false, Reason: "item unavailable"}, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRefunded, b.Status)
	assert.Equal(t, models.PaymentRefunded, b.PaymentStatus)
	assert.Equal(t, models.OwnerRejected, b.OwnerConfirmationStatus)
	require.NotNil(t, b.OwnerRejectionReason)
	assert.Equal(t, "item unavailable", *b.OwnerRejectionReason)

	refunds := h.Gateway.Calls("refund")
	require.Len(t, refunds, 1)
	assert.InDelta(t, 100, refunds[0].Amount, 0.001, "service fee is retained")
	assert.Equal(t, "254700000001", refunds[0].Party)

	history, err := h.Service.History(ctx, p.booking)
	require.NoError(t, err)
	var path []models.BookingStatus
	for _, tr := range history {
		path = append(path, tr.ToStatus)
	}
	assert.Equal(t, []models.BookingStatus{
		models.StatusRequirementsSubmitted,
		models.StatusPaymentHeld,
		models.StatusOwnerRejected,
		models.StatusRefunded,
	}, path)
}

func TestScenarioC_DeliveryCompletesAndReleases(t *testing.T) {
	h := testutil.NewHarness()
	p := submit(t, h)
	pay(t, h, p)

	accepted := accept(t, h, p)
	assert.Equal(t, models.StatusOwnerAccepted, accepted.Status)
	require.NotNil(t, accepted.ConfirmationCode)
	require.NotNil(t, accepted.CodeExpiry)
	assert.Equal(t, testutil.Epoch.Add(24*time.Hour), *accepted.CodeExpiry)

	h.Clock.Advance(3 * time.Hour)
	confirmed, err := h.Service.ConfirmDelivery(ctx, p.booking, p.renter, *accepted.ConfirmationCode, accepted.Version)
	require.NoError(t, err)
	assert.True(t, confirmed.RenterConfirmed)
	assert.Equal(t, models.StatusRenterConfirmed, confirmed.Status)
	assert.Nil(t, confirmed.ConfirmationCode)
	assert.Nil(t, confirmed.CodeExpiry)

	done, err := h.Service.OwnerConfirmDelivery(ctx, p.booking, p.owner, confirmed.Version)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, models.PaymentCompleted, done.PaymentStatus)
	require.NotNil(t, done.PaymentReleasedAt)

	releases := h.Gateway.Calls("release")
	require.Len(t, releases, 1)
	assert.InDelta(t, 100, releases[0].Amount, 0.001)
	assert.Equal(t, p.owner.String(), releases[0].Party)

	assert.Equal(t, []string{
		"requirements_submitted", "payment_held", "owner_accepted", "renter_confirmed", "booking_completed",
	}, h.Dispatcher.Types())
}

func TestScenarioD_ExpiredCodeCanBeReissued(t *testing.T) {
	h := testutil.NewHarness()
	p := submit(t, h)
	pay(t, h, p)
	accepted := accept(t, h, p)
	oldCode := *accepted.ConfirmationCode

	_, err := h.Service.ReissueCode(ctx, p.booking, p.owner, 0)
	assert.True(t, booking.IsIllegal(err), "live code cannot be replaced")

	h.Clock.Advance(25 * time.Hour)
	cleared, err := h.Engine.Apply(ctx, booking.Command{
		BookingID:       p.booking,
		Event:           booking.EventCodeExpired,
		Actor:           booking.SystemActor(),
		ExpectedVersion: accepted.Version,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusOwnerAccepted, cleared.Status)
	assert.Nil(t, cleared.ConfirmationCode)

	_, err = h.Service.ConfirmDelivery(ctx, p.booking, p.renter, oldCode, 0)
	assert.ErrorIs(t, err, confirmation.ErrInvalidCode)

	reissued, err := h.Service.ReissueCode(ctx, p.booking, p.owner, cleared.Version)
	require.NoError(t, err)
	require.NotNil(t, reissued.ConfirmationCode)
	assert.Equal(t, h.Clock.Now().Add(24*time.Hour), *reissued.CodeExpiry)

	_, err = h.Service.ConfirmDelivery(ctx, p.booking, p.renter, *reissued.ConfirmationCode, 0)
	require.NoError(t, err)
}

func TestConfirmDelivery_SecondRedemptionIsAlreadyConfirmed(t *testing.T) {
	h := testutil.NewHarness()
	p := submit(t, h)
	pay(t, h, p)
	accepted := accept(t, h, p)
	code := *accepted.ConfirmationCode

	_, err := h.Service.ConfirmDelivery(ctx, p.booking, p.renter, code, accepted.Version)
	require.NoError(t, err)

	// Retried with the same (now stale) version.
	_, err = h.Service.ConfirmDelivery(ctx, p.booking, p.renter, code, accepted.Version)
	assert.ErrorIs(t, err, confirmation.ErrAlreadyConfirmed)
}

func TestConfirmDelivery_ExpiryIsAbsolute(t *testing.T) {
	h := testutil.NewHarness()
	p := submit(t, h)
	pay(t, h, p)
	accepted := accept(t, h, p)

	h.Clock.Advance(24*time.Hour + time.Second)
	_, err := h.Service.ConfirmDelivery(ctx, p.booking, p.renter, *accepted.ConfirmationCode, 0)
	assert.ErrorIs(t, err, confirmation.ErrExpiredCode)

	b := get(t, h, p.booking)
	assert.Equal(t, accepted.Version, b.Version, "failed redemption writes nothing")
	assert.False(t, b.RenterConfirmed)
}

func TestConfirmDelivery_WrongCode(t *testing.T) {
	h := testutil.NewHarness()
	p := submit(t, h)
	pay(t, h, p)
	accepted := accept(t, h, p)

	wrong := "000000"
	if *accepted.ConfirmationCode == wrong {
		wrong = "111111"
	}
	_, err := h.Service.ConfirmDelivery(ctx, p.booking, p.renter, wrong, 0)
	assert.ErrorIs(t, err, confirmation.ErrInvalidCode)

	_, err = h.Service.ConfirmDelivery(ctx, p.booking, uuid.New(), *accepted.ConfirmationCode, 0)
	assert.True(t, booking.IsIllegal(err), "only the renter may redeem")
}

func TestOwnerDecision_ConcurrentDecisionsOneWins(t *testing.T) {
	h := testutil.NewHarness()
	p := submit(t, h)
	pay(t, h, p)
	version := get(t, h, p.booking).Version

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, accept := range []bool{true, false} {
		wg.Add(1)
		go func(i int, accept bool) {
			defer wg.Done()
			_, errs[i] = h.Service.OwnerDecision(ctx, p.booking, p.owner, booking.Decision{Accept: accept}, version)
		}(i, accept)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case booking.IsConcurrent(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, conflicts)
}

func TestApply_StaleVersion(t *testing.T) {
	h := testutil.NewHarness()
	p := submit(t, h)
	pay(t, h, p)

	_, err := h.Service.OwnerDecision(ctx, p.booking, p.owner, booking.Decision{Accept: true}, 1)
	var cm *booking.ConcurrentModificationError
	require.ErrorAs(t, err, &cm)
	assert.Equal(t, int64(1), cm.Expected)
	assert.Equal(t, int64(2), cm.Actual)
}

func TestApply_WriteLosesRaceAfterReading(t *testing.T) {
	h := testutil.NewHarness()
	p := submit(t, h)
	pay(t, h, p)
	cur := get(t, h, p.booking)

	var once sync.Once
	h.Bookings.BeforeUpdate = func(b *models.Booking) {
		once.Do(func() {
			competing := cur.Clone()
			competing.Version = cur.Version + 1
			h.Bookings.Put(competing)
		})
	}

	_, err := h.Engine.Apply(ctx, booking.Command{
		BookingID:       p.booking,
		Event:           booking.EventOwnerAccept,
		Actor:           booking.Actor{ID: p.owner, Role: booking.RoleOwner},
		ExpectedVersion: cur.Version,
	})
	assert.True(t, booking.IsConcurrent(err))
}

func TestApply_RoleAndIdentityGuards(t *testing.T) {
	h := testutil.NewHarness()
	p := submit(t, h)
	pay(t, h, p)

	cases := []booking.Actor{
		{ID: p.renter, Role: booking.RoleRenter},
		{ID: uuid.New(), Role: booking.RoleOwner},
		{ID: p.admin, Role: booking.RoleAdmin},
	}
	for _, actor := range cases {
		_, err := h.Engine.Apply(ctx, booking.Command{
			BookingID:       p.booking,
			Event:           booking.EventOwnerAccept,
			Actor:           actor,
			ExpectedVersion: 2,
		})
		var it *booking.IllegalTransitionError
		require.ErrorAs(t, err, &it, "actor %+v", actor)
		assert.Equal(t, models.StatusPaymentHeld, it.From)
	}
	assert.Equal(t, int64(2), get(t, h, p.booking).Version)
}

func TestApply_UnknownEdgeAndTerminal(t *testing.T) {
	h := testutil.NewHarness()
	p := submit(t, h)
	pay(t, h, p)

	_, err := h.Service.AdminOverride(ctx, p.booking, p.admin, booking.AdminRelease, "", 0)
	assert.True(t, booking.IsIllegal(err), "release requires an owner decision first")

	b, err := h.Service.AdminOverride(ctx, p.booking, p.admin, booking.AdminCancel, "fraud report", 0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, b.Status)
	assert.Equal(t, models.PaymentRefunded, b.PaymentStatus)
	require.NotNil(t, b.AdminNote)
	assert.Equal(t, "fraud report", *b.AdminNote)
	assert.Len(t, h.Gateway.Calls("refund"), 1)

	_, err = h.Service.AdminOverride(ctx, p.booking, p.admin, booking.AdminRefund, "", 0)
	var it *booking.IllegalTransitionError
	require.ErrorAs(t, err, &it)
	assert.Equal(t, "booking is closed", it.Reason)
}

func TestApply_PaymentRequiresContract(t *testing.T) {
	h := testutil.NewHarness()
	p := submit(t, h)
	b := get(t, h, p.booking)
	b.ContractAccepted = false
	h.Bookings.Put(b)

	_, err := h.Service.CompletePayment(ctx, p.booking, p.renter, booking.PaymentDetails{Method: "card", Account: "tok_1"}, 0)
	assert.True(t, booking.IsIllegal(err))
	assert.Empty(t, h.Gateway.Calls("hold"))
}

func TestCompletePayment_GatewayFailureFlagsBooking(t *testing.T) {
	h := testutil.NewHarness()
	p := submit(t, h)
	boom := errors.New("gateway unavailable")
	h.Gateway.FailNext("hold", boom, boom, boom)

	_, err := h.Service.CompletePayment(ctx, p.booking, p.renter, booking.PaymentDetails{Method: "mpesa", Account: "254700000001"}, 0)
	var gwErr *escrow.GatewayError
	require.ErrorAs(t, err, &gwErr)

	b := get(t, h, p.booking)
	assert.Equal(t, models.StatusRequirementsSubmitted, b.Status)
	assert.Equal(t, models.PaymentFailed, b.PaymentStatus)
	assert.Contains(t, h.Dispatcher.Types(), "payment_failed")

	held, err := h.Service.HeldPayments(ctx, 10)
	require.NoError(t, err)
	require.Len(t, held, 1, "failed payments are surfaced to admins")

	sum, err := h.Service.CompletePayment(ctx, p.booking, p.renter, booking.PaymentDetails{Method: "mpesa", Account: "254700000001"}, 0)
	require.NoError(t, err)
	assert.InDelta(t, 105, sum.TotalAmount, 0.001)
	assert.Equal(t, models.PaymentHeld, get(t, h, p.booking).PaymentStatus)
}

func TestOwnerConfirmDelivery_ReleaseFailureNeedsAdmin(t *testing.T) {
	h := testutil.NewHarness()
	p := submit(t, h)
	pay(t, h, p)
	accepted := accept(t, h, p)
	_, err := h.Service.ConfirmDelivery(ctx, p.booking, p.renter, *accepted.ConfirmationCode, 0)
	require.NoError(t, err)

	boom := errors.New("payout rail down")
	h.Gateway.FailNext("release", boom, boom, boom)
	_, err = h.Service.OwnerConfirmDelivery(ctx, p.booking, p.owner, 0)
	var gwErr *escrow.GatewayError
	require.ErrorAs(t, err, &gwErr)

	b := get(t, h, p.booking)
	assert.Equal(t, models.StatusRenterConfirmed, b.Status)
	assert.Equal(t, models.PaymentFailed, b.PaymentStatus)

	_, err = h.Service.OwnerConfirmDelivery(ctx, p.booking, p.owner, 0)
	assert.True(t, booking.IsIllegal(err))

	done, err := h.Service.AdminOverride(ctx, p.booking, p.admin, booking.AdminRelease, "payout retried manually", 0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, models.PaymentCompleted, done.PaymentStatus)
}

func TestOwnerDecision_RefundFailureLeavesRejectedAndFlagged(t *testing.T) {
	h := testutil.NewHarness()
	p := submit(t, h)
	pay(t, h, p)
	boom := errors.New("refund rail down")
	h.Gateway.FailNext("refund", boom, boom, boom)

	b, err := h.Service.OwnerDecision(ctx, p.booking, p.owner, booking.Decision{Reason: "double booked"}, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOwnerRejected, b.Status)
	assert.Equal(t, models.PaymentFailed, b.PaymentStatus)

	refunded, err := h.Service.AdminOverride(ctx, p.booking, p.admin, booking.AdminRefund, "", 0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRefunded, refunded.Status)
	assert.Equal(t, models.PaymentRefunded, refunded.PaymentStatus)
}

func TestBroker_ReceivesCommittedTransitions(t *testing.T) {
	h := testutil.NewHarness()
	p := submit(t, h)

	updates, cancel := h.Service.Subscribe(p.booking)
	defer cancel()
	pay(t, h, p)

	select {
	case u := <-updates:
		assert.Equal(t, booking.EventPaymentCompleted, u.Event)
		assert.Equal(t, models.StatusPaymentHeld, u.Status)
		assert.Equal(t, int64(2), u.Version)
	case <-time.After(time.Second):
		t.Fatal("no update published")
	}
}
