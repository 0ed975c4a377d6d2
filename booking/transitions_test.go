package booking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anjiri1684/rental_escrow/models"
)

func TestTransitionFor(t *testing.T) {
	tr, ok := TransitionFor(models.StatusRequirementsSubmitted, EventPaymentCompleted)
	require.True(t, ok)
	assert.Equal(t, models.StatusPaymentHeld, tr.To)
	assert.Equal(t, escrowHold, tr.escrow)
	assert.True(t, tr.permits(RoleRenter))
	assert.False(t, tr.permits(RoleOwner))

	_, ok = TransitionFor(models.StatusOwnerRejected, EventOwnerAccept)
	assert.False(t, ok)
}

func TestTransitionsTable_TerminalStatusesHaveNoEdges(t *testing.T) {
	for _, s := range []models.BookingStatus{models.StatusCompleted, models.StatusCancelled, models.StatusRefunded} {
		assert.Empty(t, EventsFrom(s), "status %s", s)
	}
}

func TestTransitionsTable_NoBackEdges(t *testing.T) {
	edges := map[models.BookingStatus][]models.BookingStatus{}
	for _, tr := range transitionsTable {
		if tr.From != tr.To {
			edges[tr.From] = append(edges[tr.From], tr.To)
		}
	}

	const (
		unseen = iota
		visiting
		done
	)
	state := map[models.BookingStatus]int{}
	var visit func(s models.BookingStatus)
	visit = func(s models.BookingStatus) {
		state[s] = visiting
		for _, next := range edges[s] {
			require.NotEqual(t, visiting, state[next], "cycle through %s -> %s", s, next)
			if state[next] == unseen {
				visit(next)
			}
		}
		state[s] = done
	}
	for s := range edges {
		if state[s] == unseen {
			visit(s)
		}
	}
}

func TestTransitionsTable_SelfLoopsOnlyTouchTheCode(t *testing.T) {
	for _, tr := range transitionsTable {
		if tr.From == tr.To {
			assert.Contains(t, []Event{EventCodeExpired, EventCodeReissued}, tr.Event)
			assert.Equal(t, escrowNone, tr.escrow)
		}
	}
}

// Every edge that ends a booking pairs with an explicit escrow action:
// release or refund once money is held, void before that.
func TestTransitionsTable_TerminalEdgesSettleEscrow(t *testing.T) {
	for _, tr := range transitionsTable {
		if !tr.To.Terminal() {
			continue
		}
		if tr.From == models.StatusRequirementsSubmitted {
			assert.Equal(t, escrowVoid, tr.escrow, "%s --%s--> %s", tr.From, tr.Event, tr.To)
			continue
		}
		assert.Contains(t, []escrowAction{escrowRelease, escrowRefund}, tr.escrow, "%s --%s--> %s leaves funds held", tr.From, tr.Event, tr.To)
	}
}

func TestTransitionsTable_AdminEventsAreAdminOnly(t *testing.T) {
	for _, tr := range transitionsTable {
		switch tr.Event {
		case EventAdminCancel, EventAdminRefund, EventAdminRelease:
			assert.Equal(t, []Role{RoleAdmin}, tr.Roles, "%s from %s", tr.Event, tr.From)
		}
	}
}
