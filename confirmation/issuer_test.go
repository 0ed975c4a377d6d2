package confirmation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anjiri1684/rental_escrow/models"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestIssue_SetsCodeAndExpiry(t *testing.T) {
	i := NewIssuer(24*time.Hour, 6)
	b := &models.Booking{}

	code, expiry, err := i.Issue(b, t0)
	require.NoError(t, err)
	assert.Len(t, code, 6)
	assert.Equal(t, t0.Add(24*time.Hour), expiry)
	require.NotNil(t, b.ConfirmationCode)
	assert.Equal(t, code, *b.ConfirmationCode)
	assert.Equal(t, expiry, *b.CodeExpiry)
}

func TestIssue_RetriesOnLiveCollision(t *testing.T) {
	calls := 0
	seq := []string{"111111", "111111", "222222"}
	i := NewIssuer(time.Hour, 6).WithGenerator(func(n int) (string, error) {
		c := seq[calls]
		calls++
		return c, nil
	})
	b := &models.Booking{}

	first, _, err := i.Issue(b, t0)
	require.NoError(t, err)
	assert.Equal(t, "111111", first)

	second, _, err := i.Issue(b, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "222222", second)
	assert.Equal(t, 3, calls)
}

func TestIssue_SameValueAllowedAfterExpiry(t *testing.T) {
	i := NewIssuer(time.Hour, 6).WithGenerator(func(int) (string, error) { return "424242", nil })
	b := &models.Booking{}

	_, _, err := i.Issue(b, t0)
	require.NoError(t, err)
	code, _, err := i.Issue(b, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "424242", code)
}

func TestIssue_GiveUpAfterRepeatedCollisions(t *testing.T) {
	i := NewIssuer(time.Hour, 6).WithGenerator(func(int) (string, error) { return "000000", nil })
	b := &models.Booking{}
	_, _, err := i.Issue(b, t0)
	require.NoError(t, err)

	_, _, err = i.Issue(b, t0)
	assert.Error(t, err)
	assert.Equal(t, "000000", *b.ConfirmationCode, "live code must survive a failed reissue")
}

func TestIssue_GeneratorError(t *testing.T) {
	boom := errors.New("entropy exhausted")
	i := NewIssuer(time.Hour, 6).WithGenerator(func(int) (string, error) { return "", boom })
	_, _, err := i.Issue(&models.Booking{}, t0)
	assert.ErrorIs(t, err, boom)
}

func TestRedeem(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(b *models.Booking)
		code    string
		at      time.Time
		wantErr error
	}{
		{name: "matching code", code: "123456", at: t0.Add(time.Hour)},
		{name: "wrong code", code: "654321", at: t0.Add(time.Hour), wantErr: ErrInvalidCode},
		{name: "correct code after expiry", code: "123456", at: t0.Add(25 * time.Hour), wantErr: ErrExpiredCode},
		{name: "exactly at expiry", code: "123456", at: t0.Add(24 * time.Hour)},
		{
			name:    "no code stored",
			setup:   func(b *models.Booking) { b.ClearCode() },
			code:    "123456",
			at:      t0,
			wantErr: ErrInvalidCode,
		},
		{
			name:    "already confirmed",
			setup:   func(b *models.Booking) { b.ClearCode(); b.RenterConfirmed = true },
			code:    "123456",
			at:      t0,
			wantErr: ErrAlreadyConfirmed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i := NewIssuer(24*time.Hour, 6).WithGenerator(func(int) (string, error) { return "123456", nil })
			b := &models.Booking{}
			_, _, err := i.Issue(b, t0)
			require.NoError(t, err)
			if tt.setup != nil {
				tt.setup(b)
			}

			err = i.Redeem(b, tt.code, tt.at)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, b.RenterConfirmed)
			assert.Nil(t, b.ConfirmationCode)
			assert.Nil(t, b.CodeExpiry)
			require.NotNil(t, b.RenterConfirmedAt)
			assert.Equal(t, tt.at, *b.RenterConfirmedAt)
		})
	}
}

func TestRedeem_SecondAttemptIsAlreadyConfirmed(t *testing.T) {
	i := NewIssuer(24*time.Hour, 6)
	b := &models.Booking{}
	code, _, err := i.Issue(b, t0)
	require.NoError(t, err)

	require.NoError(t, i.Redeem(b, code, t0.Add(time.Minute)))
	assert.ErrorIs(t, i.Redeem(b, code, t0.Add(2*time.Minute)), ErrAlreadyConfirmed)
}

func TestExpired(t *testing.T) {
	i := NewIssuer(time.Hour, 6)
	b := &models.Booking{}
	assert.False(t, Expired(b, t0))

	_, _, err := i.Issue(b, t0)
	require.NoError(t, err)
	assert.False(t, Expired(b, t0.Add(time.Hour)))
	assert.True(t, Expired(b, t0.Add(time.Hour+time.Second)))
}
