package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBillingPeriod(t *testing.T) {
	assert.Equal(t, "2026-08", BillingPeriod(time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)))

	// The period key is computed in UTC; a local time late on the last day
	// of the month may already belong to the next period.
	saoPaulo := time.FixedZone("America/Sao_Paulo", -3*60*60)
	assert.Equal(t, "2026-09", BillingPeriod(time.Date(2026, 8, 31, 22, 30, 0, 0, saoPaulo)))
}

func TestWebhookStatusTerminal(t *testing.T) {
	assert.True(t, WebhookStatusCompleted.Terminal())
	assert.True(t, WebhookStatusIgnored.Terminal())
	assert.False(t, WebhookStatusReceived.Terminal())
	assert.False(t, WebhookStatusProcessing.Terminal())
	assert.False(t, WebhookStatusFailed.Terminal())
}

func TestConnectionSyncable(t *testing.T) {
	tests := []struct {
		name string
		conn Connection
		want bool
	}{
		{name: "active", conn: Connection{Active: true, Status: ConnectionStatusActive}, want: true},
		{name: "requires auth still syncable", conn: Connection{Active: true, Status: ConnectionStatusRequiresAuth}, want: true},
		{name: "pending", conn: Connection{Active: true, Status: ConnectionStatusPending}, want: false},
		{name: "deactivated", conn: Connection{Active: false, Status: ConnectionStatusActive}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.conn.Syncable())
		})
	}
}

func TestTypeForMovement(t *testing.T) {
	assert.Equal(t, CategoryTypeIncome, TypeForMovement(MovementCredit))
	assert.Equal(t, CategoryTypeExpense, TypeForMovement(MovementDebit))
	assert.Equal(t, CategoryTypeExpense, TypeForMovement(MovementFee))
	assert.Equal(t, CategoryTypeSystem, TypeForMovement(MovementTransfer))
}
