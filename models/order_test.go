package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatus_Rank(t *testing.T) {
	tests := []struct {
		status  OrderStatus
		rank    int
		settled bool
	}{
		{StatusPending, 0, false},
		{StatusPaid, 1, true},
		{StatusShipped, 2, true},
		{StatusDelivered, 3, true},
		{"refunded", -1, false},
		{"", -1, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.rank, tt.status.Rank())
			assert.Equal(t, tt.settled, tt.status.Settled())
		})
	}
}

func TestOrder_DecodeNormalisesStatus(t *testing.T) {
	var o Order
	err := json.Unmarshal([]byte(`{"_id":"o1","status":"PAID","amount":42.5,"items":[{"product":"p1","qty":2}]}`), &o)
	require.NoError(t, err)

	assert.Equal(t, "o1", o.ID)
	assert.Equal(t, StatusPaid, o.Status)
	assert.Equal(t, []OrderItem{{Product: "p1", Qty: 2}}, o.Items)
}

func TestOrder_Progress(t *testing.T) {
	steps := Order{Status: StatusShipped}.Progress()
	require.Len(t, steps, 4)
	assert.True(t, steps[0].Completed)
	assert.True(t, steps[2].Completed)
	assert.False(t, steps[3].Completed)

	for _, s := range (Order{Status: "weird"}).Progress() {
		assert.False(t, s.Completed)
	}
}

func TestOrderEvent_Resolve(t *testing.T) {
	var ev OrderEvent
	require.NoError(t, json.Unmarshal([]byte(`{"orderId":"o9","status":"shipped"}`), &ev))
	o := ev.Resolve()
	assert.Equal(t, "o9", o.ID)
	assert.Equal(t, StatusShipped, o.Status)
}

func TestNotificationType_UnknownFallsBackToInfo(t *testing.T) {
	var n Notification
	require.NoError(t, json.Unmarshal([]byte(`{"id":"n1","type":"promo"}`), &n))
	assert.Equal(t, NotificationInfo, n.Type)
}

func TestUser_Identity(t *testing.T) {
	assert.Equal(t, "u1", User{ID: "u1", LegacyID: "x"}.Identity())
	assert.Equal(t, "x", User{LegacyID: "x"}.Identity())
}
