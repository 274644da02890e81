package consumers

import (
	"encoding/json"
	"log/slog"

	"storefront/channel"
	"storefront/models"
	"storefront/store"
)

// RegisterOrderConsumer folds orderUpdate pushes into the order store so
// list views stay current outside a reconciliation session.
func RegisterOrderConsumer(ch *channel.Channel, orders *store.OrderStore, log *slog.Logger) (off func()) {
	return ch.On(channel.EventOrderUpdate, func(ev channel.Event) {
		var oe models.OrderEvent
		if err := json.Unmarshal(ev.Data, &oe); err != nil {
			log.Warn("invalid orderUpdate payload", slog.Any("err", err))
			return
		}
		o := oe.Resolve()
		if o.ID == "" {
			log.Warn("orderUpdate without order id")
			return
		}
		// A bare {orderId, status} update only moves the status of a known order.
		if prev, ok := orders.Get(o.ID); ok && len(o.Items) == 0 && o.CreatedAt.IsZero() {
			prev.Status = o.Status
			o = prev
		}
		orders.Upsert(o)
		log.Debug("order updated from push", slog.String("order_id", o.ID), slog.String("status", string(o.Status)))
	})
}
