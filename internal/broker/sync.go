package broker

import (
	"context"

	"github.com/mscrnt/Robo-Trader/internal/models"
	"go.uber.org/zap"
)

// OrderStore is the slice of persistence order sync and cancellation need.
type OrderStore interface {
	OpenOrders() ([]models.Order, error)
	UpdateOrderStatus(orderID, status string, filledQty int, filledAvgPrice float64) error
}

// SyncOrders refreshes the status and fill fields of locally stored open
// orders from the broker. Individual lookup failures are logged and
// skipped; the next sync picks them up again.
func SyncOrders(ctx context.Context, client Client, store OrderStore, logger *zap.Logger) error {
	open, err := store.OpenOrders()
	if err != nil {
		return err
	}

	for _, local := range open {
		receipt, err := client.GetOrder(ctx, local.OrderID)
		if err != nil {
			logger.Warn("Could not sync order",
				zap.String("order_id", local.OrderID), zap.Error(err))
			continue
		}
		err = store.UpdateOrderStatus(receipt.ID, receipt.Status, receipt.FilledQty, receipt.FilledAvgPrice)
		if err != nil {
			logger.Warn("Could not persist synced order",
				zap.String("order_id", local.OrderID), zap.Error(err))
		}
	}
	return nil
}

// CancelOpenOrders cancels every locally tracked open order at the broker
// and marks it canceled in the store. One order's failure never blocks the
// rest; the number actually canceled is returned.
func CancelOpenOrders(ctx context.Context, client Client, store OrderStore, logger *zap.Logger) (int, error) {
	open, err := store.OpenOrders()
	if err != nil {
		return 0, err
	}

	canceled := 0
	for _, local := range open {
		if err := client.CancelOrder(ctx, local.OrderID); err != nil {
			logger.Warn("Could not cancel order",
				zap.String("order_id", local.OrderID), zap.Error(err))
			continue
		}
		canceled++
		logger.Info("Order canceled",
			zap.String("order_id", local.OrderID), zap.String("symbol", local.Symbol))

		err = store.UpdateOrderStatus(local.OrderID, "canceled", local.FilledQty, local.FilledAvgPrice)
		if err != nil {
			logger.Warn("Could not persist canceled order",
				zap.String("order_id", local.OrderID), zap.Error(err))
		}
	}
	return canceled, nil
}
