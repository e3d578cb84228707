package stock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"waybill/internal/domain"
	apperrors "waybill/internal/errors"
	"waybill/internal/rpc"
)

// RemoteRecordSource reads stock records from the backend. Reads race a
// timeout; expiry fails the read without touching any local state.
type RemoteRecordSource struct {
	dispatcher Dispatcher
	timeout    time.Duration
}

func NewRemoteRecordSource(dispatcher Dispatcher, timeout time.Duration) *RemoteRecordSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RemoteRecordSource{dispatcher: dispatcher, timeout: timeout}
}

func (s *RemoteRecordSource) FindRecord(ctx context.Context, itemID, warehouseID string) (*domain.StockRecord, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.dispatcher.Call(callCtx, rpc.Call{
		Name: "fetchStockRecord",
		Payload: map[string]any{
			"itemId":      itemID,
			"warehouseId": warehouseID,
		},
		DirectArgs: []any{itemID, warehouseID},
		LegacyArgs: []any{itemID},
	})
	if err != nil {
		if rpc.IsUnavailable(err) {
			return nil, apperrors.NewUnavailableError("stock record unavailable", err)
		}
		return nil, err
	}

	var decoded struct {
		ItemID            string    `json:"itemId"`
		WarehouseID       string    `json:"warehouseId"`
		Available         float64   `json:"available"`
		Reserved          float64   `json:"reserved"`
		Unit              string    `json:"unit"`
		LowStockThreshold float64   `json:"lowStockThreshold"`
		UpdatedAt         time.Time `json:"updatedAt"`
	}
	if err := json.Unmarshal(result, &decoded); err != nil {
		return nil, fmt.Errorf("decoding stock record for %s: %w", itemID, err)
	}
	if decoded.ItemID == "" {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("stock record for %s in %s not found", itemID, warehouseID))
	}

	return &domain.StockRecord{
		ItemID:            decoded.ItemID,
		WarehouseID:       decoded.WarehouseID,
		AvailableQuantity: decoded.Available,
		ReservedQuantity:  decoded.Reserved,
		Unit:              domain.UnitKind(decoded.Unit),
		LowStockThreshold: decoded.LowStockThreshold,
		UpdatedAt:         decoded.UpdatedAt,
	}, nil
}
