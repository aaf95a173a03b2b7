package opm

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"kiwoom-trader/internal/prp"
	"kiwoom-trader/internal/rules"
)

const ratePlaces = 4

// EventStore is the slice of the persistence layer OPM writes to.
type EventStore interface {
	AppendOrderEvent(prp.OrderEvent) error
	AppendExecutionEvent(prp.ExecutionEvent) (bool, error)
	SaveStateSnapshot(prp.PositionSnapshot) error
}

// Service owns order lifecycle and fill reconciliation. Every status move
// appends an order event; every reconcile appends a position snapshot.
type Service struct {
	store  EventStore
	logger *slog.Logger
}

// NewService builds the order manager.
func NewService(store EventStore, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger.With("component", "opm")}
}

func shortID(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

// CreateOrder builds a PENDING_SUBMIT limit order and persists its first
// order event. A client order id is generated when not supplied.
func (s *Service) CreateOrder(tradingDate, symbol string, side Side, requestedPrice decimal.Decimal, requestedQty int64, clientOrderID string, now time.Time) (*OrderAggregate, error) {
	if clientOrderID == "" {
		clientOrderID = fmt.Sprintf("%s-%s-%s-%s", tradingDate, symbol, side, shortID(6))
	}
	order := &OrderAggregate{
		ID:             fmt.Sprintf("opm-%s-%s-%s-%s", tradingDate, symbol, side, shortID(8)),
		TradingDate:    tradingDate,
		Symbol:         symbol,
		Side:           side,
		OrderType:      "LIMIT",
		RequestedPrice: requestedPrice,
		RequestedQty:   requestedQty,
		Status:         StatusPendingSubmit,
		ClientOrderID:  clientOrderID,
		RemainingQty:   requestedQty,
		LastUpdatedAt:  now,
	}
	if err := s.persistOrderEvent(order); err != nil {
		return nil, err
	}
	return order, nil
}

// MoveOrderStatus transitions the order and appends the resulting event.
func (s *Service) MoveOrderStatus(order *OrderAggregate, next string, now time.Time, brokerOrderID, errorCode string) error {
	if err := TransitionOrderStatus(order, next, now); err != nil {
		return err
	}
	if brokerOrderID != "" {
		order.BrokerOrderID = brokerOrderID
	}
	if errorCode != "" {
		order.LastErrorCode = errorCode
	}
	return s.persistOrderEvent(order)
}

// ComputeSellPrice returns the tick-aligned sell limit for a market price.
func (s *Service) ComputeSellPrice(currentPrice decimal.Decimal) (decimal.Decimal, error) {
	return rules.SellLimitPrice(currentPrice)
}

// ComputeBuyPrice returns the buy limit ticksUp steps above the market.
func (s *Service) ComputeBuyPrice(currentPrice decimal.Decimal, ticksUp int) (decimal.Decimal, error) {
	return rules.BuyLimitPrice(currentPrice, ticksUp)
}

// ReconcileExecutionEvents applies broker fills to the order and position.
// Each fill is first appended to the event store; a duplicate execution id
// (append returns false) skips the fill entirely. After all fills the order
// remainder follows the broker's number, the status is promoted, interim
// P&L is refreshed at the latest market price, and a position snapshot is
// appended, plus one trailing order event when a fill applied or the
// status moved. Returns the applied fill count.
func (s *Service) ReconcileExecutionEvents(order *OrderAggregate, position *Position, fills []Fill, brokerRemainingQty int64, latestMarketPrice decimal.Decimal, now time.Time) (int, error) {
	statusBefore := order.Status
	applied := 0
	for _, fill := range fills {
		cumQty := order.CumExecutedQty + fill.Qty
		remaining := order.RequestedQty - cumQty
		if remaining < 0 {
			remaining = 0
		}
		persisted, err := s.store.AppendExecutionEvent(prp.ExecutionEvent{
			EventID:        "evt-exe-" + shortID(12),
			ExecutionID:    fill.ExecutionID,
			OrderID:        order.ID,
			TradingDate:    order.TradingDate,
			OccurredAt:     fill.ExecutedAt,
			Symbol:         fill.Symbol,
			Side:           string(fill.Side),
			ExecutionPrice: fill.Price,
			ExecutionQty:   fill.Qty,
			CumQty:         cumQty,
			RemainingQty:   remaining,
		})
		if err != nil {
			return applied, err
		}
		if !persisted {
			s.logger.Info("duplicate fill skipped",
				"order_id", order.ID, "execution_id", fill.ExecutionID)
			continue
		}

		applied++
		s.applyFillToOrder(order, fill)
		s.applyFillToPosition(position, order.Side, fill)
	}

	order.RemainingQty = brokerRemainingQty
	if order.RemainingQty < 0 {
		order.RemainingQty = 0
	}
	if order.RemainingQty == 0 && order.CumExecutedQty >= order.RequestedQty {
		switch order.Status {
		case StatusAccepted, StatusPartiallyFilled, StatusReconciling:
			order.Status = StatusFilled
		}
	} else if order.CumExecutedQty > 0 {
		switch order.Status {
		case StatusAccepted, StatusReconciling:
			order.Status = StatusPartiallyFilled
		}
	}
	order.LastUpdatedAt = now
	if applied > 0 || order.Status != statusBefore {
		if err := s.persistOrderEvent(order); err != nil {
			return applied, err
		}
	}

	position.CurrentPrice = latestMarketPrice
	s.refreshInterimMetrics(position)
	position.UpdatedAt = now
	if err := s.persistPositionSnapshot(position, order.ID); err != nil {
		return applied, err
	}
	return applied, nil
}

func (s *Service) applyFillToOrder(order *OrderAggregate, fill Fill) {
	prevQty := order.CumExecutedQty
	newQty := prevQty + fill.Qty
	if newQty <= 0 {
		return
	}
	totalNotional := order.AvgExecPrice.Mul(decimal.NewFromInt(prevQty)).
		Add(fill.Price.Mul(decimal.NewFromInt(fill.Qty)))
	order.AvgExecPrice = totalNotional.Div(decimal.NewFromInt(newQty)).Round(ratePlaces)
	order.CumExecutedQty = newQty
	order.RemainingQty = order.RequestedQty - newQty
	if order.RemainingQty < 0 {
		order.RemainingQty = 0
	}
}

func (s *Service) applyFillToPosition(position *Position, side Side, fill Fill) {
	if side == SideBuy {
		newQty := position.Quantity + fill.Qty
		position.BuyNotional = position.BuyNotional.Add(fill.Price.Mul(decimal.NewFromInt(fill.Qty)))
		position.Quantity = newQty
		if newQty > 0 {
			position.AvgBuyPrice = position.BuyNotional.Div(decimal.NewFromInt(newQty)).Round(ratePlaces)
		}
		position.State = PositionLongOpen
	} else {
		// Clamp to what the position actually holds.
		fillQty := fill.Qty
		if fillQty > position.Quantity {
			fillQty = position.Quantity
		}
		position.SellNotional = position.SellNotional.Add(fill.Price.Mul(decimal.NewFromInt(fillQty)))
		position.SellQuantity += fillQty
		position.Quantity -= fillQty
		if position.SellQuantity > 0 {
			position.AvgSellPrice = position.SellNotional.Div(decimal.NewFromInt(position.SellQuantity)).Round(ratePlaces)
		}
		if position.Quantity == 0 {
			position.State = PositionClosed
		} else {
			position.State = PositionExiting
		}
	}
	position.StateVersion++
}

func (s *Service) refreshInterimMetrics(position *Position) {
	qty := decimal.NewFromInt(position.Quantity)
	markToMarket := position.CurrentPrice.Mul(qty)
	position.GrossInterimPnl = markToMarket.Sub(position.AvgBuyPrice.Mul(qty))
	position.EstSellTax = markToMarket.Mul(rules.SellTaxRate).Round(ratePlaces)
	position.EstSellFee = markToMarket.Mul(rules.SellFeeRate).Round(ratePlaces)
	position.NetInterimPnl = position.GrossInterimPnl.Sub(position.EstSellTax).Sub(position.EstSellFee)

	buyNotional := position.AvgBuyPrice.Mul(qty)
	if buyNotional.IsPositive() {
		position.CurrentProfitRate = position.NetInterimPnl.Div(buyNotional).
			Mul(decimal.NewFromInt(100)).Round(ratePlaces)
	} else {
		position.CurrentProfitRate = decimal.Zero
	}

	if position.CurrentProfitRate.GreaterThan(position.MaxProfitRate) {
		position.MaxProfitRate = position.CurrentProfitRate
	}
	// The lock is a latch: once the rate has touched the threshold it
	// stays set for the life of the position.
	if !position.MinProfitLocked && rules.IsMinProfitLocked(position.CurrentProfitRate) {
		position.MinProfitLocked = true
	}
}

func (s *Service) persistOrderEvent(order *OrderAggregate) error {
	return s.store.AppendOrderEvent(prp.OrderEvent{
		EventID:        "evt-ord-" + shortID(12),
		OrderID:        order.ID,
		TradingDate:    order.TradingDate,
		OccurredAt:     order.LastUpdatedAt,
		Symbol:         order.Symbol,
		Side:           string(order.Side),
		OrderType:      order.OrderType,
		OrderPrice:     order.RequestedPrice,
		Quantity:       order.RequestedQty,
		Status:         order.Status,
		ClientOrderKey: order.ClientOrderID,
		ReasonCode:     order.LastErrorCode,
	})
}

func (s *Service) persistPositionSnapshot(position *Position, lastOrderID string) error {
	return s.store.SaveStateSnapshot(prp.PositionSnapshot{
		SnapshotID:        "snap-" + shortID(12),
		SavedAt:           position.UpdatedAt,
		TradingDate:       position.TradingDate,
		Symbol:            position.Symbol,
		AvgBuyPrice:       position.AvgBuyPrice,
		Quantity:          position.Quantity,
		CurrentProfitRate: position.CurrentProfitRate,
		MaxProfitRate:     position.MaxProfitRate,
		MinProfitLocked:   position.MinProfitLocked,
		LastOrderID:       lastOrderID,
		StateVersion:      position.StateVersion,
	})
}
