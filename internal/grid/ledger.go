package grid

import (
	"sync"
	"time"

	apperrors "grid-trader/internal/errors"
	"grid-trader/internal/models"
)

// OutcomeKind classifies what a resolved fill meant to the strategy.
type OutcomeKind string

const (
	// OutcomeEntryFilled means an entry order filled and a mirror
	// order should be placed to close the position.
	OutcomeEntryFilled OutcomeKind = "entry_filled"
	// OutcomePositionClosed means a mirror filled, completing a round
	// trip.
	OutcomePositionClosed OutcomeKind = "position_closed"
	// OutcomeUnknownFill means the order id is not tracked; duplicate
	// or stale fills resolve to this and are ignored.
	OutcomeUnknownFill OutcomeKind = "unknown_fill"
	// OutcomeOrphanMirror means a mirror filled but its pending
	// position is gone.
	OutcomeOrphanMirror OutcomeKind = "orphan_mirror"
)

// FillOutcome is the ledger's verdict on a single fill.
type FillOutcome struct {
	Kind OutcomeKind

	// Mirror is the order to place next, populated for
	// OutcomeEntryFilled. Its ID is empty until the exchange assigns
	// one.
	Mirror *models.Order

	// Trade is the completed round trip, populated for
	// OutcomePositionClosed.
	Trade *models.TradeRecord
}

// Ledger tracks live orders and pending positions under a single
// mutex. It never talks to the exchange; callers place and cancel
// orders after the lock is released.
type Ledger struct {
	mu         sync.Mutex
	orders     map[string]models.Order
	pending    map[string]models.PendingPosition // keyed by entry order id
	takeProfit float64
}

// NewLedger creates an empty ledger with the given take-profit ratio.
func NewLedger(takeProfit float64) *Ledger {
	return &Ledger{
		orders:     make(map[string]models.Order),
		pending:    make(map[string]models.PendingPosition),
		takeProfit: takeProfit,
	}
}

// Register starts tracking a live order. Registering an id twice is an
// error.
func (l *Ledger) Register(order models.Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.orders[order.ID]; exists {
		return apperrors.Wrapf(apperrors.ErrDuplicateOrderID, "order %s", order.ID)
	}
	l.orders[order.ID] = order
	return nil
}

// ResolveFill applies one fill to the ledger state and reports what it
// meant. The returned mirror order, if any, has not been placed; its
// ID is assigned by the exchange and the caller registers it
// afterwards.
func (l *Ledger) ResolveFill(fill models.Fill) FillOutcome {
	l.mu.Lock()
	defer l.mu.Unlock()

	order, ok := l.orders[fill.OrderID]
	if !ok {
		return FillOutcome{Kind: OutcomeUnknownFill}
	}
	delete(l.orders, fill.OrderID)

	at := fill.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	if order.IsMirror {
		pos, ok := l.pending[order.ParentID]
		if !ok {
			return FillOutcome{Kind: OutcomeOrphanMirror}
		}
		delete(l.pending, order.ParentID)

		profit := (fill.Price - pos.EntryPrice) * fill.Size
		if pos.Side == models.OrderSideSell {
			profit = (pos.EntryPrice - fill.Price) * fill.Size
		}

		return FillOutcome{
			Kind: OutcomePositionClosed,
			Trade: &models.TradeRecord{
				OpenOrderID: pos.OriginOrderID,
				Side:        pos.Side,
				OpenPrice:   pos.EntryPrice,
				OpenTime:    pos.OpenedAt,
				ClosePrice:  fill.Price,
				CloseTime:   at,
				Size:        fill.Size,
				Profit:      profit,
			},
		}
	}

	l.pending[order.ID] = models.PendingPosition{
		OriginOrderID: order.ID,
		Side:          order.Side,
		EntryPrice:    fill.Price,
		EntrySize:     fill.Size,
		OpenedAt:      at,
	}

	mirrorSide := order.Side.Opposite()
	mirrorPrice := fill.Price * (1 + l.takeProfit)
	if mirrorSide == models.OrderSideBuy {
		mirrorPrice = fill.Price * (1 - l.takeProfit)
	}

	return FillOutcome{
		Kind: OutcomeEntryFilled,
		Mirror: &models.Order{
			Symbol:   order.Symbol,
			Side:     mirrorSide,
			Price:    mirrorPrice,
			Size:     fill.Size,
			IsMirror: true,
			ParentID: order.ID,
		},
	}
}

// EntryOrders returns a snapshot of the live non-mirror orders. Used
// by the rebuild cycle, which replaces entries but never touches
// mirrors.
func (l *Ledger) EntryOrders() []models.Order {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := make([]models.Order, 0, len(l.orders))
	for _, o := range l.orders {
		if !o.IsMirror {
			entries = append(entries, o)
		}
	}
	return entries
}

// Remove drops a single order from tracking, after the exchange has
// confirmed its cancellation. It reports whether the order was
// tracked.
func (l *Ledger) Remove(orderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.orders[orderID]
	delete(l.orders, orderID)
	return ok
}

// CancelAll clears every tracked order and returns their ids. Pending
// positions are kept; their history is still owed a close.
func (l *Ledger) CancelAll() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]string, 0, len(l.orders))
	for id := range l.orders {
		ids = append(ids, id)
	}
	l.orders = make(map[string]models.Order)
	return ids
}

// OpenPositionCount returns the number of pending positions.
func (l *Ledger) OpenPositionCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// OrderCount returns the number of tracked live orders.
func (l *Ledger) OrderCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.orders)
}

// MirrorOrders returns a snapshot of the live mirror orders.
func (l *Ledger) MirrorOrders() []models.Order {
	l.mu.Lock()
	defer l.mu.Unlock()

	mirrors := make([]models.Order, 0, len(l.orders))
	for _, o := range l.orders {
		if o.IsMirror {
			mirrors = append(mirrors, o)
		}
	}
	return mirrors
}
