package delivery

import (
	"context"
	"time"

	transactionDatamodel "github.com/frahmantamala/zenn-checkout/internal/core/datamodel/transaction"
)

type (
	Transaction     = transactionDatamodel.Transaction
	TimelineEntry   = transactionDatamodel.TimelineEntry
	DeliveryAttempt = transactionDatamodel.DeliveryAttempt
)

// Steps is the forward path of an order. problem sits outside it.
var Steps = []string{
	transactionDatamodel.DeliveryPaymentConfirmed,
	transactionDatamodel.DeliveryPreparingOrder,
	transactionDatamodel.DeliveryInTransit,
	transactionDatamodel.DeliveryDelivered,
}

var next = map[string]string{
	transactionDatamodel.DeliveryPaymentConfirmed: transactionDatamodel.DeliveryPreparingOrder,
	transactionDatamodel.DeliveryPreparingOrder:   transactionDatamodel.DeliveryInTransit,
	transactionDatamodel.DeliveryInTransit:        transactionDatamodel.DeliveryDelivered,
}

// CanTransition reports whether from -> to is a legal delivery edge. delivered and problem are
// terminal; problem is reachable from every other state.
func CanTransition(from, to string) bool {
	switch from {
	case "", transactionDatamodel.DeliveryDelivered, transactionDatamodel.DeliveryProblem:
		return false
	}
	if to == transactionDatamodel.DeliveryProblem {
		return true
	}
	return next[from] == to
}

func stepIndex(status string) int {
	for i, s := range Steps {
		if s == status {
			return i
		}
	}
	return -1
}

// Transition is one guarded delivery status change.
type Transition struct {
	TransactionID  int64
	ProcessID      int64
	From           string
	To             string
	TrackingNumber string
	CourierCompany string
	Notes          string
	ActorID        int64
	Automatic      bool
	Notify         bool
	At             time.Time
}

type StatusCount struct {
	Status string `db:"delivery_status" json:"status"`
	Count  int64  `db:"orders" json:"count"`
}

type Stats struct {
	ByStatus      []StatusCount `json:"by_status"`
	Total         int64         `json:"total"`
	RatedOrders   int64         `json:"rated_orders"`
	AverageRating float64       `json:"average_rating"`
}

type Repository interface {
	GetByProcessID(ctx context.Context, processID int64) (*Transaction, error)
	// Advance applies the transition only while the stored status is still From and the payment
	// is approved and not rolled back.
	Advance(ctx context.Context, t Transition) (bool, error)
	// RecordAttempt stores an attempt while the order is in transit. A non-nil delivered
	// transition commits with it or not at all.
	RecordAttempt(ctx context.Context, transactionID int64, attempt *DeliveryAttempt, delivered *Transition) (bool, error)
	Rate(ctx context.Context, transactionID int64, rating int, feedback string, at time.Time) (bool, error)
	Stats(ctx context.Context) (*Stats, error)
}
