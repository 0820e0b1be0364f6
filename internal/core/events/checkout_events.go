package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentResolved     = "payment.resolved"
	EventTypePaymentRolledBack   = "payment.rolled_back"
	EventTypeDeliveryAdvanced    = "delivery.advanced"
	EventTypeOutcomeDisagreement = "payment.outcome_disagreement"
	EventTypeNotificationQueued  = "notification.queued"
)

// PaymentResolvedEvent is published after a transaction leaves pending. Source is one of
// sync, webhook or query.
type PaymentResolvedEvent struct {
	BaseEvent
	ProcessID int64  `json:"process_id"`
	Status    string `json:"status"`
	Source    string `json:"source"`
	Currency  string `json:"currency"`
}

func NewPaymentResolvedEvent(processID int64, status, source, currency string) *PaymentResolvedEvent {
	return &PaymentResolvedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentResolved,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"process_id": processID,
				"status":     status,
				"source":     source,
				"currency":   currency,
			},
		},
		ProcessID: processID,
		Status:    status,
		Source:    source,
		Currency:  currency,
	}
}

type PaymentRolledBackEvent struct {
	BaseEvent
	ProcessID int64  `json:"process_id"`
	Reason    string `json:"reason"`
	ActorID   int64  `json:"actor_id"`
}

func NewPaymentRolledBackEvent(processID int64, reason string, actorID int64) *PaymentRolledBackEvent {
	return &PaymentRolledBackEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentRolledBack,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"process_id": processID,
				"reason":     reason,
				"actor_id":   actorID,
			},
		},
		ProcessID: processID,
		Reason:    reason,
		ActorID:   actorID,
	}
}

type DeliveryAdvancedEvent struct {
	BaseEvent
	ProcessID int64  `json:"process_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	ActorID   int64  `json:"actor_id"`
}

func NewDeliveryAdvancedEvent(processID int64, from, to string, actorID int64) *DeliveryAdvancedEvent {
	return &DeliveryAdvancedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeDeliveryAdvanced,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"process_id": processID,
				"from":       from,
				"to":         to,
				"actor_id":   actorID,
			},
		},
		ProcessID: processID,
		From:      from,
		To:        to,
		ActorID:   actorID,
	}
}

// OutcomeDisagreementEvent signals that a confirmation contradicts an already resolved
// transaction. Nothing is downgraded; this is an alert for manual review.
type OutcomeDisagreementEvent struct {
	BaseEvent
	ProcessID      int64  `json:"process_id"`
	StoredStatus   string `json:"stored_status"`
	ReportedStatus string `json:"reported_status"`
	Source         string `json:"source"`
}

func NewOutcomeDisagreementEvent(processID int64, stored, reported, source string) *OutcomeDisagreementEvent {
	return &OutcomeDisagreementEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeOutcomeDisagreement,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"process_id":      processID,
				"stored_status":   stored,
				"reported_status": reported,
				"source":          source,
			},
		},
		ProcessID:      processID,
		StoredStatus:   stored,
		ReportedStatus: reported,
		Source:         source,
	}
}

// NotificationQueuedEvent wakes the dispatcher after an intent is committed.
type NotificationQueuedEvent struct {
	BaseEvent
	ProcessID int64  `json:"process_id"`
	EventName string `json:"event_name"`
}

func NewNotificationQueuedEvent(processID int64, eventName string) *NotificationQueuedEvent {
	return &NotificationQueuedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeNotificationQueued,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"process_id": processID,
				"event_name": eventName,
			},
		},
		ProcessID: processID,
		EventName: eventName,
	}
}
