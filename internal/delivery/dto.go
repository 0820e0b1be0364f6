package delivery

import (
	"time"

	errors "github.com/frahmantamala/zenn-checkout/internal"
	"github.com/frahmantamala/zenn-checkout/internal/core/common/validation"
	transactionDatamodel "github.com/frahmantamala/zenn-checkout/internal/core/datamodel/transaction"
)

type AdvanceDTO struct {
	Status         string `json:"status"`
	ExpectedStatus string `json:"expected_status,omitempty"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	CourierCompany string `json:"courier_company,omitempty"`
	Notes          string `json:"notes,omitempty"`
	NotifyCustomer *bool  `json:"notify_customer,omitempty"`
}

// notify defaults to true when the request leaves notify_customer out.
func (dto AdvanceDTO) notify() bool {
	return dto.NotifyCustomer == nil || *dto.NotifyCustomer
}

func (dto AdvanceDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("status", dto.Status).Required().OneOf(errors.ErrCodeInvalidStatus,
		transactionDatamodel.DeliveryPreparingOrder,
		transactionDatamodel.DeliveryInTransit,
		transactionDatamodel.DeliveryDelivered,
		transactionDatamodel.DeliveryProblem,
	)
	v.Field("tracking_number", dto.TrackingNumber).MaxLength(100)
	v.Field("courier_company", dto.CourierCompany).MaxLength(100)
	v.Field("notes", dto.Notes).MaxLength(1000)
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

type AttemptDTO struct {
	Result          string     `json:"result"`
	Notes           string     `json:"notes,omitempty"`
	NextAttemptDate *time.Time `json:"next_attempt_date,omitempty"`
}

func (dto AttemptDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("result", dto.Result).Required().OneOf(errors.ErrCodeValidationFailed,
		transactionDatamodel.AttemptSuccessful,
		transactionDatamodel.AttemptFailed,
		transactionDatamodel.AttemptCustomerNotAvailable,
		transactionDatamodel.AttemptAddressIssue,
	)
	v.Field("notes", dto.Notes).MaxLength(1000)
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

type RateDTO struct {
	Rating   int    `json:"rating"`
	Feedback string `json:"feedback,omitempty"`
}

func (dto RateDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("rating", dto.Rating).IntRange(1, 5, errors.ErrCodeInvalidRating)
	v.Field("feedback", dto.Feedback).MaxLength(1000)
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

type StepView struct {
	Status    string    `json:"status"`
	Note      string    `json:"note,omitempty"`
	Actor     *int64    `json:"actor,omitempty"`
	Automatic bool      `json:"automatic"`
	At        time.Time `json:"at"`
}

type AttemptView struct {
	Result          string     `json:"result"`
	Notes           string     `json:"notes,omitempty"`
	NextAttemptDate *time.Time `json:"next_attempt_date,omitempty"`
	AttemptedAt     time.Time  `json:"attempted_at"`
}

type ProgressView struct {
	ProcessID          int64         `json:"process_id"`
	CurrentStatus      string        `json:"current_status"`
	StepIndex          int           `json:"step_index"`
	TotalSteps         int           `json:"total_steps"`
	ProgressPercentage int           `json:"progress_percentage"`
	NextStep           string        `json:"next_step,omitempty"`
	TrackingNumber     *string       `json:"tracking_number,omitempty"`
	CourierCompany     *string       `json:"courier_company,omitempty"`
	DeliveryNotes      *string       `json:"delivery_notes,omitempty"`
	ActualDeliveryDate *time.Time    `json:"actual_delivery_date,omitempty"`
	LastUpdated        *time.Time    `json:"last_updated,omitempty"`
	AttemptCount       int           `json:"attempt_count"`
	Rating             *int          `json:"rating,omitempty"`
	CanRate            bool          `json:"can_rate"`
	Timeline           []StepView    `json:"timeline"`
	Attempts           []AttemptView `json:"attempts"`
}

type AdvanceResponse struct {
	ProcessID int64  `json:"process_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Notified  bool   `json:"notified"`
}
