package card

import (
	errors "github.com/frahmantamala/zenn-checkout/internal"
	"github.com/frahmantamala/zenn-checkout/internal/core/common/validation"
)

type EnrollCardDTO struct {
	CardID int64  `json:"card_id,omitempty"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
}

func (dto EnrollCardDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("email", dto.Email).Required().Email()
	v.Field("phone", dto.Phone).Required().MaxLength(32)
	v.Field("card_id", dto.CardID).MinInt(0, errors.ErrCodeValidationFailed)
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

type DeleteCardDTO struct {
	AliasToken string `json:"alias_token"`
}

func (dto DeleteCardDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("alias_token", dto.AliasToken).Required()
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

type EnrollResponse struct {
	Reference        string `json:"reference"`
	CardID           int64  `json:"card_id"`
	GatewayProcessID string `json:"process_id"`
	IframeURL        string `json:"iframe_url"`
}
