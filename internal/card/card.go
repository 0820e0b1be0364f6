package card

import (
	"context"

	"github.com/frahmantamala/zenn-checkout/internal/bancard"
)

// Gateway is the card vault part of the vPOS client.
type Gateway interface {
	NewCard(ctx context.Context, req bancard.NewCardRequest) (*bancard.CardEnrollmentResult, error)
	ListCards(ctx context.Context, userID int64) (*bancard.CardListResult, error)
	DeleteCard(ctx context.Context, userID int64, aliasToken string) (*bancard.CardDeleteResult, error)
}

// CardIDSource hands out the numeric card ids the gateway expects on enrollment.
type CardIDSource interface {
	Next() int64
}

type Card struct {
	CardID         string `json:"card_id"`
	MaskedNumber   string `json:"card_masked_number"`
	ExpirationDate string `json:"expiration_date"`
	Brand          string `json:"card_brand"`
	Type           string `json:"card_type"`
	AliasToken     string `json:"alias_token"`
}

func fromGateway(c bancard.Card) Card {
	return Card{
		CardID:         c.CardID.String(),
		MaskedNumber:   c.CardMaskedNumber,
		ExpirationDate: c.ExpirationDate,
		Brand:          c.CardBrand,
		Type:           c.CardType,
		AliasToken:     c.AliasToken,
	}
}
