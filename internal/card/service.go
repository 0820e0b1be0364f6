package card

import (
	"context"
	"log/slog"

	"github.com/jaevor/go-nanoid"

	"github.com/frahmantamala/zenn-checkout/internal"
	"github.com/frahmantamala/zenn-checkout/internal/bancard"
)

type Service struct {
	gateway Gateway
	ids     CardIDSource
	logger  *slog.Logger
	newRef  func() string
}

func NewService(gateway Gateway, ids CardIDSource, logger *slog.Logger) (*Service, error) {
	ref, err := nanoid.Standard(16)
	if err != nil {
		return nil, err
	}
	return &Service{
		gateway: gateway,
		ids:     ids,
		logger:  logger,
		newRef:  ref,
	}, nil
}

var errGuest = internal.NewForbiddenError("saved cards are only available to registered users", internal.ErrCodeGuestNotAllowed)

// Enroll asks the gateway for a card registration iframe.
func (s *Service) Enroll(ctx context.Context, userID int64, dto EnrollCardDTO) (*EnrollResponse, error) {
	if userID == 0 {
		return nil, errGuest
	}
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	cardID := dto.CardID
	if cardID == 0 {
		cardID = s.ids.Next()
	}
	ref := s.newRef()

	result, err := s.gateway.NewCard(ctx, bancard.NewCardRequest{
		CardID: cardID,
		UserID: userID,
		Phone:  dto.Phone,
		Email:  dto.Email,
	})
	if err != nil {
		return nil, s.gatewayError("cards_new", userID, err)
	}
	if !result.Accepted {
		s.logger.Warn("card enrollment rejected", "user_id", userID, "reference", ref, "messages", result.Messages.String())
		return nil, internal.NewGatewayRejectionError("card enrollment was rejected", result.Messages)
	}

	s.logger.Info("card enrollment started",
		"user_id", userID,
		"card_id", cardID,
		"reference", ref,
		"process_id", result.ProcessID)
	return &EnrollResponse{
		Reference:        ref,
		CardID:           cardID,
		GatewayProcessID: result.ProcessID,
		IframeURL:        result.IframeURL,
	}, nil
}

func (s *Service) List(ctx context.Context, userID int64) ([]Card, error) {
	if userID == 0 {
		return nil, errGuest
	}

	result, err := s.gateway.ListCards(ctx, userID)
	if err != nil {
		return nil, s.gatewayError("users_cards", userID, err)
	}

	cards := make([]Card, 0, len(result.Cards))
	for _, c := range result.Cards {
		cards = append(cards, fromGateway(c))
	}
	return cards, nil
}

func (s *Service) Delete(ctx context.Context, userID int64, dto DeleteCardDTO) error {
	if userID == 0 {
		return errGuest
	}
	if err := dto.Validate(); err != nil {
		return err
	}

	result, err := s.gateway.DeleteCard(ctx, userID, dto.AliasToken)
	if err != nil {
		return s.gatewayError("delete_card", userID, err)
	}
	if !result.Deleted {
		return internal.NewGatewayRejectionError("card deletion was rejected", result.Messages)
	}

	s.logger.Info("card deleted", "user_id", userID)
	return nil
}

func (s *Service) gatewayError(operation string, userID int64, err error) error {
	if appErr, ok := internal.IsAppError(err); ok {
		return appErr
	}
	if bancard.IsTransient(err) {
		s.logger.Warn("card gateway unavailable", "operation", operation, "user_id", userID, "error", err)
		return internal.NewGatewayTransientError("payment gateway did not answer", err)
	}
	s.logger.Warn("card gateway rejected the request", "operation", operation, "user_id", userID, "error", err)
	return internal.NewGatewayRejectionError(err.Error(), nil)
}
