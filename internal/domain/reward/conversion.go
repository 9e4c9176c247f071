package reward

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/smartrx/smartrx/internal/platform/apierror"
)

// maxAmountScale matches the NUMERIC(18,4) amount column.
const maxAmountScale = 4

type ConversionInput struct {
	UserID    int64           `json:"-"`
	FromType  PointType       `json:"from_type"`
	ToType    PointType       `json:"to_type"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedBy int64           `json:"-"`
}

func (s *Service) validateConversion(ctx context.Context, in ConversionInput) (decimal.Decimal, error) {
	if in.UserID <= 0 {
		return decimal.Zero, apierror.BadRequest("user id must be greater than zero")
	}
	if !in.FromType.Valid() {
		return decimal.Zero, apierror.BadRequest("invalid from_type %q", in.FromType)
	}
	if !in.ToType.Valid() {
		return decimal.Zero, apierror.BadRequest("invalid to_type %q", in.ToType)
	}
	if in.FromType == in.ToType {
		return decimal.Zero, apierror.BadRequest("from_type and to_type must differ")
	}
	if !in.Amount.IsPositive() {
		return decimal.Zero, apierror.BadRequest("amount must be greater than zero")
	}
	if !in.Amount.Equal(in.Amount.Truncate(maxAmountScale)) {
		return decimal.Zero, apierror.BadRequest("amount must have at most %d decimal places", maxAmountScale)
	}
	if in.FromType == PointNoncashable && in.ToType == PointMoney {
		return decimal.Zero, apierror.BadRequest("non-cashable points cannot be encashed")
	}

	rate, err := s.rates.Rate(ctx, in.FromType, in.ToType)
	if errors.Is(err, ErrUnsupportedPair) {
		return decimal.Zero, apierror.BadRequest("unsupported conversion pair %s to %s", in.FromType, in.ToType)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get conversion rate: %w", err)
	}
	return rate, nil
}

// Convert exchanges points between pools at the configured rate. It checks the
// reconciled balance of the source pool and appends one conversion row; the
// transaction log is not touched.
func (s *Service) Convert(ctx context.Context, in ConversionInput) (*Conversion, error) {
	rate, err := s.validateConversion(ctx, in)
	if err != nil {
		return nil, err
	}

	createdBy := in.CreatedBy
	if createdBy == 0 {
		createdBy = in.UserID
	}
	conv := &Conversion{
		UserID:          in.UserID,
		FromType:        in.FromType,
		ToType:          in.ToType,
		Amount:          in.Amount,
		Rate:            rate,
		ConvertedPoints: in.Amount.Mul(rate),
		CreatedBy:       createdBy,
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.conversions.LockUser(ctx, in.UserID); err != nil {
			return fmt.Errorf("lock user %d: %w", in.UserID, err)
		}

		view, err := s.reconciler.Summary(ctx, Filter{UserID: in.UserID})
		if err != nil {
			return fmt.Errorf("reconcile balances for user %d: %w", in.UserID, err)
		}
		available := view.Pool(in.FromType).Net
		if available.LessThan(in.Amount) {
			return apierror.Conflict("insufficient %s balance: available %s, requested %s",
				in.FromType, available, in.Amount)
		}

		if err := s.conversions.Create(ctx, conv); err != nil {
			return fmt.Errorf("create conversion: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("conversion_id", conv.ID).
		Int64("user_id", conv.UserID).
		Str("from", string(conv.FromType)).
		Str("to", string(conv.ToType)).
		Str("amount", conv.Amount.String()).
		Str("converted_points", conv.ConvertedPoints.String()).
		Msg("reward points converted")
	return conv, nil
}
