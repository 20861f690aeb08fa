package repository

import (
	"context"
	"errors"

	paymentdomain "github.com/subledger-io/subledger/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() paymentdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, p *paymentdomain.Payment) error {
	err := db.WithContext(ctx).Create(p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return paymentdomain.ErrDuplicateProviderPayment
		}
		return err
	}
	return nil
}
