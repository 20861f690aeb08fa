package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/subledger-io/subledger/internal/usage/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) Save(ctx context.Context, db *gorm.DB, usage *usagedomain.OrganizationUsage) error {
	return db.WithContext(ctx).Save(usage).Error
}

func (r *repo) FindByOrganizationAndResource(ctx context.Context, db *gorm.DB, orgID snowflake.ID, resource string) (*usagedomain.OrganizationUsage, error) {
	var usage usagedomain.OrganizationUsage
	err := db.WithContext(ctx).
		Where("organization_id = ? AND resource = ?", orgID, resource).
		First(&usage).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &usage, nil
}
