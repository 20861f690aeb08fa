package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Save(ctx context.Context, db *gorm.DB, usage *OrganizationUsage) error
	FindByOrganizationAndResource(ctx context.Context, db *gorm.DB, orgID snowflake.ID, resource string) (*OrganizationUsage, error)
}
