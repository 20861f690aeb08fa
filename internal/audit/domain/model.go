package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type AuditLog struct {
	ID             snowflake.ID   `gorm:"primaryKey"`
	OrganizationID *snowflake.ID  `gorm:"column:organization_id;index"`
	Action         string         `gorm:"type:text;not null"`
	TargetType     string         `gorm:"type:text;not null"`
	TargetID       *string        `gorm:"type:text"`
	Metadata       datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt      time.Time      `gorm:"not null"`
}

func (AuditLog) TableName() string { return "audit_logs" }
