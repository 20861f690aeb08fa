package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var ErrInvalidName = errors.New("organization: name is required")

type Organization struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Name      string       `gorm:"type:text;not null"`
	CreatedAt time.Time    `gorm:"not null"`
}

func (Organization) TableName() string { return "organizations" }
