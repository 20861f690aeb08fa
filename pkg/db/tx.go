package db

import (
	"context"
	"database/sql"

	"gorm.io/gorm"
)

// Transaction runs fn inside a serializable transaction. Concurrent workers
// touching the same organization's subscription are serialized by the
// database, not by in-process locks, so any number of worker replicas is
// safe. The sqlite dialect used by tests does not accept an explicit
// isolation level; its transactions are serializable already.
func Transaction(ctx context.Context, conn *gorm.DB, fn func(tx *gorm.DB) error) error {
	if conn.Dialector.Name() == "postgres" {
		return conn.WithContext(ctx).Transaction(fn, &sql.TxOptions{Isolation: sql.LevelSerializable})
	}
	return conn.WithContext(ctx).Transaction(fn)
}
