package database

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"guest-concierge/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CopyResult counts the rows read per table.
type CopyResult map[string]int

// CopyAll copies every table from src to dst, one transaction per table.
// Rows already present in dst are left alone, so a copy can be re-run.
func CopyAll(ctx context.Context, src, dst *gorm.DB, batchSize int, logger *slog.Logger) (CopyResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	if err := Migrate(dst); err != nil {
		return nil, err
	}

	res := CopyResult{}
	for _, model := range models.All() {
		stmt := &gorm.Statement{DB: src}
		if err := stmt.Parse(model); err != nil {
			return res, err
		}
		table := stmt.Schema.Table

		rows := reflect.New(reflect.SliceOf(reflect.TypeOf(model).Elem()))
		if err := src.WithContext(ctx).Find(rows.Interface()).Error; err != nil {
			return res, fmt.Errorf("read %s: %w", table, err)
		}
		n := rows.Elem().Len()
		res[table] = n
		if n == 0 {
			logger.Info("table empty, skipped", "table", table)
			continue
		}

		err := dst.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Clauses(clause.OnConflict{DoNothing: true}).
				CreateInBatches(rows.Interface(), batchSize).Error
		})
		if err != nil {
			return res, fmt.Errorf("write %s: %w", table, err)
		}
		if pk := stmt.Schema.PrioritizedPrimaryField; pk != nil && pk.AutoIncrement && dst.Dialector.Name() == "postgres" {
			// Explicit ids do not advance the serial sequence.
			if err := dst.WithContext(ctx).Exec(fmt.Sprintf(
				"SELECT setval(pg_get_serial_sequence('%s', '%s'), COALESCE(MAX(%s), 1)) FROM %s",
				table, pk.DBName, pk.DBName, table)).Error; err != nil {
				return res, fmt.Errorf("reset %s sequence: %w", table, err)
			}
		}
		logger.Info("table copied", "table", table, "rows", n)
	}
	return res, nil
}
