package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/courierhq/courier/internal/repository"
)

func createMessagesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_messages",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.MessageModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_messages_status_channel_created ON messages (status, channel, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_messages_batch_id ON messages (batch_id) WHERE batch_id IS NOT NULL`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_idempotency_key ON messages (idempotency_key) WHERE idempotency_key IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_messages_redelivery ON messages (next_dispatch_at) WHERE status = 'DEFERRED'`,
				`CREATE INDEX IF NOT EXISTS idx_messages_scheduled_due ON messages (scheduled_at) WHERE status = 'ACCEPTED' AND scheduled_at IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_messages_correlation_id ON messages (correlation_id)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.MessageModel{})
		},
	}
}
