package migration

import (
	"fmt"

	accountdomain "github.com/smallbiznis/yardcraft/internal/account/domain"
	generationdomain "github.com/smallbiznis/yardcraft/internal/generation/domain"
	ledgerdomain "github.com/smallbiznis/yardcraft/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/yardcraft/internal/payment/domain"
	"gorm.io/gorm"
)

// Models lists every table owned by the service, in dependency order.
func Models() []any {
	return []any{
		&accountdomain.Account{},
		&ledgerdomain.Transaction{},
		&generationdomain.Request{},
		&generationdomain.AreaItem{},
		&paymentdomain.EventRecord{},
	}
}

// AutoMigrate builds the schema from the gorm models, including their CHECK
// constraints. Used for sqlite.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
