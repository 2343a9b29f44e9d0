package models

import "gorm.io/gorm"

// All lists every table owned by the service, in dependency order.
func All() []interface{} {
	return []interface{}{
		&Project{},
		&CashflowEvent{},
		&TokenBalance{},
		&TokenMovement{},
		&Distribution{},
		&DistributionEntry{},
		&SettlementLeg{},
		&Contribution{},
		&PoolContributor{},
		&CapitalPool{},
		&Allocation{},
		&AllocationShare{},
		&PoolReplenishment{},
		&CapitalPoolSnapshot{},
		&LedgerPosting{},
		&SolanaTransfer{},
		&WalletAccount{},
		&SystemLog{},
	}
}

// AutoMigrate creates or updates the schema and seeds the capital pool row.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(All()...); err != nil {
		return err
	}
	return db.FirstOrCreate(&CapitalPool{ID: CapitalPoolID}).Error
}
