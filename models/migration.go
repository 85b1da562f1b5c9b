package models

import "gorm.io/gorm"

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&SyncChangelog{},
		&Establishment{}, &Role{}, &User{},
		&Category{}, &Product{}, &Customer{}, &Supplier{}, &PaymentMethod{},
		&DiningTable{}, &Order{}, &OrderItem{},
		&Invoice{}, &InvoicePayment{}, &CashClosing{},
	)
}
