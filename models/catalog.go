package models

import "github.com/shopspring/decimal"

type Category struct {
	SyncBase
	EstablishmentScoped
	Name      string `gorm:"size:100;not null" json:"name"`
	SortOrder int    `gorm:"default:0" json:"sort_order"`
	IsActive  bool   `gorm:"not null;default:true" json:"is_active"`
}

type Product struct {
	SyncBase
	EstablishmentScoped
	CategoryId  string          `gorm:"type:varchar(36);index" json:"category_id"`
	Name        string          `gorm:"size:150;not null" json:"name"`
	Sku         string          `gorm:"size:50" json:"sku"`
	Price       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"price"`
	TaxRate     decimal.Decimal `gorm:"type:decimal(7,4);default:0" json:"tax_rate"`
	IsAvailable bool            `gorm:"not null;default:true" json:"is_available"`
}

type Customer struct {
	SyncBase
	EstablishmentScoped
	Name       string `gorm:"size:150;not null" json:"name"`
	DocumentNo string `gorm:"size:50" json:"document_no"`
	Email      string `gorm:"size:100" json:"email"`
	Phone      string `gorm:"size:30" json:"phone"`
}

type Supplier struct {
	SyncBase
	EstablishmentScoped
	Name       string `gorm:"size:150;not null" json:"name"`
	DocumentNo string `gorm:"size:50" json:"document_no"`
	Phone      string `gorm:"size:30" json:"phone"`
}

type PaymentMethod struct {
	SyncBase
	EstablishmentScoped
	Name     string `gorm:"size:50;not null" json:"name"`
	IsCash   bool   `gorm:"not null;default:false" json:"is_cash"`
	IsActive bool   `gorm:"not null;default:true" json:"is_active"`
}
