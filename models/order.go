package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TableStatus string

const (
	TableStatusFree     TableStatus = "FREE"
	TableStatusOccupied TableStatus = "OCCUPIED"
	TableStatusReserved TableStatus = "RESERVED"
)

type DiningTable struct {
	SyncBase
	EstablishmentScoped
	Number   string      `gorm:"size:20;not null" json:"number"`
	Capacity int         `gorm:"default:0" json:"capacity"`
	Status   TableStatus `gorm:"size:20;not null;default:'FREE'" json:"status"`
}

type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusInKitchen OrderStatus = "IN_KITCHEN"
	OrderStatusServed    OrderStatus = "SERVED"
	OrderStatusClosed    OrderStatus = "CLOSED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

type Order struct {
	SyncBase
	EstablishmentScoped
	TableId    *string         `gorm:"type:varchar(36);index" json:"table_id"`
	CustomerId *string         `gorm:"type:varchar(36);index" json:"customer_id"`
	UserId     string          `gorm:"type:varchar(36)" json:"user_id"`
	Status     OrderStatus     `gorm:"size:20;not null;default:'OPEN'" json:"status"`
	Total      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total"`
	Notes      string          `gorm:"type:text" json:"notes"`
	OpenedAt   time.Time       `gorm:"precision:3" json:"opened_at"`
}

type OrderItem struct {
	SyncBase
	EstablishmentScoped
	OrderId   string          `gorm:"type:varchar(36);index;not null" json:"order_id"`
	ProductId string          `gorm:"type:varchar(36);index;not null" json:"product_id"`
	Quantity  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	Notes     string          `gorm:"size:255" json:"notes"`
}
