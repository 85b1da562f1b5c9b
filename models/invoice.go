package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Invoice struct {
	SyncBase
	EstablishmentScoped
	OrderId    *string         `gorm:"type:varchar(36);index" json:"order_id"`
	CustomerId *string         `gorm:"type:varchar(36);index" json:"customer_id"`
	Number     string          `gorm:"size:50;index" json:"number"`
	IssuedAt   time.Time       `gorm:"precision:3" json:"issued_at"`
	Subtotal   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"subtotal"`
	TaxTotal   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax_total"`
	Total      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total"`
	IsVoided   bool            `gorm:"not null;default:false" json:"is_voided"`
}

// InvoicePayment has no establishment column of its own; it belongs to the establishment
// of its parent invoice.
type InvoicePayment struct {
	SyncBase
	InvoiceId       string          `gorm:"type:varchar(36);index;not null" json:"invoice_id"`
	PaymentMethodId string          `gorm:"type:varchar(36);index" json:"payment_method_id"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	Reference       string          `gorm:"size:100" json:"reference"`
	PaidAt          time.Time       `gorm:"precision:3" json:"paid_at"`
}

func (InvoicePayment) GetEstablishmentId() string { return "" }

type CashClosing struct {
	SyncBase
	EstablishmentScoped
	UserId         string          `gorm:"type:varchar(36)" json:"user_id"`
	OpenedAt       time.Time       `gorm:"precision:3" json:"opened_at"`
	ClosedAt       *time.Time      `gorm:"precision:3" json:"closed_at"`
	OpeningAmount  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"opening_amount"`
	ExpectedAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"expected_amount"`
	CountedAmount  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"counted_amount"`
}
