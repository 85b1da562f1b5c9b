package possync

import "bitbucket.org/mmdatafocus/pos_sync_backend/models"

// NewDefaultRegistry registers every syncable POS entity.
// Globals come first so a bulk pull seeds establishments before anything scoped to them.
func NewDefaultRegistry() (*Registry, error) {
	return NewRegistry(
		Entry{Name: "establishment", Handle: NewGlobalHandle[models.Establishment]()},
		Entry{Name: "role", Handle: NewGlobalHandle[models.Role]()},

		Entry{Name: "user", Handle: NewScopedHandle[models.User]()},
		Entry{Name: "category", Handle: NewScopedHandle[models.Category]()},
		Entry{Name: "product", Handle: NewScopedHandle[models.Product]()},
		Entry{Name: "customer", Handle: NewScopedHandle[models.Customer]()},
		Entry{Name: "supplier", Handle: NewScopedHandle[models.Supplier]()},
		Entry{Name: "payment_method", Handle: NewScopedHandle[models.PaymentMethod]()},
		Entry{Name: "table", Handle: NewScopedHandle[models.DiningTable]()},
		Entry{Name: "order", Handle: NewScopedHandle[models.Order]()},
		Entry{Name: "order_item", Handle: NewScopedHandle[models.OrderItem]()},
		Entry{Name: "invoice", Handle: NewScopedHandle[models.Invoice]()},
		Entry{Name: "cash_closing", Handle: NewScopedHandle[models.CashClosing]()},

		Entry{Name: "invoice_payment", Handle: NewJoinedHandle[models.InvoicePayment](
			"invoices", "invoice_id",
			func(p *models.InvoicePayment) string { return p.InvoiceId },
		)},
	)
}

// MustDefaultRegistry panics on a misconfigured registry; bootstrap cannot continue without it.
func MustDefaultRegistry() *Registry {
	r, err := NewDefaultRegistry()
	if err != nil {
		panic(err)
	}
	return r
}
