package model

// ProductSettings tells fulfillment how licenses are sourced for a product.
type ProductSettings struct {
	ProductID         int64  `db:"product_id"`
	Licensed          bool   `db:"licensed"`
	DeliveredQuantity int    `db:"delivered_quantity"` // keys per purchased unit
	UseStock          bool   `db:"use_stock"`
	UseGenerator      bool   `db:"use_generator"`
	GeneratorID       *int64 `db:"generator_id"`
}

// PerUnit returns the number of keys delivered per purchased unit (min 1).
func (p *ProductSettings) PerUnit() int {
	if p.DeliveredQuantity < 1 {
		return 1
	}
	return p.DeliveredQuantity
}
