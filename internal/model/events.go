package model

import "time"

// OrderItem is a purchased line of an order event.
type OrderItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// OrderEvent is consumed from Kafka whenever the shop changes an order status.
type OrderEvent struct {
	OrderID int64       `json:"order_id"`
	UserID  *int64      `json:"user_id,omitempty"`
	Email   string      `json:"email,omitempty"`
	Status  string      `json:"status"` // processing|completed|refunded|cancelled|...
	Items   []OrderItem `json:"items"`
}

// LicenseAction names a lifecycle step recorded as a license event.
type LicenseAction string

const (
	ActionCreated     LicenseAction = "created"
	ActionUpdated     LicenseAction = "updated"
	ActionDeleted     LicenseAction = "deleted"
	ActionActivated   LicenseAction = "activated"
	ActionDeactivated LicenseAction = "deactivated"
	ActionReactivated LicenseAction = "reactivated"
	ActionSold        LicenseAction = "sold"
	ActionDelivered   LicenseAction = "delivered"
	ActionRevoked     LicenseAction = "revoked"
)

func (a LicenseAction) String() string { return string(a) }

// LicenseEvent is the payload written to the outbox (and published to Kafka
// via Debezium Outbox SMT). It never carries the plain key.
type LicenseEvent struct {
	ID         string        `json:"id" db:"event_id"` // ULID
	LicenseID  int64         `json:"license_id" db:"license_id"`
	Action     LicenseAction `json:"action" db:"action"`
	Token      string        `json:"token,omitempty" db:"activation_token"`
	OrderID    int64         `json:"order_id,omitempty" db:"order_id"`
	IPAddress  string        `json:"ip_address,omitempty" db:"ip_address"`
	OccurredAt time.Time     `json:"occurred_at" db:"created_at"`
}

// Delivery is the payload posted to delivery providers for one order.
type Delivery struct {
	OrderID  int64             `json:"order_id"`
	UserID   *int64            `json:"user_id,omitempty"`
	Email    string            `json:"email,omitempty"`
	Licenses []DeliveryLicense `json:"licenses"`
}

type DeliveryLicense struct {
	ID        int64      `json:"id"`
	ProductID int64      `json:"product_id"`
	Key       string     `json:"license_key"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
