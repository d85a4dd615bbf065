package ledger

import "time"

const (
	operationCreate    = "create_reservation"
	operationCancel    = "cancel_reservation"
	operationUpdate    = "update_reservation_window"
	operationPay       = "pay_reservation"
	operationDelete    = "delete_reservation"
	operationBootstrap = "bootstrap_inventory"
	operationReconcile = "reconcile_spot_flags"
	operationPublish   = "publish_event"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	// OperationStore marks OperationError values produced by Store implementations.
	OperationStore = "store"

	// StatusHorizon is how far ahead the resolver looks for upcoming reservations.
	StatusHorizon = 24 * time.Hour

	// RecentWindow bounds the "recent" listing filter.
	RecentWindow = 7 * 24 * time.Hour

	DefaultBaseHours    = 8
	DefaultListLimit    = 50
	MaxListLimit        = 200
	discountPercent     = 20
	controlNumberPrefix = "CN: "
	controlNumberLength = 8
)
