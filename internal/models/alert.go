package models

import (
	"strconv"
	"time"
)

// AlertNotification is the message published downstream when an ingested
// operation triggers at least one alert code.
type AlertNotification struct {
	UserID     int64     `json:"user_id"`
	Type       OpType    `json:"type"`
	Amount     string    `json:"amount"`
	T          int64     `json:"t"`
	AlertCodes []int     `json:"alert_codes"`
	DetectedAt time.Time `json:"detected_at"`
	Node       string    `json:"node"`
}

// NewAlertNotification wraps a triggering operation and its alert codes.
func NewAlertNotification(op Operation, codes []int, node string) *AlertNotification {
	return &AlertNotification{
		UserID:     op.UserID,
		Type:       op.Type,
		Amount:     op.Amount.StringFixed(2),
		T:          op.T,
		AlertCodes: codes,
		DetectedAt: time.Now().UTC(),
		Node:       node,
	}
}

// PartitionKey keys messages by user so per-user ordering survives the topic.
func (n *AlertNotification) PartitionKey() string {
	return strconv.FormatInt(n.UserID, 10)
}
