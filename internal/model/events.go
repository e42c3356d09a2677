package model

import "time"

// Auth event types published to the security-events topic.
const (
	EventOTPIssued        = "otp_issued"
	EventOTPVerified      = "otp_verified"
	EventOTPFailed        = "otp_failed"
	EventLockoutTriggered = "lockout_triggered"
	EventSessionRefreshed = "session_refreshed"
	EventLogout           = "logout"
)

// AuthEvent is the security audit record emitted on authentication activity.
// Identifiers are already normalized; raw codes and tokens never appear here.
type AuthEvent struct {
	EventType  string    `json:"event_type"`
	Identifier string    `json:"identifier,omitempty"`
	VendorID   string    `json:"vendor_id,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	ClientID   string    `json:"client_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	EventTime  time.Time `json:"event_time"`
}
