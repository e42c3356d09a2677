package model

import (
	"context"
	"time"
)

// -------------------- VENDOR MODEL --------------------
type Vendor struct {
	VendorID          string    `json:"vendor_id" db:"vendor_id"`                   // UUID
	Identifier        string    `json:"identifier" db:"identifier"`                 // normalized phone (+91XXXXXXXXXX) or lower-cased email
	Name              string    `json:"name" db:"name"`                             // empty until profile setup
	MarketLocation    string    `json:"market_location" db:"market_location"`       // empty until profile setup
	PreferredLanguage string    `json:"preferred_language" db:"preferred_language"` // e.g. "hi"
	Status            string    `json:"status" db:"status"`                         // active / deactivated
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	LastActive        time.Time `json:"last_active" db:"last_active"`
}

// -------------------- OTP MODEL --------------------
type OTPVerification struct {
	OTPID      string    `json:"otp_id" db:"otp_id"` // UUID
	Identifier string    `json:"identifier" db:"identifier"`
	OTPHash    string    `json:"otp_hash" db:"otp_hash"` // argon2id encoded hash, never the clear code
	Attempts   int       `json:"attempts" db:"attempts"`
	Verified   bool      `json:"verified" db:"verified"`
	ExpiresAt  time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// -------------------- SESSION MODEL --------------------
type VendorSession struct {
	SessionID    string    `json:"session_id" db:"session_id"` // UUID
	VendorID     string    `json:"vendor_id" db:"vendor_id"`
	AccessToken  string    `json:"access_token" db:"access_token"`
	RefreshToken string    `json:"refresh_token" db:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at" db:"expires_at"`
	LastUsed     time.Time `json:"last_used" db:"last_used"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// CachedSession is the Redis mirror of a session, keyed by access token. The
// durable row stays authoritative; this copy only serves the validation fast
// path.
type CachedSession struct {
	VendorID  string    `json:"vendor_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// -------------------- REPOSITORY INTERFACES --------------------

// VendorRepository defines durable-store operations on vendor records.
type VendorRepository interface {
	CreateVendor(ctx context.Context, vendor *Vendor) error
	GetVendorByIdentifier(ctx context.Context, identifier string) (*Vendor, error)
	GetVendorByID(ctx context.Context, vendorID string) (*Vendor, error)
	UpdateLastActive(ctx context.Context, vendorID string) error
	DeactivateVendor(ctx context.Context, vendorID string) error
}

// OTPRepository defines durable-store operations on OTP verification records.
type OTPRepository interface {
	CreateOTP(ctx context.Context, otp *OTPVerification) error
	GetOTPByID(ctx context.Context, otpID string) (*OTPVerification, error)
	IncrementAttempts(ctx context.Context, otpID string, current int) error
	// MarkVerified flips verified=false to true atomically, recording the
	// final attempt count; returns false when the record was already verified
	// (concurrent duplicate verification).
	MarkVerified(ctx context.Context, otpID string, attempts int) (bool, error)
}

// SessionRepository defines durable-store operations on vendor sessions.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *VendorSession) error
	GetSessionByAccessToken(ctx context.Context, accessToken string) (*VendorSession, error)
	GetSessionByRefreshToken(ctx context.Context, refreshToken string) (*VendorSession, error)
	UpdateAccessToken(ctx context.Context, sessionID, oldAccessToken, newAccessToken string, lastUsed time.Time) error
	UpdateLastUsed(ctx context.Context, sessionID string, lastUsed time.Time) error
	DeleteSessionByAccessToken(ctx context.Context, accessToken string) error
}

// -------------------- CACHE INTERFACES --------------------

// TokenCache maps opaque verification tokens to OTP record ids.
type TokenCache interface {
	SetVerificationToken(ctx context.Context, token, otpID string, ttl time.Duration) error
	GetVerificationToken(ctx context.Context, token string) (string, error)
	DeleteVerificationToken(ctx context.Context, token string) error
}

// SessionCache mirrors sessions keyed by access token.
type SessionCache interface {
	SetSession(ctx context.Context, accessToken string, session *CachedSession, ttl time.Duration) error
	GetSession(ctx context.Context, accessToken string) (*CachedSession, error)
	DeleteSession(ctx context.Context, accessToken string) error
}

// CounterCache provides the atomic increment-and-expire primitives shared by
// the rate limiter and the brute-force guard.
type CounterCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	GetInt(ctx context.Context, key string) (int, error)
	IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error)
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}
