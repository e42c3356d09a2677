package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bhargava562/vyapar-ai/internal/model"
	"github.com/bhargava562/vyapar-ai/internal/util"
)

var ErrOTPNotFound = errors.New("otp record not found")

const (
	stmtCreateOTP = `
		INSERT INTO otp_verifications (otp_id, identifier, otp_hash, attempts,
			verified, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	stmtGetOTPByID = `
		SELECT otp_id, identifier, otp_hash, attempts, verified, expires_at, created_at
		FROM otp_verifications WHERE otp_id = ?`

	// Lightweight transactions keep concurrent verifications from racing on
	// the attempts counter and the terminal verified flag.
	stmtIncrementAttempts = `
		UPDATE otp_verifications SET attempts = ? WHERE otp_id = ? IF attempts = ?`

	stmtMarkVerified = `
		UPDATE otp_verifications SET verified = true, attempts = ?
		WHERE otp_id = ? IF verified = false`
)

// OTPRepository persists OTP verification records. Records are terminal once
// verified or exhausted; expiry is enforced on read, not by deletion.
type OTPRepository struct {
	client *ScyllaClient
}

func NewOTPRepository(client *ScyllaClient) *OTPRepository {
	return &OTPRepository{client: client}
}

func (r *OTPRepository) CreateOTP(ctx context.Context, otp *model.OTPVerification) error {
	if otp.OTPID == "" {
		otp.OTPID = uuid.New().String()
	}

	now := time.Now().UTC()
	otp.CreatedAt = now
	if otp.ExpiresAt.IsZero() {
		otp.ExpiresAt = now.Add(5 * time.Minute)
	}

	query := r.client.Session.Query(stmtCreateOTP,
		otp.OTPID, otp.Identifier, otp.OTPHash, otp.Attempts,
		otp.Verified, otp.ExpiresAt, otp.CreatedAt).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to create OTP record",
			zap.String("otp_id", otp.OTPID),
			zap.Error(err))
		return fmt.Errorf("failed to create OTP record: %w", err)
	}

	util.Debug("OTP record created",
		zap.String("otp_id", otp.OTPID),
		zap.Time("expires_at", otp.ExpiresAt))
	return nil
}

func (r *OTPRepository) GetOTPByID(ctx context.Context, otpID string) (*model.OTPVerification, error) {
	otp := &model.OTPVerification{}
	query := r.client.Session.Query(stmtGetOTPByID, otpID).WithContext(ctx)
	err := r.client.ScanWithRetry(query,
		&otp.OTPID, &otp.Identifier, &otp.OTPHash, &otp.Attempts,
		&otp.Verified, &otp.ExpiresAt, &otp.CreatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrOTPNotFound
		}
		util.Error("Failed to get OTP record",
			zap.String("otp_id", otpID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get OTP record: %w", err)
	}
	return otp, nil
}

// IncrementAttempts bumps the attempt counter from the observed value. A
// conditional-update miss means another request already counted an attempt;
// the counter still only moves forward, so the miss is not an error.
func (r *OTPRepository) IncrementAttempts(ctx context.Context, otpID string, current int) error {
	var existing int
	applied, err := r.client.Session.Query(stmtIncrementAttempts,
		current+1, otpID, current).WithContext(ctx).ScanCAS(&existing)
	if err != nil {
		util.Error("Failed to increment OTP attempts",
			zap.String("otp_id", otpID),
			zap.Error(err))
		return fmt.Errorf("failed to increment OTP attempts: %w", err)
	}
	if !applied {
		util.Debug("OTP attempt increment lost conditional update",
			zap.String("otp_id", otpID))
	}
	return nil
}

// MarkVerified transitions the record to its terminal verified state. Returns
// false when the record was already verified, so a concurrent duplicate
// verification cannot double-succeed.
func (r *OTPRepository) MarkVerified(ctx context.Context, otpID string, attempts int) (bool, error) {
	var alreadyVerified bool
	applied, err := r.client.Session.Query(stmtMarkVerified,
		attempts, otpID).WithContext(ctx).ScanCAS(&alreadyVerified)
	if err != nil {
		util.Error("Failed to mark OTP verified",
			zap.String("otp_id", otpID),
			zap.Error(err))
		return false, fmt.Errorf("failed to mark OTP verified: %w", err)
	}
	if applied {
		util.Info("OTP verified", zap.String("otp_id", otpID))
	}
	return applied, nil
}
