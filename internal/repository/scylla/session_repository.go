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

var ErrSessionNotFound = errors.New("session not found")

const (
	stmtCreateSession = `
		INSERT INTO vendor_sessions (session_id, vendor_id, access_token,
			refresh_token, expires_at, last_used, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	stmtCreateAccessTokenLookup = `
		INSERT INTO sessions_by_access_token (access_token, session_id)
		VALUES (?, ?)`

	stmtCreateRefreshTokenLookup = `
		INSERT INTO sessions_by_refresh_token (refresh_token, session_id)
		VALUES (?, ?)`

	stmtGetSessionByID = `
		SELECT session_id, vendor_id, access_token, refresh_token, expires_at,
			last_used, created_at
		FROM vendor_sessions WHERE session_id = ?`

	stmtGetSessionIDByAccessToken = `
		SELECT session_id FROM sessions_by_access_token WHERE access_token = ?`

	stmtGetSessionIDByRefreshToken = `
		SELECT session_id FROM sessions_by_refresh_token WHERE refresh_token = ?`

	stmtUpdateAccessToken = `
		UPDATE vendor_sessions SET access_token = ?, last_used = ?
		WHERE session_id = ?`

	stmtUpdateLastUsed = `
		UPDATE vendor_sessions SET last_used = ? WHERE session_id = ?`

	stmtDeleteSession = `
		DELETE FROM vendor_sessions WHERE session_id = ?`

	stmtDeleteAccessTokenLookup = `
		DELETE FROM sessions_by_access_token WHERE access_token = ?`

	stmtDeleteRefreshTokenLookup = `
		DELETE FROM sessions_by_refresh_token WHERE refresh_token = ?`
)

// SessionRepository persists vendor sessions with token lookup tables so both
// access-token and refresh-token paths stay on a partition key. The durable
// row is authoritative; the Redis mirror is a read optimization.
type SessionRepository struct {
	client *ScyllaClient
}

func NewSessionRepository(client *ScyllaClient) *SessionRepository {
	return &SessionRepository{client: client}
}

func (r *SessionRepository) CreateSession(ctx context.Context, session *model.VendorSession) error {
	if session.SessionID == "" {
		session.SessionID = uuid.New().String()
	}

	now := time.Now().UTC()
	session.CreatedAt = now
	session.LastUsed = now

	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(stmtCreateSession,
		session.SessionID, session.VendorID, session.AccessToken,
		session.RefreshToken, session.ExpiresAt, session.LastUsed, session.CreatedAt)
	batch.Query(stmtCreateAccessTokenLookup, session.AccessToken, session.SessionID)
	batch.Query(stmtCreateRefreshTokenLookup, session.RefreshToken, session.SessionID)

	if err := r.client.Session.ExecuteBatch(batch); err != nil {
		util.Error("Failed to create session",
			zap.String("session_id", session.SessionID),
			zap.String("vendor_id", session.VendorID),
			zap.Error(err))
		return fmt.Errorf("failed to create session: %w", err)
	}

	util.Info("Session created",
		zap.String("session_id", session.SessionID),
		zap.String("vendor_id", session.VendorID))
	return nil
}

func (r *SessionRepository) getSessionByID(ctx context.Context, sessionID string) (*model.VendorSession, error) {
	session := &model.VendorSession{}
	query := r.client.Session.Query(stmtGetSessionByID, sessionID).WithContext(ctx)
	err := r.client.ScanWithRetry(query,
		&session.SessionID, &session.VendorID, &session.AccessToken,
		&session.RefreshToken, &session.ExpiresAt, &session.LastUsed, &session.CreatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

func (r *SessionRepository) GetSessionByAccessToken(ctx context.Context, accessToken string) (*model.VendorSession, error) {
	var sessionID string
	query := r.client.Session.Query(stmtGetSessionIDByAccessToken, accessToken).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &sessionID); err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to resolve access token: %w", err)
	}
	return r.getSessionByID(ctx, sessionID)
}

func (r *SessionRepository) GetSessionByRefreshToken(ctx context.Context, refreshToken string) (*model.VendorSession, error) {
	var sessionID string
	query := r.client.Session.Query(stmtGetSessionIDByRefreshToken, refreshToken).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &sessionID); err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to resolve refresh token: %w", err)
	}
	return r.getSessionByID(ctx, sessionID)
}

// UpdateAccessToken swaps the session's access token after a refresh, keeping
// the access-token lookup table in step.
func (r *SessionRepository) UpdateAccessToken(ctx context.Context, sessionID, oldAccessToken, newAccessToken string, lastUsed time.Time) error {
	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(stmtUpdateAccessToken, newAccessToken, lastUsed, sessionID)
	batch.Query(stmtDeleteAccessTokenLookup, oldAccessToken)
	batch.Query(stmtCreateAccessTokenLookup, newAccessToken, sessionID)

	if err := r.client.Session.ExecuteBatch(batch); err != nil {
		util.Error("Failed to update session access token",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return fmt.Errorf("failed to update session access token: %w", err)
	}
	return nil
}

func (r *SessionRepository) UpdateLastUsed(ctx context.Context, sessionID string, lastUsed time.Time) error {
	query := r.client.Session.Query(stmtUpdateLastUsed, lastUsed, sessionID).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to update session last_used: %w", err)
	}
	return nil
}

// DeleteSessionByAccessToken removes the session row and both token lookups.
// Deleting a nonexistent session is not an error (logout is idempotent).
func (r *SessionRepository) DeleteSessionByAccessToken(ctx context.Context, accessToken string) error {
	session, err := r.GetSessionByAccessToken(ctx, accessToken)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}

	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(stmtDeleteSession, session.SessionID)
	batch.Query(stmtDeleteAccessTokenLookup, session.AccessToken)
	batch.Query(stmtDeleteRefreshTokenLookup, session.RefreshToken)

	if err := r.client.Session.ExecuteBatch(batch); err != nil {
		util.Error("Failed to delete session",
			zap.String("session_id", session.SessionID),
			zap.Error(err))
		return fmt.Errorf("failed to delete session: %w", err)
	}

	util.Info("Session deleted", zap.String("session_id", session.SessionID))
	return nil
}
