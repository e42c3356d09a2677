package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bhargava562/vyapar-ai/internal/config"
	"github.com/bhargava562/vyapar-ai/internal/hashing"
	"github.com/bhargava562/vyapar-ai/internal/model"
	"github.com/bhargava562/vyapar-ai/internal/notifier"
	"github.com/bhargava562/vyapar-ai/internal/ratelimit"
	"github.com/bhargava562/vyapar-ai/internal/repository/redis"
	"github.com/bhargava562/vyapar-ai/internal/repository/scylla"
	"github.com/bhargava562/vyapar-ai/internal/token"
)

const verificationTokenBytes = 32

// EventPublisher emits security audit events. Publishing is best effort and
// never blocks an authentication decision.
type EventPublisher interface {
	PublishAuthEvent(ctx context.Context, event *model.AuthEvent) error
}

// LimitedError wraps ErrRateLimited or ErrLockedOut with the delay after
// which the caller may retry.
type LimitedError struct {
	RetryAfter time.Duration
	err        error
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("%s, retry after %s", e.err, e.RetryAfter.Round(time.Second))
}

func (e *LimitedError) Unwrap() error { return e.err }

// CodeMismatchError wraps ErrInvalidCode with the number of attempts the
// caller has left on this verification record.
type CodeMismatchError struct {
	Remaining int
}

func (e *CodeMismatchError) Error() string {
	return fmt.Sprintf("incorrect verification code, %d attempts remaining", e.Remaining)
}

func (e *CodeMismatchError) Unwrap() error { return ErrInvalidCode }

// OTPIssuance is returned to the client after a code has been dispatched. The
// opaque verification token is the only handle back to the pending code; the
// code itself travels out of band.
type OTPIssuance struct {
	VerificationToken string    `json:"verification_token"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// SessionTokens is the signed token pair minted on successful verification or
// refresh.
type SessionTokens struct {
	SessionID    string    `json:"session_id"`
	VendorID     string    `json:"vendor_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// AuthService implements passwordless OTP authentication for vendors: code
// issuance, verification with attempt caps, session minting, validation,
// refresh, and logout. The durable store stays authoritative everywhere; the
// cache only accelerates.
type AuthService struct {
	cfg          *config.Config
	vendors      model.VendorRepository
	otps         model.OTPRepository
	sessions     model.SessionRepository
	tokenCache   model.TokenCache
	sessionCache model.SessionCache
	hasher       *hashing.Hasher
	tokens       *token.Manager
	quota        *ratelimit.Quota
	guard        *ratelimit.Guard
	notifier     notifier.Notifier
	events       EventPublisher
	logger       *zap.Logger
	now          func() time.Time
}

type AuthServiceDeps struct {
	Vendors      model.VendorRepository
	OTPs         model.OTPRepository
	Sessions     model.SessionRepository
	TokenCache   model.TokenCache
	SessionCache model.SessionCache
	Hasher       *hashing.Hasher
	Tokens       *token.Manager
	Quota        *ratelimit.Quota
	Guard        *ratelimit.Guard
	Notifier     notifier.Notifier
	Events       EventPublisher
	Logger       *zap.Logger
}

func NewAuthService(cfg *config.Config, deps AuthServiceDeps) *AuthService {
	return &AuthService{
		cfg:          cfg,
		vendors:      deps.Vendors,
		otps:         deps.OTPs,
		sessions:     deps.Sessions,
		tokenCache:   deps.TokenCache,
		sessionCache: deps.SessionCache,
		hasher:       deps.Hasher,
		tokens:       deps.Tokens,
		quota:        deps.Quota,
		guard:        deps.Guard,
		notifier:     deps.Notifier,
		events:       deps.Events,
		logger:       deps.Logger,
		now:          time.Now,
	}
}

// SendOTP validates the identifier, enforces the per-identifier issuance
// quota, and dispatches a fresh single-use code. The returned verification
// token is the only reference to the pending code the client ever sees.
func (s *AuthService) SendOTP(ctx context.Context, rawIdentifier, clientID string) (*OTPIssuance, error) {
	identifier, err := NormalizeIdentifier(rawIdentifier)
	if err != nil {
		return nil, err
	}

	if locked, remaining := s.guard.IsLockedOut(ctx, clientID, ratelimit.EndpointLogin); locked {
		return nil, &LimitedError{RetryAfter: remaining, err: ErrLockedOut}
	}
	if allowed, retryAfter := s.quota.Allow(ctx, identifier); !allowed {
		// Issuance abuse also counts against the client itself, so rotating
		// identifiers from one origin escalates into the login lockout above.
		if locked, duration := s.guard.RecordFailedAttempt(ctx, clientID, ratelimit.EndpointLogin); locked {
			s.publishEvent(&model.AuthEvent{
				EventType:  model.EventLockoutTriggered,
				Identifier: identifier,
				ClientID:   clientID,
				Detail:     "repeated otp issuance abuse",
				EventTime:  s.now().UTC(),
			})
			return nil, &LimitedError{RetryAfter: duration, err: ErrLockedOut}
		}
		s.publishEvent(&model.AuthEvent{
			EventType:  model.EventLockoutTriggered,
			Identifier: identifier,
			ClientID:   clientID,
			Detail:     "otp issuance quota exceeded",
			EventTime:  s.now().UTC(),
		})
		return nil, &LimitedError{RetryAfter: retryAfter, err: ErrRateLimited}
	}

	code, err := generateCode(s.cfg.OTP.Length)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}
	codeHash, err := s.hasher.HashOTP(code)
	if err != nil {
		return nil, fmt.Errorf("failed to hash code: %w", err)
	}

	now := s.now().UTC()
	otp := &model.OTPVerification{
		OTPID:      uuid.NewString(),
		Identifier: identifier,
		OTPHash:    codeHash,
		Attempts:   0,
		Verified:   false,
		ExpiresAt:  now.Add(s.cfg.OTP.Expiry),
		CreatedAt:  now,
	}
	if err := s.otps.CreateOTP(ctx, otp); err != nil {
		return nil, fmt.Errorf("failed to persist otp record: %w", err)
	}

	verificationToken, err := generateVerificationToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate verification token: %w", err)
	}
	if err := s.tokenCache.SetVerificationToken(ctx, verificationToken, otp.OTPID, s.cfg.OTP.Expiry); err != nil {
		return nil, fmt.Errorf("failed to store verification token: %w", err)
	}

	if !s.notifier.Send(ctx, identifier, code) {
		return nil, ErrDeliveryFailed
	}
	s.quota.Record(ctx, identifier)

	s.publishEvent(&model.AuthEvent{
		EventType:  model.EventOTPIssued,
		Identifier: identifier,
		ClientID:   clientID,
		EventTime:  now,
	})
	s.logger.Info("OTP issued",
		zap.String("otp_id", otp.OTPID),
		zap.String("client_id", clientID))

	return &OTPIssuance{
		VerificationToken: verificationToken,
		ExpiresAt:         otp.ExpiresAt,
	}, nil
}

// VerifyOTP exchanges a verification token and code for a vendor session. An
// unknown token and a naturally expired one are indistinguishable to the
// caller.
func (s *AuthService) VerifyOTP(ctx context.Context, verificationToken, code, clientID string) (*SessionTokens, error) {
	if locked, remaining := s.guard.IsLockedOut(ctx, clientID, ratelimit.EndpointVerifyOTP); locked {
		return nil, &LimitedError{RetryAfter: remaining, err: ErrLockedOut}
	}

	otpID, err := s.tokenCache.GetVerificationToken(ctx, verificationToken)
	if err != nil {
		if errors.Is(err, redis.ErrTokenNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("failed to resolve verification token: %w", err)
	}

	otp, err := s.otps.GetOTPByID(ctx, otpID)
	if err != nil {
		if errors.Is(err, scylla.ErrOTPNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("failed to load otp record: %w", err)
	}

	// Expiry wins over every other terminal state: a stale record reads as
	// expired even if it was verified before it lapsed.
	now := s.now().UTC()
	switch {
	case now.After(otp.ExpiresAt):
		return nil, ErrTokenInvalid
	case otp.Verified:
		return nil, ErrAlreadyUsed
	case otp.Attempts >= s.cfg.OTP.MaxAttempts:
		return nil, ErrAttemptsExhausted
	}

	match, err := s.hasher.VerifyOTP(code, otp.OTPHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify code: %w", err)
	}
	if !match {
		return nil, s.recordMismatch(ctx, otp, verificationToken, clientID)
	}

	applied, err := s.otps.MarkVerified(ctx, otp.OTPID, otp.Attempts+1)
	if err != nil {
		return nil, fmt.Errorf("failed to mark otp verified: %w", err)
	}
	if !applied {
		// Lost the race to a concurrent verification of the same record.
		return nil, ErrAlreadyUsed
	}

	vendor, err := s.resolveOrCreateVendor(ctx, otp.Identifier)
	if err != nil {
		return nil, err
	}
	if vendor.Status != "active" {
		return nil, ErrVendorDeactivated
	}

	tokens, err := s.mintSession(ctx, vendor.VendorID)
	if err != nil {
		return nil, err
	}

	// Best-effort cleanup: the token has served its single use, and the
	// client's failure slate is wiped.
	if err := s.tokenCache.DeleteVerificationToken(ctx, verificationToken); err != nil {
		s.logger.Warn("Failed to delete used verification token", zap.Error(err))
	}
	s.guard.ClearFailedAttempts(ctx, clientID, ratelimit.EndpointVerifyOTP)
	s.guard.ClearFailedAttempts(ctx, clientID, ratelimit.EndpointLogin)
	s.quota.Reset(ctx, otp.Identifier)
	if err := s.vendors.UpdateLastActive(ctx, vendor.VendorID); err != nil {
		s.logger.Warn("Failed to update vendor last_active", zap.Error(err))
	}

	s.publishEvent(&model.AuthEvent{
		EventType:  model.EventOTPVerified,
		Identifier: otp.Identifier,
		VendorID:   vendor.VendorID,
		SessionID:  tokens.SessionID,
		ClientID:   clientID,
		EventTime:  now,
	})
	s.logger.Info("OTP verified, session created",
		zap.String("vendor_id", vendor.VendorID),
		zap.String("session_id", tokens.SessionID))

	return tokens, nil
}

func (s *AuthService) recordMismatch(ctx context.Context, otp *model.OTPVerification, verificationToken, clientID string) error {
	if err := s.otps.IncrementAttempts(ctx, otp.OTPID, otp.Attempts); err != nil {
		s.logger.Warn("Failed to increment otp attempts", zap.Error(err))
	}

	if locked, duration := s.guard.RecordFailedAttempt(ctx, clientID, ratelimit.EndpointVerifyOTP); locked {
		s.publishEvent(&model.AuthEvent{
			EventType:  model.EventLockoutTriggered,
			Identifier: otp.Identifier,
			ClientID:   clientID,
			Detail:     "repeated verification failures",
			EventTime:  s.now().UTC(),
		})
		return &LimitedError{RetryAfter: duration, err: ErrLockedOut}
	}

	s.publishEvent(&model.AuthEvent{
		EventType:  model.EventOTPFailed,
		Identifier: otp.Identifier,
		ClientID:   clientID,
		EventTime:  s.now().UTC(),
	})

	remaining := s.cfg.OTP.MaxAttempts - otp.Attempts - 1
	if remaining <= 0 {
		if err := s.tokenCache.DeleteVerificationToken(ctx, verificationToken); err != nil {
			s.logger.Warn("Failed to delete exhausted verification token", zap.Error(err))
		}
		return ErrAttemptsExhausted
	}
	return &CodeMismatchError{Remaining: remaining}
}

func (s *AuthService) resolveOrCreateVendor(ctx context.Context, identifier string) (*model.Vendor, error) {
	vendor, err := s.vendors.GetVendorByIdentifier(ctx, identifier)
	if err == nil {
		return vendor, nil
	}
	if !errors.Is(err, scylla.ErrVendorNotFound) {
		return nil, fmt.Errorf("failed to look up vendor: %w", err)
	}

	// First login creates an empty vendor shell; the profile is filled in
	// later through onboarding.
	now := s.now().UTC()
	vendor = &model.Vendor{
		VendorID:          uuid.NewString(),
		Identifier:        identifier,
		PreferredLanguage: "hi",
		Status:            "active",
		CreatedAt:         now,
		LastActive:        now,
	}
	if err := s.vendors.CreateVendor(ctx, vendor); err != nil {
		return nil, fmt.Errorf("failed to create vendor: %w", err)
	}
	s.logger.Info("New vendor registered", zap.String("vendor_id", vendor.VendorID))
	return vendor, nil
}

func (s *AuthService) mintSession(ctx context.Context, vendorID string) (*SessionTokens, error) {
	accessToken, err := s.tokens.MintAccess(vendorID)
	if err != nil {
		return nil, fmt.Errorf("failed to mint access token: %w", err)
	}
	refreshToken, err := s.tokens.MintRefresh(vendorID)
	if err != nil {
		return nil, fmt.Errorf("failed to mint refresh token: %w", err)
	}

	now := s.now().UTC()
	session := &model.VendorSession{
		SessionID:    uuid.NewString(),
		VendorID:     vendorID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    now.Add(s.tokens.RefreshTTL()),
		LastUsed:     now,
		CreatedAt:    now,
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	if err := s.sessionCache.SetSession(ctx, accessToken, &model.CachedSession{
		VendorID:  vendorID,
		ExpiresAt: session.ExpiresAt,
	}, s.cfg.OTP.SessionCache); err != nil {
		s.logger.Warn("Failed to cache session", zap.Error(err))
	}

	return &SessionTokens{
		SessionID:    session.SessionID,
		VendorID:     vendorID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    now.Add(s.tokens.AccessTTL()),
	}, nil
}

// SessionInfo is the answer to a successful validation: who the session
// belongs to and when it lapses.
type SessionInfo struct {
	VendorID  string    `json:"vendor_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ValidateSession resolves an access token to its vendor id and session
// expiry. Any failure, whatever the cause, yields ErrUnauthenticated:
// validation is default deny.
func (s *AuthService) ValidateSession(ctx context.Context, accessToken string) (*SessionInfo, error) {
	if accessToken == "" {
		return nil, ErrUnauthenticated
	}

	// Cache fast path: a live mirror entry answers without touching the
	// durable store.
	if cached, err := s.sessionCache.GetSession(ctx, accessToken); err == nil {
		if s.now().UTC().Before(cached.ExpiresAt) {
			return &SessionInfo{VendorID: cached.VendorID, ExpiresAt: cached.ExpiresAt}, nil
		}
	} else if !errors.Is(err, redis.ErrSessionNotCached) {
		s.logger.Warn("Session cache read failed", zap.Error(err))
	}

	vendorID, err := s.tokens.Verify(accessToken, token.TypeAccess)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	session, err := s.sessions.GetSessionByAccessToken(ctx, accessToken)
	if err != nil {
		if errors.Is(err, scylla.ErrSessionNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session.VendorID != vendorID {
		return nil, ErrUnauthenticated
	}

	now := s.now().UTC()
	if now.After(session.ExpiresAt) {
		s.cleanupSession(ctx, accessToken)
		return nil, ErrUnauthenticated
	}

	if err := s.sessions.UpdateLastUsed(ctx, session.SessionID, now); err != nil {
		s.logger.Warn("Failed to update session last_used", zap.Error(err))
	}
	if err := s.sessionCache.SetSession(ctx, accessToken, &model.CachedSession{
		VendorID:  session.VendorID,
		ExpiresAt: session.ExpiresAt,
	}, s.cfg.OTP.SessionCache); err != nil {
		s.logger.Warn("Failed to re-cache session", zap.Error(err))
	}

	return &SessionInfo{VendorID: session.VendorID, ExpiresAt: session.ExpiresAt}, nil
}

// RefreshToken mints a replacement access token against a live refresh token.
// The refresh token itself is not rotated; its expiry bounds the session.
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (*SessionTokens, error) {
	vendorID, err := s.tokens.Verify(refreshToken, token.TypeRefresh)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	session, err := s.sessions.GetSessionByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, scylla.ErrSessionNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session.VendorID != vendorID {
		return nil, ErrUnauthenticated
	}

	now := s.now().UTC()
	if now.After(session.ExpiresAt) {
		s.cleanupSession(ctx, session.AccessToken)
		return nil, ErrUnauthenticated
	}

	newAccessToken, err := s.tokens.MintAccess(vendorID)
	if err != nil {
		return nil, fmt.Errorf("failed to mint access token: %w", err)
	}
	if err := s.sessions.UpdateAccessToken(ctx, session.SessionID, session.AccessToken, newAccessToken, now); err != nil {
		return nil, fmt.Errorf("failed to swap access token: %w", err)
	}

	// Move the cache mirror to the new access token; both writes are best
	// effort and independent.
	g, gctx := errgroup.WithContext(ctx)
	oldAccessToken := session.AccessToken
	g.Go(func() error { return s.sessionCache.DeleteSession(gctx, oldAccessToken) })
	g.Go(func() error {
		return s.sessionCache.SetSession(gctx, newAccessToken, &model.CachedSession{
			VendorID:  vendorID,
			ExpiresAt: session.ExpiresAt,
		}, s.cfg.OTP.SessionCache)
	})
	if err := g.Wait(); err != nil {
		s.logger.Warn("Failed to move cached session", zap.Error(err))
	}

	s.publishEvent(&model.AuthEvent{
		EventType: model.EventSessionRefreshed,
		VendorID:  vendorID,
		SessionID: session.SessionID,
		EventTime: now,
	})

	return &SessionTokens{
		SessionID:    session.SessionID,
		VendorID:     vendorID,
		AccessToken:  newAccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    now.Add(s.tokens.AccessTTL()),
	}, nil
}

// Logout tears down the session behind an access token. The token must carry
// a valid access-token signature; a token this service never minted is
// rejected rather than silently accepted. For a genuine token whose session is
// already gone the call is a no-op: logout stays idempotent.
func (s *AuthService) Logout(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return ErrUnauthenticated
	}
	if _, err := s.tokens.Verify(accessToken, token.TypeAccess); err != nil {
		return ErrUnauthenticated
	}

	session, err := s.sessions.GetSessionByAccessToken(ctx, accessToken)
	if err != nil {
		if errors.Is(err, scylla.ErrSessionNotFound) {
			// Still clear any stray cache entry for the token.
			if cerr := s.sessionCache.DeleteSession(ctx, accessToken); cerr != nil {
				s.logger.Warn("Failed to delete cached session", zap.Error(cerr))
			}
			return nil
		}
		return fmt.Errorf("failed to load session: %w", err)
	}

	s.cleanupSession(ctx, accessToken)

	s.publishEvent(&model.AuthEvent{
		EventType: model.EventLogout,
		VendorID:  session.VendorID,
		SessionID: session.SessionID,
		EventTime: s.now().UTC(),
	})
	return nil
}

// cleanupSession removes a session from both stores in parallel. Failures are
// logged and swallowed: an expired row that lingers is re-checked on every
// read anyway.
func (s *AuthService) cleanupSession(ctx context.Context, accessToken string) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.sessions.DeleteSessionByAccessToken(gctx, accessToken) })
	g.Go(func() error { return s.sessionCache.DeleteSession(gctx, accessToken) })
	if err := g.Wait(); err != nil {
		s.logger.Warn("Session cleanup incomplete", zap.Error(err))
	}
}

func (s *AuthService) publishEvent(event *model.AuthEvent) {
	if s.events == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.events.PublishAuthEvent(ctx, event); err != nil {
			s.logger.Warn("Failed to publish auth event",
				zap.String("event_type", event.EventType),
				zap.Error(err))
		}
	}()
}

func generateCode(length int) (string, error) {
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		code[i] = byte('0' + n.Int64())
	}
	return string(code), nil
}

func generateVerificationToken() (string, error) {
	buf := make([]byte, verificationTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
