package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bhargava562/vyapar-ai/internal/client"
	"github.com/bhargava562/vyapar-ai/internal/config"
	"github.com/bhargava562/vyapar-ai/internal/hashing"
	"github.com/bhargava562/vyapar-ai/internal/model"
	"github.com/bhargava562/vyapar-ai/internal/ratelimit"
	redisrepo "github.com/bhargava562/vyapar-ai/internal/repository/redis"
	"github.com/bhargava562/vyapar-ai/internal/repository/scylla"
	"github.com/bhargava562/vyapar-ai/internal/token"
)

const (
	testIdentifier = "9876543210"
	testClient     = "10.0.0.1:abcd1234"
)

// -------------------- in-memory durable-store fakes --------------------

type fakeVendorRepo struct {
	mu      sync.Mutex
	byID    map[string]*model.Vendor
	byIdent map[string]string
}

func newFakeVendorRepo() *fakeVendorRepo {
	return &fakeVendorRepo{byID: map[string]*model.Vendor{}, byIdent: map[string]string{}}
}

func (r *fakeVendorRepo) CreateVendor(_ context.Context, vendor *model.Vendor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *vendor
	r.byID[vendor.VendorID] = &copied
	r.byIdent[vendor.Identifier] = vendor.VendorID
	return nil
}

func (r *fakeVendorRepo) GetVendorByIdentifier(_ context.Context, identifier string) (*model.Vendor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byIdent[identifier]
	if !ok {
		return nil, scylla.ErrVendorNotFound
	}
	copied := *r.byID[id]
	return &copied, nil
}

func (r *fakeVendorRepo) GetVendorByID(_ context.Context, vendorID string) (*model.Vendor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	vendor, ok := r.byID[vendorID]
	if !ok {
		return nil, scylla.ErrVendorNotFound
	}
	copied := *vendor
	return &copied, nil
}

func (r *fakeVendorRepo) UpdateLastActive(_ context.Context, vendorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if vendor, ok := r.byID[vendorID]; ok {
		vendor.LastActive = time.Now().UTC()
	}
	return nil
}

func (r *fakeVendorRepo) DeactivateVendor(_ context.Context, vendorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if vendor, ok := r.byID[vendorID]; ok {
		vendor.Status = "deactivated"
	}
	return nil
}

type fakeOTPRepo struct {
	mu      sync.Mutex
	records map[string]*model.OTPVerification
}

func newFakeOTPRepo() *fakeOTPRepo {
	return &fakeOTPRepo{records: map[string]*model.OTPVerification{}}
}

func (r *fakeOTPRepo) CreateOTP(_ context.Context, otp *model.OTPVerification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *otp
	r.records[otp.OTPID] = &copied
	return nil
}

func (r *fakeOTPRepo) GetOTPByID(_ context.Context, otpID string) (*model.OTPVerification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	otp, ok := r.records[otpID]
	if !ok {
		return nil, scylla.ErrOTPNotFound
	}
	copied := *otp
	return &copied, nil
}

func (r *fakeOTPRepo) IncrementAttempts(_ context.Context, otpID string, current int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if otp, ok := r.records[otpID]; ok && otp.Attempts == current {
		otp.Attempts++
	}
	return nil
}

func (r *fakeOTPRepo) MarkVerified(_ context.Context, otpID string, attempts int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	otp, ok := r.records[otpID]
	if !ok {
		return false, scylla.ErrOTPNotFound
	}
	if otp.Verified {
		return false, nil
	}
	otp.Verified = true
	otp.Attempts = attempts
	return true, nil
}

type fakeSessionRepo struct {
	mu        sync.Mutex
	sessions  map[string]*model.VendorSession
	byAccess  map[string]string
	byRefresh map[string]string
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{
		sessions:  map[string]*model.VendorSession{},
		byAccess:  map[string]string{},
		byRefresh: map[string]string{},
	}
}

func (r *fakeSessionRepo) CreateSession(_ context.Context, session *model.VendorSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *session
	r.sessions[session.SessionID] = &copied
	r.byAccess[session.AccessToken] = session.SessionID
	r.byRefresh[session.RefreshToken] = session.SessionID
	return nil
}

func (r *fakeSessionRepo) GetSessionByAccessToken(_ context.Context, accessToken string) (*model.VendorSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byAccess[accessToken]
	if !ok {
		return nil, scylla.ErrSessionNotFound
	}
	copied := *r.sessions[id]
	return &copied, nil
}

func (r *fakeSessionRepo) GetSessionByRefreshToken(_ context.Context, refreshToken string) (*model.VendorSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byRefresh[refreshToken]
	if !ok {
		return nil, scylla.ErrSessionNotFound
	}
	copied := *r.sessions[id]
	return &copied, nil
}

func (r *fakeSessionRepo) UpdateAccessToken(_ context.Context, sessionID, oldAccessToken, newAccessToken string, lastUsed time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return scylla.ErrSessionNotFound
	}
	delete(r.byAccess, oldAccessToken)
	session.AccessToken = newAccessToken
	session.LastUsed = lastUsed
	r.byAccess[newAccessToken] = sessionID
	return nil
}

func (r *fakeSessionRepo) UpdateLastUsed(_ context.Context, sessionID string, lastUsed time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.sessions[sessionID]; ok {
		session.LastUsed = lastUsed
	}
	return nil
}

func (r *fakeSessionRepo) DeleteSessionByAccessToken(_ context.Context, accessToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byAccess[accessToken]
	if !ok {
		return nil
	}
	session := r.sessions[id]
	delete(r.byAccess, accessToken)
	delete(r.byRefresh, session.RefreshToken)
	delete(r.sessions, id)
	return nil
}

func (r *fakeSessionRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

type captureNotifier struct {
	mu         sync.Mutex
	identifier string
	code       string
	fail       bool
}

func (n *captureNotifier) Send(_ context.Context, identifier, code string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return false
	}
	n.identifier = identifier
	n.code = code
	return true
}

func (n *captureNotifier) lastCode() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.code
}

// -------------------- fixture --------------------

type authFixture struct {
	svc      *AuthService
	notifier *captureNotifier
	vendors  *fakeVendorRepo
	otps     *fakeOTPRepo
	sessions *fakeSessionRepo
	mr       *miniredis.Miniredis
	nowVal   time.Time
}

func (fx *authFixture) advance(d time.Duration) {
	fx.nowVal = fx.nowVal.Add(d)
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rc := &client.RedisClient{
		Client: goredis.NewClient(&goredis.Options{Addr: mr.Addr()}),
	}

	cfg := &config.Config{
		Environment: "test",
		JWT: config.JWTConfig{
			Secret:     "test-secret-0123456789",
			AccessTTL:  time.Hour,
			RefreshTTL: 30 * 24 * time.Hour,
		},
		OTP: config.OTPConfig{
			Length:       6,
			Expiry:       5 * time.Minute,
			MaxAttempts:  3,
			QuotaPerHour: 5,
			SessionCache: 24 * time.Hour,
		},
		Lockout: config.LockoutConfig{
			MaxFailedAttempts: 5,
			BaseDuration:      15 * time.Minute,
			MaxDuration:       time.Hour,
		},
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  8 * 1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
			Pepper:            "test-pepper",
		},
	}

	counterCache := redisrepo.NewCounterCache(rc)
	guard := ratelimit.NewGuard(counterCache, cfg)

	fx := &authFixture{
		notifier: &captureNotifier{},
		vendors:  newFakeVendorRepo(),
		otps:     newFakeOTPRepo(),
		sessions: newFakeSessionRepo(),
		mr:       mr,
		nowVal:   time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}

	fx.svc = NewAuthService(cfg, AuthServiceDeps{
		Vendors:      fx.vendors,
		OTPs:         fx.otps,
		Sessions:     fx.sessions,
		TokenCache:   redisrepo.NewTokenCache(rc),
		SessionCache: redisrepo.NewSessionCache(rc),
		Hasher:       hashing.NewHasher(cfg),
		Tokens:       token.NewManager(cfg),
		Quota:        ratelimit.NewQuota(counterCache, guard, cfg),
		Guard:        guard,
		Notifier:     fx.notifier,
		Logger:       zap.NewNop(),
	})
	fx.svc.now = func() time.Time { return fx.nowVal }
	return fx
}

func (fx *authFixture) login(t *testing.T) *SessionTokens {
	t.Helper()
	ctx := context.Background()

	issuance, err := fx.svc.SendOTP(ctx, testIdentifier, testClient)
	require.NoError(t, err)

	tokens, err := fx.svc.VerifyOTP(ctx, issuance.VerificationToken, fx.notifier.lastCode(), testClient)
	require.NoError(t, err)
	return tokens
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

// -------------------- tests --------------------

func TestSendOTPAndVerifyCreatesSession(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()

	issuance, err := fx.svc.SendOTP(ctx, testIdentifier, testClient)
	require.NoError(t, err)
	assert.NotEmpty(t, issuance.VerificationToken)
	assert.Equal(t, fx.nowVal.Add(5*time.Minute), issuance.ExpiresAt)

	assert.Equal(t, "+919876543210", fx.notifier.identifier)
	require.Len(t, fx.notifier.lastCode(), 6)

	tokens, err := fx.svc.VerifyOTP(ctx, issuance.VerificationToken, fx.notifier.lastCode(), testClient)
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)
	assert.NotEqual(t, tokens.AccessToken, tokens.RefreshToken)

	// First login registered an empty vendor shell.
	vendor, err := fx.vendors.GetVendorByIdentifier(ctx, "+919876543210")
	require.NoError(t, err)
	assert.Equal(t, tokens.VendorID, vendor.VendorID)
	assert.Empty(t, vendor.Name)
	assert.Equal(t, "hi", vendor.PreferredLanguage)
	assert.Equal(t, "active", vendor.Status)

	info, err := fx.svc.ValidateSession(ctx, tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, vendor.VendorID, info.VendorID)
	assert.True(t, info.ExpiresAt.Equal(fx.nowVal.Add(30*24*time.Hour)))
}

func TestSendOTPRejectsInvalidIdentifier(t *testing.T) {
	fx := newAuthFixture(t)

	_, err := fx.svc.SendOTP(context.Background(), "12345", testClient)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestVerifyWithWrongCodeCountsAttempts(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()

	issuance, err := fx.svc.SendOTP(ctx, testIdentifier, testClient)
	require.NoError(t, err)
	bad := wrongCode(fx.notifier.lastCode())

	_, err = fx.svc.VerifyOTP(ctx, issuance.VerificationToken, bad, testClient)
	var mismatch *CodeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 2, mismatch.Remaining)
	assert.ErrorIs(t, err, ErrInvalidCode)

	_, err = fx.svc.VerifyOTP(ctx, issuance.VerificationToken, bad, testClient)
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 1, mismatch.Remaining)

	_, err = fx.svc.VerifyOTP(ctx, issuance.VerificationToken, bad, testClient)
	assert.ErrorIs(t, err, ErrAttemptsExhausted)

	// The right code no longer helps: the token died with the attempts.
	_, err = fx.svc.VerifyOTP(ctx, issuance.VerificationToken, fx.notifier.lastCode(), testClient)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerificationTokenIsSingleUse(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()

	issuance, err := fx.svc.SendOTP(ctx, testIdentifier, testClient)
	require.NoError(t, err)
	code := fx.notifier.lastCode()

	_, err = fx.svc.VerifyOTP(ctx, issuance.VerificationToken, code, testClient)
	require.NoError(t, err)

	_, err = fx.svc.VerifyOTP(ctx, issuance.VerificationToken, code, testClient)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestExpiredCodeRejected(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()

	issuance, err := fx.svc.SendOTP(ctx, testIdentifier, testClient)
	require.NoError(t, err)

	fx.advance(6 * time.Minute)
	_, err = fx.svc.VerifyOTP(ctx, issuance.VerificationToken, fx.notifier.lastCode(), testClient)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestUnknownTokenLooksLikeExpired(t *testing.T) {
	fx := newAuthFixture(t)

	_, err := fx.svc.VerifyOTP(context.Background(), "never-issued-token", "123456", testClient)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestIssuanceQuotaEnforced(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := fx.svc.SendOTP(ctx, testIdentifier, testClient)
		require.NoError(t, err, "issuance %d should succeed", i+1)
	}

	_, err := fx.svc.SendOTP(ctx, testIdentifier, testClient)
	require.ErrorIs(t, err, ErrRateLimited)

	var limited *LimitedError
	require.ErrorAs(t, err, &limited)
	assert.Positive(t, limited.RetryAfter)
}

func TestValidateSessionCacheFallback(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()
	tokens := fx.login(t)

	// Wipe the cache mirror; validation must fall back to the durable store
	// and re-prime the mirror.
	fx.mr.FlushAll()

	info, err := fx.svc.ValidateSession(ctx, tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, tokens.VendorID, info.VendorID)
	assert.True(t, fx.mr.Exists("vendor_session:"+tokens.AccessToken))
}

func TestValidateSessionDefaultDeny(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()

	_, err := fx.svc.ValidateSession(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = fx.svc.ValidateSession(ctx, "garbage.token.value")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestExpiredSessionIsCleanedUpEagerly(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()
	tokens := fx.login(t)
	require.Equal(t, 1, fx.sessions.count())

	fx.advance(31 * 24 * time.Hour)

	_, err := fx.svc.ValidateSession(ctx, tokens.AccessToken)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	assert.Equal(t, 0, fx.sessions.count())
	assert.False(t, fx.mr.Exists("vendor_session:"+tokens.AccessToken))
}

func TestRefreshSwapsAccessToken(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()
	tokens := fx.login(t)

	refreshed, err := fx.svc.RefreshToken(ctx, tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, tokens.AccessToken, refreshed.AccessToken)
	assert.Equal(t, tokens.RefreshToken, refreshed.RefreshToken)
	assert.Equal(t, tokens.SessionID, refreshed.SessionID)

	info, err := fx.svc.ValidateSession(ctx, refreshed.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, tokens.VendorID, info.VendorID)

	// The superseded access token no longer resolves.
	_, err = fx.svc.ValidateSession(ctx, tokens.AccessToken)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	// The refresh token is reusable until it expires.
	again, err := fx.svc.RefreshToken(ctx, tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, again.AccessToken)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	fx := newAuthFixture(t)
	tokens := fx.login(t)

	_, err := fx.svc.RefreshToken(context.Background(), tokens.AccessToken)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestLogoutIsIdempotent(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()
	tokens := fx.login(t)

	require.NoError(t, fx.svc.Logout(ctx, tokens.AccessToken))

	_, err := fx.svc.ValidateSession(ctx, tokens.AccessToken)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	// A second logout of the same genuine token is a no-op, not an error.
	require.NoError(t, fx.svc.Logout(ctx, tokens.AccessToken))
}

func TestLogoutRejectsForeignTokens(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, fx.svc.Logout(ctx, ""), ErrUnauthenticated)
	assert.ErrorIs(t, fx.svc.Logout(ctx, "completely-bogus-token"), ErrUnauthenticated)

	// A refresh token is no substitute for an access token, even a genuine one.
	tokens := fx.login(t)
	assert.ErrorIs(t, fx.svc.Logout(ctx, tokens.RefreshToken), ErrUnauthenticated)
	require.Equal(t, 1, fx.sessions.count())
}

func TestVerifiedRecordExpiresLikeAnyOther(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()

	issuance, err := fx.svc.SendOTP(ctx, testIdentifier, testClient)
	require.NoError(t, err)

	// Put the record into the verified state without consuming the token.
	fx.otps.mu.Lock()
	for _, rec := range fx.otps.records {
		rec.Verified = true
	}
	fx.otps.mu.Unlock()

	_, err = fx.svc.VerifyOTP(ctx, issuance.VerificationToken, fx.notifier.lastCode(), testClient)
	assert.ErrorIs(t, err, ErrAlreadyUsed)

	// Once the record lapses, expiry takes precedence over the verified state.
	fx.advance(6 * time.Minute)
	_, err = fx.svc.VerifyOTP(ctx, issuance.VerificationToken, fx.notifier.lastCode(), testClient)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestIssuanceAbuseLocksTheClient(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := fx.svc.SendOTP(ctx, testIdentifier, testClient)
		require.NoError(t, err, "issuance %d should succeed", i+1)
	}

	// Rejected requests count against the client itself; the fifth rejection
	// crosses the lockout threshold.
	for i := 0; i < 4; i++ {
		_, err := fx.svc.SendOTP(ctx, testIdentifier, testClient)
		assert.ErrorIs(t, err, ErrRateLimited)
	}
	_, err := fx.svc.SendOTP(ctx, testIdentifier, testClient)
	assert.ErrorIs(t, err, ErrLockedOut)

	// Switching identifiers does not help: the lockout follows the client.
	_, err = fx.svc.SendOTP(ctx, "9123456789", testClient)
	assert.ErrorIs(t, err, ErrLockedOut)
}

func TestRepeatedMismatchesLockTheClient(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()

	issuance, err := fx.svc.SendOTP(ctx, testIdentifier, testClient)
	require.NoError(t, err)
	bad := wrongCode(fx.notifier.lastCode())

	// Three mismatches exhaust the first code.
	for i := 0; i < 2; i++ {
		_, err = fx.svc.VerifyOTP(ctx, issuance.VerificationToken, bad, testClient)
		assert.ErrorIs(t, err, ErrInvalidCode)
	}
	_, err = fx.svc.VerifyOTP(ctx, issuance.VerificationToken, bad, testClient)
	assert.ErrorIs(t, err, ErrAttemptsExhausted)

	// Two more on a fresh code cross the lockout threshold.
	issuance, err = fx.svc.SendOTP(ctx, testIdentifier, testClient)
	require.NoError(t, err)
	bad = wrongCode(fx.notifier.lastCode())

	_, err = fx.svc.VerifyOTP(ctx, issuance.VerificationToken, bad, testClient)
	assert.ErrorIs(t, err, ErrInvalidCode)

	_, err = fx.svc.VerifyOTP(ctx, issuance.VerificationToken, bad, testClient)
	assert.ErrorIs(t, err, ErrLockedOut)

	// Locked clients are turned away before any code comparison.
	_, err = fx.svc.VerifyOTP(ctx, issuance.VerificationToken, fx.notifier.lastCode(), testClient)
	assert.ErrorIs(t, err, ErrLockedOut)
}

func TestDeactivatedVendorCannotLogin(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()

	tokens := fx.login(t)
	require.NoError(t, fx.vendors.DeactivateVendor(ctx, tokens.VendorID))

	issuance, err := fx.svc.SendOTP(ctx, testIdentifier, testClient)
	require.NoError(t, err)

	_, err = fx.svc.VerifyOTP(ctx, issuance.VerificationToken, fx.notifier.lastCode(), testClient)
	assert.ErrorIs(t, err, ErrVendorDeactivated)
}

func TestDeliveryFailureSurfaces(t *testing.T) {
	fx := newAuthFixture(t)
	fx.notifier.fail = true

	_, err := fx.svc.SendOTP(context.Background(), testIdentifier, testClient)
	assert.ErrorIs(t, err, ErrDeliveryFailed)
}
