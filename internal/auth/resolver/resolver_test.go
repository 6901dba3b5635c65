package resolver

import (
	"context"
	"testing"
	"time"

	"vault-auth/internal/auth"
	"vault-auth/internal/auth/flow"
	"vault-auth/internal/gateway"
	"vault-auth/internal/gateway/gatewaytest"
	"vault-auth/internal/profile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockProfileStore struct{ mock.Mock }

func (m *mockProfileStore) Get(ctx context.Context, userID string) (*profile.Profile, error) {
	args := m.Called(ctx, userID)
	if p, _ := args.Get(0).(*profile.Profile); p != nil {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockProfileStore) Create(ctx context.Context, identity auth.Identity) (*profile.Profile, error) {
	args := m.Called(ctx, identity)
	if p, _ := args.Get(0).(*profile.Profile); p != nil {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockProfileStore) Touch(ctx context.Context, identity auth.Identity) error {
	return m.Called(ctx, identity).Error(0)
}
func (m *mockProfileStore) SetReferral(ctx context.Context, userID, code string) error {
	return m.Called(ctx, userID, code).Error(0)
}
func (m *mockProfileStore) VaultState(ctx context.Context, userID string) (profile.VaultState, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(profile.VaultState), args.Error(1)
}
func (m *mockProfileStore) UserIDByWallet(ctx context.Context, address string) (string, error) {
	args := m.Called(ctx, address)
	return args.String(0), args.Error(1)
}
func (m *mockProfileStore) LinkWallet(ctx context.Context, address, userID string) error {
	return m.Called(ctx, address, userID).Error(0)
}

type memFlowStore struct {
	flows map[string]flow.Flow
}

func newMemFlowStore() *memFlowStore {
	return &memFlowStore{flows: make(map[string]flow.Flow)}
}
func (s *memFlowStore) Create(ctx context.Context, f flow.Flow) error {
	s.flows[f.ID] = f
	return nil
}
func (s *memFlowStore) Get(ctx context.Context, id string) (*flow.Flow, error) {
	f, ok := s.flows[id]
	if !ok {
		return nil, nil
	}
	return &f, nil
}
func (s *memFlowStore) Update(ctx context.Context, f flow.Flow) error {
	s.flows[f.ID] = f
	return nil
}
func (s *memFlowStore) Delete(ctx context.Context, id string) error {
	delete(s.flows, id)
	return nil
}

// --- helpers ---

func awaitingFlow(method auth.Method, email string) *flow.Flow {
	now := time.Now()
	return &flow.Flow{
		ID:          "flow-1",
		Method:      method,
		SubjectHint: email,
		State:       flow.StateAwaiting,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}
}

func newProfile(userID string) *profile.Profile {
	return &profile.Profile{
		ID:         userID,
		Tier:       profile.DefaultTier,
		VaultState: profile.VaultNotStarted,
	}
}

// --- tests ---

func TestResolveOTP_NewUser(t *testing.T) {
	gw := &gatewaytest.Fake{}
	ps := &mockProfileStore{}
	fs := newMemFlowStore()
	f := awaitingFlow(auth.MethodMagicLink, "alice@example.com")
	_ = fs.Create(context.Background(), *f)

	ps.On("Get", mock.Anything, mock.Anything).Return(nil, profile.ErrNotFound)
	ps.On("Create", mock.Anything, mock.Anything).Return(newProfile("u1"), nil)

	r := New(gw, ps, fs, DefaultRetry)
	res, err := r.ResolveOTP(context.Background(), f, "alice@example.com", "tok", gateway.VerifyMagicLink)

	require.NoError(t, err)
	assert.True(t, res.IsNewUser)
	assert.Equal(t, "alice@example.com", res.Email)
	assert.NotNil(t, res.Session)
	assert.Equal(t, flow.StateVerified, f.State)

	// The existence check must run before the write: upserting first
	// would destroy the isNewUser signal.
	require.GreaterOrEqual(t, len(ps.Calls), 2)
	assert.Equal(t, "Get", ps.Calls[0].Method)
	assert.Equal(t, "Create", ps.Calls[1].Method)
}

func TestResolveOTP_ReturningUserTouchesNotRecreates(t *testing.T) {
	gw := &gatewaytest.Fake{}
	ps := &mockProfileStore{}
	fs := newMemFlowStore()
	f := awaitingFlow(auth.MethodOTPEmail, "bob@example.com")

	ps.On("Get", mock.Anything, mock.Anything).Return(newProfile("u2"), nil)
	ps.On("Touch", mock.Anything, mock.Anything).Return(nil)

	r := New(gw, ps, fs, DefaultRetry)
	res, err := r.ResolveOTP(context.Background(), f, "bob@example.com", "123456", gateway.VerifyEmailOTP)

	require.NoError(t, err)
	assert.False(t, res.IsNewUser)
	ps.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestResolveOTP_Idempotent(t *testing.T) {
	gw := &gatewaytest.Fake{}
	ps := &mockProfileStore{}
	fs := newMemFlowStore()
	f := awaitingFlow(auth.MethodMagicLink, "alice@example.com")

	ps.On("Get", mock.Anything, mock.Anything).Return(nil, profile.ErrNotFound)
	ps.On("Create", mock.Anything, mock.Anything).Return(newProfile("u1"), nil)

	r := New(gw, ps, fs, DefaultRetry)
	first, err := r.ResolveOTP(context.Background(), f, "alice@example.com", "tok", gateway.VerifyMagicLink)
	require.NoError(t, err)

	// Same callback again: page remount, double navigation. Must be
	// success with the identical result, not an error.
	second, err := r.ResolveOTP(context.Background(), f, "alice@example.com", "tok", gateway.VerifyMagicLink)
	require.NoError(t, err)

	assert.Equal(t, first.UserID, second.UserID)
	assert.Equal(t, first.IsNewUser, second.IsNewUser)

	// Only the first invocation reaches the gateway.
	verifyCalls := 0
	for _, c := range gw.Calls {
		if c == "VerifyOTP" {
			verifyCalls++
		}
	}
	assert.Equal(t, 1, verifyCalls)
}

func TestResolveOTP_GatewayExpired(t *testing.T) {
	gw := &gatewaytest.Fake{ErrVerify: auth.ErrExpired}
	ps := &mockProfileStore{}
	fs := newMemFlowStore()
	f := awaitingFlow(auth.MethodMagicLink, "alice@example.com")

	r := New(gw, ps, fs, DefaultRetry)
	_, err := r.ResolveOTP(context.Background(), f, "alice@example.com", "stale", gateway.VerifyMagicLink)

	require.ErrorIs(t, err, auth.ErrExpired)
	assert.Equal(t, flow.StateExpired, f.State, "expired is its own terminal state")
	assert.Equal(t, "alice@example.com", f.SubjectHint, "email survives for resend")
}

func TestResolveOTP_LocalTTLExpiry(t *testing.T) {
	gw := &gatewaytest.Fake{}
	ps := &mockProfileStore{}
	fs := newMemFlowStore()

	f := awaitingFlow(auth.MethodOTPEmail, "late@example.com")
	f.CreatedAt = time.Now().Add(-2 * time.Hour)
	f.ExpiresAt = time.Now().Add(-time.Hour)

	r := New(gw, ps, fs, DefaultRetry)
	_, err := r.ResolveOTP(context.Background(), f, "late@example.com", "123456", gateway.VerifyEmailOTP)

	require.ErrorIs(t, err, auth.ErrExpired)
	assert.NotContains(t, gw.Calls, "VerifyOTP", "locally expired attempts never reach the gateway")
}

func TestResolveOTP_OtherGatewayErrorFails(t *testing.T) {
	gw := &gatewaytest.Fake{ErrVerify: auth.ErrGatewayUnavailable}
	ps := &mockProfileStore{}
	fs := newMemFlowStore()
	f := awaitingFlow(auth.MethodMagicLink, "alice@example.com")

	r := New(gw, ps, fs, DefaultRetry)
	_, err := r.ResolveOTP(context.Background(), f, "alice@example.com", "tok", gateway.VerifyMagicLink)

	require.ErrorIs(t, err, auth.ErrGatewayUnavailable)
	assert.Equal(t, flow.StateFailed, f.State, "non-expiry errors land in failed, not expired")
}

func TestResolveExisting_RetriesOnceThenSucceeds(t *testing.T) {
	sess := &gateway.Session{
		Identity: auth.Identity{UserID: "u9", Email: "carol@example.com"},
	}
	gw := &gatewaytest.Fake{GetSessionResults: []*gateway.Session{nil, sess}}
	ps := &mockProfileStore{}
	fs := newMemFlowStore()

	ps.On("Get", mock.Anything, "u9").Return(newProfile("u9"), nil)
	ps.On("Touch", mock.Anything, mock.Anything).Return(nil)

	r := New(gw, ps, fs, RetryPolicy{Attempts: 1, Delay: time.Millisecond})
	res, err := r.ResolveExisting(context.Background(), nil, "access-token")

	require.NoError(t, err)
	assert.Equal(t, "u9", res.UserID)
	assert.False(t, res.IsNewUser, "a replayed established session is never a new user")

	getCalls := 0
	for _, c := range gw.Calls {
		if c == "GetSession" {
			getCalls++
		}
	}
	assert.Equal(t, 2, getCalls)
}

func TestResolveExisting_RetryBudgetExhausted(t *testing.T) {
	gw := &gatewaytest.Fake{} // always "no session yet"
	ps := &mockProfileStore{}
	fs := newMemFlowStore()

	r := New(gw, ps, fs, RetryPolicy{Attempts: 1, Delay: time.Millisecond})
	_, err := r.ResolveExisting(context.Background(), nil, "access-token")

	require.ErrorIs(t, err, auth.ErrAuthenticationFailed)

	getCalls := 0
	for _, c := range gw.Calls {
		if c == "GetSession" {
			getCalls++
		}
	}
	assert.Equal(t, 2, getCalls, "exactly one bounded retry, no loop")
}

func TestFinish_ReferralPersistedOnlyOnVerified(t *testing.T) {
	gw := &gatewaytest.Fake{ErrVerify: auth.ErrExpired}
	ps := &mockProfileStore{}
	fs := newMemFlowStore()

	f := awaitingFlow(auth.MethodMagicLink, "alice@example.com")
	f.Referral = "ABC123"

	r := New(gw, ps, fs, DefaultRetry)
	_, err := r.ResolveOTP(context.Background(), f, "alice@example.com", "tok", gateway.VerifyMagicLink)
	require.Error(t, err)

	ps.AssertNotCalled(t, "SetReferral", mock.Anything, mock.Anything, mock.Anything)

	// Retry after resend succeeds; now the referral lands.
	require.NoError(t, f.Apply(flow.EventResend, time.Now()))
	require.NoError(t, f.Apply(flow.EventSend, time.Now()))

	gw.ErrVerify = nil
	ps.On("Get", mock.Anything, mock.Anything).Return(nil, profile.ErrNotFound)
	ps.On("Create", mock.Anything, mock.Anything).Return(newProfile("u1"), nil)
	ps.On("SetReferral", mock.Anything, mock.Anything, "ABC123").Return(nil)

	res, err := r.ResolveOTP(context.Background(), f, "alice@example.com", "fresh", gateway.VerifyMagicLink)
	require.NoError(t, err)
	assert.Equal(t, "ABC123", res.Referral)
	ps.AssertCalled(t, "SetReferral", mock.Anything, mock.Anything, "ABC123")
}
