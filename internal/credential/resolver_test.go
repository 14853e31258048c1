package credential

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/shaiso/Netomata/internal/cache"
	"github.com/shaiso/Netomata/internal/domain"
	"github.com/shaiso/Netomata/internal/otp"
	"github.com/shaiso/Netomata/internal/repo/memrepo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSeed = "JBSWY3DPEHPK3PXP"

var (
	coreKey = domain.GroupKey{Department: "netops", Group: "core"}
	seedKey = domain.GroupKey{Department: "netops", Group: "token"}
	edgeKey = domain.GroupKey{Department: "netops", Group: "edge"}
)

func newResolver(t *testing.T, now time.Time) (*Resolver, *otp.Coordinator, *memrepo.Store) {
	t.Helper()
	store := memrepo.New()
	store.PutCredential(domain.CredentialRecord{ID: uuid.New(), Department: "netops", Group: "core", Username: "admin", Secret: "static-pw"})
	store.PutCredential(domain.CredentialRecord{ID: uuid.New(), Department: "netops", Group: "token", Username: "svc", OTPSeed: testSeed})
	store.PutCredential(domain.CredentialRecord{ID: uuid.New(), Department: "netops", Group: "edge", Username: "operator"})

	coord := otp.NewCoordinator(cache.NewMemory(time.Now), otp.Config{WaitTimeout: time.Minute})
	return NewResolver(store.Credentials(), coord, func() time.Time { return now }, nil), coord, store
}

func device(auth domain.AuthType, key domain.GroupKey) domain.Device {
	return domain.Device{ID: uuid.New(), Name: "r-" + key.Group, AuthType: auth, Department: key.Department, Group: key.Group}
}

// --- Resolve Tests ---

func TestResolve_Static(t *testing.T) {
	r, _, _ := newResolver(t, time.Now())
	d := device(domain.AuthStatic, coreKey)

	cred, err := r.Resolve(context.Background(), uuid.New(), &d)
	require.NoError(t, err)
	assert.Equal(t, "admin", cred.Username)
	assert.Equal(t, "static-pw", cred.Secret)
	assert.NotContains(t, cred.String(), "static-pw")
}

func TestResolve_OTPSeed(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r, _, _ := newResolver(t, now)
	d := device(domain.AuthOTPSeed, seedKey)

	want, err := totp.GenerateCode(testSeed, now)
	require.NoError(t, err)

	cred, err := r.Resolve(context.Background(), uuid.New(), &d)
	require.NoError(t, err)
	assert.Equal(t, want, cred.Secret)
}

func TestResolve_ManualWithoutCode(t *testing.T) {
	r, _, _ := newResolver(t, time.Now())
	d := device(domain.AuthOTPManual, edgeKey)

	_, err := r.Resolve(context.Background(), uuid.New(), &d)
	req, ok := otp.AsRequired(err)
	require.True(t, ok, "expected RequiredError, got %v", err)
	assert.True(t, req.Contains(d.ID))
}

func TestResolve_ManualWithCode(t *testing.T) {
	ctx := context.Background()
	r, coord, _ := newResolver(t, time.Now())
	d := device(domain.AuthOTPManual, edgeKey)
	require.NotZero(t, coord.Cache(ctx, edgeKey, "482913"))

	cred, err := r.Resolve(ctx, uuid.New(), &d)
	require.NoError(t, err)
	assert.Equal(t, "operator", cred.Username)
	assert.Equal(t, "482913", cred.Secret)
}

func TestResolve_NoCredential(t *testing.T) {
	r, _, _ := newResolver(t, time.Now())
	d := device(domain.AuthStatic, domain.GroupKey{Department: "lab", Group: "none"})

	_, err := r.Resolve(context.Background(), uuid.New(), &d)
	assert.True(t, errors.Is(err, ErrNoCredential), "got %v", err)
}

// --- ResolveAll Tests ---

func TestResolveAll_Mixed(t *testing.T) {
	r, _, _ := newResolver(t, time.Now())
	static := device(domain.AuthStatic, coreKey)
	seeded := device(domain.AuthOTPSeed, seedKey)
	manual1 := device(domain.AuthOTPManual, edgeKey)
	manual2 := device(domain.AuthOTPManual, edgeKey)
	lost := device(domain.AuthStatic, domain.GroupKey{Department: "lab", Group: "none"})

	res, err := r.ResolveAll(context.Background(), uuid.New(), []domain.Device{static, seeded, manual1, manual2, lost})

	req, ok := otp.AsRequired(err)
	require.True(t, ok, "expected RequiredError, got %v", err)
	require.Len(t, req.Groups, 1)
	assert.Equal(t, edgeKey, req.Groups[0].Key)
	assert.ElementsMatch(t, []uuid.UUID{manual1.ID, manual2.ID}, req.Groups[0].DeviceIDs)

	assert.Contains(t, res.Creds, static.ID)
	assert.Contains(t, res.Creds, seeded.ID)
	assert.NotContains(t, res.Creds, manual1.ID)
	assert.ErrorIs(t, res.Failed[lost.ID], ErrNoCredential)
}

func TestResolveAll_ManualReady(t *testing.T) {
	ctx := context.Background()
	r, coord, _ := newResolver(t, time.Now())
	coord.Cache(ctx, edgeKey, "111222")
	a := device(domain.AuthOTPManual, edgeKey)
	b := device(domain.AuthOTPManual, edgeKey)

	res, err := r.ResolveAll(ctx, uuid.New(), []domain.Device{a, b})
	require.NoError(t, err)
	assert.Equal(t, "111222", res.Creds[a.ID].Secret)
	assert.Equal(t, "111222", res.Creds[b.ID].Secret)
	assert.Empty(t, res.Failed)
}

func TestResolveAll_InvalidSeedFailsDevice(t *testing.T) {
	r, _, store := newResolver(t, time.Now())
	store.PutCredential(domain.CredentialRecord{ID: uuid.New(), Department: "netops", Group: "broken", Username: "svc", OTPSeed: "not base32 !"})
	d := device(domain.AuthOTPSeed, domain.GroupKey{Department: "netops", Group: "broken"})

	res, err := r.ResolveAll(context.Background(), uuid.New(), []domain.Device{d})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Failed[d.ID], otp.ErrInvalidSeed)
}

// --- Cached Tests ---

func TestCached(t *testing.T) {
	ctx := context.Background()
	r, coord, _ := newResolver(t, time.Now())

	static := device(domain.AuthStatic, coreKey)
	cred, err := r.Cached(ctx, &static)
	require.NoError(t, err)
	assert.Equal(t, "static-pw", cred.Secret)

	manual := device(domain.AuthOTPManual, edgeKey)
	_, err = r.Cached(ctx, &manual)
	assert.True(t, errors.Is(err, ErrCodeNotCached), "got %v", err)

	_, cached := coord.Peek(ctx, edgeKey)
	assert.False(t, cached)
	assert.False(t, coord.ShouldNotify(ctx, edgeKey, uuid.New()), "wait state must not be created")

	require.True(t, coord.Cache(ctx, edgeKey, "424242") > 0)
	cred, err = r.Cached(ctx, &manual)
	require.NoError(t, err)
	assert.Equal(t, "operator", cred.Username)
	assert.Equal(t, "424242", cred.Secret)
}
