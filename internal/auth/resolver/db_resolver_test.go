package resolver

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"identity-service/internal/auth"
	"identity-service/internal/db"
	"identity-service/internal/logger"
	"identity-service/internal/metrics"
	"identity-service/internal/user"
)

func newTestStore(t *testing.T) *user.BunStore {
	t.Helper()
	ctx := context.Background()

	bdb, err := db.Open(ctx, ":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(func() { bdb.Close() })
	require.NoError(t, db.Migrate(ctx, bdb))

	return user.NewBunStore(bdb)
}

func acme(login, email string) *auth.Identity {
	return &auth.Identity{
		Provider:       "acme",
		ProviderUserID: "id-" + login,
		ProviderLogin:  login,
		Name:           "User " + login,
		Email:          email,
		EmailVerified:  true,
	}
}

func resolve(t *testing.T, r *DBResolver, id *auth.Identity, policy auth.ConflictPolicy) (*user.User, error) {
	t.Helper()
	return r.Resolve(context.Background(), id, auth.External(id.Provider), policy)
}

func TestResolve_CreatesNewUser(t *testing.T) {
	store := newTestStore(t)
	r := NewDBResolver(store, nil)

	u, err := resolve(t, r, acme("u1", "A@X.com "), auth.PolicyWarn)
	require.NoError(t, err)

	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "u1", u.Login)
	assert.Equal(t, "User u1", u.Name)
	assert.Equal(t, "a@x.com", u.Email)
	require.Len(t, u.ExternalLogins, 1)
	assert.Equal(t, "acme", u.ExternalLogins[0].Provider)
	assert.Equal(t, "id-u1", u.ExternalLogins[0].ProviderUserID)
}

func TestResolve_Idempotent(t *testing.T) {
	store := newTestStore(t)
	r := NewDBResolver(store, nil)
	ctx := context.Background()

	first, err := resolve(t, r, acme("u1", "a@x.com"), auth.PolicyWarn)
	require.NoError(t, err)

	second, err := resolve(t, r, acme("u1", "a@x.com"), auth.PolicyWarn)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "a@x.com", second.Email)
	assert.Equal(t, first.UpdatedAt.Unix(), second.UpdatedAt.Unix(), "unchanged identity is not rewritten")

	shifts, err := store.EmailShifts(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Empty(t, shifts)
}

func TestResolve_LinkedLoginUpdatesProfile(t *testing.T) {
	store := newTestStore(t)
	r := NewDBResolver(store, nil)
	ctx := context.Background()

	first, err := resolve(t, r, acme("u1", "a@x.com"), auth.PolicyWarn)
	require.NoError(t, err)

	changed := acme("u1", "new@x.com")
	changed.Name = "Renamed"
	changed.ProviderLogin = "u1-renamed"

	second, err := resolve(t, r, changed, auth.PolicyWarn)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	reloaded, err := store.FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", reloaded.Name)
	assert.Equal(t, "new@x.com", reloaded.Email)
	assert.Equal(t, "u1", reloaded.Login, "local login is stable")
	assert.Equal(t, "u1-renamed", reloaded.ExternalLogins[0].ProviderLogin)
}

func TestResolve_MissingEmailKeepsStoredEmail(t *testing.T) {
	store := newTestStore(t)
	r := NewDBResolver(store, nil)

	first, err := resolve(t, r, acme("u1", "a@x.com"), auth.PolicyWarn)
	require.NoError(t, err)

	second, err := resolve(t, r, acme("u1", ""), auth.PolicyWarn)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "a@x.com", second.Email)
}

func TestResolve_ConflictWarn(t *testing.T) {
	store := newTestStore(t)
	r := NewDBResolver(store, nil)
	ctx := context.Background()

	owner, err := resolve(t, r, acme("alice", "e@x.com"), auth.PolicyWarn)
	require.NoError(t, err)

	_, err = resolve(t, r, acme("mallory", "e@x.com"), auth.PolicyWarn)
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrIdentityConflict)

	var conflict *auth.IdentityConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "e@x.com", conflict.Email)
	assert.Equal(t, "alice", conflict.ExistingLogin)
	assert.Equal(t, "acme", conflict.Provider)

	reloaded, err := store.FindByID(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "e@x.com", reloaded.Email)
	assert.Equal(t, owner.UpdatedAt.Unix(), reloaded.UpdatedAt.Unix())

	_, err = store.FindByExternalLogin(ctx, "acme", "id-mallory")
	assert.ErrorIs(t, err, user.ErrNotFound, "no user was created")
}

func TestResolve_ConflictWarnOnLinkedUser(t *testing.T) {
	store := newTestStore(t)
	r := NewDBResolver(store, nil)
	ctx := context.Background()

	_, err := resolve(t, r, acme("alice", "e@x.com"), auth.PolicyWarn)
	require.NoError(t, err)
	bob, err := resolve(t, r, acme("bob", "b@x.com"), auth.PolicyWarn)
	require.NoError(t, err)

	changed := acme("bob", "e@x.com")
	changed.Name = "Bob Changed"
	_, err = resolve(t, r, changed, auth.PolicyWarn)
	require.ErrorIs(t, err, auth.ErrIdentityConflict)

	reloaded, err := store.FindByID(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "b@x.com", reloaded.Email)
	assert.Equal(t, "User bob", reloaded.Name)
}

func TestResolve_ConflictAllowShiftsEmail(t *testing.T) {
	var logs bytes.Buffer
	logger.SetOutput(&logs, false)
	t.Cleanup(func() { logger.Init(false) })

	store := newTestStore(t)
	m := metrics.New()
	r := NewDBResolver(store, m)
	ctx := context.Background()

	owner, err := resolve(t, r, acme("alice", "e@x.com"), auth.PolicyWarn)
	require.NoError(t, err)

	u, err := resolve(t, r, acme("bob", "e@x.com"), auth.PolicyAllow)
	require.NoError(t, err)
	assert.NotEqual(t, owner.ID, u.ID, "accounts are never merged")
	assert.Equal(t, "e@x.com", u.Email)

	previous, err := store.FindByID(ctx, owner.ID)
	require.NoError(t, err)
	assert.Empty(t, previous.Email)

	byEmail, err := store.FindByEmail(ctx, "e@x.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	shifts, err := store.EmailShifts(ctx, "e@x.com")
	require.NoError(t, err)
	require.Len(t, shifts, 1)
	assert.Equal(t, owner.ID, shifts[0].FromUserID)
	assert.Equal(t, u.ID, shifts[0].ToUserID)
	assert.Equal(t, "acme", shifts[0].Provider)
	assert.Equal(t, "id-bob", shifts[0].ProviderUserID)

	out := logs.String()
	assert.Contains(t, out, `"event":"email_shift"`)
	assert.Contains(t, out, `"source":"external:acme"`)
	assert.Contains(t, out, `"level":"WARN"`)
}

func TestResolve_ConflictAllowOnLinkedUser(t *testing.T) {
	store := newTestStore(t)
	r := NewDBResolver(store, nil)
	ctx := context.Background()

	alice, err := resolve(t, r, acme("alice", "e@x.com"), auth.PolicyWarn)
	require.NoError(t, err)
	bob, err := resolve(t, r, acme("bob", "b@x.com"), auth.PolicyWarn)
	require.NoError(t, err)

	moved, err := resolve(t, r, acme("bob", "e@x.com"), auth.PolicyAllow)
	require.NoError(t, err)
	assert.Equal(t, bob.ID, moved.ID)
	assert.Equal(t, "e@x.com", moved.Email)

	reloaded, err := store.FindByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, reloaded.Email)
}

func TestResolve_AllowWithoutConflictRecordsNothing(t *testing.T) {
	store := newTestStore(t)
	r := NewDBResolver(store, nil)
	ctx := context.Background()

	_, err := resolve(t, r, acme("u1", "a@x.com"), auth.PolicyAllow)
	require.NoError(t, err)

	shifts, err := store.EmailShifts(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Empty(t, shifts)
}

func TestResolve_ExternalLoginTakesPrecedence(t *testing.T) {
	store := newTestStore(t)
	r := NewDBResolver(store, nil)

	linked, err := resolve(t, r, acme("u1", "u1@x.com"), auth.PolicyWarn)
	require.NoError(t, err)

	// a second account owning an email is irrelevant when the login is linked
	// and the asserted email is the one the linked user already has
	_, err = resolve(t, r, acme("u2", "u2@x.com"), auth.PolicyWarn)
	require.NoError(t, err)

	again, err := resolve(t, r, acme("u1", "u1@x.com"), auth.PolicyWarn)
	require.NoError(t, err)
	assert.Equal(t, linked.ID, again.ID)
}

func TestResolve_LoginCollisionGetsSuffix(t *testing.T) {
	store := newTestStore(t)
	r := NewDBResolver(store, nil)

	first, err := resolve(t, r, acme("dup", ""), auth.PolicyWarn)
	require.NoError(t, err)

	other := acme("dup", "")
	other.Provider = "github"
	second, err := resolve(t, r, other, auth.PolicyWarn)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "dup", first.Login)
	assert.NotEqual(t, "dup", second.Login)
	assert.Contains(t, second.Login, "dup-")
}

func TestResolve_RejectsIncompleteIdentity(t *testing.T) {
	r := NewDBResolver(newTestStore(t), nil)

	_, err := r.Resolve(context.Background(), nil, auth.External("acme"), auth.PolicyWarn)
	assert.Error(t, err)

	_, err = resolve(t, r, &auth.Identity{Provider: "acme"}, auth.PolicyWarn)
	assert.Error(t, err)
}

func TestResolve_ConcurrentSameIdentity(t *testing.T) {
	store := newTestStore(t)
	r := NewDBResolver(store, nil)

	const callers = 8
	ids := make([]string, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := r.Resolve(context.Background(), acme("u1", "a@x.com"), auth.External("acme"), auth.PolicyWarn)
			errs[i] = err
			if err == nil {
				ids[i] = u.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	u, err := store.FindByLogin(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, ids[0], u.ID)
}

func TestBaseLogin(t *testing.T) {
	tests := []struct {
		name     string
		identity auth.Identity
		expected string
	}{
		{"provider login", auth.Identity{Provider: "github", ProviderUserID: "1", ProviderLogin: "Octo Cat"}, "octo-cat"},
		{"email local part", auth.Identity{Provider: "google", ProviderUserID: "2", Email: "Jane.Doe@example.com"}, "jane.doe"},
		{"provider id", auth.Identity{Provider: "keycloak", ProviderUserID: "abc-123"}, "keycloak-abc-123"},
		{"unusable login falls through", auth.Identity{Provider: "github", ProviderUserID: "3", ProviderLogin: "***", Email: "x@y.z"}, "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, baseLogin(&tt.identity))
		})
	}
}

// raceStore simulates a concurrent writer: Create fails with ErrDuplicate and,
// optionally, the competing request's rows become visible before the retry.
type raceStore struct {
	user.Store

	duplicates int
	creates    int
	beforeTx   func(ctx context.Context, s user.Store) error
}

func (s *raceStore) InTx(ctx context.Context, fn func(ctx context.Context, tx user.Store) error) error {
	if hook := s.beforeTx; hook != nil {
		s.beforeTx = nil
		if err := hook(ctx, s.Store); err != nil {
			return err
		}
	}
	return s.Store.InTx(ctx, func(ctx context.Context, tx user.Store) error {
		return fn(ctx, &raceTx{Store: tx, parent: s})
	})
}

type raceTx struct {
	user.Store
	parent *raceStore
}

func (t *raceTx) Create(ctx context.Context, u *user.User, link *user.ExternalLogin) error {
	t.parent.creates++
	if t.parent.duplicates > 0 {
		t.parent.duplicates--
		return fmt.Errorf("create user: %w", user.ErrDuplicate)
	}
	return t.Store.Create(ctx, u, link)
}

func TestResolve_RetriesAfterRace(t *testing.T) {
	base := newTestStore(t)
	winner := &user.User{Login: "winner", Email: "a@x.com"}

	rs := &raceStore{Store: base, duplicates: 1}
	rs.beforeTx = func(ctx context.Context, s user.Store) error {
		// first attempt runs untouched; the winner lands before the retry
		rs.beforeTx = func(ctx context.Context, s user.Store) error {
			return s.Create(ctx, winner, &user.ExternalLogin{Provider: "acme", ProviderUserID: "id-u1"})
		}
		return nil
	}

	r := NewDBResolver(rs, nil)
	u, err := resolve(t, r, acme("u1", "a@x.com"), auth.PolicyWarn)
	require.NoError(t, err)

	assert.Equal(t, winner.ID, u.ID, "retry converges on the concurrently created user")
	assert.Equal(t, 1, rs.creates)
}

func TestResolve_PersistentRaceEscalates(t *testing.T) {
	rs := &raceStore{Store: newTestStore(t), duplicates: 2}
	r := NewDBResolver(rs, nil)

	_, err := resolve(t, r, acme("u1", "a@x.com"), auth.PolicyWarn)
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrStorageRace)
	assert.Equal(t, 2, rs.creates, "exactly one retry")
}
