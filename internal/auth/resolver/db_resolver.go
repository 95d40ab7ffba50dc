package resolver

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"identity-service/internal/auth"
	"identity-service/internal/logger"
	"identity-service/internal/metrics"
	"identity-service/internal/user"
	"identity-service/internal/utils"
)

const maxLoginAttempts = 5

var loginUnsafe = regexp.MustCompile(`[^a-z0-9._-]+`)

// DBResolver resolves identities against the user store.
//
// Lookup order is the linked external login, then the asserted email, then
// creation. An email owned by another user is only moved under PolicyAllow.
// Accounts are never merged.
type DBResolver struct {
	store   user.Store
	metrics *metrics.Metrics
}

func NewDBResolver(store user.Store, m *metrics.Metrics) *DBResolver {
	return &DBResolver{store: store, metrics: m}
}

// outcome is what one reconciliation transaction produced.
type outcome struct {
	user  *user.User
	shift *user.EmailShift
	from  *user.User
}

func (r *DBResolver) Resolve(
	ctx context.Context,
	identity *auth.Identity,
	source auth.Source,
	policy auth.ConflictPolicy,
) (*user.User, error) {

	if identity == nil || identity.ProviderUserID == "" {
		return nil, errors.New("resolver: identity without provider user id")
	}

	res, err := r.attempt(ctx, identity, policy)
	if errors.Is(err, user.ErrDuplicate) {
		// A concurrent request created the same rows. One retry observes them.
		logger.Debug("reconcile raced, retrying", map[string]any{
			"provider":         identity.Provider,
			"provider_user_id": identity.ProviderUserID,
			"error":            err.Error(),
		})
		res, err = r.attempt(ctx, identity, policy)
		if errors.Is(err, user.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %v", auth.ErrStorageRace, err)
		}
	}
	if err != nil {
		return nil, err
	}

	if res.shift != nil {
		logger.Warn("email shifted to another user", map[string]any{
			"event":            "email_shift",
			"email":            res.shift.Email,
			"from_user_id":     res.from.ID,
			"from_login":       res.from.Login,
			"to_user_id":       res.user.ID,
			"to_login":         res.user.Login,
			"source":           source.String(),
			"provider_user_id": identity.ProviderUserID,
		})
		r.metrics.EmailShift(identity.Provider)
	}

	return res.user, nil
}

func (r *DBResolver) attempt(
	ctx context.Context,
	identity *auth.Identity,
	policy auth.ConflictPolicy,
) (outcome, error) {
	var res outcome
	err := r.store.InTx(ctx, func(ctx context.Context, tx user.Store) error {
		var err error
		res, err = reconcile(ctx, tx, identity, policy)
		return err
	})
	return res, err
}

func reconcile(
	ctx context.Context,
	tx user.Store,
	identity *auth.Identity,
	policy auth.ConflictPolicy,
) (outcome, error) {

	email := identity.NormalizedEmail()

	// 1. Linked external login
	u, err := tx.FindByExternalLogin(ctx, identity.Provider, identity.ProviderUserID)
	if err == nil {
		return refresh(ctx, tx, u, identity, email, policy)
	}
	if !errors.Is(err, user.ErrNotFound) {
		return outcome{}, err
	}

	// 2. Email owned by someone else
	u = &user.User{
		ID:    user.NewID(),
		Name:  identity.Name,
		Email: email,
	}
	var from *user.User
	if email != "" {
		from, err = claimEmail(ctx, tx, email, u.ID, identity, policy)
		if err != nil {
			return outcome{}, err
		}
	}

	// 3. New user
	u.Login, err = uniqueLogin(ctx, tx, identity)
	if err != nil {
		return outcome{}, err
	}
	link := &user.ExternalLogin{
		Provider:       identity.Provider,
		ProviderUserID: identity.ProviderUserID,
		ProviderLogin:  identity.ProviderLogin,
	}
	if err := tx.Create(ctx, u, link); err != nil {
		return outcome{}, err
	}

	return record(ctx, tx, u, from, email, identity)
}

// refresh brings a linked user up to date with what the provider asserts.
// Nothing is written when nothing changed.
func refresh(
	ctx context.Context,
	tx user.Store,
	u *user.User,
	identity *auth.Identity,
	email string,
	policy auth.ConflictPolicy,
) (outcome, error) {

	var from *user.User
	changed := false

	if email != "" && u.Email != email {
		var err error
		from, err = claimEmail(ctx, tx, email, u.ID, identity, policy)
		if err != nil {
			return outcome{}, err
		}
		u.Email = email
		changed = true
	}
	if identity.Name != "" && u.Name != identity.Name {
		u.Name = identity.Name
		changed = true
	}

	if changed {
		if err := tx.Update(ctx, u); err != nil {
			return outcome{}, err
		}
	}

	for _, l := range u.ExternalLogins {
		if l.Provider != identity.Provider || l.ProviderUserID != identity.ProviderUserID {
			continue
		}
		if identity.ProviderLogin != "" && l.ProviderLogin != identity.ProviderLogin {
			l.ProviderLogin = identity.ProviderLogin
			if err := tx.UpdateExternalLogin(ctx, l); err != nil {
				return outcome{}, err
			}
		}
	}

	return record(ctx, tx, u, from, email, identity)
}

// claimEmail frees email for the user claimantID. Under PolicyWarn an email
// owned by another user is a conflict; under PolicyAllow it is taken away from
// that user, who is returned.
func claimEmail(
	ctx context.Context,
	tx user.Store,
	email, claimantID string,
	identity *auth.Identity,
	policy auth.ConflictPolicy,
) (*user.User, error) {

	owner, err := tx.FindByEmail(ctx, email)
	if errors.Is(err, user.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if owner.ID == claimantID {
		return nil, nil
	}

	if policy != auth.PolicyAllow {
		return nil, &auth.IdentityConflictError{
			Email:         email,
			ExistingLogin: owner.Login,
			Provider:      identity.Provider,
		}
	}

	owner.Email = ""
	if err := tx.Update(ctx, owner); err != nil {
		return nil, err
	}
	return owner, nil
}

// record writes the audit row for an email shift inside the transaction.
func record(
	ctx context.Context,
	tx user.Store,
	u, from *user.User,
	email string,
	identity *auth.Identity,
) (outcome, error) {
	if from == nil {
		return outcome{user: u}, nil
	}

	shift := &user.EmailShift{
		Email:          email,
		FromUserID:     from.ID,
		ToUserID:       u.ID,
		Provider:       identity.Provider,
		ProviderUserID: identity.ProviderUserID,
	}
	if err := tx.RecordEmailShift(ctx, shift); err != nil {
		return outcome{}, err
	}
	return outcome{user: u, shift: shift, from: from}, nil
}

// uniqueLogin derives a login from the identity and appends random characters
// while it is taken.
func uniqueLogin(ctx context.Context, tx user.Store, identity *auth.Identity) (string, error) {
	base := baseLogin(identity)
	login := base

	for i := 0; i < maxLoginAttempts; i++ {
		_, err := tx.FindByLogin(ctx, login)
		if errors.Is(err, user.ErrNotFound) {
			return login, nil
		}
		if err != nil {
			return "", err
		}

		suffix, err := utils.RandomString(3)
		if err != nil {
			return "", err
		}
		login = base + "-" + strings.ToLower(suffix)
	}

	return "", fmt.Errorf("resolver: no free login derived from %q", base)
}

func baseLogin(identity *auth.Identity) string {
	candidates := []string{identity.ProviderLogin}
	if local, _, ok := strings.Cut(identity.NormalizedEmail(), "@"); ok {
		candidates = append(candidates, local)
	}

	for _, c := range candidates {
		if s := sanitizeLogin(c); s != "" {
			return s
		}
	}

	if s := sanitizeLogin(identity.Provider + "-" + identity.ProviderUserID); s != "" {
		return s
	}
	return "user"
}

func sanitizeLogin(s string) string {
	s = loginUnsafe.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-")
	return strings.Trim(s, "-._")
}
