package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"identity-service/internal/db"
)

// BunStore implements Store on Postgres or SQLite.
type BunStore struct {
	db   bun.IDB
	lock bool
	now  func() time.Time
}

func NewBunStore(bdb *bun.DB) *BunStore {
	return &BunStore{
		db:  bdb,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *BunStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	bdb, ok := s.db.(*bun.DB)
	if !ok {
		// already inside a transaction
		return fn(ctx, s)
	}

	return bdb.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &BunStore{
			db:   tx,
			lock: db.IsPostgres(bdb),
			now:  s.now,
		})
	})
}

func (s *BunStore) selectUser(u *User) *bun.SelectQuery {
	q := s.db.NewSelect().
		Model(u).
		Relation("ExternalLogins", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("created_at")
		})
	if s.lock {
		q = q.For("UPDATE")
	}
	return q
}

func (s *BunStore) FindByID(ctx context.Context, id string) (*User, error) {
	u := new(User)
	err := s.selectUser(u).Where("u.id = ?", id).Scan(ctx)
	return found(u, err, "find user by id")
}

func (s *BunStore) FindByExternalLogin(ctx context.Context, provider, providerUserID string) (*User, error) {
	u := new(User)
	err := s.selectUser(u).
		Where("u.id IN (SELECT user_id FROM identities WHERE provider = ? AND provider_user_id = ?)",
			provider, providerUserID).
		Scan(ctx)
	return found(u, err, "find user by external login")
}

func (s *BunStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	if email == "" {
		return nil, ErrNotFound
	}
	u := new(User)
	err := s.selectUser(u).Where("u.email = ?", email).Scan(ctx)
	return found(u, err, "find user by email")
}

func (s *BunStore) FindByLogin(ctx context.Context, login string) (*User, error) {
	u := new(User)
	err := s.selectUser(u).Where("u.login = ?", login).Scan(ctx)
	return found(u, err, "find user by login")
}

func (s *BunStore) Create(ctx context.Context, u *User, link *ExternalLogin) error {
	now := s.now()
	if u.ID == "" {
		u.ID = NewID()
	}
	u.CreatedAt, u.UpdatedAt = now, now

	if _, err := s.db.NewInsert().Model(u).Exec(ctx); err != nil {
		return translate(err, "create user")
	}

	if link.ID == "" {
		link.ID = NewID()
	}
	link.UserID = u.ID
	link.CreatedAt, link.UpdatedAt = now, now

	if _, err := s.db.NewInsert().Model(link).Exec(ctx); err != nil {
		return translate(err, "link external login")
	}

	u.ExternalLogins = append(u.ExternalLogins, link)
	return nil
}

func (s *BunStore) Update(ctx context.Context, u *User) error {
	u.UpdatedAt = s.now()
	res, err := s.db.NewUpdate().
		Model(u).
		Column("login", "name", "email", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return translate(err, "update user")
	}
	return affected(res, "update user", u.ID)
}

func (s *BunStore) UpdateExternalLogin(ctx context.Context, l *ExternalLogin) error {
	l.UpdatedAt = s.now()
	res, err := s.db.NewUpdate().
		Model(l).
		Column("provider_login", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return translate(err, "update external login")
	}
	return affected(res, "update external login", l.ID)
}

func (s *BunStore) RecordEmailShift(ctx context.Context, shift *EmailShift) error {
	if shift.ID == "" {
		shift.ID = NewID()
	}
	shift.CreatedAt = s.now()
	if _, err := s.db.NewInsert().Model(shift).Exec(ctx); err != nil {
		return translate(err, "record email shift")
	}
	return nil
}

func (s *BunStore) EmailShifts(ctx context.Context, email string) ([]EmailShift, error) {
	var shifts []EmailShift
	err := s.db.NewSelect().
		Model(&shifts).
		Where("es.email = ?", email).
		Order("es.created_at", "es.id").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list email shifts: %w", err)
	}
	return shifts, nil
}

func found(u *User, err error, op string) (*User, error) {
	if err == nil {
		return u, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return nil, fmt.Errorf("%s: %w", op, err)
}

func translate(err error, op string) error {
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrDuplicate, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func affected(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, id, ErrNotFound)
	}
	return nil
}
