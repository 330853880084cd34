package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/user"
)

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db *sqlx.DB) *userRepository {
	return &userRepository{db: db}
}

// dbUser mirrors the app_user table.
type dbUser struct {
	ID           string         `db:"id"`
	OrgID        string         `db:"org_id"`
	Name         string         `db:"name"`
	Username     sql.NullString `db:"username"`
	Email        sql.NullString `db:"email"`
	IsActive     bool           `db:"is_active"`
	Roles        pq.StringArray `db:"roles"`
	PasswordHash []byte         `db:"password_hash"`
	CreatedAt    sql.NullTime   `db:"created_at"`
	UpdatedAt    sql.NullTime   `db:"updated_at"`
	LastLogin    sql.NullTime   `db:"last_login"`
}

func (du dbUser) unload() user.User {
	usr := user.User{
		ID:           du.ID,
		OrgID:        du.OrgID,
		Name:         du.Name,
		Username:     du.Username.String,
		Email:        du.Email.String,
		IsActive:     &du.IsActive,
		Roles:        du.Roles,
		PasswordHash: du.PasswordHash,
	}
	if du.CreatedAt.Valid {
		usr.CreatedAt = du.CreatedAt.Time
	}
	if du.UpdatedAt.Valid {
		usr.UpdatedAt = du.UpdatedAt.Time
	}
	if du.LastLogin.Valid {
		usr.LastLogin = du.LastLogin.Time
	}
	return usr
}

func trapUserNoRowsErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return user.ErrNotFound
	}
	return err
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	if usr.Email != "" {
		if _, err := repo.GetUserByEmail(ctx, usr.Email); err == nil {
			return user.User{}, user.ErrEmailExists
		} else if !errors.Is(err, user.ErrNotFound) {
			return user.User{}, err
		}
	}

	usr.ID = uuid.New().String()
	isActive := usr.IsActive == nil || *usr.IsActive

	const q = `
INSERT INTO app_user (id, org_id, name, username, email, is_active, roles, password_hash, created_at, updated_at)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $10)`
	_, err := repo.db.ExecContext(ctx, q,
		usr.ID, usr.OrgID, usr.Name, usr.Username, usr.Email, isActive,
		pq.StringArray(usr.Roles), usr.PasswordHash, usr.CreatedAt, usr.UpdatedAt,
	)
	if err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	usr.IsActive = &isActive
	return usr, nil
}

func (repo *userRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	var du dbUser
	const q = `SELECT * FROM app_user WHERE id = $1`
	if err := repo.db.GetContext(ctx, &du, q, id); err != nil {
		return user.User{}, trapUserNoRowsErr(err)
	}
	return du.unload(), nil
}

func (repo *userRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	var du dbUser
	const q = `SELECT * FROM app_user WHERE lower(email) = lower($1)`
	if err := repo.db.GetContext(ctx, &du, q, email); err != nil {
		return user.User{}, trapUserNoRowsErr(err)
	}
	return du.unload(), nil
}

func (repo *userRepository) QueryOrgStudentIDs(ctx context.Context, orgID string) ([]string, error) {
	var ids []string
	const q = `
SELECT id FROM app_user
WHERE org_id = $1
  AND is_active
  AND EXISTS (SELECT 1 FROM unnest(roles) role WHERE role LIKE $2)`
	if err := repo.db.SelectContext(ctx, &ids, q, orgID, user.RoleStudent+"%"); err != nil {
		return nil, errors.Wrap(err, "querying student ids")
	}
	return ids, nil
}

func (repo *userRepository) QueryUsersByID(ctx context.Context, ids ...string) ([]user.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var dus []dbUser
	const q = `SELECT * FROM app_user WHERE id = ANY($1)`
	if err := repo.db.SelectContext(ctx, &dus, q, pq.Array(ids)); err != nil {
		return nil, errors.Wrap(err, "querying users by id")
	}

	usrs := make([]user.User, len(dus))
	for i, du := range dus {
		usrs[i] = du.unload()
	}
	return usrs, nil
}

func (repo *userRepository) QueryOrgAdmins(ctx context.Context, orgID string) ([]user.User, error) {
	var dus []dbUser
	const q = `
SELECT * FROM app_user
WHERE org_id = $1
  AND is_active
  AND EXISTS (SELECT 1 FROM unnest(roles) role WHERE role LIKE $2)`
	if err := repo.db.SelectContext(ctx, &dus, q, orgID, user.RoleAdmin+"%"); err != nil {
		return nil, errors.Wrap(err, "querying org admins")
	}

	usrs := make([]user.User, len(dus))
	for i, du := range dus {
		usrs[i] = du.unload()
	}
	return usrs, nil
}
