package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/nkoval/studio-booking/internal/model"
)

// ErrUserNotFound indicates no account exists for the lookup key.
var ErrUserNotFound = errors.New("user not found")

// ErrEmailTaken is returned on registration when the email is in use.
var ErrEmailTaken = errors.New("email already registered")

// UserRepo manages account rows.
type UserRepo struct {
	db *sql.DB
}

// NewUserRepo constructs a UserRepo bound to the given database.
func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{db: db} }

// Create inserts a new account.  The unique key on email surfaces as
// ErrEmailTaken.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `INSERT INTO users (email, password_hash, first_name, last_name, phone, role)
	           VALUES (?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Phone, u.Role)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrEmailTaken
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = uint64(id)
	return nil
}

// GetByEmail loads an account by its email address.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.get(ctx, `SELECT id, email, password_hash, first_name, last_name, phone, role, created_at
	                   FROM users WHERE email = ?`, email)
}

// GetByID loads an account by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	return r.get(ctx, `SELECT id, email, password_hash, first_name, last_name, phone, role, created_at
	                   FROM users WHERE id = ?`, id)
}

func (r *UserRepo) get(ctx context.Context, q string, arg interface{}) (*model.User, error) {
	var u model.User
	err := r.db.QueryRowContext(ctx, q, arg).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Phone, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// isDuplicateKey matches MySQL error 1062 without importing the driver
// types everywhere.
func isDuplicateKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Error 1062")
}
