package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// User is a registered caller, keyed by phone number for telephony lookup.
type User struct {
	ID        string
	Name      string
	Phone     string
	Email     string
	CreatedAt time.Time
}

// ErrDuplicatePhone is returned when creating a user whose phone number is
// already registered.
var ErrDuplicatePhone = errors.New("store: phone number already registered")

// UserRepo persists users.
type UserRepo struct {
	db DB
}

// Create inserts a new user. A missing ID is generated. Returns
// [ErrDuplicatePhone] when the phone number is already taken.
func (r *UserRepo) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	const query = `
		INSERT INTO users (id, name, phone, email)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query, u.ID, u.Name, u.Phone, u.Email).Scan(&u.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("store: create user %q: %w", u.Phone, ErrDuplicatePhone)
		}
		return fmt.Errorf("store: create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by id. Returns (nil, nil) when no such user exists.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*User, error) {
	const query = `
		SELECT id, name, phone, email, created_at
		FROM users
		WHERE id = $1`
	return r.scanOne(ctx, query, id)
}

// GetByPhone retrieves a user by phone number. Returns (nil, nil) when no
// such user exists.
func (r *UserRepo) GetByPhone(ctx context.Context, phone string) (*User, error) {
	const query = `
		SELECT id, name, phone, email, created_at
		FROM users
		WHERE phone = $1`
	return r.scanOne(ctx, query, phone)
}

// GetOrCreate returns the user registered under phone, creating one with the
// given name when none exists. The boolean reports whether a new user was
// created.
func (r *UserRepo) GetOrCreate(ctx context.Context, phone, name string) (*User, bool, error) {
	u, err := r.GetByPhone(ctx, phone)
	if err != nil {
		return nil, false, err
	}
	if u != nil {
		return u, false, nil
	}

	u = &User{Name: name, Phone: phone}
	if err := r.Create(ctx, u); err != nil {
		// Lost a race with a concurrent create for the same number.
		if errors.Is(err, ErrDuplicatePhone) {
			existing, gerr := r.GetByPhone(ctx, phone)
			if gerr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}
	return u, true, nil
}

// Update replaces the mutable fields of an existing user.
func (r *UserRepo) Update(ctx context.Context, u *User) error {
	const query = `
		UPDATE users SET name = $2, phone = $3, email = $4
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, u.ID, u.Name, u.Phone, u.Email)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("store: update user %q: %w", u.ID, ErrDuplicatePhone)
		}
		return fmt.Errorf("store: update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: user %q not found", u.ID)
	}
	return nil
}

// Delete removes a user and, via cascade, their tasks. Deleting a
// non-existent user is not an error.
func (r *UserRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
		return fmt.Errorf("store: delete user %q: %w", id, err)
	}
	return nil
}

func (r *UserRepo) scanOne(ctx context.Context, query string, arg any) (*User, error) {
	var u User
	err := r.db.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Name, &u.Phone, &u.Email, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	return &u, nil
}
