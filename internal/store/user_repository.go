/**
 * @description
 * This file implements the data access layer for user accounts: creation,
 * lookup by credentials, profile updates, deactivation and the audience
 * resolution used when announcements fan out.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kousaila502/e-social-assistance/internal/domain"
)

const userColumns = `id, email, password_hash, full_name, phone, role, wilaya, household_size,
	monthly_income, is_active, last_login_at, created_at, updated_at`

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.FullName,
		&u.Phone,
		&u.Role,
		&u.Wilaya,
		&u.HouseholdSize,
		&u.MonthlyIncome,
		&u.IsActive,
		&u.LastLoginAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new user row. Emails are unique; a duplicate maps to
// ErrDuplicateEmail.
func (r *PostgresRepository) CreateUser(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, email, password_hash, full_name, phone, role, wilaya, household_size, monthly_income, is_active)
		VALUES ($1, lower(btrim($2)), $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.FullName,
		user.Phone,
		user.Role,
		user.Wilaya,
		user.HouseholdSize,
		user.MonthlyIncome,
		user.IsActive,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return ErrDuplicateEmail
		}
		return err
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	return nil
}

// FindUserByID retrieves a user from the database by their ID.
func (r *PostgresRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// FindUserByEmail retrieves a user by their (case-insensitive) email.
func (r *PostgresRepository) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = lower(btrim($1))`, email)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// UpdateUserProfile applies the non-nil fields of req and returns the
// updated row.
func (r *PostgresRepository) UpdateUserProfile(ctx context.Context, userID uuid.UUID, req domain.UpdateUserRequest) (*domain.User, error) {
	query := `
		UPDATE users
		SET full_name = COALESCE($2, full_name),
			phone = COALESCE($3, phone),
			wilaya = COALESCE($4, wilaya),
			household_size = COALESCE($5, household_size),
			monthly_income = COALESCE($6, monthly_income),
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns
	row := r.db.QueryRow(ctx, query, userID, req.FullName, req.Phone, req.Wilaya, req.HouseholdSize, req.MonthlyIncome)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// SetUserActive toggles the deactivation flag.
func (r *PostgresRepository) SetUserActive(ctx context.Context, userID uuid.UUID, active bool) error {
	result, err := r.db.Exec(ctx, `UPDATE users SET is_active = $1, updated_at = NOW() WHERE id = $2`, active, userID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// RecordUserLogin stamps last_login_at after a successful authentication.
func (r *PostgresRepository) RecordUserLogin(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET last_login_at = NOW() WHERE id = $1`, userID)
	return err
}

// ListUsers returns a page of users plus the unpaged total.
func (r *PostgresRepository) ListUsers(ctx context.Context, opts domain.UserListOptions) ([]domain.User, int64, error) {
	query := `SELECT ` + userColumns + `, COUNT(*) OVER() AS total_count FROM users WHERE 1=1`
	args := []interface{}{}
	idx := 1

	if opts.Role != "" {
		query += fmt.Sprintf(" AND role = $%d", idx)
		args = append(args, opts.Role)
		idx++
	}
	if opts.Wilaya != "" {
		query += fmt.Sprintf(" AND wilaya = $%d", idx)
		args = append(args, opts.Wilaya)
		idx++
	}
	if s := strings.TrimSpace(opts.Search); s != "" {
		query += fmt.Sprintf(" AND (full_name ILIKE $%d OR email ILIKE $%d)", idx, idx)
		args = append(args, "%"+s+"%")
		idx++
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		users []domain.User
		total int64
	)
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(
			&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.Phone, &u.Role, &u.Wilaya,
			&u.HouseholdSize, &u.MonthlyIncome, &u.IsActive, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt,
			&total,
		); err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

// FindAudienceRecipientIDs resolves the active users an announcement
// audience targets.
func (r *PostgresRepository) FindAudienceRecipientIDs(ctx context.Context, audience domain.Audience, wilaya *string, role *domain.Role) ([]uuid.UUID, error) {
	query := `SELECT id FROM users WHERE is_active = TRUE`
	args := []interface{}{}

	switch audience {
	case domain.AudienceWilaya:
		if wilaya == nil {
			return nil, fmt.Errorf("wilaya audience requires a wilaya value")
		}
		query += ` AND wilaya = $1`
		args = append(args, *wilaya)
	case domain.AudienceRole:
		if role == nil {
			return nil, fmt.Errorf("role audience requires a role value")
		}
		query += ` AND role = $1`
		args = append(args, *role)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
