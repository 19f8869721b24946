package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresAccountRepo はPostgreSQLを使用したアカウント台帳リポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

// Create はアカウントを作成する。
func (r *PostgresAccountRepo) Create(ctx context.Context, id, email string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, email) VALUES ($1, $2)`,
		id, email,
	)
	if isUniqueViolation(err, "accounts_email_key") {
		return emailAlreadyExists(err)
	}
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// FindIDByEmail はemailでアカウントIDを検索する。見つからない場合は空文字を返す。
func (r *PostgresAccountRepo) FindIDByEmail(ctx context.Context, email string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM accounts WHERE email = $1`,
		email,
	).Scan(&id)

	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find account by email: %w", err)
	}
	return id, nil
}

// Exists は指定IDのアカウントが存在するかを返す。
func (r *PostgresAccountRepo) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`,
		id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check account existence: %w", err)
	}
	return exists, nil
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
