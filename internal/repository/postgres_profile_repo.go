package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hitoshi/sessionauth/internal/model"
)

// PostgresProfileRepo はJSONBドキュメントとしてプロフィールを保存するリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// Get は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) Get(ctx context.Context, id string) (*model.Profile, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT data FROM profiles WHERE id = $1`,
		id,
	).Scan(&data)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}

	profile := &model.Profile{}
	if err := json.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile document: %w", err)
	}
	return profile, nil
}

// Put はプロフィールを新規作成する。
// ON CONFLICT (id) DO NOTHINGにより、同時サインアップでも既存ドキュメントは上書きされない。
func (r *PostgresProfileRepo) Put(ctx context.Context, id string, profile model.Profile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile document: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (id, data) VALUES ($1, $2)
		 ON CONFLICT (id) DO NOTHING`,
		id, data,
	)
	if isUniqueViolation(err, "profiles_email_key") {
		return emailAlreadyExists(err)
	}
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrProfileExists
	}
	return nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
