// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/sessionauth/internal/model"
)

// ErrProfileExists は同一アカウントIDのプロフィールが既に存在する場合に返る。
var ErrProfileExists = errors.New("profile already exists")

// AccountRepository はIdentity Providerが管理するアカウント台帳の永続化インターフェース。
type AccountRepository interface {
	// Create はアカウントを作成する。
	// emailが既に使われている場合はコードauth/email-already-existsのAuthErrorを返す。
	Create(ctx context.Context, id, email string) error

	// FindIDByEmail はemailでアカウントIDを検索する。見つからない場合は空文字を返す。
	FindIDByEmail(ctx context.Context, email string) (string, error)

	// Exists は指定IDのアカウントが存在するかを返す。
	Exists(ctx context.Context, id string) (bool, error)
}

// ProfileRepository はアカウントIDをキーとするプロフィールドキュメントの永続化インターフェース。
type ProfileRepository interface {
	// Get は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	Get(ctx context.Context, id string) (*model.Profile, error)

	// Put はプロフィールを新規作成する。既存ドキュメントは上書きしない。
	// 同一IDが存在する場合はErrProfileExists、emailが重複する場合は
	// コードauth/email-already-existsのAuthErrorを返す。
	Put(ctx context.Context, id string, profile model.Profile) error
}
