// Package model はドメインモデルを定義する。
package model

// Account はサインイン可能なアカウントを表す。
// IDはIdentity Providerが払い出す不透明な文字列で、作成後は変更されない。
type Account struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Profile はProfile Storeに保存されるプロフィールドキュメント。
// アカウントIDはドキュメントのキーであり、本体には含まない。
type Profile struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// WithID はプロフィールにアカウントIDをマージしたAccountを返す。
func (p Profile) WithID(id string) *Account {
	return &Account{
		ID:    id,
		Name:  p.Name,
		Email: p.Email,
	}
}
