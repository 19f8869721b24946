// Command sessionauth はセッション認証APIサーバーと管理サブコマンドを提供する。
//
//	sessionauth [serve]                  APIサーバーを起動する
//	sessionauth migrate                  マイグレーションを適用する
//	sessionauth healthcheck              /health を確認する（Dockerヘルスチェック用）
//	sessionauth create-account <email>   アカウントを作成しIDを出力する
//	sessionauth revoke <account-id>      アカウントのセッションを失効させる
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/hitoshi/sessionauth/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		slog.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
