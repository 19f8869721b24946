package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandCreateAccount はアカウント台帳にアカウントを作成する。
	// 引数: create-account <email>
	CommandCreateAccount Command = "create-account"
	// CommandRevoke はアカウントの既存セッションをすべて失効させる。
	// 引数: revoke <account-id>
	CommandRevoke Command = "revoke"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	case "create-account":
		return CommandCreateAccount
	case "revoke":
		return CommandRevoke
	default:
		return CommandServe
	}
}

// commandOperand はサブコマンドの第1引数を返す。
func commandOperand(args []string) string {
	if len(args) < 2 {
		return ""
	}
	return args[1]
}
