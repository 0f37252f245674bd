package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe は認証APIとアクセスガードを提供するHTTPサーバー。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッション・確認トークンの定期削除。
	CommandWorker Command = "worker"
	// CommandMigrate はスキーマを最新まで適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中サーバーの /health を確認する（distrolessイメージ用）。
	CommandHealthcheck Command = "healthcheck"
)

var knownCommands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand は最初の引数からサブコマンドを決定する。
// 引数なし・未知のコマンドはserveとして扱う。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := knownCommands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}

