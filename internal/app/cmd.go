package app

// Command はgradebookバイナリのサブコマンド。
type Command string

const (
	// CommandServe はHTTP APIを起動する。AUTO_MIGRATEが有効ならスキーマも適用する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションを定期的に削除するワーカーを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はusers・sessionsテーブルのマイグレーションだけを実行して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のサーバーの/healthを叩いて終了コードで結果を返す。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand は先頭の引数をサブコマンドとして解釈する。
// 2つ目以降の引数は無視する。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch cmd := Command(args[0]); cmd {
	case CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck:
		return cmd
	default:
		// 未知のサブコマンドはコンテナのCMD上書きミスとみなしてAPIを起動する
		return CommandServe
	}
}
