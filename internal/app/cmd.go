package app

// Command はsoopfw-openidのサブコマンドを表す。
type Command string

const (
	// CommandServe はOpenIDログインAPIを起動する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションを削除するワーカーを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はアカウントストアのスキーマ(PostgreSQL)またはインデックス(MongoDB)を作成する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のサーバーの/healthを確認する。
	// distrolessイメージのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

var commandDescriptions = map[Command]string{
	CommandServe:       "OpenID login API",
	CommandWorker:      "expired session cleanup",
	CommandMigrate:     "account store migration",
	CommandHealthcheck: "container health check",
}

// Description は起動ログに出す説明を返す。
func (c Command) Description() string {
	if d, ok := commandDescriptions[c]; ok {
		return d
	}
	return commandDescriptions[CommandServe]
}

// ParseCommand はos.Args[1:]の先頭からサブコマンドを決める。
// 空や未知の値はCommandServeとして扱う。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	cmd := Command(args[0])
	if _, ok := commandDescriptions[cmd]; ok {
		return cmd
	}
	return CommandServe
}
