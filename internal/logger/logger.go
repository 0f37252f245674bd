// Package logger はslogによるJSON構造化ログの初期化を提供する。
package logger

import (
	"io"
	"log/slog"
	"os"
)

// level はプロセス全体のログレベル。SetVerboseで実行中に切り替える。
var level = new(slog.LevelVar)

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// ログレベルはパッケージ共有のLevelVarに従う。
func Setup(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// wがnilの場合はos.Stdoutに出力する。
func SetupDefault(w io.Writer, verbose bool) {
	if w == nil {
		w = os.Stdout
	}
	SetVerbose(verbose)
	slog.SetDefault(Setup(w))
}

// SetVerbose はAUTH_VERBOSE相当の詳細ログを有効/無効にする。
// 有効時はDEBUGレベルの認証診断ログ（state検証、プロバイダー応答ステータスなど）を出力する。
func SetVerbose(verbose bool) {
	if verbose {
		level.Set(slog.LevelDebug)
		return
	}
	level.Set(slog.LevelInfo)
}

// Verbose は詳細ログが有効かを返す。
func Verbose() bool {
	return level.Level() <= slog.LevelDebug
}
