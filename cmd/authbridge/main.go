// Command authbridge はOAuthログインと管理画面向けセッションを仲介するサーバー。
//
//	authbridge [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/authbridge/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "authbridge: %v\n", err)
		os.Exit(1)
	}
}
