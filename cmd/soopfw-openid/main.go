// Command soopfw-openid はOpenIDログインとローカルアカウント連携のサーバー。
//
// サブコマンド: serve（既定）, worker, migrate, healthcheck
package main

import (
	"fmt"
	"os"

	"github.com/prdatur/soopfw-openid/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
