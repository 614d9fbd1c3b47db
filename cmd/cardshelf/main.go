// Command cardshelf はURLカードとコレクションを管理するAPIサーバー。
//
// サブコマンド:
//
//	serve        APIサーバーを起動する（既定）
//	migrate      データベースマイグレーションを適用する
//	cleanup      参照されなくなった公開記録を削除する
//	healthcheck  /health を叩いて終了コードで結果を返す
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/cardshelf/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "cardshelf: %v\n", err)
		os.Exit(1)
	}
}
