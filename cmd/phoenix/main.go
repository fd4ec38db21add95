// Command phoenix 运行推荐服务及其离线任务。
package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/rushteam/phoenix/logging"
)

func main() {
	// .env 不存在时忽略
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		logging.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
