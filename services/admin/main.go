package main

import (
	"os"

	"github.com/dealhub/internal/logger"
	"github.com/dealhub/services/admin/cmd"
)

func main() {
	logger.SetPrefix("admin")
	if err := cmd.Root().Execute(); err != nil {
		os.Exit(1)
	}
}
