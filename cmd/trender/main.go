package main

import (
	"trender/cmd/cmd"
	"trender/internal/logger"
)

func main() {
	logger.Init()
	cmd.Execute()
}
