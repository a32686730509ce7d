package main

import (
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"

	"tracktally/config"
	"tracktally/core/appbootstrap"
	"tracktally/core/utils"
)

func main() {
	configPath := flag.String("config", "", "path to yaml config file (optional)")
	flag.Parse()

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			log.Fatalf("load .env: %v", err)
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := utils.NewLogger()
	if err := appbootstrap.Run(cfg, logger); err != nil {
		logger.Errorf("server exited: %v", err)
		os.Exit(1)
	}
}
