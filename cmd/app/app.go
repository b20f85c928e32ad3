package main

import (
	"os"

	"github.com/DRSN-tech/template-matcher/internal/app"
	config "github.com/DRSN-tech/template-matcher/internal/cfg"
	"github.com/DRSN-tech/template-matcher/pkg/logger"
)

const serviceName = "template-matcher"

func main() {
	log := logger.NewSlogLogger().With("service", serviceName)

	cfg, err := config.Load(log)
	if err != nil {
		log.Errorf(err, "failed to load config")
		os.Exit(1)
	}
	log.Infof("starting: threshold=%.2f input_size=%d", cfg.Matcher.Threshold, cfg.Matcher.InputSize)

	application, err := app.NewApp(cfg, log)
	if err != nil {
		log.Errorf(err, "failed to initialize app")
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		log.Errorf(err, "application stopped with error")
		os.Exit(1)
	}
}
