// rcmock runs a mock control plane serving a YAML state file. Edit the file
// between polls to exercise adds, updates and removes against a live client.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"rcsync/internal/mockplane"
)

const apiKeyEnv = "RC_API_KEY"

func main() {
	port := flag.Int("port", 8126, "listen port")
	statePath := flag.String("state", "rcmock.yaml", "path to the served state file")
	flag.Parse()

	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Info("The .env file not found.")
	}

	if _, err := os.Stat(*statePath); err != nil {
		log.Fatalf("state file not readable: %v", err)
	}

	handler := mockplane.NewHandler(*statePath, os.Getenv(apiKeyEnv))
	stopCh, doneCh := mockplane.RunServerInterruptible(*port, handler)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sig:
		log.Info("shutting down")
		close(stopCh)
		if err := <-doneCh; err != nil {
			log.WithError(err).Error("server exited with error")
		}
	case err := <-doneCh:
		if err != nil {
			log.WithError(err).Fatal("server failed")
		}
	}
}
