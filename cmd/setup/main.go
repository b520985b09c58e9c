// Package main runs the trusted setup for the solvency circuit and writes
// the proving and verifying keys used by the groth16 scheme.
package main

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/privaudit/internal/config"
	"github.com/privaudit/internal/logging"
	"github.com/privaudit/internal/proof"
)

func main() {
	keyDir := flag.String("keys", "", "Directory for solvency.pk and solvency.vk (default PROOF_KEY_DIR)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))

	dir := cfg.Proof.KeyDir
	if *keyDir != "" {
		dir = *keyDir
	}

	start := time.Now()
	keys, err := proof.SetupSolvencyKeys()
	if err != nil {
		logging.WithError(err).Fatal("Circuit setup failed")
	}
	if err := keys.Save(dir); err != nil {
		logging.WithError(err).Fatal("Failed to write circuit keys")
	}
	if err := os.MkdirAll(cfg.Proof.ArtifactDir, 0o755); err != nil {
		logging.WithError(err).Fatal("Failed to create artifact directory")
	}

	logging.WithFields(logging.Fields{
		"keyDir":      dir,
		"artifactDir": cfg.Proof.ArtifactDir,
		"duration":    time.Since(start).String(),
	}).Info("Solvency circuit setup complete")
}
