// Package main verifies a solvency proof artifact. It exits 1 when the
// artifact does not verify.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/privaudit/internal/config"
	"github.com/privaudit/internal/logging"
	"github.com/privaudit/internal/proof"
	"github.com/privaudit/internal/types"
)

func main() {
	in := flag.String("in", "", "Proof artifact path (default: ARTIFACT_DIR/solvency-proof.json)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))

	path := *in
	if path == "" {
		path = filepath.Join(cfg.Proof.ArtifactDir, "solvency-proof.json")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logging.WithError(err).Fatal("Failed to read proof artifact")
	}
	var artifact types.ProofArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		logging.WithError(err).Fatal("Failed to parse proof artifact")
	}

	fmt.Println("Proof Details:")
	fmt.Printf("  DAO Address: %s\n", artifact.DAOAddress)
	fmt.Printf("  Timestamp: %s\n", time.UnixMilli(artifact.Timestamp).UTC().Format(time.RFC3339))
	fmt.Printf("  Scheme: %s\n", artifact.Scheme)
	fmt.Printf("  Circuit Version: %s\n", artifact.Metadata.CircuitVersion)

	registry := proof.NewRegistry(types.SchemeCommitment, proof.NewCommitmentProver(), proof.NewGroth16Prover(cfg.Proof.KeyDir))
	result := registry.Verify(context.Background(), &artifact)

	if !result.IsValid {
		fmt.Println("Proof verification failed")
		if result.Error != "" {
			fmt.Printf("  Error: %s\n", result.Error)
		}
		os.Exit(1)
	}

	fmt.Println("Proof verification successful")
	fmt.Printf("  Verification time: %dms\n", result.VerificationTime)
	fmt.Printf("  Solvent: %v\n", artifact.Metadata.IsSolvent)
}
