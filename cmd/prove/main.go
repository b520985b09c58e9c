// Package main generates a solvency proof artifact from a treasury snapshot.
//
// Without -in the fixed demo treasury is proven.
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

	"github.com/privaudit/internal/adapter"
	"github.com/privaudit/internal/config"
	"github.com/privaudit/internal/logging"
	"github.com/privaudit/internal/proof"
	"github.com/privaudit/internal/types"
)

const demoDAO = "0x1234567890123456789012345678901234567890"

func main() {
	var (
		in     = flag.String("in", "", "Treasury snapshot JSON file (default: demo treasury)")
		out    = flag.String("out", "", "Output artifact path (default: ARTIFACT_DIR/solvency-proof.json)")
		scheme = flag.String("scheme", "", "Proof scheme: commitment or groth16 (default: PROOF_SCHEME)")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))

	requested := cfg.Proof.Scheme
	if *scheme != "" {
		requested = *scheme
	}
	selected, err := proof.ParseScheme(requested)
	if err != nil {
		logging.WithError(err).Fatal("Invalid proof scheme")
	}

	snap, err := loadSnapshot(*in)
	if err != nil {
		logging.WithError(err).Fatal("Failed to load treasury snapshot")
	}

	fmt.Println("Treasury Data:")
	fmt.Printf("  Assets: %d items\n", len(snap.Assets))
	fmt.Printf("  Liabilities: %d items\n", len(snap.Liabilities))
	fmt.Printf("  DAO Address: %s\n", snap.DAOAddress)

	registry := proof.NewRegistry(selected, proof.NewCommitmentProver(), proof.NewGroth16Prover(cfg.Proof.KeyDir))
	artifact, err := registry.Generate(context.Background(), selected, proof.NewStatement(snap, time.Now()))
	if err != nil {
		logging.WithError(err).Fatal("Proof generation failed")
	}

	path := *out
	if path == "" {
		path = filepath.Join(cfg.Proof.ArtifactDir, "solvency-proof.json")
	}
	if err := writeJSON(path, artifact); err != nil {
		logging.WithError(err).Fatal("Failed to write proof artifact")
	}

	fmt.Println("Proof generated successfully")
	fmt.Printf("  Saved to: %s\n", path)
	fmt.Printf("  Scheme: %s\n", artifact.Scheme)
	fmt.Printf("  Proof hash: %s\n", artifact.ProofHash)
	fmt.Printf("  Proving time: %dms\n", artifact.Metadata.ProvingTime)
	fmt.Printf("  Solvent: %v\n", artifact.Metadata.IsSolvent)
}

func loadSnapshot(path string) (*types.TreasurySnapshot, error) {
	if path == "" {
		return adapter.DemoSnapshot(demoDAO, types.SourceFallbackDemo, time.Now()), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap types.TreasurySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &snap, nil
}

func writeJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
