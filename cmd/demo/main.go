// Package main runs the full audit pipeline over a Midnight session and
// writes the report, its PDF rendering and the asset table to disk.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/privaudit/internal/circuitbreaker"
	"github.com/privaudit/internal/config"
	"github.com/privaudit/internal/logging"
	"github.com/privaudit/internal/metrics"
	"github.com/privaudit/internal/midnight"
	"github.com/privaudit/internal/proof"
	"github.com/privaudit/internal/report"
	"github.com/privaudit/internal/service"
	"github.com/privaudit/internal/storage"
)

// demoOutput is written to demo-report.json
type demoOutput struct {
	ReportData    interface{} `json:"reportData"`
	ProofArtifact interface{} `json:"proofArtifact"`
	Verification  interface{} `json:"verificationResult"`
	TreasuryData  interface{} `json:"treasuryData"`
	Metadata      interface{} `json:"metadata"`
	MidnightTx    string      `json:"midnightTx"`
}

func main() {
	var (
		dao     = flag.String("dao", "0x1234567890123456789012345678901234567890", "DAO address")
		network = flag.String("network", "testnet", "Midnight network")
		scheme  = flag.String("scheme", "", "Proof scheme: commitment or groth16 (default: PROOF_SCHEME)")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := run(ctx, cfg, *dao, *network, *scheme); err != nil {
		logger.WithError(err).Error("Demo failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, dao, network, scheme string) error {
	defaultScheme, err := proof.ParseScheme(cfg.Proof.Scheme)
	if err != nil {
		return err
	}
	registry := proof.NewRegistry(defaultScheme, proof.NewCommitmentProver(), proof.NewGroth16Prover(cfg.Proof.KeyDir))

	svcCfg := service.ReportServiceConfig{
		Calculator: metrics.NewCalculator(cfg.Metrics.BurnRateFraction),
		Proofs:     registry,
		AI:         cfg.AI,
		Breakers:   circuitbreaker.NewManager(),
	}
	if cfg.Publish.Enabled() {
		svcCfg.Publisher = storage.NewPublisher(cfg.Publish)
	}
	reports := service.NewReportService(svcCfg)

	fmt.Println("Step 1: Connecting to Midnight...")
	session, err := midnight.Connect(ctx, midnight.Config{
		Network:    network,
		DAOAddress: dao,
		Verifier:   registry,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	fmt.Println("Step 2: Fetching shielded treasury...")
	snap, err := session.FetchShieldedSnapshot(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("  Assets: %d items, liabilities: %d items\n", len(snap.Assets), len(snap.Liabilities))
	fmt.Printf("  Total value: $%.2f\n", snap.TotalValueUSD)

	fmt.Println("Step 3: Generating proof and report...")
	result, err := reports.GenerateFromSnapshot(ctx, snap, service.GenerateOptions{ProofScheme: scheme})
	if err != nil {
		return err
	}
	fmt.Printf("  Scheme: %s, proof hash: %s\n", result.Artifact.Scheme, result.Artifact.ProofHash)
	fmt.Printf("  Verified: %v, solvent: %v\n", result.Verification.IsValid, result.Artifact.Metadata.IsSolvent)
	fmt.Printf("  Recommendations: %d (%s)\n", len(result.Report.Recommendations), result.Report.RecommendationSource)

	fmt.Println("Step 4: Submitting proof to Midnight...")
	txHash, err := session.SubmitProof(ctx, result.Artifact)
	if err != nil {
		return err
	}
	fmt.Printf("  Transaction: %s\n", txHash)

	fmt.Println("Step 5: Writing artifacts...")
	dir := cfg.Proof.ArtifactDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	out, err := json.MarshalIndent(demoOutput{
		ReportData:    result.Report,
		ProofArtifact: result.Artifact,
		Verification:  result.Verification,
		TreasuryData:  result.Snapshot,
		Metadata:      result.Metadata,
		MidnightTx:    txHash,
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "demo-report.json"), out, 0o644); err != nil {
		return err
	}

	pdf, err := report.RenderPDF(report.PDFInput{
		Report:       result.Report,
		Snapshot:     result.Snapshot,
		Verification: &result.Verification,
		GeneratedAt:  time.Now(),
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "demo-report.pdf"), pdf, 0o644); err != nil {
		return err
	}

	var csvBuf bytes.Buffer
	if err := report.WriteAssetsCSV(&csvBuf, result.Snapshot.Assets); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "demo-assets.csv"), csvBuf.Bytes(), 0o644); err != nil {
		return err
	}

	if refs := result.Metadata.Storage; refs != nil {
		fmt.Printf("  IPFS: %s\n", refs.IPFSHash)
		fmt.Printf("  Arweave: %s\n", refs.ArweaveTxID)
	}
	fmt.Printf("Demo complete, artifacts in %s\n", dir)
	return nil
}
