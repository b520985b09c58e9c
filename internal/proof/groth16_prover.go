package proof

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/shopspring/decimal"

	"github.com/privaudit/internal/logging"
	"github.com/privaudit/internal/types"
)

const (
	groth16CircuitVersion = "solvency-bn254-1.1.0"

	// ProvingKeyFile and VerifyingKeyFile are the key file names inside the key directory
	ProvingKeyFile   = "solvency.pk"
	VerifyingKeyFile = "solvency.vk"
)

// CircuitKeys holds the compiled circuit and its Groth16 keys
type CircuitKeys struct {
	CCS          constraint.ConstraintSystem
	ProvingKey   groth16.ProvingKey
	VerifyingKey groth16.VerifyingKey
}

// SetupSolvencyKeys compiles the circuit and runs a single-party Groth16
// setup. The resulting keys are fine for demos and tests only.
func SetupSolvencyKeys() (*CircuitKeys, error) {
	ccs, err := CompileSolvencyCircuit()
	if err != nil {
		return nil, fmt.Errorf("circuit compilation failed: %w", err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("groth16 setup failed: %w", err)
	}
	return &CircuitKeys{CCS: ccs, ProvingKey: pk, VerifyingKey: vk}, nil
}

// Save writes both keys into dir, creating it if needed
func (k *CircuitKeys) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := writeKey(filepath.Join(dir, ProvingKeyFile), k.ProvingKey); err != nil {
		return err
	}
	return writeKey(filepath.Join(dir, VerifyingKeyFile), k.VerifyingKey)
}

func writeKey(path string, key io.WriterTo) error {
	var buf bytes.Buffer
	if _, err := key.WriteTo(&buf); err != nil {
		return fmt.Errorf("failed to serialize %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// LoadSolvencyKeys compiles the circuit and reads its keys from dir.
// A missing key file is reported as fs.ErrNotExist.
func LoadSolvencyKeys(dir string) (*CircuitKeys, error) {
	ccs, err := CompileSolvencyCircuit()
	if err != nil {
		return nil, fmt.Errorf("circuit compilation failed: %w", err)
	}

	pkData, err := os.ReadFile(filepath.Join(dir, ProvingKeyFile))
	if err != nil {
		return nil, err
	}
	vkData, err := os.ReadFile(filepath.Join(dir, VerifyingKeyFile))
	if err != nil {
		return nil, err
	}

	pk := groth16.NewProvingKey(ecc.BN254)
	if _, err := pk.ReadFrom(bytes.NewReader(pkData)); err != nil {
		return nil, fmt.Errorf("failed to read proving key: %w", err)
	}
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(bytes.NewReader(vkData)); err != nil {
		return nil, fmt.Errorf("failed to read verifying key: %w", err)
	}
	// the constraint system counts the constant one wire as public
	if vk.NbPublicWitness() != ccs.GetNbPublicVariables()-1 {
		return nil, fmt.Errorf("keys in %s were made for another circuit version, rerun setup", dir)
	}
	return &CircuitKeys{CCS: ccs, ProvingKey: pk, VerifyingKey: vk}, nil
}

// Groth16Prover implements the groth16-bn254 scheme. Keys are loaded from
// keyDir on first use, or generated in memory when the directory has none.
type Groth16Prover struct {
	keyDir string
	now    func() time.Time

	once    sync.Once
	keys    *CircuitKeys
	keysErr error
}

// NewGroth16Prover creates a prover backed by keys in keyDir
func NewGroth16Prover(keyDir string) *Groth16Prover {
	return &Groth16Prover{keyDir: keyDir, now: time.Now}
}

// NewGroth16ProverWithKeys creates a prover with keys already in memory
func NewGroth16ProverWithKeys(keys *CircuitKeys) *Groth16Prover {
	p := &Groth16Prover{now: time.Now, keys: keys}
	p.once.Do(func() {})
	return p
}

// Scheme implements Prover
func (p *Groth16Prover) Scheme() types.ProofScheme {
	return types.SchemeGroth16
}

func (p *Groth16Prover) loadKeys() (*CircuitKeys, error) {
	p.once.Do(func() {
		logger := logging.WithField("keyDir", p.keyDir)
		if p.keyDir != "" {
			keys, err := LoadSolvencyKeys(p.keyDir)
			if err == nil {
				logger.Info("Loaded solvency circuit keys")
				p.keys = keys
				return
			}
			if !errors.Is(err, fs.ErrNotExist) {
				p.keysErr = err
				return
			}
		}
		logger.Warn("No solvency circuit keys found, running in-memory setup")
		p.keys, p.keysErr = SetupSolvencyKeys()
	})
	return p.keys, p.keysErr
}

func toCents(d decimal.Decimal) *big.Int {
	return d.Shift(2).Round(0).BigInt()
}

// Generate implements Prover. It fails with ErrInsolvent when liabilities
// exceed assets, since the circuit cannot be satisfied.
func (p *Groth16Prover) Generate(ctx context.Context, st Statement) (*types.ProofArtifact, error) {
	start := p.now()

	if st.TotalAssets.IsNegative() || st.TotalLiabilities.IsNegative() {
		return nil, fmt.Errorf("totals must not be negative")
	}
	if st.Timestamp < 0 {
		return nil, fmt.Errorf("timestamp must not be negative")
	}
	if !st.IsSolvent() {
		return nil, ErrInsolvent
	}

	keys, err := p.loadKeys()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	nonce, err := randomFieldElement()
	if err != nil {
		return nil, fmt.Errorf("failed to draw nonce: %w", err)
	}
	dao, ts := daoField(st.DAOAddress), big.NewInt(st.Timestamp)
	assets, liabilities := toCents(st.TotalAssets), toCents(st.TotalLiabilities)
	commitment := solvencyCommitment(dao, ts, assets, liabilities, nonce)

	witness, err := frontend.NewWitness(&SolvencyCircuit{
		Commitment:  commitment,
		DAO:         dao,
		Timestamp:   ts,
		Assets:      assets,
		Liabilities: liabilities,
		Nonce:       nonce,
	}, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("witness creation failed: %w", err)
	}

	proof, err := groth16.Prove(keys.CCS, keys.ProvingKey, witness)
	if err != nil {
		return nil, fmt.Errorf("proving failed: %w", err)
	}
	var proofBuf bytes.Buffer
	if _, err := proof.WriteTo(&proofBuf); err != nil {
		return nil, fmt.Errorf("proof marshaling failed: %w", err)
	}

	commitmentHex := fmt.Sprintf("%064x", commitment)
	proofHex := hex.EncodeToString(proofBuf.Bytes())

	return &types.ProofArtifact{
		Scheme:        types.SchemeGroth16,
		Commitment:    commitmentHex,
		Timestamp:     st.Timestamp,
		DAOAddress:    st.DAOAddress,
		ProofHash:     groth16ProofHash(commitmentHex, proofHex, st.Timestamp, st.DAOAddress),
		Proof:         proofHex,
		PublicSignals: []string{commitment.String()},
		Metadata: types.ProofMetadata{
			CircuitVersion: groth16CircuitVersion,
			ProvingTime:    p.now().Sub(start).Milliseconds(),
			IsSolvent:      true,
			Disclosed:      false,
		},
	}, nil
}

func groth16ProofHash(commitment, proof string, ts int64, dao string) string {
	return sha256Hex(string(types.SchemeGroth16), commitment, proof, strconv.FormatInt(ts, 10), dao)
}

// Verify implements Prover
func (p *Groth16Prover) Verify(ctx context.Context, a *types.ProofArtifact) types.VerificationResult {
	start := p.now()
	if a == nil {
		return invalid(start, "proof artifact is missing")
	}
	if a.Scheme != types.SchemeGroth16 {
		return invalid(start, fmt.Sprintf("unexpected scheme %q", a.Scheme))
	}
	if !isHex64(a.Commitment) || !isHex64(a.ProofHash) {
		return invalid(start, "commitment and proofHash must be 64 character hex strings")
	}
	if !a.Metadata.IsSolvent {
		return invalid(start, "groth16 artifacts can only attest solvency")
	}
	if a.Timestamp < 0 {
		return invalid(start, "timestamp must not be negative")
	}
	commitment, _ := new(big.Int).SetString(a.Commitment, 16)
	if !inScalarField(commitment) {
		return invalid(start, "commitment is not a canonical field element")
	}
	if !hexEqual(groth16ProofHash(a.Commitment, a.Proof, a.Timestamp, a.DAOAddress), a.ProofHash) {
		return invalid(start, "proof hash mismatch")
	}

	proofBytes, err := hex.DecodeString(a.Proof)
	if err != nil || len(proofBytes) == 0 {
		return invalid(start, "proof is not valid hex")
	}
	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return invalid(start, fmt.Sprintf("proof unmarshaling failed: %v", err))
	}

	keys, err := p.loadKeys()
	if err != nil {
		return invalid(start, fmt.Sprintf("verifying key unavailable: %v", err))
	}

	public, err := frontend.NewWitness(&SolvencyCircuit{
		Commitment: commitment,
		DAO:        daoField(a.DAOAddress),
		Timestamp:  big.NewInt(a.Timestamp),
	}, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return invalid(start, fmt.Sprintf("public witness creation failed: %v", err))
	}
	if err := groth16.Verify(proof, keys.VerifyingKey, public); err != nil {
		return invalid(start, fmt.Sprintf("proof verification failed: %v", err))
	}

	return types.VerificationResult{
		IsValid:          true,
		VerificationTime: p.now().Sub(start).Milliseconds(),
		PublicSignals:    []string{commitment.String()},
	}
}
