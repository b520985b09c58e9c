// Package proof builds and checks solvency artifacts.
//
// Two schemes exist. The default commitment scheme is a nonce-keyed
// HMAC-SHA256 over totals that are disclosed in the artifact metadata; it is
// tamper evident but not zero knowledge. The groth16 scheme proves
// liabilities <= assets over BN254 without disclosing either total.
package proof

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/privaudit/internal/logging"
	"github.com/privaudit/internal/types"
)

var (
	// ErrInsolvent is returned when a scheme can only attest solvency
	ErrInsolvent = errors.New("liabilities exceed assets")
	// ErrUnknownScheme is returned for an unregistered proof scheme
	ErrUnknownScheme = errors.New("unknown proof scheme")
)

// Statement is the set of facts an artifact commits to
type Statement struct {
	DAOAddress       string
	Timestamp        int64 // Unix milliseconds
	TotalAssets      decimal.Decimal
	TotalLiabilities decimal.Decimal
}

// NewStatement sums the snapshot to cents and stamps it with now
func NewStatement(snap *types.TreasurySnapshot, now time.Time) Statement {
	assets := decimal.Zero
	for _, a := range snap.Assets {
		assets = assets.Add(decimal.NewFromFloat(a.ValueUSD))
	}
	liabilities := decimal.Zero
	for _, l := range snap.Liabilities {
		liabilities = liabilities.Add(decimal.NewFromFloat(l.ValueUSD))
	}
	return Statement{
		DAOAddress:       snap.DAOAddress,
		Timestamp:        now.UnixMilli(),
		TotalAssets:      assets.Round(2),
		TotalLiabilities: liabilities.Round(2),
	}
}

// IsSolvent reports whether assets cover liabilities
func (s Statement) IsSolvent() bool {
	return s.TotalAssets.GreaterThanOrEqual(s.TotalLiabilities)
}

// Prover generates and verifies artifacts of one scheme.
// Verify never fails; problems are reported in the result.
type Prover interface {
	Scheme() types.ProofScheme
	Generate(ctx context.Context, st Statement) (*types.ProofArtifact, error)
	Verify(ctx context.Context, artifact *types.ProofArtifact) types.VerificationResult
}

// GenerationError is returned when a scheme fails to produce an artifact
type GenerationError struct {
	Scheme types.ProofScheme
	Err    error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("proof generation failed [%s]: %v", e.Scheme, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// ParseScheme accepts the short config names as well as the artifact names
func ParseScheme(s string) (types.ProofScheme, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "commitment", string(types.SchemeCommitment):
		return types.SchemeCommitment, nil
	case "groth16", string(types.SchemeGroth16):
		return types.SchemeGroth16, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownScheme, s)
	}
}

// Registry dispatches to the prover registered for a scheme
type Registry struct {
	provers       map[types.ProofScheme]Prover
	defaultScheme types.ProofScheme
}

// NewRegistry creates a registry. defaultScheme is used when Generate is
// called with an empty scheme.
func NewRegistry(defaultScheme types.ProofScheme, provers ...Prover) *Registry {
	r := &Registry{
		provers:       make(map[types.ProofScheme]Prover, len(provers)),
		defaultScheme: defaultScheme,
	}
	for _, p := range provers {
		r.provers[p.Scheme()] = p
	}
	return r
}

// DefaultScheme returns the scheme used when none is requested
func (r *Registry) DefaultScheme() types.ProofScheme {
	return r.defaultScheme
}

// Generate builds an artifact with the given scheme, or the default one
func (r *Registry) Generate(ctx context.Context, scheme types.ProofScheme, st Statement) (*types.ProofArtifact, error) {
	if scheme == "" {
		scheme = r.defaultScheme
	}
	p, ok := r.provers[scheme]
	if !ok {
		return nil, &GenerationError{Scheme: scheme, Err: ErrUnknownScheme}
	}

	logger := logging.FromContext(ctx).WithFields(logging.Fields{
		"scheme": scheme,
		"dao":    st.DAOAddress,
	})
	logger.Debug("Generating proof")

	artifact, err := p.Generate(ctx, st)
	if err != nil {
		logger.WithError(err).Warn("Proof generation failed")
		var genErr *GenerationError
		if errors.As(err, &genErr) {
			return nil, err
		}
		return nil, &GenerationError{Scheme: scheme, Err: err}
	}

	logger.WithField("provingTime", artifact.Metadata.ProvingTime).Info("Proof generated")
	return artifact, nil
}

// Verify checks an artifact with the prover matching its scheme
func (r *Registry) Verify(ctx context.Context, artifact *types.ProofArtifact) types.VerificationResult {
	if artifact == nil {
		return invalid(time.Now(), "proof artifact is missing")
	}
	p, ok := r.provers[artifact.Scheme]
	if !ok {
		return invalid(time.Now(), fmt.Sprintf("unsupported proof scheme %q", artifact.Scheme))
	}
	return p.Verify(ctx, artifact)
}

func invalid(start time.Time, reason string) types.VerificationResult {
	return types.VerificationResult{
		IsValid:          false,
		VerificationTime: time.Since(start).Milliseconds(),
		Error:            reason,
		PublicSignals:    []string{},
	}
}

// isHex64 reports whether s is 32 bytes of lowercase or uppercase hex
func isHex64(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func sha256Hex(parts ...string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h.Sum(nil))
}

func floatPtr(d decimal.Decimal) *float64 {
	f := d.InexactFloat64()
	return &f
}
