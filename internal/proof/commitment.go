package proof

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/privaudit/internal/types"
)

const (
	commitmentCircuitVersion = "1.0.0"
	canonicalPrefix          = "privaudit/v1"
	nonceSize                = 32
)

// CommitmentProver implements the hmac-sha256 scheme. The nonce is the
// HMAC key and is published with the artifact so anyone can recompute it.
type CommitmentProver struct {
	random io.Reader
	now    func() time.Time
}

// NewCommitmentProver creates a prover drawing nonces from crypto/rand
func NewCommitmentProver() *CommitmentProver {
	return &CommitmentProver{random: rand.Reader, now: time.Now}
}

// Scheme implements Prover
func (p *CommitmentProver) Scheme() types.ProofScheme {
	return types.SchemeCommitment
}

// canonical is the exact byte string the main commitment is computed over
func canonical(dao string, ts int64, assets, liabilities decimal.Decimal, solvent bool) string {
	return fmt.Sprintf("%s|dao=%s|ts=%d|assets=%s|liabilities=%s|solvent=%t",
		canonicalPrefix, strings.ToLower(dao), ts, assets.StringFixed(2), liabilities.StringFixed(2), solvent)
}

func mac(key []byte, msg string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(msg))
	return h.Sum(nil)
}

type commitments struct {
	main        string
	assets      string
	liabilities string
	proofHash   string
}

func computeCommitments(nonce []byte, dao string, ts int64, assets, liabilities decimal.Decimal, solvent bool) commitments {
	c := commitments{
		main:        hex.EncodeToString(mac(nonce, canonical(dao, ts, assets, liabilities, solvent))),
		assets:      hex.EncodeToString(mac(nonce, "assets|"+assets.StringFixed(2))),
		liabilities: hex.EncodeToString(mac(nonce, "liabilities|"+liabilities.StringFixed(2))),
	}
	c.proofHash = sha256Hex(c.main, c.assets, c.liabilities, hex.EncodeToString(nonce),
		strconv.FormatInt(ts, 10), strings.ToLower(dao))
	return c
}

// Generate implements Prover
func (p *CommitmentProver) Generate(ctx context.Context, st Statement) (*types.ProofArtifact, error) {
	start := p.now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if st.TotalAssets.IsNegative() || st.TotalLiabilities.IsNegative() {
		return nil, fmt.Errorf("totals must not be negative")
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(p.random, nonce); err != nil {
		return nil, fmt.Errorf("failed to draw nonce: %w", err)
	}

	st.TotalAssets, st.TotalLiabilities = st.TotalAssets.Round(2), st.TotalLiabilities.Round(2)
	solvent := st.IsSolvent()
	c := computeCommitments(nonce, st.DAOAddress, st.Timestamp, st.TotalAssets, st.TotalLiabilities, solvent)

	return &types.ProofArtifact{
		Scheme:                types.SchemeCommitment,
		Commitment:            c.main,
		AssetsCommitment:      c.assets,
		LiabilitiesCommitment: c.liabilities,
		Nonce:                 hex.EncodeToString(nonce),
		Timestamp:             st.Timestamp,
		DAOAddress:            st.DAOAddress,
		ProofHash:             c.proofHash,
		PublicSignals:         []string{c.assets, c.liabilities},
		Metadata: types.ProofMetadata{
			CircuitVersion:   commitmentCircuitVersion,
			ProvingTime:      p.now().Sub(start).Milliseconds(),
			IsSolvent:        solvent,
			TotalAssets:      floatPtr(st.TotalAssets),
			TotalLiabilities: floatPtr(st.TotalLiabilities),
			Disclosed:        true,
		},
	}, nil
}

// Verify recomputes every commitment from the disclosed totals and nonce
func (p *CommitmentProver) Verify(ctx context.Context, a *types.ProofArtifact) types.VerificationResult {
	start := p.now()
	if a == nil {
		return invalid(start, "proof artifact is missing")
	}
	if a.Scheme != types.SchemeCommitment {
		return invalid(start, fmt.Sprintf("unexpected scheme %q", a.Scheme))
	}

	for _, f := range []struct{ name, value string }{
		{"commitment", a.Commitment},
		{"assetsCommitment", a.AssetsCommitment},
		{"liabilitiesCommitment", a.LiabilitiesCommitment},
		{"nonce", a.Nonce},
		{"proofHash", a.ProofHash},
	} {
		if !isHex64(f.value) {
			return invalid(start, fmt.Sprintf("%s is not a 64 character hex string", f.name))
		}
	}

	m := a.Metadata
	if m.TotalAssets == nil || m.TotalLiabilities == nil {
		return invalid(start, "totals are not disclosed")
	}
	assets := decimal.NewFromFloat(*m.TotalAssets)
	liabilities := decimal.NewFromFloat(*m.TotalLiabilities)
	if assets.IsNegative() || liabilities.IsNegative() {
		return invalid(start, "totals must not be negative")
	}
	// commitments are over whole cents, so anything finer was not committed to
	if !assets.Equal(assets.Round(2)) || !liabilities.Equal(liabilities.Round(2)) {
		return invalid(start, "totals must be whole cents")
	}
	if solvent := assets.GreaterThanOrEqual(liabilities); solvent != m.IsSolvent {
		return invalid(start, "isSolvent does not match disclosed totals")
	}

	nonce, _ := hex.DecodeString(a.Nonce)
	want := computeCommitments(nonce, a.DAOAddress, a.Timestamp, assets, liabilities, m.IsSolvent)

	if !hexEqual(want.main, a.Commitment) {
		return invalid(start, "commitment mismatch")
	}
	if !hexEqual(want.assets, a.AssetsCommitment) || !hexEqual(want.liabilities, a.LiabilitiesCommitment) {
		return invalid(start, "per-side commitment mismatch")
	}
	if !hexEqual(want.proofHash, a.ProofHash) {
		return invalid(start, "proof hash mismatch")
	}

	return types.VerificationResult{
		IsValid:          true,
		VerificationTime: p.now().Sub(start).Milliseconds(),
		PublicSignals:    []string{a.AssetsCommitment, a.LiabilitiesCommitment},
	}
}

// hexEqual compares two hex strings in constant time, ignoring case
func hexEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(a)), []byte(strings.ToLower(b))) == 1
}
