package proof

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privaudit/internal/types"
)

const testDAO = "0x1111111111111111111111111111111111111111"

func demoStatement() Statement {
	return Statement{
		DAOAddress:       testDAO,
		Timestamp:        1717243200000,
		TotalAssets:      decimal.NewFromInt(2_000_000),
		TotalLiabilities: decimal.NewFromInt(200_000),
	}
}

func TestNewStatement(t *testing.T) {
	snap := &types.TreasurySnapshot{
		DAOAddress: testDAO,
		Assets: []types.AssetBalance{
			{ValueUSD: 1000.105},
			{ValueUSD: 0.1},
		},
		Liabilities: []types.LiabilityBalance{{ValueUSD: 50}},
	}
	now := time.UnixMilli(1717243200000)

	st := NewStatement(snap, now)
	assert.Equal(t, "1000.21", st.TotalAssets.StringFixed(2))
	assert.Equal(t, "50.00", st.TotalLiabilities.StringFixed(2))
	assert.Equal(t, int64(1717243200000), st.Timestamp)
	assert.True(t, st.IsSolvent())
}

func TestCommitment_RoundTrip(t *testing.T) {
	p := NewCommitmentProver()
	ctx := context.Background()

	artifact, err := p.Generate(ctx, demoStatement())
	require.NoError(t, err)

	assert.Equal(t, types.SchemeCommitment, artifact.Scheme)
	assert.Len(t, artifact.Commitment, 64)
	assert.Len(t, artifact.Nonce, 64)
	assert.True(t, artifact.Metadata.IsSolvent)
	assert.True(t, artifact.Metadata.Disclosed)
	require.NotNil(t, artifact.Metadata.TotalAssets)
	assert.Equal(t, 2_000_000.0, *artifact.Metadata.TotalAssets)

	result := p.Verify(ctx, artifact)
	assert.True(t, result.IsValid, result.Error)
	assert.Empty(t, result.Error)
	assert.Equal(t, []string{artifact.AssetsCommitment, artifact.LiabilitiesCommitment}, result.PublicSignals)
}

func TestCommitment_FreshNoncePerArtifact(t *testing.T) {
	p := NewCommitmentProver()
	ctx := context.Background()

	a1, err := p.Generate(ctx, demoStatement())
	require.NoError(t, err)
	a2, err := p.Generate(ctx, demoStatement())
	require.NoError(t, err)

	assert.NotEqual(t, a1.Nonce, a2.Nonce)
	assert.NotEqual(t, a1.Commitment, a2.Commitment)
	assert.NotEqual(t, a1.ProofHash, a2.ProofHash)
	assert.True(t, p.Verify(ctx, a1).IsValid)
	assert.True(t, p.Verify(ctx, a2).IsValid)
}

func TestCommitment_DeterministicForFixedNonce(t *testing.T) {
	p := NewCommitmentProver()
	p.random = bytes.NewReader(bytes.Repeat([]byte{0x42}, 64))

	a1, err := p.Generate(context.Background(), demoStatement())
	require.NoError(t, err)
	a2, err := p.Generate(context.Background(), demoStatement())
	require.NoError(t, err)
	assert.Equal(t, a1.Commitment, a2.Commitment)
	assert.Equal(t, strings.Repeat("42", 32), a1.Nonce)
}

func TestCommitment_Insolvent(t *testing.T) {
	p := NewCommitmentProver()
	st := demoStatement()
	st.TotalLiabilities = decimal.NewFromInt(3_000_000)

	artifact, err := p.Generate(context.Background(), st)
	require.NoError(t, err)
	assert.False(t, artifact.Metadata.IsSolvent)
	assert.True(t, p.Verify(context.Background(), artifact).IsValid)
}

func TestCommitment_NonceFailure(t *testing.T) {
	p := NewCommitmentProver()
	p.random = bytes.NewReader(nil)

	_, err := p.Generate(context.Background(), demoStatement())
	assert.Error(t, err)
}

func TestCommitment_Tampering(t *testing.T) {
	ctx := context.Background()
	p := NewCommitmentProver()
	base, err := p.Generate(ctx, demoStatement())
	require.NoError(t, err)

	clone := func() *types.ProofArtifact {
		a := *base
		ta, tl := *base.Metadata.TotalAssets, *base.Metadata.TotalLiabilities
		a.Metadata.TotalAssets, a.Metadata.TotalLiabilities = &ta, &tl
		return &a
	}

	tests := []struct {
		name   string
		mutate func(a *types.ProofArtifact)
		errMsg string
	}{
		{"assets raised", func(a *types.ProofArtifact) { *a.Metadata.TotalAssets += 1 }, "commitment mismatch"},
		{"assets raised by a fraction of a cent", func(a *types.ProofArtifact) { *a.Metadata.TotalAssets += 0.004 }, "whole cents"},
		{"liabilities lowered by a fraction of a cent", func(a *types.ProofArtifact) { *a.Metadata.TotalLiabilities -= 0.001 }, "whole cents"},
		{"liabilities lowered", func(a *types.ProofArtifact) { *a.Metadata.TotalLiabilities = 0 }, "commitment mismatch"},
		{"solvency flag flipped", func(a *types.ProofArtifact) { a.Metadata.IsSolvent = false }, "isSolvent"},
		{"address changed", func(a *types.ProofArtifact) { a.DAOAddress = "0x2222222222222222222222222222222222222222" }, "commitment mismatch"},
		{"timestamp changed", func(a *types.ProofArtifact) { a.Timestamp++ }, "commitment mismatch"},
		{"proof hash replaced", func(a *types.ProofArtifact) { a.ProofHash = strings.Repeat("0", 64) }, "proof hash mismatch"},
		{"per-side replaced", func(a *types.ProofArtifact) { a.AssetsCommitment = strings.Repeat("a", 64) }, "per-side"},
		{"nonce truncated", func(a *types.ProofArtifact) { a.Nonce = a.Nonce[:10] }, "nonce"},
		{"commitment not hex", func(a *types.ProofArtifact) { a.Commitment = strings.Repeat("z", 64) }, "commitment"},
		{"totals hidden", func(a *types.ProofArtifact) { a.Metadata.TotalAssets = nil }, "not disclosed"},
		{"wrong scheme", func(a *types.ProofArtifact) { a.Scheme = types.SchemeGroth16 }, "scheme"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := clone()
			tt.mutate(a)
			result := p.Verify(ctx, a)
			assert.False(t, result.IsValid)
			assert.Contains(t, result.Error, tt.errMsg)
		})
	}

	// the base artifact is untouched by the mutations
	assert.True(t, p.Verify(ctx, base).IsValid)
}

func TestCommitment_VerifyNil(t *testing.T) {
	result := NewCommitmentProver().Verify(context.Background(), nil)
	assert.False(t, result.IsValid)
	assert.NotEmpty(t, result.Error)
	assert.NotNil(t, result.PublicSignals)
}

func TestCommitment_CaseInsensitiveAddress(t *testing.T) {
	p := NewCommitmentProver()
	st := demoStatement()
	st.DAOAddress = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"

	a, err := p.Generate(context.Background(), st)
	require.NoError(t, err)

	a.DAOAddress = strings.ToLower(a.DAOAddress)
	assert.True(t, p.Verify(context.Background(), a).IsValid)
}

func TestCommitmentProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)
	p := NewCommitmentProver()
	ctx := context.Background()

	properties.Property("generated artifacts always verify", prop.ForAll(
		func(assetCents, liabilityCents int64) bool {
			st := Statement{
				DAOAddress:       testDAO,
				Timestamp:        1717243200000,
				TotalAssets:      decimal.New(assetCents, -2),
				TotalLiabilities: decimal.New(liabilityCents, -2),
			}
			a, err := p.Generate(ctx, st)
			if err != nil {
				return false
			}
			return p.Verify(ctx, a).IsValid && a.Metadata.IsSolvent == (assetCents >= liabilityCents)
		},
		gen.Int64Range(0, 1e14),
		gen.Int64Range(0, 1e14),
	))

	properties.Property("any change to disclosed assets is detected", prop.ForAll(
		func(assetCents, deltaCents int64) bool {
			st := Statement{
				DAOAddress:       testDAO,
				Timestamp:        1717243200000,
				TotalAssets:      decimal.New(assetCents, -2),
				TotalLiabilities: decimal.Zero,
			}
			a, err := p.Generate(ctx, st)
			if err != nil {
				return false
			}
			tampered := decimal.New(assetCents+deltaCents, -2).InexactFloat64()
			a.Metadata.TotalAssets = &tampered
			return !p.Verify(ctx, a).IsValid
		},
		gen.Int64Range(0, 1e12),
		gen.Int64Range(1, 1e6),
	))

	properties.Property("sub-cent changes to disclosed assets are detected", prop.ForAll(
		func(assetCents, deltaMills int64) bool {
			st := Statement{
				DAOAddress:       testDAO,
				Timestamp:        1717243200000,
				TotalAssets:      decimal.New(assetCents, -2),
				TotalLiabilities: decimal.Zero,
			}
			a, err := p.Generate(ctx, st)
			if err != nil {
				return false
			}
			tampered := decimal.New(assetCents*10+deltaMills, -3).InexactFloat64()
			a.Metadata.TotalAssets = &tampered
			return !p.Verify(ctx, a).IsValid
		},
		gen.Int64Range(0, 1e10),
		gen.Int64Range(1, 9),
	))

	properties.TestingRun(t)
}

func TestCommitment_RoundsStatementToCents(t *testing.T) {
	st := demoStatement()
	st.TotalAssets = decimal.RequireFromString("1000.005")
	st.TotalLiabilities = decimal.RequireFromString("999.994")

	a, err := NewCommitmentProver().Generate(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, 1000.01, *a.Metadata.TotalAssets)
	assert.Equal(t, 999.99, *a.Metadata.TotalLiabilities)
	assert.True(t, NewCommitmentProver().Verify(context.Background(), a).IsValid)
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(types.SchemeCommitment, NewCommitmentProver())
	assert.Equal(t, types.SchemeCommitment, r.DefaultScheme())

	a, err := r.Generate(ctx, "", demoStatement())
	require.NoError(t, err)
	assert.Equal(t, types.SchemeCommitment, a.Scheme)
	assert.True(t, r.Verify(ctx, a).IsValid)

	_, err = r.Generate(ctx, types.SchemeGroth16, demoStatement())
	require.Error(t, err)
	var genErr *GenerationError
	require.True(t, errors.As(err, &genErr))
	assert.ErrorIs(t, err, ErrUnknownScheme)

	a.Scheme = "rsa"
	result := r.Verify(ctx, a)
	assert.False(t, result.IsValid)
	assert.Contains(t, result.Error, "unsupported")

	assert.False(t, r.Verify(ctx, nil).IsValid)
}

func TestParseScheme(t *testing.T) {
	tests := []struct {
		in      string
		want    types.ProofScheme
		wantErr bool
	}{
		{"", types.SchemeCommitment, false},
		{"commitment", types.SchemeCommitment, false},
		{"HMAC-SHA256", types.SchemeCommitment, false},
		{"groth16", types.SchemeGroth16, false},
		{"groth16-bn254", types.SchemeGroth16, false},
		{"plonk", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseScheme(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownScheme)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
