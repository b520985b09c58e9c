// Package midnight is a session handle for the Midnight shielded network.
//
// Shielded queries are simulated: the session serves the fixed demo
// treasury and records submitted proofs in memory.
package midnight

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/privaudit/internal/adapter"
	"github.com/privaudit/internal/logging"
	"github.com/privaudit/internal/types"
)

// ErrSessionClosed is returned by every call on a closed session
var ErrSessionClosed = errors.New("midnight session is closed")

// ErrProofRejected is returned when a submitted artifact does not verify
var ErrProofRejected = errors.New("proof rejected")

// Verifier checks an artifact before it is accepted
type Verifier interface {
	Verify(ctx context.Context, a *types.ProofArtifact) types.VerificationResult
}

// Config configures a session
type Config struct {
	Network    string
	DAOAddress string
	// Verifier is optional; without it artifacts are accepted unchecked
	Verifier Verifier
}

// Session is an open connection. It is safe for concurrent use.
type Session struct {
	id       string
	network  string
	dao      string
	verifier Verifier
	now      func() time.Time
	logger   *logging.Logger

	mu        sync.Mutex
	closed    bool
	submitted map[string]string // proof hash -> tx hash
}

// Connect opens a session for one DAO
func Connect(ctx context.Context, cfg Config) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !adapter.ValidateAddress(cfg.DAOAddress) {
		return nil, fmt.Errorf("midnight: invalid DAO address %q", cfg.DAOAddress)
	}
	network := cfg.Network
	if network == "" {
		network = "testnet"
	}

	s := &Session{
		id:        uuid.New().String(),
		network:   network,
		dao:       cfg.DAOAddress,
		verifier:  cfg.Verifier,
		now:       time.Now,
		submitted: make(map[string]string),
	}
	s.logger = logging.FromContext(ctx).WithFields(logging.Fields{
		"component": "midnight",
		"sessionId": s.id,
		"network":   network,
	})
	s.logger.Info("Connected to Midnight")
	return s, nil
}

// ID returns the session identifier
func (s *Session) ID() string { return s.id }

// Network returns the network the session is bound to
func (s *Session) Network() string { return s.network }

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

// FetchShieldedSnapshot returns the shielded treasury of the session DAO
func (s *Session) FetchShieldedSnapshot(ctx context.Context) (*types.TreasurySnapshot, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.logger.WithField("dao", s.dao).Debug("Fetching shielded treasury")
	snap := adapter.DemoSnapshot(s.dao, types.SourceShieldedDemo, s.now())
	snap.Network = "midnight-" + s.network
	return snap, nil
}

// SubmitProof records an artifact and returns its transaction hash. The
// hash depends only on the network and the artifact, so resubmitting the
// same artifact yields the same hash.
func (s *Session) SubmitProof(ctx context.Context, a *types.ProofArtifact) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	if a == nil || a.ProofHash == "" {
		return "", fmt.Errorf("%w: artifact has no proof hash", ErrProofRejected)
	}
	if s.verifier != nil {
		if result := s.verifier.Verify(ctx, a); !result.IsValid {
			return "", fmt.Errorf("%w: %s", ErrProofRejected, result.Error)
		}
	}

	sum := sha256.Sum256([]byte(strings.Join([]string{
		s.network, strings.ToLower(a.DAOAddress), a.Commitment, a.ProofHash,
	}, "|")))
	txHash := "0x" + hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrSessionClosed
	}
	s.submitted[strings.ToLower(a.ProofHash)] = txHash
	s.logger.WithField("txHash", txHash).Info("Proof submitted")
	return txHash, nil
}

// VerifyProof reports whether this session accepted the proof hash
func (s *Session) VerifyProof(ctx context.Context, proofHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrSessionClosed
	}
	_, ok := s.submitted[strings.ToLower(proofHash)]
	return ok, nil
}

// Close invalidates the session. Closing twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.submitted = nil
		s.logger.Info("Midnight session closed")
	}
	return nil
}
