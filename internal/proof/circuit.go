package proof

import (
	"crypto/sha256"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	nativemimc "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/std/hash/mimc"
)

// amountBits bounds both totals, in cents, inside the circuit
const amountBits = 96

// SolvencyCircuit proves knowledge of totals and a nonce that open the
// public commitment for one DAO and timestamp, and that liabilities do not
// exceed assets.
type SolvencyCircuit struct {
	// ====== PUBLIC VARIABLES ======
	Commitment frontend.Variable `gnark:",public"` // MiMC(dao, timestamp, assets, liabilities, nonce)
	DAO        frontend.Variable `gnark:",public"` // daoField of the DAO address
	Timestamp  frontend.Variable `gnark:",public"` // Unix milliseconds

	// ====== PRIVATE VARIABLES ======
	Assets      frontend.Variable // total assets in cents
	Liabilities frontend.Variable // total liabilities in cents
	Nonce       frontend.Variable
}

// Define implements frontend.Circuit
func (c *SolvencyCircuit) Define(api frontend.API) error {
	// range checks keep the comparison below meaningful
	api.ToBinary(c.Assets, amountBits)
	api.ToBinary(c.Liabilities, amountBits)
	api.AssertIsLessOrEqual(c.Liabilities, c.Assets)

	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	hasher.Write(c.DAO, c.Timestamp, c.Assets, c.Liabilities, c.Nonce)
	api.AssertIsEqual(c.Commitment, hasher.Sum())
	return nil
}

// CompileSolvencyCircuit builds the R1CS of the circuit over BN254
func CompileSolvencyCircuit() (constraint.ConstraintSystem, error) {
	var circuit SolvencyCircuit
	return frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
}

// inScalarField reports whether v is a canonical BN254 scalar
func inScalarField(v *big.Int) bool {
	return v.Sign() >= 0 && v.Cmp(ecc.BN254.ScalarField()) < 0
}

// daoField maps a DAO address, case-insensitively, to a scalar field element
func daoField(dao string) *big.Int {
	sum := sha256.Sum256([]byte(strings.ToLower(dao)))
	var e fr.Element
	e.SetBytes(sum[:])
	return e.BigInt(new(big.Int))
}

// solvencyCommitment computes the circuit commitment outside the circuit.
// Each input is reduced into the scalar field and hashed as one block.
func solvencyCommitment(dao, ts, assets, liabilities, nonce *big.Int) *big.Int {
	h := nativemimc.NewMiMC()
	for _, v := range []*big.Int{dao, ts, assets, liabilities, nonce} {
		var e fr.Element
		e.SetBigInt(v)
		b := e.Bytes()
		h.Write(b[:])
	}
	return new(big.Int).SetBytes(h.Sum(nil))
}

// randomFieldElement draws a uniformly random scalar for the nonce
func randomFieldElement() (*big.Int, error) {
	var e fr.Element
	if _, err := e.SetRandom(); err != nil {
		return nil, err
	}
	return e.BigInt(new(big.Int)), nil
}
