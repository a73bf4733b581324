package vault

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// ProgramID is the default program id vault addresses are derived under.
var ProgramID = solana.MustPublicKeyFromBase58("Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS")

var (
	// VaultSeed is the seed tag of a vault's delegated authority address.
	VaultSeed = []byte("VAULT")

	// LPTokenSeed is the seed tag of a token line's LP mint address.
	LPTokenSeed = []byte("LP_TOKEN")
)

// VaultSeeds returns the seed tuple of the vault owned by authority with
// the given id, without the bump.
func VaultSeeds(authority solana.PublicKey, id uint64) [][]byte {
	var idBytes bytes.Buffer
	// Writes to a bytes.Buffer cannot fail.
	_ = bin.NewBinEncoder(&idBytes).WriteUint64(id, bin.LE)
	return [][]byte{VaultSeed, authority.Bytes(), idBytes.Bytes()}
}

// DeriveVaultAddress finds the delegated authority address and canonical
// bump for (authority, id). The address has no private key.
func DeriveVaultAddress(programID, authority solana.PublicKey, id uint64) (solana.PublicKey, uint8, error) {
	addr, bump, err := solana.FindProgramAddress(VaultSeeds(authority, id), programID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("derive vault address: %w", err)
	}
	return addr, bump, nil
}

// DeriveLPMint finds the LP mint address of a token line.
func DeriveLPMint(programID, vaultAddr, tokenMint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{LPTokenSeed, vaultAddr.Bytes(), tokenMint.Bytes()},
		programID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive lp mint: %w", err)
	}
	return addr, nil
}

// Signer is the capability a vault presents to external systems in place of
// a signature. It can only be built from a stored vault record, so the seed
// tuple is never taken from caller input.
type Signer struct {
	programID solana.PublicKey
	authority solana.PublicKey
	id        uint64
	bump      uint8
}

// Seeds returns the full seed tuple including the stored bump.
func (s Signer) Seeds() [][]byte {
	return append(VaultSeeds(s.authority, s.id), []byte{s.bump})
}

// ProgramID returns the program the seeds are derived under.
func (s Signer) ProgramID() solana.PublicKey {
	return s.programID
}

// Address recomputes the address the seeds prove.
func (s Signer) Address() (solana.PublicKey, error) {
	return solana.CreateProgramAddress(s.Seeds(), s.programID)
}

// VerifySigner is the check an external system performs before accepting a
// delegated call: the signer's seeds must derive expected under the trusted
// program id.
func VerifySigner(programID solana.PublicKey, s Signer, expected solana.PublicKey) error {
	if !s.programID.Equals(programID) {
		return fmt.Errorf("%w: program %s", ErrUnauthorizedSigner, s.programID)
	}
	addr, err := solana.CreateProgramAddress(s.Seeds(), programID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorizedSigner, err)
	}
	if !addr.Equals(expected) {
		return fmt.Errorf("%w: derived %s, expected %s", ErrUnauthorizedSigner, addr, expected)
	}
	return nil
}
