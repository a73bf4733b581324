package vault

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Persisted layout of a vault account:
//
//	header (56 bytes)
//	  0  version             u8
//	  1  bump                u8
//	  2  account_number      u8
//	  3  sub_account_number  u8
//	  4  vault_type          u8
//	  5  padding             u8
//	  6  capacity            u16
//	  8  id                  u64
//	  16 authority           [32]u8
//	  48 len                 u32
//	  52 padding             [4]u8
//	token infos (capacity * 96 bytes)
//	  0  flags               u8 (bit 0 enabled, bit 1 closed)
//	  1  lp_decimals         u8
//	  2  padding             [6]u8
//	  8  deposits            u64
//	  16 deposit_limit       u64
//	  24 token_supply        u64
//	  32 token_mint          [32]u8
//	  64 lp_mint             [32]u8
//
// Slots past len are zero. All integers are little endian.
const (
	HeaderSize    = 56
	TokenInfoSize = 96

	lenOffset = 48

	// MaxCapacity bounds the token line arena of one vault.
	MaxCapacity = 64
)

const (
	flagEnabled = 1 << 0
	flagClosed  = 1 << 1
)

// AccountSize returns the persisted size of a vault with the given capacity.
func AccountSize(capacity int) int {
	return HeaderSize + capacity*TokenInfoSize
}

// RentExempt returns the lamports an account of dataLen bytes must hold to
// be rent exempt: (128 + dataLen) * 3480 lamports/byte-year * 2 years.
func RentExempt(dataLen int) uint64 {
	return uint64(128+dataLen) * 3480 * 2
}

// header is the fixed part of the account layout.
type header struct {
	Version          uint8
	Bump             uint8
	AccountNumber    uint8
	SubAccountNumber uint8
	Type             VaultType
	Capacity         uint16
	ID               uint64
	Authority        solana.PublicKey
	Len              uint32
}

func (h header) MarshalWithEncoder(encoder *bin.Encoder) error {
	for _, b := range []uint8{h.Version, h.Bump, h.AccountNumber, h.SubAccountNumber, uint8(h.Type), 0} {
		if err := encoder.WriteUint8(b); err != nil {
			return err
		}
	}
	if err := encoder.WriteUint16(h.Capacity, bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteUint64(h.ID, bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteBytes(h.Authority[:], false); err != nil {
		return err
	}
	if err := encoder.WriteUint32(h.Len, bin.LE); err != nil {
		return err
	}
	return encoder.WriteBytes(make([]byte, 4), false)
}

func (h *header) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	var fields [6]uint8
	for i := range fields {
		if fields[i], err = decoder.ReadUint8(); err != nil {
			return err
		}
	}
	h.Version, h.Bump = fields[0], fields[1]
	h.AccountNumber, h.SubAccountNumber = fields[2], fields[3]
	h.Type = VaultType(fields[4])
	if h.Capacity, err = decoder.ReadUint16(bin.LE); err != nil {
		return err
	}
	if h.ID, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	if err = readKey(decoder, &h.Authority); err != nil {
		return err
	}
	if h.Len, err = decoder.ReadUint32(bin.LE); err != nil {
		return err
	}
	return decoder.SkipBytes(4)
}

func (ti TokenInfo) MarshalWithEncoder(encoder *bin.Encoder) error {
	var flags uint8
	if ti.Enabled {
		flags |= flagEnabled
	}
	if ti.Closed {
		flags |= flagClosed
	}
	if err := encoder.WriteUint8(flags); err != nil {
		return err
	}
	if err := encoder.WriteUint8(ti.LPDecimals); err != nil {
		return err
	}
	if err := encoder.WriteBytes(make([]byte, 6), false); err != nil {
		return err
	}
	for _, n := range []uint64{ti.Deposits, ti.DepositLimit, ti.TokenSupply} {
		if err := encoder.WriteUint64(n, bin.LE); err != nil {
			return err
		}
	}
	if err := encoder.WriteBytes(ti.TokenMint[:], false); err != nil {
		return err
	}
	return encoder.WriteBytes(ti.LPMint[:], false)
}

func (ti *TokenInfo) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	flags, err := decoder.ReadUint8()
	if err != nil {
		return err
	}
	ti.Enabled = flags&flagEnabled != 0
	ti.Closed = flags&flagClosed != 0
	if ti.LPDecimals, err = decoder.ReadUint8(); err != nil {
		return err
	}
	if err = decoder.SkipBytes(6); err != nil {
		return err
	}
	if ti.Deposits, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	if ti.DepositLimit, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	if ti.TokenSupply, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	if err = readKey(decoder, &ti.TokenMint); err != nil {
		return err
	}
	return readKey(decoder, &ti.LPMint)
}

func readKey(decoder *bin.Decoder, key *solana.PublicKey) error {
	b, err := decoder.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		return err
	}
	copy(key[:], b)
	return nil
}

// Encode serializes v into its fixed-size account layout.
func Encode(v *Vault) ([]byte, error) {
	if v.Capacity < 1 || v.Capacity > MaxCapacity {
		return nil, fmt.Errorf("%w: capacity %d", ErrInvalidLayout, v.Capacity)
	}
	if len(v.TokenInfos) > v.Capacity {
		return nil, fmt.Errorf("%w: %d lines over capacity %d", ErrInvalidLayout, len(v.TokenInfos), v.Capacity)
	}

	var buf bytes.Buffer
	buf.Grow(AccountSize(v.Capacity))
	encoder := bin.NewBinEncoder(&buf)

	h := header{
		Version:          v.Version,
		Bump:             v.Bump,
		AccountNumber:    v.AccountNumber,
		SubAccountNumber: v.SubAccountNumber,
		Type:             v.Type,
		Capacity:         uint16(v.Capacity),
		ID:               v.ID,
		Authority:        v.Authority,
		Len:              uint32(len(v.TokenInfos)),
	}
	if err := h.MarshalWithEncoder(encoder); err != nil {
		return nil, err
	}
	for i := range v.TokenInfos {
		if err := v.TokenInfos[i].MarshalWithEncoder(encoder); err != nil {
			return nil, err
		}
	}
	// Unused slots are zero.
	if err := encoder.WriteBytes(make([]byte, (v.Capacity-len(v.TokenInfos))*TokenInfoSize), false); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses account data and binds the record to programID, verifying
// that the stored bump is the canonical bump of the vault address.
func Decode(data []byte, programID solana.PublicKey) (*Vault, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidLayout, len(data))
	}
	decoder := bin.NewBinDecoder(data)

	var h header
	if err := h.UnmarshalWithDecoder(decoder); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrInvalidLayout, err)
	}
	if h.Version != LayoutVersion {
		return nil, fmt.Errorf("%w: version %d", ErrInvalidLayout, h.Version)
	}
	capacity, n := int(h.Capacity), int(h.Len)
	if capacity < 1 || capacity > MaxCapacity || n > capacity {
		return nil, fmt.Errorf("%w: %d lines, capacity %d", ErrInvalidLayout, n, capacity)
	}
	if len(data) != AccountSize(capacity) {
		return nil, fmt.Errorf("%w: %d bytes for capacity %d", ErrInvalidLayout, len(data), capacity)
	}

	v := &Vault{
		Version:          h.Version,
		Bump:             h.Bump,
		AccountNumber:    h.AccountNumber,
		SubAccountNumber: h.SubAccountNumber,
		Type:             h.Type,
		Capacity:         capacity,
		ID:               h.ID,
		Authority:        h.Authority,
		TokenInfos:       make([]TokenInfo, n, capacity),
	}
	for i := range v.TokenInfos {
		if err := v.TokenInfos[i].UnmarshalWithDecoder(decoder); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidLayout, i, err)
		}
	}
	if err := v.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}
	if err := v.Bind(programID); err != nil {
		return nil, err
	}
	return v, nil
}

// TokenInfoAt reads the line at index i straight from account data without
// decoding the whole record.
func TokenInfoAt(data []byte, i int) (TokenInfo, error) {
	if len(data) < HeaderSize {
		return TokenInfo{}, fmt.Errorf("%w: %d bytes", ErrInvalidLayout, len(data))
	}
	decoder := bin.NewBinDecoder(data)
	if err := decoder.SetPosition(lenOffset); err != nil {
		return TokenInfo{}, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}
	n, err := decoder.ReadUint32(bin.LE)
	if err != nil {
		return TokenInfo{}, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}
	off := HeaderSize + i*TokenInfoSize
	if i < 0 || i >= int(n) || off+TokenInfoSize > len(data) {
		return TokenInfo{}, fmt.Errorf("%w: line %d of %d", ErrInvalidLayout, i, n)
	}

	var ti TokenInfo
	if err := decoder.SetPosition(uint(off)); err != nil {
		return TokenInfo{}, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}
	if err := ti.UnmarshalWithDecoder(decoder); err != nil {
		return TokenInfo{}, fmt.Errorf("%w: line %d: %v", ErrInvalidLayout, i, err)
	}
	return ti, nil
}
