package vault

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	v := newMultiVault(t, 3)
	v.AccountNumber = 2
	v.SubAccountNumber = 5
	a, _ := v.OpenDeposits(newKey(t), 6, 5_000)
	a.Deposits, a.TokenSupply = 1_234, 1_200
	b, _ := v.OpenDeposits(newKey(t), 9, NoDepositLimit)
	b.Enabled = false
	b.Closed = true

	data, err := Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != AccountSize(3) {
		t.Fatalf("expected %d bytes, got %d", AccountSize(3), len(data))
	}

	got, err := Decode(data, ProgramID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Address().Equals(v.Address()) {
		t.Errorf("address %s, want %s", got.Address(), v.Address())
	}
	if got.ID != v.ID || got.Bump != v.Bump || got.Type != MultiToken || got.Capacity != 3 ||
		got.AccountNumber != 2 || got.SubAccountNumber != 5 || !got.Authority.Equals(v.Authority) {
		t.Errorf("header mismatch: %+v", got)
	}
	if len(got.TokenInfos) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(got.TokenInfos))
	}
	if got.TokenInfos[0] != v.TokenInfos[0] || got.TokenInfos[1] != v.TokenInfos[1] {
		t.Errorf("lines mismatch:\n got  %+v\n want %+v", got.TokenInfos, v.TokenInfos)
	}

	// Spare capacity survives decoding.
	if _, err := got.OpenDeposits(newKey(t), 6, 1); err != nil {
		t.Errorf("decoded vault lost its spare slot: %v", err)
	}
}

func TestTokenInfoAt_RandomAccess(t *testing.T) {
	v := newMultiVault(t, 4)
	v.OpenDeposits(newKey(t), 6, 10)
	second, _ := v.OpenDeposits(newKey(t), 8, 20)
	second.Deposits = 77

	data, err := Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	ti, err := TokenInfoAt(data, 1)
	if err != nil {
		t.Fatal(err)
	}
	if ti != *second {
		t.Errorf("got %+v, want %+v", ti, *second)
	}
	if _, err := TokenInfoAt(data, 2); !errors.Is(err, ErrInvalidLayout) {
		t.Errorf("expected ErrInvalidLayout for unused slot, got %v", err)
	}
}

func TestDecode_Rejects(t *testing.T) {
	v := newMultiVault(t, 2)
	v.OpenDeposits(newKey(t), 6, 10)
	data, _ := Encode(v)

	cases := map[string]func([]byte) []byte{
		"short": func(b []byte) []byte { return b[:HeaderSize-1] },
		"version": func(b []byte) []byte {
			b[0] = 9
			return b
		},
		"truncated lines": func(b []byte) []byte { return b[:len(b)-1] },
		"len over capacity": func(b []byte) []byte {
			b[48] = 3
			return b
		},
		"non-canonical bump": func(b []byte) []byte {
			b[1] ^= 1
			return b
		},
	}
	for name, mutate := range cases {
		buf := append([]byte(nil), data...)
		if _, err := Decode(mutate(buf), ProgramID); !errors.Is(err, ErrInvalidLayout) {
			t.Errorf("%s: expected ErrInvalidLayout, got %v", name, err)
		}
	}

	// A record decoded under a different program no longer proves the
	// original address.
	got, err := Decode(data, newKey(t))
	if err == nil && got.Address().Equals(v.Address()) {
		t.Error("foreign program derived the same vault address")
	}
}

func TestEncode_FixedOffsets(t *testing.T) {
	v := newMultiVault(t, 2)
	v.AccountNumber = 4
	ti, _ := v.OpenDeposits(newKey(t), 6, 1_000)
	ti.Deposits, ti.TokenSupply = 0x0102, 0x0304

	data, err := Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	if data[0] != LayoutVersion || data[1] != v.Bump || data[2] != 4 || data[4] != uint8(MultiToken) {
		t.Errorf("unexpected header bytes % x", data[:8])
	}
	if data[6] != 2 || data[7] != 0 || data[lenOffset] != 1 {
		t.Errorf("expected capacity 2 and len 1, got % x", data[6:8])
	}
	if !bytes.Equal(data[16:48], v.Authority[:]) {
		t.Error("authority not at offset 16")
	}

	line := data[HeaderSize : HeaderSize+TokenInfoSize]
	if line[0] != flagEnabled || line[1] != 6 || line[8] != 0x02 || line[9] != 0x01 || line[24] != 0x04 {
		t.Errorf("unexpected line bytes % x", line[:32])
	}
	if !bytes.Equal(line[32:64], ti.TokenMint[:]) || !bytes.Equal(line[64:96], ti.LPMint[:]) {
		t.Error("mints not at offsets 32 and 64")
	}
	if !bytes.Equal(data[HeaderSize+TokenInfoSize:], make([]byte, TokenInfoSize)) {
		t.Error("unused slot is not zero")
	}
}

func TestRentExempt(t *testing.T) {
	// An 82 byte mint account.
	if got := RentExempt(82); got != 1_461_600 {
		t.Errorf("expected 1461600, got %d", got)
	}
}
