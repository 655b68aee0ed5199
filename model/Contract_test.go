package model

import (
	"crypto/sha256"
	"testing"

	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateOwner(t *testing.T) {
	aliceKey, alice := TestKey("alice")
	bobKey, bob := TestKey("bob")
	_, carol := TestKey("carol")

	msg := Hash{42}

	aliceSig, err := SignPubKey(aliceKey, msg)
	require.NoError(t, err)

	bobSig, err := SignPubKey(bobKey, msg)
	require.NoError(t, err)

	puzzle := sha256.Sum256([]byte("open sesame"))

	contracts := map[Addr]Contract{
		{1}: &MultiSig{NumRequired: 2, Owners: []Addr{alice, bob, carol}},
		{2}: &TimeLock{Owner: alice, UnlockHeight: 10},
		{3}: &PuzzleLock{Owner: bob, PuzzleHash: puzzle},
		{4}: &Token{Symbol: "TOK", Owner: &alice},
		{5}: &Token{Symbol: "FREE"},
		{6}: &PlotNFT{Owner: Hash{2}},
		{7}: &VirtualPlot{FarmerKey: bobKey.PubKey().Compressed()},
		{8}: &PubKey{PubKey: aliceKey.PubKey().Compressed()},
		{9}: &TimeLock{Owner: Hash{9}},
	}

	lookup := func(addr Addr) (Contract, error) {
		return contracts[addr], nil
	}

	tests := []struct {
		name   string
		addr   Addr
		sol    Solution
		height uint32
		ok     bool
	}{
		{"plain address", alice, aliceSig, 0, true},
		{"plain address wrong key", alice, bobSig, 0, false},
		{"multisig enough", Hash{1}, &MultiSigSolution{Solutions: map[Addr]*PubKeySolution{alice: aliceSig, bob: bobSig}}, 0, true},
		{"multisig short", Hash{1}, &MultiSigSolution{Solutions: map[Addr]*PubKeySolution{alice: aliceSig}}, 0, false},
		{"timelock early", Hash{2}, aliceSig, 9, false},
		{"timelock unlocked", Hash{2}, aliceSig, 10, true},
		{"puzzle solved", Hash{3}, &PuzzleSolution{Preimage: []byte("open sesame")}, 0, true},
		{"puzzle wrong", Hash{3}, &PuzzleSolution{Preimage: []byte("nope")}, 0, false},
		{"puzzle owner", Hash{3}, bobSig, 0, true},
		{"token owner", Hash{4}, aliceSig, 0, true},
		{"token without owner", Hash{5}, aliceSig, 0, false},
		{"nested delegation", Hash{6}, aliceSig, 20, true},
		{"virtual plot farmer", Hash{7}, bobSig, 0, true},
		{"pubkey contract", Hash{8}, aliceSig, 0, true},
		{"pubkey contract wrong key", Hash{8}, bobSig, 0, false},
		{"delegation cycle", Hash{9}, aliceSig, 0, false},
		{"missing solution", alice, nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOwner(testParams, lookup, tt.addr, tt.sol, tt.height)
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestMultiSigSolutionVerify(t *testing.T) {
	aliceKey, alice := TestKey("alice")
	_, bob := TestKey("bob")

	msg := Hash{1}

	sig, err := SignPubKey(aliceKey, msg)
	require.NoError(t, err)

	require.NoError(t, (&MultiSigSolution{Solutions: map[Addr]*PubKeySolution{alice: sig}}).Verify(msg))

	err = (&MultiSigSolution{Solutions: map[Addr]*PubKeySolution{bob: sig}}).Verify(msg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSignatureInvalid))
}

func TestContractBytes(t *testing.T) {
	_, alice := TestKey("alice")

	for _, c := range []Contract{
		&MultiSig{NumRequired: 1, Owners: []Addr{alice}},
		&Token{Name: "Token", Symbol: "TOK", Decimals: 6, Owner: &alice},
		&PlotNFT{Owner: alice, Target: &alice, UnlockHeight: 7},
	} {
		decoded, err := NewContractFromBytes(ContractBytes(c))
		require.NoError(t, err)
		assert.Equal(t, c, decoded)
	}

	_, err := NewContractFromBytes([]byte{99})
	require.Error(t, err)
}

func TestExecutableIsValid(t *testing.T) {
	c := &Executable{}
	require.Error(t, c.IsValid(testParams))

	c = &Executable{
		Code:       make([]vm.Instruction, 2),
		InitMethod: "init",
	}
	require.Error(t, c.IsValid(testParams), "init method must exist")
}
