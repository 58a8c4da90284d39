package sigverify_test

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/stretchr/testify/require"

	"github.com/geanlabs/gravity/checkpoint"
	"github.com/geanlabs/gravity/internal/testutil"
	"github.com/geanlabs/gravity/sigverify"
	"github.com/geanlabs/gravity/types"
)

func newVerifier() *sigverify.Verifier {
	return sigverify.NewVerifier(sigverify.ECDSARecoverer{})
}

func TestVerifyThresholdScenarios(t *testing.T) {
	keyed := testutil.NewKeyedSet(t, 0, 5, 8, 12)
	digest := checkpoint.Valset(testutil.BridgeID, keyed.Set)

	tests := []struct {
		name    string
		signers []int
		power   types.Power
		wantErr error
	}{
		{"eight_plus_twelve", []int{1, 2}, 20, nil},
		{"all", []int{0, 1, 2}, 25, nil},
		{"only_five", []int{0}, 5, types.ErrInsufficientPower},
		{"five_plus_eight", []int{0, 1}, 13, types.ErrInsufficientPower},
		{"none", nil, 0, types.ErrInsufficientPower},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			power, err := newVerifier().Verify(digest, keyed.Set, keyed.Bundle(t, digest, tt.signers...), sigverify.TwoThirds)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tt.power, power)
		})
	}
}

func TestVerifyExactlyTwoThirds(t *testing.T) {
	// 2*3 = 6 >= 3*2 = 6
	keyed := testutil.NewKeyedSet(t, 0, 1, 1, 1)
	digest := checkpoint.Valset(testutil.BridgeID, keyed.Set)

	power, err := newVerifier().Verify(digest, keyed.Set, keyed.Bundle(t, digest, 0, 2), sigverify.TwoThirds)
	require.NoError(t, err)
	require.Equal(t, types.Power(2), power)
}

func TestVerifyMonotonicInSigners(t *testing.T) {
	keyed := testutil.NewKeyedSet(t, 0, 3, 1, 4, 1, 5, 9)
	digest := checkpoint.Valset(testutil.BridgeID, keyed.Set)
	v := newVerifier()

	var (
		signers []int
		last    types.Power
		reached bool
	)
	for i := range keyed.Set.Members {
		signers = append(signers, i)
		power, err := v.Verify(digest, keyed.Set, keyed.Bundle(t, digest, signers...), sigverify.TwoThirds)
		require.GreaterOrEqual(t, power, last)
		if reached {
			require.NoError(t, err)
		}
		if err == nil {
			reached = true
		}
		last = power
	}
	require.True(t, reached)
}

func TestVerifyMalformed(t *testing.T) {
	keyed := testutil.NewKeyedSet(t, 0, 5, 8, 12)
	digest := checkpoint.Valset(testutil.BridgeID, keyed.Set)
	v := newVerifier()

	short := keyed.Bundle(t, digest, 1, 2)
	short.Signatures = short.Signatures[:2]
	_, err := v.Verify(digest, keyed.Set, short, sigverify.TwoThirds)
	require.ErrorIs(t, err, types.ErrMalformedInput)

	misaligned := keyed.Bundle(t, digest, 1, 2)
	misaligned.Signers[0], misaligned.Signers[1] = misaligned.Signers[1], misaligned.Signers[0]
	_, err = v.Verify(digest, keyed.Set, misaligned, sigverify.TwoThirds)
	require.ErrorIs(t, err, types.ErrMalformedInput)

	badV := keyed.Bundle(t, digest, 1, 2)
	badV.Signatures[2][64] = 5
	_, err = v.Verify(digest, keyed.Set, badV, sigverify.TwoThirds)
	require.ErrorIs(t, err, types.ErrMalformedInput)

	truncated := keyed.Bundle(t, digest, 1, 2)
	truncated.Signatures[1] = truncated.Signatures[1][:10]
	_, err = v.Verify(digest, keyed.Set, truncated, sigverify.TwoThirds)
	require.ErrorIs(t, err, types.ErrMalformedInput)

	_, err = v.Verify(digest, nil, short, sigverify.TwoThirds)
	require.ErrorIs(t, err, types.ErrMalformedInput)
}

func TestVerifyAbstainSentinel(t *testing.T) {
	keyed := testutil.NewKeyedSet(t, 0, 5, 8, 12)
	digest := checkpoint.Valset(testutil.BridgeID, keyed.Set)
	v := newVerifier()

	zero := keyed.Bundle(t, digest, 1, 2)
	zero.Signatures[0] = make(types.Signature, sigverify.ECDSASignatureLength)
	power, err := v.Verify(digest, keyed.Set, zero, sigverify.TwoThirds)
	require.NoError(t, err)
	require.Equal(t, types.Power(20), power)

	// v == 0 with r and s set is a broken signature, not an abstention
	stripped := keyed.Bundle(t, digest, 0, 1, 2)
	stripped.Signatures[0][64] = 0
	_, err = v.Verify(digest, keyed.Set, stripped, sigverify.TwoThirds)
	require.ErrorIs(t, err, types.ErrMalformedInput)

	r := sigverify.ECDSARecoverer{}
	require.True(t, r.IsAbstain(nil))
	require.True(t, r.IsAbstain(make(types.Signature, sigverify.ECDSASignatureLength)))
	require.False(t, r.IsAbstain(stripped.Signatures[0]))
	require.False(t, r.IsAbstain(make(types.Signature, 10)))
}

func TestVerifySignatureOrderMatters(t *testing.T) {
	keyed := testutil.NewKeyedSet(t, 0, 5, 8, 12)
	digest := checkpoint.Valset(testutil.BridgeID, keyed.Set)

	bundle := keyed.Bundle(t, digest, 1, 2)
	bundle.Signatures[1], bundle.Signatures[2] = bundle.Signatures[2], bundle.Signatures[1]

	_, err := newVerifier().Verify(digest, keyed.Set, bundle, sigverify.TwoThirds)
	require.ErrorIs(t, err, types.ErrSignatureMismatch)
}

func TestVerifyWrongDigest(t *testing.T) {
	keyed := testutil.NewKeyedSet(t, 0, 5, 8, 12)
	digest := checkpoint.Valset(testutil.BridgeID, keyed.Set)
	other := checkpoint.Checkpoint(testutil.BridgeID, checkpoint.TagBatch, 0, keyed.Set.Members)

	_, err := newVerifier().Verify(other, keyed.Set, keyed.Bundle(t, digest, 1, 2), sigverify.TwoThirds)
	require.ErrorIs(t, err, types.ErrSignatureMismatch)
}

func TestVerifyConfigurableThreshold(t *testing.T) {
	keyed := testutil.NewKeyedSet(t, 0, 5, 8, 12)
	digest := checkpoint.Valset(testutil.BridgeID, keyed.Set)
	bundle := keyed.Bundle(t, digest, 1, 2)

	_, err := newVerifier().Verify(digest, keyed.Set, bundle, sigverify.Threshold{Numerator: 4, Denominator: 5})
	require.NoError(t, err)
	_, err = newVerifier().Verify(digest, keyed.Set, bundle, sigverify.Threshold{Numerator: 9, Denominator: 10})
	require.ErrorIs(t, err, types.ErrInsufficientPower)
}

func TestVerifyOne(t *testing.T) {
	keyed := testutil.NewKeyedSet(t, 0, 1, 1)
	digest := types.Digest{0xaa}
	sig, err := keyed.Signers[0].Sign(digest)
	require.NoError(t, err)

	v := newVerifier()
	require.NoError(t, v.VerifyOne(digest, keyed.Set.Members[0].Signer, sig))
	require.ErrorIs(t, v.VerifyOne(digest, keyed.Set.Members[1].Signer, sig), types.ErrSignatureMismatch)
	require.ErrorIs(t, v.VerifyOne(digest, keyed.Set.Members[0].Signer, nil), types.ErrMalformedInput)
}

func TestEd25519Recoverer(t *testing.T) {
	priv, _, err := p2pcrypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	signer, err := sigverify.NewEd25519Signer(priv)
	require.NoError(t, err)

	digest := types.Digest{1, 2, 3}
	sig, err := signer.Sign(digest)
	require.NoError(t, err)
	require.Len(t, sig, sigverify.Ed25519SignatureLength)

	r := sigverify.Ed25519Recoverer{}
	got, err := r.Recover(digest, sig)
	require.NoError(t, err)
	require.Equal(t, signer.Address(), got)

	_, err = r.Recover(types.Digest{9}, sig)
	require.ErrorIs(t, err, types.ErrSignatureMismatch)
	require.True(t, r.IsAbstain(nil))

	set, err := types.NewValidatorSet(0, []types.Validator{{Signer: signer.Address(), Power: 1}})
	require.NoError(t, err)
	bundle := &types.SignatureBundle{Signers: set.Signers(), Signatures: []types.Signature{sig}}
	power, err := sigverify.NewVerifier(r).Verify(digest, set, bundle, sigverify.TwoThirds)
	require.NoError(t, err)
	require.Equal(t, types.Power(1), power)
}

func TestNewRecoverer(t *testing.T) {
	r, err := sigverify.NewRecoverer("ECDSA")
	require.NoError(t, err)
	require.IsType(t, sigverify.ECDSARecoverer{}, r)

	r, err = sigverify.NewRecoverer("ed25519")
	require.NoError(t, err)
	require.IsType(t, sigverify.Ed25519Recoverer{}, r)

	_, err = sigverify.NewRecoverer("bls")
	require.Error(t, err)
}

func TestCachingRecoverer(t *testing.T) {
	keyed := testutil.NewKeyedSet(t, 0, 1)
	digest := types.Digest{7}
	sig, err := keyed.Signers[0].Sign(digest)
	require.NoError(t, err)

	c, err := sigverify.NewCachingRecoverer(sigverify.ECDSARecoverer{}, 8)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		got, err := c.Recover(digest, sig)
		require.NoError(t, err)
		require.Equal(t, keyed.Set.Members[0].Signer, got)
	}
	require.Equal(t, 1, c.Len())

	_, err = c.Recover(digest, sig[:3])
	require.ErrorIs(t, err, types.ErrMalformedInput)
	require.Equal(t, 1, c.Len())
}

func TestLoadSigner(t *testing.T) {
	dir := t.TempDir()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	ecdsaPath := filepath.Join(dir, "ecdsa.key")
	require.NoError(t, crypto.SaveECDSA(ecdsaPath, key))

	s, err := sigverify.LoadSigner("ecdsa", ecdsaPath)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), s.Address())

	priv, _, err := p2pcrypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	raw, err := p2pcrypto.MarshalPrivateKey(priv)
	require.NoError(t, err)
	edPath := filepath.Join(dir, "ed25519.key")
	require.NoError(t, os.WriteFile(edPath, []byte(hex.EncodeToString(raw)), 0o600))

	s, err = sigverify.LoadSigner("ed25519", edPath)
	require.NoError(t, err)
	digest := types.Digest{4}
	sig, err := s.Sign(digest)
	require.NoError(t, err)
	got, err := sigverify.Ed25519Recoverer{}.Recover(digest, sig)
	require.NoError(t, err)
	require.Equal(t, s.Address(), got)

	_, err = sigverify.LoadSigner("ed25519", ecdsaPath)
	require.Error(t, err)
	_, err = sigverify.LoadSigner("bls", ecdsaPath)
	require.Error(t, err)
}
