package crypto_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/stakebox/crypto"
)

func TestKeyGen(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	assert.Len(t, pub.Hex(), 64)
	assert.Equal(t, pub.Hex(), priv.Public().Hex())

	back, err := crypto.PubKeyFromHex(pub.Hex())
	require.NoError(t, err)
	assert.Equal(t, pub, back)

	privBack, err := crypto.PrivKeyFromHex(priv.Hex())
	require.NoError(t, err)
	assert.Equal(t, priv, privBack)
}

func TestSignVerify(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	sig := crypto.Sign(priv, []byte("hello stakebox"))
	assert.NoError(t, crypto.Verify(pub, []byte("hello stakebox"), sig))
	assert.Error(t, crypto.Verify(pub, []byte("tampered"), sig))
}

func TestProgramAddress(t *testing.T) {
	a := crypto.ProgramAddress("staking", "authority")
	assert.Equal(t, a, crypto.ProgramAddress("staking", "authority"))
	assert.NotEqual(t, a, crypto.ProgramAddress("staking", "mint"))
	assert.NotEqual(t, crypto.ProgramAddress("staking"), a)

	// Program addresses decode like account keys so they can own state.
	_, err := crypto.PubKeyFromHex(a)
	assert.NoError(t, err)
}

func TestPubKeyFromHexRejectsBadInput(t *testing.T) {
	_, err := crypto.PubKeyFromHex("zz")
	assert.Error(t, err)
	_, err = crypto.PubKeyFromHex("abcd")
	assert.Error(t, err)
}
