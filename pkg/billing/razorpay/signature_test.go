package razorpay

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/rzpsub/pkg/billing"
)

func TestVerifySignature_Preconditions(t *testing.T) {
	_, err := VerifySignature([]byte(`{}`), "abc", "")
	assert.ErrorIs(t, err, billing.ErrMissingWebhookSecret)

	_, err = VerifySignature([]byte(`{}`), "  ", "secret")
	assert.ErrorIs(t, err, billing.ErrMissingSignature)
}

func TestVerifySignature_KnownVector(t *testing.T) {
	body := []byte(`{"event":"subscription.activated"}`)
	sig := SignHex(body, "secret")

	ok, err := VerifySignature(body, sig, "secret")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifySignature(body, "not-hex", "secret")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = VerifySignature(body, sig[:len(sig)-2], "secret")
	require.NoError(t, err)
	assert.False(t, ok, "truncated signature must not verify")
}

func TestVerifySignature_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	randBytes := func(n int) []byte {
		b := make([]byte, n)
		rng.Read(b)
		return b
	}

	for i := 0; i < 200; i++ {
		body := randBytes(1 + rng.Intn(512))
		secret := string(randBytes(1 + rng.Intn(32)))
		sig := SignHex(body, secret)

		ok, err := VerifySignature(body, sig, secret)
		require.NoError(t, err)
		require.True(t, ok, "signature of body must verify")

		other := secret + "x"
		ok, err = VerifySignature(body, sig, other)
		require.NoError(t, err)
		require.False(t, ok, "signature must not verify under another secret")

		mutated := append([]byte(nil), body...)
		pos := rng.Intn(len(mutated))
		mutated[pos] ^= byte(1 + rng.Intn(255))
		ok, err = VerifySignature(mutated, sig, secret)
		require.NoError(t, err)
		require.False(t, ok, "single byte mutation at %d must not verify", pos)
	}
}
