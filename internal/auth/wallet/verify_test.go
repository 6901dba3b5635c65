package wallet

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"vault-auth/internal/auth"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type memNonceStore struct {
	mu     sync.Mutex
	nonces map[string]string
}

func newMemNonceStore() *memNonceStore {
	return &memNonceStore{nonces: make(map[string]string)}
}

func (s *memNonceStore) Issue(ctx context.Context, nonce, address string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonces[nonce] = strings.ToLower(address)
	return nil
}

func (s *memNonceStore) Consume(ctx context.Context, nonce string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, ok := s.nonces[nonce]
	if !ok {
		return "", ErrNonceUnknown
	}
	delete(s.nonces, nonce)
	return addr, nil
}

// --- helpers ---

func newSigner(t *testing.T) (address string, sign func(message string) []byte) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address = crypto.PubkeyToAddress(key.PublicKey).Hex()
	sign = func(message string) []byte {
		sig, err := crypto.Sign(personalHash(message), key)
		require.NoError(t, err)
		return sig
	}
	return address, sign
}

func challengeFor(t *testing.T, v *Verifier, address string) string {
	t.Helper()
	msg, err := v.Challenge(context.Background(), address)
	require.NoError(t, err)
	return msg
}

// --- tests ---

func TestVerify_ValidSignature(t *testing.T) {
	address, sign := newSigner(t)
	v := NewVerifier(newMemNonceStore(), DefaultWindow)

	msg := challengeFor(t, v, address)
	err := v.Verify(context.Background(), address, msg, sign(msg))
	assert.NoError(t, err)
}

func TestVerify_CaseInsensitiveAddress(t *testing.T) {
	address, sign := newSigner(t)
	v := NewVerifier(newMemNonceStore(), DefaultWindow)

	msg := challengeFor(t, v, address)
	claimed := "0x" + strings.ToUpper(strings.TrimPrefix(address, "0x"))
	err := v.Verify(context.Background(), claimed, msg, sign(msg))
	assert.NoError(t, err)
}

func TestVerify_BitFlippedSignatureRejected(t *testing.T) {
	address, sign := newSigner(t)
	v := NewVerifier(newMemNonceStore(), DefaultWindow)

	msg := challengeFor(t, v, address)
	sig := sign(msg)
	sig[10] ^= 0x01

	err := v.Verify(context.Background(), address, msg, sig)
	assert.ErrorIs(t, err, auth.ErrInvalidSignature)
}

func TestVerify_WrongSignerRejected(t *testing.T) {
	address, _ := newSigner(t)
	_, otherSign := newSigner(t)
	v := NewVerifier(newMemNonceStore(), DefaultWindow)

	msg := challengeFor(t, v, address)
	err := v.Verify(context.Background(), address, msg, otherSign(msg))
	assert.ErrorIs(t, err, auth.ErrInvalidSignature)
}

func TestVerify_NonceConsumedExactlyOnce(t *testing.T) {
	address, sign := newSigner(t)
	v := NewVerifier(newMemNonceStore(), DefaultWindow)

	msg := challengeFor(t, v, address)
	sig := sign(msg)

	require.NoError(t, v.Verify(context.Background(), address, msg, sig))

	// Replaying the identical signed message must fail.
	err := v.Verify(context.Background(), address, msg, sig)
	assert.ErrorIs(t, err, auth.ErrInvalidSignature)
}

func TestVerify_StaleChallengeRejected(t *testing.T) {
	address, sign := newSigner(t)
	v := NewVerifier(newMemNonceStore(), DefaultWindow)

	msg := challengeFor(t, v, address)

	// Move the verifier's clock past the window.
	v.now = func() time.Time { return time.Now().Add(6 * time.Minute) }

	err := v.Verify(context.Background(), address, msg, sign(msg))
	assert.ErrorIs(t, err, auth.ErrInvalidSignature)
}

func TestVerify_ClientComposedMessageRejected(t *testing.T) {
	address, sign := newSigner(t)
	v := NewVerifier(newMemNonceStore(), DefaultWindow)

	// A message the server never issued: client-chosen nonce.
	msg := FormatMessage(strings.ToLower(address), "client-chosen-nonce", time.Now())
	err := v.Verify(context.Background(), address, msg, sign(msg))
	assert.ErrorIs(t, err, auth.ErrInvalidSignature)
}

func TestVerify_NonceBoundToOtherAddress(t *testing.T) {
	addressA, _ := newSigner(t)
	addressB, signB := newSigner(t)
	store := newMemNonceStore()
	v := NewVerifier(store, DefaultWindow)

	// Challenge issued for A, presented by B with B's valid signature
	// over a message naming B.
	challengeFor(t, v, addressA)
	var nonce string
	for n := range store.nonces {
		nonce = n
	}

	msgB := FormatMessage(strings.ToLower(addressB), nonce, time.Now())
	err := v.Verify(context.Background(), addressB, msgB, signB(msgB))
	assert.ErrorIs(t, err, auth.ErrInvalidSignature)
}

func TestRecoverAddress_AcceptsLegacyRecoveryID(t *testing.T) {
	address, sign := newSigner(t)
	msg := "any message"
	sig := sign(msg)

	// crypto.Sign emits v as 0/1; wallets emit 27/28.
	sig[64] += 27

	recovered, err := RecoverAddress(msg, sig)
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(address), strings.ToLower(recovered.Hex()))
}

func TestRecoverAddress_BadLength(t *testing.T) {
	_, err := RecoverAddress("m", make([]byte, 64))
	assert.ErrorIs(t, err, auth.ErrInvalidSignature)
}

func TestParseSignature(t *testing.T) {
	sig, err := ParseSignature("0x" + strings.Repeat("ab", 65))
	require.NoError(t, err)
	assert.Len(t, sig, 65)

	_, err = ParseSignature("zz")
	assert.ErrorIs(t, err, auth.ErrInvalidSignature)
}

func TestFormatAndParseMessage(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := FormatMessage("0xabc0000000000000000000000000000000000def", "nonce123", issued)

	parsed, err := parseMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, "0xabc0000000000000000000000000000000000def", parsed.Address)
	assert.Equal(t, "nonce123", parsed.Nonce)
	assert.True(t, parsed.IssuedAt.Equal(issued))

	_, err = parseMessage("free-form text")
	assert.ErrorIs(t, err, auth.ErrInvalidSignature)
}
