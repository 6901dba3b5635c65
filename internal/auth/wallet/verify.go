// Package wallet implements the one locally-cryptographic sign-in
// path: EIP-191 personal-message signature verification against a
// server-issued, consume-once challenge.
package wallet

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"vault-auth/internal/auth"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultWindow bounds how old (or how far in the future, for clock
// skew) a challenge timestamp may be.
const DefaultWindow = 5 * time.Minute

// Verifier checks wallet sign-in requests.
type Verifier struct {
	nonces NonceStore
	window time.Duration
	now    func() time.Time
}

func NewVerifier(nonces NonceStore, window time.Duration) *Verifier {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Verifier{
		nonces: nonces,
		window: window,
		now:    time.Now,
	}
}

// Challenge issues a fresh nonce bound to the address and returns the
// message the wallet must sign.
func (v *Verifier) Challenge(ctx context.Context, address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("%w: not a hex address", auth.ErrInvalidInput)
	}

	nonce, err := NewNonce()
	if err != nil {
		return "", err
	}
	if err := v.nonces.Issue(ctx, nonce, address, v.window); err != nil {
		return "", err
	}
	return FormatMessage(strings.ToLower(address), nonce, v.now()), nil
}

// Verify checks a signed challenge for the claimed address. Every
// rejection is auth.ErrInvalidSignature: stale windows, consumed
// nonces and recovery mismatches are deliberately indistinguishable to
// the caller, so the endpoint cannot be used to enumerate accounts.
func (v *Verifier) Verify(ctx context.Context, claimedAddress, message string, signature []byte) error {
	if !common.IsHexAddress(claimedAddress) {
		return fmt.Errorf("%w: not a hex address", auth.ErrInvalidSignature)
	}

	parsed, err := parseMessage(message)
	if err != nil {
		return err
	}

	if !strings.EqualFold(parsed.Address, claimedAddress) {
		return fmt.Errorf("%w: address mismatch", auth.ErrInvalidSignature)
	}

	now := v.now()
	age := now.Sub(parsed.IssuedAt)
	if age > v.window || age < -v.window {
		return fmt.Errorf("%w: challenge outside window", auth.ErrInvalidSignature)
	}

	boundAddress, err := v.nonces.Consume(ctx, parsed.Nonce)
	if err != nil {
		return fmt.Errorf("%w: nonce", auth.ErrInvalidSignature)
	}
	if !strings.EqualFold(boundAddress, claimedAddress) {
		return fmt.Errorf("%w: nonce bound to different address", auth.ErrInvalidSignature)
	}

	recovered, err := RecoverAddress(message, signature)
	if err != nil {
		return err
	}
	if !strings.EqualFold(recovered.Hex(), claimedAddress) {
		return fmt.Errorf("%w: recovery mismatch", auth.ErrInvalidSignature)
	}
	return nil
}

// RecoverAddress recovers the signer of an EIP-191 personal message.
// Wallets emit V as 27/28; libraries emit 0/1; both are accepted.
func RecoverAddress(message string, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: bad signature length", auth.ErrInvalidSignature)
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("%w: bad recovery id", auth.ErrInvalidSignature)
	}

	pub, err := crypto.SigToPub(personalHash(message), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", auth.ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// personalHash computes the EIP-191 prefixed keccak digest.
func personalHash(message string) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return crypto.Keccak256([]byte(prefixed))
}

// ParseSignature decodes a 0x-prefixed (or bare) hex signature.
func ParseSignature(raw string) ([]byte, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	sig, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: signature is not hex", auth.ErrInvalidSignature)
	}
	return sig, nil
}
