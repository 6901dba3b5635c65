package wallet

import (
	"fmt"
	"strings"
	"time"

	"vault-auth/internal/auth"
)

// Challenge messages are server-composed: the nonce and timestamp are
// chosen here, never by the client, so a captured signature cannot be
// replayed once the nonce is consumed or the window closes.
const (
	messageHeader  = "vault-auth wants you to sign in with your wallet."
	addressLabel   = "Address: "
	nonceLabel     = "Nonce: "
	issuedAtLabel  = "Issued At: "
	messageLineSep = "\n"
)

// FormatMessage renders the challenge the wallet is asked to sign.
func FormatMessage(address, nonce string, issuedAt time.Time) string {
	return strings.Join([]string{
		messageHeader,
		"",
		addressLabel + address,
		nonceLabel + nonce,
		issuedAtLabel + issuedAt.UTC().Format(time.RFC3339),
	}, messageLineSep)
}

type parsedMessage struct {
	Address  string
	Nonce    string
	IssuedAt time.Time
}

// parseMessage rejects anything that is not byte-for-byte the template
// this service produced. Free-form messages would let a client choose
// its own nonce.
func parseMessage(message string) (*parsedMessage, error) {
	lines := strings.Split(message, messageLineSep)
	if len(lines) != 5 || lines[0] != messageHeader || lines[1] != "" {
		return nil, fmt.Errorf("%w: unrecognized message", auth.ErrInvalidSignature)
	}

	address, ok := strings.CutPrefix(lines[2], addressLabel)
	if !ok {
		return nil, fmt.Errorf("%w: unrecognized message", auth.ErrInvalidSignature)
	}
	nonce, ok := strings.CutPrefix(lines[3], nonceLabel)
	if !ok {
		return nil, fmt.Errorf("%w: unrecognized message", auth.ErrInvalidSignature)
	}
	issuedRaw, ok := strings.CutPrefix(lines[4], issuedAtLabel)
	if !ok {
		return nil, fmt.Errorf("%w: unrecognized message", auth.ErrInvalidSignature)
	}

	issuedAt, err := time.Parse(time.RFC3339, issuedRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: unrecognized message", auth.ErrInvalidSignature)
	}

	return &parsedMessage{
		Address:  address,
		Nonce:    nonce,
		IssuedAt: issuedAt,
	}, nil
}
