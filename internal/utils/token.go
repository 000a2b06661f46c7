package utils // package utils provides helpers for ticket tokens, verify links and operator JWTs

import (
    "crypto/rand"     // secure random number generation
    "encoding/base64" // URL-safe text encoding of the random bytes
    "strings"
)

// TicketTokenBytes is the amount of randomness behind each ticket token.
// 16 bytes give 128 bits, well above what the ticket volume needs.
const TicketTokenBytes = 16

// TokenGenerator mints ticket tokens from crypto/rand.
type TokenGenerator struct{}

// Mint returns a fresh unpadded base64url token (22 characters).
func (TokenGenerator) Mint() (string, error) {
    buf := make([]byte, TicketTokenBytes)
    if _, err := rand.Read(buf); err != nil {
        return "", err
    }
    return base64.RawURLEncoding.EncodeToString(buf), nil
}

// VerifyURL builds the link encoded in a ticket's QR code.  The result is a
// pure function of base and token.
func VerifyURL(base, token string) string {
    return strings.TrimRight(base, "/") + "/verify/" + token
}
