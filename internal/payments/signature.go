package payments

import (
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"strings"
)

// Line endings inside field values are normalized to %0A before hashing so
// both sides compute the digest over identical bytes.
var lineEndingNormalizer = strings.NewReplacer("%0D%0A", "%0A", "%0A%0D", "%0A", "%0D", "%0A")

// Sign computes the gateway request signature: fields sorted by name,
// url-encoded, line endings normalized, then SHA512 over the encoded string
// concatenated with the signing key.
func Sign(fields url.Values, key string) string {
	encoded := lineEndingNormalizer.Replace(fields.Encode())
	digest := sha512.Sum512([]byte(encoded + key))
	return hex.EncodeToString(digest[:])
}
