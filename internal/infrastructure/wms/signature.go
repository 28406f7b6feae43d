package wms

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/wmsync/backend/internal/domain/integration"
)

// VerifySignature checks the HMAC-SHA256 of body against the signature the
// provider put in the request headers. An empty secret disables the check.
func VerifySignature(scheme integration.SignatureScheme, secret string, body []byte, header http.Header) error {
	if secret == "" {
		return nil
	}
	got := strings.TrimSpace(scheme.SignatureFrom(header))
	if got == "" {
		return fmt.Errorf("%w: missing %s header", integration.ErrInvalidSignature, scheme.Header)
	}

	var sig []byte
	var err error
	switch scheme.Encoding {
	case "base64":
		sig, err = base64.StdEncoding.DecodeString(got)
	default:
		sig, err = hex.DecodeString(strings.ToLower(got))
	}
	if err != nil {
		return fmt.Errorf("%w: malformed signature", integration.ErrInvalidSignature)
	}

	if !hmac.Equal(sig, Sign(secret, body)) {
		return integration.ErrInvalidSignature
	}
	return nil
}

// Sign returns the HMAC-SHA256 of body under secret
func Sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// EncodeSignature renders a signature the way scheme expects it in the header
func EncodeSignature(scheme integration.SignatureScheme, sig []byte) string {
	if scheme.Encoding == "base64" {
		return scheme.Prefix + base64.StdEncoding.EncodeToString(sig)
	}
	return scheme.Prefix + hex.EncodeToString(sig)
}
