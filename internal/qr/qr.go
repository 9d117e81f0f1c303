package qr

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"io"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	tokenBytes = 20
	// TokenLength is the encoded length of every issued token.
	TokenLength = 32
	imageSize   = 512
)

var tokenEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Code is a verification token together with its QR raster.
type Code struct {
	Token string
	PNG   []byte
}

// Issuer produces verification codes. The token is random and carries no
// document content; the QR image encodes the public verification URL.
type Issuer struct {
	baseURL string
	random  io.Reader
}

func NewIssuer(verifyBaseURL string) *Issuer {
	return &Issuer{baseURL: strings.TrimRight(verifyBaseURL, "/"), random: rand.Reader}
}

// Enabled reports whether a document should carry a QR code.
func Enabled(tenantQR, templateQR bool) bool {
	return tenantQR && templateQR
}

// NewToken returns a fresh 32-character token.
func (i *Issuer) NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := io.ReadFull(i.random, b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return strings.ToLower(tokenEncoding.EncodeToString(b)), nil
}

// URL is what the QR image encodes for token.
func (i *Issuer) URL(token string) string {
	return i.baseURL + "/verify/" + token
}

// Image encodes the verification URL for token as a PNG.
func (i *Issuer) Image(token string) ([]byte, error) {
	png, err := qrcode.Encode(i.URL(token), qrcode.Medium, imageSize)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}

// Issue generates a token and its image.
func (i *Issuer) Issue() (*Code, error) {
	token, err := i.NewToken()
	if err != nil {
		return nil, err
	}
	png, err := i.Image(token)
	if err != nil {
		return nil, err
	}
	return &Code{Token: token, PNG: png}, nil
}

// ValidToken reports whether s has the shape of an issued token. It is a
// cheap filter before any lookup.
func ValidToken(s string) bool {
	if len(s) != TokenLength {
		return false
	}
	for _, c := range s {
		if !(c >= 'a' && c <= 'z' || c >= '2' && c <= '7') {
			return false
		}
	}
	return true
}
