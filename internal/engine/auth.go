package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gagliardetto/solana-go"
)

// Request signing headers. The signature covers SigningMessage of the
// request, binding the body to its method and route.
const (
	HeaderSigner    = "X-Signer"
	HeaderSignature = "X-Signature"

	maxBodyBytes = 1 << 20
)

type signerKey struct{}

// SigningMessage returns the bytes a client signs for a request.
func SigningMessage(method, requestURI string, body []byte) []byte {
	msg := make([]byte, 0, len(method)+len(requestURI)+2+len(body))
	msg = append(msg, method...)
	msg = append(msg, ' ')
	msg = append(msg, requestURI...)
	msg = append(msg, '\n')
	return append(msg, body...)
}

// RequireSignature rejects requests that do not carry a valid ed25519
// signature from the key in X-Signer. The verified key is available to
// handlers through SignerFrom.
func RequireSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signer, body, err := verifyRequest(r)
		if err != nil {
			writeError(w, err)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), signerKey{}, signer)))
	})
}

func verifyRequest(r *http.Request) (solana.PublicKey, []byte, error) {
	signer, err := solana.PublicKeyFromBase58(r.Header.Get(HeaderSigner))
	if err != nil {
		return solana.PublicKey{}, nil, fmt.Errorf("%w: %s header: %v", ErrBadSignature, HeaderSigner, err)
	}
	sig, err := solana.SignatureFromBase58(r.Header.Get(HeaderSignature))
	if err != nil {
		return solana.PublicKey{}, nil, fmt.Errorf("%w: %s header: %v", ErrBadSignature, HeaderSignature, err)
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return solana.PublicKey{}, nil, fmt.Errorf("%w: read body: %v", ErrBadRequest, err)
	}
	if len(body) > maxBodyBytes {
		return solana.PublicKey{}, nil, fmt.Errorf("%w: body over %d bytes", ErrBadRequest, maxBodyBytes)
	}
	if !sig.Verify(signer, SigningMessage(r.Method, r.URL.RequestURI(), body)) {
		return solana.PublicKey{}, nil, fmt.Errorf("%w: %s", ErrBadSignature, signer)
	}
	return signer, body, nil
}

// SignerFrom returns the verified request signer.
func SignerFrom(ctx context.Context) (solana.PublicKey, bool) {
	pk, ok := ctx.Value(signerKey{}).(solana.PublicKey)
	return pk, ok
}
