// Package client requests attestation documents from a remote attestation server and verifies them locally.
package client

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	"github.com/DIMO-Network/enclave-attestation/pkg/attest"
	"github.com/mdlayher/vsock"
)

// ClientError is a typed error for client-side attestation failures.
type ClientError string

func (e ClientError) Error() string { return string(e) }

const (
	// ErrNonceMismatch is returned when the document does not carry the nonce the client sent.
	ErrNonceMismatch = ClientError("attestation nonce mismatch")
	// ErrUnexpectedStatus is returned when the server does not answer 200.
	ErrUnexpectedStatus = ClientError("unexpected response status")
	// ErrDocumentTooLarge is returned when the response is larger than any valid document.
	ErrDocumentTooLarge = ClientError("attestation document too large")
)

// NonceSize is the size of the random challenge sent with each request.
const NonceSize = 32

// NewVSockHTTPClient returns an http.Client that dials every request to the vsock address cid:port.
func NewVSockHTTPClient(cid, port uint32) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				conn, err := vsock.Dial(cid, port, nil)
				if err != nil {
					return nil, fmt.Errorf("failed to dial vsock %d:%d: %w", cid, port, err)
				}
				return conn, nil
			},
		},
	}
}

// Client fetches and verifies documents from one attestation server.
type Client struct {
	httpClient *http.Client
	baseURL    string
	verifier   *attest.Verifier
	policy     attest.Policy
}

// New creates a new Client. A nil httpClient uses http.DefaultClient.
func New(baseURL string, httpClient *http.Client, verifier *attest.Verifier, policy attest.Policy) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		verifier:   verifier,
		policy:     policy,
	}
}

// Attest challenges the server with a fresh nonce, verifies the returned document and
// checks that the nonce was bound into it. publicKey and userData are optional.
func (c *Client) Attest(ctx context.Context, publicKey, userData []byte) (*attest.Identity, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	document, err := c.fetch(ctx, publicKey, userData, nonce)
	if err != nil {
		return nil, err
	}
	doc, err := attest.Decode(document)
	if err != nil {
		return nil, fmt.Errorf("failed to decode attestation document: %w", err)
	}
	identity, err := c.verifier.Verify(doc, c.policy)
	if err != nil {
		return nil, fmt.Errorf("failed to verify attestation document: %w", err)
	}
	if !bytes.Equal(identity.Nonce, nonce) {
		return nil, ErrNonceMismatch
	}
	return identity, nil
}

func (c *Client) fetch(ctx context.Context, publicKey, userData, nonce []byte) ([]byte, error) {
	path, err := url.JoinPath(c.baseURL, "attestation", "raw")
	if err != nil {
		return nil, fmt.Errorf("create attestation URL: %w", err)
	}
	query := url.Values{}
	query.Set("nonce", hex.EncodeToString(nonce))
	if publicKey != nil {
		query.Set("public_key", hex.EncodeToString(publicKey))
	}
	if userData != nil {
		query.Set("user_data", hex.EncodeToString(userData))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create attestation request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send attestation request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // ignore error

	body, err := io.ReadAll(io.LimitReader(resp.Body, attest.MaxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read attestation response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &errResp)
		return nil, fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, errResp.Message)
	}
	if len(body) > attest.MaxDocumentSize {
		return nil, ErrDocumentTooLarge
	}
	return body, nil
}
