package remotecustody

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/neuraiproject/wcbridge/internal/core/domain"
	"github.com/neuraiproject/wcbridge/internal/core/ports"
	"github.com/neuraiproject/wcbridge/pkg/circuitbreaker"
	"github.com/sony/gobreaker"
)

const (
	derivePath      = "/v1/derive"
	signPath        = "/v1/sign"
	signCompactPath = "/v1/sign-compact"

	tokenIssuer   = "wcbridge"
	tokenLifetime = time.Minute
)

type deriveRequest struct {
	Path string `json:"path"`
}

type deriveResponse struct {
	Path      string `json:"path"`
	PublicKey string `json:"publicKey"`
}

type signRequest struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
}

type signResponse struct {
	Signature string `json:"signature"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type publicKeyHandle struct {
	path   string
	pubkey []byte
}

func (h publicKeyHandle) GetPath() string {
	return h.path
}

func (h publicKeyHandle) GetPubKey() []byte {
	return h.pubkey
}

type service struct {
	baseURL    string
	secret     []byte
	httpClient *client
	cb         *gobreaker.CircuitBreaker
}

// NewService returns a Custody delegating key derivation and signing to a
// remote signer over HTTP. If secret is not empty, every request carries a
// short-lived HS256 bearer token signed with it.
func NewService(
	baseURL, secret string, requestTimeout time.Duration,
) (ports.Custody, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("missing signer url")
	}
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid signer url: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("invalid signer url scheme %q", parsedURL.Scheme)
	}
	if requestTimeout <= 0 {
		return nil, fmt.Errorf("request timeout must be positive")
	}

	return &service{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		secret:     []byte(secret),
		httpClient: newHTTPClient(requestTimeout),
		cb:         circuitbreaker.NewCircuitBreaker("custody"),
	}, nil
}

func (s *service) Derive(
	ctx context.Context, path string,
) (ports.PublicKeyHandle, error) {
	var res deriveResponse
	if err := s.doRequest(
		ctx, derivePath, deriveRequest{path}, &res,
	); err != nil {
		return nil, err
	}

	pubkey, err := hex.DecodeString(res.PublicKey)
	if err != nil || len(pubkey) != 33 {
		return nil, fmt.Errorf("signer returned an invalid public key")
	}
	if res.Path == "" {
		res.Path = path
	}
	return publicKeyHandle{res.Path, pubkey}, nil
}

func (s *service) Sign(
	ctx context.Context, sighash []byte, path string,
) ([]byte, error) {
	return s.sign(ctx, signPath, sighash, path)
}

func (s *service) SignCompact(
	ctx context.Context, hash []byte, path string,
) ([]byte, error) {
	sig, err := s.sign(ctx, signCompactPath, hash, path)
	if err != nil {
		return nil, err
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("signer returned an invalid compact signature")
	}
	return sig, nil
}

func (s *service) sign(
	ctx context.Context, endpoint string, hash []byte, path string,
) ([]byte, error) {
	var res signResponse
	if err := s.doRequest(
		ctx, endpoint, signRequest{path, hex.EncodeToString(hash)}, &res,
	); err != nil {
		return nil, err
	}

	sig, err := hex.DecodeString(res.Signature)
	if err != nil || len(sig) == 0 {
		return nil, fmt.Errorf("signer returned an invalid signature")
	}
	return sig, nil
}

func (s *service) doRequest(
	ctx context.Context, endpoint string, req, res interface{},
) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	iBody, err := s.cb.Execute(func() (interface{}, error) {
		headers := map[string]string{
			"Content-Type": "application/json",
		}
		if len(s.secret) > 0 {
			tokenString, err := s.newToken()
			if err != nil {
				return nil, err
			}
			headers["Authorization"] = fmt.Sprintf("Bearer %s", tokenString)
		}

		status, resp, err := s.httpClient.post(
			ctx, s.baseURL+endpoint, body, headers,
		)
		if err != nil {
			return nil, err
		}
		if status >= http.StatusInternalServerError {
			return nil, fmt.Errorf("signer error: %s", errorMessage(status, resp))
		}
		return signerResponse{status, resp}, nil
	})
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) ||
			(errors.As(err, &netErr) && netErr.Timeout()) {
			return domain.WrapError(
				domain.ErrTransportTimeout, err, "custody %s", endpoint,
			)
		}
		return err
	}

	signerRes := iBody.(signerResponse)
	if signerRes.status != http.StatusOK {
		return fmt.Errorf(
			"signer refused request: %s",
			errorMessage(signerRes.status, signerRes.body),
		)
	}
	if err := json.Unmarshal(signerRes.body, res); err != nil {
		return fmt.Errorf("failed to parse signer response: %w", err)
	}
	return nil
}

func (s *service) newToken() (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.StandardClaims{
		Issuer:    tokenIssuer,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(tokenLifetime).Unix(),
	})
	return token.SignedString(s.secret)
}

type signerResponse struct {
	status int
	body   []byte
}

func errorMessage(status int, body []byte) string {
	var res errorResponse
	if err := json.Unmarshal(body, &res); err == nil && res.Error != "" {
		return res.Error
	}
	if len(body) > 0 {
		return strings.TrimSpace(string(body))
	}
	return http.StatusText(status)
}
