package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/neuraiproject/wcbridge/internal/core/application"
)

const requestTimeout = 30 * time.Second

type operatorError struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

type operatorClient struct {
	baseURL    string
	httpClient *http.Client
}

func newOperatorClient(address string) (*operatorClient, error) {
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("invalid rpcserver: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid rpcserver scheme %q", u.Scheme)
	}
	return &operatorClient{
		baseURL:    strings.TrimSuffix(u.String(), "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
	}, nil
}

func (c *operatorClient) status(ctx context.Context) (*application.Status, error) {
	var resp application.Status
	if err := c.do(ctx, http.MethodGet, "/v1/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *operatorClient) listSessions(
	ctx context.Context,
) ([]application.SessionInfo, error) {
	var resp struct {
		Sessions []application.SessionInfo `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/sessions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

func (c *operatorClient) disconnect(ctx context.Context, topic string) error {
	return c.do(
		ctx, http.MethodDelete, "/v1/sessions/"+url.PathEscape(topic), nil, nil,
	)
}

func (c *operatorClient) pair(ctx context.Context, uri string) error {
	return c.do(
		ctx, http.MethodPost, "/v1/pair", map[string]string{"uri": uri}, nil,
	)
}

func (c *operatorClient) listAccounts(
	ctx context.Context,
) ([]application.AccountInfo, error) {
	var resp struct {
		Accounts []application.AccountInfo `json:"accounts"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/accounts", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Accounts, nil
}

func (c *operatorClient) addAccount(
	ctx context.Context, path string,
) (*application.AccountInfo, error) {
	var resp application.AccountInfo
	if err := c.do(
		ctx, http.MethodPost, "/v1/accounts", map[string]string{"path": path}, &resp,
	); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *operatorClient) removeAccount(ctx context.Context, address string) error {
	return c.do(
		ctx, http.MethodDelete, "/v1/accounts/"+url.PathEscape(address), nil, nil,
	)
}

func (c *operatorClient) do(
	ctx context.Context, method, path string, body, resp interface{},
) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("unable to connect to operator interface: %w", err)
	}
	defer res.Body.Close()

	buf, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}

	if res.StatusCode >= http.StatusBadRequest {
		var e operatorError
		if err := json.Unmarshal(buf, &e); err != nil || e.Error == "" {
			return fmt.Errorf("operator interface replied %s", res.Status)
		}
		return fmt.Errorf("%s (code %d)", e.Error, e.Code)
	}

	if resp == nil || len(buf) == 0 {
		return nil
	}
	return json.Unmarshal(buf, resp)
}
