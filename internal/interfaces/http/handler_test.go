package httpinterface

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/neuraiproject/wcbridge/internal/core/application"
	"github.com/neuraiproject/wcbridge/internal/core/domain"
	"github.com/neuraiproject/wcbridge/pkg/stats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestOperatorHandler(t *testing.T) {
	operatorSvc := &mockOperatorService{}
	operatorSvc.On("GetStatus", mock.Anything).Return(&application.Status{
		ChainId:        "bip122:00000044d33c0c0ba019be5c02497304",
		Network:        "mainnet",
		Running:        true,
		ActiveSessions: 1,
		Accounts:       2,
	}, nil)
	operatorSvc.On("ListSessions", mock.Anything).Return([]application.SessionInfo{
		{Topic: "t1", PeerName: "dapp"},
	}, nil)
	operatorSvc.On("Disconnect", mock.Anything, "t1").Return(nil)
	operatorSvc.On("Disconnect", mock.Anything, "t2").
		Return(domain.NewError(domain.ErrSessionNotFound, "t2"))
	operatorSvc.On("Pair", mock.Anything, "wc:abc@2").Return(nil)
	operatorSvc.On("Pair", mock.Anything, "").
		Return(domain.NewError(domain.ErrInvalidParams, "missing pairing uri"))
	operatorSvc.On("AddAccount", mock.Anything, "m/44'/1900'/0'/0/1").
		Return(&application.AccountInfo{
			AccountId: "bip122:00000044d33c0c0ba019be5c02497304:NSWD4ytAYkn5NrPbrTB6Rbz9rFXTb1jvpV",
			Address:   "NSWD4ytAYkn5NrPbrTB6Rbz9rFXTb1jvpV",
			Path:      "m/44'/1900'/0'/0/1",
		}, nil)
	operatorSvc.On("RemoveAccount", mock.Anything, "NSWD4ytAYkn5NrPbrTB6Rbz9rFXTb1jvpV").
		Return(application.ErrSupervisorStopped)
	operatorSvc.On("ListAccounts", mock.Anything).Return([]application.AccountInfo{})

	mux := http.NewServeMux()
	newOperatorHandler(operatorSvc).register(mux)

	tests := []struct {
		name           string
		method         string
		path           string
		body           string
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "status",
			method:         http.MethodGet,
			path:           "/v1/status",
			expectedStatus: http.StatusOK,
			expectedBody: `{
				"chainId": "bip122:00000044d33c0c0ba019be5c02497304",
				"network": "mainnet",
				"running": true,
				"activeSessions": 1,
				"accounts": 2
			}`,
		},
		{
			name:           "list_sessions",
			method:         http.MethodGet,
			path:           "/v1/sessions",
			expectedStatus: http.StatusOK,
			expectedBody: `{"sessions": [{
				"topic": "t1", "peerName": "dapp", "chains": null,
				"methods": null, "accounts": null, "createdAt": 0
			}]}`,
		},
		{
			name:           "disconnect",
			method:         http.MethodDelete,
			path:           "/v1/sessions/t1",
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "disconnect_unknown",
			method:         http.MethodDelete,
			path:           "/v1/sessions/t2",
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "pair",
			method:         http.MethodPost,
			path:           "/v1/pair",
			body:           `{"uri": "wc:abc@2"}`,
			expectedStatus: http.StatusAccepted,
		},
		{
			name:           "pair_missing_uri",
			method:         http.MethodPost,
			path:           "/v1/pair",
			body:           `{}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "pair_malformed_body",
			method:         http.MethodPost,
			path:           "/v1/pair",
			body:           `{"url": "wc:abc@2"}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "add_account",
			method:         http.MethodPost,
			path:           "/v1/accounts",
			body:           `{"path": "m/44'/1900'/0'/0/1"}`,
			expectedStatus: http.StatusOK,
			expectedBody: `{
				"accountId": "bip122:00000044d33c0c0ba019be5c02497304:NSWD4ytAYkn5NrPbrTB6Rbz9rFXTb1jvpV",
				"address": "NSWD4ytAYkn5NrPbrTB6Rbz9rFXTb1jvpV",
				"path": "m/44'/1900'/0'/0/1"
			}`,
		},
		{
			name:           "list_accounts",
			method:         http.MethodGet,
			path:           "/v1/accounts",
			expectedStatus: http.StatusOK,
			expectedBody:   `{"accounts": []}`,
		},
		{
			name:           "remove_account_stopped",
			method:         http.MethodDelete,
			path:           "/v1/accounts/NSWD4ytAYkn5NrPbrTB6Rbz9rFXTb1jvpV",
			expectedStatus: http.StatusServiceUnavailable,
		},
		{
			name:           "wrong_method",
			method:         http.MethodPost,
			path:           "/v1/status",
			expectedStatus: http.StatusMethodNotAllowed,
		},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			require.Equal(t, tt.expectedStatus, rec.Code, rec.Body.String())
			if tt.expectedBody != "" {
				require.JSONEq(t, tt.expectedBody, rec.Body.String())
			}
		})
	}
}

func TestErrorBody(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, domain.NewError(domain.ErrSessionNotFound, "t2"))

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, application.CodeSessionNotFound, body.Code)
	require.Contains(t, body.Error, "t2")
}

func TestMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics, err := stats.NewMetrics(registry)
	require.NoError(t, err)
	metrics.ObserveRequest("neurai_getAddresses", 0)

	svc, err := NewService(ServiceOpts{
		Address:     "127.0.0.1:0",
		OperatorSvc: &mockOperatorService{},
		Gatherer:    registry,
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	svc.(*service).server.Handler.ServeHTTP(
		rec, httptest.NewRequest(http.MethodGet, "/metrics", nil),
	)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "wcbridge_requests_total")
}

func TestFailingNewService(t *testing.T) {
	_, err := NewService(ServiceOpts{OperatorSvc: &mockOperatorService{}})
	require.Error(t, err)
	_, err = NewService(ServiceOpts{Address: "localhost"})
	require.Error(t, err)
	_, err = NewService(ServiceOpts{Address: "localhost:9000"})
	require.Error(t, err)
}

type mockOperatorService struct {
	mock.Mock
}

func (m *mockOperatorService) GetStatus(ctx context.Context) (*application.Status, error) {
	args := m.Called(ctx)
	var res *application.Status
	if a := args.Get(0); a != nil {
		res = a.(*application.Status)
	}
	return res, args.Error(1)
}

func (m *mockOperatorService) ListSessions(
	ctx context.Context,
) ([]application.SessionInfo, error) {
	args := m.Called(ctx)
	var res []application.SessionInfo
	if a := args.Get(0); a != nil {
		res = a.([]application.SessionInfo)
	}
	return res, args.Error(1)
}

func (m *mockOperatorService) Disconnect(ctx context.Context, topic string) error {
	args := m.Called(ctx, topic)
	return args.Error(0)
}

func (m *mockOperatorService) Pair(ctx context.Context, uri string) error {
	args := m.Called(ctx, uri)
	return args.Error(0)
}

func (m *mockOperatorService) ListAccounts(
	ctx context.Context,
) []application.AccountInfo {
	args := m.Called(ctx)
	return args.Get(0).([]application.AccountInfo)
}

func (m *mockOperatorService) AddAccount(
	ctx context.Context, path string,
) (*application.AccountInfo, error) {
	args := m.Called(ctx, path)
	var res *application.AccountInfo
	if a := args.Get(0); a != nil {
		res = a.(*application.AccountInfo)
	}
	return res, args.Error(1)
}

func (m *mockOperatorService) RemoveAccount(ctx context.Context, address string) error {
	args := m.Called(ctx, address)
	return args.Error(0)
}
