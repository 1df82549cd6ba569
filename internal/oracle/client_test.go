package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/settlement-engine/internal/rail"
	customError "github.com/segyhp/settlement-engine/pkg/errors"
	"github.com/segyhp/settlement-engine/pkg/response"
)

func TestHTTPClient_RequestVerification(t *testing.T) {
	svc, _ := newTestService(t, &scriptedVerifier{outcomes: []rail.Verification{{Outcome: rail.OutcomeSuccess}}})
	obl := paidObligation(t, svc.Identity())

	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "signed result",
			handler: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, VerifyPath, r.URL.Path)
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
				var req VerifyRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				result, err := svc.Verify(r.Context(), req.Obligation)
				require.NoError(t, err)
				response.Success(w, result)
			},
		},
		{
			name: "business error keeps its sentinel",
			handler: func(w http.ResponseWriter, r *http.Request) {
				response.FromError(w, "verification refused", customError.WrapUnauthorized("not the oracle"))
			},
			wantErr: customError.ErrUnauthorized,
		},
		{
			name: "server failure",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			wantErr: customError.ErrOracleUnavailable,
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("not json"))
			},
			wantErr: customError.ErrOracleUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			client := NewHTTPClient(server.URL+"/", "tok", 5*time.Second)
			result, err := client.RequestVerification(context.Background(), obl)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, result)
				return
			}
			require.NoError(t, err)
			assert.True(t, result.Succeeded())
			assert.NoError(t, VerifySignature(*result))
		})
	}
}

func TestHTTPClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	svc, _ := newTestService(t, &scriptedVerifier{outcomes: []rail.Verification{{Outcome: rail.OutcomeSuccess}}})
	_, err := NewHTTPClient(url, "", time.Second).RequestVerification(context.Background(), paidObligation(t, svc.Identity()))
	assert.ErrorIs(t, err, customError.ErrOracleUnavailable)
}

func TestLocalClient(t *testing.T) {
	svc, _ := newTestService(t, &scriptedVerifier{outcomes: []rail.Verification{{Outcome: rail.OutcomeSuccess}}})
	result, err := NewLocalClient(svc).RequestVerification(context.Background(), paidObligation(t, svc.Identity()))
	require.NoError(t, err)
	assert.Equal(t, svc.Identity(), result.Oracle)
}
