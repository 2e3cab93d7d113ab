package utils

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateServiceURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "valid HTTPS URL", url: "https://api.agentmarket.io", wantErr: false},
		{name: "valid HTTPS URL with path", url: "https://api.agentmarket.io/v1", wantErr: false},
		{name: "invalid HTTP URL", url: "http://api.agentmarket.io", wantErr: true},
		{name: "valid localhost for testing", url: "http://localhost:8080", wantErr: false},
		{name: "valid 127.0.0.1 for testing", url: "http://127.0.0.1:8080", wantErr: false},
		{name: "valid IPv6 localhost for testing", url: "http://[::1]:8080", wantErr: false},
		{name: "invalid no protocol", url: "api.agentmarket.io", wantErr: true},
		{name: "invalid empty URL", url: "", wantErr: true},
		{name: "invalid ftp protocol", url: "ftp://api.agentmarket.io", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateServiceURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateServiceURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateHTTPClientWithTimeoutsDisablesRedirects(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer target.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusFound)
	}))
	defer server.Close()

	resp, err := CreateHTTPClientWithTimeouts().Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}

type echoResponse struct {
	Method string `json:"method"`
	Name   string `json:"name"`
	Header string `json:"header"`
}

func TestMakeJSONRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		json.NewEncoder(w).Encode(echoResponse{Method: r.Method, Name: body["name"], Header: r.Header.Get("X-Test")})
	}))
	defer server.Close()

	out, err := MakeJSONRequest[echoResponse](context.Background(), server.Client(), http.MethodPost, server.URL,
		map[string]string{"name": "agent"}, map[string]string{"X-Test": "yes"}, "echo")
	require.NoError(t, err)
	assert.Equal(t, echoResponse{Method: http.MethodPost, Name: "agent", Header: "yes"}, *out)
}

func TestMakeJSONRequestErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	_, err := MakeJSONRequest[echoResponse](context.Background(), server.Client(), http.MethodGet, server.URL, nil, nil, "echo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "echo request failed with status 502")
	assert.Contains(t, err.Error(), "upstream down")
}

func TestMakeJSONRequestHonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := MakeJSONRequest[echoResponse](ctx, server.Client(), http.MethodGet, server.URL, nil, nil, "echo")
	assert.ErrorIs(t, err, context.Canceled)
}
