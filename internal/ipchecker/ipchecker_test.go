package ipchecker

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	checker, err := New("")
	require.NoError(t, err)
	assert.True(t, checker.IsTrustedSubnetEmpty())
	assert.False(t, checker.Check(net.ParseIP("127.0.0.1")), "an empty subnet trusts nobody")

	_, err = New("not-a-cidr")
	assert.Error(t, err)

	checker, err = New("192.168.1.0/24")
	require.NoError(t, err)
	assert.False(t, checker.IsTrustedSubnetEmpty())
	assert.True(t, checker.Check(net.ParseIP("192.168.1.77")))
	assert.False(t, checker.Check(net.ParseIP("192.168.2.1")))
	assert.False(t, checker.Check(nil))
}

func TestGetClientIP(t *testing.T) {
	checker, err := New("10.0.0.0/8")
	require.NoError(t, err)

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
		wantErr    bool
	}{
		{name: "remote address", remoteAddr: "10.1.1.1:1234", want: "10.1.1.1"},
		{name: "X-Real-IP wins", remoteAddr: "192.0.2.1:1234", headers: map[string]string{"X-Real-IP": "10.2.2.2", "X-Forwarded-For": "10.3.3.3"}, want: "10.2.2.2"},
		{name: "first X-Forwarded-For", remoteAddr: "192.0.2.1:1234", headers: map[string]string{"X-Forwarded-For": "10.3.3.3, 192.0.2.9"}, want: "10.3.3.3"},
		{name: "garbage header falls back", remoteAddr: "192.0.2.1:1234", headers: map[string]string{"X-Real-IP": "nope"}, want: "192.0.2.1"},
		{name: "broken remote address", remoteAddr: "broken", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodGet, "/", nil)
			request.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				request.Header.Set(k, v)
			}

			ip, err := checker.GetClientIP(request)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ip.String())
		})
	}
}

func TestTrustedSubnetOnly(t *testing.T) {
	checker, err := New("10.0.0.0/8")
	require.NoError(t, err)

	handler := checker.TrustedSubnetOnly(http.HandlerFunc(func(response http.ResponseWriter, request *http.Request) {
		response.WriteHeader(http.StatusOK)
	}))

	request := httptest.NewRequest(http.MethodGet, "/internal/stats", nil)
	request.RemoteAddr = "10.9.9.9:4000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, request)
	assert.Equal(t, http.StatusOK, rec.Code)

	request = httptest.NewRequest(http.MethodGet, "/internal/stats", nil)
	request.RemoteAddr = "192.0.2.1:4000"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, request)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"Forbidden"}`, rec.Body.String())
}
