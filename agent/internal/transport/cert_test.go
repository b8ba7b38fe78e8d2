package transport

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckCert_HTTPIsSkipped(t *testing.T) {
	d, err := ParseDSN("http://pub@localhost:8080/1")
	require.NoError(t, err)
	assert.Nil(t, CheckCert(context.Background(), d, nil))
	assert.Nil(t, CheckCert(context.Background(), nil, nil))
}

func TestCheckCert_Valid(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	defer srv.Close()

	d, err := ParseDSN("https://pub@" + strings.TrimPrefix(srv.URL, "https://") + "/1")
	require.NoError(t, err)

	cs := CheckCert(context.Background(), d, &TLSConfig{InsecureSkipVerify: true})
	require.NotNil(t, cs)
	assert.Equal(t, "valid", cs.Status)
	assert.Greater(t, cs.DaysLeft, 30)
	assert.False(t, cs.NotAfter.IsZero())
}

func TestCheckCert_Unreachable(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	d, err := ParseDSN("https://pub@" + addr + "/1")
	require.NoError(t, err)

	cs := CheckCert(context.Background(), d, nil)
	require.NotNil(t, cs)
	assert.Equal(t, "unreachable", cs.Status)
	assert.Equal(t, addr, cs.Host)
}
