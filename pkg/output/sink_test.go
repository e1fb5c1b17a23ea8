package output

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// splitHostPort pulls host/port out of an httptest.Server URL for NewDBSink.
func splitHostPort(rawURL string) (string, int, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return "", 0, err
	}
	return u.Hostname(), port, nil
}

func TestFileSink_WritesToRealFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "out.json")
	s, err := NewFileSink(p)
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), []byte("hello")))
	require.NoError(t, s.Close())

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
}

func TestFileSink_NoneSentinelDiscards(t *testing.T) {
	s, err := NewFileSink("none")
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), []byte("ignored")))
	require.NoError(t, s.Close())
}

func TestFileSink_StdoutSentinelDoesNotClose(t *testing.T) {
	s, err := NewFileSink("stdout")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.False(t, s.owned)
}

func TestDBSink_PostsToEndpoint(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/write", r.URL.Path)
		assert.Equal(t, "mydb", r.URL.Query().Get("db"))
		buf := make([]byte, 64)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	host, port, err := splitHostPort(srv.URL)
	require.NoError(t, err)
	s := NewDBSink(host, port, "mydb", "", 2*time.Second)

	require.NoError(t, s.Write(context.Background(), []byte("stat user=1 100")))
	assert.Equal(t, "stat user=1 100", gotBody)
}

func TestDBSink_NonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	host, port, err := splitHostPort(srv.URL)
	require.NoError(t, err)
	s := NewDBSink(host, port, "mydb", "secret", 2*time.Second)

	err = s.Write(context.Background(), []byte("x y=1 1"))
	assert.Error(t, err)
}
