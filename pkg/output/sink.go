package output

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Sink accepts fully-rendered output (a JSON document fragment or a batch of
// line-protocol lines) for one tick. Implementations own their own
// buffering/flushing; Close releases any held resources.
type Sink interface {
	Write(ctx context.Context, p []byte) error
	Close() error
}

// FileSink writes to an *os.File, treating "stdout" and "none" as the
// sentinels spec.md's output-directory/output-filename options document:
// "stdout" writes to the process's stdout without owning/closing it, "none"
// discards everything.
type FileSink struct {
	f      *os.File
	owned  bool
	discard bool
}

// NewFileSink opens path (sentinels: "stdout", "none") for writing.
func NewFileSink(path string) (*FileSink, error) {
	switch path {
	case "stdout":
		return &FileSink{f: os.Stdout}, nil
	case "none", "":
		return &FileSink{discard: true}, nil
	default:
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("output: open %s: %w", path, err)
		}
		return &FileSink{f: f, owned: true}, nil
	}
}

func (s *FileSink) Write(_ context.Context, p []byte) error {
	if s.discard {
		return nil
	}
	_, err := s.f.Write(p)
	return err
}

func (s *FileSink) Close() error {
	if s.discard || !s.owned {
		return nil
	}
	return s.f.Close()
}

// DBSink posts each rendered line-protocol batch to a remote time-series
// database's HTTP write endpoint. It is deliberately a thin net/http POST:
// spec.md scopes the concrete wire client for the DB collaborator out of
// the core, so there is no third-party TSDB client library wired here.
type DBSink struct {
	endpoint string
	secret   string
	client   *http.Client
}

// NewDBSink builds a sink posting to http://host:port/write?db=dbname,
// matching the InfluxDB v1 HTTP write API shape implied by remote-ip/
// remote-port/remote-dbname.
func NewDBSink(host string, port int, dbname, secret string, timeout time.Duration) *DBSink {
	u := url.URL{
		Scheme: "http",
		Host:   fmt.Sprintf("%s:%d", host, port),
		Path:   "/write",
	}
	q := u.Query()
	q.Set("db", dbname)
	u.RawQuery = q.Encode()
	return &DBSink{
		endpoint: u.String(),
		secret:   secret,
		client:   &http.Client{Timeout: timeout},
	}
}

func (s *DBSink) Write(ctx context.Context, p []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(p))
	if err != nil {
		return err
	}
	if s.secret != "" {
		req.Header.Set("Authorization", "Token "+s.secret)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("output: DB sink post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("output: DB sink rejected write (%d): %s", resp.StatusCode, body)
	}
	return nil
}

func (s *DBSink) Close() error { return nil }
