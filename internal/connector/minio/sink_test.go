package minio

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/hull-ships/hull-sql-sub000/internal/endpoint"
)

func newLocalSink(t *testing.T, compress bool) (*Sink, string) {
	t.Helper()
	root := t.TempDir()
	sink, err := New(Config{EndpointURL: "file://" + root, TenantID: "org-1", Compress: compress})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if err := sink.Provision(context.Background()); err != nil {
		t.Fatalf("provision: %v", err)
	}
	return sink, root
}

func readLocator(t *testing.T, locator string) []byte {
	t.Helper()
	u, err := url.Parse(locator)
	if err != nil || u.Scheme != "file" {
		t.Fatalf("unexpected locator %q", locator)
	}
	data, err := os.ReadFile(u.Path)
	if err != nil {
		t.Fatalf("read object: %v", err)
	}
	return data
}

func TestUploadLocal(t *testing.T) {
	sink, _ := newLocalSink(t, false)
	ctx := context.Background()

	up, err := sink.Upload(ctx, "connector-1", 2)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	payload := "{\"userId\":\"1\"}\n{\"userId\":\"2\"}\n"
	if _, err := io.WriteString(up.Writer, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := up.Writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	res, err := up.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if res.PartNumber != 2 || res.Size != int64(len(payload)) {
		t.Errorf("unexpected result %+v", res)
	}
	if !strings.HasSuffix(res.Locator, "/extracts/org-1/connector-1/part-000002.json") {
		t.Errorf("unexpected locator %s", res.Locator)
	}
	if got := string(readLocator(t, res.Locator)); got != payload {
		t.Errorf("stored %q, want %q", got, payload)
	}
}

func TestUploadCompressed(t *testing.T) {
	sink, _ := newLocalSink(t, true)
	ctx := context.Background()

	up, _ := sink.Upload(ctx, "connector-1", 1)
	w := bufio.NewWriter(up.Writer)
	for i := 0; i < 100; i++ {
		w.WriteString("{\"userId\":\"x\"}\n")
	}
	w.Flush()
	up.Writer.Close()

	res, err := up.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !strings.HasSuffix(res.Locator, ".json.gz") {
		t.Errorf("expected .gz object, got %s", res.Locator)
	}
	gz, err := gzip.NewReader(strings.NewReader(string(readLocator(t, res.Locator))))
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	data, _ := io.ReadAll(gz)
	if strings.Count(string(data), "\n") != 100 {
		t.Errorf("expected 100 lines after decompression")
	}
}

func TestUploadEmpty(t *testing.T) {
	sink, _ := newLocalSink(t, false)
	up, _ := sink.Upload(context.Background(), "c", 1)
	up.Writer.Close()

	res, err := up.Wait(context.Background())
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if res.Size != 0 {
		t.Errorf("expected size 0, got %d", res.Size)
	}
}

type failingStore struct{ LocalStore }

func (f *failingStore) PutStream(ctx context.Context, bucket, key string, r io.Reader, contentType string) (int64, error) {
	return 0, storeError("put", CodeSinkWriteFailed, errors.New("disk full"))
}

func TestUploadFailure(t *testing.T) {
	sink := NewWithStore(Config{EndpointURL: "file:///tmp"}, &failingStore{})
	up, err := sink.Upload(context.Background(), "c", 1)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	// The writer is unblocked once the store gives up.
	done := make(chan error, 1)
	go func() {
		_, err := io.WriteString(up.Writer, "{}\n")
		done <- err
	}()
	select {
	case err := <-done:
		if err == nil {
			t.Error("expected write to fail")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("writer blocked after store failure")
	}

	_, err = up.Wait(context.Background())
	if !endpoint.IsKind(err, endpoint.KindSink) {
		t.Errorf("expected SinkError, got %v", err)
	}
	var me *Error
	if !errors.As(err, &me) || me.Code != CodeSinkWriteFailed {
		t.Errorf("expected coded store error in chain, got %v", err)
	}
}

func TestObjectKey(t *testing.T) {
	cfg := Config{BasePrefix: "/exports/", TenantID: "org/1"}
	cfg.normalizeDefaults()
	if got := cfg.objectKey("conn:1/run-7", 3); got != "exports/org_1/conn_1/run-7/part-000003.json" {
		t.Errorf("unexpected nested key %s", got)
	}
	if got := cfg.objectKey("../etc", 1); got != "exports/org_1/_/etc/part-000001.json" {
		t.Errorf("unexpected escaped key %s", got)
	}
	if got := cfg.objectKey("abc", 12); got != "exports/org_1/abc/part-000012.json" {
		t.Errorf("unexpected key %s", got)
	}
	if cfg.URLExpiry != 24*time.Hour {
		t.Errorf("expected default 24h expiry, got %s", cfg.URLExpiry)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (&Config{EndpointURL: "https://s3.amazonaws.com"}).Validate(); err == nil {
		t.Error("expected missing credentials error")
	}
	if err := (&Config{EndpointURL: "file:///tmp/x"}).Validate(); err != nil {
		t.Errorf("local config should validate: %v", err)
	}
	if _, err := NewS3Client(&Config{EndpointURL: "https://play.min.io", AccessKeyID: "k", SecretAccessKey: "s"}); err != nil {
		t.Errorf("client construction should not dial: %v", err)
	}
}

func TestSplitEndpoint(t *testing.T) {
	cases := []struct {
		raw    string
		host   string
		secure bool
		fail   bool
	}{
		{raw: "minio:9000", host: "minio:9000"},
		{raw: "http://localhost:9000", host: "localhost:9000"},
		{raw: "https://s3.eu-west-1.amazonaws.com", host: "s3.eu-west-1.amazonaws.com", secure: true},
		{raw: "https://", fail: true},
	}
	for _, tc := range cases {
		host, secure, err := splitEndpoint(tc.raw)
		if tc.fail {
			if err == nil {
				t.Errorf("%s: expected error", tc.raw)
			}
			continue
		}
		if err != nil || host != tc.host || secure != tc.secure {
			t.Errorf("%s: got host=%s secure=%v err=%v", tc.raw, host, secure, err)
		}
	}
}

func TestClassifyStoreErrors(t *testing.T) {
	if e := classify("put", context.DeadlineExceeded); e.Code != CodeTimeout {
		t.Errorf("expected timeout code, got %s", e.Code)
	}
	e := classify("ping", errors.New("dial tcp 127.0.0.1:9000: connection refused"))
	if e.Code != CodeEndpointUnreachable || e.Op != "ping" {
		t.Errorf("unexpected classification %+v", e)
	}
	if got := e.Error(); got != "object store ping: E_ENDPOINT_UNREACHABLE: dial tcp 127.0.0.1:9000: connection refused" {
		t.Errorf("unexpected message %q", got)
	}
}
