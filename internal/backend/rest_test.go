package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
)

// newServerClient starts an httptest server and a RESTClient pointed at it.
func newServerClient(t *testing.T, handler http.HandlerFunc) *RESTClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parsing test server URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parsing test server port: %v", err)
	}
	return NewRESTClient(RESTOptions{
		Protocol: "http",
		Host:     u.Hostname(),
		Port:     port,
		Username: "admin",
		Password: "nexenta",
	})
}

func TestRESTGet(t *testing.T) {
	var gotPath, gotAuth string
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"value": "iSCSI Target iqn.test up"}`))
	})

	rsp, err := client.Get(context.Background(), "sysconfig/iscsi/status")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if gotPath != "/sysconfig/iscsi/status" {
		t.Errorf("request path = %q, want /sysconfig/iscsi/status", gotPath)
	}
	if !strings.HasPrefix(gotAuth, "Basic ") {
		t.Errorf("Authorization = %q, want basic auth", gotAuth)
	}
	if got := rsp.String("value"); got != "iSCSI Target iqn.test up" {
		t.Errorf("value = %q", got)
	}
}

func TestRESTPostBody(t *testing.T) {
	var gotMethod string
	var gotBody map[string]any
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	})

	_, err := client.Post(context.Background(), "iscsi", Params{
		"objectPath": "cltest/trd/bk1/1",
		"number":     1,
	})
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method = %q, want POST", gotMethod)
	}
	if gotBody["objectPath"] != "cltest/trd/bk1/1" {
		t.Errorf("objectPath = %v", gotBody["objectPath"])
	}
	if gotBody["number"] != float64(1) {
		t.Errorf("number = %v", gotBody["number"])
	}
}

func TestRESTDeleteCarriesBody(t *testing.T) {
	var gotBody map[string]any
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %q, want DELETE", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
	})

	if _, err := client.Delete(context.Background(), "iscsi/3", Params{"objectPath": "cltest/trd/bk1/3"}); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if gotBody["objectPath"] != "cltest/trd/bk1/3" {
		t.Errorf("objectPath = %v", gotBody["objectPath"])
	}
}

func TestRESTEmptyResponseBody(t *testing.T) {
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rsp, err := client.Get(context.Background(), "clusters/cltest/tenants/trd/buckets/bk1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(rsp) != 0 {
		t.Errorf("response = %v, want empty", rsp)
	}
}

func TestRESTErrorResponse(t *testing.T) {
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPreconditionFailed)
		w.Write([]byte(`{"message": "revision mismatch"}`))
	})

	_, err := client.Put(context.Background(), "clusters/cltest/tenants/trd/buckets/bk1", Params{})
	if err == nil {
		t.Fatal("Put succeeded, want error")
	}
	var berr *Error
	if !errors.As(err, &berr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if berr.StatusCode != http.StatusPreconditionFailed {
		t.Errorf("StatusCode = %d, want 412", berr.StatusCode)
	}
	if berr.Message != "revision mismatch" {
		t.Errorf("Message = %q, want revision mismatch", berr.Message)
	}
	if !berr.IsConflict() {
		t.Error("IsConflict() = false, want true")
	}
}

func TestRESTErrorStatusTextFallback(t *testing.T) {
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not json", http.StatusNotFound)
	})

	_, err := client.Get(context.Background(), "iscsi/9")
	var berr *Error
	if !errors.As(err, &berr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if !berr.IsNotFound() {
		t.Errorf("IsNotFound() = false for status %d", berr.StatusCode)
	}
	if berr.Message != http.StatusText(http.StatusNotFound) {
		t.Errorf("Message = %q, want status text fallback", berr.Message)
	}
}

func TestRESTTransportError(t *testing.T) {
	client := NewRESTClient(RESTOptions{
		Protocol: "http",
		Host:     "127.0.0.1",
		Port:     1, // nothing listens here
	})

	_, err := client.Get(context.Background(), "sysconfig/iscsi/status")
	var berr *Error
	if !errors.As(err, &berr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if berr.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0 for transport failure", berr.StatusCode)
	}
}

func TestRESTAutoProtocol(t *testing.T) {
	client := NewRESTClient(RESTOptions{Protocol: "auto", Host: "backend", Port: 8080})
	if got, want := client.URL(), "http://backend:8080/"; got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
}
