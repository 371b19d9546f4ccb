package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/endovel/clinic-platform/internal/observability/metrics"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...ClientOption) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	opts = append([]ClientOption{WithBaseURL(server.URL)}, opts...)
	client := NewClient(ClientConfig{PhoneNumberID: "1055", AccessToken: "test_token"}, nil, opts...)
	client.retryDelay = func() time.Duration { return 0 }
	return client, server
}

func TestSendText(t *testing.T) {
	var received sendRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v21.0/1055/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test_token" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatal(err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.OUT"}]}`))
	})

	if err := client.SendText(context.Background(), "", "59170000000", "Hola"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if received.To != "59170000000" || received.Text.Body != "Hola" {
		t.Fatalf("unexpected payload: %+v", received)
	}
	if received.MessagingProduct != "whatsapp" || received.Type != "text" {
		t.Fatalf("unexpected envelope: %+v", received)
	}
}

func TestSendTextRetriesServerErrors(t *testing.T) {
	var calls int32
	reg := prometheus.NewRegistry()
	m := metrics.NewMessagingMetrics(reg)

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.OK"}]}`))
	}, WithMessagingMetrics(m))

	if err := client.SendText(context.Background(), "", "591", "x"); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	count, err := testutil.GatherAndCount(reg, "clinic_whatsapp_outbound_total")
	if err != nil || count != 1 {
		t.Fatalf("expected one outbound series, got %d err=%v", count, err)
	}
}

func TestSendTextDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid parameter","type":"OAuthException","code":100}}`))
	})

	err := client.SendText(context.Background(), "", "591", "x")
	if err == nil || !strings.Contains(err.Error(), "Invalid parameter") {
		t.Fatalf("expected API error, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestSendTextRetriesRateLimit(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	if err := client.SendText(context.Background(), "", "591", "x"); err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if got := atomic.LoadInt32(&calls); got != maxSendAttempts {
		t.Fatalf("expected %d attempts, got %d", maxSendAttempts, got)
	}
}

func TestSendTextValidation(t *testing.T) {
	unconfigured := NewClient(ClientConfig{}, nil)
	if err := unconfigured.SendText(context.Background(), "", "591", "x"); err == nil {
		t.Fatalf("expected credentials error")
	}

	client := NewClient(ClientConfig{PhoneNumberID: "1", AccessToken: "t"}, nil)
	if err := client.SendText(context.Background(), "", "", "x"); err == nil {
		t.Fatalf("expected recipient error")
	}
	if err := client.SendText(context.Background(), "", "591", "  "); err == nil {
		t.Fatalf("expected body error")
	}
}

func TestSendTextFromTenantNumber(t *testing.T) {
	var path string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.OUT"}]}`))
	})

	if err := client.SendText(context.Background(), "2077", "59170000000", "Hola"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "/v21.0/2077/messages" {
		t.Fatalf("expected send from tenant number, got path %s", path)
	}

	tokenOnly := NewClient(ClientConfig{AccessToken: "t"}, nil, WithBaseURL("http://127.0.0.1:1"))
	if err := tokenOnly.SendText(context.Background(), "", "591", "x"); err == nil || !strings.Contains(err.Error(), "credentials") {
		t.Fatalf("expected credentials error without any number, got %v", err)
	}
}
