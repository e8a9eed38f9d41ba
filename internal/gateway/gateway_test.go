package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/turnstile/internal/domain"
	"github.com/shopspring/decimal"
)

func authRequest(pan string, amount string) *domain.AuthorizationRequest {
	return &domain.AuthorizationRequest{
		TapID:      "tap-1",
		PAN:        pan,
		Expiry:     "2712",
		AID:        "A0000000031010",
		Cryptogram: "9F26AB",
		TerminalID: "gate-01",
		Amount:     decimal.RequireFromString(amount),
		Currency:   "USD",
	}
}

func TestSimulatorDefaults(t *testing.T) {
	sim, err := NewSimulator(domain.DefaultSimulatorAVRDecline, domain.DefaultSimulatorAuthDecline)
	if err != nil {
		t.Fatalf("NewSimulator failed: %v", err)
	}
	ctx := context.Background()

	tests := []struct {
		name   string
		verify bool
		pan    string
		amount string
		want   domain.Outcome
	}{
		{"VerifyApproves", true, "4111111111111111", "0", domain.OutcomeApproved},
		{"VerifyDeclinesEndingNine", true, "4111111111111119", "0", domain.OutcomeDeclined},
		{"AuthorizeApproves", false, "4111111111111111", "20.00", domain.OutcomeApproved},
		{"AuthorizeDeclinesOverTwenty", false, "4111111111111111", "20.01", domain.OutcomeDeclined},
		{"AuthorizeDeclinesEndingEight", false, "4111111111111118", "1.00", domain.OutcomeDeclined},
		{"VerifyIgnoresEndingEight", true, "4111111111111118", "0", domain.OutcomeApproved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := authRequest(tt.pan, tt.amount)

			var got domain.Outcome
			if tt.verify {
				got, err = sim.Verify(ctx, req)
			} else {
				got, err = sim.Authorize(ctx, req)
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSimulatorRules(t *testing.T) {
	ctx := context.Background()

	t.Run("EmptyRulesApprove", func(t *testing.T) {
		sim, err := NewSimulator("", "")
		if err != nil {
			t.Fatalf("NewSimulator failed: %v", err)
		}
		got, err := sim.Authorize(ctx, authRequest("4111111111111118", "99"))
		if err != nil || got != domain.OutcomeApproved {
			t.Errorf("expected approval, got %s, %v", got, err)
		}
	})

	t.Run("TerminalRule", func(t *testing.T) {
		sim, err := NewSimulator(`terminal_id == "gate-01"`, "")
		if err != nil {
			t.Fatalf("NewSimulator failed: %v", err)
		}
		got, _ := sim.Verify(ctx, authRequest("4111111111111111", "0"))
		if got != domain.OutcomeDeclined {
			t.Errorf("expected decline, got %s", got)
		}
	})

	t.Run("NonBoolRuleRejected", func(t *testing.T) {
		if _, err := NewSimulator("amount", ""); err == nil {
			t.Error("expected error for non-bool rule")
		}
	})

	t.Run("CompileErrorRejected", func(t *testing.T) {
		if _, err := NewSimulator("", "pan.endsWith("); err == nil {
			t.Error("expected compile error")
		}
	})
}

func TestHTTPGateway(t *testing.T) {
	ctx := context.Background()

	t.Run("SendsAuthorization", func(t *testing.T) {
		var (
			mu   sync.Mutex
			body authorizationBody
			user string
			pass string
		)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			defer mu.Unlock()
			user, pass, _ = r.BasicAuth()
			if r.Header.Get("Content-Type") != "application/json" {
				t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode body: %v", err)
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		gw, err := NewHTTPGateway(domain.GatewayConfig{
			URL:          srv.URL,
			APIKey:       "key",
			APISecret:    "secret",
			CurrencyCode: "392",
		}, srv.Client())
		if err != nil {
			t.Fatalf("NewHTTPGateway failed: %v", err)
		}

		got, err := gw.Authorize(ctx, authRequest("4111111111111111", "1.5"))
		if err != nil || got != domain.OutcomeApproved {
			t.Fatalf("expected approval, got %s, %v", got, err)
		}

		mu.Lock()
		defer mu.Unlock()
		if user != "key" || pass != "secret" {
			t.Errorf("unexpected credentials %q:%q", user, pass)
		}
		if body.PrimaryAccountNumber != "4111111111111111" {
			t.Errorf("unexpected PAN %q", body.PrimaryAccountNumber)
		}
		if body.Amount != "1.50" {
			t.Errorf("expected amount 1.50, got %q", body.Amount)
		}
		if body.CurrencyCode != "392" {
			t.Errorf("expected currency 392, got %q", body.CurrencyCode)
		}
		if len(body.RetrievalReferenceNumber) != 12 {
			t.Errorf("expected 12-digit RRN, got %q", body.RetrievalReferenceNumber)
		}
		if body.SystemTraceAuditNumber != 1 {
			t.Errorf("expected first STAN 1, got %d", body.SystemTraceAuditNumber)
		}
		if body.EMV.ApplicationIdentifier != "A0000000031010" || body.EMV.ApplicationCryptogram != "9F26AB" {
			t.Errorf("unexpected EMV data %+v", body.EMV)
		}
	})

	t.Run("VerifySendsZeroAmount", func(t *testing.T) {
		var (
			mu     sync.Mutex
			amount string
		)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body authorizationBody
			_ = json.NewDecoder(r.Body).Decode(&body)
			mu.Lock()
			amount = body.Amount
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		gw, _ := NewHTTPGateway(domain.GatewayConfig{URL: srv.URL}, srv.Client())
		req := authRequest("4111111111111111", "7.25")
		if _, err := gw.Verify(ctx, req); err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		mu.Lock()
		defer mu.Unlock()
		if amount != "0.00" {
			t.Errorf("expected AVR amount 0.00, got %q", amount)
		}
		if !req.Amount.Equal(decimal.RequireFromString("7.25")) {
			t.Error("Verify must not modify the caller's request")
		}
	})

	t.Run("NonOKIsDecline", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusPaymentRequired)
		}))
		defer srv.Close()

		gw, _ := NewHTTPGateway(domain.GatewayConfig{URL: srv.URL}, srv.Client())
		got, err := gw.Authorize(ctx, authRequest("4111111111111111", "1"))
		if err != nil || got != domain.OutcomeDeclined {
			t.Errorf("expected plain decline, got %s, %v", got, err)
		}
	})

	t.Run("ServerErrorIsFailure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		gw, _ := NewHTTPGateway(domain.GatewayConfig{URL: srv.URL}, srv.Client())
		got, err := gw.Authorize(ctx, authRequest("4111111111111111", "1"))
		if !errors.Is(err, ErrNetworkUnavailable) || got != domain.OutcomeDeclined {
			t.Errorf("expected ErrNetworkUnavailable decline, got %s, %v", got, err)
		}
	})

	t.Run("TimeoutIsFailure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		client := srv.Client()
		client.Timeout = 20 * time.Millisecond
		gw, _ := NewHTTPGateway(domain.GatewayConfig{URL: srv.URL}, client)

		got, err := gw.Authorize(ctx, authRequest("4111111111111111", "1"))
		if err == nil || got != domain.OutcomeDeclined {
			t.Errorf("expected timeout error, got %s, %v", got, err)
		}
	})

	t.Run("RequiresURL", func(t *testing.T) {
		if _, err := NewHTTPGateway(domain.GatewayConfig{}, nil); err == nil {
			t.Error("expected error without url")
		}
	})

	t.Run("MissingClientCertificate", func(t *testing.T) {
		_, err := NewHTTPGateway(domain.GatewayConfig{
			URL:         "https://network.invalid",
			TLSCertFile: "/nonexistent/cert.pem",
			TLSKeyFile:  "/nonexistent/key.pem",
		}, nil)
		if err == nil {
			t.Error("expected error for missing certificate")
		}
	})
}

func TestRetrievalReference(t *testing.T) {
	now := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	got := retrievalReference(now, 42)
	if got != "503209000042" {
		t.Errorf("retrievalReference = %q", got)
	}
	if _, err := strconv.ParseUint(got, 10, 64); err != nil {
		t.Errorf("expected numeric reference: %v", err)
	}
}

func TestSTANWraps(t *testing.T) {
	gw := &HTTPGateway{}
	gw.stan.Store(999998)
	if got := gw.nextSTAN(); got != 999999 {
		t.Errorf("expected 999999, got %d", got)
	}
	if got := gw.nextSTAN(); got != 1 {
		t.Errorf("expected wrap to 1, got %d", got)
	}
}

func TestNew(t *testing.T) {
	t.Run("Simulator", func(t *testing.T) {
		gw, err := New(domain.GatewayConfig{Type: "simulator"})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if _, ok := gw.(*Simulator); !ok {
			t.Errorf("expected *Simulator, got %T", gw)
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		if _, err := New(domain.GatewayConfig{Type: "iso8583"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
