package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/turnstile/internal/domain"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("turnstile-gateway")

// ErrNetworkUnavailable is returned when the network answers 5xx.
var ErrNetworkUnavailable = errors.New("payment network unavailable")

// HTTPGateway sends authorizations to a card network as JSON over HTTPS.
// Approval is signalled by HTTP 200; any other 2xx/4xx is a decline.
type HTTPGateway struct {
	url          string
	apiKey       string
	apiSecret    string
	currencyCode string
	client       *http.Client
	stan         atomic.Uint32
}

type authorizationBody struct {
	PrimaryAccountNumber     string  `json:"primaryAccountNumber"`
	Amount                   string  `json:"amount"`
	CurrencyCode             string  `json:"currencyCode"`
	RetrievalReferenceNumber string  `json:"retrievalReferenceNumber"`
	SystemTraceAuditNumber   int     `json:"systemTraceAuditNumber"`
	EMV                      emvData `json:"emv"`
}

type emvData struct {
	ApplicationIdentifier string `json:"applicationIdentifier"`
	ApplicationCryptogram string `json:"applicationCryptogram"`
}

// NewHTTPGateway creates a network client. A nil client gets one built from
// cfg's timeout and TLS settings.
func NewHTTPGateway(cfg domain.GatewayConfig, client *http.Client) (*HTTPGateway, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("gateway url is required")
	}

	if client == nil {
		tlsCfg, err := loadTLSConfig(cfg)
		if err != nil {
			return nil, err
		}

		timeout := time.Duration(cfg.TimeoutSecs) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}

		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = tlsCfg
		client = &http.Client{Timeout: timeout, Transport: transport}
	}

	currency := cfg.CurrencyCode
	if currency == "" {
		currency = "840"
	}

	return &HTTPGateway{
		url:          cfg.URL,
		apiKey:       cfg.APIKey,
		apiSecret:    cfg.APISecret,
		currencyCode: currency,
		client:       client,
	}, nil
}

// Verify sends an account verification, which is an authorization for zero.
func (g *HTTPGateway) Verify(ctx context.Context, req *domain.AuthorizationRequest) (domain.Outcome, error) {
	avr := *req
	avr.Amount = decimal.Zero
	return g.send(ctx, "gateway.verify", &avr)
}

// Authorize asks the network to approve req.Amount.
func (g *HTTPGateway) Authorize(ctx context.Context, req *domain.AuthorizationRequest) (domain.Outcome, error) {
	return g.send(ctx, "gateway.authorize", req)
}

func (g *HTTPGateway) send(ctx context.Context, op string, req *domain.AuthorizationRequest) (domain.Outcome, error) {
	ctx, span := tracer.Start(ctx, op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("tap.id", req.TapID),
			attribute.String("terminal.id", req.TerminalID),
			attribute.String("amount", req.Amount.StringFixed(2)),
		),
	)
	defer span.End()

	stan := g.nextSTAN()
	body := authorizationBody{
		PrimaryAccountNumber:     req.PAN,
		Amount:                   req.Amount.StringFixed(2),
		CurrencyCode:             g.currencyCode,
		RetrievalReferenceNumber: retrievalReference(time.Now().UTC(), stan),
		SystemTraceAuditNumber:   stan,
		EMV: emvData{
			ApplicationIdentifier: req.AID,
			ApplicationCryptogram: req.Cryptogram,
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return g.fail(span, fmt.Errorf("encode authorization: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return g.fail(span, fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if g.apiKey != "" {
		httpReq.SetBasicAuth(g.apiKey, g.apiSecret)
	}

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return g.fail(span, fmt.Errorf("send authorization: %w", err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	slog.Debug("network response",
		"op", op,
		"tap_id", req.TapID,
		"status", resp.StatusCode,
		"stan", stan,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode >= http.StatusInternalServerError {
		return g.fail(span, fmt.Errorf("%w: status %d", ErrNetworkUnavailable, resp.StatusCode))
	}
	if resp.StatusCode == http.StatusOK {
		return domain.OutcomeApproved, nil
	}
	return domain.OutcomeDeclined, nil
}

func (g *HTTPGateway) fail(span trace.Span, err error) (domain.Outcome, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return domain.OutcomeDeclined, err
}

// nextSTAN returns a six-digit system trace audit number in 1..999999.
func (g *HTTPGateway) nextSTAN() int {
	return int(g.stan.Add(1)-1)%999999 + 1
}

// retrievalReference builds a 12-digit reference: last digit of the year,
// day of year, hour, then the STAN.
func retrievalReference(now time.Time, stan int) string {
	return fmt.Sprintf("%d%03d%02d%06d", now.Year()%10, now.YearDay(), now.Hour(), stan)
}

func loadTLSConfig(cfg domain.GatewayConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.TLSCertFile != "" || cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	if cfg.TLSCAFile != "" {
		pem, err := os.ReadFile(cfg.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.TLSCAFile)
		}
		tlsCfg.RootCAs = pool
	}

	return tlsCfg, nil
}
