package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	x402 "github.com/metergate/x402"
	"github.com/metergate/x402/breaker"
	"github.com/metergate/x402/ledger"
	"github.com/metergate/x402/policy"
	"github.com/metergate/x402/signer"
)

// Well-known hardhat/anvil test key, account 0.
const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func newTestSigner(t *testing.T) *signer.Signer {
	t.Helper()
	s, err := signer.New(testPrivateKey, "base", x402.DefaultRegistry())
	if err != nil {
		t.Fatalf("signer.New: %v", err)
	}
	return s
}

func challengeHeader(t *testing.T, reqs ...x402.PaymentRequirements) string {
	t.Helper()
	header, err := x402.EncodePaymentRequiredHeader(x402.PaymentRequired{
		Version: x402.ProtocolVersion,
		Error:   "payment required",
		Accepts: reqs,
	})
	if err != nil {
		t.Fatalf("encode challenge: %v", err)
	}
	return header
}

func baseRequirement(amount string) x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           "eip155:8453",
		MaxAmountRequired: amount,
		Resource:          "https://api.example.com/reports",
		PayTo:             "0x1111111111111111111111111111111111111111",
		MaxTimeoutSeconds: 60,
		Asset:             "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	}
}

// paywalledServer 402s until the request carries a payment proof, then
// serves the content with a settlement id.
func paywalledServer(t *testing.T, amount string, paidStatus int) (*httptest.Server, *int) {
	t.Helper()
	paidCalls := new(int)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(x402.HeaderPayment) == "" {
			w.Header().Set(x402.HeaderPaymentRequired, challengeHeader(t, baseRequirement(amount)))
			w.WriteHeader(http.StatusPaymentRequired)
			return
		}
		*paidCalls++
		w.Header().Set(x402.HeaderSettlementID, "settle-123")
		w.WriteHeader(paidStatus)
		io.WriteString(w, "the goods")
	}))
	return server, paidCalls
}

func TestNon402PassesThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "free content")
	}))
	defer server.Close()

	led := ledger.NewMemoryLedger()
	interceptor := New(newTestSigner(t), WithLedger(led))
	resp, err := interceptor.Wrap(nil).Get(server.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	records, _ := led.Query(context.Background(), ledger.Filter{})
	if len(records) != 0 {
		t.Errorf("no payment expected, got %d records", len(records))
	}
}

func TestPaysAndRecordsConfirmed(t *testing.T) {
	server, paidCalls := paywalledServer(t, "50000", http.StatusOK)
	defer server.Close()

	led := ledger.NewMemoryLedger()
	b := breaker.New(breaker.Config{})
	interceptor := New(newTestSigner(t), WithLedger(led), WithBreaker(b))

	resp, err := interceptor.Wrap(nil).Get(server.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "the goods" {
		t.Errorf("body = %q", body)
	}
	if *paidCalls != 1 {
		t.Errorf("paid calls = %d, want 1", *paidCalls)
	}

	records, err := led.Query(context.Background(), ledger.Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.Direction != ledger.Outgoing {
		t.Errorf("direction = %s", rec.Direction)
	}
	if rec.Status != ledger.StatusConfirmed {
		t.Errorf("status = %s, want confirmed", rec.Status)
	}
	if rec.Amount != "50000" {
		t.Errorf("amount = %s", rec.Amount)
	}
	if rec.SettlementID != "settle-123" {
		t.Errorf("settlementId = %s", rec.SettlementID)
	}
	if rec.Counterparty != "0x1111111111111111111111111111111111111111" {
		t.Errorf("counterparty = %s", rec.Counterparty)
	}
	if b.State() != breaker.StateClosed {
		t.Errorf("breaker state = %s, want closed", b.State())
	}
}

func TestFailedRetryRecordsFailed(t *testing.T) {
	server, _ := paywalledServer(t, "50000", http.StatusForbidden)
	defer server.Close()

	led := ledger.NewMemoryLedger()
	interceptor := New(newTestSigner(t), WithLedger(led))
	resp, err := interceptor.Wrap(nil).Get(server.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403 retry response", resp.StatusCode)
	}

	records, _ := led.Query(context.Background(), ledger.Filter{})
	if len(records) != 1 || records[0].Status != ledger.StatusFailed {
		t.Fatalf("expected one failed record, got %+v", records)
	}
}

func TestChallengeWithoutHeaderReturnsOriginal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		io.WriteString(w, "pay me somehow")
	}))
	defer server.Close()

	interceptor := New(newTestSigner(t))
	resp, err := interceptor.Wrap(nil).Get(server.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Errorf("status = %d, want original 402", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "pay me somehow" {
		t.Errorf("original body changed: %q", body)
	}
}

func TestForeignNetworkReturnsOriginal(t *testing.T) {
	req := baseRequirement("50000")
	req.Network = "eip155:1"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(x402.HeaderPayment) != "" {
			t.Error("must not pay on a foreign network")
		}
		w.Header().Set(x402.HeaderPaymentRequired, challengeHeader(t, req))
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer server.Close()

	led := ledger.NewMemoryLedger()
	interceptor := New(newTestSigner(t), WithLedger(led))
	resp, err := interceptor.Wrap(nil).Get(server.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Errorf("status = %d, want original 402", resp.StatusCode)
	}
	records, _ := led.Query(context.Background(), ledger.Filter{})
	if len(records) != 0 {
		t.Errorf("no record expected, got %d", len(records))
	}
}

func TestIncompleteRequirementReturnsOriginal(t *testing.T) {
	req := baseRequirement("50000")
	req.PayTo = ""
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(x402.HeaderPayment) != "" {
			t.Error("must not pay against an incomplete requirement")
		}
		w.Header().Set(x402.HeaderPaymentRequired, challengeHeader(t, req))
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer server.Close()

	led := ledger.NewMemoryLedger()
	interceptor := New(newTestSigner(t), WithLedger(led))
	resp, err := interceptor.Wrap(nil).Get(server.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Errorf("status = %d, want original 402", resp.StatusCode)
	}
	records, _ := led.Query(context.Background(), ledger.Filter{})
	if len(records) != 0 {
		t.Errorf("no record expected, got %d", len(records))
	}
}

func TestPolicyDenialSkipsPaymentEntirely(t *testing.T) {
	server, paidCalls := paywalledServer(t, "50000", http.StatusOK)
	defer server.Close()

	led := ledger.NewMemoryLedger()
	engine := policy.NewEngine(policy.Policy{
		Outgoing: &policy.OutgoingLimits{MaxPerTransaction: "10000"},
	}, led)
	interceptor := New(newTestSigner(t), WithLedger(led), WithPolicy(engine))

	resp, err := interceptor.Wrap(nil).Get(server.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Errorf("status = %d, want original 402", resp.StatusCode)
	}
	if *paidCalls != 0 {
		t.Errorf("paid calls = %d, want 0", *paidCalls)
	}
	records, _ := led.Query(context.Background(), ledger.Filter{})
	if len(records) != 0 {
		t.Errorf("denied payment must not be recorded, got %d records", len(records))
	}
}

func TestBreakerDenialReturnsOriginal(t *testing.T) {
	server, paidCalls := paywalledServer(t, "50000", http.StatusOK)
	defer server.Close()

	b := breaker.New(breaker.Config{MaxPerMinute: 1})
	httpClient := New(newTestSigner(t), WithBreaker(b)).Wrap(nil)

	// First payment fills the rate window.
	resp, err := httpClient.Get(server.URL)
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first status = %d", resp.StatusCode)
	}

	// Second trips the breaker and comes back unpaid.
	resp, err = httpClient.Get(server.URL)
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Errorf("second status = %d, want original 402", resp.StatusCode)
	}
	if *paidCalls != 1 {
		t.Errorf("paid calls = %d, want 1", *paidCalls)
	}
	if b.State() != breaker.StateOpen {
		t.Errorf("breaker state = %s, want open", b.State())
	}
}

func TestRetryPreservesRequestBody(t *testing.T) {
	var paidBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.Header.Get(x402.HeaderPayment) == "" {
			w.Header().Set(x402.HeaderPaymentRequired, challengeHeader(t, baseRequirement("5")))
			w.WriteHeader(http.StatusPaymentRequired)
			return
		}
		paidBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	httpClient := New(newTestSigner(t)).Wrap(nil)
	resp, err := httpClient.Post(server.URL, "text/plain", strings.NewReader("query payload"))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	resp.Body.Close()
	if paidBody != "query payload" {
		t.Errorf("retried body = %q, want original body", paidBody)
	}
}

func TestSummaryReflectsLedger(t *testing.T) {
	server, _ := paywalledServer(t, "50000", http.StatusOK)
	defer server.Close()

	interceptor := New(newTestSigner(t))
	resp, err := interceptor.Wrap(nil).Get(server.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()

	summary, err := interceptor.Summary(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.OutgoingTotal != "50000" || summary.OutgoingCount != 1 {
		t.Errorf("summary = %+v", summary)
	}

	recent, err := interceptor.RecentTransactions(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentTransactions: %v", err)
	}
	if len(recent) != 1 {
		t.Errorf("recent = %d records, want 1", len(recent))
	}
}
