package httpserver

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/x402svm/facilitator/internal/accountcache"
	"github.com/x402svm/facilitator/internal/config"
	"github.com/x402svm/facilitator/internal/dedup"
	"github.com/x402svm/facilitator/internal/pipeline"
	"github.com/x402svm/facilitator/pkg/x402"
	"github.com/x402svm/facilitator/pkg/x402/svm"
)

type fakeChain struct {
	accounts  map[string]bool
	healthErr error
}

func (f *fakeChain) AccountExists(ctx context.Context, address solana.PublicKey) (bool, error) {
	return f.accounts[address.String()], nil
}

func (f *fakeChain) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	var sig solana.Signature
	sig[0] = 1
	return sig, nil
}

func (f *fakeChain) SignatureStatus(ctx context.Context, sig solana.Signature) (svm.TxStatus, error) {
	return svm.TxStatus{State: svm.TxConfirmed}, nil
}

func (f *fakeChain) Health(ctx context.Context) error { return f.healthErr }

type serverFixture struct {
	router   chi.Router
	feePayer solana.PrivateKey
	client   solana.PublicKey
	payTo    solana.PublicKey
	mint     solana.PublicKey
	counter  uint64
	chain    *fakeChain
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("generate fee payer: %v", err)
	}

	f := &serverFixture{
		feePayer: key,
		client:   solana.NewWallet().PublicKey(),
		payTo:    solana.NewWallet().PublicKey(),
		mint:     solana.NewWallet().PublicKey(),
		chain:    &fakeChain{},
	}

	sourceATA, _, err := solana.FindAssociatedTokenAddress(f.client, f.mint)
	if err != nil {
		t.Fatalf("derive source ATA: %v", err)
	}
	destATA, _, err := solana.FindAssociatedTokenAddress(f.payTo, f.mint)
	if err != nil {
		t.Fatalf("derive destination ATA: %v", err)
	}
	f.chain.accounts = map[string]bool{
		sourceATA.String(): true,
		destATA.String():   true,
	}

	cfg := testServerConfig()
	cache := accountcache.New(100, time.Minute)
	t.Cleanup(cache.Stop)
	store := dedup.New(1000, time.Minute)
	t.Cleanup(store.Stop)

	verifier := svm.NewVerifier(f.chain, cache, nil)
	submitter := svm.NewSubmitter(f.chain, zerolog.Nop())
	service := pipeline.New(pipeline.Config{
		FeePayer:          key,
		PaymentExpiry:     time.Minute,
		SubmitMaxAttempts: 1,
		SubmitTimeout:     5 * time.Second,
	}, verifier, submitter, store, nil, nil, nil, zerolog.Nop())

	f.router = chi.NewRouter()
	ConfigureRouter(f.router, Deps{
		Config:  cfg,
		Service: service,
		Chain:   f.chain,
		Dedup:   store,
		Cache:   cache,
		Logger:  zerolog.Nop(),
	})
	return f
}

func testServerConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8080},
		Chain: config.ChainConfig{
			RPCURL:  "http://localhost:8899",
			Network: x402.NetworkDevnet,
		},
		Verification: config.VerificationConfig{
			CacheSize:       100,
			DedupMaxEntries: 1000,
		},
		Webhook: config.WebhookConfig{
			URL:    "http://hooks.example.com/x402",
			Secret: "super-secret-value",
		},
		Audit: config.AuditConfig{Backend: "log"},
	}
}

func (f *serverFixture) verifyRequestBody(t *testing.T, amount uint64) []byte {
	t.Helper()

	f.counter++
	var blockhash solana.Hash
	binary.LittleEndian.PutUint64(blockhash[:8], f.counter)

	sourceATA, _, _ := solana.FindAssociatedTokenAddress(f.client, f.mint)
	destATA, _, _ := solana.FindAssociatedTokenAddress(f.payTo, f.mint)

	priceData := make([]byte, 9)
	priceData[0] = 0x03
	binary.LittleEndian.PutUint64(priceData[1:], 100)

	transferData := make([]byte, 10)
	transferData[0] = 0x0C
	binary.LittleEndian.PutUint64(transferData[1:9], amount)
	transferData[9] = 6

	tx := &solana.Transaction{
		Signatures: make([]solana.Signature, 2),
		Message: solana.Message{
			Header: solana.MessageHeader{NumRequiredSignatures: 2, NumReadonlyUnsignedAccounts: 3},
			AccountKeys: []solana.PublicKey{
				f.feePayer.PublicKey(), f.client, sourceATA, f.mint, destATA,
				solana.ComputeBudget, solana.TokenProgramID,
			},
			RecentBlockhash: blockhash,
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 5, Data: []byte{0x02, 0x40, 0x0d, 0x03, 0x00}},
				{ProgramIDIndex: 5, Data: priceData},
				{ProgramIDIndex: 6, Accounts: []uint16{2, 3, 4, 1}, Data: transferData},
			},
		},
	}
	blob, err := tx.ToBase64()
	if err != nil {
		t.Fatalf("encode transaction: %v", err)
	}

	req := x402.VerifyRequest{
		PaymentPayload: x402.PaymentPayload{
			X402Version: 1,
			Scheme:      x402.SchemeExact,
			Network:     x402.NetworkDevnet,
			Payload:     x402.SVMPayload{Transaction: blob},
		},
		PaymentRequirements: x402.PaymentRequirements{
			Scheme:            x402.SchemeExact,
			Network:           x402.NetworkDevnet,
			MaxAmountRequired: "1000000",
			Asset:             f.mint.String(),
			PayTo:             f.payTo.String(),
			Extra:             x402.ExtraFields{FeePayer: f.feePayer.PublicKey().String()},
		},
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return body
}

func (f *serverFixture) do(method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestVerifyEndpoint(t *testing.T) {
	f := newServerFixture(t)

	w := f.do("POST", "/verify", f.verifyRequestBody(t, 1_000_000))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp x402.VerifyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !resp.IsValid {
		t.Errorf("isValid = false, reason %q", resp.InvalidReason)
	}
	if resp.Payer != f.client.String() {
		t.Errorf("payer = %q, want %q", resp.Payer, f.client)
	}
}

func TestVerifyEndpointInvalidPaymentIsHTTP200(t *testing.T) {
	f := newServerFixture(t)

	body := f.verifyRequestBody(t, 999_999) // below the required amount
	w := f.do("POST", "/verify", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for a verification failure", w.Code)
	}

	var resp x402.VerifyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.IsValid {
		t.Fatal("isValid = true for mismatched amount")
	}
	if resp.InvalidReason != "invalid_exact_svm_payload_transaction_amount_mismatch" {
		t.Errorf("invalidReason = %q, want amount mismatch tag", resp.InvalidReason)
	}
}

func TestVerifyEndpointMalformedJSON(t *testing.T) {
	f := newServerFixture(t)

	w := f.do("POST", "/verify", []byte("{not json"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}

	var resp errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("400 body is not JSON: %v", err)
	}
	if resp.Error != "invalid_request" {
		t.Errorf("error = %q, want invalid_request", resp.Error)
	}
}

func TestSettleEndpointMalformedJSON(t *testing.T) {
	f := newServerFixture(t)

	w := f.do("POST", "/settle", []byte("[]"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSettleEndpoint(t *testing.T) {
	f := newServerFixture(t)

	w := f.do("POST", "/settle", f.verifyRequestBody(t, 1_000_000))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp x402.SettleResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !resp.Success {
		t.Fatalf("success = false, reason %q", resp.ErrorReason)
	}
	if resp.Transaction == "" {
		t.Error("transaction signature missing")
	}
}

func TestVerifyBatchEndpoint(t *testing.T) {
	f := newServerFixture(t)

	t.Run("empty array yields empty array", func(t *testing.T) {
		w := f.do("POST", "/verify/batch", []byte("[]"))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if got := strings.TrimSpace(w.Body.String()); got != "[]" {
			t.Errorf("body = %q, want []", got)
		}
	})

	t.Run("positional responses", func(t *testing.T) {
		first := f.verifyRequestBody(t, 1_000_000)
		second := f.verifyRequestBody(t, 1_000_000)
		body := []byte("[" + string(first) + "," + string(second) + "]")

		w := f.do("POST", "/verify/batch", body)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}

		var resps []x402.VerifyResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resps); err != nil {
			t.Fatalf("unmarshal responses: %v", err)
		}
		if len(resps) != 2 {
			t.Fatalf("responses = %d, want 2", len(resps))
		}
		for i, resp := range resps {
			if !resp.IsValid {
				t.Errorf("responses[%d] invalid: %q", i, resp.InvalidReason)
			}
		}
	})
}

func TestSupportedEndpoint(t *testing.T) {
	f := newServerFixture(t)

	w := f.do("GET", "/supported", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp x402.SupportedResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Schemes) != 1 || resp.Schemes[0].Scheme != "exact" {
		t.Errorf("schemes = %+v, want single exact scheme", resp.Schemes)
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newServerFixture(t)

	w := f.do("GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want ok", resp["status"])
	}
}

func TestAdminHealthEndpoint(t *testing.T) {
	t.Run("healthy chain", func(t *testing.T) {
		f := newServerFixture(t)
		w := f.do("GET", "/admin/health", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
	})

	t.Run("unreachable chain reports degraded", func(t *testing.T) {
		f := newServerFixture(t)
		f.chain.healthErr = errors.New("rpc down")

		w := f.do("GET", "/admin/health", nil)
		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", w.Code)
		}

		var resp map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		if resp["status"] != "degraded" {
			t.Errorf("status = %v, want degraded", resp["status"])
		}
	})
}

func TestAdminStatsEndpoint(t *testing.T) {
	f := newServerFixture(t)
	f.do("POST", "/verify", f.verifyRequestBody(t, 1_000_000))

	w := f.do("GET", "/admin/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	dedupStats, ok := resp["dedup"].(map[string]interface{})
	if !ok {
		t.Fatalf("dedup stats missing: %v", resp)
	}
	if entries, _ := dedupStats["entries"].(float64); entries < 1 {
		t.Errorf("dedup entries = %v, want >= 1 after a verify", dedupStats["entries"])
	}
}

func TestAdminConfigRedactsSecrets(t *testing.T) {
	f := newServerFixture(t)

	w := f.do("GET", "/admin/config", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	body := w.Body.String()
	if strings.Contains(body, "super-secret-value") {
		t.Error("webhook secret leaked into /admin/config")
	}
	if strings.Contains(body, f.feePayer.String()) {
		t.Error("fee payer private key leaked into /admin/config")
	}
	if !strings.Contains(body, "hooks.example.com") {
		t.Error("webhook URL missing from /admin/config")
	}
}

func TestUnknownRoute(t *testing.T) {
	f := newServerFixture(t)

	if w := f.do("GET", "/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if w := f.do("GET", "/verify", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /verify status = %d, want 405", w.Code)
	}
}
