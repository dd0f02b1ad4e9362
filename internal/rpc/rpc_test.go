package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/crossroute/swapd/internal/authority"
	"github.com/crossroute/swapd/internal/confirm"
	"github.com/crossroute/swapd/internal/ledger"
	"github.com/crossroute/swapd/internal/storage"
	"github.com/crossroute/swapd/internal/swap"
	"github.com/crossroute/swapd/pkg/logging"
)

// testServer wires a Server over two simulated chains, served by httptest.
type testServer struct {
	url      string
	store    *storage.Storage
	registry *swap.Registry
	chainA   *ledger.SimAdapter
	chainB   *ledger.SimAdapter
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	adapters, err := ledger.NewRegistry(nil)
	if err != nil {
		t.Fatalf("ledger.NewRegistry() error = %v", err)
	}
	chainA := ledger.NewSimAdapter("chain-a")
	chainB := ledger.NewSimAdapter("chain-b")
	adapters.Set("chain-a", chainA)
	adapters.Set("chain-b", chainB)

	authorities, err := authority.NewRegistry(store, logging.Default())
	if err != nil {
		t.Fatalf("authority.NewRegistry() error = %v", err)
	}
	if _, err := authorities.RegisterAsset("asset-a", "router-a", []string{"router-b"}, ""); err != nil {
		t.Fatalf("RegisterAsset() error = %v", err)
	}
	if _, err := authorities.RegisterAsset("asset-b", "router-b", nil, ""); err != nil {
		t.Fatalf("RegisterAsset() error = %v", err)
	}

	confirms := confirm.NewLedger(store, nil, logging.Default())

	registry := swap.NewRegistry(store)
	coordinator := swap.NewCoordinator(&swap.CoordinatorConfig{
		Registry:      registry,
		Store:         store,
		Adapters:      adapters,
		Authorities:   authorities,
		Confirms:      confirms,
		Logger:        logging.Default(),
		PollInterval:  10 * time.Millisecond,
		RefundRetries: 3,
		RefundBackoff: 10 * time.Millisecond,
	})
	t.Cleanup(func() { coordinator.Close() })

	server := NewServer("router-a", store, coordinator, authorities, confirms, adapters)
	hs := httptest.NewServer(http.HandlerFunc(server.handleRPC))
	t.Cleanup(hs.Close)

	return &testServer{url: hs.URL, store: store, registry: registry, chainA: chainA, chainB: chainB}
}

// call performs a JSON-RPC request and decodes the response.
func (ts *testServer) call(t *testing.T, method string, params interface{}) *Response {
	t.Helper()

	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
		"id":      1,
	}
	if params != nil {
		req["params"] = params
	}

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}

	httpResp, err := http.Post(ts.url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("%s request failed: %v", method, err)
	}
	defer httpResp.Body.Close()

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode %s response: %v", method, err)
	}
	return &resp
}

// result re-marshals a response result into the given shape.
func (ts *testServer) result(t *testing.T, resp *Response, out interface{}) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %d %s", resp.Error.Code, resp.Error.Message)
	}
	data, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("failed to re-marshal result: %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
}

func executeParams() *SwapExecuteParams {
	return &SwapExecuteParams{
		InitiatorID: "router-a",
		ResponderID: "router-b",
		InitiatorAsset: swap.AssetSpec{
			Chain:     "chain-a",
			AssetID:   "asset-a",
			Amount:    100000000,
			Recipient: "addr-responder",
		},
		ResponderAsset: swap.AssetSpec{
			Chain:     "chain-b",
			AssetID:   "asset-b",
			Amount:    1000000000,
			Recipient: "addr-initiator",
		},
		TimeoutSeconds: 3600,
	}
}

func TestSwapLifecycleOverRPC(t *testing.T) {
	ts := newTestServer(t)

	var receipt swap.Receipt
	ts.result(t, ts.call(t, "swap_execute", executeParams()), &receipt)

	if receipt.SwapID == "" {
		t.Fatal("swap_execute returned empty swap id")
	}
	if receipt.Status != storage.SwapStateLocking {
		t.Errorf("Status = %s, want %s", receipt.Status, storage.SwapStateLocking)
	}

	// Mine in the poll loop; the locks are dispatched asynchronously and
	// only existing locks accrue confirmations.
	deadline := time.Now().Add(5 * time.Second)
	var status swap.Status
	for time.Now().Before(deadline) {
		ts.chainA.Mine(1)
		ts.chainB.Mine(1)
		ts.result(t, ts.call(t, "swap_status", SwapIDParams{SwapID: receipt.SwapID}), &status)
		if status.State == storage.SwapStateLocked {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if status.State != storage.SwapStateLocked {
		t.Fatalf("State = %s, want %s", status.State, storage.SwapStateLocked)
	}
	if !status.RollbackEligible {
		t.Error("locked swap should be rollback eligible")
	}

	var completed storage.SwapRecord
	ts.result(t, ts.call(t, "swap_complete", SwapCompleteParams{
		SwapID:        receipt.SwapID,
		CompletionRef: "settle-1",
	}), &completed)

	if completed.State != storage.SwapStateCompleted {
		t.Errorf("State = %s, want %s", completed.State, storage.SwapStateCompleted)
	}
	if completed.CompletionRef != "settle-1" {
		t.Errorf("CompletionRef = %q, want %q", completed.CompletionRef, "settle-1")
	}

	// The completed swap is mirrored into the confirmation ledger.
	var view confirm.DualConfirmationView
	ts.result(t, ts.call(t, "confirmation_view", TransferIDParams{TransferID: receipt.SwapID}), &view)
	if view.Status != confirm.ViewDualConfirmed {
		t.Errorf("view Status = %s, want %s", view.Status, confirm.ViewDualConfirmed)
	}

	var records []*storage.ConfirmationRecord
	ts.result(t, ts.call(t, "confirmation_list", TransferIDParams{TransferID: receipt.SwapID}), &records)
	if len(records) != 2 {
		t.Errorf("len(records) = %d, want 2", len(records))
	}
}

func TestSwapExecuteRejectsUnauthorizedRouter(t *testing.T) {
	ts := newTestServer(t)

	params := executeParams()
	params.InitiatorID = "router-c"

	resp := ts.call(t, "swap_execute", params)
	if resp.Error == nil {
		t.Fatal("expected rpc error for unauthorized router")
	}
}

func TestSwapCancelOverRPC(t *testing.T) {
	ts := newTestServer(t)

	// A swap loaded in pending with no lock refs is still cancellable.
	rec := &storage.SwapRecord{
		SwapID:      "swap-cancel",
		State:       storage.SwapStatePending,
		InitiatorID: "router-a",
		ResponderID: "router-b",
		Deadline:    time.Now().Add(time.Hour),
		CreatedAt:   time.Now(),
	}
	if err := ts.store.SaveSwap(rec); err != nil {
		t.Fatalf("SaveSwap() error = %v", err)
	}
	ts.registry.Load(rec)

	var status swap.Status
	ts.result(t, ts.call(t, "swap_cancel", SwapIDParams{SwapID: "swap-cancel"}), &status)
	if status.State != storage.SwapStateCancelled {
		t.Errorf("State = %s, want %s", status.State, storage.SwapStateCancelled)
	}

	resp := ts.call(t, "swap_cancel", SwapIDParams{SwapID: "swap-cancel"})
	if resp.Error == nil {
		t.Fatal("expected rpc error cancelling a finalized swap")
	}
}

func TestAuthorityMethods(t *testing.T) {
	ts := newTestServer(t)

	var registered storage.AssetAuthority
	ts.result(t, ts.call(t, "authority_register", AuthorityRegisterParams{
		AssetID:         "asset-c",
		PrimaryRouterID: "router-a",
		BackupRouterIDs: []string{"router-b"},
	}), &registered)
	if registered.PrimaryRouterID != "router-a" {
		t.Errorf("PrimaryRouterID = %q, want %q", registered.PrimaryRouterID, "router-a")
	}

	var decision authority.Decision
	ts.result(t, ts.call(t, "authority_validate", AuthorityValidateParams{
		AssetID:  "asset-c",
		RouterID: "router-b",
	}), &decision)
	if !decision.Authorized || decision.Role != authority.RoleBackup {
		t.Errorf("Decision = %+v, want authorized backup", decision)
	}

	var transferred storage.AssetAuthority
	ts.result(t, ts.call(t, "authority_transfer", AuthorityTransferParams{
		AssetID:            "asset-c",
		NewPrimaryRouterID: "router-b",
		RequestingRouterID: "router-a",
	}), &transferred)
	if transferred.PrimaryRouterID != "router-b" {
		t.Errorf("PrimaryRouterID = %q, want %q", transferred.PrimaryRouterID, "router-b")
	}

	// A backup cannot request a transfer.
	resp := ts.call(t, "authority_transfer", AuthorityTransferParams{
		AssetID:            "asset-c",
		NewPrimaryRouterID: "router-a",
		RequestingRouterID: "router-a",
	})
	if resp.Error == nil {
		t.Fatal("expected rpc error for non-primary transfer request")
	}

	var history []*storage.AuthorityTransfer
	ts.result(t, ts.call(t, "authority_history", AssetIDParams{AssetID: "asset-c"}), &history)
	if len(history) != 1 {
		t.Fatalf("len(history) = %d, want 1", len(history))
	}
	if history[0].FromRouterID != "router-a" || history[0].ToRouterID != "router-b" {
		t.Errorf("history[0] = %+v, want router-a -> router-b", history[0])
	}

	var assets []*storage.AssetAuthority
	ts.result(t, ts.call(t, "authority_list", nil), &assets)
	if len(assets) != 3 {
		t.Errorf("len(assets) = %d, want 3", len(assets))
	}
}

func TestServiceInfo(t *testing.T) {
	ts := newTestServer(t)

	var info ServiceInfoResult
	ts.result(t, ts.call(t, "service_info", nil), &info)

	if info.RouterID != "router-a" {
		t.Errorf("RouterID = %q, want %q", info.RouterID, "router-a")
	}
	if len(info.Chains) != 2 {
		t.Errorf("len(Chains) = %d, want 2", len(info.Chains))
	}
}

func TestMethodNotFound(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.call(t, "no_such_method", nil)
	if resp.Error == nil || resp.Error.Code != MethodNotFound {
		t.Fatalf("Error = %+v, want code %d", resp.Error, MethodNotFound)
	}
}

func TestInvalidJSONRPCVersion(t *testing.T) {
	ts := newTestServer(t)

	body := []byte(`{"jsonrpc":"1.0","method":"service_info","id":1}`)
	httpResp, err := http.Post(ts.url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer httpResp.Body.Close()

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != InvalidRequest {
		t.Fatalf("Error = %+v, want code %d", resp.Error, InvalidRequest)
	}
}
