package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/crossroute/swapd/internal/commitment"
)

func testLockParams(t *testing.T, timelock time.Time) (LockParams, *commitment.Commitment) {
	t.Helper()
	c, err := commitment.New()
	if err != nil {
		t.Fatal(err)
	}
	return LockParams{
		SecretHash: c.Hash,
		Recipient:  "addr-recipient",
		AssetID:    "native",
		Amount:     100000000,
		Timelock:   timelock,
	}, c
}

func TestSimLockAndClaim(t *testing.T) {
	sim := NewSimAdapter("chain-a")
	ctx := context.Background()

	params, c := testLockParams(t, time.Now().Add(time.Hour))
	lockRef, err := sim.Lock(ctx, params)
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	if lockRef.Chain != "chain-a" || lockRef.Ref == "" {
		t.Fatalf("bad lock ref %+v", lockRef)
	}

	// Confirmations start at zero and advance with Mine
	n, err := sim.ConfirmationCount(ctx, lockRef.Ref)
	if err != nil || n != 0 {
		t.Errorf("ConfirmationCount = %d, %v; want 0, nil", n, err)
	}
	sim.Mine(3)
	n, _ = sim.ConfirmationCount(ctx, lockRef.Ref)
	if n != 3 {
		t.Errorf("ConfirmationCount after Mine(3) = %d, want 3", n)
	}

	// Wrong secret rejected
	if _, err := sim.Claim(ctx, lockRef.Ref, make([]byte, 32)); !errors.Is(err, ErrInvalidSecret) {
		t.Errorf("Claim(wrong secret) error = %v, want ErrInvalidSecret", err)
	}

	// Correct secret accepted
	claimRef, err := sim.Claim(ctx, lockRef.Ref, c.Secret)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if claimRef == "" {
		t.Error("claim ref is empty")
	}

	// Second claim rejected
	if _, err := sim.Claim(ctx, lockRef.Ref, c.Secret); !errors.Is(err, ErrAlreadySettled) {
		t.Errorf("second Claim error = %v, want ErrAlreadySettled", err)
	}
}

func TestSimRefund(t *testing.T) {
	sim := NewSimAdapter("chain-a")
	ctx := context.Background()

	// Not yet expired
	params, _ := testLockParams(t, time.Now().Add(time.Hour))
	lockRef, err := sim.Lock(ctx, params)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sim.Refund(ctx, lockRef.Ref); !errors.Is(err, ErrNotExpired) {
		t.Errorf("Refund(unexpired) error = %v, want ErrNotExpired", err)
	}

	// Expired lock refunds
	expiredParams, c := testLockParams(t, time.Now().Add(-time.Minute))
	expiredRef, err := sim.Lock(ctx, expiredParams)
	if err != nil {
		t.Fatal(err)
	}

	expired, err := sim.IsExpired(ctx, expiredRef.Ref)
	if err != nil || !expired {
		t.Errorf("IsExpired = %v, %v; want true, nil", expired, err)
	}

	refundRef, err := sim.Refund(ctx, expiredRef.Ref)
	if err != nil {
		t.Fatalf("Refund() error = %v", err)
	}
	if refundRef == "" {
		t.Error("refund ref is empty")
	}

	// Claim after refund rejected
	if _, err := sim.Claim(ctx, expiredRef.Ref, c.Secret); !errors.Is(err, ErrAlreadySettled) {
		t.Errorf("Claim after refund error = %v, want ErrAlreadySettled", err)
	}
}

func TestSimUnknownLock(t *testing.T) {
	sim := NewSimAdapter("chain-a")
	ctx := context.Background()

	if _, err := sim.Claim(ctx, "nope", make([]byte, 32)); !errors.Is(err, ErrLockNotFound) {
		t.Errorf("Claim(unknown) error = %v, want ErrLockNotFound", err)
	}
	if _, err := sim.Refund(ctx, "nope"); !errors.Is(err, ErrLockNotFound) {
		t.Errorf("Refund(unknown) error = %v, want ErrLockNotFound", err)
	}
	if _, err := sim.ConfirmationCount(ctx, "nope"); !errors.Is(err, ErrLockNotFound) {
		t.Errorf("ConfirmationCount(unknown) error = %v, want ErrLockNotFound", err)
	}
}

func TestSimInvalidLockParams(t *testing.T) {
	sim := NewSimAdapter("chain-a")
	ctx := context.Background()

	params, _ := testLockParams(t, time.Now().Add(time.Hour))
	params.Recipient = ""
	_, err := sim.Lock(ctx, params)
	if err == nil {
		t.Fatal("Lock with empty recipient should fail")
	}
	if !IsUnrecoverable(err) {
		t.Error("empty recipient should be unrecoverable")
	}
}

func TestSimFailureInjection(t *testing.T) {
	sim := NewSimAdapter("chain-a")
	ctx := context.Background()

	boom := errors.New("rpc down")
	sim.FailNextLock(boom)

	params, _ := testLockParams(t, time.Now().Add(time.Hour))
	if _, err := sim.Lock(ctx, params); !errors.Is(err, boom) {
		t.Errorf("Lock error = %v, want injected failure", err)
	}

	sim.FailNextLock(nil)
	if _, err := sim.Lock(ctx, params); err != nil {
		t.Errorf("Lock after clearing failure error = %v", err)
	}
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(map[string]*ChainConfig{
		"chain-a": {Kind: KindSim, RequiredConfirmations: 3},
		"chain-b": {Kind: KindSim, RequiredConfirmations: 2},
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	if !reg.Has("chain-a") || !reg.Has("chain-b") {
		t.Error("registry missing configured chains")
	}

	a, err := reg.Get("chain-a")
	if err != nil {
		t.Fatalf("Get(chain-a) error = %v", err)
	}
	if a.ChainID() != "chain-a" {
		t.Errorf("ChainID = %s, want chain-a", a.ChainID())
	}

	if _, err := reg.Get("chain-x"); !errors.Is(err, ErrUnsupportedChain) {
		t.Errorf("Get(unknown) error = %v, want ErrUnsupportedChain", err)
	}

	chains := reg.List()
	if len(chains) != 2 || chains[0] != "chain-a" || chains[1] != "chain-b" {
		t.Errorf("List() = %v", chains)
	}
}

func TestRegistryUnknownKind(t *testing.T) {
	_, err := NewRegistry(map[string]*ChainConfig{
		"chain-a": {Kind: "teleporter"},
	})
	if err == nil {
		t.Fatal("NewRegistry with unknown kind should fail")
	}
}

func TestUnrecoverable(t *testing.T) {
	base := errors.New("bad address")
	wrapped := Unrecoverable(base)

	if !IsUnrecoverable(wrapped) {
		t.Error("IsUnrecoverable(wrapped) = false")
	}
	if !errors.Is(wrapped, base) {
		t.Error("wrapped error lost its cause")
	}
	if IsUnrecoverable(base) {
		t.Error("plain error reported unrecoverable")
	}
	if Unrecoverable(nil) != nil {
		t.Error("Unrecoverable(nil) should be nil")
	}
}
