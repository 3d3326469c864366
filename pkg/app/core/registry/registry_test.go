package registry

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hypermarket/pkg/app/core/hook"
	"github.com/uhyunpark/hypermarket/pkg/storage"
)

var (
	registryAddr = common.HexToAddress("0x7E00000000000000000000000000000000000001")
	alice        = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob          = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	carol        = common.HexToAddress("0xCC00000000000000000000000000000000000000")
)

func newTestRegistry(t *testing.T) (*Registry, *hook.Registry, *storage.Tx) {
	t.Helper()
	db, err := storage.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	tx := db.Begin()
	t.Cleanup(tx.Discard)
	hooks := hook.NewRegistry()
	return New(registryAddr, hooks), hooks, tx
}

func TestMintAssignsSequentialIDs(t *testing.T) {
	r, _, st := newTestRegistry(t)

	for want := uint64(1); want <= 3; want++ {
		id, err := r.Mint(st, alice, "ipfs://asset")
		if err != nil {
			t.Fatalf("mint failed: %v", err)
		}
		if id != want {
			t.Errorf("mint id = %d, want %d", id, want)
		}
	}
	owner, err := r.OwnerOf(st, 2)
	if err != nil || owner != alice {
		t.Errorf("OwnerOf(2) = %s, %v", owner.Hex(), err)
	}
	if _, err := r.OwnerOf(st, 4); !errors.Is(err, ErrUnknownAsset) {
		t.Errorf("OwnerOf(4) error = %v, want ErrUnknownAsset", err)
	}
	if _, err := r.Mint(st, common.Address{}, ""); !errors.Is(err, ErrZeroAddress) {
		t.Errorf("mint to zero address error = %v", err)
	}
}

func TestTransferCustodyAuthorization(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(r *Registry, st storage.State, id uint64)
		caller  common.Address
		from    common.Address
		wantErr error
	}{
		{"owner transfers", nil, alice, alice, nil},
		{"stranger rejected", nil, carol, alice, ErrUnauthorized},
		{"wrong from", nil, bob, bob, ErrNotOwner},
		{
			name: "approved operator",
			setup: func(r *Registry, st storage.State, id uint64) {
				if err := r.Approve(st, alice, id, carol); err != nil {
					t.Fatal(err)
				}
			},
			caller: carol, from: alice,
		},
		{
			name: "operator for all",
			setup: func(r *Registry, st storage.State, id uint64) {
				r.SetApprovalForAll(st, alice, carol, true)
			},
			caller: carol, from: alice,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, st := newTestRegistry(t)
			id, err := r.Mint(st, alice, "")
			if err != nil {
				t.Fatal(err)
			}
			if tt.setup != nil {
				tt.setup(r, st, id)
			}
			err = r.TransferCustody(st, tt.caller, id, tt.from, bob)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("TransferCustody() error = %v, want %v", err, tt.wantErr)
			}
			owner, _ := r.OwnerOf(st, id)
			if tt.wantErr == nil && owner != bob {
				t.Errorf("owner = %s, want bob", owner.Hex())
			}
			if tt.wantErr != nil && owner != alice {
				t.Errorf("failed transfer moved asset to %s", owner.Hex())
			}
		})
	}
}

func TestApprovalClearedOnTransfer(t *testing.T) {
	r, _, st := newTestRegistry(t)
	id, _ := r.Mint(st, alice, "")
	if err := r.Approve(st, alice, id, carol); err != nil {
		t.Fatal(err)
	}
	if err := r.TransferCustody(st, carol, id, alice, bob); err != nil {
		t.Fatalf("approved transfer failed: %v", err)
	}
	if err := r.TransferCustody(st, carol, id, bob, carol); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stale approval reused: %v", err)
	}
	if err := r.Approve(st, carol, id, carol); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-owner approve: %v", err)
	}
}

func TestAssetHookRejectionReverts(t *testing.T) {
	r, hooks, st := newTestRegistry(t)
	id, _ := r.Mint(st, alice, "")

	var seenRegistry common.Address
	hooks.Register(bob, hook.Funcs{
		Asset: func(st storage.State, from, registry common.Address, assetID uint64) error {
			seenRegistry = registry
			return errors.New("not accepting assets")
		},
	})

	if err := r.TransferCustody(st, alice, id, alice, bob); err == nil {
		t.Fatal("expected hook rejection")
	}
	if seenRegistry != registryAddr {
		t.Errorf("hook saw registry %s", seenRegistry.Hex())
	}
	if owner, _ := r.OwnerOf(st, id); owner != alice {
		t.Errorf("rejected transfer left asset with %s", owner.Hex())
	}
}

func TestAssetsOf(t *testing.T) {
	r, _, st := newTestRegistry(t)
	r.Mint(st, alice, "a")
	r.Mint(st, bob, "b")
	r.Mint(st, alice, "c")

	assets, err := r.AssetsOf(st, alice)
	if err != nil {
		t.Fatal(err)
	}
	if len(assets) != 2 || assets[0].ID != 1 || assets[1].ID != 3 {
		t.Fatalf("AssetsOf(alice) = %+v", assets)
	}
}
