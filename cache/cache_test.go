package cache

import (
	"path/filepath"
	"reflect"
	"testing"

	ble "github.com/rigado/lehost"
	"github.com/rigado/lehost/gap"
)

var (
	addr0 = ble.MustAddr(ble.AddrLEPublic, "12:34:56:78:90:ab")
	addr1 = ble.MustAddr(ble.AddrLERandom, "c2:34:56:78:90:ab")
)

func testBond(b byte) gap.BondData {
	return gap.BondData{
		LongTermKey: []byte{b, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
		EDiv:        0x1234,
		Random:      0x0102030405060708,
		Legacy:      true,
	}
}

func newTestCache(t *testing.T) *BondCache {
	return New(filepath.Join(t.TempDir(), "bonds.json"))
}

func TestBondCacheStore(t *testing.T) {
	c := newTestCache(t)

	err := c.Store(addr0, testBond(0), false)
	if err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}

	loaded, err := c.Load(addr0)
	if err != nil {
		t.Fatalf("expected to find %v in cache but did not: %s", addr0, err)
	}
	if !reflect.DeepEqual(testBond(0), loaded) {
		t.Fatalf("stored and loaded bonds are not equal")
	}

	if _, err := c.Load(addr1); err == nil {
		t.Fatalf("expected an error for a missing bond")
	}
}

func TestBondCacheReplace(t *testing.T) {
	c := newTestCache(t)

	if err := c.Store(addr0, testBond(0), false); err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}
	if err := c.Store(addr0, testBond(1), false); err == nil {
		t.Fatalf("expected an error storing over an existing bond")
	}
	if err := c.Store(addr0, testBond(1), true); err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}

	loaded, _ := c.Load(addr0)
	if loaded.LongTermKey[0] != 1 {
		t.Fatalf("expected the replaced bond but got %v instead", loaded)
	}
}

func TestBondCacheAllAndRemove(t *testing.T) {
	c := newTestCache(t)
	c.Store(addr1, testBond(1), false)
	c.Store(addr0, testBond(0), false)

	all, err := c.All()
	if err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}
	if len(all) != 2 || all[0].Address != addr0 || all[1].Address != addr1 {
		t.Fatalf("unexpected bonds %v", all)
	}

	if err := c.Remove(addr0); err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}
	if err := c.Remove(addr0); err != nil {
		t.Fatalf("removing twice should not fail: %s", err)
	}
	all, _ = c.All()
	if len(all) != 1 || all[0].Address != addr1 {
		t.Fatalf("unexpected bonds after remove %v", all)
	}

	if err := c.Clear(); err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}
	if err := c.Clear(); err != nil {
		t.Fatalf("clearing a missing file should not fail: %s", err)
	}
	all, _ = c.All()
	if len(all) != 0 {
		t.Fatalf("expected no bonds after clear but got %v", all)
	}
}
