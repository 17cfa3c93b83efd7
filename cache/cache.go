// Package cache keeps the bond data of peers in a JSON file so bonded peers
// are known again after a restart.
package cache

import (
	"fmt"
	"io/ioutil"
	"os"
	"sort"
	"sync"

	jsoniter "github.com/json-iterator/go"
	ble "github.com/rigado/lehost"
	"github.com/rigado/lehost/gap"
)

// BondCache is safe for concurrent use. Every call reads the file again,
// so several processes may share it as long as they don't write at once.
type BondCache struct {
	filename string
	lock     sync.RWMutex
}

func New(filename string) *BondCache {
	return &BondCache{
		filename: filename,
	}
}

func (bc *BondCache) Filename() string {
	return bc.filename
}

// Store saves the bond of addr. An existing bond is only overwritten when
// replace is set.
func (bc *BondCache) Store(addr ble.Addr, bond gap.BondData, replace bool) error {
	bc.lock.Lock()
	defer bc.lock.Unlock()

	cache, err := bc.loadExisting()
	if err != nil {
		return err
	}

	key := key(addr)
	if _, ok := cache[key]; ok && !replace {
		return fmt.Errorf("cache already contains a bond for %s", key)
	}
	cache[key] = bond

	return bc.storeCache(cache)
}

func (bc *BondCache) Load(addr ble.Addr) (gap.BondData, error) {
	bc.lock.RLock()
	defer bc.lock.RUnlock()

	cache, err := bc.loadExisting()
	if err != nil {
		return gap.BondData{}, err
	}

	b, ok := cache[key(addr)]
	if !ok {
		return gap.BondData{}, fmt.Errorf("bond for %s not found in cache", key(addr))
	}
	return b, nil
}

// Bond is one entry of the cache.
type Bond struct {
	Address ble.Addr     `json:"address"`
	Data    gap.BondData `json:"bond"`
}

// All returns every bond, ordered by address.
func (bc *BondCache) All() ([]Bond, error) {
	bc.lock.RLock()
	defer bc.lock.RUnlock()

	cache, err := bc.loadExisting()
	if err != nil {
		return nil, err
	}

	out := make([]Bond, 0, len(cache))
	for k, v := range cache {
		var a ble.Addr
		if err := a.UnmarshalText([]byte(k)); err != nil {
			return nil, fmt.Errorf("bad address %q in %s: %v", k, bc.filename, err)
		}
		out = append(out, Bond{Address: a, Data: v})
	}
	sort.Slice(out, func(i, j int) bool { return key(out[i].Address) < key(out[j].Address) })
	return out, nil
}

// Remove deletes the bond of addr. Removing an unknown address is not an
// error.
func (bc *BondCache) Remove(addr ble.Addr) error {
	bc.lock.Lock()
	defer bc.lock.Unlock()

	cache, err := bc.loadExisting()
	if err != nil {
		return err
	}
	if _, ok := cache[key(addr)]; !ok {
		return nil
	}
	delete(cache, key(addr))
	return bc.storeCache(cache)
}

func (bc *BondCache) Clear() error {
	bc.lock.Lock()
	defer bc.lock.Unlock()

	err := os.Remove(bc.filename)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func key(a ble.Addr) string {
	b, _ := a.MarshalText()
	return string(b)
}

func (bc *BondCache) loadExisting() (map[string]gap.BondData, error) {
	_, err := os.Stat(bc.filename)
	if os.IsNotExist(err) {
		return map[string]gap.BondData{}, nil
	}

	in, err := ioutil.ReadFile(bc.filename)
	if err != nil {
		return nil, err
	}

	cache := map[string]gap.BondData{}
	if len(in) == 0 {
		return cache, nil
	}
	err = jsoniter.Unmarshal(in, &cache)
	if err != nil {
		return nil, err
	}

	return cache, nil
}

func (bc *BondCache) storeCache(cache map[string]gap.BondData) error {
	out, err := jsoniter.MarshalIndent(cache, "", "  ")
	if err != nil {
		return err
	}

	return ioutil.WriteFile(bc.filename, out, 0600)
}
