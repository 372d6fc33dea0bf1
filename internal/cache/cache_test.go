package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tankclash/matchcore/pkg/core"
)

func TestDirectory_New(t *testing.T) {
	d := NewDirectory()

	require.NotNil(t, d)
	assert.Zero(t, d.Len())
	assert.Empty(t, d.List())
}

func TestDirectory_UpsertAndGet(t *testing.T) {
	d := NewDirectory()

	d.Upsert(core.Participant{ID: 2, Name: "bravo"})
	d.Upsert(core.Participant{ID: 2, Name: "bravo-renamed"})

	got, ok := d.Get(2)
	require.True(t, ok)
	assert.Equal(t, "bravo-renamed", got.Name)
	assert.Equal(t, "bravo-renamed", d.Name(2))
	assert.Equal(t, "", d.Name(9))
	assert.Equal(t, 1, d.Len())
}

func TestDirectory_ListInActorOrder(t *testing.T) {
	d := NewDirectory()
	d.Upsert(core.Participant{ID: 3, Name: "charlie"})
	d.Upsert(core.Participant{ID: 1, Name: "alpha"})
	d.Upsert(core.Participant{ID: 2, Name: "bravo"})

	assert.Equal(t, []int{1, 2, 3}, d.IDs())
	assert.Equal(t, "alpha", d.List()[0].Name)
}

func TestDirectory_SetMaster(t *testing.T) {
	d := NewDirectory()
	d.Upsert(core.Participant{ID: 1, IsMaster: true})
	d.Upsert(core.Participant{ID: 2})

	d.SetMaster(2)

	p1, _ := d.Get(1)
	p2, _ := d.Get(2)
	assert.False(t, p1.IsMaster)
	assert.True(t, p2.IsMaster)
}

func TestDirectory_RemoveDropsWallet(t *testing.T) {
	d := NewDirectory()
	d.Upsert(core.Participant{ID: 1})
	d.SetWallet(1, "0xabc")

	w, ok := d.Wallet(1)
	require.True(t, ok)
	assert.Equal(t, "0xabc", w)

	d.Remove(1)

	_, ok = d.Wallet(1)
	assert.False(t, ok)
	_, ok = d.Get(1)
	assert.False(t, ok)
}

func TestDirectory_Replace(t *testing.T) {
	d := NewDirectory()
	d.Upsert(core.Participant{ID: 1})
	d.Upsert(core.Participant{ID: 2})
	d.SetWallet(1, "0x1")
	d.SetWallet(2, "0x2")

	d.Replace([]core.Participant{{ID: 2}, {ID: 5}})

	assert.Equal(t, []int{2, 5}, d.IDs())
	_, ok := d.Wallet(1)
	assert.False(t, ok)
	_, ok = d.Wallet(2)
	assert.True(t, ok)
}

func TestDirectory_Reset(t *testing.T) {
	d := NewDirectory()
	d.Upsert(core.Participant{ID: 1})
	d.SetWallet(1, "0x1")

	d.Reset()

	assert.Zero(t, d.Len())
	_, ok := d.Wallet(1)
	assert.False(t, ok)
}

func TestDirectory_ConcurrentAccess(t *testing.T) {
	d := NewDirectory()
	var wg sync.WaitGroup

	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.Upsert(core.Participant{ID: id})
			d.Name(id)
			d.List()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, d.Len())
}
