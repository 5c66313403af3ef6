package carrier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Registry_LookupRegister(t *testing.T) {
	reg := NewRegistry()
	_, found := reg.Lookup(1)
	assert.False(t, found)

	be1 := &Backend{Service: 1}
	reg.Register(1, be1)
	be, found := reg.Lookup(1)
	assert.True(t, found)
	assert.Equal(t, be1, be)

	be2 := &Backend{Service: 1}
	reg.Register(1, be2)
	be, _ = reg.Lookup(1)
	assert.Equal(t, be2, be)
	assert.Equal(t, 1, reg.Len())
}

func Test_Registry_UnregisterOnlyOwner(t *testing.T) {
	reg := NewRegistry()
	old := &Backend{Service: 3}
	cur := &Backend{Service: 3}
	reg.Register(3, cur)

	// a stale backend must not remove its replacement
	assert.False(t, reg.Unregister(3, old))
	_, found := reg.Lookup(3)
	assert.True(t, found)

	assert.True(t, reg.Unregister(3, cur))
	_, found = reg.Lookup(3)
	assert.False(t, found)
	assert.False(t, reg.Unregister(3, nil))

	reg.Register(3, cur)
	assert.True(t, reg.Unregister(3, nil))
}

func Test_Registry_Services(t *testing.T) {
	reg := NewRegistry()
	for _, id := range []uint16{9, 2, 5} {
		reg.Register(id, &Backend{Service: id})
	}
	assert.Equal(t, []uint16{2, 5, 9}, reg.Services())
}
