package threadreg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckInAssignsDenseIDs(t *testing.T) {
	r := NewRegistry(4)
	a := r.CheckIn()
	b := r.CheckIn()
	require.NotEqual(t, a.TID(), b.TID())
	require.Equal(t, 2, r.MaxTid())

	a.CheckOut()
	c := r.CheckIn()
	require.Equal(t, a.TID(), c.TID(), "released slot should be reused")
	require.Equal(t, 2, r.MaxTid(), "high-watermark never drops")
}

func TestCheckInPanicsWhenExhausted(t *testing.T) {
	r := NewRegistry(1)
	first := r.CheckIn()
	defer first.CheckOut()

	require.Panics(t, func() { r.CheckIn() })
}

func TestCheckOutIsIdempotent(t *testing.T) {
	r := NewRegistry(2)
	a := r.CheckIn()
	a.CheckOut()
	require.NotPanics(t, a.CheckOut)
}
