package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openlever/margind/internal/domain"
)

func TestAcceptSlippageLong(t *testing.T) {
	const ref, tol = 100.0, 0.01

	assert.True(t, AcceptSlippage(domain.SideLong, ref, ref, tol))
	assert.True(t, AcceptSlippage(domain.SideLong, ref, 100.5, tol))
	assert.True(t, AcceptSlippage(domain.SideLong, ref, ref*(1+tol), tol), "exact band edge is accepted")
	assert.False(t, AcceptSlippage(domain.SideLong, ref, ref*(1+tol)+0.0001, tol))
	assert.False(t, AcceptSlippage(domain.SideLong, ref, 102, tol))

	// Price moving down never hurts a buyer.
	assert.True(t, AcceptSlippage(domain.SideLong, ref, 90, tol))
}

func TestAcceptSlippageShort(t *testing.T) {
	const ref, tol = 100.0, 0.01

	assert.True(t, AcceptSlippage(domain.SideShort, ref, ref, tol))
	assert.True(t, AcceptSlippage(domain.SideShort, ref, ref*(1-tol), tol), "exact band edge is accepted")
	assert.False(t, AcceptSlippage(domain.SideShort, ref, ref*(1-tol)-0.0001, tol))

	// Price moving up never hurts a seller.
	assert.True(t, AcceptSlippage(domain.SideShort, ref, 110, tol))
}

func TestAcceptSlippageInvalidInput(t *testing.T) {
	assert.False(t, AcceptSlippage(domain.Side("sideways"), 100, 100, 0.01))
	assert.False(t, AcceptSlippage(domain.SideLong, 0, 100, 0.01))
	assert.False(t, AcceptSlippage(domain.SideLong, 100, 0, 0.01))
	assert.False(t, AcceptSlippage(domain.SideLong, 100, 100, -0.01))
}

func TestUnrealizedPnL(t *testing.T) {
	// Long: profits when price rises.
	assert.Equal(t, 50.0, UnrealizedPnL(domain.SideLong, 10, 50, 55))
	assert.Equal(t, -50.0, UnrealizedPnL(domain.SideLong, 10, 50, 45))

	// Short: mirror image.
	assert.Equal(t, -50.0, UnrealizedPnL(domain.SideShort, 10, 50, 55))
	assert.Equal(t, 50.0, UnrealizedPnL(domain.SideShort, 10, 50, 45))

	// Round trip at the entry price is flat for both sides.
	assert.Zero(t, UnrealizedPnL(domain.SideLong, 10, 50, 50))
	assert.Zero(t, UnrealizedPnL(domain.SideShort, 10, 50, 50))

	// Unknown side is flat, never an error.
	assert.Zero(t, UnrealizedPnL(domain.Side("sideways"), 10, 50, 60))
}

func TestQuantity(t *testing.T) {
	// margin=100, leverage=5, entry=50 -> 10 units.
	assert.Equal(t, 10.0, Quantity(100, 5, 50))
	assert.Zero(t, Quantity(100, 5, 0))
}
