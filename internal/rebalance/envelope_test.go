package rebalance

import (
	"testing"
	"time"

	"svcpool/internal/clocktest"

	"github.com/stretchr/testify/assert"
)

func TestEnvelopeTracksPeak(t *testing.T) {
	t.Parallel()
	clk := clocktest.New()
	e := NewEnvelope(clk, time.Second)

	e.Observe(5)
	assert.Equal(t, 5, e.Value())
	e.Observe(2)
	assert.Equal(t, 5, e.Value(), "envelope must not drop immediately below a recent peak")
}

func TestEnvelopeDecaysOverTime(t *testing.T) {
	t.Parallel()
	clk := clocktest.New()
	e := NewEnvelope(clk, time.Second)

	e.Observe(10)
	clk.Advance(5 * time.Second)
	e.Observe(0)
	// 10·e^-5 ≈ 0.07, which Value rounds up to a single slot.
	assert.Equal(t, 1, e.Value())
}

func TestEnvelopeWithoutDecayHoldsHighWaterMark(t *testing.T) {
	t.Parallel()
	clk := clocktest.New()
	e := NewEnvelope(clk, 0)

	e.Observe(7)
	clk.Advance(time.Hour)
	e.Observe(1)
	assert.Equal(t, 7, e.Value())
}
