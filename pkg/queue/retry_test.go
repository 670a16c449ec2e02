package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchedule_Exponential(t *testing.T) {
	got := Schedule(BackoffExponential, 60, 5)
	assert.Equal(t, map[int]int{
		1: 60,
		2: 120,
		3: 240,
		4: 480,
		5: 960,
	}, got)
}

func TestUnjitteredDelay_ExponentialCapsAtMax(t *testing.T) {
	assert.Equal(t, MaxRetryDelaySeconds, UnjitteredDelay(BackoffExponential, 60, 8))
}

func TestUnjitteredDelay_Linear(t *testing.T) {
	assert.Equal(t, 30, UnjitteredDelay(BackoffLinear, 10, 3))
}

func TestUnjitteredDelay_Fixed(t *testing.T) {
	for attempt := 1; attempt <= 4; attempt++ {
		assert.Equal(t, 15, UnjitteredDelay(BackoffFixed, 15, attempt))
	}
}

func TestUnjitteredDelay_ZeroAttemptTreatedAsFirst(t *testing.T) {
	assert.Equal(t, UnjitteredDelay(BackoffExponential, 60, 1), UnjitteredDelay(BackoffExponential, 60, 0))
}

func TestDelay_JitterStaysWithinBand(t *testing.T) {
	base := 100
	for attempt := 1; attempt <= 3; attempt++ {
		unjittered := UnjitteredDelay(BackoffExponential, base, attempt)
		for i := 0; i < 50; i++ {
			d := Delay(BackoffExponential, base, attempt)
			assert.GreaterOrEqual(t, d, int(float64(unjittered)*0.9))
			assert.LessOrEqual(t, d, int(float64(unjittered)*1.1)+1)
		}
	}
}

func TestDelay_ZeroBaseSkipsJitter(t *testing.T) {
	assert.Equal(t, 0, Delay(BackoffFixed, 0, 1))
}

func TestDelayWithJitter_Deterministic(t *testing.T) {
	always0 := func() float64 { return 0 }
	always1 := func() float64 { return 1 }

	low := delayWithJitter(BackoffFixed, 100, 1, 0.1, always0)
	high := delayWithJitter(BackoffFixed, 100, 1, 0.1, always1)
	assert.Equal(t, 90, low)
	assert.Equal(t, 110, high)
}
