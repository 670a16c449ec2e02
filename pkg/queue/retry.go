package queue

import "math/rand"

// MaxRetryDelaySeconds is the hard ceiling every backoff strategy clamps to.
const MaxRetryDelaySeconds = 3600

// Delay computes the retry delay for the given strategy, base seconds, and
// 1-indexed attempt number, then applies uniform jitter in
// [1-jitter, 1+jitter] (jitter defaults to 0.1, skipped when base is 0) and
// clamps the result to [0, MaxRetryDelaySeconds].
func Delay(strategy BackoffStrategy, base int, attempt int) int {
	return delayWithJitter(strategy, base, attempt, 0.1, rand.Float64)
}

// UnjitteredDelay returns the raw backoff delay with no jitter applied,
// still clamped to [0, MaxRetryDelaySeconds].
func UnjitteredDelay(strategy BackoffStrategy, base int, attempt int) int {
	return clampDelay(rawDelay(strategy, base, attempt))
}

// Schedule returns the unjittered delay for every attempt from 1 to
// maxAttempts, for inspection by tests and admin tooling.
func Schedule(strategy BackoffStrategy, base int, maxAttempts int) map[int]int {
	out := make(map[int]int, maxAttempts)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out[attempt] = UnjitteredDelay(strategy, base, attempt)
	}
	return out
}

func delayWithJitter(strategy BackoffStrategy, base int, attempt int, jitter float64, random func() float64) int {
	raw := rawDelay(strategy, base, attempt)
	if base != 0 && jitter > 0 {
		factor := (1 - jitter) + random()*(2*jitter)
		raw = int(float64(raw) * factor)
	}
	return clampDelay(raw)
}

func rawDelay(strategy BackoffStrategy, base int, attempt int) int {
	if attempt < 1 {
		attempt = 1
	}
	switch strategy {
	case BackoffLinear:
		return base * attempt
	case BackoffFixed:
		return base
	case BackoffExponential:
		fallthrough
	default:
		return base * pow2(attempt-1)
	}
}

func pow2(n int) int {
	if n <= 0 {
		return 1
	}
	result := 1
	for i := 0; i < n; i++ {
		result *= 2
		if result >= MaxRetryDelaySeconds {
			return result
		}
	}
	return result
}

func clampDelay(d int) int {
	if d < 0 {
		return 0
	}
	if d > MaxRetryDelaySeconds {
		return MaxRetryDelaySeconds
	}
	return d
}
