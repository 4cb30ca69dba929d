// Package analyzer wraps the pluggable inference backends behind the two
// analyzer contracts the pipeline depends on: a stateless per-frame
// spatial analyzer and a window-consuming temporal analyzer. Concrete
// backends (HTTP inference services or local stubs) are selected by
// configuration at construction time.
package analyzer

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"vigil/internal/frame"
	"vigil/internal/threat"
	"vigil/internal/window"
)

// ErrUnavailable indicates a transient backend failure or timeout. The
// fusion engine treats this as missing evidence, never as a negative
// judgment.
var ErrUnavailable = errors.New("analyzer unavailable")

// Spatial analyzes a single frame for object/weapon evidence. It must be
// stateless across calls and safe for concurrent use across streams.
type Spatial interface {
	Name() string
	IsHealthy() bool
	Analyze(ctx context.Context, f *frame.Frame) (*threat.Score, error)
}

// Temporal analyzes an ordered window of frames for motion evidence. It
// operates on the immutable snapshot passed in, never on the live buffer,
// so concurrent pushes during execution cannot reorder its input.
type Temporal interface {
	Name() string
	IsHealthy() bool
	Analyze(ctx context.Context, snap window.Snapshot) (*threat.Score, error)
}

// weaponClasses are the spatial backend classes mapped to CategoryWeapon.
var weaponClasses = map[string]bool{
	"weapon":  true,
	"gun":     true,
	"pistol":  true,
	"rifle":   true,
	"knife":   true,
	"machete": true,
	"bat":     true,
}

// isWeaponClass reports whether a detection class counts as a weapon.
func isWeaponClass(class string) bool {
	return weaponClasses[strings.ToLower(class)]
}

// retryBudget bounds backend retries so per-frame latency stays bounded.
// One retry with a short jittered pause; anything beyond that belongs to
// the next frame.
const (
	maxAttempts    = 2
	retryBaseDelay = 100 * time.Millisecond
	retryJitter    = 150 * time.Millisecond
)

// doWithRetry runs call up to maxAttempts times, sleeping a jittered delay
// between attempts. Context cancellation aborts immediately.
func doWithRetry(ctx context.Context, call func() error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = call(); err == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}

		delay := retryBaseDelay + time.Duration(rand.Int63n(int64(retryJitter)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
