// Package inject provides dependency injected structures for mocking the scan
// matcher interface.
package inject

import (
	"context"

	"github.com/golang/geo/r2"

	"github.com/viamrobotics/viam-posegraph/scanmatch"
	"github.com/viamrobotics/viam-posegraph/transform"
)

// Matcher is an injected scan matcher.
type Matcher struct {
	scanmatch.Matcher
	MatchFunc func(ctx context.Context, source, target []r2.Point, guess transform.Pose) (scanmatch.Result, error)
}

// Match calls the injected Match or the real version.
func (m *Matcher) Match(ctx context.Context, source, target []r2.Point, guess transform.Pose) (scanmatch.Result, error) {
	if m.MatchFunc == nil {
		return m.Matcher.Match(ctx, source, target, guess)
	}
	return m.MatchFunc(ctx, source, target, guess)
}
