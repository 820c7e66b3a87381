package observability

import "context"

// Checker is a dependency verified by the readiness probe.
// Check must honour ctx so a slow dependency cannot stall the probe.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc struct {
	Component string
	Fn        func(ctx context.Context) error
}

func (c CheckerFunc) Name() string { return c.Component }

func (c CheckerFunc) Check(ctx context.Context) error { return c.Fn(ctx) }
