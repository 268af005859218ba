package deployer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/0gfoundation/gated-faucet/internal/store"
)

var (
	// ErrDependencyMissing means a step needs a role an earlier step did not
	// produce. Nothing was sent to the chain.
	ErrDependencyMissing = errors.New("dependency missing")
	// ErrImplementationMismatch means a proxy does not point at the
	// implementation that was just deployed for it.
	ErrImplementationMismatch = errors.New("proxy implementation mismatch")
	// ErrIncompatibleImplementation means a new implementation cannot be
	// installed behind a UUPS proxy.
	ErrIncompatibleImplementation = errors.New("incompatible implementation")
)

// StepError reports which step failed, the role it was producing and the
// roles it depended on. Err carries the underlying cause.
type StepError struct {
	Step      string
	Role      store.Role
	DependsOn []store.Role
	Err       error
}

func (e *StepError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "step %s", e.Step)
	if e.Role != "" {
		fmt.Fprintf(&b, " (%s)", e.Role)
	}
	if len(e.DependsOn) > 0 {
		deps := make([]string, len(e.DependsOn))
		for i, d := range e.DependsOn {
			deps[i] = string(d)
		}
		fmt.Fprintf(&b, " [depends on %s]", strings.Join(deps, ", "))
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *StepError) Unwrap() error { return e.Err }
