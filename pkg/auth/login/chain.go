package login

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/alluxio-auth/internal/logger"
	"github.com/marmos91/alluxio-auth/internal/telemetry"
	"github.com/marmos91/alluxio-auth/pkg/auth"
)

// result is the outcome of a successful chain run.
type result struct {
	identity   auth.Identity
	credential auth.Credential
}

// member is a chain entry that takes part in the commit phase.
type member struct {
	entry  Entry
	module Module
}

// runChain executes entries in two phases and returns the single identity
// they produce. On any failure every participating module is aborted, so no
// partial credential survives.
func runChain(ctx context.Context, entries []Entry, factory ModuleFactory) (result, error) {
	subject := newSubject()
	members := make([]member, 0, len(entries))

	abort := func() {
		for i := len(members) - 1; i >= 0; i-- {
			members[i].module.Abort(ctx, subject)
		}
	}

	succeeded := false
	shortCircuited := false
	for _, e := range entries {
		m, err := factory(e)
		if err != nil {
			abort()
			return result{}, &auth.ChainStepError{Module: string(e.Kind), Err: err}
		}

		// Modules after a Sufficient success skip Login but still commit.
		if shortCircuited {
			members = append(members, member{entry: e, module: m})
			continue
		}

		if err := ctx.Err(); err != nil {
			abort()
			return result{}, err
		}

		err = m.Login(ctx, subject)
		switch {
		case errors.Is(err, ErrIgnore):
			logger.DebugCtx(ctx, "Login module ignored", logger.KeyModule, string(e.Kind))
			continue
		case err != nil:
			if e.Control == Mandatory {
				m.Abort(ctx, subject)
				abort()
				return result{}, &auth.ChainStepError{Module: string(e.Kind), Err: err}
			}
			logger.DebugCtx(ctx, "Login module failed",
				logger.KeyModule, string(e.Kind),
				logger.KeyControl, e.Control.String(),
				logger.KeyError, err)
			continue
		}

		telemetry.AddEvent(ctx, "login.module", telemetry.AuthModule(string(e.Kind)))
		succeeded = true
		members = append(members, member{entry: e, module: m})
		if e.Control == Sufficient {
			shortCircuited = true
		}
	}

	if !succeeded {
		abort()
		return result{}, fmt.Errorf("%w: no login module succeeded", auth.ErrNoIdentityProduced)
	}

	for _, mb := range members {
		if err := mb.module.Commit(ctx, subject); err != nil {
			abort()
			return result{}, &auth.ChainStepError{Module: string(mb.entry.Kind), Err: err}
		}
	}

	ids := subject.Identities()
	switch len(ids) {
	case 0:
		abort()
		return result{}, auth.ErrNoIdentityProduced
	case 1:
		return result{identity: ids[0], credential: subject.Credential()}, nil
	default:
		abort()
		return result{}, fmt.Errorf("%w: %d users", auth.ErrAmbiguousIdentity, len(ids))
	}
}
