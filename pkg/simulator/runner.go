package simulator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultRestartDelay = time.Second

// ErrPermanent marks a source failure that a restart cannot fix. The runner
// logs it once and stops supervising that source.
var ErrPermanent = errors.New("permanent source failure")

var errStopped = errors.New("source returned before shutdown")

// Runner supervises a set of sources. A source that fails or panics is
// restarted after RestartDelay, unless its error wraps ErrPermanent; the
// others keep running.
type Runner struct {
	logger  *zap.Logger
	clock   clockwork.Clock
	pub     Publisher
	sources []Source

	RestartDelay time.Duration
	OnRestart    func(name string)
}

func NewRunner(logger *zap.Logger, clock clockwork.Clock, pub Publisher, sources ...Source) *Runner {
	return &Runner{
		logger:       logger,
		clock:        clock,
		pub:          pub,
		sources:      sources,
		RestartDelay: DefaultRestartDelay,
	}
}

// Run blocks until ctx is cancelled and every source has returned.
func (r *Runner) Run(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	for _, src := range r.sources {
		g.Go(func() error {
			r.supervise(ctx, src)
			return nil
		})
	}
	_ = g.Wait()
	r.logger.Info("All sources stopped")
}

func (r *Runner) supervise(ctx context.Context, src Source) {
	log := r.logger.With(zap.String("source", src.Name()))
	for {
		err := r.runOnce(ctx, src)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrPermanent) {
			log.Error("Source failed permanently, not restarting", zap.Error(err))
			return
		}
		if err == nil {
			err = errStopped
		}
		log.Error("Source failed, restarting", zap.Error(err), zap.Duration("delay", r.RestartDelay))
		if r.OnRestart != nil {
			r.OnRestart(src.Name())
		}

		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(r.RestartDelay):
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, src Source) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return src.Run(ctx, r.pub)
}
