package host

import (
	"context"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/chazu/larkvm/vm"
)

// Job is one independent evaluation.
type Job struct {
	Name string
	Fn   *vm.Function
}

// Result is the outcome of a Job. Steps counts the instructions executed.
type Result struct {
	Name  string
	Value vm.Value
	Err   error
	Steps uint64
}

// EvalAll runs jobs concurrently, at most limit at a time (no limit when
// limit <= 0), each on its own thread built from opts. Each job's thread
// and module are frozen before its result is stored. Evaluation errors are
// reported per job; the returned error is non-nil only if ctx ended before
// every job ran. Cancelling ctx interrupts running jobs.
func EvalAll(ctx context.Context, jobs []Job, opts []vm.ThreadOption, limit int) ([]Result, error) {
	results := make([]Result, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = Result{Name: job.Name, Err: err}
				return err
			}
			th := vm.NewThread(job.Name, append(slices.Clip(opts), vm.WithContext(gctx))...)
			v, err := th.ExecModule(job.Fn)
			results[i] = Result{Name: job.Name, Value: v, Err: err, Steps: th.Steps()}
			if err != nil {
				log.Debugf("job %s failed: %s", job.Name, err)
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return results, err
}
