// Package batch runs one function per id with bounded concurrency. A failing
// item never stops the others; failures are collected into the Outcome.
package batch

import (
	"context"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Failure is one item that returned an error.
type Failure struct {
	ID  string `json:"id"`
	Err error  `json:"-"`
}

// Outcome tallies a batch run.
type Outcome struct {
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Failures  []Failure `json:"failures"`
}

// Run calls fn for every id, at most limit at a time (NumCPU when limit < 1).
// Items not yet started when ctx is cancelled are recorded as failed with
// ctx.Err().
func Run(ctx context.Context, ids []string, limit int, fn func(ctx context.Context, id string) error) Outcome {
	if limit < 1 {
		limit = runtime.NumCPU()
	}

	var (
		mu  sync.Mutex
		out = Outcome{Failures: []Failure{}}
	)
	record := func(id string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			out.Failed++
			out.Failures = append(out.Failures, Failure{ID: id, Err: err})
			return
		}
		out.Succeeded++
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for _, id := range ids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				record(id, err)
				return nil
			}
			record(id, fn(ctx, id))
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(out.Failures, func(i, j int) bool { return out.Failures[i].ID < out.Failures[j].ID })
	return out
}

// Messages returns "id: error" for each failure, for logs and JSON responses.
func (o Outcome) Messages() []string {
	msgs := make([]string, 0, len(o.Failures))
	for _, f := range o.Failures {
		msgs = append(msgs, f.ID+": "+f.Err.Error())
	}
	return msgs
}
