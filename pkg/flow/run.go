package flow

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/polisai/polis-entities/pkg/domain"
	"github.com/polisai/polis-entities/pkg/engine/runtime"
)

// Trigger runs one scheduling slot against a session.
type Trigger interface {
	OnTrigger(ctx context.Context, session runtime.Session) (runtime.Decision, bool)
}

// Stats summarises a Run.
type Stats struct {
	Processed     int
	Relationships map[domain.Relationship]int
}

// Run drives trigger with workers concurrent loops until session is empty or
// ctx is cancelled. A cycle that has taken a record always completes; ctx is
// only checked between cycles.
func Run(ctx context.Context, trigger Trigger, session runtime.Session, workers int) (Stats, error) {
	if workers <= 0 {
		workers = 1
	}

	var (
		mu    sync.Mutex
		stats = Stats{Relationships: make(map[domain.Relationship]int)}
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				decision, ok := trigger.OnTrigger(gctx, session)
				if !ok {
					return nil
				}
				mu.Lock()
				stats.Processed++
				stats.Relationships[decision.Relationship]++
				mu.Unlock()
			}
		})
	}

	err := g.Wait()
	return stats, err
}
