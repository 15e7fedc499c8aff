package engine

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Conveyor/internal/domain"
)

// branchRunner — ParallelStrategy по умолчанию: каждая ветвь выполняется
// горутиной как отдельный проход по графу на fork'е variables; join-барьер
// снимается после вливания всех fork'ов в родителя.
type branchRunner struct {
	eng *Engine

	mu       sync.Mutex
	barriers map[string]*barrier
}

type barrier struct {
	done chan struct{}
	err  error
}

func newBranchRunner(eng *Engine) *branchRunner {
	return &branchRunner{
		eng:      eng,
		barriers: make(map[string]*barrier),
	}
}

// Dispatch запускает ветви. Каждая — независимый проход от стартового node
// до joinID (не включая его) с собственными очередью и executed-guard.
func (r *branchRunner) Dispatch(ctx context.Context, from *domain.Node, branches []Branch, joinID string) error {
	if len(branches) == 0 {
		return fmt.Errorf("%w: node %q", ErrNoBranches, from.ID)
	}

	if joinID == "" {
		return r.runBranches(ctx, from, branches, "")
	}

	b := &barrier{done: make(chan struct{})}
	r.mu.Lock()
	r.barriers[joinID] = b
	r.mu.Unlock()

	go func() {
		b.err = r.runBranches(ctx, from, branches, joinID)
		close(b.done)
	}()
	return nil
}

// WaitJoin блокируется до завершения ветвей, сходящихся в node.
// Барьер одноразовый: снятый больше не срабатывает.
func (r *branchRunner) WaitJoin(ctx context.Context, nodeID string) error {
	r.mu.Lock()
	b, ok := r.barriers[nodeID]
	if ok {
		delete(r.barriers, nodeID)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	select {
	case <-b.done:
		return b.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runBranches выполняет ветви параллельно и вливает их fork'и в родителя.
// Вливание последовательное: при конфликте выигрывает более поздняя ветвь.
func (r *branchRunner) runBranches(ctx context.Context, from *domain.Node, branches []Branch, joinID string) error {
	forks := make([]*Variables, len(branches))
	g, gctx := errgroup.WithContext(ctx)

	for i := range branches {
		br := branches[i]
		fork := r.eng.vars.Fork()
		if br.Seed != nil {
			// Сид ветви публикуется как outputs породившего node в её
			// overlay: data-ребро из него доставит ветви её элемент.
			seeded := r.eng.vars.NodeOutputs(from.ID)
			if seeded == nil {
				seeded = make(map[string]any, len(br.Seed))
			}
			for k, v := range br.Seed {
				seeded[k] = v
			}
			fork.SetNodeOutputs(from.ID, seeded)
		}
		forks[i] = fork

		g.Go(func() error {
			return r.eng.walkBranch(gctx, br.Start, joinID, fork)
		})
	}

	err := g.Wait()
	for _, fork := range forks {
		r.eng.vars.MergeFrom(fork)
	}
	if err != nil {
		return fmt.Errorf("parallel branch failed: %w", err)
	}
	return nil
}

// walkBranch — проход одной ветви: общий граф и реестр, собственные
// очередь, guard и variables-fork. Останавливается перед joinID.
// Ветви не чекпоинтятся: гранулярность снимков — основной проход.
func (e *Engine) walkBranch(ctx context.Context, startID, joinID string, fork *Variables) error {
	be := &Engine{
		graph:      e.graph,
		registry:   e.registry,
		resolver:   e.resolver,
		handler:    e.handler,
		sink:       noopSink{},
		logger:     e.logger,
		jobID:      e.jobID,
		jobInput:   e.jobInput,
		env:        e.env,
		haltBefore: joinID,
		vars:       fork,
		state:      newRunState(),
		gate:       &pauseGate{},
	}
	be.parallel = newBranchRunner(be)
	be.state.pushBack(startID)

	res, err := be.walk(ctx)
	if err != nil {
		return err
	}
	switch res.Status {
	case RunFailed:
		return fmt.Errorf("node %q: %s", res.FailedNode, res.Error)
	case RunStopped:
		return ctx.Err()
	}

	// Guard ветви вливается в родителя: checkpoint'ы после join'а
	// включают выполненные nodes ветвей.
	e.state.absorbExecuted(be.state.executedSet())
	return nil
}
