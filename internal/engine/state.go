package engine

import (
	"container/list"
	"context"
	"sort"
	"sync"

	"github.com/shaiso/Conveyor/internal/domain"
)

// runState — изменяемое состояние одного прохода по графу.
//
// Очередь принадлежит основному циклу и снаружи не трогается. Executed-guard
// дополняется при вливании завершённых параллельных ветвей, поэтому защищён
// мьютексом вместе со списком посещений и счётчиком checkpoint'ов.
type runState struct {
	queue *list.List

	mu       sync.Mutex
	executed map[string]bool
	visited  []string
	seq      uint64
}

func newRunState() *runState {
	return &runState{
		queue:    list.New(),
		executed: make(map[string]bool),
	}
}

func (s *runState) pushBack(nodeID string)  { s.queue.PushBack(nodeID) }
func (s *runState) pushFront(nodeID string) { s.queue.PushFront(nodeID) }

func (s *runState) popFront() (string, bool) {
	front := s.queue.Front()
	if front == nil {
		return "", false
	}
	s.queue.Remove(front)
	return front.Value.(string), true
}

// shouldSkip решает, пропускать ли node по executed-guard.
// Control-flow nodes исключены из guard'а: им разрешён повторный вход.
func (s *runState) shouldSkip(node *domain.Node) bool {
	if node.EffectiveCapability() == domain.CapabilityControlFlow {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executed[node.ID]
}

func (s *runState) markExecuted(nodeID string) {
	s.mu.Lock()
	s.executed[nodeID] = true
	s.visited = append(s.visited, nodeID)
	s.mu.Unlock()
}

// absorbExecuted вливает executed-guard завершённой параллельной ветви,
// чтобы checkpoint'ы после join включали nodes ветвей.
func (s *runState) absorbExecuted(ids map[string]bool) {
	s.mu.Lock()
	for id := range ids {
		s.executed[id] = true
	}
	s.mu.Unlock()
}

func (s *runState) executedSet() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[string]bool, len(s.executed))
	for id := range s.executed {
		set[id] = true
	}
	return set
}

func (s *runState) executedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.executed))
	for id := range s.executed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *runState) visitedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.visited...)
}

// frontier возвращает содержимое очереди в порядке выполнения.
func (s *runState) frontier() []string {
	ids := make([]string, 0, s.queue.Len())
	for el := s.queue.Front(); el != nil; el = el.Next() {
		ids = append(ids, el.Value.(string))
	}
	return ids
}

func (s *runState) nextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// restore восстанавливает очередь, guard и счётчик из checkpoint'а.
func (s *runState) restore(cp *domain.Checkpoint) {
	s.queue.Init()
	for _, id := range cp.Frontier {
		s.queue.PushBack(id)
	}

	s.mu.Lock()
	s.executed = make(map[string]bool, len(cp.Executed))
	for _, id := range cp.Executed {
		s.executed[id] = true
	}
	s.seq = cp.Seq
	s.mu.Unlock()
}

// pauseGate — ворота паузы основного цикла.
//
// Pause закрывает ворота; Wait блокируется на канале без busy-poll'а;
// Resume открывает ворота, закрывая канал. Отмена контекста снимает
// ожидание с ошибкой контекста.
type pauseGate struct {
	mu     sync.Mutex
	paused bool
	resume chan struct{}
}

func (g *pauseGate) Pause() {
	g.mu.Lock()
	if !g.paused {
		g.paused = true
		g.resume = make(chan struct{})
	}
	g.mu.Unlock()
}

func (g *pauseGate) Resume() {
	g.mu.Lock()
	if g.paused {
		g.paused = false
		close(g.resume)
	}
	g.mu.Unlock()
}

func (g *pauseGate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

func (g *pauseGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	paused := g.paused
	ch := g.resume
	g.mu.Unlock()

	if !paused {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
