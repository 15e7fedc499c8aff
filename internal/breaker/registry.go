package breaker

import "sync"

// Registry — набор breakers по именам зависимостей.
//
// Get с одним и тем же именем всегда возвращает один и тот же экземпляр:
// состояние зависимости общее для всех мест, откуда её вызывают.
type Registry struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry создаёт реестр breakers с общей конфигурацией.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// Get возвращает breaker для зависимости, создавая при первом обращении.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, r.cfg)
	r.breakers[name] = b
	return b
}

// States возвращает снимок состояний всех breakers (для диагностики).
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		states[name] = b.State()
	}
	return states
}
