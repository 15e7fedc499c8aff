package engine

import "sync"

// Variables — значения, произведённые nodes за время запуска.
//
// Хранилище потокобезопасно: параллельные ветви читают родительские значения
// одновременно с основным проходом. Ветвь пишет в собственный fork-overlay;
// родитель видит её записи только после MergeFrom на join-барьере.
type Variables struct {
	mu      sync.RWMutex
	outputs map[string]map[string]any
	parent  *Variables
}

// NewVariables создаёт пустое хранилище.
func NewVariables() *Variables {
	return &Variables{outputs: make(map[string]map[string]any)}
}

// Fork создаёт overlay поверх текущего хранилища.
// Чтения проваливаются в родителя, записи остаются локальными.
func (v *Variables) Fork() *Variables {
	return &Variables{
		outputs: make(map[string]map[string]any),
		parent:  v,
	}
}

// SetNodeOutputs записывает outputs node, заменяя предыдущие целиком.
func (v *Variables) SetNodeOutputs(nodeID string, outputs map[string]any) {
	copied := make(map[string]any, len(outputs))
	for k, val := range outputs {
		copied[k] = val
	}
	v.mu.Lock()
	v.outputs[nodeID] = copied
	v.mu.Unlock()
}

// NodeOutputs возвращает копию outputs node с учётом overlay.
// Nil, если node ещё не выполнялся.
func (v *Variables) NodeOutputs(nodeID string) map[string]any {
	v.mu.RLock()
	outs, ok := v.outputs[nodeID]
	if ok {
		copied := make(map[string]any, len(outs))
		for k, val := range outs {
			copied[k] = val
		}
		v.mu.RUnlock()
		return copied
	}
	v.mu.RUnlock()

	if v.parent != nil {
		return v.parent.NodeOutputs(nodeID)
	}
	return nil
}

// Output возвращает значение одного порта node с учётом overlay.
// Локальная запись node затеняет родительскую целиком.
func (v *Variables) Output(nodeID, port string) (any, bool) {
	v.mu.RLock()
	outs, ok := v.outputs[nodeID]
	if ok {
		val, found := outs[port]
		v.mu.RUnlock()
		return val, found
	}
	v.mu.RUnlock()

	if v.parent != nil {
		return v.parent.Output(nodeID, port)
	}
	return nil, false
}

// MergeFrom вливает локальные записи другого хранилища в текущее.
// Конфликты решаются в пользу вливаемого.
func (v *Variables) MergeFrom(other *Variables) {
	other.mu.RLock()
	defer other.mu.RUnlock()
	v.mu.Lock()
	defer v.mu.Unlock()

	for nodeID, outs := range other.outputs {
		copied := make(map[string]any, len(outs))
		for k, val := range outs {
			copied[k] = val
		}
		v.outputs[nodeID] = copied
	}
}

// Snapshot возвращает снимок всех значений для checkpoint'а.
// Overlay сплющивается: локальные записи затеняют родительские.
func (v *Variables) Snapshot() map[string]any {
	snap := make(map[string]any)
	v.collect(snap)
	return snap
}

func (v *Variables) collect(into map[string]any) {
	if v.parent != nil {
		v.parent.collect(into)
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	for nodeID, outs := range v.outputs {
		copied := make(map[string]any, len(outs))
		for k, val := range outs {
			copied[k] = val
		}
		into[nodeID] = copied
	}
}

// Restore загружает снимок, сделанный Snapshot.
// Значения, прошедшие JSON round-trip, приходят как map[string]any.
func (v *Variables) Restore(snapshot map[string]any) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.outputs = make(map[string]map[string]any, len(snapshot))
	for nodeID, raw := range snapshot {
		outs, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		copied := make(map[string]any, len(outs))
		for k, val := range outs {
			copied[k] = val
		}
		v.outputs[nodeID] = copied
	}
}
