package service

import "sync"

// keyedMutex - набор мьютексов по строковому ключу. Записи подсчитываются по
// числу держателей и удаляются при освобождении последнего, так что набор не
// растет за время жизни процесса.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[string]*lockEntry)}
}

// lock захватывает мьютекс ключа и возвращает функцию освобождения
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &lockEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}

// incidentLocks сериализует чтение-изменение-запись одного инцидента.
// Голоса и назначения аддитивны: параллельные мутации не должны затирать
// друг друга, поэтому каждая последовательность get-mutate-update выполняется
// под замком инцидента.
var incidentLocks = newKeyedMutex()
