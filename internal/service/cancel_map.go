package service

import (
	"context"
	"sync"
)

func NewCancelMap[K comparable]() *CancelMap[K] {
	return &CancelMap[K]{
		cancels: make(map[K]context.CancelFunc),
	}
}

type CancelMap[K comparable] struct {
	m       sync.Mutex
	cancels map[K]context.CancelFunc
}

func (m *CancelMap[K]) AddCancel(id K, cf context.CancelFunc) {
	m.m.Lock()
	defer m.m.Unlock()
	m.cancels[id] = cf
}

func (m *CancelMap[K]) RemoveCancel(key K) {
	m.m.Lock()
	defer m.m.Unlock()
	delete(m.cancels, key)
}

// Call cancels key and reports whether a cancel function was registered.
func (m *CancelMap[K]) Call(key K) bool {
	m.m.Lock()
	cf, ok := m.cancels[key]
	m.m.Unlock()
	if ok {
		cf()
	}
	return ok
}

// Keys returns the currently registered keys in no particular order.
func (m *CancelMap[K]) Keys() []K {
	m.m.Lock()
	defer m.m.Unlock()
	keys := make([]K, 0, len(m.cancels))
	for k := range m.cancels {
		keys = append(keys, k)
	}
	return keys
}
