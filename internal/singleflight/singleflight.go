// Package singleflight coalesces concurrent calls that share a key so the
// underlying function runs once and every caller receives its result.
package singleflight

import "sync"

// Group manages in-flight calls keyed by K producing V.
// The zero value is not usable; construct with New.
type Group[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*call[V]
}

type call[V any] struct {
	wg   sync.WaitGroup
	val  V
	err  error
	dups int
}

// New creates an empty Group.
func New[K comparable, V any]() *Group[K, V] {
	return &Group[K, V]{
		m: make(map[K]*call[V]),
	}
}

// Do runs fn once per key among concurrent callers. Callers arriving while fn
// runs block and receive the same result; shared reports whether the result
// was handed to more than one caller. The key is released as soon as fn
// returns, so later calls run fn again.
func (g *Group[K, V]) Do(key K, fn func() (V, error)) (v V, err error, shared bool) {
	g.mu.Lock()
	if c, ok := g.m[key]; ok {
		c.dups++
		g.mu.Unlock()
		c.wg.Wait()
		return c.val, c.err, true
	}

	c := &call[V]{}
	c.wg.Add(1)
	g.m[key] = c
	g.mu.Unlock()

	g.run(key, c, fn)
	return c.val, c.err, c.dups > 0
}

func (g *Group[K, V]) run(key K, c *call[V], fn func() (V, error)) {
	defer func() {
		g.mu.Lock()
		if g.m[key] == c {
			delete(g.m, key)
		}
		g.mu.Unlock()
		c.wg.Done()
	}()

	c.val, c.err = fn()
}
