package logd

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestObserverRegistry(t *testing.T) {
	tree := NewStateTree()
	tree.Set(Path{"a", "b"}, "x")

	registry := newObserverRegistry()
	paths := []string{}
	remove := registry.add(Path{"a"}, func(path Path, value any) {
		paths = append(paths, path.String())
	})
	registry.add(Path{}, func(path Path, value any) {
		paths = append(paths, "root"+path.String())
	})
	assert.Equal(t, registry.len(), 2)

	// foreign writes wait for catch up
	registry.applied(tree, Path{"a", "b"}, false, false)
	assert.Equal(t, paths, []string{})

	registry.applied(tree, Path{"a", "b"}, false, true)
	assert.Equal(t, paths, []string{"/a/b", "root/a/b"})

	registry.applied(tree, Path{"c"}, true, false)
	assert.Equal(t, paths, []string{"/a/b", "root/a/b", "root/c"})

	paths = []string{}
	registry.reconcile(tree)
	assert.Equal(t, paths, []string{"/a", "root/"})

	remove()
	paths = []string{}
	registry.reconcile(tree)
	assert.Equal(t, paths, []string{"root/"})
}

func TestObserverPanic(t *testing.T) {
	tree := NewStateTree()
	registry := newObserverRegistry()
	calls := 0
	registry.add(Path{}, func(path Path, value any) {
		panic("observer")
	})
	registry.add(Path{}, func(path Path, value any) {
		calls += 1
	})
	registry.reconcile(tree)
	assert.Equal(t, calls, 1)
}
