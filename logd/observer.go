package logd

import (
	"github.com/golang/glog"
)

// `path` is the path of the applied command, or the observed prefix on reconcile.
// `value` is a copy of the tree value at `path`, nil if absent.
type ObserveFunction func(path Path, value any)

type observer struct {
	prefix   Path
	callback ObserveFunction
}

// path prefix subscriptions over the state tree.
// While catching up, only own writes notify. When caught up, every observer
// is reconciled once with the value at its prefix.
type observerRegistry struct {
	observers *CallbackList[*observer]
}

func newObserverRegistry() *observerRegistry {
	return &observerRegistry{
		observers: NewCallbackList[*observer](),
	}
}

// returns a function that removes the observer
func (self *observerRegistry) add(prefix Path, callback ObserveFunction) func() {
	callbackId := self.observers.Add(&observer{
		prefix:   prefix,
		callback: callback,
	})
	return func() {
		self.observers.Remove(callbackId)
	}
}

// notify observers of an applied command
func (self *observerRegistry) applied(tree *StateTree, path Path, caught bool, ownWrite bool) {
	if !caught && !ownWrite {
		glog.V(2).Infof("[o]suppress %s while catching up\n", path)
		return
	}
	var value any
	valueLoaded := false
	for _, o := range self.observers.Get() {
		if !path.HasPrefix(o.prefix) {
			continue
		}
		if !valueLoaded {
			value, _ = tree.Get(path)
			valueLoaded = true
		}
		HandleError(func() {
			o.callback(path, copyValue(value))
		})
	}
}

// fire every observer once with the current value at its prefix
func (self *observerRegistry) reconcile(tree *StateTree) {
	for _, o := range self.observers.Get() {
		value, _ := tree.Get(o.prefix)
		HandleError(func() {
			o.callback(o.prefix, value)
		})
	}
}

func (self *observerRegistry) len() int {
	return self.observers.Len()
}
