package logd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/exp/maps"
)

const (
	VerbSet   = "set"
	VerbDel   = "del"
	VerbMerge = "merge"
)

// a path of keys into the state tree
type Path []string

func (self Path) HasPrefix(prefix Path) bool {
	if len(self) < len(prefix) {
		return false
	}
	for i, key := range prefix {
		if self[i] != key {
			return false
		}
	}
	return true
}

func (self Path) String() string {
	return "/" + strings.Join(self, "/")
}

// a path is either a list of keys or a single key
func (self *Path) UnmarshalJSON(src []byte) error {
	var keys []string
	if err := json.Unmarshal(src, &keys); err == nil {
		*self = Path(keys)
		return nil
	}
	var key string
	if err := json.Unmarshal(src, &key); err != nil {
		return fmt.Errorf("path must be a list of keys or a key: %w", err)
	}
	*self = Path{key}
	return nil
}

type Command struct {
	Verb  string `json:"verb"`
	Path  Path   `json:"path"`
	Value any    `json:"value,omitempty"`
}

// the replicated state tree. Nested maps keyed by string, mutated only by commands.
// Values handed out are copies.
type StateTree struct {
	stateLock sync.RWMutex
	root      map[string]any
}

func NewStateTree() *StateTree {
	return &StateTree{
		root: map[string]any{},
	}
}

func (self *StateTree) Apply(command *Command) error {
	switch command.Verb {
	case VerbSet:
		return self.Set(command.Path, command.Value)
	case VerbDel:
		return self.Delete(command.Path)
	case VerbMerge:
		return self.Merge(command.Path, command.Value)
	default:
		return fmt.Errorf("unknown verb %q", command.Verb)
	}
}

func (self *StateTree) Get(path Path) (any, bool) {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()

	var value any = self.root
	for _, key := range path {
		m, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}
		value, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return copyValue(value), true
}

func (self *StateTree) Set(path Path, value any) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if len(path) == 0 {
		m, ok := value.(map[string]any)
		if !ok {
			return errors.New("root value must be an object")
		}
		if m == nil {
			m = map[string]any{}
		}
		self.root = copyValue(m).(map[string]any)
		return nil
	}
	parent, err := self.parentForWrite(path)
	if err != nil {
		return err
	}
	parent[path[len(path)-1]] = copyValue(value)
	return nil
}

// deleting a missing path is not an error
func (self *StateTree) Delete(path Path) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if len(path) == 0 {
		self.root = map[string]any{}
		return nil
	}
	var value any = self.root
	for i, key := range path[:len(path)-1] {
		m, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot delete %s: %s is not an object", path, path[:i])
		}
		if value, ok = m[key]; !ok {
			return nil
		}
	}
	if m, ok := value.(map[string]any); ok {
		delete(m, path[len(path)-1])
		return nil
	}
	return fmt.Errorf("cannot delete %s: parent is not an object", path)
}

// shallow merges an object into the object at path, creating it if missing
func (self *StateTree) Merge(path Path, value any) error {
	patch, ok := value.(map[string]any)
	if !ok {
		return fmt.Errorf("merge into %s: value must be an object", path)
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	var target map[string]any
	if len(path) == 0 {
		target = self.root
	} else {
		parent, err := self.parentForWrite(path)
		if err != nil {
			return err
		}
		key := path[len(path)-1]
		switch v := parent[key].(type) {
		case map[string]any:
			target = v
		case nil:
			target = map[string]any{}
			parent[key] = target
		default:
			return fmt.Errorf("merge into %s: existing value is not an object", path)
		}
	}
	for k, v := range patch {
		target[k] = copyValue(v)
	}
	return nil
}

// must be called with `stateLock`
func (self *StateTree) parentForWrite(path Path) (map[string]any, error) {
	parent := self.root
	for i, key := range path[:len(path)-1] {
		switch v := parent[key].(type) {
		case map[string]any:
			parent = v
		case nil:
			child := map[string]any{}
			parent[key] = child
			parent = child
		default:
			return nil, fmt.Errorf("cannot write %s: %s is not an object", path, path[:i+1])
		}
	}
	return parent, nil
}

func (self *StateTree) Snapshot() map[string]any {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()

	return copyValue(self.root).(map[string]any)
}

func (self *StateTree) Reset(root map[string]any) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if root == nil {
		self.root = map[string]any{}
	} else {
		self.root = copyValue(root).(map[string]any)
	}
}

func (self *StateTree) MarshalJSON() ([]byte, error) {
	return json.Marshal(self.Snapshot())
}

func copyValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		c := maps.Clone(v)
		for k, e := range c {
			c[k] = copyValue(e)
		}
		return c
	case []any:
		c := make([]any, len(v))
		for i, e := range v {
			c[i] = copyValue(e)
		}
		return c
	default:
		return v
	}
}
