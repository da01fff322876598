package zcomm

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Constructor builds an unopened Comm from its configuration.
type Constructor func(cfg CommConfig) (Comm, error)

// Kind describes a registered Comm implementation.
type Kind struct {
	Name string
	New  Constructor
}

// Factory 按名称创建 comm
type Factory struct {
	kinds map[string]*Kind
	mutex sync.RWMutex
}

func NewFactory() *Factory {
	return &Factory{kinds: make(map[string]*Kind)}
}

// DefaultFactory knows the "local" kind; other kinds register themselves on import.
var DefaultFactory = NewFactory()

func init() {
	DefaultFactory.MustRegister(LocalKind, NewLocalComm)
}

// Register adds a Comm kind. Registering the same name twice fails with ErrKindExists.
func (f *Factory) Register(name string, ctor Constructor) error {
	if name == "" || ctor == nil {
		return errors.New("zcomm: kind needs a name and a constructor")
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if _, ok := f.kinds[name]; ok {
		return errors.WithMessagef(ErrKindExists, "kind %q", name)
	}
	f.kinds[name] = &Kind{Name: name, New: ctor}
	return nil
}

func (f *Factory) MustRegister(name string, ctor Constructor) {
	if err := f.Register(name, ctor); err != nil {
		panic(err)
	}
}

// Lookup returns the registered descriptor for name. The same *Kind is returned on
// every call.
func (f *Factory) Lookup(name string) (*Kind, error) {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	k, ok := f.kinds[name]
	if !ok {
		return nil, errors.WithMessagef(ErrUnknownKind, "kind %q", name)
	}
	return k, nil
}

// Create builds an unopened Comm of the given kind. cfg.Kind is overwritten with name.
func (f *Factory) Create(name string, cfg CommConfig) (Comm, error) {
	k, err := f.Lookup(name)
	if err != nil {
		return nil, err
	}
	cfg.Kind = name
	c, err := k.New(cfg)
	if err != nil {
		return nil, errors.WithMessagef(err, "zcomm: create %s comm", name)
	}
	return c, nil
}

// Kinds lists the registered kind names in sorted order.
func (f *Factory) Kinds() []string {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	names := make([]string, 0, len(f.kinds))
	for name := range f.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func Register(name string, ctor Constructor) error { return DefaultFactory.Register(name, ctor) }

func Create(name string, cfg CommConfig) (Comm, error) { return DefaultFactory.Create(name, cfg) }

func Lookup(name string) (*Kind, error) { return DefaultFactory.Lookup(name) }
