package persist

// Repository is a typed read/write/clear view over a single DataStore key
// family, gob-encoding values of T.
type Repository[T any] struct {
	store *DataStore
	key   string
}

// NewRepository binds a Repository to key within store.
func NewRepository[T any](store *DataStore, key string) *Repository[T] {
	return &Repository[T]{store: store, key: key}
}

// Read loads the current value, returning ok=false if nothing is stored.
func (r *Repository[T]) Read() (T, bool, error) {
	var zero T
	raw, ok, err := r.store.Get(r.key)
	if err != nil || !ok {
		return zero, false, err
	}
	var v T
	if err := decode(raw, &v); err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Write persists v.
func (r *Repository[T]) Write(v T) error {
	raw, err := encode(v)
	if err != nil {
		return err
	}
	return r.store.Insert(r.key, raw)
}

// Clear removes the stored value.
func (r *Repository[T]) Clear() error {
	return r.store.Remove(r.key)
}

// Persistable is a lazy-loading, write-on-mutate cell representing an
// Option[T] backed by a Repository: reads hit the store at most once,
// subsequent access serves the cached value until Set/Clear mutate it.
type Persistable[T any] struct {
	repo   *Repository[T]
	loaded bool
	value  T
	isSet  bool
}

// NewPersistable binds a Persistable to key within store.
func NewPersistable[T any](store *DataStore, key string) *Persistable[T] {
	return &Persistable[T]{repo: NewRepository[T](store, key)}
}

func (p *Persistable[T]) ensureLoaded() error {
	if p.loaded {
		return nil
	}
	v, ok, err := p.repo.Read()
	if err != nil {
		return err
	}
	p.value = v
	p.isSet = ok
	p.loaded = true
	return nil
}

// Get returns the current value and whether it is set, loading from the
// store on first access.
func (p *Persistable[T]) Get() (T, bool, error) {
	if err := p.ensureLoaded(); err != nil {
		var zero T
		return zero, false, err
	}
	return p.value, p.isSet, nil
}

// Set stores v, updating both the cache and the backing repository.
func (p *Persistable[T]) Set(v T) error {
	if err := p.repo.Write(v); err != nil {
		return err
	}
	p.value = v
	p.isSet = true
	p.loaded = true
	return nil
}

// Clear removes the stored value.
func (p *Persistable[T]) Clear() error {
	if err := p.repo.Clear(); err != nil {
		return err
	}
	var zero T
	p.value = zero
	p.isSet = false
	p.loaded = true
	return nil
}
