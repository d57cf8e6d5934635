package persist

// DataStore scopes every key it touches under a fixed "/"-joined prefix,
// so an extension mounted on one E3 id can never collide with another's
// keys in the same underlying KV.
type DataStore struct {
	kv     KV
	prefix string
}

// NewDataStore roots a DataStore directly at kv with no prefix.
func NewDataStore(kv KV) *DataStore {
	return &DataStore{kv: kv}
}

func (d *DataStore) path(key string) string {
	if d.prefix == "" {
		return key
	}
	return d.prefix + "/" + key
}

// Scope returns a child DataStore rooted at name under d's own prefix.
func (d *DataStore) Scope(name string) *DataStore {
	return &DataStore{kv: d.kv, prefix: d.path(name)}
}

func (d *DataStore) Get(key string) ([]byte, bool, error) { return d.kv.Get(d.path(key)) }
func (d *DataStore) Insert(key string, value []byte) error { return d.kv.Insert(d.path(key), value) }
func (d *DataStore) Remove(key string) error                { return d.kv.Remove(d.path(key)) }

func (d *DataStore) InsertBatch(entries map[string][]byte) error {
	scoped := make(map[string][]byte, len(entries))
	for k, v := range entries {
		scoped[d.path(k)] = v
	}
	return d.kv.InsertBatch(scoped)
}

func (d *DataStore) Range(subPrefix string, fn func(key string, value []byte) bool) error {
	full := d.path(subPrefix)
	strip := 0
	if d.prefix != "" {
		strip = len(d.prefix) + 1
	}
	return d.kv.Range(full, func(key string, value []byte) bool {
		return fn(key[strip:], value)
	})
}
