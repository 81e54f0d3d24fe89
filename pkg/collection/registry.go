package collection

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/orneryd/vdb/pkg/obs"
	"github.com/orneryd/vdb/pkg/vdberr"
	"github.com/orneryd/vdb/pkg/vector"
	"go.uber.org/zap"
)

// rosterPrefix namespaces collection-name keys in the roster database, the
// same single-byte-prefix idiom the teacher uses for BadgerDB key spaces
// (pkg/storage/badger.go's prefixNode/prefixEdge).
var rosterPrefix = []byte{0x01}

// Registry is the process-wide owner of collections, per §4.G. It persists
// a roster of collection names in BadgerDB so startup can enumerate and
// reopen them; collection.Create/Open themselves own the per-collection
// config/vectors/WAL/snapshot files under dataDir.
type Registry struct {
	mu          sync.RWMutex
	collections map[string]*Collection
	dataDir     string
	log         *zap.Logger
	roster      *badger.DB
	metrics     *obs.Metrics
}

// NewRegistry opens the roster database under dataDir and reopens every
// collection it lists, replaying each one's WAL past its last checkpoint.
// metrics is threaded into each collection's WAL so §4.E's sync/bytes/record
// counters are observed; pass nil for a metrics-free registry (tests).
func NewRegistry(dataDir string, log *zap.Logger, metrics *obs.Metrics) (*Registry, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, vdberr.Wrap(vdberr.Internal, err, "registry: create data dir")
	}

	opts := badger.DefaultOptions(filepath.Join(dataDir, "roster")).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, vdberr.Wrap(vdberr.Internal, err, "registry: open roster")
	}

	r := &Registry{
		collections: make(map[string]*Collection),
		dataDir:     dataDir,
		log:         log,
		roster:      db,
		metrics:     metrics,
	}

	names, err := r.rosterNames()
	if err != nil {
		db.Close()
		return nil, err
	}
	for _, name := range names {
		c, err := Open(name, dataDir, log, metrics)
		if err != nil {
			log.Warn("registry: failed to reopen collection", zap.String("name", name), zap.Error(err))
			continue
		}
		r.collections[name] = c
	}
	return r, nil
}

func (r *Registry) rosterNames() ([]string, error) {
	var names []string
	err := r.roster.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(rosterPrefix); it.ValidForPrefix(rosterPrefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			names = append(names, string(key[len(rosterPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, vdberr.Wrap(vdberr.Internal, err, "registry: scan roster")
	}
	return names, nil
}

func rosterKey(name string) []byte {
	return append(append([]byte{}, rosterPrefix...), name...)
}

// Create registers and persists a new collection. Create/delete are
// globally exclusive against each other (held under r.mu) but concurrent
// with operations on other already-open collections, per §5.
func (r *Registry) Create(name string, cfg vector.CollectionConfig) (*Collection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.collections[name]; exists {
		return nil, vdberr.New(vdberr.Conflict, "registry: collection %q already exists", name)
	}

	c, err := Create(name, cfg, r.dataDir, r.log, r.metrics)
	if err != nil {
		return nil, err
	}

	if err := r.roster.Update(func(txn *badger.Txn) error {
		return txn.Set(rosterKey(name), []byte{1})
	}); err != nil {
		c.Close()
		return nil, vdberr.Wrap(vdberr.Internal, err, "registry: persist roster entry for %s", name)
	}

	r.collections[name] = c
	return c, nil
}

// Delete closes and removes name from the roster, tombstoning its on-disk
// state: the collection's directory is marked deleted rather than
// physically removed immediately, per §3's "destroyed by delete_collection
// which tombstones on-disk state and closes the WAL" lifecycle.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.collections[name]
	if !exists {
		return vdberr.New(vdberr.NotFound, "registry: collection %q not found", name)
	}
	if err := c.Close(); err != nil {
		r.log.Warn("registry: close during delete failed", zap.String("name", name), zap.Error(err))
	}
	if err := r.roster.Update(func(txn *badger.Txn) error {
		return txn.Delete(rosterKey(name))
	}); err != nil {
		return vdberr.Wrap(vdberr.Internal, err, "registry: remove roster entry for %s", name)
	}
	markerPath := filepath.Join(r.dataDir, name, ".deleted")
	if err := os.WriteFile(markerPath, []byte{}, 0o644); err != nil {
		r.log.Warn("registry: write delete marker failed", zap.String("name", name), zap.Error(err))
	}
	delete(r.collections, name)
	return nil
}

// Get returns the named collection.
func (r *Registry) Get(name string) (*Collection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collections[name]
	return c, ok
}

// List returns every currently registered collection name.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.collections))
	for name := range r.collections {
		out = append(out, name)
	}
	return out
}

// Close closes the roster database and every open collection.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, c := range r.collections {
		if err := c.Close(); err != nil {
			r.log.Warn("registry: close collection failed", zap.String("name", name), zap.Error(err))
		}
	}
	return r.roster.Close()
}
