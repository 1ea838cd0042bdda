package objfile

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/go-delve/solib/pkg/logflags"
	"github.com/go-delve/solib/pkg/solib"
)

// Cache keeps the file descriptors of the most recently used object files
// open. It implements solib.Opener. Evicted objects stay usable by their
// holders, they reopen their file when they need to read it again.
type Cache struct {
	lru  *lru.Cache
	open func(path string) (*ELFFile, error)
}

// NewCache returns a cache holding at most size object files.
func NewCache(size int) (*Cache, error) {
	c := &Cache{open: Open}
	l, err := lru.NewWithEvict(size, c.evicted)
	if err != nil {
		return nil, fmt.Errorf("could not create object cache: %w", err)
	}
	c.lru = l
	return c, nil
}

func (c *Cache) evicted(key, value interface{}) {
	path := key.(string)
	logflags.ObjfileLogger().Debugf("closing %s", path)
	if err := value.(*ELFFile).Close(); err != nil {
		logflags.ObjfileLogger().Debugf("could not close %s: %v", path, err)
	}
}

// Open returns the object file at path, opening it if it is not cached.
func (c *Cache) Open(path string) (solib.ObjectFile, error) {
	if v, ok := c.lru.Get(path); ok {
		return v.(*ELFFile), nil
	}
	f, err := c.open(path)
	if err != nil {
		return nil, err
	}
	logflags.ObjfileLogger().Debugf("opened %s", path)
	c.lru.Add(path, f)
	return f, nil
}

// Remove closes the object file at path if it is cached.
func (c *Cache) Remove(path string) bool {
	return c.lru.Remove(path)
}

// Len returns the number of open object files.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge closes all cached object files.
func (c *Cache) Purge() {
	c.lru.Purge()
}
