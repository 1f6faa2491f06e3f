/*
Package catalog resolves display names for tracked items.

PURPOSE:
  Stock items carry a (kind, catalog id) reference instead of a name; the
  names live in kind-specific catalogs (the ingredient list, the container
  list). This package provides the lookup the snapshot materializer and the
  audit service use to denormalize names. Static is an in-process registry;
  a deployment backed by a real catalog service implements the same
  stock.NameResolver interface.

SEE ALSO:
  - stock/materializer.go: the NameResolver contract
*/
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/caterbase/stock-engine/stock"
)

// ErrNotFound reports a (kind, catalog id) pair with no registered name.
var ErrNotFound = errors.New("catalog entry not found")

// Static is an in-memory catalog.
type Static struct {
	mu      sync.RWMutex
	entries map[entryKey]string
}

type entryKey struct {
	Kind      stock.ItemKind
	CatalogID string
}

func NewStatic() *Static {
	return &Static{entries: make(map[entryKey]string)}
}

// Register adds or replaces a catalog entry.
func (c *Static) Register(kind stock.ItemKind, catalogID, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entryKey{Kind: kind, CatalogID: catalogID}] = name
}

// ResolveName implements stock.NameResolver.
func (c *Static) ResolveName(_ context.Context, kind stock.ItemKind, catalogID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name, ok := c.entries[entryKey{Kind: kind, CatalogID: catalogID}]
	if !ok {
		return "", fmt.Errorf("%w: %s %s", ErrNotFound, kind, catalogID)
	}
	return name, nil
}
