// Package i18n serves the localized strings used for action labels and email copy.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

//go:embed tables/*.toml
var tableFS embed.FS

// Catalog is a flat table of dotted keys to strings.
type Catalog struct {
	strings map[string]string
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Default returns the catalog built from the embedded tables. It panics if the
// embedded tables do not parse, since that is a build defect.
func Default() *Catalog {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = Load(tableFS)
	})
	if defaultErr != nil {
		panic(defaultErr)
	}
	return defaultCatalog
}

// Load reads every tables/*.toml file in fsys. Keys are prefixed with their
// table path, so [resolutions.confirm] issue-lcid becomes
// "resolutions.confirm.issue-lcid".
func Load(fsys fs.FS) (*Catalog, error) {
	names, err := fs.Glob(fsys, "tables/*.toml")
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	sort.Strings(names)
	catalog := &Catalog{strings: map[string]string{}}
	for _, name := range names {
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path.Base(name), err)
		}
		var table map[string]any
		if _, err := toml.Decode(string(raw), &table); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path.Base(name), err)
		}
		if err := catalog.flatten("", table); err != nil {
			return nil, fmt.Errorf("%s: %w", path.Base(name), err)
		}
	}
	return catalog, nil
}

func (c *Catalog) flatten(prefix string, table map[string]any) error {
	for key, value := range table {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		switch v := value.(type) {
		case string:
			if _, exists := c.strings[full]; exists {
				return fmt.Errorf("duplicate key %q", full)
			}
			c.strings[full] = v
		case map[string]any:
			if err := c.flatten(full, v); err != nil {
				return err
			}
		default:
			return fmt.Errorf("key %q: unsupported value %T", full, value)
		}
	}
	return nil
}

// Lookup returns the string for key, or key itself when it is missing.
func (c *Catalog) Lookup(key string) string {
	if value, ok := c.strings[key]; ok {
		return value
	}
	return key
}

func (c *Catalog) Has(key string) bool {
	_, ok := c.strings[key]
	return ok
}

// Format looks up key and applies args with fmt.Sprintf.
func (c *Catalog) Format(key string, args ...any) string {
	return fmt.Sprintf(c.Lookup(key), args...)
}

// Keys returns every key under prefix, sorted.
func (c *Catalog) Keys(prefix string) []string {
	out := make([]string, 0)
	for key := range c.strings {
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

// Lookup reads from the default catalog.
func Lookup(key string) string {
	return Default().Lookup(key)
}
