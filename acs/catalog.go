package acs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"acs-pipeline/models"
	"acs-pipeline/utils"
)

// BodyGetter fetches a raw response body. *Session implements it.
type BodyGetter interface {
	Get(ctx context.Context, target, redacted string) ([]byte, error)
}

type catalogKey struct {
	family    models.TableFamily
	year      int
	precision models.Precision
}

func (k catalogKey) String() string {
	return fmt.Sprintf("%s_%s_%d", k.precision.Product(), k.family, k.year)
}

// Catalog loads variable definitions per (family, year, precision). A
// definition set is read from dir when a cached file exists, otherwise
// fetched from the API's variables.json and written to dir. Loaded sets
// are kept in memory for the life of the Catalog and shared read-only.
type Catalog struct {
	dir     string
	builder *RequestBuilder
	getter  BodyGetter
	logger  *utils.Logger

	mu    sync.RWMutex
	cache map[catalogKey]models.Variables
	group singleflight.Group
}

// NewCatalog creates a Catalog. dir may be empty to disable the file
// cache; getter may be nil to work from local files only.
func NewCatalog(dir string, builder *RequestBuilder, getter BodyGetter, logger *utils.Logger) *Catalog {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if builder == nil {
		builder = NewRequestBuilder("", "")
	}
	return &Catalog{
		dir:     dir,
		builder: builder,
		getter:  getter,
		logger:  logger,
		cache:   make(map[catalogKey]models.Variables),
	}
}

// Path returns the local cache file for a definition set.
func (c *Catalog) Path(family models.TableFamily, year int, precision models.Precision) string {
	if c.dir == "" {
		return ""
	}
	return filepath.Join(c.dir, catalogKey{family, year, precision}.String()+".json")
}

// Load returns the definitions for family and year. Concurrent calls for
// the same key share one load. Failures are not cached.
func (c *Catalog) Load(ctx context.Context, family models.TableFamily, year int, precision models.Precision) (models.Variables, error) {
	key := catalogKey{family, year, precision}

	c.mu.RLock()
	vars, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return vars, nil
	}

	// The shared load outlives any one caller; each caller stops waiting
	// when its own ctx ends.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key.String(), func() (any, error) {
		c.mu.RLock()
		vars, ok := c.cache[key]
		c.mu.RUnlock()
		if ok {
			return vars, nil
		}

		vars, err := c.load(loadCtx, key)
		if err != nil {
			return nil, &models.CatalogUnavailableError{Family: family, Year: year, Err: err}
		}

		c.mu.Lock()
		c.cache[key] = vars
		c.mu.Unlock()
		return vars, nil
	})

	select {
	case <-ctx.Done():
		return nil, &models.CatalogUnavailableError{Family: family, Year: year, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(models.Variables), nil
	}
}

func (c *Catalog) load(ctx context.Context, key catalogKey) (models.Variables, error) {
	path := c.Path(key.family, key.year, key.precision)

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			vars, perr := ParseCatalog(data)
			if perr == nil {
				c.logger.Debug("[catalog] %s loaded from %s (%d variables)", key, path, len(vars))
				return vars, nil
			}
			c.logger.Warn("[catalog] ignoring unreadable cache file %s: %v", path, perr)
		case !errors.Is(err, os.ErrNotExist):
			c.logger.Warn("[catalog] cannot read %s: %v", path, err)
		}
	}

	if c.getter == nil {
		return nil, errors.New("no local catalog file and no session to fetch one")
	}

	endpoint, err := c.builder.Endpoint(key.year, key.family, key.precision)
	if err != nil {
		return nil, err
	}
	target := endpoint + "/variables.json"

	data, err := c.getter.Get(ctx, target, target)
	if err != nil {
		return nil, err
	}
	vars, err := ParseCatalog(data)
	if err != nil {
		return nil, err
	}
	c.logger.Info("[catalog] %s fetched from %s (%d variables)", key, target, len(vars))

	if path != "" {
		if err := writeFile(path, data); err != nil {
			c.logger.Warn("[catalog] could not cache %s: %v", path, err)
		}
	}
	return vars, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ParseCatalog reads either the API's {"variables": {...}} document or a
// flat {id: {...}} map. The concept and label keys are matched without
// regard to case.
func ParseCatalog(data []byte) (models.Variables, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	entries := top
	if nested, ok := top["variables"]; ok {
		entries = nil
		if err := json.Unmarshal(nested, &entries); err != nil {
			return nil, fmt.Errorf("parse catalog variables: %w", err)
		}
	}

	vars := make(models.Variables, len(entries))
	for id, raw := range entries {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			continue
		}

		var v models.Variable
		for k, fv := range fields {
			switch strings.ToLower(k) {
			case "concept":
				_ = json.Unmarshal(fv, &v.Concept)
			case "label":
				_ = json.Unmarshal(fv, &v.Label)
			}
		}
		if v.Concept == "" && v.Label == "" {
			continue
		}
		vars[id] = v
	}

	if len(vars) == 0 {
		return nil, errors.New("parse catalog: no variable definitions found")
	}
	return vars, nil
}
