package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/replicore/wscache/internal/bytesize"
)

// Runtime parameter mutation errors. Mutating a read-only parameter is a
// distinct condition from naming a parameter that does not exist.
var (
	ErrUnknownParameter  = errors.New("unknown parameter")
	ErrReadOnlyParameter = errors.New("parameter is read-only")
)

// Parameter keys.
const (
	ParamDir            = "dir"
	ParamName           = "name"
	ParamPageSize       = "page_size"
	ParamKeepPagesSize  = "keep_pages_size"
	ParamKeepPagesCount = "keep_pages_count"
	ParamEncryption     = "encryption"
	ParamEncCachePage   = "encryption_cache_page_size"
	ParamEncCacheSize   = "encryption_cache_size"
	ParamDebug          = "debug"
)

// Registry maps parameter keys to live configuration fields. Mutable
// parameters update the Config and fire a change hook the owner can bind
// to a running store; read-only parameters reject mutation.
//
// The registry is not locked; serialize access like every other cache
// operation.
type Registry struct {
	cfg    *Config
	params map[string]*parameter
}

type parameter struct {
	readOnly bool
	get      func() string
	set      func(value string) error
	onChange func()
}

// NewRegistry builds the parameter registry over cfg.
func NewRegistry(cfg *Config) *Registry {
	r := &Registry{cfg: cfg, params: make(map[string]*parameter)}

	r.params[ParamDir] = &parameter{
		readOnly: true,
		get:      func() string { return cfg.Dir },
	}
	r.params[ParamName] = &parameter{
		readOnly: true,
		get:      func() string { return cfg.Name },
	}
	r.params[ParamEncryption] = &parameter{
		readOnly: true,
		get:      func() string { return strconv.FormatBool(cfg.Encryption.Enabled) },
	}
	r.params[ParamEncCachePage] = &parameter{
		readOnly: true,
		get:      func() string { return cfg.Encryption.CachePageSize.String() },
	}
	r.params[ParamEncCacheSize] = &parameter{
		readOnly: true,
		get:      func() string { return cfg.Encryption.CacheSize.String() },
	}

	r.params[ParamPageSize] = &parameter{
		get: func() string { return cfg.PageSize.String() },
		set: func(v string) error {
			size, err := bytesize.Parse(v)
			if err != nil {
				return err
			}
			cfg.PageSize = size
			return nil
		},
	}
	r.params[ParamKeepPagesSize] = &parameter{
		get: func() string { return cfg.KeepPagesSize.String() },
		set: func(v string) error {
			size, err := bytesize.Parse(v)
			if err != nil {
				return err
			}
			cfg.KeepPagesSize = size
			return nil
		},
	}
	r.params[ParamKeepPagesCount] = &parameter{
		get: func() string { return strconv.Itoa(cfg.KeepPagesCount) },
		set: func(v string) error {
			count, err := strconv.Atoi(v)
			if err != nil || count < 0 {
				return fmt.Errorf("invalid page count %q", v)
			}
			cfg.KeepPagesCount = count
			return nil
		},
	}
	r.params[ParamDebug] = &parameter{
		get: func() string { return strconv.Itoa(cfg.Debug) },
		set: func(v string) error {
			dbg, err := strconv.Atoi(v)
			if err != nil || dbg < 0 {
				return fmt.Errorf("invalid debug level %q", v)
			}
			cfg.Debug = dbg
			return nil
		},
	}

	return r
}

// OnChange binds a hook fired after a successful mutation of key.
// Unknown keys are ignored; binding to a read-only key is pointless but
// harmless.
func (r *Registry) OnChange(key string, fn func()) {
	if p, ok := r.params[key]; ok {
		p.onChange = fn
	}
}

// Set mutates a parameter at runtime.
func (r *Registry) Set(key, value string) error {
	p, ok := r.params[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownParameter, key)
	}
	if p.readOnly {
		return fmt.Errorf("%w: %q", ErrReadOnlyParameter, key)
	}

	if err := p.set(value); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	if p.onChange != nil {
		p.onChange()
	}
	return nil
}

// Get returns the current value of a parameter.
func (r *Registry) Get(key string) (string, error) {
	p, ok := r.params[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownParameter, key)
	}
	return p.get(), nil
}

// Keys returns all parameter keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.params))
	for k := range r.params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
