// Package targets builds targets by name.
package targets

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/born-ml/npuc/internal/target"
	"github.com/born-ml/npuc/internal/target/bm168x"
	"github.com/born-ml/npuc/internal/target/bm188x"
	"github.com/born-ml/npuc/internal/target/generic"
)

// ErrUnknownTarget is returned by New for names it does not know.
var ErrUnknownTarget = errors.New("unknown target")

// Config carries per-target construction knobs. Nil kernels select the
// default encoders.
type Config struct {
	BM168x bm168x.Kernel
	BM188x bm188x.Kernel
	// BM188xOptions zero value means bm188x.DefaultOptions.
	BM188xOptions bm188x.Options
}

// New returns the target called name.
func New(name string, cfg Config) (target.Target, error) {
	var (
		t   target.Target
		err error
	)
	switch name {
	case generic.Name:
		t, err = generic.New()
	case bm168x.BM1680, bm168x.BM1682:
		t, err = bm168x.New(name, cfg.BM168x)
	case bm188x.Name:
		opts := cfg.BM188xOptions
		if opts == (bm188x.Options{}) {
			opts = bm188x.DefaultOptions()
		}
		t, err = bm188x.New(cfg.BM188x, opts)
	default:
		return nil, errors.Wrapf(ErrUnknownTarget, "%q (known: %v)", name, Names())
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "target %s", name)
	}
	return t, nil
}

// Names lists the known target names in sorted order.
func Names() []string {
	names := []string{generic.Name, bm168x.BM1680, bm168x.BM1682, bm188x.Name}
	sort.Strings(names)
	return names
}
