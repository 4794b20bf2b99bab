package targets

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/npuc/internal/target"
	"github.com/born-ml/npuc/internal/target/bm188x"
)

func TestNew(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			tg, err := New(name, Config{})
			require.NoError(t, err)
			assert.Equal(t, name, tg.Name())
			assert.NotEmpty(t, tg.Rules())
			assert.Positive(t, tg.Capabilities().Len())
		})
	}

	_, err := New("tpu9000", Config{})
	assert.True(t, errors.Is(err, ErrUnknownTarget))
	assert.Contains(t, err.Error(), "bm1880")
}

func TestOnlyBM1880IsCalibrated(t *testing.T) {
	for _, name := range Names() {
		tg, err := New(name, Config{})
		require.NoError(t, err)
		c, ok := tg.(target.Calibrated)
		assert.Equal(t, name == bm188x.Name, ok, name)
		if ok {
			assert.Equal(t, bm188x.CalibrationKey, c.CalibrationKey())
		}
	}

	_, err := New(bm188x.Name, Config{BM188xOptions: bm188x.Options{LocalMemory: -1}})
	assert.Error(t, err)
}
