package cache

import (
	"errors"
	"testing"

	"github.com/matryer/is"

	"github.com/domino14/zerocoach/config"
)

func TestLoadOnce(t *testing.T) {
	is := is.New(t)
	calls := 0
	lf := func(cfg *config.Config, key string) (any, error) {
		calls++
		return []byte(key), nil
	}
	b, err := LoadAs[[]byte](nil, "test:once", lf)
	is.NoErr(err)
	is.Equal(string(b), "test:once")
	_, err = LoadAs[[]byte](nil, "test:once", lf)
	is.NoErr(err)
	is.Equal(calls, 1)
}

func TestLoadErrorNotCached(t *testing.T) {
	is := is.New(t)
	boom := errors.New("boom")
	_, err := Load(nil, "test:err", func(*config.Config, string) (any, error) { return nil, boom })
	is.True(errors.Is(err, boom))
	v, err := LoadAs[int](nil, "test:err", func(*config.Config, string) (any, error) { return 4, nil })
	is.NoErr(err)
	is.Equal(v, 4)
}

func TestLoadAsWrongType(t *testing.T) {
	is := is.New(t)
	_, err := LoadAs[string](nil, "test:type", func(*config.Config, string) (any, error) { return 4, nil })
	is.True(err != nil)
}
