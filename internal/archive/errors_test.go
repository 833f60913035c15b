package archive

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPostErrorUnwrapsSentinel(t *testing.T) {
	t.Parallel()

	err := &PostError{
		PostID: "42",
		Stage:  StageNormalize,
		Err:    fmt.Errorf("image %q: %w", "img1", ErrMissingMediaReference),
	}
	assert.ErrorIs(t, err, ErrMissingMediaReference)
	assert.Contains(t, err.Error(), "post 42: normalize")
	assert.True(t, IsPostLevel(err))
}

func TestIsPostLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		err  error
		want bool
	}{
		"render":    {fmt.Errorf("chromedp: %w", ErrRenderFailure), true},
		"fs":        {fmt.Errorf("mkdir: %w", ErrFilesystem), true},
		"transport": {fmt.Errorf("fetch page: %w", ErrTransport), false},
		"malformed": {fmt.Errorf("decode: %w", ErrMalformedResponse), false},
		"other":     {errors.New("boom"), false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsPostLevel(tc.err))
		})
	}
}
