//go:build property
// +build property

package extension_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/appdev/pkg/extension"
)

// TestSlugifyProducesValidHandles verifies names become acceptable handles.
// Property: Slugify(name) != "" implies ValidateHandle(Slugify(name)) == nil
func TestSlugifyProducesValidHandles(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("slugs are valid handles", prop.ForAll(
		func(name string) bool {
			slug := extension.Slugify(name)
			if slug == "" {
				return true
			}
			return extension.ValidateHandle(slug) == nil
		},
		gen.AnyString(),
	))

	properties.Property("handles over the limit are rejected", prop.ForAll(
		func(n int) bool {
			h := make([]byte, extension.MaxHandleLength+n)
			for i := range h {
				h[i] = 'a'
			}
			return extension.ValidateHandle(string(h)) == extension.ErrHandleTooLong
		},
		gen.IntRange(1, 100),
	))

	properties.TestingRun(t)
}
