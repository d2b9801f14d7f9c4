package jobs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	r.Register("reports:nightly", func(context.Context, []any, map[string]any) error { return nil })

	fn, err := r.Resolve("reports:nightly")
	require.NoError(t, err)
	require.NotNil(t, fn)

	_, err = r.Resolve("reports:weekly")
	require.ErrorIs(t, err, ErrFuncNotFound)
}

func TestRegistryRefs(t *testing.T) {
	r := NewRegistry()
	RegisterExamples(r)

	refs := r.Refs()
	assert.Len(t, refs, 4)
	assert.Contains(t, refs, "jobs.example_jobs:send_notification_email")
}
