package mcpserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/patchsmith/internal/artifact"
	"github.com/fyrsmithlabs/patchsmith/internal/run"
)

type fakeProcessor struct{}

func (fakeProcessor) Process(ctx context.Context, issue run.Issue) (*run.Context, error) {
	return run.NewContext(issue), nil
}

func TestNewServerRequiresProcessorAndStore(t *testing.T) {
	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = NewServer(Config{}, nil, store, nil)
	assert.Error(t, err)

	_, err = NewServer(Config{}, fakeProcessor{}, nil, nil)
	assert.Error(t, err)

	s, err := NewServer(Config{}, fakeProcessor{}, store, nil)
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestArtifactNameValidation(t *testing.T) {
	assert.True(t, artifactNamePattern.MatchString("plan.md"))
	assert.True(t, artifactNamePattern.MatchString("patch.diff"))
	assert.False(t, artifactNamePattern.MatchString("../run.json"))
	assert.False(t, artifactNamePattern.MatchString("a/b.txt"))
	assert.False(t, artifactNamePattern.MatchString(""))
}
