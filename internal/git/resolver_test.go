package git

import (
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadOf(t *testing.T) {
	mainHash := plumbing.NewHash("1111111111111111111111111111111111111111")
	devHash := plumbing.NewHash("2222222222222222222222222222222222222222")
	refs := []*plumbing.Reference{
		plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main")),
		plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), mainHash),
		plumbing.NewHashReference(plumbing.NewBranchReferenceName("dev"), devHash),
		plumbing.NewHashReference(plumbing.NewTagReferenceName("main"), devHash),
	}

	got, err := headOf(refs, "main")
	require.NoError(t, err)
	assert.Equal(t, mainHash.String(), got)

	got, err = headOf(refs, "dev")
	require.NoError(t, err)
	assert.Equal(t, devHash.String(), got)

	_, err = headOf(refs, "missing")
	assert.ErrorIs(t, err, ErrBranchNotFound)
}
