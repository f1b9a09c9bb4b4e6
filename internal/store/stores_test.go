package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/rebano/internal/domain/repository"
)

func pagedLister(n int) (Lister[int], *int) {
	calls := 0
	return func(ctx context.Context, q repository.Query) ([]int, error) {
		calls++
		var out []int
		for i := q.Offset; i < n && (q.Limit == 0 || i < q.Offset+q.Limit); i++ {
			out = append(out, i)
		}
		return out, nil
	}, &calls
}

func TestListAllWalksPages(t *testing.T) {
	list, calls := pagedLister(7)
	items, partial, err := ListAll(context.Background(), list, nil, PageOptions{PageSize: 3})
	require.NoError(t, err)
	assert.False(t, partial)
	assert.Len(t, items, 7)
	assert.Equal(t, 3, *calls)
}

func TestListAllFlagsPartial(t *testing.T) {
	list, _ := pagedLister(7)
	items, partial, err := ListAll(context.Background(), list, nil, PageOptions{PageSize: 3, MaxPages: 1})
	require.NoError(t, err)
	assert.True(t, partial)
	assert.Len(t, items, 3)
}

func TestListAllUnpaged(t *testing.T) {
	list, calls := pagedLister(5)
	items, partial, err := ListAll(context.Background(), list, nil, PageOptions{})
	require.NoError(t, err)
	assert.False(t, partial)
	assert.Len(t, items, 5)
	assert.Equal(t, 1, *calls)
}

func TestListAllCanceled(t *testing.T) {
	list, calls := pagedLister(5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := ListAll(ctx, list, nil, PageOptions{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, *calls)
}
