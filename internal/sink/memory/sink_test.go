package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/job-crawler/internal/crawler"
)

func TestSinkRecordsInOrder(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	require.NoError(t, s.Persist(ctx, crawler.JobRecord{ID: "2", Title: "old"}))
	require.NoError(t, s.Persist(ctx, crawler.JobRecord{ID: "1"}))
	require.NoError(t, s.Persist(ctx, crawler.JobRecord{ID: "2", Title: "new"}))

	require.Equal(t, []string{"2", "1"}, s.IDs())
	require.Equal(t, "new", s.Records()[0].Title)
	require.Equal(t, 3, s.Calls())
}

func TestSinkFailWith(t *testing.T) {
	t.Parallel()

	s := New()
	s.FailWith(func(r crawler.JobRecord) error {
		if r.ID == "bad" {
			return errors.New("disk full")
		}
		return nil
	})
	require.Error(t, s.Persist(context.Background(), crawler.JobRecord{ID: "bad"}))
	require.NoError(t, s.Persist(context.Background(), crawler.JobRecord{ID: "ok"}))
	require.Equal(t, []string{"ok"}, s.IDs())

	require.NoError(t, s.Close())
	require.True(t, s.Closed())
}
