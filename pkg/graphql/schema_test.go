package graphql

import (
	"testing"

	gql "github.com/graphql-go/graphql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalaz-foundation/forge/pkg/queue"
)

type noopJob struct{}

func (noopJob) Handle() error { return nil }

func TestSchema_StatsQuery(t *testing.T) {
	m := queue.NewManager(queue.NewMemoryStore())
	m.RegisterJob("*graphql.noopJob", func() queue.Job { return noopJob{} })
	_, err := m.Add(noopJob{})
	require.NoError(t, err)

	schema, err := NewSchema(func() *queue.Manager { return m })
	require.NoError(t, err)

	result := gql.Do(gql.Params{
		Schema:        schema,
		RequestString: `{ stats { pending failed } }`,
	})
	require.Empty(t, result.Errors)

	data := result.Data.(map[string]interface{})
	stats := data["stats"].(map[string]interface{})
	assert.EqualValues(t, 1, stats["pending"])
	assert.EqualValues(t, 0, stats["failed"])
}

func TestSchema_FailedJobsQueryEmpty(t *testing.T) {
	m := queue.NewManager(queue.NewMemoryStore())

	schema, err := NewSchema(func() *queue.Manager { return m })
	require.NoError(t, err)

	result := gql.Do(gql.Params{
		Schema:        schema,
		RequestString: `{ failedJobs { id task } }`,
	})
	require.Empty(t, result.Errors)

	data := result.Data.(map[string]interface{})
	assert.Empty(t, data["failedJobs"])
}

func TestSchema_NilManagerReturnsNull(t *testing.T) {
	schema, err := NewSchema(func() *queue.Manager { return nil })
	require.NoError(t, err)

	result := gql.Do(gql.Params{
		Schema:        schema,
		RequestString: `{ stats { pending } }`,
	})
	require.Empty(t, result.Errors)
	data := result.Data.(map[string]interface{})
	assert.Nil(t, data["stats"])
}
