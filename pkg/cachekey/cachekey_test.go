package cachekey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	require.Equal(t, "user:42", User("42"))
	require.Equal(t, "stats:42", Stats("42"))
	require.Equal(t, "rank:42", Rank("42"))
	require.Equal(t, "leaderboard:weekly:10", Leaderboard("weekly", 10))
	require.Equal(t, []string{"user:7", "stats:7", "rank:7"}, AccountKeys("7"))
}
