package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	require.ElementsMatch(t, []string{"up", "status", "down", "seed"}, names)

	down, _, err := root.Find([]string{"down"})
	require.NoError(t, err)
	require.NotNil(t, down.Flags().Lookup("target"))

	timeout := root.PersistentFlags().Lookup("timeout")
	require.NotNil(t, timeout)
	require.Equal(t, time.Minute.String(), timeout.DefValue)
}
