package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClockStringFormatsHour(t *testing.T) {
	require.Equal(t, "04:00", clockString(4))
	require.Equal(t, "00:00", clockString(0))
	require.Equal(t, "23:00", clockString(23))
}

func TestClockStringClampsOutOfRangeHour(t *testing.T) {
	require.Equal(t, "00:00", clockString(-1))
	require.Equal(t, "23:00", clockString(24))
}
