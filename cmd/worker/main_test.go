package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/campusgate/doorlock/internal/app"
	_ "github.com/campusgate/doorlock/internal/testing/guard"
)

func TestMainSkipsInTestMode(t *testing.T) {
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	require.NotPanics(t, main)
}
