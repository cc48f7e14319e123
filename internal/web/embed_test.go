package web

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexHTML(t *testing.T) {
	data, err := IndexHTML()
	require.NoError(t, err)
	assert.Contains(t, string(data), "<title>Timekeeper</title>")
	assert.Contains(t, string(data), "api/ws")
}

func TestFiles(t *testing.T) {
	assert.Contains(t, Files(), "index.html")
}
