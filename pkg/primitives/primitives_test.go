package primitives

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilepathHashIsStable(t *testing.T) {
	path := Filepath("/data/users.dat")

	assert.Equal(t, path.Hash(), path.Hash(), "same path must always hash the same")
	assert.NotEqual(t, path.Hash(), Filepath("/data/orders.dat").Hash())
	assert.True(t, path.Hash().IsValid())
}

func TestFilepathHashNormalizesPath(t *testing.T) {
	messy := Filepath("/data/../data/./users.dat")
	clean := Filepath("/data/users.dat")

	assert.Equal(t, clean.Hash(), messy.Hash(), "equivalent paths must share a table id")
}

func TestFilepathHelpers(t *testing.T) {
	dir := Filepath("/data")
	table := dir.Join("tables", "users.dat")

	assert.Equal(t, Filepath(filepath.Join("/data", "tables", "users.dat")), table)
	assert.Equal(t, "users.dat", table.Base())
	assert.False(t, table.IsEmpty())
	assert.True(t, Filepath("").IsEmpty())
}
