package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInstallFilesCoverAllEmbeddedAssets(t *testing.T) {
	entries, err := assets.ReadDir("assets")
	assert.NoError(t, err)
	assert.Len(t, installFiles, len(entries))
}

func TestInstallFilesEmbedSuccessfully(t *testing.T) {
	for _, f := range installFiles {
		data, err := assets.ReadFile(f.asset)
		assert.NoError(t, err)
		assert.NotEmpty(t, data)
	}
}
