// (c) Copyright 2024 Hewlett Packard Enterprise Development LP

package filestore

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func tempPath(t *testing.T) string {
	dir, err := ioutil.TempDir("", "filestore-test")
	assert.Nil(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "config.yaml")
}

func TestNewWithMissingFileLoadsEmptyDocument(t *testing.T) {
	path := tempPath(t)
	s, err := New(path)
	assert.Nil(t, err)

	_, err = s.InitiatorNameGet()
	assert.NotNil(t, err)

	meth, err := s.DiscMethGet()
	assert.Nil(t, err)
	assert.Equal(t, 0, int(meth))
}

func TestInitiatorNameSetPersistsAndReloads(t *testing.T) {
	path := tempPath(t)
	s, err := New(path)
	assert.Nil(t, err)

	assert.Nil(t, s.InitiatorNameSet("iqn.2024-01.com.example:initiator"))

	s2, err := New(path)
	assert.Nil(t, err)
	name, err := s2.InitiatorNameGet()
	assert.Nil(t, err)
	assert.Equal(t, "iqn.2024-01.com.example:initiator", name)
}

func TestParamLifecycle(t *testing.T) {
	path := tempPath(t)
	raw := []byte("params:\n  - name: iqn.a\n    overrides: {}\n    params: {}\n")
	assert.Nil(t, ioutil.WriteFile(path, raw, 0600))

	s, err := New(path)
	assert.Nil(t, err)

	rec, err := s.ParamGet("iqn.a")
	assert.Nil(t, err)
	assert.Equal(t, "iqn.a", rec.Name)

	assert.Nil(t, s.RemoveTargetParam("iqn.a"))
	_, err = s.ParamGet("iqn.a")
	assert.NotNil(t, err)
}
