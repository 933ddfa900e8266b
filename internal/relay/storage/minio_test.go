package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/msgrelay/pkg/options"
)

func TestNewMinIOStore(t *testing.T) {
	opts := options.NewS3Options()
	opts.InsecureSkipVerify = true

	s, err := NewMinIOStore(opts)
	require.NoError(t, err)
	assert.Equal(t, "msgrelay-attachments", s.bucketName)

	_, err = NewMinIOStore(&options.S3Options{Endpoint: "http://bad endpoint"})
	assert.Error(t, err)
}
