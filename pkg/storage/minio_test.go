package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhotoObjectName(t *testing.T) {
	name, err := PhotoObjectName("t1", "s1", "image/png")
	require.NoError(t, err)
	assert.Equal(t, "students/t1/s1.png", name)

	_, err = PhotoObjectName("t1", "s1", "application/pdf")
	assert.Error(t, err)

	_, err = PhotoObjectName("", "s1", "image/jpeg")
	assert.Error(t, err)
}
