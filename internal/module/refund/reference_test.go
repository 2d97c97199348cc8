package refund

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReference_Format(t *testing.T) {
	for i := 0; i < 100; i++ {
		ref, err := NewReference()
		require.NoError(t, err)
		assert.Regexp(t, `^RF-\d{4}-\d{4}-\d{4}-\d{4}$`, ref)
	}
}

func TestValidReference(t *testing.T) {
	assert.True(t, ValidReference("RF-1234-5678-9012-3456"))
	assert.True(t, ValidReference("RF-0000-0000-0000-0000"))

	assert.False(t, ValidReference("RF-1234-5678-9012"))
	assert.False(t, ValidReference("RC-1234-5678-9012-3456"))
	assert.False(t, ValidReference("RF-1234-5678-9012-34567"))
	assert.False(t, ValidReference("rf-1234-5678-9012-3456"))
	assert.False(t, ValidReference(""))
}
