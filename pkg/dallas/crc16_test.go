package dallas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC16(t *testing.T) {
	assert.Equal(t, uint16(0xBB3D), crc16([]byte("123456789")))
	assert.Equal(t, crc16([]byte("123456789")), crc16([]byte("1234"), []byte("56789")))

	crc := crc16([]byte{0xAA, 0x08, 0x00})
	assert.True(t, checkCRC16(crc, byte(^crc), byte(^crc>>8)))
	assert.False(t, checkCRC16(crc, byte(crc), byte(crc>>8)))
}
