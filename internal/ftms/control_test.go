package ftms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeSetTargetSpeed(t *testing.T) {
	assert.Equal(t, []byte{0x02, 0xE8, 0x03}, EncodeSetTargetSpeed(10.0, ProfileFTMS))

	// legacy firmware takes mph: 15.9 km/h / 1.59 = 10.00
	assert.Equal(t, []byte{0x02, 0xE8, 0x03}, EncodeSetTargetSpeed(15.9, ProfileLegacy))

	// clamped to the treadmill range
	assert.Equal(t, []byte{0x02, 0x00, 0x00}, EncodeSetTargetSpeed(-3, ProfileFTMS))
	assert.Equal(t, []byte{0x02, 0xC4, 0x09}, EncodeSetTargetSpeed(40, ProfileFTMS))
}

func TestEncodeSetTargetIncline(t *testing.T) {
	assert.Equal(t, []byte{0x03, 0x0A, 0x00}, EncodeSetTargetIncline(1.0))
	assert.Equal(t, []byte{0x03, 0xF6, 0xFF}, EncodeSetTargetIncline(-1.0))
}

func TestParseControlResponse(t *testing.T) {
	resp, err := ParseControlResponse([]byte{0x80, 0x02, 0x01})
	require.NoError(t, err)
	assert.True(t, resp.Succeeded())
	assert.Equal(t, "Set Target Speed -> Success", resp.String())

	resp, err = ParseControlResponse([]byte{0x80, 0x00, 0x05})
	require.NoError(t, err)
	assert.False(t, resp.Succeeded())
	assert.Equal(t, "Request Control -> Control Not Permitted", resp.String())

	_, err = ParseControlResponse([]byte{0x80, 0x00})
	assert.Error(t, err)

	_, err = ParseControlResponse([]byte{0x01, 0x00, 0x01})
	assert.Error(t, err)
}

func TestParseHeartRate(t *testing.T) {
	bpm, err := ParseHeartRate([]byte{0x00, 0x91})
	require.NoError(t, err)
	assert.Equal(t, 145, bpm)

	bpm, err = ParseHeartRate([]byte{0x01, 0x2C, 0x01})
	require.NoError(t, err)
	assert.Equal(t, 300, bpm)

	_, err = ParseHeartRate([]byte{0x01, 0x2C})
	assert.Error(t, err)

	bpm, err = ParseHeartRate(EncodeHeartRate(132))
	require.NoError(t, err)
	assert.Equal(t, 132, bpm)
}
