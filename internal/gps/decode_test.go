package gps

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nmeaLine(payload string) string {
	ck := byte(0)
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X", payload, ck)
}

const (
	rmcPayload = "GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"
	ggaPayload = "GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"
)

func TestDecode_RMCCarriesSpeedOnly(t *testing.T) {
	fix, ok, err := Decode(nmeaLine(rmcPayload))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, KindMotion, fix.Kind)
	assert.InDelta(t, 48.1173, fix.Latitude, 1e-4)
	assert.InDelta(t, 11.516667, fix.Longitude, 1e-4)
	require.NotNil(t, fix.SpeedKnots)
	assert.InDelta(t, 22.4, *fix.SpeedKnots, 1e-9)
	assert.Nil(t, fix.AltitudeM)
}

func TestDecode_GGACarriesAltitudeOnly(t *testing.T) {
	fix, ok, err := Decode(nmeaLine(ggaPayload) + "\r\n")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, KindFix, fix.Kind)
	require.NotNil(t, fix.AltitudeM)
	assert.InDelta(t, 545.4, *fix.AltitudeM, 1e-9)
	assert.Nil(t, fix.SpeedKnots)
}

func TestDecode_SouthWestHemispheresAreNegative(t *testing.T) {
	fix, ok, err := Decode(nmeaLine("GNRMC,001122,A,3351.000,S,15112.000,W,001.0,000.0,010125,003.1,W"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Less(t, fix.Latitude, 0.0)
	assert.Less(t, fix.Longitude, 0.0)
}

func TestDecode_ChecksumMismatchIsFailure(t *testing.T) {
	good := nmeaLine(rmcPayload)
	bad := good[:len(good)-2] + "00"

	_, ok, err := Decode(bad)
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))

	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, bad, de.Line)
}

func TestDecode_MalformedIsFailure(t *testing.T) {
	for _, line := range []string{"garbage", "$GPRMC", "$XXZZZ,1,2,3*00"} {
		_, ok, err := Decode(line)
		assert.False(t, ok, line)
		assert.ErrorIs(t, err, ErrDecode, line)
	}
}

func TestDecode_OtherSentencesProduceNoFix(t *testing.T) {
	gsa := nmeaLine("GPGSA,A,3,04,05,,09,12,,,24,,,,,2.5,1.3,2.1")
	fix, ok, err := Decode(gsa)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Fix{}, fix)
}

func TestDecode_VoidAndNoFixAreSkipped(t *testing.T) {
	_, ok, err := Decode(nmeaLine("GPRMC,123519,V,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = Decode(nmeaLine("GPGGA,123519,4807.038,N,01131.000,E,0,00,99.9,545.4,M,46.9,M,,"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecode_BlankLineIsSkipped(t *testing.T) {
	_, ok, err := Decode("  \r\n")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecode_SameSentenceTwiceIsEqual(t *testing.T) {
	line := nmeaLine(ggaPayload)
	a, okA, errA := Decode(line)
	b, okB, errB := Decode(line)
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, okA, okB)
	assert.Equal(t, a, b)
}

func TestParseTarget(t *testing.T) {
	tcp, err := ParseTarget("192.168.1.20", 10110, 9600)
	require.NoError(t, err)
	assert.Equal(t, Target{Network: NetworkTCP, Address: "192.168.1.20:10110"}, tcp)

	ser, err := ParseTarget("/dev/ttyUSB0", 0, 9600)
	require.NoError(t, err)
	assert.Equal(t, Target{Network: NetworkSerial, Address: "/dev/ttyUSB0", Baud: 9600}, ser)

	_, err = ParseTarget("", 10110, 9600)
	assert.Error(t, err)
	_, err = ParseTarget("localhost", 70000, 9600)
	assert.Error(t, err)
}
