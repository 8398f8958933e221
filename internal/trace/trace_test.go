package trace

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }

func sampleSession() Session {
	base := time.Date(2024, 6, 2, 8, 30, 0, 123456789, time.UTC)
	return Session{
		StartTime: base.Add(-time.Second),
		EndTime:   base.Add(10 * time.Second),
		Points: []Point{
			{Time: base, Device: "gps1", Latitude: 48.1173, Longitude: 11.516667, Speed: f64(22.4)},
			{Time: base.Add(500 * time.Millisecond), Device: "gps2", Latitude: -33.85, Longitude: 151.2, Elevation: f64(12.5)},
			{Time: base.Add(time.Second), Device: "gps1", Latitude: 48.1174, Longitude: 11.5168, Elevation: f64(0)},
			{Time: base.Add(2 * time.Second), Device: "gps2", Latitude: -33.8501, Longitude: 151.2001, Speed: f64(0), Elevation: f64(13)},
		},
	}
}

func roundTrip(t *testing.T, s Session) Session {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, s))
	got, err := Read(&buf)
	require.NoError(t, err)
	return got
}

func TestRoundTrip_MultiDeviceInterleaved(t *testing.T) {
	s := sampleSession()
	got := roundTrip(t, s)

	assert.Equal(t, s.StartTime, got.StartTime)
	assert.Equal(t, s.EndTime, got.EndTime)
	assert.Equal(t, s.Points, got.Points)
	assert.Zero(t, got.Skipped)
}

func TestRoundTrip_ZeroIsNotAbsent(t *testing.T) {
	got := roundTrip(t, sampleSession())
	require.NotNil(t, got.Points[2].Elevation)
	assert.Equal(t, 0.0, *got.Points[2].Elevation)
	assert.Nil(t, got.Points[2].Speed)
	require.NotNil(t, got.Points[3].Speed)
	assert.Equal(t, 0.0, *got.Points[3].Speed)
}

func TestRoundTrip_EmptyAndSingle(t *testing.T) {
	empty := roundTrip(t, Session{})
	assert.Empty(t, empty.Points)
	assert.True(t, empty.StartTime.IsZero())

	single := Session{Points: []Point{{Device: "gps1", Latitude: 1, Longitude: 2}}}
	got := roundTrip(t, single)
	assert.Equal(t, single.Points, got.Points)
	assert.False(t, got.Points[0].HasTime())
}

func TestRead_OlderSchemaWithoutDevice(t *testing.T) {
	in := "Timestamp,Latitude,Longitude,Speed,Elevation\n" +
		"1717317000.5,48.1,11.5,,545.4\n" +
		"1717317010.5,48.2,11.6,3.2,\n"
	s, err := Read(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, s.Points, 2)
	for _, p := range s.Points {
		assert.Equal(t, DefaultDevice, p.Device)
		assert.True(t, p.HasTime())
	}
	assert.Nil(t, s.Points[0].Speed)
	assert.Nil(t, s.Points[1].Elevation)

	a := Analyze(s)
	assert.Equal(t, 10*time.Second, a.Duration)
}

func TestRead_ForeignTwoColumn(t *testing.T) {
	in := "lat,lng\n45.0,7.0\n45.001,7.001\n"
	s, err := Read(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, s.Points, 2)
	assert.Equal(t, DefaultDevice, s.Points[0].Device)

	a := Analyze(s)
	require.Len(t, a.Devices, 1)
	assert.Zero(t, a.Duration)
	assert.Greater(t, a.DistanceM, 0.0)
}

func TestRead_ForeignUnknownHeaderIsPositional(t *testing.T) {
	in := "y,x\n45.0,7.0\n"
	s, err := Read(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, s.Points, 1)
	assert.Equal(t, 45.0, s.Points[0].Latitude)
}

func TestRead_HeaderlessNumericFile(t *testing.T) {
	s, err := Read(strings.NewReader("45.0,7.0\n46.0,8.0\n"))
	require.NoError(t, err)
	assert.Len(t, s.Points, 2)
}

func TestRead_SkipsMalformedRows(t *testing.T) {
	in := "Timestamp,Device,Latitude,Longitude,Speed,Elevation\n" +
		"1.000000000,gps1,10,20,,\n" +
		"1.000000000,gps1,not-a-number,20,,\n" +
		"2.000000000,gps1\n" +
		"3.000000000,gps1,95,20,,\n" +
		"4.000000000,gps1,10,20,fast,\n" +
		"5.000000000,gps1,11,21,,\n"
	s, err := Read(strings.NewReader(in))
	require.NoError(t, err)
	assert.Len(t, s.Points, 2)
	assert.Equal(t, 4, s.Skipped)
}

func TestParseTimestamp(t *testing.T) {
	ts := time.Date(2030, 1, 2, 3, 4, 5, 6, time.UTC)
	got, err := ParseTimestamp(FormatTimestamp(ts))
	require.NoError(t, err)
	assert.Equal(t, ts, got)

	got, err = ParseTimestamp("1717317000.25")
	require.NoError(t, err)
	assert.Equal(t, int64(1717317000), got.Unix())
	assert.Equal(t, 250*time.Millisecond, time.Duration(got.Nanosecond()))

	got, err = ParseTimestamp("2024-06-02T08:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, 2024, got.Year())

	_, err = ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestHaversine_OneDegreeOfLongitudeAtEquator(t *testing.T) {
	d := Haversine(0, 0, 0, 1)
	assert.InEpsilon(t, 111195.0, d, 0.005)
	assert.Zero(t, Haversine(10, 10, 10, 10))
}

func TestHaversine_NearAntipodesStayFinite(t *testing.T) {
	halfCircumference := math.Pi * EarthRadiusM
	for lat := -89.9; lat <= 89.9; lat += 0.37 {
		for _, dLon := range []float64{180, 179.9999999, 180.0000001} {
			d := Haversine(lat, 12.5, -lat, 12.5+dLon)
			require.False(t, math.IsNaN(d), "lat=%v dLon=%v", lat, dLon)
			assert.GreaterOrEqual(t, d, 0.0)
			assert.LessOrEqual(t, d, halfCircumference+1e-6)
		}
	}

	a := Analyze(Session{Points: []Point{
		{Device: "a", Latitude: 45, Longitude: 0},
		{Device: "a", Latitude: -45, Longitude: 180},
	}})
	assert.InDelta(t, halfCircumference, a.DistanceM, 1)
}

func TestAnalyze_DistanceIsAdditiveAcrossSplit(t *testing.T) {
	pts := []Point{
		{Device: "a", Latitude: 0, Longitude: 0},
		{Device: "a", Latitude: 0.01, Longitude: 0.02},
		{Device: "a", Latitude: 0.03, Longitude: 0.01},
		{Device: "a", Latitude: 0.05, Longitude: 0.05},
		{Device: "a", Latitude: 0.04, Longitude: 0.07},
	}
	whole := Analyze(Session{Points: pts}).DistanceM
	head := Analyze(Session{Points: pts[:3]}).DistanceM
	tail := Analyze(Session{Points: pts[2:]}).DistanceM

	assert.GreaterOrEqual(t, whole, 0.0)
	assert.InDelta(t, whole, head+tail, 1e-6)
}

func TestAnalyze_PartitionsByDeviceWithoutCrossDistance(t *testing.T) {
	a := Analyze(sampleSession())
	require.Len(t, a.Devices, 2)
	assert.Equal(t, "gps1", a.Devices[0].Device)
	assert.Equal(t, "gps2", a.Devices[1].Device)
	assert.Len(t, a.Devices[0].Points, 2)
	assert.Len(t, a.Devices[1].Points, 2)

	// gps1 and gps2 are on different continents; only same-device legs count.
	assert.Less(t, a.DistanceM, 100.0)
	assert.InDelta(t, a.Devices[0].DistanceM+a.Devices[1].DistanceM, a.DistanceM, 1e-9)
	assert.Equal(t, 2*time.Second, a.Duration)
}

func TestAnalyze_IsDeterministic(t *testing.T) {
	s := sampleSession()
	assert.Equal(t, Analyze(s), Analyze(s))
}

func TestAnalyze_Empty(t *testing.T) {
	a := Analyze(Session{})
	assert.Empty(t, a.Devices)
	assert.Zero(t, a.DistanceM)
	assert.Zero(t, a.Duration)
}
