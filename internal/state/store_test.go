package state

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/gps_receiver/internal/gps"
)

func f64(v float64) *float64 { return &v }

func motion(lat, lon, speed float64) gps.Fix {
	return gps.Fix{Kind: gps.KindMotion, Latitude: lat, Longitude: lon, SpeedKnots: f64(speed)}
}

func position(lat, lon, alt float64) gps.Fix {
	return gps.Fix{Kind: gps.KindFix, Latitude: lat, Longitude: lon, AltitudeM: f64(alt)}
}

func stepClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func TestStore_FieldsRetainIndependently(t *testing.T) {
	s := New(stepClock())
	s.Update("gps1", motion(1, 2, 5))
	s.Update("gps1", position(3, 4, 100))

	snap := s.Snapshot()["gps1"]
	require.True(t, snap.HasFix())
	assert.Equal(t, 3.0, *snap.Latitude)
	assert.Equal(t, 4.0, *snap.Longitude)
	require.NotNil(t, snap.Speed)
	assert.Equal(t, 5.0, *snap.Speed)
	require.NotNil(t, snap.Elevation)
	assert.Equal(t, 100.0, *snap.Elevation)
	assert.NotEmpty(t, snap.LastFixUTC)
}

func TestStore_NoCrossDeviceBleed(t *testing.T) {
	s := New(nil)
	s.Update("gps1", motion(1, 1, 10))
	s.Update("gps2", position(2, 2, 200))
	s.Update("gps1", motion(1.5, 1.5, 11))

	snap := s.Snapshot()
	assert.Equal(t, 1.5, *snap["gps1"].Latitude)
	assert.Equal(t, 11.0, *snap["gps1"].Speed)
	assert.Nil(t, snap["gps1"].Elevation)

	assert.Equal(t, 2.0, *snap["gps2"].Latitude)
	assert.Equal(t, 200.0, *snap["gps2"].Elevation)
	assert.Nil(t, snap["gps2"].Speed)
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	s := New(nil)
	s.Update("gps1", motion(1, 1, 10))
	snap := s.Snapshot()
	*snap["gps1"].Latitude = 99

	assert.Equal(t, 1.0, *s.Snapshot()["gps1"].Latitude)
}

func TestStore_RegisterAndReset(t *testing.T) {
	s := New(nil)
	s.Register("gps2")
	s.Update("gps1", motion(1, 1, 10))
	assert.Equal(t, []string{"gps1", "gps2"}, s.Devices())
	assert.False(t, s.Snapshot()["gps2"].HasFix())

	s.Reset()
	snap := s.Snapshot()
	require.Len(t, snap, 2)
	for _, d := range snap {
		assert.False(t, d.HasFix())
		assert.Nil(t, d.Speed)
		assert.Nil(t, d.Elevation)
	}
}

func TestStore_RecordingWindow(t *testing.T) {
	s := New(stepClock())
	assert.False(t, s.Update("gps1", motion(0, 0, 1)), "idle fixes are not recorded")

	require.NoError(t, s.StartRecording())
	assert.True(t, s.Update("gps1", motion(1, 1, 2)))
	assert.True(t, s.Update("gps2", position(2, 2, 30)))
	assert.Equal(t, 2, s.Recording().Points)

	sess, err := s.StopRecording()
	require.NoError(t, err)
	require.Len(t, sess.Points, 2)
	assert.True(t, sess.EndTime.After(sess.StartTime))
	assert.Equal(t, "gps1", sess.Points[0].Device)
	assert.NotNil(t, sess.Points[0].Speed)
	assert.Nil(t, sess.Points[0].Elevation)
	assert.Equal(t, "gps2", sess.Points[1].Device)
	assert.Nil(t, sess.Points[1].Speed)
	assert.NotNil(t, sess.Points[1].Elevation)
	assert.True(t, sess.Points[0].Time.Before(sess.Points[1].Time))

	assert.False(t, s.Update("gps1", motion(3, 3, 3)))
	assert.Equal(t, Idle, s.Recording().Status)
}

func TestStore_StartTwiceRejectedAndKeepsWindow(t *testing.T) {
	s := New(stepClock())
	require.NoError(t, s.StartRecording())
	start := s.Recording().StartTime
	s.Update("gps1", motion(1, 1, 1))

	err := s.StartRecording()
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, start, s.Recording().StartTime)
	assert.Equal(t, 1, s.Recording().Points)

	sess, err := s.StopRecording()
	require.NoError(t, err)
	assert.Len(t, sess.Points, 1)
}

func TestStore_StopWhileIdleRejected(t *testing.T) {
	s := New(nil)
	sess, err := s.StopRecording()
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, sess.Points)
}

func TestStore_StopThenStartIsDisjoint(t *testing.T) {
	s := New(stepClock())
	require.NoError(t, s.StartRecording())
	s.Update("gps1", motion(1, 1, 1))
	first, err := s.StopRecording()
	require.NoError(t, err)

	require.NoError(t, s.StartRecording())
	s.Update("gps1", motion(2, 2, 2))
	second, err := s.StopRecording()
	require.NoError(t, err)

	require.Len(t, first.Points, 1)
	require.Len(t, second.Points, 1)
	assert.Equal(t, 1.0, first.Points[0].Latitude)
	assert.Equal(t, 2.0, second.Points[0].Latitude)
}

func TestStore_ConcurrentDevicesLoseNoAppends(t *testing.T) {
	const n = 500
	s := New(nil)
	require.NoError(t, s.StartRecording())

	var wg sync.WaitGroup
	for _, id := range []string{"gps1", "gps2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				s.Update(id, motion(float64(i)/1000, 0, float64(i)))
			}
		}(id)
	}
	// Concurrent consumers.
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < n; j++ {
				_ = s.Snapshot()
			}
		}()
	}
	wg.Wait()

	sess, err := s.StopRecording()
	require.NoError(t, err)
	assert.Len(t, sess.Points, 2*n)

	perDevice := map[string]int{}
	last := map[string]float64{"gps1": -1, "gps2": -1}
	for _, p := range sess.Points {
		perDevice[p.Device]++
		assert.Greater(t, *p.Speed, last[p.Device], fmt.Sprintf("order for %s", p.Device))
		last[p.Device] = *p.Speed
	}
	assert.Equal(t, n, perDevice["gps1"])
	assert.Equal(t, n, perDevice["gps2"])

	snap := s.Snapshot()
	assert.Equal(t, float64(n-1), *snap["gps1"].Speed)
	assert.Equal(t, float64(n-1), *snap["gps2"].Speed)
}
