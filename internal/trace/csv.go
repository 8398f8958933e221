// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package trace

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedRow marks a stored row that violates the column contract.
var ErrMalformedRow = errors.New("trace: malformed row")

// Header is the canonical column order written for every stored trace.
var Header = []string{"Timestamp", "Device", "Latitude", "Longitude", "Speed", "Elevation"}

const (
	metaStart = "#start_time="
	metaEnd   = "#end_time="
)

// Write encodes s as CSV: optional window metadata lines, the header, then one
// row per point in order. Absent optional values are written as empty cells.
func Write(w io.Writer, s Session) error {
	bw := bufio.NewWriter(w)
	if !s.StartTime.IsZero() {
		if _, err := bw.WriteString(metaStart + FormatTimestamp(s.StartTime) + "\n"); err != nil {
			return err
		}
	}
	if !s.EndTime.IsZero() {
		if _, err := bw.WriteString(metaEnd + FormatTimestamp(s.EndTime) + "\n"); err != nil {
			return err
		}
	}

	cw := csv.NewWriter(bw)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, p := range s.Points {
		row := []string{
			"",
			p.Device,
			strconv.FormatFloat(p.Latitude, 'f', -1, 64),
			strconv.FormatFloat(p.Longitude, 'f', -1, 64),
			formatOptional(p.Speed),
			formatOptional(p.Elevation),
		}
		if p.HasTime() {
			row[0] = FormatTimestamp(p.Time)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return bw.Flush()
}

type columns struct {
	ts, dev, lat, lon, speed, elev int
}

func (c columns) required() int {
	n := c.lat
	if c.lon > n {
		n = c.lon
	}
	return n
}

var aliases = map[string]string{
	"timestamp": "ts", "time": "ts", "ts": "ts",
	"device": "dev", "device_id": "dev", "deviceid": "dev",
	"latitude": "lat", "lat": "lat",
	"longitude": "lon", "lon": "lon", "lng": "lon",
	"speed": "speed", "speed_knots": "speed",
	"elevation": "elev", "altitude": "elev", "alt": "elev", "altitude_m": "elev",
}

// resolveColumns maps a header row to column positions. ok=false means the row
// is not a header at all (it is data and lat/lon are positional).
func resolveColumns(row []string) (columns, bool) {
	cols := columns{ts: -1, dev: -1, lat: 0, lon: 1, speed: -1, elev: -1}
	for _, cell := range row {
		if _, err := strconv.ParseFloat(strings.TrimSpace(cell), 64); err == nil {
			return cols, false
		}
	}

	named := columns{ts: -1, dev: -1, lat: -1, lon: -1, speed: -1, elev: -1}
	for i, cell := range row {
		switch aliases[strings.ToLower(strings.TrimSpace(cell))] {
		case "ts":
			named.ts = i
		case "dev":
			named.dev = i
		case "lat":
			named.lat = i
		case "lon":
			named.lon = i
		case "speed":
			named.speed = i
		case "elev":
			named.elev = i
		}
	}
	if named.lat < 0 || named.lon < 0 {
		// Foreign header: first two columns are latitude, longitude.
		return cols, true
	}
	return named, true
}

// Read decodes a trace written by Write, an older trace without device or
// timestamp columns, or a foreign latitude/longitude file. Malformed rows are
// skipped and counted in Session.Skipped; only I/O errors abort the read.
func Read(r io.Reader) (Session, error) {
	var s Session
	br := bufio.NewReader(r)

	for {
		b, err := br.Peek(1)
		if err != nil || b[0] != '#' {
			break
		}
		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return Session{}, err
		}
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, metaStart):
			if ts, err := ParseTimestamp(strings.TrimPrefix(line, metaStart)); err == nil {
				s.StartTime = ts
			}
		case strings.HasPrefix(line, metaEnd):
			if ts, err := ParseTimestamp(strings.TrimPrefix(line, metaEnd)); err == nil {
				s.EndTime = ts
			}
		}
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	cr.ReuseRecord = false

	var cols columns
	first := true
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				s.Skipped++
				continue
			}
			return Session{}, err
		}
		if first {
			first = false
			var isHeader bool
			cols, isHeader = resolveColumns(row)
			if isHeader {
				continue
			}
		}

		p, err := parseRow(row, cols)
		if err != nil {
			s.Skipped++
			continue
		}
		s.Points = append(s.Points, p)
	}
	return s, nil
}

func parseRow(row []string, c columns) (Point, error) {
	if len(row) <= c.required() {
		return Point{}, fmt.Errorf("%w: %d columns", ErrMalformedRow, len(row))
	}
	cell := func(i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	lat, err := strconv.ParseFloat(cell(c.lat), 64)
	if err != nil || math.IsNaN(lat) || lat < -90 || lat > 90 {
		return Point{}, fmt.Errorf("%w: latitude %q", ErrMalformedRow, cell(c.lat))
	}
	lon, err := strconv.ParseFloat(cell(c.lon), 64)
	if err != nil || math.IsNaN(lon) || lon < -180 || lon > 180 {
		return Point{}, fmt.Errorf("%w: longitude %q", ErrMalformedRow, cell(c.lon))
	}

	p := Point{Device: cell(c.dev), Latitude: lat, Longitude: lon}
	if p.Device == "" {
		p.Device = DefaultDevice
	}
	if v := cell(c.ts); v != "" {
		ts, err := ParseTimestamp(v)
		if err != nil {
			return Point{}, fmt.Errorf("%w: timestamp %q", ErrMalformedRow, v)
		}
		p.Time = ts
	}
	if p.Speed, err = parseOptional(cell(c.speed)); err != nil {
		return Point{}, fmt.Errorf("%w: speed: %w", ErrMalformedRow, err)
	}
	if p.Elevation, err = parseOptional(cell(c.elev)); err != nil {
		return Point{}, fmt.Errorf("%w: elevation: %w", ErrMalformedRow, err)
	}
	return p, nil
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func parseOptional(s string) (*float64, error) {
	if s == "" || s == "None" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// FormatTimestamp writes t as Unix seconds with a nine digit fraction, which
// ParseTimestamp reads back without loss.
func FormatTimestamp(t time.Time) string {
	return fmt.Sprintf("%d.%09d", t.Unix(), t.Nanosecond())
}

// ParseTimestamp accepts FormatTimestamp output, plain float Unix seconds and
// RFC 3339. Results are in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if sec, frac, ok := strings.Cut(s, "."); ok && len(frac) == 9 {
		secs, err1 := strconv.ParseInt(sec, 10, 64)
		nanos, err2 := strconv.ParseInt(frac, 10, 64)
		if err1 == nil && err2 == nil && nanos >= 0 {
			return time.Unix(secs, nanos).UTC(), nil
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		secs, frac := math.Modf(f)
		return time.Unix(int64(secs), int64(math.Round(frac*1e9))).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("trace: unrecognized timestamp %q", s)
	}
	return t.UTC(), nil
}
