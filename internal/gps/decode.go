// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"errors"
	"fmt"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
)

// ErrDecode marks a line that could not be turned into a sentence:
// malformed framing, checksum mismatch or an unknown sentence type.
var ErrDecode = errors.New("gps: decode failure")

// DecodeError carries the offending line alongside the parser error.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("gps: decode %q: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() []error { return []error{ErrDecode, e.Err} }

// Decode parses one line of receiver output.
//
// It returns ok=false with a nil error for sentences that parse but carry no
// usable fix (other sentence types, void RMC, GGA without a fix). DeviceID and
// ObservedAt are left for the caller to stamp.
func Decode(line string) (fix Fix, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Fix{}, false, nil
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		return Fix{}, false, &DecodeError{Line: line, Err: err}
	}

	switch m := sentence.(type) {
	case nmea.RMC:
		if m.Validity != nmea.ValidRMC {
			return Fix{}, false, nil
		}
		return Fix{
			Kind:       KindMotion,
			Latitude:   m.Latitude,
			Longitude:  m.Longitude,
			SpeedKnots: float64Ptr(m.Speed),
		}, true, nil

	case nmea.GGA:
		if m.FixQuality == nmea.Invalid {
			return Fix{}, false, nil
		}
		return Fix{
			Kind:      KindFix,
			Latitude:  m.Latitude,
			Longitude: m.Longitude,
			AltitudeM: float64Ptr(m.Altitude),
		}, true, nil

	default:
		// GSA, GSV, VTG, ... are valid but out of scope.
		return Fix{}, false, nil
	}
}
