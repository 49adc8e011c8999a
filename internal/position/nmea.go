package position

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// nmeaUERE is the user equivalent range error (meters) used to turn HDOP
// into a horizontal accuracy estimate; NMEA RMC/GGA carry no accuracy field.
const nmeaUERE = 5.0

type nmeaSentence struct {
	Type string
	// Fields is the comma-split payload, excluding '$' and the checksum.
	Fields []string
}

func parseNMEASentence(line string) (nmeaSentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return nmeaSentence{}, fmt.Errorf("nmea: missing '$'")
	}
	star := strings.LastIndexByte(line, '*')
	if star == -1 {
		return nmeaSentence{}, fmt.Errorf("nmea: missing checksum")
	}
	payload := line[1:star]
	ck := strings.TrimSpace(line[star+1:])
	if len(ck) < 2 {
		return nmeaSentence{}, fmt.Errorf("nmea: short checksum")
	}
	want, err := hex.DecodeString(ck[:2])
	if err != nil {
		return nmeaSentence{}, fmt.Errorf("nmea: bad checksum")
	}
	var got byte
	for i := 0; i < len(payload); i++ {
		got ^= payload[i]
	}
	if got != want[0] {
		return nmeaSentence{}, fmt.Errorf("nmea: checksum mismatch")
	}

	parts := strings.Split(payload, ",")
	if len(parts[0]) < 3 {
		return nmeaSentence{}, fmt.Errorf("nmea: short type")
	}
	// GPRMC, GNRMC, ... all normalize to RMC.
	t := parts[0][len(parts[0])-3:]
	return nmeaSentence{Type: strings.ToUpper(t), Fields: parts}, nil
}

// nmeaState folds RMC and GGA sentences into fixes.
type nmeaState struct {
	highAccuracy bool

	hdop   float64
	hdopOK bool
	// ggaOK is set once a GGA with a non-zero quality has been seen.
	ggaOK bool
}

// apply returns a fix when the sentence carries a usable position.
func (s *nmeaState) apply(sent nmeaSentence) (Fix, bool) {
	switch sent.Type {
	case "RMC":
		return s.applyRMC(sent.Fields)
	case "GGA":
		return s.applyGGA(sent.Fields)
	default:
		return Fix{}, false
	}
}

func (s *nmeaState) accuracy() float64 {
	if !s.hdopOK {
		return 0
	}
	return s.hdop * nmeaUERE
}

// RMC fields: 1 time, 2 status (A/V), 3-4 lat, 5-6 lon, 7 sog, 8 cog, 9 date.
func (s *nmeaState) applyRMC(f []string) (Fix, bool) {
	if len(f) < 10 {
		return Fix{}, false
	}
	if strings.TrimSpace(f[2]) != "A" {
		return Fix{}, false
	}
	if s.highAccuracy && !s.ggaOK {
		return Fix{}, false
	}
	lat, latOK := parseNMEALatLon(f[3], f[4])
	lon, lonOK := parseNMEALatLon(f[5], f[6])
	if !latOK || !lonOK {
		return Fix{}, false
	}
	return Fix{LatDeg: lat, LonDeg: lon, AccuracyM: s.accuracy()}, true
}

// GGA fields: 1 time, 2-3 lat, 4-5 lon, 6 quality, 7 sats, 8 hdop, 9 alt.
func (s *nmeaState) applyGGA(f []string) (Fix, bool) {
	if len(f) < 10 {
		return Fix{}, false
	}
	q := strings.TrimSpace(f[6])
	if q == "" || q == "0" {
		return Fix{}, false
	}
	s.ggaOK = true
	if hdop, ok := parseFloat(f[8]); ok {
		s.hdop = hdop
		s.hdopOK = true
	}
	lat, latOK := parseNMEALatLon(f[2], f[3])
	lon, lonOK := parseNMEALatLon(f[4], f[5])
	if !latOK || !lonOK {
		return Fix{}, false
	}
	return Fix{LatDeg: lat, LonDeg: lon, AccuracyM: s.accuracy()}, true
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseNMEALatLon parses ddmm.mmmm (lat) or dddmm.mmmm (lon) plus hemisphere.
func parseNMEALatLon(v string, hemi string) (float64, bool) {
	v = strings.TrimSpace(v)
	hemi = strings.ToUpper(strings.TrimSpace(hemi))
	if v == "" || (hemi != "N" && hemi != "S" && hemi != "E" && hemi != "W") {
		return 0, false
	}
	intPart := v
	if dot := strings.IndexByte(v, '.'); dot != -1 {
		intPart = v[:dot]
	}
	if len(intPart) < 3 {
		return 0, false
	}
	deg, err := strconv.Atoi(intPart[:len(intPart)-2])
	if err != nil {
		return 0, false
	}
	mins, err := strconv.ParseFloat(v[len(intPart)-2:], 64)
	if err != nil {
		return 0, false
	}
	dec := float64(deg) + mins/60.0
	if hemi == "S" || hemi == "W" {
		dec = -dec
	}
	return dec, true
}
