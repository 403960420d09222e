package servers

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// DisplayLayout is the expiryDisplay format written to the cache file
const DisplayLayout = "2006-01-02T15:04:05"

// Snapshot represents a cached service list
type Snapshot struct {
	Servers       []string
	Expiry        time.Time
	ExpiryDisplay string
}

// cacheFile is the on-disk layout. Pointer fields tell "missing" and
// "null" apart from zero values.
type cacheFile struct {
	Expiry        *float64 `json:"expiry"`
	ExpiryDisplay *string  `json:"expiryDisplay"`
	Servers       []string `json:"servers"`
}

// NewSnapshot wraps servers with the given expiry
func NewSnapshot(servers []string, expiry time.Time) *Snapshot {
	list := make([]string, len(servers))
	copy(list, servers)
	return &Snapshot{
		Servers:       list,
		Expiry:        expiry,
		ExpiryDisplay: expiry.Format(DisplayLayout),
	}
}

// Expired reports whether the snapshot is unusable at now
func (s *Snapshot) Expired(now time.Time) bool {
	return s == nil || len(s.Servers) == 0 || !s.Expiry.After(now)
}

// MarshalJSON encodes the snapshot in the cache file layout
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	expiry := float64(s.Expiry.UnixNano()) / float64(time.Second)
	display := s.ExpiryDisplay
	return json.Marshal(cacheFile{
		Expiry:        &expiry,
		ExpiryDisplay: &display,
		Servers:       s.Servers,
	})
}

// errMalformed marks structural problems in a cache file
var errMalformed = errors.New("malformed cache file")

// decodeSnapshot parses a cache file. Every structural violation is
// reported as errMalformed.
func decodeSnapshot(data []byte) (*Snapshot, error) {
	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}

	switch {
	case f.Expiry == nil:
		return nil, fmt.Errorf("%w: missing expiry", errMalformed)
	case f.ExpiryDisplay == nil:
		return nil, fmt.Errorf("%w: missing expiryDisplay", errMalformed)
	case f.Servers == nil:
		return nil, fmt.Errorf("%w: missing servers", errMalformed)
	case math.IsNaN(*f.Expiry) || math.IsInf(*f.Expiry, 0):
		return nil, fmt.Errorf("%w: invalid expiry", errMalformed)
	}

	list := make([]string, 0, len(f.Servers))
	for _, s := range f.Servers {
		if s = strings.TrimSpace(s); s != "" {
			list = append(list, s)
		}
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: empty servers", errMalformed)
	}

	sec, frac := math.Modf(*f.Expiry)
	return &Snapshot{
		Servers:       list,
		Expiry:        time.Unix(int64(sec), int64(frac*float64(time.Second))),
		ExpiryDisplay: *f.ExpiryDisplay,
	}, nil
}
