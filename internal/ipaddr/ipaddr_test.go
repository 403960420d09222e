package ipaddr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestIsAddress(t *testing.T) {
	valid := []string{
		"1.2.3.4",
		"203.0.113.7",
		"0.0.0.0",
		"255.255.255.255",
		"999.999.999.999", // shape only, no range check
		"001.02.3.004",
	}
	for _, s := range valid {
		assert.True(t, IsAddress(s), s)
	}

	invalid := []string{
		"",
		"1.2.3",
		"1.2.3.4.5",
		"1234.1.1.1",
		"a.b.c.d",
		" 1.2.3.4",
		"1.2.3.4\n",
		"1.2.3.4/24",
		"::1",
	}
	for _, s := range invalid {
		assert.False(t, IsAddress(s), s)
	}
}

func TestExtractIPv4(t *testing.T) {
	testCases := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{"plain", "203.0.113.7\n", "203.0.113.7", true},
		{"sentence", "Your IP is 203.0.113.7 today", "203.0.113.7", true},
		{"html", "<html><body>Current IP Address: 198.51.100.23</body></html>", "198.51.100.23", true},
		{"first wins", "1.1.1.1 and 2.2.2.2", "1.1.1.1", true},
		{"no digits", "<html><title>oops</title></html>", "", false},
		{"version string", "v1.2.3 build", "", false},
		{"empty", "", "", false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractIPv4(tc.text)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExtractIPv4StrictOctets(t *testing.T) {
	// the extractor never returns an out-of-range octet
	_, ok := ExtractIPv4("999.999.999.999")
	assert.False(t, ok)

	got, ok := ExtractIPv4("addr=300.1.2.3")
	require.True(t, ok)
	assert.Equal(t, "00.1.2.3", got)
}

func TestParseBlacklist(t *testing.T) {
	assert.Equal(t, Blacklist{"192.168.*.*", "10.*.*.*"}, ParseBlacklist(DefaultBlacklist))
	assert.Equal(t, Blacklist{"a", "b"}, ParseBlacklist(" a , ,b,"))
	assert.Empty(t, ParseBlacklist(""))
	assert.Equal(t, DefaultBlacklist, ParseBlacklist(DefaultBlacklist).String())
}

func TestBlacklistMatch(t *testing.T) {
	bl := ParseBlacklist("192.168.*.*,10.*.*.*")

	pattern, ok := bl.Match("192.168.1.5")
	require.True(t, ok)
	assert.Equal(t, "192.168.*.*", pattern)

	pattern, ok = bl.Match("10.0.0.1")
	require.True(t, ok)
	assert.Equal(t, "10.*.*.*", pattern)

	_, ok = bl.Match("203.0.113.7")
	assert.False(t, ok)

	// single character wildcard
	_, ok = ParseBlacklist("203.0.113.?").Match("203.0.113.7")
	assert.True(t, ok)
	_, ok = ParseBlacklist("203.0.113.?").Match("203.0.113.77")
	assert.False(t, ok)

	// malformed patterns never match
	_, ok = ParseBlacklist("[").Match("[")
	assert.False(t, ok)
}

func TestIsBlacklisted(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	logger := zap.New(core)

	assert.True(t, IsBlacklisted("192.168.1.5", ParseBlacklist("192.168.*.*,10.*.*.*"), logger))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "192.168.*.*", entry.ContextMap()["pattern"])
	assert.Equal(t, "192.168.1.5", entry.ContextMap()["ip"])

	assert.False(t, IsBlacklisted("203.0.113.7", ParseBlacklist("192.168.*.*"), logger))
	assert.False(t, IsBlacklisted("192.168.1.5", nil, logger))
	assert.False(t, IsBlacklisted("192.168.1.5", Blacklist{}, nil))
	assert.Equal(t, 1, logs.Len())
}

func TestBlacklistValidate(t *testing.T) {
	assert.NoError(t, ParseBlacklist(DefaultBlacklist).Validate())

	err := ParseBlacklist("10.*.*.*,[").Validate()
	var perr *PatternError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "[", perr.Pattern)
}
