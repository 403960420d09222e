package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserAgent(t *testing.T) {
	old := Version
	Version = "1.2.0"
	t.Cleanup(func() { Version = old })

	assert.Equal(t, "ipwatch/1.2.0", UserAgent(""))
	assert.Equal(t, "ipwatch/1.2.0 (webhook)", UserAgent("webhook"))
}

func TestInfoString(t *testing.T) {
	info := GetInfo()
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Contains(t, info.String(), "ipwatch "+Version+" (commit ")
	assert.Contains(t, info.String(), info.Platform)
}
