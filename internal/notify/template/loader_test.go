package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLoaderDefaults(t *testing.T) {
	loader, err := NewLoader(zaptest.NewLogger(t))
	require.NoError(t, err)

	for _, tc := range []struct {
		typ  Type
		name string
	}{
		{Mail, "ip_change"},
		{Mail, "ip_change_subject"},
		{Webhook, "ip_change_summary"},
	} {
		_, err := loader.GetTemplate(tc.typ, tc.name)
		assert.NoError(t, err, "%s/%s", tc.typ, tc.name)
	}

	_, err = loader.GetTemplate(Mail, "agent_offline")
	assert.Error(t, err)
}

func TestLoaderCustomTemplate(t *testing.T) {
	loader, err := NewLoader(nil)
	require.NoError(t, err)

	require.NoError(t, loader.SetCustomTemplate(Mail, "ip_change_subject", "{{upper .}}"))
	out, err := loader.Render(Mail, "ip_change_subject", "changed")
	require.NoError(t, err)
	assert.Equal(t, "CHANGED", out)

	assert.Error(t, loader.SetCustomTemplate(Mail, "ip_change", "{{if}}"))

	out, err = loader.Render(Webhook, "ip_change_summary", map[string]string{
		"Machine": "attic pi", "OldExternal": "", "NewExternal": "1.2.3.4", "OldLocal": "", "NewLocal": "10.0.0.2",
	})
	require.NoError(t, err)
	assert.Equal(t, "Attic Pi: external none -> 1.2.3.4, local none -> 10.0.0.2", out)
}
