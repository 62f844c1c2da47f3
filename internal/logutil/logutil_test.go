package logutil

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetVerbose(false)
	})

	SetVerbose(false)
	Debugf("hidden %d", 1)
	assert.Empty(t, buf.String())

	SetVerbose(true)
	assert.True(t, Verbose())
	Debugf("shown %d", 2)
	assert.Contains(t, buf.String(), "shown 2")

	buf.Reset()
	SetLevel("warn")
	assert.False(t, Verbose())
	Infof("quiet")
	Warnf("loud")
	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "loud")

	SetLevel("nonsense")
	Warnf("still warn")
	assert.Contains(t, buf.String(), "still warn")
}

func TestWithAndJSON(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetJSON(true)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetJSON(false)
	})
	SetLevel("info")

	With("platform", "mastodon", "attempt", 2).Infof("retrying")
	out := buf.String()
	assert.Contains(t, out, `"platform":"mastodon"`)
	assert.Contains(t, out, `"msg":"retrying"`)
}
