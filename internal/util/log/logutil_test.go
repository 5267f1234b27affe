package logutil_test

import (
	"bytes"
	"flag"
	"strings"
	"testing"

	"github.com/lthibault/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	logutil "github.com/wetware/rpcpool/internal/util/log"
)

func context(t *testing.T, buf *bytes.Buffer, args ...string) *cli.Context {
	t.Helper()

	app := &cli.App{ErrWriter: buf}
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range logutil.Flags() {
		require.NoError(t, f.Apply(set))
	}
	require.NoError(t, set.Parse(args))

	return cli.NewContext(app, set, nil)
}

func TestNew(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	c := context(t, &buf, "-loglvl", "debug")

	logutil.New(c).Debug("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "version=")
}

func TestWithLevel(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		args  []string
		debug bool
	}{
		{args: nil},
		{args: []string{"-loglvl", "t"}, debug: true},
		{args: []string{"-loglvl", "d"}, debug: true},
		{args: []string{"-loglvl", "warning"}},
		{args: []string{"-logfmt", "none", "-loglvl", "debug"}},
	} {
		var buf bytes.Buffer
		c := context(t, &buf, tt.args...)

		logger := log.New(
			logutil.WithLevel(c),
			logutil.WithFormat(c),
			log.WithWriter(&buf))
		logger.Debug("visible")

		assert.Equal(t, tt.debug, strings.Contains(buf.String(), "visible"), "%v", tt.args)
	}
}

func TestWithFormat_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	c := context(t, &buf, "-logfmt", "json")

	logutil.New(c).Info("structured")
	assert.Contains(t, buf.String(), `"msg":"structured"`)
}
