package executor

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/msgrelay/internal/relay/queue"
	"github.com/autopeer-io/msgrelay/pkg/log"
)

func TestRenderGolden(t *testing.T) {
	c, err := BuiltinCatalog()
	require.NoError(t, err)
	assert.Equal(t, []string{ScriptSendAttachment, ScriptSendMessage}, c.Names())

	tests := []struct {
		name   string
		script string
		params map[string]string
	}{
		{
			name:   "send_message",
			script: ScriptSendMessage,
			params: map[string]string{
				"recipient": "+15551234567",
				"service":   "iMessage",
				"text":      "Hello \"world\"\nsecond line",
			},
		},
		{
			name:   "send_attachment_sms",
			script: ScriptSendAttachment,
			params: map[string]string{
				"recipient": "jane@example.com",
				"service":   "sms",
				"path":      `/tmp/msgrelay/spool/m1/photo "1".jpg`,
			},
		},
	}

	g := goldie.New(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := c.Render(tt.script, tt.params)
			require.NoError(t, err)
			g.Assert(t, tt.name, []byte(out))
		})
	}
}

func TestRenderRejectsMissingParams(t *testing.T) {
	c, err := BuiltinCatalog()
	require.NoError(t, err)

	_, err = c.Render(ScriptSendMessage, map[string]string{"recipient": "+1555"})
	assert.ErrorContains(t, err, `missing param "service"`)

	_, err = c.Render("reboot", nil)
	assert.ErrorContains(t, err, "unknown script")
}

func TestQuote(t *testing.T) {
	tests := map[string]string{
		``:            `""`,
		`plain`:       `"plain"`,
		`a "b" c`:     `"a \"b\" c"`,
		`back\slash`:  `"back\\slash"`,
		"tab\there":   `"tab\there"`,
		"one\ntwo":    `"one" & linefeed & "two"`,
		"crlf\r\nend": `"crlf" & return & "" & linefeed & "end"`,
		"emoji 👋":     `"emoji 👋"`,
	}

	for in, want := range tests {
		assert.Equal(t, want, Quote(in), "input %q", in)
	}
}

func TestLoadCatalogErrors(t *testing.T) {
	tests := []struct {
		name string
		fsys fstest.MapFS
		want string
	}{
		{
			name: "no manifest",
			fsys: fstest.MapFS{},
			want: "catalog.yaml",
		},
		{
			name: "missing file",
			fsys: fstest.MapFS{
				"catalog.yaml": {Data: []byte("scripts:\n  - name: ping\n    file: ping.tmpl\n")},
			},
			want: `script "ping"`,
		},
		{
			name: "duplicate",
			fsys: fstest.MapFS{
				"catalog.yaml": {Data: []byte("scripts:\n  - {name: ping, file: ping.tmpl}\n  - {name: ping, file: ping.tmpl}\n")},
				"ping.tmpl":    {Data: []byte("get name")},
			},
			want: "duplicate",
		},
		{
			name: "bad template",
			fsys: fstest.MapFS{
				"catalog.yaml": {Data: []byte("scripts:\n  - {name: ping, file: ping.tmpl}\n")},
				"ping.tmpl":    {Data: []byte("{{ .name ")},
			},
			want: `script "ping"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCatalog(tt.fsys)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestExecute(t *testing.T) {
	c, err := BuiltinCatalog()
	require.NoError(t, err)

	var scripts []string
	fail := errors.New("execution error: Messages got an error (-1728)")
	e := &Executor{
		catalog: c,
		timeout: time.Second,
		log:     log.NewNopLogger(),
		run: func(ctx context.Context, script string) (string, error) {
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			scripts = append(scripts, script)
			if len(scripts) == 3 {
				return "", fail
			}
			return "Messages", nil
		},
	}

	res, err := e.Execute(context.Background(), &queue.Request{Payload: queue.Payload{Script: PingScript}})
	require.NoError(t, err)
	assert.Equal(t, "Messages", res.Output)
	assert.Equal(t, PingScript, scripts[0])

	_, err = e.Execute(context.Background(), &queue.Request{Payload: queue.Payload{
		Template: ScriptSendMessage,
		Params:   map[string]string{"recipient": "+15551234567", "service": "iMessage", "text": "hi"},
	}})
	require.NoError(t, err)
	assert.Contains(t, scripts[1], `send "hi" to targetBuddy`)

	_, err = e.Execute(context.Background(), &queue.Request{Payload: queue.Payload{Script: "boom"}})
	assert.ErrorIs(t, err, fail)

	_, err = e.Execute(context.Background(), &queue.Request{Payload: queue.Payload{Template: "nope"}})
	assert.Error(t, err)
	assert.Len(t, scripts, 3, "a render error never reaches osascript")
}
