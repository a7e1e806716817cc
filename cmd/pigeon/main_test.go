package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(f func()) string {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	defer func() { os.Stdout = old }()

	f()
	_ = w.Close()
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

func TestRootCmd_Version(t *testing.T) {
	t.Cleanup(func() { rootCmd.SetArgs([]string{}) })
	rootCmd.SetArgs([]string{"version"})
	out := captureOutput(func() { _ = rootCmd.Execute() })
	assert.Contains(t, out, "pigeon version")
}

func TestRootCmd_Help(t *testing.T) {
	t.Cleanup(func() { rootCmd.SetArgs([]string{}) })
	rootCmd.SetArgs([]string{"--help"})
	assert.NoError(t, rootCmd.Execute())
}

func TestTestCommand_SucceedsWithTempConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "pigeon.yaml")
	yaml := "port: 9000\nsession:\n  id_bits: 16\ndelivery:\n  send_timeout: 500ms\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o644))

	t.Cleanup(func() { rootCmd.SetArgs([]string{}) })
	rootCmd.SetArgs([]string{"test", "--conf", cfgPath})
	out := captureOutput(func() { assert.NoError(t, rootCmd.Execute()) })
	assert.Contains(t, out, "test is successful")
	assert.Contains(t, out, "id_bits=16")
}

func TestTestCommand_FailsWithInvalidConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "pigeon.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("session:\n  id_bits: 12\n"), 0o644))

	t.Cleanup(func() { rootCmd.SetArgs([]string{}) })
	rootCmd.SetArgs([]string{"test", "--conf", cfgPath})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session.id_bits")
}

func TestSendCommand(t *testing.T) {
	var gotPath, gotTarget, gotMessage string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotPath = r.URL.Path
		gotTarget = r.PostForm.Get("target_id")
		gotMessage = r.PostForm.Get("message")
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	t.Cleanup(func() { rootCmd.SetArgs([]string{}) })
	rootCmd.SetArgs([]string{"send", "--server", ts.URL, "1", "2", "hello there"})
	out := captureOutput(func() { assert.NoError(t, rootCmd.Execute()) })

	assert.Equal(t, "/send_msg/1", gotPath)
	assert.Equal(t, "2", gotTarget)
	assert.Equal(t, "hello there", gotMessage)
	assert.True(t, strings.Contains(out, "delivered"))
}

func TestSendCommand_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	t.Cleanup(func() { rootCmd.SetArgs([]string{}) })
	rootCmd.SetArgs([]string{"send", "--server", ts.URL, "1", "2", "x"})
	assert.Error(t, rootCmd.Execute())
}

func TestStopCommand_MissingPIDFile(t *testing.T) {
	t.Cleanup(func() {
		rootCmd.SetArgs([]string{})
		pidFile = ""
	})
	rootCmd.SetArgs([]string{"stop", "--pid", filepath.Join(t.TempDir(), "none.pid")})
	assert.Error(t, rootCmd.Execute())
}

func TestCommandStructure(t *testing.T) {
	found := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		found[cmd.Name()] = true
	}
	for _, expected := range []string{"version", "test", "stop", "send", "listen"} {
		assert.True(t, found[expected], "expected command %s", expected)
	}

	flags := rootCmd.PersistentFlags()
	assert.NotNil(t, flags.Lookup("conf"))
	assert.NotNil(t, flags.Lookup("pid"))

	var send *cobra.Command
	for _, cmd := range rootCmd.Commands() {
		if cmd.Name() == "send" {
			send = cmd
		}
	}
	require.NotNil(t, send)
	assert.NotNil(t, send.Flags().Lookup("server"))
}
