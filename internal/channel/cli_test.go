package channel

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, webhookURL, input string) (string, *Mounts) {
	t.Helper()
	ms := NewMounts(MountOptions{Base: testConfig(webhookURL), Logger: testLogger()})
	var out bytes.Buffer
	cli := NewCLI(CLIConfig{
		Mounts: ms,
		Logger: testLogger(),
		In:     strings.NewReader(input),
		Out:    &out,
	})
	require.NoError(t, cli.Start(context.Background()))
	return out.String(), ms
}

func TestCLI_AutoStartsAndEchoes(t *testing.T) {
	backend, hits := newMockBackend(t)
	out, ms := runCLI(t, backend.URL+"/webhook", "hello\n/quit\n")

	assert.Contains(t, out, "Welcome! How can I help you today?")
	assert.Contains(t, out, "Echo: hello")
	assert.EqualValues(t, 2, hits.Load())
	assert.NotEmpty(t, ms.Get(CLIVisitor).Session())
}

func TestCLI_NewStartsFreshSession(t *testing.T) {
	backend, hits := newMockBackend(t)
	out, _ := runCLI(t, backend.URL+"/webhook", "/new\n/new\n")

	assert.Equal(t, 2, strings.Count(out, "Welcome! How can I help you today?"))
	assert.EqualValues(t, 2, hits.Load())
}

func TestCLI_Unconfigured(t *testing.T) {
	out, _ := runCLI(t, "", "hi\n")
	assert.Contains(t, out, "Chat service is currently unavailable (webhook not configured).")
	assert.Contains(t, out, "Cannot send message: Chat service is not configured.")
}

func TestCLI_BlankLinesIgnored(t *testing.T) {
	backend, hits := newMockBackend(t)
	_, _ = runCLI(t, backend.URL+"/webhook", "\n   \n")
	assert.Zero(t, hits.Load())
}

func TestCLI_Name(t *testing.T) {
	ms := NewMounts(MountOptions{Base: testConfig(""), Logger: testLogger()})
	cli := NewCLI(CLIConfig{Mounts: ms, In: strings.NewReader(""), Out: &bytes.Buffer{}})
	assert.Equal(t, "cli", cli.Name())
	assert.NoError(t, cli.Stop())
}
