package testflows

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowsmith/internal/flow/flowtest"
)

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFinder_FindsAcrossLocations(t *testing.T) {
	root := t.TempDir()
	write(t, root, "appmixer/slack/test-flow-send.json", flowtest.ValidJSON)
	// Same flow name in a later location is ignored.
	write(t, root, "appmixer/slack/artifacts/test-flows/test-flow-send-copy.json", flowtest.ValidJSON)
	write(t, root, "appmixer/slack/ai-artifacts/test-flows/test-flow-list.json",
		`{"name":"E2E Slack list","flow":{}}`)
	write(t, root, "appmixer/slack/artifacts/ai-artifacts/test-flows/test-flow-nameless.json", `{"flow":{}}`)
	write(t, root, "appmixer/slack/artifacts/test-flows/test-flow-broken.json", `{"name":`)
	write(t, root, "appmixer/slack/artifacts/test-flows/test-flow-noflow.json", `{"name":"E2E x"}`)
	write(t, root, "appmixer/slack/artifacts/test-flows/plan.json", flowtest.ValidJSON)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "appmixer", "gmail"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "appmixer", "node_modules"), 0o755))

	f, err := NewFinder(root, nil)
	require.NoError(t, err)

	connectors, err := f.Connectors()
	require.NoError(t, err)
	assert.Equal(t, []string{"gmail", "slack"}, connectors)

	flows, err := f.Find("slack")
	require.NoError(t, err)
	var names, paths []string
	for _, lf := range flows {
		names = append(names, lf.Name)
		paths = append(paths, lf.Path)
		assert.Equal(t, "slack", lf.Connector)
		assert.NotNil(t, lf.Document)
	}
	assert.Equal(t, []string{"E2E Slack send channel message", "E2E Slack list", "test-flow-nameless.json"}, names)
	assert.Equal(t, filepath.Join("appmixer", "slack", "test-flow-send.json"), paths[0])

	empty, err := f.Find("gmail")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFinder_RejectsBadConnectors(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "appmixer"), 0o755))
	f, err := NewFinder(root, nil)
	require.NoError(t, err)

	for _, name := range []string{"", "..", "a/b", "missing"} {
		_, err := f.Find(name)
		assert.Error(t, err, name)
	}
}
