package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClient_ScriptsPerRole(t *testing.T) {
	f := NewFakeClient().
		Script("reviewer", `{"errors":[]}`, `{"errors":[1]}`).
		ScriptReplies("generator", FakeReply{Err: errors.New("quota")}, FakeReply{Text: "fixed"})

	rev := WithRole(context.Background(), "reviewer")
	gen := WithRole(context.Background(), "generator")

	out, err := f.Generate(rev, Request{User: "a"})
	require.NoError(t, err)
	assert.Equal(t, `{"errors":[]}`, out)

	_, err = f.Generate(gen, Request{})
	assert.EqualError(t, err, "quota")
	out, err = f.Generate(gen, Request{})
	require.NoError(t, err)
	assert.Equal(t, "fixed", out)

	// The last reply repeats.
	for i := 0; i < 2; i++ {
		out, err = f.Generate(rev, Request{})
		require.NoError(t, err)
		assert.Equal(t, `{"errors":[1]}`, out)
	}

	out, err = f.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "{}", out)

	assert.Len(t, f.Calls("reviewer"), 3)
	assert.Len(t, f.Calls(""), 6)
	assert.Equal(t, "a", f.Calls("reviewer")[0].Request.User)
}

func TestFakeClient_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewFakeClient().Generate(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}
