package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/anatolykoptev/go-treeverse"
	"github.com/anatolykoptev/go-treeverse/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTweetIDFromArg(t *testing.T) {
	tests := []struct{ in, want string }{
		{"1790000000000000000", "1790000000000000000"},
		{" 42 ", "42"},
		{"https://x.com/jack/status/20", "20"},
		{"https://twitter.com/jack/status/20?s=20", "20"},
		{"https://mobile.twitter.com/i/web/statuses/123456/photo/1", "123456"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tweetIDFromArg(tt.in), tt.in)
	}
}

func sampleTree(t *testing.T) *tree.Tree {
	t.Helper()
	at := time.Now().Add(-2 * time.Hour)
	tr, err := tree.Build(&treeverse.Batch{RootID: "1", Tweets: []*treeverse.Tweet{
		{ID: "1", Handle: "alice", BodyText: "root\ntext", CreatedAt: at},
		{ID: "2", ParentID: "1", Handle: "bob", BodyText: "reply", CreatedAt: at.Add(2 * time.Minute)},
	}})
	require.NoError(t, err)
	_, err = tr.Merge(&treeverse.Batch{RootID: "2"}, "2")
	require.NoError(t, err)
	return tr
}

func TestWrite_Feed(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, write(&buf, sampleTree(t), "feed"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "@alice · 2 hours ago"))
	assert.True(t, strings.HasSuffix(lines[0], "(+)"))
	assert.Equal(t, "  root text", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "  @bob · "))
	assert.True(t, strings.HasSuffix(lines[2], "[<5m]"), lines[2])
}

func TestWrite_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, write(&buf, sampleTree(t), "json"))

	var rows []jsonNode
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "https://x.com/bob/status/2", rows[1].URL)
	assert.Equal(t, "1", rows[1].ParentID)
	assert.True(t, rows[0].HasMore)
	assert.False(t, rows[1].HasMore)
}

func TestWrite_Mermaid(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, write(&buf, sampleTree(t), "mermaid"))
	assert.True(t, strings.HasPrefix(buf.String(), "```mermaid\ngraph TD\n"))
	assert.Contains(t, buf.String(), "1 --> 2")

	assert.Error(t, write(&buf, sampleTree(t), "svg"))
}
