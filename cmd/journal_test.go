// File: cmd/journal_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJournal(t *testing.T, path string, lines ...string) {
	t.Helper()
	var b bytes.Buffer
	for _, l := range lines {
		b.WriteString(l + "\n")
	}
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0o644))
}

func TestJournalPrintsTail(t *testing.T) {
	env := newTestEnv(t, "")
	writeJournal(t, env.journal, "Opened the login page.", "Logged in.", "Liked the post.", "Moved to the next post.")

	out, err := env.execute(t, "journal", "-n", "2")
	require.NoError(t, err)
	assert.Equal(t, "Liked the post.\nMoved to the next post.\n", out)

	out, err = env.execute(t, "journal", "-n", "0")
	require.NoError(t, err)
	assert.Equal(t, "Opened the login page.\nLogged in.\nLiked the post.\nMoved to the next post.\n", out)
}

func TestJournalMissingFile(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.execute(t, "journal")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open journal")
}

func TestFollowJournal(t *testing.T) {
	env := newTestEnv(t, "")
	pollJournal = true
	writeJournal(t, env.journal, "Logged in.")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- followJournal(ctx, out, env.journal) }()

	// Polling starts from the end, so keep appending until a line shows up.
	f, err := os.OpenFile(env.journal, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()
	require.Eventually(t, func() bool {
		_, _ = f.WriteString("Liked the post.\n")
		return bytes.Contains([]byte(out.String()), []byte("Liked the post."))
	}, 5*time.Second, 100*time.Millisecond)
	assert.NotContains(t, out.String(), "Logged in.", "existing lines are not replayed")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("follow did not stop")
	}
}
