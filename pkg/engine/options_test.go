package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roboricindustries/raycon-chatsync/pkg/message"
)

func TestParseOptions(t *testing.T) {
	o, err := ParseOptions([]byte(`
typing_idle: 5s
receipt_batch_window: 250ms
translate_incoming: true
topic_prefix: "dm/"
`))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, o.TypingIdle)
	assert.Equal(t, 250*time.Millisecond, o.ReceiptBatchWindow)
	assert.True(t, o.TranslateIncoming)
	assert.Equal(t, "dm/", o.TopicPrefix)

	// untouched fields keep their defaults
	assert.Equal(t, time.Second, o.TypingDebounce)
	assert.Equal(t, 5*time.Second, o.PublishTimeout)
	assert.Equal(t, 15*time.Second, o.PersistTimeout)
}

func TestParseOptionsRejectsBadValues(t *testing.T) {
	_, err := ParseOptions([]byte("typing_idle: -1s"))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = ParseOptions([]byte("receipt_batch_window: -5ms\npersist_timeout: 0s"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "receipt_batch_window")
	assert.Contains(t, err.Error(), "persist_timeout")

	_, err = ParseOptions([]byte("typing_idle: soon"))
	assert.Error(t, err)
}

func TestLoadOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("typing_debounce: 500ms\n"), 0o600))

	o, err := LoadOptions(path)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, o.TypingDebounce)

	_, err = LoadOptions(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestSendErrorMatchesLeg(t *testing.T) {
	cause := errors.New("refused")
	tr := &SendError{TempID: "T1", Failure: message.FailureTransport, Err: cause}
	assert.ErrorIs(t, tr, ErrTransport)
	assert.NotErrorIs(t, tr, ErrPersistence)
	assert.ErrorIs(t, tr, cause)
	assert.Contains(t, tr.Error(), "T1")

	ps := &SendError{TempID: "T2", Failure: message.FailurePersistence, Err: cause}
	assert.ErrorIs(t, ps, ErrPersistence)
	assert.NotErrorIs(t, ps, ErrTransport)
}
