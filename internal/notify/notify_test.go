package notify

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vision-annotator/internal/apperr"
)

func TestErrorDropsConcurrency(t *testing.T) {
	rec := &Recorder{}

	Error(rec, "Sync", apperr.New(apperr.Concurrency, "stale load"))
	Error(rec, "Save", apperr.Wrap(apperr.Network, errors.New("timeout")))
	Error(rec, "Nothing", nil)

	errs := rec.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "Save", errs[0].Title)
	assert.Equal(t, "timeout", errs[0].Message)
}

func TestFanoutAndLogger(t *testing.T) {
	logger, hook := test.NewNullLogger()
	rec := &Recorder{}
	n := Fanout{NewLogger(logger), rec, nil}

	Success(n, "Saved", "3 annotations")
	Error(n, "Delete", errors.New("boom"))

	assert.Len(t, rec.Toasts(), 2)
	require.Len(t, hook.AllEntries(), 2)
	assert.Equal(t, logrus.InfoLevel, hook.AllEntries()[0].Level)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	rec.Reset()
	assert.Empty(t, rec.Toasts())
}
