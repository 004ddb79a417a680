package alert

import (
	"bytes"
	"fmt"
	"testing"

	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipwatch/shipwatch/internal/errors"
	"github.com/shipwatch/shipwatch/internal/logger"
)

type fakeSender struct {
	errs    []error
	message string
	title   string
}

func (f *fakeSender) Send(message string, params *stypes.Params) []error {
	f.message = message
	if params != nil {
		f.title, _ = params.Title()
	}
	return f.errs
}

func TestNewRequiresURLs(t *testing.T) {
	_, err := New(nil, "harbor-1", WithLogger(logger.NewDiscardLogger()))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestNewRejectsUnknownService(t *testing.T) {
	_, err := New([]string{"carrierpigeon://token@coop"}, "harbor-1", WithLogger(logger.NewDiscardLogger()))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "token@coop")
}

func TestAlertThroughLoggerService(t *testing.T) {
	var out bytes.Buffer
	a, err := New([]string{"logger://"}, "harbor-1",
		WithLogger(logger.NewDiscardLogger()),
		WithServiceLog(&out))
	require.NoError(t, err)

	require.NoError(t, a.Alert(t.Context(), "Ingestion failed while processing", "gpt exited with status 1"))
	assert.Contains(t, out.String(), "gpt exited with status 1")
}

func TestAlertPrefixesInstance(t *testing.T) {
	fs := &fakeSender{}
	a := &Alerter{sender: fs, instance: "harbor-1", logger: logger.NewDiscardLogger()}

	require.NoError(t, a.Alert(t.Context(), "Ingestion failed", "boom"))
	assert.Equal(t, "[harbor-1] Ingestion failed", fs.title)
	assert.Equal(t, "boom", fs.message)
}

func TestAlertReturnsScrubbedFailure(t *testing.T) {
	fs := &fakeSender{errs: []error{nil, fmt.Errorf("post https://hooks.example.com/T000/SECRET: 500")}}
	a := &Alerter{sender: fs, logger: logger.NewDiscardLogger()}

	err := a.Alert(t.Context(), "t", "m")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET")
	assert.False(t, errors.IsBusinessOutcome(err))
}
