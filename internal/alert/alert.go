// Package alert sends operator alerts for failed ingestions through
// shoutrrr service URLs (Slack, Telegram, ntfy, email, ...).
package alert

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/shipwatch/shipwatch/internal/errors"
	"github.com/shipwatch/shipwatch/internal/logger"
	"github.com/shipwatch/shipwatch/internal/privacy"
)

const (
	componentName  = "alert"
	defaultTimeout = 10 * time.Second
)

// sender is satisfied by shoutrrr's router.
type sender interface {
	Send(message string, params *stypes.Params) []error
}

// Alerter delivers alerts to every configured service.
type Alerter struct {
	sender   sender
	instance string
	logger   logger.Logger
}

// Option configures an Alerter.
type Option func(*options)

type options struct {
	logger     logger.Logger
	timeout    time.Duration
	serviceLog io.Writer
}

// WithLogger sets the alerter logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTimeout bounds each delivery.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithServiceLog receives shoutrrr's own log output, which includes what
// the logger:// service delivers. Discarded by default.
func WithServiceLog(w io.Writer) Option {
	return func(o *options) { o.serviceLog = w }
}

// New validates urls and builds an alerter. instance prefixes every title.
func New(urls []string, instance string, opts ...Option) (*Alerter, error) {
	o := options{timeout: defaultTimeout, serviceLog: io.Discard}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Global().Module(componentName)
	}

	if len(urls) == 0 {
		return nil, errors.Newf("at least one alert URL is required").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}

	router, err := shoutrrr.CreateSender(slices.Clone(urls)...)
	if err != nil {
		// service URLs embed tokens
		return nil, errors.New(privacy.WrapError(err)).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if o.timeout > 0 {
		router.Timeout = o.timeout
	}
	router.SetLogger(log.New(o.serviceLog, "", 0))

	return &Alerter{sender: router, instance: instance, logger: o.logger}, nil
}

// Alert implements pipeline.Alerter. All services are attempted; the first
// failure is returned with URLs scrubbed.
func (a *Alerter) Alert(_ context.Context, title, message string) error {
	params := stypes.Params{}
	if a.instance != "" {
		title = fmt.Sprintf("[%s] %s", a.instance, title)
	}
	params.SetTitle(title)

	var firstErr error
	failed := 0
	for _, err := range a.sender.Send(message, &params) {
		if err == nil {
			continue
		}
		failed++
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return errors.New(privacy.WrapError(firstErr)).
			Component(componentName).
			Category(errors.CategoryNetwork).
			Context("failed_services", failed).
			Build()
	}

	a.logger.Debug("alert sent", logger.String("title", title))
	return nil
}
