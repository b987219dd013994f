package reporting

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/getsentry/sentry-go"
)

var hostRx = regexp.MustCompile(`\[:{0,2}([0-9a-f]{0,4}:?){1,8}\]:\d+|\d{1,3}(\.\d{1,3}){3}:\d+`)
var idRx = regexp.MustCompile(`:\d+(:|\b)`)

// sanitizeError strips addresses and entity ids so errors that only differ by
// id group into one Sentry issue.
func sanitizeError(err string) string {
	err = hostRx.ReplaceAllString(err, "<host>")
	err = idRx.ReplaceAllString(err, ":<id>$1")
	return err
}

type SentryOptions struct {
	DSN              string
	Environment      string
	TracesSampleRate float64
}

// SentryReporter captures reports as Sentry exceptions.
type SentryReporter struct{}

// InitSentry initialises the global Sentry client. The returned flush func must
// be called before the process exits.
func InitSentry(opts SentryOptions) (*SentryReporter, func(), error) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Environment:      opts.Environment,
		EnableTracing:    opts.TracesSampleRate > 0,
		TracesSampleRate: opts.TracesSampleRate,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("reporting: sentry init: %w", err)
	}
	flush := func() {
		sentry.Flush(5 * time.Second)
	}
	return &SentryReporter{}, flush, nil
}

func (r *SentryReporter) Report(ctx context.Context, err error, extras map[string]string) {
	if err == nil {
		return
	}
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		for key, value := range extras {
			scope.SetExtra(key, value)
		}
		scope.SetFingerprint([]string{"{{ default }}", sanitizeError(err.Error())})
		hub.CaptureException(err)
	})
}
