package observability

import (
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
)

const flushTimeout = 2 * time.Second

// tokenHeaders carry bearer and refresh tokens and never leave the process.
var tokenHeaders = []string{"Authorization", "Refresh", "Cookie"}

type SentryOptions struct {
	DSN         string
	Environment string
	Service     string
}

// InitSentry is a no-op when DSN is empty. Events are tagged with the
// service and stripped of token headers.
func InitSentry(opts SentryOptions) error {
	if opts.DSN == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Environment:      opts.Environment,
		Release:          "casetrack-" + opts.Service,
		ServerName:       opts.Service,
		AttachStacktrace: true,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return scrubEvent(event, opts.Service)
		},
	})
}

func scrubEvent(event *sentry.Event, service string) *sentry.Event {
	if event.Tags == nil {
		event.Tags = map[string]string{}
	}
	event.Tags["service"] = service

	if req := event.Request; req != nil {
		req.Cookies = ""
		for name := range req.Headers {
			for _, secret := range tokenHeaders {
				if http.CanonicalHeaderKey(name) == secret {
					req.Headers[name] = "[redacted]"
				}
			}
		}
	}
	return event
}

func FlushSentry() {
	sentry.Flush(flushTimeout)
}
