// Package monitoring wraps the New Relic agent behind a no-op-by-default
// timer so pipeline stages and HTTP handlers can be instrumented without a
// license key being present.
package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/newrelic/go-agent/v3/integrations/nrlogrus"
	"github.com/newrelic/go-agent/v3/newrelic"
	log "github.com/sirupsen/logrus"

	"github.com/CMSgov/raf-app/conf"
)

// Timer provides methods for timing pipeline stages.
// Typical usage:
//
//	timer := monitoring.GetTimer()
//	defer timer.Close()
//	ctx = monitoring.NewContext(ctx, timer)
//	ctx, close := monitoring.NewParent(ctx, "score")
//	defer close()
//	closeMap := monitoring.NewChild(ctx, "map")
//	// diagnosis mapping
//	closeMap()
type Timer interface {
	// new creates a parent transaction and embeds it into the returned
	// context; children hang off it via newChild.
	new(parentCtx context.Context, name string) (ctx context.Context, close func())

	// newChild creates a segment under the transaction in the context.
	newChild(parentCtx context.Context, name string) (close func())

	// Close flushes pending metrics and releases agent resources.
	Close()
}

type key int

const timerKey key = 0

// NewContext returns a Context carrying the provided Timer.
func NewContext(ctx context.Context, t Timer) context.Context {
	return context.WithValue(ctx, timerKey, t)
}

// NewParent creates a parent timer under the Timer found in the context.
func NewParent(ctx context.Context, name string) (context.Context, func()) {
	return fromContext(ctx).new(ctx, name)
}

// NewChild creates a child timer from the parent found in the context.
func NewChild(ctx context.Context, name string) func() {
	return fromContext(ctx).newChild(ctx, name)
}

var defaultTimer = &noopTimer{}

func fromContext(ctx context.Context) Timer {
	t, ok := ctx.Value(timerKey).(Timer)
	if !ok {
		return defaultTimer
	}
	return t
}

// GetTimer builds a New Relic backed timer, falling back to a no-op timer
// when the agent cannot start or connect.
func GetTimer() Timer {
	app := newApplication()
	if app == nil {
		return &noopTimer{}
	}

	timeout := time.Duration(envInt("NEW_RELIC_CONNECTION_TIMEOUT_SECONDS", 30)) * time.Second
	if err := app.WaitForConnection(timeout); err != nil {
		log.Warnf("Failed to establish connection to New Relic server in %s. Default to no-op timer.", timeout)
		return &noopTimer{}
	}

	log.Info("Using New Relic backed timer.")
	return &timer{app}
}

var _ Timer = &timer{}

type timer struct {
	nr *newrelic.Application
}

func (t *timer) new(parentCtx context.Context, name string) (ctx context.Context, close func()) {
	txn := t.nr.StartTransaction(name)
	return newrelic.NewContext(parentCtx, txn), func() { txn.End() }
}

func (t *timer) newChild(parentCtx context.Context, name string) (close func()) {
	txn := newrelic.FromContext(parentCtx)
	if txn == nil {
		return noop
	}
	segment := txn.StartSegment(name)
	return func() { segment.End() }
}

func (t *timer) Close() {
	const shutdownTimeout = 30 * time.Second
	t.nr.Shutdown(shutdownTimeout)
}

var _ Timer = &noopTimer{}

type noopTimer struct{}

func (*noopTimer) new(ctx context.Context, name string) (context.Context, func()) { return ctx, noop }
func (*noopTimer) newChild(context.Context, string) func()                        { return noop }
func (*noopTimer) Close()                                                         {}

func noop() {}

var (
	monitorOnce sync.Once
	monitor     *apm
)

type apm struct {
	App *newrelic.Application
}

// GetMonitor returns the process-wide HTTP monitor. With no license key the
// monitor is inert and WrapHandler passes handlers through untouched.
func GetMonitor() *apm {
	monitorOnce.Do(func() {
		monitor = &apm{App: newApplication()}
	})
	return monitor
}

// WrapHandler instruments one route when the agent is live.
func (a *apm) WrapHandler(pattern string, h http.HandlerFunc) (string, http.HandlerFunc) {
	if a.App == nil {
		return pattern, h
	}
	return newrelic.WrapHandleFunc(a.App, pattern, h)
}

func newApplication() *newrelic.Application {
	license := conf.GetEnv("NEW_RELIC_LICENSE_KEY")
	if license == "" {
		return nil
	}

	target := conf.GetEnv("DEPLOYMENT_TARGET")
	if target == "" {
		target = "local"
	}
	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(fmt.Sprintf("RAF-%s", target)),
		newrelic.ConfigLicense(license),
		newrelic.ConfigEnabled(true),
		nrlogrus.ConfigStandardLogger(),
		func(cfg *newrelic.Config) {
			cfg.HighSecurity = true
		},
	)
	if err != nil {
		log.Warnf("Failed to instantiate New Relic application: %s", err.Error())
		return nil
	}
	return app
}

func envInt(name string, fallback int) int {
	if v, err := strconv.Atoi(conf.GetEnv(name)); err == nil {
		return v
	}
	return fallback
}
