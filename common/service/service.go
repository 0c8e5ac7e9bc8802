// Package service provides the background-service scaffold used by the
// GCache service thread (§5): a uniform Start/Stop/Quit/Cleanup
// lifecycle so a service can be started, interrupted and tested in
// isolation.
package service

import (
	"context"

	"github.com/codership-go/galera-cert/common/logging"
)

// CleanupAble provides a Cleanup method.
type CleanupAble interface {
	Cleanup()
}

// BackgroundService is a long-running worker with a uniform lifecycle.
type BackgroundService interface {
	Name() string
	Start() error
	Stop()
	Quit() <-chan struct{}

	CleanupAble
}

// BaseBackgroundService is an embeddable base implementation of
// BackgroundService; concrete services override Start (and Cleanup, if
// they hold resources beyond the quit channel).
type BaseBackgroundService struct {
	name        string
	quitChannel chan struct{}
	Logger      *logging.Logger
}

func NewBaseBackgroundService(name string) *BaseBackgroundService {
	return &BaseBackgroundService{
		name:        name,
		quitChannel: make(chan struct{}),
		Logger:      logging.GetLogger(name),
	}
}

func (b *BaseBackgroundService) Name() string { return b.name }

func (b *BaseBackgroundService) Start() error { return nil }

// Stop closes the quit channel. Safe to call at most once per service
// instance; concrete services that need idempotent Stop should guard with
// a sync.Once.
func (b *BaseBackgroundService) Stop() { close(b.quitChannel) }

func (b *BaseBackgroundService) Quit() <-chan struct{} { return b.quitChannel }

func (b *BaseBackgroundService) Cleanup() {}

type contextCleanup struct {
	cancel context.CancelFunc
}

func (c *contextCleanup) Cleanup() { c.cancel() }

// NewContextCleanup returns a child context plus a CleanupAble that
// cancels it, for services that drive their worker loop off ctx.Done()
// rather than polling Quit() directly.
func NewContextCleanup(parent context.Context) (context.Context, CleanupAble) {
	ctx, cancel := context.WithCancel(parent)
	return ctx, &contextCleanup{cancel}
}
