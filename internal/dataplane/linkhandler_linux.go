package dataplane

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"

	"linkmesh/internal/epollset"
	"linkmesh/internal/linkset"
	"linkmesh/internal/metrics"
	"linkmesh/internal/registry"
)

// pipeReader is the minimal surface the link-handler needs from the
// notification pipe.
type pipeReader interface {
	ReadFd() int
	ReadNodeID() (id uint16, ok bool, err error)
}

// LinkHandler is the link-handler worker (spec.md §4.7): the registry's
// sole writer. It drains node id notifications from the pipe and rebuilds
// the notified host's active-link vector from scratch.
type LinkHandler struct {
	pipe   pipeReader
	reg    *registry.Registry
	poller *epollset.Set
	logger *slog.Logger
}

// NewLinkHandler creates the link-handler worker and registers the pipe's
// read end on its own epoll set.
func NewLinkHandler(pipe pipeReader, reg *registry.Registry, logger *slog.Logger) (*LinkHandler, error) {
	poller, err := epollset.New()
	if err != nil {
		return nil, fmt.Errorf("dataplane: link-handler epoll: %w", err)
	}
	if err := poller.Add(pipe.ReadFd(), unix.EPOLLIN); err != nil {
		poller.Close()
		return nil, fmt.Errorf("dataplane: register notification pipe: %w", err)
	}
	return &LinkHandler{pipe: pipe, reg: reg, poller: poller, logger: logger}, nil
}

// Close releases the link-handler's epoll set.
func (lh *LinkHandler) Close() error { return lh.poller.Close() }

// Run blocks processing notifications until ctx is cancelled.
func (lh *LinkHandler) Run(ctx context.Context) error {
	events := make([]unix.EpollEvent, 4)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		ready, err := lh.poller.Wait(events, pollTimeoutMS)
		if err != nil {
			return fmt.Errorf("dataplane: link-handler epoll wait: %w", err)
		}
		for range ready {
			lh.drain()
		}
	}
}

func (lh *LinkHandler) drain() {
	for {
		id, ok, err := lh.pipe.ReadNodeID()
		if err != nil {
			lh.logger.Debug("notification pipe read failed", "error", err)
			return
		}
		if !ok {
			return
		}
		lh.recompute(registry.NodeID(id))
	}
}

func (lh *LinkHandler) recompute(id registry.NodeID) {
	lh.reg.Lock()
	defer lh.reg.Unlock()

	host := lh.reg.LookupLocked(id)
	if host == nil {
		return
	}
	linkset.Recompute(host)
	metrics.ActiveLinkCount.WithLabelValues(fmt.Sprint(host.ID)).Set(float64(len(host.ActiveLinks())))
}
