package relay

import (
	"strings"
	"sync/atomic"

	"PPRelay/global"
	"PPRelay/tools/errs"
)

type NamespaceState int32

const (
	NamespaceIdle NamespaceState = iota
	NamespaceListening
)

// Namespace groups sessions that share an endpoint and a default channel.
type Namespace struct {
	Name    string
	Channel string
	// AllowChannelOverride lets a connect request pick its own channel.
	AllowChannelOverride bool
	// SingleSession keeps one live session per user; a new connect replaces
	// the old one.
	SingleSession bool
	Handler       ResourceHandler

	state atomic.Int32
}

func NewNamespace(cfg global.NamespaceConfig, h ResourceHandler) *Namespace {
	if h == nil {
		h = NopHandler{}
	}
	return &Namespace{
		Name:                 cfg.Name,
		Channel:              cfg.Channel,
		AllowChannelOverride: cfg.AllowChannelOverride,
		SingleSession:        cfg.SingleSession,
		Handler:              h,
	}
}

func (n *Namespace) State() NamespaceState { return NamespaceState(n.state.Load()) }

func (n *Namespace) listen() bool {
	return n.state.CompareAndSwap(int32(NamespaceIdle), int32(NamespaceListening))
}

// ResolveChannel returns the channel a connection should subscribe to.
func (n *Namespace) ResolveChannel(requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested == "" || requested == n.Channel {
		return n.Channel, nil
	}
	if !n.AllowChannelOverride {
		return "", errs.ErrInvalidArgument.WithDetail("namespace " + n.Name + " does not allow channel override")
	}
	if strings.ContainsAny(requested, " \t\r\n*>") {
		return "", errs.ErrInvalidArgument.WithDetail("bad channel name " + requested)
	}
	return requested, nil
}
