// Package roundrobin implements round-robin job placement, either as one
// rotation shared by every task in the cluster (Global) or as a separate
// rotation per task (PerTask).
package roundrobin

import (
	"fmt"

	"github.com/cuemby/gridbalance/pkg/balancer"
	"github.com/cuemby/gridbalance/pkg/config"
	"github.com/cuemby/gridbalance/pkg/events"
)

// Balancer is a round-robin balancer that follows membership and task events
type Balancer interface {
	balancer.Balancer
	events.Listener
}

var (
	_ Balancer = (*Global)(nil)
	_ Balancer = (*PerTask)(nil)
)

// New builds the round-robin balancer for mode. A Global balancer must be
// initialized with the membership view before it serves picks.
func New(mode config.RoundRobinMode) (Balancer, error) {
	switch mode {
	case config.RoundRobinGlobal, "":
		return NewGlobal(), nil
	case config.RoundRobinPerTask:
		return NewPerTask(), nil
	default:
		return nil, fmt.Errorf("unknown round-robin mode %q", mode)
	}
}
