package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cuemby/gridbalance/pkg/agent"
	"github.com/cuemby/gridbalance/pkg/balancer/adaptive"
	"github.com/cuemby/gridbalance/pkg/balancer/roundrobin"
	"github.com/cuemby/gridbalance/pkg/config"
	"github.com/cuemby/gridbalance/pkg/events"
	"github.com/cuemby/gridbalance/pkg/log"
	"github.com/cuemby/gridbalance/pkg/metrics"
	"github.com/cuemby/gridbalance/pkg/probe"
	"github.com/cuemby/gridbalance/pkg/stealing"
	"github.com/cuemby/gridbalance/pkg/storage"
	"github.com/cuemby/gridbalance/pkg/tracker"
	"github.com/cuemby/gridbalance/pkg/transport"
	"github.com/cuemby/gridbalance/pkg/types"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a grid node",
	Long: `Run the balancing core of a grid node.

Without a NATS URL the node runs standalone and only knows itself. With
one, nodes announce their metrics to each other and exchange job stealing
requests over NATS.

Examples:
  # Standalone node with default thresholds
  gridnode run

  # Node joining a NATS-connected grid
  gridnode run --config node.yaml --nats-url nats://127.0.0.1:4222`,
	RunE: runNode,
}

func init() {
	addRunFlags(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "", "Path to YAML configuration file")
	cmd.Flags().String("node-id", "", "Unique node ID (generated when empty)")
	cmd.Flags().String("nats-url", "", "NATS server URL for steal requests and announcements")
	cmd.Flags().String("metrics-addr", "", "Address for the metrics and health endpoint")
	cmd.Flags().String("data-dir", "", "Directory for node snapshot persistence")
	cmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	cmd.Flags().Bool("json-logs", false, "Emit logs as JSON")
}

// loadConfig reads the config file and applies command line overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("node-id") {
		cfg.NodeID, _ = flags.GetString("node-id")
	}
	if flags.Changed("nats-url") {
		cfg.Transport.NATSURL, _ = flags.GetString("nats-url")
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("data-dir") {
		cfg.Storage.DataDir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("json-logs") {
		cfg.Log.JSON, _ = flags.GetBool("json-logs")
	}

	if cfg.NodeID == "" {
		return nil, fmt.Errorf("node ID must not be empty")
	}
	return cfg, cfg.Validate()
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	metrics.SetVersion(Version)

	n, err := newNode(cfg)
	if err != nil {
		return err
	}

	if err := n.start(); err != nil {
		n.stop()
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		n.logger.Info().Msg("shutting down")
	case err = <-n.errCh:
		n.logger.Error().Err(err).Msg("node failed")
	}

	n.stop()
	return err
}

// node holds the components of a running grid node
type node struct {
	cfg    *config.Config
	logger zerolog.Logger
	local  *types.Node

	store     *storage.BoltStore
	tracker   *tracker.Tracker
	adaptive  *adaptive.Balancer
	rr        roundrobin.Balancer
	messenger transport.Messenger
	nats      *transport.NATSMessenger
	watcher   *transport.Watcher
	resolver  *stealing.Resolver
	agent     *agent.Agent
	broker    *events.Broker
	collector *metrics.Collector
	cpu       *metrics.CPUSampler
	server    *http.Server

	unsubscribe []func()
	errCh       chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newNode(cfg *config.Config) (*node, error) {
	n := &node{
		cfg:    cfg,
		logger: log.WithNodeID(cfg.NodeID),
		errCh:  make(chan error, 1),
		local: &types.Node{
			ID:         cfg.NodeID,
			Address:    cfg.Address,
			Attributes: cfg.Attributes,
			UpdatedAt:  time.Now(),
		},
	}
	n.ctx, n.cancel = context.WithCancel(context.Background())

	var trackerOpts []tracker.Option
	if cfg.Storage.DataDir != "" {
		store, err := storage.NewBoltStore(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open node store: %w", err)
		}
		n.store = store
		trackerOpts = append(trackerOpts, tracker.WithStore(store))
		metrics.UpdateComponent(metrics.ComponentStorage, true, "")
	}

	n.tracker = tracker.New(cfg.NodeID, trackerOpts...)
	if err := n.tracker.Restore(); err != nil {
		n.closeStore()
		return nil, err
	}
	n.tracker.Seed([]*types.Node{n.local})
	metrics.UpdateComponent(metrics.ComponentTracker, true, "")

	p, err := probe.New(cfg.Probe)
	if err != nil {
		n.closeStore()
		return nil, err
	}
	n.adaptive = adaptive.New(p, n.tracker)

	n.rr, err = roundrobin.New(cfg.RoundRobin.Mode)
	if err != nil {
		n.closeStore()
		return nil, err
	}
	if g, ok := n.rr.(*roundrobin.Global); ok {
		g.Init(n.tracker.Nodes())
	}

	if cfg.Transport.NATSURL != "" {
		nm, err := transport.NewNATSMessenger(cfg.Transport.NATSURL, "gridnode-"+cfg.NodeID)
		if err != nil {
			n.closeStore()
			return nil, err
		}
		n.nats = nm
		n.messenger = nm
	} else {
		n.messenger = transport.NewLocalNetwork()
	}
	metrics.UpdateComponent(metrics.ComponentTransport, true, "")

	n.resolver = stealing.New(cfg.Collision, cfg.NodeID, n.tracker, n.messenger)
	n.agent = agent.New(n.resolver, cfg.Collision.CheckInterval)
	n.broker = events.NewBroker()
	n.watcher = transport.NewWatcher(cfg.Transport.FailureTimeout, events.ListenerFunc(n.broker.Publish))
	// restored peers must heartbeat within the failure timeout to stay
	n.watcher.Expect(n.tracker.RemoteNodes())
	n.collector = metrics.NewCollector(n.tracker, 5*time.Second)

	if cpu, err := metrics.NewCPUSampler(); err != nil {
		n.logger.Warn().Err(err).Msg("cpu load unavailable, node will publish zero cpu load")
	} else {
		n.cpu = cpu
	}

	mux := metrics.Mux()
	registerAPI(mux, n)
	n.server = &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return n, nil
}

func (n *node) start() error {
	n.broker.Start()
	// tracker first so counters exist before balancers see the event
	n.broker.Forward(n.ctx, n.tracker, n.adaptive, n.rr)

	unsubscribe, err := n.messenger.Subscribe(n.cfg.NodeID, n.resolver.OnMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to steal requests: %w", err)
	}
	n.unsubscribe = append(n.unsubscribe, unsubscribe)

	if n.nats != nil {
		unsubscribe, err := n.nats.SubscribeAnnouncements(func(a *transport.Announcement) {
			if a.Node != nil && a.Node.ID != n.cfg.NodeID {
				n.watcher.OnAnnouncement(a)
			}
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to announcements: %w", err)
		}
		n.unsubscribe = append(n.unsubscribe, unsubscribe)
	}

	n.agent.Start()
	n.collector.Start()

	n.wg.Add(1)
	go n.heartbeat()

	go func() {
		if err := n.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			metrics.UpdateComponent(metrics.ComponentTransport, false, err.Error())
			select {
			case n.errCh <- fmt.Errorf("http server: %w", err):
			default:
			}
		}
	}()

	n.logger.Info().
		Str("metrics_addr", n.cfg.Metrics.Addr).
		Str("probe", string(n.cfg.Probe.Kind)).
		Str("round_robin", string(n.cfg.RoundRobin.Mode)).
		Bool("nats", n.nats != nil).
		Msg("node started")
	return nil
}

// heartbeat refreshes the local node snapshot, announces it to peers and
// expires silent peers
func (n *node) heartbeat() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.cfg.Transport.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snapshot := n.snapshot()
			n.broker.Publish(events.NodeEvent(events.EventNodeMetricsUpdated, snapshot))

			if n.nats != nil {
				err := n.nats.Announce(&transport.Announcement{
					Type:   transport.AnnounceHeartbeat,
					Node:   snapshot,
					SentAt: time.Now(),
				})
				if err != nil {
					n.logger.Warn().Err(err).Msg("failed to announce node")
					metrics.UpdateComponent(metrics.ComponentTransport, false, err.Error())
				} else {
					metrics.UpdateComponent(metrics.ComponentTransport, true, "")
				}
			}
			n.watcher.Sweep()
		case <-n.ctx.Done():
			return
		}
	}
}

// snapshot builds a fresh local node from the agent's queue and host cpu
func (n *node) snapshot() *types.Node {
	m := n.agent.Metrics()
	if n.cpu != nil {
		cur, avg, err := n.cpu.Sample()
		if err != nil {
			n.logger.Warn().Err(err).Msg("failed to sample cpu load")
		} else {
			m.CurrentCPULoad, m.AverageCPULoad = cur, avg
		}
	}
	return &types.Node{
		ID:         n.local.ID,
		Address:    n.local.Address,
		Attributes: n.local.Attributes,
		Metrics:    m,
		UpdatedAt:  time.Now(),
	}
}

func (n *node) stop() {
	n.agent.Stop()
	n.collector.Stop()
	n.cancel()
	n.wg.Wait()

	if n.nats != nil {
		err := n.nats.Announce(&transport.Announcement{
			Type:   transport.AnnounceLeave,
			Node:   n.local,
			SentAt: time.Now(),
		})
		if err != nil {
			n.logger.Warn().Err(err).Msg("failed to announce leave")
		}
	}
	for _, unsubscribe := range n.unsubscribe {
		unsubscribe()
	}
	if err := n.messenger.Close(); err != nil {
		n.logger.Warn().Err(err).Msg("failed to close transport")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.server.Shutdown(ctx); err != nil {
		n.logger.Warn().Err(err).Msg("failed to stop http server")
	}

	n.broker.Stop()
	n.closeStore()
	n.logger.Info().Msg("shutdown complete")
}

func (n *node) closeStore() {
	if n.store == nil {
		return
	}
	if err := n.store.Close(); err != nil {
		n.logger.Warn().Err(err).Msg("failed to close node store")
	}
	n.store = nil
}
