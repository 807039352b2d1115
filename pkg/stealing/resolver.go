package stealing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/gridbalance/pkg/balancer"
	"github.com/cuemby/gridbalance/pkg/balancer/roundrobin"
	"github.com/cuemby/gridbalance/pkg/config"
	"github.com/cuemby/gridbalance/pkg/log"
	"github.com/cuemby/gridbalance/pkg/metrics"
	"github.com/cuemby/gridbalance/pkg/transport"
	"github.com/cuemby/gridbalance/pkg/types"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Steal request outcomes
const (
	OutcomeServed      = "served"
	OutcomeUnsatisfied = "unsatisfied"
	OutcomeExpired     = "expired"
	OutcomeUnknownNode = "unknown_node"
	OutcomeMismatch    = "attribute_mismatch"
)

// Membership is the resolver's view of the cluster
type Membership interface {
	LocalNode() (*types.Node, bool)
	Node(nodeID string) (*types.Node, bool)
	RemoteNodes() types.Topology
}

// Result summarizes one collision check
type Result struct {
	// Waiting jobs activated locally
	Activated int

	// Waiting jobs rejected to a thief node
	Rejected int

	// Waiting jobs left in the queue
	Untouched int

	// Node a steal request was sent to, empty if none
	RequestSentTo string
}

// RequestSent reports whether the check solicited work from a peer
func (r Result) RequestSent() bool {
	return r.RequestSentTo != ""
}

// NoAction reports whether the check changed nothing
func (r Result) NoAction() bool {
	return r.Activated == 0 && r.Rejected == 0 && !r.RequestSent()
}

type pending struct {
	req        *types.StealRequest
	receivedAt time.Time
}

// Resolver balances queued jobs between nodes by job stealing. It is driven
// by the local node's collision checks and by steal requests from peers.
//
// OnCollisionCheck must not be called concurrently. OnMessage may be called
// from any goroutine.
type Resolver struct {
	cfg       config.Collision
	localID   string
	members   Membership
	messenger transport.Messenger
	match     AttributeMatcher
	peers     balancer.Balancer
	ownPeers  *roundrobin.Global
	limiter   *rate.Limiter
	now       func() time.Time
	logger    zerolog.Logger

	mu    sync.Mutex
	inbox map[string]pending
}

// Option configures a Resolver
type Option func(*Resolver)

// WithAttributeMatcher replaces the rule deciding which peers may steal
func WithAttributeMatcher(m AttributeMatcher) Option {
	return func(r *Resolver) {
		r.match = m
	}
}

// WithPeerPicker sets the balancer choosing which peer to solicit. It is
// called with a nil session and the eligible peers as topology.
func WithPeerPicker(b balancer.Balancer) Option {
	return func(r *Resolver) {
		r.peers = b
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// New creates a resolver for the node localID
func New(cfg config.Collision, localID string, members Membership, messenger transport.Messenger, opts ...Option) *Resolver {
	r := &Resolver{
		cfg:       cfg,
		localID:   localID,
		members:   members,
		messenger: messenger,
		match:     MatchAttributes(cfg.StealingAttributes),
		now:       time.Now,
		logger:    log.ForNode(localID, "stealing"),
		inbox:     make(map[string]pending),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.peers == nil {
		r.ownPeers = roundrobin.NewGlobal()
		r.peers = r.ownPeers
	}

	interval := cfg.MessageExpireTime
	if interval <= 0 {
		interval = time.Second
	}
	r.limiter = rate.NewLimiter(rate.Every(interval), 1)

	return r
}

// Delta returns the number of jobs requested from a peer
func (r *Resolver) Delta() int {
	if r.cfg.StealDelta > 0 {
		return r.cfg.StealDelta
	}
	if d := r.cfg.ActiveJobsThreshold + r.cfg.WaitJobsThreshold; d > 0 {
		return d
	}
	return 1
}

// OnMessage queues a steal request from a peer for the next collision
// check. A newer request from the same peer replaces an older one.
func (r *Resolver) OnMessage(req *types.StealRequest) {
	if req == nil || req.FromNodeID == "" || req.FromNodeID == r.localID {
		return
	}

	r.mu.Lock()
	r.inbox[req.FromNodeID] = pending{req: req, receivedAt: r.now()}
	r.mu.Unlock()

	r.logger.Debug().
		Str("from", req.FromNodeID).
		Int("delta", req.Delta).
		Msg("queued steal request")
}

// Pending returns the number of queued steal requests
func (r *Resolver) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inbox)
}

func (r *Resolver) drain() []pending {
	r.mu.Lock()
	out := make([]pending, 0, len(r.inbox))
	for _, p := range r.inbox {
		out = append(out, p)
	}
	r.inbox = make(map[string]pending)
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].receivedAt.Equal(out[j].receivedAt) {
			return out[i].receivedAt.Before(out[j].receivedAt)
		}
		return out[i].req.FromNodeID < out[j].req.FromNodeID
	})
	return out
}

// OnCollisionCheck resolves the local queue. waiting must be ordered oldest
// first. Jobs transition through their JobContext; the returned Result only
// reports what happened.
func (r *Resolver) OnCollisionCheck(ctx context.Context, active, waiting []types.JobContext) Result {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CollisionCheckDuration)

	var res Result
	activeCount := len(active)
	queue := make([]types.JobContext, len(waiting))
	copy(queue, waiting)

	// local capacity first
	for len(queue) > 0 && activeCount < r.cfg.ActiveJobsThreshold {
		job := queue[0]
		queue = queue[1:]
		if job.Activate() {
			activeCount++
			res.Activated++
		}
	}

	local := r.localNode()
	for _, p := range r.drain() {
		var stolen int
		queue, stolen = r.serve(p, local, queue)
		res.Rejected += stolen
	}

	if activeCount == 0 && len(queue) == 0 && r.cfg.StealingEnabled {
		res.RequestSentTo = r.solicit(ctx, local)
	}

	res.Untouched = len(queue)

	metrics.JobsActivated.Add(float64(res.Activated))
	metrics.JobsStolen.Add(float64(res.Rejected))

	if !res.NoAction() {
		r.logger.Debug().
			Int("activated", res.Activated).
			Int("rejected", res.Rejected).
			Int("untouched", res.Untouched).
			Str("request_sent_to", res.RequestSentTo).
			Msg("collision check")
	}

	return res
}

func (r *Resolver) localNode() *types.Node {
	if node, ok := r.members.LocalNode(); ok {
		return node
	}
	return &types.Node{ID: r.localID}
}

// serve rejects up to the requested number of waiting jobs to the peer,
// newest first, and returns the jobs left in the queue
func (r *Resolver) serve(p pending, local *types.Node, queue []types.JobContext) ([]types.JobContext, int) {
	req := p.req
	logger := r.logger.With().Str("thief", req.FromNodeID).Logger()

	if r.now().Sub(p.receivedAt) > r.cfg.MessageExpireTime {
		metrics.StealRequestsReceived.WithLabelValues(OutcomeExpired).Inc()
		logger.Debug().Msg("dropping expired steal request")
		return queue, 0
	}

	peer, ok := r.members.Node(req.FromNodeID)
	if !ok {
		metrics.StealRequestsReceived.WithLabelValues(OutcomeUnknownNode).Inc()
		logger.Debug().Msg("dropping steal request from node that left")
		return queue, 0
	}

	if !r.match(local, peer) {
		metrics.StealRequestsReceived.WithLabelValues(OutcomeMismatch).Inc()
		return queue, 0
	}

	stolen := 0
	kept := make([]types.JobContext, 0, len(queue))
	for i := len(queue) - 1; i >= 0; i-- {
		job := queue[i]
		if stolen >= req.Delta || !r.canSteal(job, peer.ID) {
			kept = append(kept, job)
			continue
		}
		if !job.Cancel() {
			// already picked up elsewhere
			continue
		}
		job.SetAttribute(types.AttrThiefNode, peer.ID)
		job.SetAttribute(types.AttrStealingAttempts, types.StealingAttempts(job)+1)
		stolen++

		logger.Debug().Str("job_id", job.JobID()).Msg("rejected job to thief")
	}

	// kept was collected newest first
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}

	outcome := OutcomeServed
	if stolen == 0 {
		outcome = OutcomeUnsatisfied
	}
	metrics.StealRequestsReceived.WithLabelValues(outcome).Inc()

	return kept, stolen
}

func (r *Resolver) canSteal(job types.JobContext, peerID string) bool {
	if types.StealingAttempts(job) >= r.cfg.MaxStealingAttempts {
		return false
	}
	session := job.Session()
	return session != nil && session.HasNode(peerID)
}

// solicit asks one eligible peer for work and returns its ID, or "" if no
// request was sent
func (r *Resolver) solicit(ctx context.Context, local *types.Node) string {
	var eligible types.Topology
	for _, peer := range r.members.RemoteNodes() {
		if peer.ID != r.localID && r.match(local, peer) {
			eligible = append(eligible, peer)
		}
	}
	if len(eligible) == 0 {
		return ""
	}

	// the token is only spent once a request actually went out
	now := r.now()
	reservation := r.limiter.ReserveN(now, 1)
	if !reservation.OK() || reservation.DelayFrom(now) > 0 {
		reservation.CancelAt(now)
		return ""
	}

	if r.ownPeers != nil {
		r.ownPeers.Init(eligible)
	}
	target, err := r.peers.PickNode(ctx, nil, eligible, nil)
	if err != nil {
		reservation.CancelAt(now)
		r.logger.Debug().Err(err).Msg("no peer to steal from")
		return ""
	}

	req := &types.StealRequest{
		ID:         uuid.New().String(),
		FromNodeID: r.localID,
		ToNodeID:   target.ID,
		Delta:      r.Delta(),
		SentAt:     now,
	}
	if err := r.messenger.Send(ctx, req); err != nil {
		reservation.CancelAt(now)
		if errors.Is(err, transport.ErrUnknownNode) {
			r.logger.Debug().Str("target", target.ID).Msg("steal target left the cluster")
		} else {
			r.logger.Warn().Err(err).Str("target", target.ID).Msg("failed to send steal request")
		}
		return ""
	}

	metrics.StealRequestsSent.Inc()
	r.logger.Debug().Str("target", target.ID).Int("delta", req.Delta).Msg("sent steal request")
	return target.ID
}
