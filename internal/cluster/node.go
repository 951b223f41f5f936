// Package cluster implements the Raft-backed cluster node: lifecycle
// state machine, quorum accounting, leader lease tracking, and graceful
// drain with leadership transfer, grounded on the raft wiring pattern in
// cuemby-warren's poc/raft/main.go.
package cluster

import (
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/neuroquantum/storage-engine/internal/logging"
	"github.com/neuroquantum/storage-engine/internal/metrics"
	"github.com/neuroquantum/storage-engine/pkg/errors"
)

// State is a node's position in its lifecycle.
type State int

const (
	Initializing State = iota
	Joining
	Running
	ReadOnly
	Draining
	Leaving
	Stopped
	ErrorState
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Joining:
		return "joining"
	case Running:
		return "running"
	case ReadOnly:
		return "read_only"
	case Draining:
		return "draining"
	case Leaving:
		return "leaving"
	case Stopped:
		return "stopped"
	case ErrorState:
		return "error"
	default:
		return "unknown"
	}
}

// Config configures one cluster node.
type Config struct {
	NodeID     string
	BindAddr   string
	DataDir    string
	Bootstrap  bool
	Peers      []raft.Server // non-empty only when Bootstrap is true
	LeaseTTL   time.Duration
	ProtoMin   uint32
}

// healthStaleness is how long a successful reachability probe is trusted
// before a peer reverts to unhealthy, a few lease cycles longer than the
// probe interval so one missed tick doesn't flap quorum state.
const healthStaleness = 10 * time.Second

// Node wraps a hashicorp/raft instance with the lifecycle state machine
// and leader-lease bookkeeping the specification's C11 contract requires
// on top of bare raft.
type Node struct {
	cfg Config
	raw *raft.Raft

	mu          sync.Mutex
	state       State
	leaseExpiry time.Time

	// lastSeen tracks, per peer server id, the last time a reachability
	// probe to that peer's Raft transport address succeeded. HasQuorum is
	// computed from this instead of static cluster membership, so a
	// partitioned peer that is still a configured voter stops counting
	// toward quorum once its entry goes stale.
	lastSeen map[raft.ServerID]time.Time
}

// Open builds and starts a Raft node from cfg, following the same
// NewTCPTransport / NewFileSnapshotStore / raftboltdb log+stable store
// wiring as the teacher's proof-of-concept raft node.
func Open(cfg Config, fsm raft.FSM) (*Node, error) {
	n := &Node{cfg: cfg, state: Initializing, lastSeen: make(map[raft.ServerID]time.Time)}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)
	raftCfg.Logger = logging.NewHCLogAdapter(cfg.NodeID)
	if cfg.ProtoMin != 0 {
		pv := raft.ProtocolVersion(cfg.ProtoMin)
		if pv < raft.ProtocolVersionMin || pv > raft.ProtocolVersionMax {
			return nil, &errors.ProtocolVersionMismatchError{Peer: uint32(pv), Min: uint32(raft.ProtocolVersionMin)}
		}
		raftCfg.ProtocolVersion = pv
	}

	addr, err := resolveTCPAddr(cfg.BindAddr)
	if err != nil {
		return nil, err
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, err
	}

	snapshots, err := raft.NewFileSnapshotStore(cfg.DataDir, 3, os.Stderr)
	if err != nil {
		return nil, err
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, err
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, err
	}

	r, err := raft.NewRaft(raftCfg, fsm, logStore, stableStore, snapshots, transport)
	if err != nil {
		return nil, err
	}
	n.raw = r

	if cfg.Bootstrap {
		n.setState(Joining)
		servers := cfg.Peers
		if len(servers) == 0 {
			servers = []raft.Server{{ID: raftCfg.LocalID, Address: transport.LocalAddr()}}
		}
		future := r.BootstrapCluster(raft.Configuration{Servers: servers})
		if err := future.Error(); err != nil && err != raft.ErrCantBootstrap {
			n.setState(ErrorState)
			return nil, err
		}
	}
	n.setState(Running)
	go n.leaseLoop()
	return n, nil
}

func (n *Node) setState(s State) {
	n.mu.Lock()
	n.state = s
	n.mu.Unlock()
	metrics.SetClusterState(s.String())
}

// State returns the node's current lifecycle state.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// IsLeader reports whether this node currently holds Raft leadership and
// its lease has not expired.
func (n *Node) IsLeader() bool {
	if n.raw.State() != raft.Leader {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return time.Now().Before(n.leaseExpiry)
}

// leaseLoop renews the leader lease on a cadence shorter than LeaseTTL
// while this node holds leadership, and on every tick probes peer
// reachability and demotes to ReadOnly when quorum is lost (or back to
// Running when it returns) via refreshQuorumState.
func (n *Node) leaseLoop() {
	ttl := n.cfg.LeaseTTL
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()
	for range ticker.C {
		if n.State() == Stopped || n.State() == Leaving {
			return
		}
		if n.raw.State() == raft.Leader {
			n.mu.Lock()
			n.leaseExpiry = time.Now().Add(ttl)
			n.mu.Unlock()
		}
		n.probePeers()
		n.refreshQuorumState()
	}
}

// probePeers attempts a short TCP dial to every other voting member's
// Raft transport address, recording a successful dial's timestamp as
// that peer's last-seen time. This is a liveness signal independent of
// Raft's own heartbeats (which only the leader's replication loop
// observes internally): it lets refreshQuorumState tell a peer that is
// merely a configured voter apart from one actually reachable right now.
func (n *Node) probePeers() {
	future := n.raw.GetConfiguration()
	if err := future.Error(); err != nil {
		return
	}
	for _, s := range future.Configuration().Servers {
		if s.Suffrage != raft.Voter || s.ID == raft.ServerID(n.cfg.NodeID) {
			continue
		}
		conn, err := net.DialTimeout("tcp", string(s.Address), 2*time.Second)
		if err != nil {
			continue
		}
		conn.Close()
		n.mu.Lock()
		n.lastSeen[s.ID] = time.Now()
		n.mu.Unlock()
	}
}

// healthyPeerCount returns how many other voting members had a
// successful reachability probe within healthStaleness.
func (n *Node) healthyPeerCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	now := time.Now()
	for _, seen := range n.lastSeen {
		if now.Sub(seen) < healthStaleness {
			count++
		}
	}
	return count
}

func (n *Node) refreshQuorumState() {
	future := n.raw.GetConfiguration()
	if err := future.Error(); err != nil {
		return
	}
	totalPeers := 0
	for _, s := range future.Configuration().Servers {
		if s.Suffrage == raft.Voter && s.ID != raft.ServerID(n.cfg.NodeID) {
			totalPeers++
		}
	}
	if HasQuorum(n.healthyPeerCount(), totalPeers) {
		if n.State() == ReadOnly {
			n.setState(Running)
		}
		return
	}
	if n.State() == Running {
		n.setState(ReadOnly)
	}
}

// HasQuorum reports whether healthyPeers out of totalPeers other voting
// members, plus this node itself, forms a strict majority, per spec
// §4.11: healthy_peers + 1 ≥ ⌈(total_peers + 1)/2⌉ + 1.
func HasQuorum(healthyPeers, totalPeers int) bool {
	majority := (totalPeers + 2) / 2 // ceil((totalPeers+1)/2)
	return healthyPeers+1 >= majority+1
}

// HasQuorum reports whether this node currently sees a healthy majority
// of the cluster, combining live reachability with current membership
// size.
func (n *Node) HasQuorum() bool {
	future := n.raw.GetConfiguration()
	if err := future.Error(); err != nil {
		return false
	}
	totalPeers := 0
	for _, s := range future.Configuration().Servers {
		if s.Suffrage == raft.Voter && s.ID != raft.ServerID(n.cfg.NodeID) {
			totalPeers++
		}
	}
	return HasQuorum(n.healthyPeerCount(), totalPeers)
}

// CanAcceptWrites implements spec §4.11's can_accept_writes(): a node
// may accept a write only while it is Running, holds Raft leadership
// with a currently-valid lease, and still sees a healthy quorum.
func (n *Node) CanAcceptWrites() bool {
	return n.State() == Running && n.IsLeader() && n.HasQuorum()
}

// Apply submits a command to the replicated log, failing fast with
// NotLeaderError if this node isn't leader so the caller can retry
// against the real leader, and with NoQuorumError if quorum is lost.
func (n *Node) Apply(cmd []byte, timeout time.Duration) error {
	if n.State() == Draining {
		return &errors.DrainingError{}
	}
	if !n.IsLeader() {
		leaderAddr, _ := n.raw.LeaderWithID()
		if leaderAddr == "" {
			return &errors.NoQuorumError{}
		}
		return &errors.NotLeaderError{LeaderHint: string(leaderAddr)}
	}
	if !n.CanAcceptWrites() {
		return &errors.NoQuorumError{}
	}
	future := n.raw.Apply(cmd, timeout)
	return future.Error()
}

// Drain transitions the node to Draining, transfers leadership away if
// held, then to Leaving once transfer completes, for a zero-downtime
// rolling upgrade.
func (n *Node) Drain(timeout time.Duration) error {
	n.setState(Draining)
	if n.raw.State() == raft.Leader {
		future := n.raw.LeadershipTransfer()
		if err := future.Error(); err != nil {
			n.setState(ErrorState)
			return err
		}
	}
	n.setState(Leaving)
	return nil
}

// Shutdown stops the Raft subsystem entirely.
func (n *Node) Shutdown() error {
	n.setState(Stopped)
	return n.raw.Shutdown().Error()
}

func resolveTCPAddr(addr string) (*net.TCPAddr, error) {
	return net.ResolveTCPAddr("tcp", addr)
}
