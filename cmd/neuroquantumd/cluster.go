package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hashicorp/raft"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/neuroquantum/storage-engine/internal/cluster"
	"github.com/neuroquantum/storage-engine/internal/logging"
)

func clusterCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "cluster membership commands",
	}
	cmd.AddCommand(clusterJoinCmd(configPath), clusterStatusCmd())
	return cmd
}

func clusterJoinCmd(configPath *string) *cobra.Command {
	var bootstrap bool
	var leaseTTL time.Duration
	var metricsAddr string
	var adminAddr string

	cmd := &cobra.Command{
		Use:   "join",
		Short: "start this node and join (or bootstrap) its Raft cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(*configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			if !rt.cfg.Cluster.Enabled {
				logging.WithComponent("cluster").Warn().Msg("cluster disabled in config; running standalone")
			}

			fsm := cluster.NewFSM(rt.engine)

			var peers []raft.Server
			for _, p := range rt.cfg.Cluster.Peers {
				peers = append(peers, raft.Server{ID: raft.ServerID(p), Address: raft.ServerAddress(p)})
			}

			node, err := cluster.Open(cluster.Config{
				NodeID:    rt.cfg.Cluster.NodeID,
				BindAddr:  rt.cfg.Cluster.BindAddr,
				DataDir:   filepath.Join(rt.cfg.DataDir, "raft"),
				Bootstrap: bootstrap || rt.cfg.Cluster.Bootstrap,
				Peers:     peers,
				LeaseTTL:  leaseTTL,
				ProtoMin:  rt.cfg.Cluster.ProtoMin,
			}, fsm)
			if err != nil {
				return err
			}
			defer node.Shutdown()

			grpcServer, err := serveClusterAdmin(adminAddr, node)
			if err != nil {
				return err
			}
			if grpcServer != nil {
				defer grpcServer.GracefulStop()
			}

			serveMetricsHTTP(metricsAddr)
			logging.WithComponent("cluster").Info().
				Str("node_id", rt.cfg.Cluster.NodeID).
				Str("state", node.State().String()).
				Msg("cluster node ready")

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig

			logging.WithComponent("cluster").Info().Msg("draining")
			return node.Drain(10 * time.Second)
		},
	}
	cmd.Flags().BoolVar(&bootstrap, "bootstrap", false, "bootstrap a new single-node cluster")
	cmd.Flags().DurationVar(&leaseTTL, "lease-ttl", 2*time.Second, "leader lease duration")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve /metrics on, empty to disable")
	cmd.Flags().StringVar(&adminAddr, "admin-addr", ":7070", "address to serve the cluster admin RPC on, empty to disable")
	return cmd
}

// serveClusterAdmin starts a grpc server exposing node's Admin.Status RPC
// so `cluster status` (and other operator tooling) can query a running
// node without going through Raft's own transport.
func serveClusterAdmin(addr string, node *cluster.Node) (*grpc.Server, error) {
	if addr == "" {
		return nil, nil
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := grpc.NewServer(cluster.ServerOption())
	cluster.RegisterAdminServer(srv, cluster.NewAdminServer(node))
	go func() {
		if err := srv.Serve(lis); err != nil {
			logging.WithComponent("cluster").Error().Err(err).Msg("admin rpc server stopped")
		}
	}()
	return srv, nil
}

func clusterStatusCmd() *cobra.Command {
	var addr string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "status",
		Short: "query a running node's cluster status over its admin RPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			resp, err := cluster.NewAdminClient(conn).Status(ctx, &cluster.StatusRequest{})
			if err != nil {
				return err
			}
			fmt.Printf("node_id=%s state=%s is_leader=%t leader_hint=%s\n",
				resp.NodeID, resp.State, resp.IsLeader, resp.LeaderHint)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7070", "admin RPC address of the node to query")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "RPC timeout")
	return cmd
}
