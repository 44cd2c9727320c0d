package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"linkmesh"
	"linkmesh/internal/logging"
	"linkmesh/internal/meshconfig"
	"linkmesh/internal/registry"
	"linkmesh/internal/tuntap"
	"linkmesh/internal/xform"
)

func main() {
	if err := logging.Configure(logging.LevelInfo); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var topologyPath string
	var metricsAddr string
	var debug bool

	cmd := &cobra.Command{
		Use:     "linkmeshd",
		Short:   "Runs a linkmesh data-plane node from a static mesh topology file",
		Version: "0.1.0",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelInfo
			if debug {
				level = logging.LevelDebug
			}
			return logging.Configure(level)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, topologyPath, metricsAddr)
		},
	}

	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&topologyPath, "topology", "mesh.yaml", "Path to the mesh topology file")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9120", "Address to serve /metrics on")
	return cmd
}

func run(ctx context.Context, topologyPath, metricsAddr string) error {
	mesh, err := meshconfig.Load(topologyPath)
	if err != nil {
		return err
	}

	tapFd, err := tuntap.Open(mesh.Interface)
	if err != nil {
		return err
	}

	var transform xform.Transform
	if mesh.Key != "" {
		key, err := decodeKey(mesh.Key)
		if err != nil {
			return err
		}
		ccp, err := xform.NewChaCha20Poly1305(key)
		if err != nil {
			return fmt.Errorf("linkmeshd: configure transform: %w", err)
		}
		transform = ccp
	}

	h, err := linkmesh.New(linkmesh.Config{
		LocalID:   mesh.LocalID,
		TapFd:     tapFd,
		Transform: transform,
		Logger:    slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("linkmeshd: create handle: %w", err)
	}

	if err := configurePeers(h, mesh); err != nil {
		_ = h.Free()
		return err
	}
	h.Enable()

	srv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server exited", "error", err)
		}
	}()

	slog.Info("linkmeshd running", "local_id", mesh.LocalID, "interface", mesh.Interface, "metrics_addr", metricsAddr)
	<-ctx.Done()
	slog.Info("shutting down")

	_ = srv.Shutdown(context.Background())

	for _, peer := range mesh.Peers {
		for i := range peer.Links {
			_ = h.RemoveLink(peer.ID, registry.LinkID(i))
		}
		_ = h.RemoveHost(peer.ID)
	}
	return h.Free()
}

func configurePeers(h *linkmesh.Handle, mesh *meshconfig.Mesh) error {
	for _, peer := range mesh.Peers {
		policy, err := meshconfig.ParsePolicy(peer.Policy)
		if err != nil {
			return err
		}
		if err := h.AddHost(peer.ID, peer.Name, policy); err != nil {
			return fmt.Errorf("linkmeshd: add host %d: %w", peer.ID, err)
		}

		for i, link := range peer.Links {
			remote, err := resolveUDPAddr(link.Remote)
			if err != nil {
				return fmt.Errorf("linkmeshd: peer %d link %d: %w", peer.ID, i, err)
			}
			localAddr, err := resolveUDPAddrOptional(link.Local)
			if err != nil {
				return fmt.Errorf("linkmeshd: peer %d link %d: %w", peer.ID, i, err)
			}

			if err := h.AddLink(peer.ID, registry.LinkID(i), linkmesh.LinkOptions{
				Local:        localAddr,
				Remote:       remote,
				Priority:     link.Priority,
				PingInterval: link.PingInterval,
				PongTimeout:  link.PongTimeout,
				Precision:    link.Precision,
				Dynamic:      link.Dynamic,
			}); err != nil {
				return fmt.Errorf("linkmeshd: peer %d link %d: %w", peer.ID, i, err)
			}
			if err := h.EnableLink(peer.ID, registry.LinkID(i), true); err != nil {
				return fmt.Errorf("linkmeshd: peer %d link %d: %w", peer.ID, i, err)
			}
		}
	}
	return nil
}

func resolveUDPAddr(s string) (*net.UDPAddr, error) {
	if s == "" {
		return nil, fmt.Errorf("linkmeshd: empty address")
	}
	return net.ResolveUDPAddr("udp", s)
}

func resolveUDPAddrOptional(s string) (*net.UDPAddr, error) {
	if s == "" {
		return nil, nil
	}
	return net.ResolveUDPAddr("udp", s)
}

func decodeKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("linkmeshd: decode key: %w", err)
	}
	return key, nil
}
