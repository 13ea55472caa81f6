// Package leader provides Kubernetes Lease-based leader election so that
// exactly one replica serves the auction API and the Discord bot. Every
// replica keeps serving health checks.
package leader

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/ashishshetty777/auction-app/internal/config"
)

// Callbacks react to leadership changes. Any of them may be nil.
type Callbacks struct {
	// OnStarted runs when this replica becomes leader. It should block
	// until ctx is done.
	OnStarted func(ctx context.Context)
	// OnStopped runs when leadership is lost or released.
	OnStopped func()
	// OnNewLeader runs when another replica takes the lease.
	OnNewLeader func(identity string)
}

// identity returns a unique identity for this instance.
// It uses the POD_NAME env var if set, otherwise the hostname.
func identity() string {
	if name := os.Getenv("POD_NAME"); name != "" {
		return name
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

// ClientFactory creates a Kubernetes clientset.
// Extracted as a variable for testing.
var ClientFactory = func() (kubernetes.Interface, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("building in-cluster config: %w", err)
	}
	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes client: %w", err)
	}
	return client, nil
}

// Run blocks until ctx is done. With election disabled this replica leads
// unconditionally; otherwise it competes for the configured Lease and
// invokes cb as leadership changes.
func Run(ctx context.Context, cfg config.LeaderElectionConfig, logger *slog.Logger, cb Callbacks) error {
	if !cfg.Enabled {
		logger.Info("leader election disabled, serving as sole replica")
		if cb.OnStarted != nil {
			cb.OnStarted(ctx)
		}
		if cb.OnStopped != nil {
			cb.OnStopped()
		}
		return nil
	}

	id := identity()
	logger.Info("starting leader election",
		slog.String("identity", id),
		slog.String("lease", cfg.LeaseName),
		slog.String("namespace", cfg.LeaseNamespace),
	)

	client, err := ClientFactory()
	if err != nil {
		return fmt.Errorf("leader election client: %w", err)
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      cfg.LeaseName,
			Namespace: cfg.LeaseNamespace,
		},
		Client: client.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: id,
		},
	}

	le, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
		Lock:            lock,
		Name:            cfg.LeaseName,
		LeaseDuration:   cfg.LeaseDuration,
		RenewDeadline:   cfg.RenewDeadline,
		RetryPeriod:     cfg.RetryPeriod,
		ReleaseOnCancel: true,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: func(ctx context.Context) {
				logger.Info("acquired leadership", slog.String("identity", id))
				if cb.OnStarted != nil {
					cb.OnStarted(ctx)
				}
			},
			OnStoppedLeading: func() {
				logger.Info("lost leadership", slog.String("identity", id))
				if cb.OnStopped != nil {
					cb.OnStopped()
				}
			},
			OnNewLeader: func(newID string) {
				if newID == id {
					return
				}
				logger.Info("new leader elected", slog.String("leader", newID))
				if cb.OnNewLeader != nil {
					cb.OnNewLeader(newID)
				}
			},
		},
	})
	if err != nil {
		return fmt.Errorf("configuring leader election: %w", err)
	}

	// Returns once leadership is lost or ctx is done.
	le.Run(ctx)
	return nil
}
