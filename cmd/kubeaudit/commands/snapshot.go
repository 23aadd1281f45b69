package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/moolen/kubeaudit/internal/logging"
	"github.com/moolen/kubeaudit/internal/snapshot"
	"github.com/spf13/cobra"
)

var snapshotOut string

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Collect a read-only cluster snapshot into a file",
	Long: `Snapshot lists nodes, deployments, replicasets, pods, services, events,
HPAs, RBAC roles, network policies and PVCs and writes them to a JSON or
YAML file that "kubeaudit audit --snapshot" can read later.`,
	Example: `  kubeaudit snapshot --kubeconfig ~/.kube/config --namespace shop --out shop.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if snapshotOut == "" {
			return fmt.Errorf("--out is required")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		src := sourceFromFlags()
		src.path = ""
		snap, err := src.load(ctx, currentConfig())
		if err != nil {
			return fmt.Errorf("failed to collect snapshot: %w", err)
		}
		if err := snapshot.WriteFile(snap, snapshotOut); err != nil {
			return err
		}

		logging.GetLogger("commands").InfoWithFields("snapshot written",
			logging.Field("path", snapshotOut),
			logging.Field("cluster", snap.ClusterName),
			logging.Field("deployments", len(snap.Deployments)),
			logging.Field("pods", len(snap.Pods)),
		)
		return nil
	},
}

func init() {
	snapshotCmd.Flags().StringVar(&kubeconfig, "kubeconfig", "", "Path to kubeconfig (default: in-cluster or $KUBECONFIG)")
	snapshotCmd.Flags().StringVar(&kubeContext, "context", "", "Kubeconfig context to use")
	snapshotCmd.Flags().StringSliceVarP(&namespaces, "namespace", "n", nil, "Namespaces to collect (repeatable, default: all)")
	snapshotCmd.Flags().StringVar(&snapshotOut, "out", "", "Output file (.yaml/.yml for YAML, JSON otherwise)")
}
