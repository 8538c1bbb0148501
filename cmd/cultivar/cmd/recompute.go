package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cultivar-crm/cultivar/internal/core/db"
	"github.com/cultivar-crm/cultivar/internal/segment"
	"github.com/cultivar-crm/cultivar/internal/store"
	"github.com/cultivar-crm/cultivar/internal/types"
)

var recomputeCmd = &cobra.Command{
	Use:   "recompute [segment-id]",
	Short: "Recompute dynamic segment membership",
	Long:  `Recompute refreshes the stored membership of one active dynamic segment, or of every active dynamic segment when no segment id is given.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRecompute,
}

func init() {
	rootCmd.AddCommand(recomputeCmd)
}

func runRecompute(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	logger, err := newLogger()
	if err != nil {
		return err
	}

	if dbURL == "" {
		return fmt.Errorf("--db-url required")
	}
	database, err := db.Open(dbURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	sqlStore, err := store.NewSQL(database)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	segments := segment.NewEngine(sqlStore, sqlStore, logger)
	at := time.Now().UTC()

	if len(args) == 1 {
		return recomputeOne(ctx, cmd, segments, types.SegmentID(args[0]), at)
	}

	all, err := sqlStore.ListSegments(ctx)
	if err != nil {
		return fmt.Errorf("failed to list segments: %w", err)
	}
	for _, seg := range all {
		if !seg.Dynamic() || seg.State != types.StateActive {
			continue
		}
		if err := recomputeOne(ctx, cmd, segments, seg.ID, at); err != nil {
			return err
		}
	}
	return nil
}

func recomputeOne(ctx context.Context, cmd *cobra.Command, segments *segment.Engine, id types.SegmentID, at time.Time) error {
	members, err := segments.Recompute(ctx, id, at)
	if err != nil {
		return fmt.Errorf("failed to recompute segment %s: %w", id, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d members\n", id, len(members))
	return nil
}
