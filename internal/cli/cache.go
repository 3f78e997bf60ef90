package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitruvius-bim/vitruvius-backend/internal/cache"
	"github.com/vitruvius-bim/vitruvius-backend/internal/contenthash"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or invalidate the IFC result cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print memory use and key counts of the result cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCache(cmd.Context(), func(rc *cache.ResultCache) error {
			st, err := rc.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		})
	},
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate <hash|file>",
	Short: "Drop every cached artifact of a content hash",
	Long: `Drop every cached artifact (model, conflicts, analysis, metadata) stored
under a content hash. The argument is either the 16 hex digit hash or a path
to the IFC file, which is hashed first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash := args[0]
		if !contenthash.Valid(hash) {
			sum, err := contenthash.File(hash)
			if err != nil {
				return err
			}
			hash = sum
		}
		return withCache(cmd.Context(), func(rc *cache.ResultCache) error {
			n, err := rc.Invalidate(cmd.Context(), hash)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d keys deleted\n", hash, n)
			return nil
		})
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)
}

// withCache connects to Redis only; the database is not needed here.
func withCache(ctx context.Context, fn func(rc *cache.ResultCache) error) error {
	c, err := initContext()
	if err != nil {
		return err
	}
	defer c.Close()

	cfg := c.Config.Redis
	if !cfg.Enabled {
		return fmt.Errorf("redis is disabled")
	}
	rdb, err := cache.NewRedisClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	rc, err := cache.New(cache.NewRedisBackend(rdb), c.Log,
		cache.WithPrefix(cfg.Prefix),
		cache.WithTTL(cfg.TTL),
		cache.WithCompression(cfg.Compress),
	)
	if err != nil {
		return err
	}
	return fn(rc)
}
