package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vwriter/ventoy-writer/pkg/errors"
)

var fetchListVersions bool

var fetchCmd = &cobra.Command{
	Use:   "fetch-ventoy",
	Short: "Download and cache the Ventoy release without installing it",
	RunE:  runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().BoolVar(&fetchListVersions, "list-versions", false, "List releases available in the mirror bucket")
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := ensureDirectories(cfg.SQLitePath, "", cfg.WorkDir); err != nil {
		return err
	}

	fetcher, err := newFetcher(ctx, cfg)
	if err != nil {
		return err
	}

	if fetchListVersions {
		if fetcher.Mirror == nil {
			return fmt.Errorf("--list-versions requires mirror-bucket")
		}
		versions, err := fetcher.Mirror.Versions(ctx, "")
		if err != nil {
			return errors.Wrap(err, "list versions failed")
		}
		if len(versions) == 0 {
			fmt.Println("No Ventoy releases found in", fetcher.Mirror.Bucket())
			return nil
		}
		for _, v := range versions {
			fmt.Println(v)
		}
		return nil
	}

	source := fetcher.URL
	if fetcher.Mirror != nil {
		source = "s3://" + fetcher.Mirror.Bucket() + "/" + fetcher.MirrorKey
	}
	fmt.Printf("Fetching Ventoy %s from %s\n", fetcher.Version, source)

	last := int64(-1)
	b, err := fetcher.Prepare(ctx, func(done, total int64) {
		// One line per 10 MB keeps the output readable.
		if step := done / (10 << 20); step != last {
			last = step
			if total > 0 {
				fmt.Printf("... %s / %s\n", humanize.IBytes(uint64(done)), humanize.IBytes(uint64(total)))
			} else {
				fmt.Printf("... %s\n", humanize.IBytes(uint64(done)))
			}
		}
	})
	if err != nil {
		return err
	}

	state := "downloaded"
	if b.Cached {
		state = "already cached"
	}
	fmt.Printf("Ventoy %s %s in %s\n", b.Version, state, b.Dir)
	if b.SHA256 != "" {
		fmt.Printf("sha256: %s\n", b.SHA256)
	}
	return nil
}
