package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/replicore/wscache/internal/bytesize"
	"github.com/replicore/wscache/pkg/mapping"
	"github.com/replicore/wscache/pkg/pagestore"
)

var (
	inspectAll      bool
	inspectKeyFile  string
	inspectEncPage  string
	inspectEncCache string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <page-file>",
	Short: "Walk a page file and print its buffer headers",
	Long: `Walks the header chain of a page file from offset 0 to the zeroed
sentinel and prints one line per live buffer. Pass --all to include
released buffers. For encrypted page files, supply the key with
--key-file.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectAll, "all", false,
		"include released buffers")
	inspectCmd.Flags().StringVar(&inspectKeyFile, "key-file", "",
		"AES-256 key file for encrypted page files")
	inspectCmd.Flags().StringVar(&inspectEncPage, "cache-page-size", "32Ki",
		"encryption cache page size the file was written with")
	inspectCmd.Flags().StringVar(&inspectEncCache, "cache-size", "16Mi",
		"decrypted page cache budget")
}

func runInspect(cmd *cobra.Command, args []string) error {
	path := args[0]

	mcfg := mapping.Config{}
	if inspectKeyFile != "" {
		key, err := os.ReadFile(inspectKeyFile)
		if err != nil {
			return fmt.Errorf("read key file: %w", err)
		}

		pageSize, err := bytesize.Parse(inspectEncPage)
		if err != nil {
			return fmt.Errorf("parse cache-page-size: %w", err)
		}
		cacheSize, err := bytesize.Parse(inspectEncCache)
		if err != nil {
			return fmt.Errorf("parse cache-size: %w", err)
		}

		mcfg = mapping.Config{
			Encrypt:       true,
			Key:           key,
			CachePageSize: pageSize,
			CacheSize:     cacheSize,
		}
	}

	r, err := mapping.NewReader(path, mcfg)
	if err != nil {
		return err
	}
	defer r.Close()

	var live, released, bytes int
	err = pagestore.Walk(r, r.Size(), func(rec pagestore.Record) bool {
		if rec.Released() {
			released++
		} else {
			live++
		}
		bytes += rec.Size

		if !rec.Released() || inspectAll {
			state := "live"
			if rec.Released() {
				state = "released"
			}
			fmt.Printf("off: %8d  size: %8d  seqno: %12d  page: %6d  %s\n",
				rec.Offset, rec.Size, rec.Seqno, rec.Ctx, state)
		}
		return true
	})
	if err != nil {
		return err
	}

	fmt.Printf("\n%s: %d bytes in %d buffers (%d live, %d released), file size %d\n",
		path, bytes, live+released, live, released, r.Size())
	return nil
}
