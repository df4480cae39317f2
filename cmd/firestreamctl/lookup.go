package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lumen-data/firestream/internal/resilience"
	"github.com/lumen-data/firestream/internal/wire"
)

var lookupPaths []string

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Batch-get one or more documents through the unary RPC dispatcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		sess, err := newSession(cfg)
		if err != nil {
			return err
		}
		defer sess.Close()

		type outcome struct {
			results []wire.LookupResult
			err     *resilience.Error
		}
		done := make(chan outcome, 1)
		sess.ds.Lookup(lookupPaths, func(results []wire.LookupResult, err *resilience.Error) {
			done <- outcome{results, err}
		})

		select {
		case o := <-done:
			if o.err != nil {
				return fmt.Errorf("firestreamctl: lookup: %v", o.err)
			}
			for _, r := range o.results {
				if r.Found {
					fmt.Printf("%s  found   read_time=%s bytes=%d\n", r.DocumentPath, r.ReadTime.Format(time.RFC3339), len(r.Document))
				} else {
					fmt.Printf("%s  missing read_time=%s\n", r.DocumentPath, r.ReadTime.Format(time.RFC3339))
				}
			}
			return nil
		case <-time.After(30 * time.Second):
			return fmt.Errorf("firestreamctl: lookup timed out after 30s")
		}
	},
}

func init() {
	lookupCmd.Flags().StringSliceVar(&lookupPaths, "doc", nil, "document path to fetch (repeatable)")
	_ = lookupCmd.MarkFlagRequired("doc")
	rootCmd.AddCommand(lookupCmd)
}
