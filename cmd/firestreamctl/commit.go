package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lumen-data/firestream/internal/datastore"
	"github.com/lumen-data/firestream/internal/resilience"
	"github.com/lumen-data/firestream/internal/wire"
)

var (
	commitDocPath string
	commitKind    string
)

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Issue a single-mutation commit through the unary RPC dispatcher",
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

		mutation := wire.Mutation{Kind: commitKind, DocumentPath: commitDocPath, Fields: []byte("{}")}

		type outcome struct {
			result datastore.CommitResult
			err    *resilience.Error
		}
		done := make(chan outcome, 1)
		sess.ds.Commit([]wire.Mutation{mutation}, func(res datastore.CommitResult, err *resilience.Error) {
			done <- outcome{res, err}
		})

		select {
		case o := <-done:
			if o.err != nil {
				return fmt.Errorf("firestreamctl: commit: %v", o.err)
			}
			fmt.Printf("commit_time=%s results=%d\n", o.result.CommitTime.Format(time.RFC3339), len(o.result.Results))
			return nil
		case <-time.After(30 * time.Second):
			return fmt.Errorf("firestreamctl: commit timed out after 30s")
		}
	},
}

func init() {
	commitCmd.Flags().StringVar(&commitDocPath, "doc", "", "document path to mutate")
	commitCmd.Flags().StringVar(&commitKind, "kind", "set", "mutation kind: set, update, delete, or transform")
	_ = commitCmd.MarkFlagRequired("doc")
	rootCmd.AddCommand(commitCmd)
}
