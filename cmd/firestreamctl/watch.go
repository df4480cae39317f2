package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lumen-data/firestream/internal/logging"
	"github.com/lumen-data/firestream/internal/resilience"
	"github.com/lumen-data/firestream/internal/wire"
)

var (
	watchTargetID int32
	watchQuery    string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Open a watch stream and print document-change notifications",
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

		ws := sess.ds.NewWatchStream()
		delegate := newWatchPrinter()
		ws.Start(delegate)

		if !waitForSignal(delegate.opened, 10*time.Second) {
			return fmt.Errorf("firestreamctl: watch stream did not open within 10s")
		}
		if err := sess.runOnQueue(func() error {
			return ws.Watch(wire.Target{TargetID: watchTargetID, Query: []byte(watchQuery)})
		}); err != nil {
			return fmt.Errorf("firestreamctl: watch: %w", err)
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sig:
		case <-delegate.done:
		}
		ws.Stop()
		sess.drain()
		return nil
	},
}

func init() {
	watchCmd.Flags().Int32Var(&watchTargetID, "target-id", 1, "client-assigned target id")
	watchCmd.Flags().StringVar(&watchQuery, "query", "", "opaque encoded query payload")
	rootCmd.AddCommand(watchCmd)
}

// watchPrinter is a stream.WatchDelegate that prints every event to
// stdout/the log sink. This is the CLI's entire "application" logic.
type watchPrinter struct {
	opened chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newWatchPrinter() *watchPrinter {
	return &watchPrinter{opened: make(chan struct{}), done: make(chan struct{})}
}

func (p *watchPrinter) OnOpen() {
	logging.Infof("watch: stream open")
	close(p.opened)
}

func (p *watchPrinter) OnClose(err *resilience.Error) {
	if err != nil {
		logging.Errorf("watch: stream closed: %v", err)
	} else {
		logging.Infof("watch: stream closed cleanly")
	}
	p.once.Do(func() { close(p.done) })
}

func (p *watchPrinter) OnChange(change wire.WatchChange, version time.Time) {
	fmt.Printf("[%s] kind=%-16s targets=%v doc=%q cause=%q\n",
		version.Format(time.RFC3339), change.Kind, change.TargetIDs, change.DocumentKey, change.Cause)
}

// waitForSignal blocks until ch is closed or timeout elapses, returning
// whether ch fired first.
func waitForSignal(ch <-chan struct{}, timeout time.Duration) bool {
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}
