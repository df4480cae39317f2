package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/lumen-data/firestream/internal/logging"
	"github.com/lumen-data/firestream/internal/resilience"
	"github.com/lumen-data/firestream/internal/wire"
)

var (
	writeDocPath string
	writeKind    string
)

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Open a write stream, complete the handshake, and send one mutation",
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

		wst := sess.ds.NewWriteStream()
		delegate := newWritePrinter()
		wst.Start(delegate)

		if !waitForSignal(delegate.opened, 10*time.Second) {
			return fmt.Errorf("firestreamctl: write stream did not open within 10s")
		}
		if err := sess.runOnQueue(wst.WriteHandshake); err != nil {
			return fmt.Errorf("firestreamctl: write handshake: %w", err)
		}
		if !waitForSignal(delegate.handshook, 10*time.Second) {
			return fmt.Errorf("firestreamctl: handshake did not complete within 10s")
		}

		if writeDocPath != "" {
			mutation := wire.Mutation{Kind: writeKind, DocumentPath: writeDocPath, Fields: []byte("{}")}
			if err := sess.runOnQueue(func() error {
				return wst.WriteMutations([]wire.Mutation{mutation})
			}); err != nil {
				return fmt.Errorf("firestreamctl: write mutations: %w", err)
			}
			waitForSignal(delegate.responded, 10*time.Second)
		}

		wst.Stop()
		sess.drain()
		return nil
	},
}

func init() {
	writeCmd.Flags().StringVar(&writeDocPath, "doc", "", "document path to mutate; omit to only exercise the handshake")
	writeCmd.Flags().StringVar(&writeKind, "kind", "set", "mutation kind: set, update, delete, or transform")
	rootCmd.AddCommand(writeCmd)
}

type writePrinter struct {
	opened    chan struct{}
	handshook chan struct{}
	responded chan struct{}
	done      chan struct{}
	once      sync.Once
}

func newWritePrinter() *writePrinter {
	return &writePrinter{
		opened:    make(chan struct{}),
		handshook: make(chan struct{}),
		responded: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (p *writePrinter) OnOpen() {
	logging.Infof("write: stream open")
	close(p.opened)
}

func (p *writePrinter) OnClose(err *resilience.Error) {
	if err != nil {
		logging.Errorf("write: stream closed: %v", err)
	} else {
		logging.Infof("write: stream closed cleanly")
	}
	p.once.Do(func() { close(p.done) })
}

func (p *writePrinter) OnHandshakeComplete() {
	logging.Infof("write: handshake complete")
	close(p.handshook)
}

func (p *writePrinter) OnResponse(resp wire.WriteResponse) {
	fmt.Printf("commit_time=%s results=%d\n", resp.CommitTime.Format(time.RFC3339), len(resp.WriteResults))
	close(p.responded)
}
