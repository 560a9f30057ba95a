package main

import (
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/legamerdc/cosched/client"
	"github.com/legamerdc/cosched/server"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check a running echo server with concurrent clients",
	Args:  cobra.NoArgs,
	RunE:  runProbe,
}

func init() {
	def := server.DefaultConfig()
	f := probeCmd.Flags()
	f.String("addr", net.JoinHostPort(def.Host, strconv.Itoa(def.Port)), "server address")
	f.Int("clients", 2, "number of concurrent clients")
	f.Int("rounds", 3, "echo round trips per client")
	f.String("payload", "ping", "payload prefix sent by every client")
	f.Duration("timeout", 5*time.Second, "per-client deadline")
}

type probeResult struct {
	rounds atomic.Int64
	bytes  atomic.Int64
}

func runProbe(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	addr, _ := f.GetString("addr")
	clients, _ := f.GetInt("clients")
	rounds, _ := f.GetInt("rounds")
	payload, _ := f.GetString("payload")
	timeout, _ := f.GetDuration("timeout")
	if clients <= 0 || rounds <= 0 {
		return fmt.Errorf("clients and rounds must be positive")
	}

	var res probeResult
	start := time.Now()
	g, ctx := errgroup.WithContext(cmd.Context())
	for i := range clients {
		g.Go(func() error {
			c, err := client.DialContext(ctx, addr)
			if err != nil {
				return fmt.Errorf("client %d: %w", i, err)
			}
			defer c.Close()
			if err := c.SetDeadline(time.Now().Add(timeout)); err != nil {
				return err
			}
			for r := range rounds {
				msg := []byte(fmt.Sprintf("%s-%d-%d", payload, i, r))
				if _, err := c.Echo(msg); err != nil {
					return fmt.Errorf("client %d round %d: %w", i, r, err)
				}
				res.rounds.Add(1)
				res.bytes.Add(int64(len(msg)))
			}
			return nil
		})
	}
	err := g.Wait()
	elapsed := time.Since(start).Round(time.Microsecond)

	out := cmd.OutOrStdout()
	if err != nil {
		fmt.Fprintf(out, "%s %s: %v\n", color.New(color.FgRed, color.Bold).Sprint("FAIL"), addr, err)
		return err
	}
	fmt.Fprintf(out, "%s %s: %d clients, %d round trips, %d bytes in %s\n",
		color.New(color.FgGreen, color.Bold).Sprint("OK"), addr,
		clients, res.rounds.Load(), res.bytes.Load(), elapsed)
	return nil
}
