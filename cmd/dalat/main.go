// Command dalat runs one fleet member of the layered messaging stack:
// Perfect Link, Best-Effort Broadcast, Uniform Reliable Broadcast, FIFO
// re-ordering, and Lattice Agreement, wired together according to the
// milestone selected by the --mode flag.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"dalat/beb"
	"dalat/fifo"
	"dalat/fll"
	"dalat/hostfile"
	"dalat/latticeagreement"
	"dalat/outsink"
	"dalat/perfectlink"
	"dalat/runconfig"
	"dalat/urb"
	"dalat/wire"
)

func main() {
	id := flag.Int("id", 0, "this process's host id")
	hostsPath := flag.String("hosts", "", "path to the hosts file")
	outputPath := flag.String("output", "", "path to the output file")
	configPath := flag.String("config", "", "path to the milestone config file")
	mode := flag.String("mode", "pl", "milestone to run: pl, frb, or la")
	flag.Parse()

	logger := log.New(os.Stderr, fmt.Sprintf("[dalat %d] ", *id), log.Lshortfile)

	if err := run(*id, *hostsPath, *outputPath, *configPath, *mode, logger); err != nil {
		logger.Printf("fatal: %v", err)
		os.Exit(1)
	}
}

func parseMode(s string) (runconfig.Mode, error) {
	switch s {
	case "pl":
		return runconfig.ModePL, nil
	case "frb":
		return runconfig.ModeFRB, nil
	case "la":
		return runconfig.ModeLA, nil
	default:
		return 0, fmt.Errorf("unknown mode %q (want pl, frb, or la)", s)
	}
}

func run(id int, hostsPath, outputPath, configPath, modeStr string, logger *log.Logger) error {
	if hostsPath == "" || outputPath == "" || configPath == "" {
		return fmt.Errorf("--hosts, --output, and --config are all required")
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return err
	}

	hosts, err := hostfile.Load(hostsPath)
	if err != nil {
		return err
	}
	self, ok := hosts.Get(uint16(id))
	if !ok {
		return fmt.Errorf("id %d not present in %s", id, hostsPath)
	}

	cfg, err := runconfig.Load(configPath, mode)
	if err != nil {
		return err
	}

	sink, err := outsink.Open(outputPath)
	if err != nil {
		return err
	}
	defer sink.Close()

	conn, err := fll.Bind(self.Addr, logger)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	switch mode {
	case runconfig.ModePL:
		return runPL(conn, hosts, self, cfg.PL, sink, sigCh, logger)
	case runconfig.ModeFRB:
		return runFRB(conn, hosts, self, cfg.FRB, sink, sigCh, logger)
	case runconfig.ModeLA:
		return runLA(conn, hosts, self, cfg.LA, sink, sigCh, logger)
	}
	return nil
}

// runPL implements PL-mode: every non-receiver process sends the strings
// "1".."m" to receiver_id over Perfect Link.
func runPL(conn *fll.Link, hosts *hostfile.Hosts, self hostfile.Host, cfg runconfig.PLConfig, sink *outsink.Sink, sigCh chan os.Signal, logger *log.Logger) error {
	pl := perfectlink.New(conn, hosts, self, logger, func(sender uint16, payload []byte) {
		sink.Deliver(sender, string(payload))
	})
	defer pl.Shutdown()

	if self.ID != cfg.ReceiverID {
		go func() {
			for i := 1; i <= cfg.M; i++ {
				n := strconv.Itoa(i)
				sink.Broadcast(n)
				pl.Send([]byte(n), cfg.ReceiverID)
			}
		}()
	}

	<-sigCh
	logger.Print("shutting down")
	return nil
}

// runFRB implements FRB-mode: every process FIFO-URB-broadcasts "1".."m".
func runFRB(conn *fll.Link, hosts *hostfile.Hosts, self hostfile.Host, cfg runconfig.FRBConfig, sink *outsink.Sink, sigCh chan os.Signal, logger *log.Logger) error {
	var u *urb.URB
	buf := fifo.New(func(frame wire.BroadcastFrame) {
		sink.Deliver(frame.SrcID, string(frame.Inner))
	})

	pl := perfectlink.New(conn, hosts, self, logger, func(sender uint16, payload []byte) {
		u.OnBEBDeliver(sender, payload)
	})
	defer pl.Shutdown()

	b := beb.New(pl, hosts)
	u = urb.New(b, hosts, self.ID, buf.OnURBDeliver)

	go func() {
		for i := 1; i <= cfg.M; i++ {
			n := strconv.Itoa(i)
			sink.Broadcast(n)
			u.Broadcast([]byte(n))
		}
	}()

	<-sigCh
	logger.Print("shutting down")
	return nil
}

// runLA implements LA-mode: propose each configured round's set in
// order, writing one decided-set line per round as decisions arrive (they
// may complete out of round order, but the LA round buffer guarantees
// upcalls are in order).
func runLA(conn *fll.Link, hosts *hostfile.Hosts, self hostfile.Host, cfg runconfig.LAConfig, sink *outsink.Sink, sigCh chan os.Signal, logger *log.Logger) error {
	var la *latticeagreement.LA

	pl := perfectlink.New(conn, hosts, self, logger, func(sender uint16, payload []byte) {
		la.OnBEBDeliver(payload)
	})
	defer pl.Shutdown()

	b := beb.New(pl, hosts)
	la = latticeagreement.New(latticeagreement.Config{
		Hosts:     hosts,
		Self:      self.ID,
		Logger:    logger,
		Broadcast: b,
		Send: func(dest uint16, payload []byte) {
			pl.Send(payload, dest)
		},
		OnDecide: func(round uint64, decided wire.IntSet) {
			sink.Decision(decided.Sorted())
		},
	})
	defer la.Shutdown()

	for r, round := range cfg.Rounds {
		go func(r uint64, values []int32) {
			la.Propose(r, wire.NewIntSetFrom(values))
		}(uint64(r), round.Values)
	}

	<-sigCh
	logger.Print("shutting down")
	return nil
}
