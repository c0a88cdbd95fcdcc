// Command seqplay loads a Standard MIDI File and plays it out a chosen
// MIDI output port, driven by the Sequencer Engine and the Tick
// Component Framework. Run with -list to enumerate available output
// ports. Grounded on the donor's cmd/* convention (one main.go per
// runnable, flag-based CLI, Shift-JIS-aware file handling) — see
// cmd/son-et/main.go.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/zurustar/miditrack/pkg/logger"
	"github.com/zurustar/miditrack/pkg/port"
	"github.com/zurustar/miditrack/pkg/scoreio"
	"github.com/zurustar/miditrack/pkg/sequencer"
	"github.com/zurustar/miditrack/pkg/tickcomp"
)

func main() {
	listPorts := flag.Bool("list", false, "list available MIDI output ports and exit")
	portIndex := flag.Int("port", 0, "output port index to play through")
	countIn := flag.Bool("count-in", false, "wait one silent measure of count-in beats before the first note")
	flag.Parse()

	if *listPorts {
		for i, name := range port.ListOutputs() {
			fmt.Printf("%d: %s\n", i, name)
		}
		return
	}

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: seqplay [-list] [-port N] [-count-in] <file.mid>\n")
		os.Exit(1)
	}

	if err := run(flag.Arg(0), *portIndex, *countIn); err != nil {
		fmt.Fprintf(os.Stderr, "seqplay: %v\n", err)
		os.Exit(1)
	}
}

func run(path string, portIndex int, countIn bool) error {
	log := logger.GetLogger()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	mt, err := (scoreio.SMFReader{}).Read(f)
	if err != nil {
		return fmt.Errorf("read score: %w", err)
	}

	driver, err := port.NewGomidiDriverByIndex(portIndex)
	if err != nil {
		return err
	}
	manager := port.NewManager([]port.OutputDriver{driver}, nil)

	clock := tickcomp.New(tickcomp.DefaultTickInterval, log)
	engine, err := sequencer.NewEngine(manager, clock, sequencer.Options{
		PlayMode:       sequencer.PlayBounded,
		CountInEnabled: countIn,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("construct engine: %w", err)
	}
	defer engine.Close()

	if err := engine.Load(mt); err != nil {
		return fmt.Errorf("load score: %w", err)
	}

	clock.Start()
	defer clock.Stop()

	if err := engine.Play(); err != nil {
		return fmt.Errorf("play: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-sig:
			log.Info("seqplay: interrupted")
			return engine.Stop()
		case <-ticker.C:
			if !engine.Playing() {
				return nil
			}
		}
	}
}
