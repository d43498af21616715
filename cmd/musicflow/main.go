package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/Sapo-biz/MusicFlow"
	"github.com/Sapo-biz/MusicFlow/internal/audio"
)

var errQuit = errors.New("quit")

func main() {
	cfg := defaultConfig()
	var (
		configPath = flag.String("config", "", "YAML config file; explicit flags override it")
		sampleRate = flag.Int("sample-rate", cfg.SampleRate, "output sample rate")
		output     = flag.String("output", cfg.Output, "audio output: ebiten|oto|none")
		bpm        = flag.Float64("bpm", 0, "tempo override (60-200)")
		volume     = flag.Float64("volume", cfg.Volume, "master volume (0-1)")
		lookahead  = flag.Int("lookahead-ms", cfg.LookaheadMs, "scheduling lookahead in milliseconds")
		tick       = flag.Int("tick-ms", cfg.TickMs, "scheduler wake-up interval in milliseconds")
		project    = flag.String("project", "", "project file (.json, .yaml); plays a demo when empty")
		save       = flag.String("save", "", "write the session to this file on exit")
		duration   = flag.String("duration", "", "stop after this long, e.g. 30s (default: until quit)")
		verbose    = flag.Bool("v", false, "print every step")
		maxVoices  = flag.Int("max-voices", cfg.MaxVoices, "live voice count that triggers a warning")
	)
	flag.Parse()

	if *configPath != "" {
		if err := loadConfig(*configPath, &cfg); err != nil {
			log.Fatal(err)
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "sample-rate":
			cfg.SampleRate = *sampleRate
		case "output":
			cfg.Output = *output
		case "bpm":
			cfg.BPM = *bpm
		case "volume":
			cfg.Volume = *volume
		case "lookahead-ms":
			cfg.LookaheadMs = *lookahead
		case "tick-ms":
			cfg.TickMs = *tick
		case "project":
			cfg.Project = *project
		case "save":
			cfg.Save = *save
		case "duration":
			cfg.Duration = *duration
		case "v":
			cfg.Verbose = *verbose
		case "max-voices":
			cfg.MaxVoices = *maxVoices
		}
	})

	if err := run(cfg); err != nil {
		log.Fatal(err)
	}
}

func run(cfg config) error {
	backend, err := audio.ParseBackend(cfg.Output)
	if err != nil {
		return fmt.Errorf("invalid -output %q (expected ebiten|oto|none)", cfg.Output)
	}
	if backend == audio.BackendNone {
		return errors.New("-output none has nothing to play; use musicflow-render for offline output")
	}
	stopAfter, err := cfg.duration()
	if err != nil {
		return err
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		state, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("raw terminal: %w", err)
		}
		defer term.Restore(int(os.Stdin.Fd()), state)
		log.SetOutput(crlfWriter{os.Stderr})
	}

	e, err := musicflow.New(
		musicflow.WithSampleRate(cfg.SampleRate),
		musicflow.WithOutput(backend),
		musicflow.WithLookahead(time.Duration(cfg.LookaheadMs)*time.Millisecond),
		musicflow.WithTickInterval(time.Duration(cfg.TickMs)*time.Millisecond),
		musicflow.WithLogger(log.Default()),
		musicflow.WithVoiceLimit(cfg.MaxVoices),
	)
	if err != nil {
		return err
	}
	defer e.Close()

	p, name := musicflow.DemoProject(), "demo"
	if cfg.Project != "" {
		if p, err = readProject(cfg.Project); err != nil {
			return err
		}
		name = cfg.Project
	}
	if err := e.LoadProject(p); err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}
	if cfg.BPM > 0 {
		e.SetBPM(cfg.BPM)
	}
	e.SetMasterVolume(cfg.Volume)
	for _, name := range cfg.Effects {
		if err := e.ToggleEffect(name, true); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	out := io.Writer(os.Stdout)
	if interactive {
		out = crlfWriter{os.Stdout}
	}

	events := e.Watch()
	g.Go(func() error {
		return printEvents(ctx, out, events, cfg.Verbose)
	})
	if interactive {
		keys := readKeys(os.Stdin)
		g.Go(func() error {
			return runKeyboard(ctx, out, newKeyboard(e), keys)
		})
		fmt.Fprint(out, helpText)
	}
	if stopAfter > 0 {
		g.Go(func() error {
			select {
			case <-time.After(stopAfter):
				return errQuit
			case <-ctx.Done():
				return nil
			}
		})
	}

	fmt.Fprintf(out, "playing %d tracks at %.0f BPM\n", len(e.Tracks()), e.BPM())
	e.Play()
	err = g.Wait()
	e.Stop()
	if cfg.Save != "" {
		if serr := writeProject(cfg.Save, e.Project()); serr != nil {
			return serr
		}
		fmt.Fprintf(out, "saved %s\n", cfg.Save)
	}
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printEvents(ctx context.Context, w io.Writer, events <-chan musicflow.Event, verbose bool) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case musicflow.EventTransport:
				fmt.Fprintf(w, "%s at step %d\n", ev.State, ev.Step)
			case musicflow.EventStep:
				if verbose {
					fmt.Fprintf(w, "step %02d  %.3fs\n", ev.Step, ev.Time)
				}
			}
		}
	}
}

func readProject(path string) (musicflow.Project, error) {
	f, err := os.Open(path)
	if err != nil {
		return musicflow.Project{}, err
	}
	defer f.Close()
	p, err := musicflow.DecodeProject(f, musicflow.FormatForPath(path))
	if err != nil {
		return musicflow.Project{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func writeProject(path string, p musicflow.Project) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := musicflow.EncodeProject(f, p, musicflow.FormatForPath(path)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// crlfWriter turns LF into CRLF for a terminal in raw mode.
type crlfWriter struct{ w io.Writer }

func (c crlfWriter) Write(p []byte) (int, error) {
	start := 0
	for i, b := range p {
		if b != '\n' {
			continue
		}
		if _, err := c.w.Write(p[start:i]); err != nil {
			return start, err
		}
		if _, err := c.w.Write([]byte("\r\n")); err != nil {
			return i, err
		}
		start = i + 1
	}
	if _, err := c.w.Write(p[start:]); err != nil {
		return start, err
	}
	return len(p), nil
}
