package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/Sapo-biz/MusicFlow"
)

func main() {
	var (
		projectPath = flag.String("project", "", "project file (.json, .yaml); renders the demo when empty")
		outPath     = flag.String("out", "musicflow.wav", "output WAV path")
		sampleRate  = flag.Int("sample-rate", 48000, "output sample rate")
		seconds     = flag.Float64("seconds", 0, "render length in seconds (default: -loops pattern loops)")
		loops       = flag.Int("loops", 2, "pattern loops to render when -seconds is 0")
		tail        = flag.Float64("tail", 2, "extra seconds after the last loop for release and reverb")
	)
	flag.Parse()

	p := musicflow.DemoProject()
	if *projectPath != "" {
		f, err := os.Open(*projectPath)
		if err != nil {
			log.Fatal(err)
		}
		p, err = musicflow.DecodeProject(f, musicflow.FormatForPath(*projectPath))
		f.Close()
		if err != nil {
			log.Fatal(err)
		}
	}
	length, err := renderLength(p, *seconds, *loops, *tail)
	if err != nil {
		log.Fatal(err)
	}
	samples, err := musicflow.RenderProject(p, length, *sampleRate)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(*outPath)
	if err != nil {
		log.Fatal(err)
	}
	if err := musicflow.WriteWAV(f, samples, *sampleRate); err != nil {
		f.Close()
		log.Fatal(err)
	}
	if err := f.Close(); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("wrote %s (%.2fs, %d Hz)\n", *outPath, length, *sampleRate)
}

// renderLength returns seconds when positive, otherwise loops passes of
// the 16-step pattern at the project tempo plus tail.
func renderLength(p musicflow.Project, seconds float64, loops int, tail float64) (float64, error) {
	if seconds > 0 {
		return seconds, nil
	}
	if loops <= 0 {
		return 0, errors.New("need -seconds or a positive -loops")
	}
	bpm := p.Sequencer.BPM
	if bpm == 0 {
		bpm = 120
	}
	bpm = min(max(bpm, 60), 200)
	loop := 16 * 60 / (bpm * 4)
	return float64(loops)*loop + max(tail, 0), nil
}
