// Command gen-fixture writes a synthetic EEG dataset (raw, noise, forward,
// epochs and evoked files) for trying out eeg-dipole.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/acpuchades/eegtools/internal/simulate"
)

func main() {
	cfg := simulate.DefaultConfig()
	dir := flag.String("o", ".", "output directory")
	name := flag.String("name", "sample", "file name prefix")
	flag.IntVar(&cfg.Channels, "channels", cfg.Channels, "number of EEG electrodes")
	flag.IntVar(&cfg.SourcesPerHemi, "sources", cfg.SourcesPerHemi, "sources per hemisphere")
	flag.Float64Var(&cfg.Duration, "duration", cfg.Duration, "recording length in seconds")
	flag.Float64Var(&cfg.SFreq, "sfreq", cfg.SFreq, "sampling frequency in Hz")
	flag.Float64Var(&cfg.Noise, "noise", cfg.Noise, "sensor noise standard deviation in volts")
	flag.BoolVar(&cfg.FreeOrient, "free", false, "free source orientations")
	flag.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "random seed")
	flag.StringVar(&cfg.Subject, "subject", cfg.Subject, "subject name stored in the forward model")
	flag.Parse()

	if err := os.MkdirAll(*dir, 0o755); err != nil {
		log.Fatalf("create %s: %v", *dir, err)
	}
	ds, err := simulate.Generate(cfg)
	if err != nil {
		log.Fatal(err)
	}
	files, err := ds.WriteFiles(*dir, *name)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("%d events, %d sources", len(ds.Events), ds.Forward.NumSources())
	for _, p := range []string{files.Raw, files.Noise, files.Forward, files.Epochs, files.Evoked} {
		log.Printf("✓ Created: %s", p)
	}
}
