package simulate

import (
	"fmt"
	"path/filepath"

	"github.com/acpuchades/eegtools/internal/meas"
)

// Files are the paths written by WriteFiles.
type Files struct {
	Raw     string
	Noise   string
	Forward string
	Epochs  string
	Evoked  string
}

// WriteFiles saves the dataset under dir using MNE naming:
// <name>-raw.fif, <name>-noise-raw.fif, <name>-fwd.fif, <name>-epo.fif and
// <name>-ave.fif. Epochs span [-0.2, 0.5] s around every event.
func (d *Dataset) WriteFiles(dir, name string) (Files, error) {
	f := Files{
		Raw:     filepath.Join(dir, name+"-raw.fif"),
		Noise:   filepath.Join(dir, name+"-noise-raw.fif"),
		Forward: filepath.Join(dir, name+"-fwd.fif"),
		Epochs:  filepath.Join(dir, name+"-epo.fif"),
		Evoked:  filepath.Join(dir, name+"-ave.fif"),
	}
	if err := d.Raw.Save(f.Raw); err != nil {
		return f, fmt.Errorf("save raw: %w", err)
	}
	if err := d.Noise.Save(f.Noise); err != nil {
		return f, fmt.Errorf("save noise: %w", err)
	}
	if err := d.Forward.Save(f.Forward); err != nil {
		return f, fmt.Errorf("save forward: %w", err)
	}

	epochs, err := meas.NewEpochs(d.Raw, d.Events, nil, -0.2, 0.5)
	if err != nil {
		return f, err
	}
	if err := epochs.Save(f.Epochs); err != nil {
		return f, fmt.Errorf("save epochs: %w", err)
	}
	evoked, err := epochs.Average()
	if err != nil {
		return f, err
	}
	if err := evoked.Save(f.Evoked); err != nil {
		return f, fmt.Errorf("save evoked: %w", err)
	}
	return f, nil
}
