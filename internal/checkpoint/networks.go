package checkpoint

import (
	"fmt"

	"outlier-aae/internal/model"
)

// SaveNetworks writes one blob per network of nets under dir.
func SaveNetworks(dir string, epoch int, nets *model.Networks) error {
	for _, m := range nets.Modules() {
		if err := Save(ModelPath(dir, m.Name, epoch), FromModule(m.Name, epoch, m.Module)); err != nil {
			return err
		}
	}
	return nil
}

// LoadNetworks restores every network of nets from the blobs of epoch.
func LoadNetworks(dir string, epoch int, nets *model.Networks) error {
	for _, m := range nets.Modules() {
		b, err := Load(ModelPath(dir, m.Name, epoch))
		if err != nil {
			return err
		}
		if b.Name != m.Name {
			return fmt.Errorf("%w: file holds %s, want %s", ErrMismatch, b.Name, m.Name)
		}
		if err := b.Restore(m.Module); err != nil {
			return err
		}
	}
	return nil
}
