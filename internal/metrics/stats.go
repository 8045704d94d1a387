package metrics

import "time"

// Losses are the per-batch objective values of the alternating loop.
type Losses struct {
	// ZD is the latent discriminator loss.
	ZD float64
	// Recon is the reconstruction MSE of the E+G step.
	Recon float64
	// E is the encoder's adversarial loss against ZD.
	E float64
	// D is the calibrated discriminator loss.
	D float64
	// G is the calibrated generator loss.
	G float64
}

func (l Losses) add(o Losses) Losses {
	return Losses{ZD: l.ZD + o.ZD, Recon: l.Recon + o.Recon, E: l.E + o.E, D: l.D + o.D, G: l.G + o.G}
}

func (l Losses) scale(k float64) Losses {
	return Losses{ZD: l.ZD * k, Recon: l.Recon * k, E: l.E * k, D: l.D * k, G: l.G * k}
}

// Window accumulates timing and loss stats across multiple steps.
type Window struct {
	samples int
	data    time.Duration
	compute time.Duration
	steps   int
	sum     Losses
	last    Losses
}

// Record adds a new measurement to the window.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, losses Losses) {
	w.samples += batchSize
	w.data += dataTime
	w.compute += computeTime
	w.steps++
	w.sum = w.sum.add(losses)
	w.last = losses
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Steps: w.steps, Last: w.last}
	total := w.data + w.compute
	if total > 0 {
		snap.ImagesPerSec = float64(w.samples) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
		snap.Mean = w.sum.scale(1 / float64(w.steps))
	}

	*w = Window{}
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	Steps        int
	ImagesPerSec float64
	AvgDataMS    float64
	AvgComputeMS float64
	Mean         Losses
	Last         Losses
}
