package evaluate

import (
	"context"
	"errors"
	"fmt"

	"outlier-aae/internal/dataset"
	"outlier-aae/internal/model"
	"outlier-aae/internal/tensor"
)

// ScoreOptions configures a scoring pass over a held-out folder.
type ScoreOptions struct {
	Folder     *dataset.Folder
	Decoder    dataset.Decoder
	BatchSize  int
	NumWorkers int
}

// Scored holds P-head probabilities and dataset classes of every image,
// in folder order.
type Scored struct {
	Keys    []string
	Probs   [][2]float64
	Classes []int
}

// Score runs every image through D then P with the networks in eval mode.
// The last batch may be smaller than BatchSize.
func Score(ctx context.Context, nets *model.Networks, opts ScoreOptions) (*Scored, error) {
	if opts.Folder == nil {
		return nil, errors.New("evaluate: no folder")
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("evaluate: batch size must be > 0 (got %d)", opts.BatchSize)
	}
	nets.SetTraining(false)
	defer nets.SetTraining(true)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	examples, errs, err := dataset.StartSampler(ctx, dataset.SamplerOptions{
		Entries:    opts.Folder.Entries,
		Decoder:    opts.Decoder,
		NumWorkers: opts.NumWorkers,
	})
	if err != nil {
		return nil, err
	}

	out := &Scored{}
	pending := make([]dataset.Example, 0, opts.BatchSize)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		images, classes, err := dataset.Stack(pending, opts.Decoder.Channels, opts.Decoder.Size)
		if err != nil {
			return err
		}
		probs := discriminate(nets, images)
		for i, ex := range pending {
			out.Keys = append(out.Keys, ex.Key)
			out.Probs = append(out.Probs, [2]float64{probs.Data[2*i], probs.Data[2*i+1]})
		}
		out.Classes = append(out.Classes, classes...)
		pending = pending[:0]
		return nil
	}

	for ex := range examples {
		pending = append(pending, ex)
		if len(pending) == opts.BatchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := <-errs; err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

func discriminate(nets *model.Networks, images *tensor.Tensor) *tensor.Tensor {
	score, _ := nets.D.Forward(images)
	_, probs := nets.P.Forward(score)
	return probs
}
