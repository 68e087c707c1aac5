package train

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/cnclabs/hetlink/internal/logger"
	"github.com/cnclabs/hetlink/internal/models/heteronet"
	"github.com/cnclabs/hetlink/pkg/dataset"
	"github.com/cnclabs/hetlink/pkg/nn"
)

// split names, in report order
const (
	SplitTrain = "train"
	SplitVal   = "val"
	SplitTest  = "test"
)

// Accuracies maps a split name to its accuracy
type Accuracies map[string]float64

// Snapshot is what a Checkpointer persists when the best model changes
type Snapshot struct {
	Epoch      int
	Step       int
	Loss       float64
	Accuracies Accuracies
	Params     []*nn.Param
}

// Checkpointer persists best-model snapshots
type Checkpointer interface {
	SaveBest(s Snapshot) error
}

// Record is one logged training step
type Record struct {
	Epoch int
	Loss  float64
	Train float64
	Val   float64
	Test  float64
}

// Result summarises a finished run
type Result struct {
	Best      Accuracies
	BestEpoch int
	History   []Record
}

// Config holds the optimisation settings of a run
type Config struct {
	Epochs       int
	LearningRate float64
	WeightDecay  float64
	Device       nn.Device
}

// Trainer runs the train/evaluate loop over the three splits
type Trainer struct {
	model   *heteronet.HeteroNet
	opt     *nn.Adam
	loaders map[string]*dataset.Loader
	cfg     Config

	store Checkpointer
	log   *logger.Logger
	out   io.Writer

	best *BestTracker[*heteronet.HeteroNet]
}

// Option customises a Trainer
type Option func(*Trainer)

// WithCheckpointer persists every new best model
func WithCheckpointer(store Checkpointer) Option {
	return func(t *Trainer) {
		t.store = store
	}
}

// WithLogger sets the diagnostic logger
func WithLogger(log *logger.Logger) Option {
	return func(t *Trainer) {
		if log != nil {
			t.log = log
		}
	}
}

// WithOutput redirects the report lines, stdout by default
func WithOutput(w io.Writer) Option {
	return func(t *Trainer) {
		t.out = w
	}
}

// NewTrainer wires a model to its train, val and test loaders
func NewTrainer(model *heteronet.HeteroNet, train, val, test *dataset.Loader, cfg Config, opts ...Option) (*Trainer, error) {
	if model == nil {
		return nil, errors.New("trainer: nil model")
	}
	if train == nil || val == nil || test == nil {
		return nil, errors.New("trainer: train, val and test loaders are all required")
	}
	t := &Trainer{
		model: model,
		opt:   nn.NewAdam(cfg.LearningRate, cfg.WeightDecay),
		loaders: map[string]*dataset.Loader{
			SplitTrain: train,
			SplitVal:   val,
			SplitTest:  test,
		},
		cfg:  cfg,
		log:  logger.Nop(),
		out:  os.Stdout,
		best: &BestTracker[*heteronet.HeteroNet]{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Run trains for epochs 1..Epochs-1, evaluating val and test after every
// batch, then reports the best model on all three splits
func (t *Trainer) Run(ctx context.Context) (*Result, error) {
	res := &Result{}
	step := 0

	for epoch := 1; epoch < t.cfg.Epochs; epoch++ {
		var trainCount Counter

		for _, b := range t.loaders[SplitTrain].Batches() {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			b = b.To(t.cfg.Device)

			t.model.Train()
			t.model.ZeroGrad()
			pass, err := t.model.Forward(b)
			if err != nil {
				return nil, errors.Wrapf(err, "epoch %d", epoch)
			}
			trainCount.AddScores(pass.Pred, b.EdgeLabel)
			loss, dPred := t.model.Loss(pass.Pred, b.EdgeLabel)
			t.model.Backward(pass, dPred)
			t.opt.Step(t.model.Params())
			step++

			trainAcc, err := trainCount.Accuracy()
			if err != nil {
				return nil, errors.Wrapf(err, "epoch %d: %s", epoch, SplitTrain)
			}
			accs, err := Evaluate(ctx, t.model, t.cfg.Device, t.pick(SplitVal, SplitTest))
			if err != nil {
				return nil, errors.Wrapf(err, "epoch %d", epoch)
			}
			accs[SplitTrain] = trainAcc

			rec := Record{Epoch: epoch, Loss: loss, Train: trainAcc, Val: accs[SplitVal], Test: accs[SplitTest]}
			res.History = append(res.History, rec)
			fmt.Fprintf(t.out, "Epoch: %03d, Train loss: %.4f, Train: %.4f, Val: %.4f, Test: %.4f\n",
				rec.Epoch, rec.Loss, rec.Train, rec.Val, rec.Test)

			if t.best.Observe(rec.Val, t.model.Clone) {
				res.BestEpoch = epoch
				t.log.Debug("new best model", "epoch", epoch, "step", step, "val", rec.Val)
				if t.store != nil {
					snap := Snapshot{Epoch: epoch, Step: step, Loss: loss, Accuracies: accs, Params: t.best.Best().Params()}
					if err := t.store.SaveBest(snap); err != nil {
						return nil, errors.Wrap(err, "save best model")
					}
				}
			}
		}
	}

	best := t.best.Best()
	if !t.best.Seen() {
		t.log.Warn("validation accuracy never improved on 0, reporting the live model")
		best = t.model
	}
	accs, err := Evaluate(ctx, best, t.cfg.Device, t.pick(SplitTrain, SplitVal, SplitTest))
	if err != nil {
		return nil, errors.Wrap(err, "best model")
	}
	res.Best = accs
	color.New(color.FgGreen).Fprintf(t.out, "Best, Train: %.4f, Val: %.4f, Test: %.4f\n",
		accs[SplitTrain], accs[SplitVal], accs[SplitTest])
	return res, nil
}

// Model returns the live model
func (t *Trainer) Model() *heteronet.HeteroNet {
	return t.model
}

func (t *Trainer) pick(names ...string) map[string]*dataset.Loader {
	out := make(map[string]*dataset.Loader, len(names))
	for _, name := range names {
		out[name] = t.loaders[name]
	}
	return out
}

// Evaluate puts the model in eval mode and computes the accuracy of each
// loader, aggregated over its batches. Loaders are evaluated concurrently.
func Evaluate(ctx context.Context, model *heteronet.HeteroNet, device nn.Device, loaders map[string]*dataset.Loader) (Accuracies, error) {
	model.Eval()

	var mu sync.Mutex
	accs := make(Accuracies, len(loaders))
	g, ctx := errgroup.WithContext(ctx)
	for name, loader := range loaders {
		name, loader := name, loader
		g.Go(func() error {
			var count Counter
			for _, b := range loader.Batches() {
				if err := ctx.Err(); err != nil {
					return err
				}
				b = b.To(device)
				pass, err := model.Forward(b)
				if err != nil {
					return errors.Wrap(err, name)
				}
				count.AddScores(pass.Pred, b.EdgeLabel)
			}
			acc, err := count.Accuracy()
			if err != nil {
				return errors.Wrap(err, name)
			}
			mu.Lock()
			accs[name] = acc
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return accs, nil
}
