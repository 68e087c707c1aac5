package train

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cnclabs/hetlink/internal/models/heteronet"
	"github.com/cnclabs/hetlink/pkg/dataset"
	"github.com/cnclabs/hetlink/pkg/hetero"
	"github.com/cnclabs/hetlink/pkg/knowledge"
	"github.com/cnclabs/hetlink/pkg/nn"
)

type memoryStore struct {
	saved []Snapshot
}

func (m *memoryStore) SaveBest(s Snapshot) error {
	m.saved = append(m.saved, s)
	return nil
}

type failingStore struct{}

func (failingStore) SaveBest(Snapshot) error {
	return errors.New("disk full")
}

func ringLoaders(t *testing.T, n int) (*hetero.HeteroGraph, *dataset.Loader, *dataset.Loader, *dataset.Loader) {
	t.Helper()
	var sb strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "%d %d %d\n", i, (i+1)%n, i%2)
		fmt.Fprintf(&sb, "%d %d %d\n", i, (i+3)%n, (i+1)%2)
	}
	kg := knowledge.NewKnowledgeGraph()
	require.NoError(t, kg.ReadEdgeList(strings.NewReader(sb.String())))
	hg, err := hetero.FromAnnotated(hetero.WNTransform(kg, kg.NumEdgeTypes(), hetero.DefaultInputDim))
	require.NoError(t, err)

	ds, err := dataset.New(hg, dataset.DefaultOptions())
	require.NoError(t, err)
	train, val, test, err := ds.Split(true, []float64{0.8, 0.1, 0.1})
	require.NoError(t, err)

	loaders := make([]*dataset.Loader, 0, 3)
	for _, s := range []*dataset.Split{train, val, test} {
		l, err := dataset.NewLoader(s, 1)
		require.NoError(t, err)
		loaders = append(loaders, l)
	}
	return hg, loaders[0], loaders[1], loaders[2]
}

func cpu(t *testing.T) nn.Device {
	d, err := nn.ParseDevice("cpu")
	require.NoError(t, err)
	return d
}

func TestRunReportsEveryStepAndBest(t *testing.T) {
	hg, train, val, test := ringLoaders(t, 30)
	model := heteronet.New(hg, 8, 0.2, heteronet.WithSeed(4), heteronet.WithWorkers(2))

	var out bytes.Buffer
	store := &memoryStore{}
	tr, err := NewTrainer(model, train, val, test,
		Config{Epochs: 6, LearningRate: 0.01, WeightDecay: 5e-4, Device: cpu(t)},
		WithOutput(&out), WithCheckpointer(store))
	require.NoError(t, err)

	res, err := tr.Run(context.Background())
	require.NoError(t, err)

	// epochs run from 1 to Epochs-1 with one batch each
	require.Len(t, res.History, 5)
	for i, rec := range res.History {
		assert.Equal(t, i+1, rec.Epoch)
		for _, acc := range []float64{rec.Train, rec.Val, rec.Test} {
			assert.GreaterOrEqual(t, acc, 0.0)
			assert.LessOrEqual(t, acc, 1.0)
		}
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 6)
	assert.True(t, strings.HasPrefix(lines[0], "Epoch: 001, Train loss: "), lines[0])
	assert.Contains(t, lines[4], "Epoch: 005")
	assert.Contains(t, lines[5], "Best, Train: ")
	assert.Len(t, res.Best, 3)

	// every saved snapshot is a strict improvement on the previous one
	prev := 0.0
	for _, s := range store.saved {
		assert.Greater(t, s.Accuracies[SplitVal], prev)
		prev = s.Accuracies[SplitVal]
		assert.Len(t, s.Params, len(model.Params()))
	}
	if len(store.saved) > 0 {
		assert.Equal(t, store.saved[len(store.saved)-1].Epoch, res.BestEpoch)
	}
}

func TestRunWithSingleEpochOnlyReportsBest(t *testing.T) {
	hg, train, val, test := ringLoaders(t, 20)
	model := heteronet.New(hg, 4, 0.2, heteronet.WithSeed(1))

	var out bytes.Buffer
	tr, err := NewTrainer(model, train, val, test, Config{Epochs: 1, LearningRate: 0.001, Device: cpu(t)}, WithOutput(&out))
	require.NoError(t, err)

	res, err := tr.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.History)
	assert.Equal(t, 0, res.BestEpoch)
	assert.Contains(t, out.String(), "Best, Train: ")
}

func TestRunPropagatesCheckpointFailure(t *testing.T) {
	hg, train, val, test := ringLoaders(t, 20)
	model := heteronet.New(hg, 4, 0.2, heteronet.WithSeed(1))

	var out bytes.Buffer
	tr, err := NewTrainer(model, train, val, test,
		Config{Epochs: 30, LearningRate: 0.01, Device: cpu(t)},
		WithOutput(&out), WithCheckpointer(failingStore{}))
	require.NoError(t, err)

	// any positive validation accuracy triggers a save, which fails
	_, err = tr.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestRunHonoursCancellation(t *testing.T) {
	hg, train, val, test := ringLoaders(t, 20)
	model := heteronet.New(hg, 4, 0.2)
	tr, err := NewTrainer(model, train, val, test, Config{Epochs: 10, Device: cpu(t)}, WithOutput(&bytes.Buffer{}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestEvaluateIsReadOnlyAndDeterministic(t *testing.T) {
	hg, _, val, test := ringLoaders(t, 24)
	model := heteronet.New(hg, 8, 0.5, heteronet.WithSeed(7))
	loaders := map[string]*dataset.Loader{SplitVal: val, SplitTest: test}

	first, err := Evaluate(context.Background(), model, cpu(t), loaders)
	require.NoError(t, err)
	second, err := Evaluate(context.Background(), model, cpu(t), loaders)
	require.NoError(t, err)

	assert.False(t, model.Training())
	assert.Equal(t, first, second)
	assert.Len(t, first, 2)
}

func TestNewTrainerValidates(t *testing.T) {
	hg, train, val, _ := ringLoaders(t, 20)
	_, err := NewTrainer(nil, train, val, val, Config{})
	assert.Error(t, err)
	_, err = NewTrainer(heteronet.New(hg, 4, 0.2), train, val, nil, Config{})
	assert.Error(t, err)
}
