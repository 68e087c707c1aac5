package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cnclabs/hetlink/internal/checkpoint"
	"github.com/cnclabs/hetlink/internal/logger"
	"github.com/cnclabs/hetlink/pkg/knowledge"
	"github.com/cnclabs/hetlink/pkg/nn"
)

func parse(t *testing.T, args ...string) CLI {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli, kong.Name("linkpred"))
	require.NoError(t, err)
	_, err = parser.Parse(args)
	require.NoError(t, err)
	return cli
}

func writeGraph(t *testing.T, dir string, n int) string {
	t.Helper()
	var sb strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "%d %d %d\n", i, (i+1)%n, i%2)
		fmt.Fprintf(&sb, "%d %d %d\n", i, (i+4)%n, (i+1)%2)
	}
	path := filepath.Join(dir, "toy.txt")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

func TestFlagDefaults(t *testing.T) {
	cli := parse(t)
	assert.Equal(t, "cuda:0", cli.Device)
	assert.Equal(t, "data/WN18.gpickle", cli.DataPath)
	assert.Equal(t, 500, cli.Epochs)
	assert.Equal(t, "disjoint", cli.Mode)
	assert.Equal(t, "MlpMessage", cli.Model)
	assert.Equal(t, 0.8, cli.EdgeMessageRatio)
	assert.Equal(t, 1.0, cli.NegSamplingRatio)
	assert.Equal(t, 16, cli.HiddenDim)
	assert.Equal(t, int64(-1), cli.Seed)
	assert.Empty(t, cli.CheckpointDir)
}

func TestFlagUnderscoreNames(t *testing.T) {
	cli := parse(t, "--data_path=g.txt", "--edge_message_ratio=0.6", "--neg_sampling_ratio=2", "--mode=all", "--hidden_dim=8")
	assert.Equal(t, "g.txt", cli.DataPath)
	assert.Equal(t, 0.6, cli.EdgeMessageRatio)
	assert.Equal(t, 2.0, cli.NegSamplingRatio)
	assert.Equal(t, "all", cli.Mode)
	assert.Equal(t, 8, cli.HiddenDim)

	var bad CLI
	parser, err := kong.New(&bad)
	require.NoError(t, err)
	_, err = parser.Parse([]string{"--mode=sometimes"})
	assert.Error(t, err)
}

func TestRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	cli := parse(t,
		"--device=cpu",
		"--data_path="+writeGraph(t, dir, 30),
		"--epochs=4",
		"--seed=3",
		"--workers=2",
		"--checkpoint_dir="+filepath.Join(dir, "ckpt"),
		"--log_mode=prod",
	)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), cli, &out))

	text := out.String()
	assert.Contains(t, text, "edge train mode: disjoint")
	assert.Contains(t, text, "\n60\n")
	assert.Contains(t, text, "Each edge has edge ID (id) and categorical label (e_label). Example: ")
	assert.Contains(t, text, "node_type: n1")
	assert.Contains(t, text, "Knowledge graph loaded:")
	assert.Contains(t, text, "Model Setting:")
	assert.Contains(t, text, "Epoch: 003, Train loss: ")
	assert.NotContains(t, text, "Epoch: 004")
	assert.Contains(t, text, "Best, Train: ")

	store, err := checkpoint.Open(filepath.Join(dir, "ckpt"))
	require.NoError(t, err)
	defer store.Close()
	meta, _, err := store.Load()
	if errors.Is(err, checkpoint.ErrNoCheckpoint) {
		t.Skip("validation accuracy never rose above 0")
	}
	require.NoError(t, err)
	assert.Len(t, meta.ParamNames, 24)
}

func TestRunErrors(t *testing.T) {
	dir := t.TempDir()
	graph := writeGraph(t, dir, 20)

	cli := parse(t, "--device=tpu", "--data_path="+graph)
	err := run(context.Background(), cli, &bytes.Buffer{})
	assert.True(t, errors.Is(err, nn.ErrUnknownDevice))

	pickle := filepath.Join(dir, "only.gpickle")
	require.NoError(t, os.WriteFile(pickle, []byte{0x80, 0x04}, 0o644))
	cli = parse(t, "--device=cpu", "--data_path="+pickle)
	err = run(context.Background(), cli, &bytes.Buffer{})
	assert.True(t, errors.Is(err, knowledge.ErrPickleUnsupported))

}

func TestRunWithoutEpochsReportsLiveModel(t *testing.T) {
	graph := writeGraph(t, t.TempDir(), 20)
	for _, epochs := range []string{"0", "1", "-3"} {
		t.Run(epochs, func(t *testing.T) {
			cli := parse(t, "--device=cpu", "--data_path="+graph, "--epochs="+epochs)

			var out bytes.Buffer
			require.NoError(t, run(context.Background(), cli, &out))
			assert.NotContains(t, out.String(), "Epoch: ")
			assert.Contains(t, out.String(), "Best, Train: ")
		})
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestCloseStoreLogsFailure(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := logger.FromZap(zap.New(core))

	closeStore(log, closerFunc(func() error { return nil }), "ok")
	assert.Zero(t, logs.Len())

	closeStore(log, closerFunc(func() error { return errors.New("value log sync failed") }), "ckpt")
	entries := logs.FilterMessage("closing checkpoint store failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
	assert.Equal(t, "ckpt", entries[0].ContextMap()["dir"])
	assert.Equal(t, "value log sync failed", entries[0].ContextMap()["error"])
}
