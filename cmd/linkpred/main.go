package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"github.com/pkg/errors"

	"github.com/cnclabs/hetlink/internal/checkpoint"
	"github.com/cnclabs/hetlink/internal/config"
	"github.com/cnclabs/hetlink/internal/logger"
	"github.com/cnclabs/hetlink/internal/models/heteronet"
	"github.com/cnclabs/hetlink/internal/train"
	"github.com/cnclabs/hetlink/pkg/dataset"
	"github.com/cnclabs/hetlink/pkg/hetero"
	"github.com/cnclabs/hetlink/pkg/knowledge"
	"github.com/cnclabs/hetlink/pkg/nn"
)

// CLI holds the command-line flags
type CLI struct {
	Device           string  `name:"device" default:"cuda:0" help:"Device to run on (cpu, cuda, cuda:N)."`
	DataPath         string  `name:"data_path" default:"data/WN18.gpickle" help:"Input graph: edge list, node-link JSON, or a .gpickle path with such a sibling."`
	Epochs           int     `name:"epochs" default:"500" help:"Number of epochs (training runs epochs 1..N-1)."`
	Mode             string  `name:"mode" default:"disjoint" enum:"disjoint,all" help:"Edge train mode (disjoint or all)."`
	Model            string  `name:"model" default:"MlpMessage" help:"Deprecated, has no effect."`
	EdgeMessageRatio float64 `name:"edge_message_ratio" default:"0.8" help:"Share of train edges used for message passing in disjoint mode."`
	NegSamplingRatio float64 `name:"neg_sampling_ratio" default:"1.0" help:"Negative edges sampled per positive edge."`
	HiddenDim        int     `name:"hidden_dim" default:"16" help:"Deprecated, has no effect; set hidden_size in --config."`

	Config        string `name:"config" type:"path" help:"YAML hyperparameter file."`
	Seed          int64  `name:"seed" default:"-1" help:"Random seed, -1 keeps the configured seed."`
	Workers       int    `name:"workers" default:"0" help:"Worker goroutines for dense layers, 0 keeps the configured value."`
	CheckpointDir string `name:"checkpoint_dir" type:"path" help:"Directory of a Badger store receiving the best model."`
	LogMode       string `name:"log_mode" default:"dev" enum:"dev,prod" help:"Diagnostic log format (dev or prod)."`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("linkpred"),
		kong.Description("Link prediction on a heterogeneous multigraph with a two-layer GraphSAGE network"),
		kong.UsageOnError(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cli, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cli CLI, out io.Writer) error {
	log, err := logger.New(cli.LogMode)
	if err != nil {
		return errors.Wrap(err, "logger")
	}
	defer log.Sync()

	hp, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if cli.Seed >= 0 {
		hp.Seed = cli.Seed
	}
	if cli.Workers > 0 {
		hp.Workers = cli.Workers
	}

	device, err := nn.ParseDevice(cli.Device)
	if err != nil {
		return err
	}
	if device.Fallback() {
		log.Warn("accelerators are not supported, running on cpu", "device", device.String())
	}
	if cli.Model != "MlpMessage" {
		log.Warn("--model is deprecated and has no effect", "model", cli.Model)
	}
	if cli.HiddenDim != 16 {
		log.Warn("--hidden_dim is deprecated and has no effect", "hidden_dim", cli.HiddenDim, "hidden_size", hp.HiddenSize)
	}

	color.New(color.FgCyan, color.Bold).Fprintln(out, "[hetlink] heterogeneous link prediction")
	fmt.Fprintf(out, "edge train mode: %s\n", cli.Mode)

	kg := knowledge.NewKnowledgeGraph()
	kg.Out = out
	if err := kg.LoadGraph(cli.DataPath); err != nil {
		return errors.Wrap(err, "load graph")
	}
	fmt.Fprintln(out, kg.NumEdges)
	printSamples(out, kg)

	numEdgeTypes := kg.NumEdgeTypes()
	annotated := hetero.WNTransform(kg, numEdgeTypes, hp.InputDim)
	if len(annotated.Nodes) > 0 {
		fmt.Fprintln(out, annotated.Nodes[0])
	}
	if len(annotated.Edges) > 0 {
		fmt.Fprintln(out, annotated.Edges[0])
	}

	hete, err := hetero.FromAnnotated(annotated)
	if err != nil {
		return errors.Wrap(err, "hetero graph")
	}
	if hete, err = hete.Rebuild(); err != nil {
		return errors.Wrap(err, "hetero graph")
	}

	ds, err := dataset.New(hete, dataset.Options{
		Task:             dataset.TaskLinkPred,
		EdgeTrainMode:    cli.Mode,
		EdgeMessageRatio: cli.EdgeMessageRatio,
		NegSamplingRatio: cli.NegSamplingRatio,
		Seed:             hp.Seed,
	})
	if err != nil {
		return err
	}
	trainSplit, valSplit, testSplit, err := ds.Split(true, hp.SplitRatio)
	if err != nil {
		return err
	}
	loaders := make([]*dataset.Loader, 0, 3)
	for _, s := range []*dataset.Split{trainSplit, valSplit, testSplit} {
		l, err := dataset.NewLoader(s, 1)
		if err != nil {
			return err
		}
		loaders = append(loaders, l)
	}

	opts := []heteronet.Option{heteronet.WithSeed(hp.Seed)}
	if hp.Workers > 0 {
		opts = append(opts, heteronet.WithWorkers(hp.Workers))
	}
	model := heteronet.New(hete, hp.HiddenSize, hp.Dropout, opts...)
	model.PrintSettings(out)

	trainerOpts := []train.Option{train.WithLogger(log), train.WithOutput(out)}
	if cli.CheckpointDir != "" {
		store, err := checkpoint.Open(cli.CheckpointDir)
		if err != nil {
			return err
		}
		defer closeStore(log, store, cli.CheckpointDir)
		trainerOpts = append(trainerOpts, train.WithCheckpointer(store))
	}

	trainer, err := train.NewTrainer(model, loaders[0], loaders[1], loaders[2], train.Config{
		Epochs:       cli.Epochs,
		LearningRate: hp.LearningRate,
		WeightDecay:  hp.WeightDecay,
		Device:       device,
	}, trainerOpts...)
	if err != nil {
		return err
	}
	res, err := trainer.Run(ctx)
	if err != nil {
		return err
	}
	log.Info("training finished", "best_epoch", res.BestEpoch, "steps", len(res.History))
	return nil
}

// closeStore closes the checkpoint store and logs a failed close
func closeStore(log *logger.Logger, store io.Closer, dir string) {
	if err := store.Close(); err != nil {
		log.Warn("closing checkpoint store failed", "dir", dir, "error", err)
	}
}

// printSamples shows node "0" and the edges between nodes "0" and "5871",
// falling back to the first node and edge of the graph
func printSamples(out io.Writer, kg *knowledge.KnowledgeGraph) {
	first, ok := kg.EntityHash["0"]
	if !ok {
		first = 0
	}
	if node, ok := kg.Node(first); ok {
		fmt.Fprintf(out, "Each node has node ID (n_id). Example: {n_id: %d}\n", node.ID)
	}

	var edges []knowledge.Edge
	if second, ok := kg.EntityHash["5871"]; ok {
		edges = kg.EdgesBetween(first, second)
	}
	if len(edges) == 0 && len(kg.Edges) > 0 {
		edges = kg.EdgesBetween(kg.Edges[0].Source, kg.Edges[0].Target)
	}
	if len(edges) == 0 {
		return
	}
	fmt.Fprint(out, "Each edge has edge ID (id) and categorical label (e_label). Example: {")
	for i, e := range edges {
		if i > 0 {
			fmt.Fprint(out, ", ")
		}
		fmt.Fprintf(out, "%d: {id: %d, e_label: %d}", e.Key, e.ID, e.Label)
	}
	fmt.Fprintln(out, "}")
}
