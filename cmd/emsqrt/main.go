// Package main is the emsqrt command-line front end: a thin wrapper
// over internal/engine.Engine that loads a config and pipeline
// description from disk, runs them, and prints the resulting run
// manifest.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/NVIDIA/emsqrt/internal/config"
	"github.com/NVIDIA/emsqrt/internal/engine"
	"github.com/NVIDIA/emsqrt/internal/manifest"
	"github.com/NVIDIA/emsqrt/internal/pipeline"
)

const (
	version = "0.1.0"
)

func main() {
	app := cli.NewApp()
	app.Name = "emsqrt"
	app.Usage = "run memory-bounded external-memory ETL pipelines"
	app.Version = version
	app.Commands = []cli.Command{
		runCommand,
		configCommand,
		inspectCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var runCommand = cli.Command{
	Name:  "run",
	Usage: "compile, plan, and execute a pipeline, recording a run manifest",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "pipeline", Usage: "path to a pipeline spec JSON file"},
		cli.StringFlag{Name: "config", Usage: "path to an EngineConfig JSON file (defaults applied if omitted)"},
		cli.StringFlag{Name: "manifest-out", Usage: "path to write the run manifest JSON to"},
		cli.StringFlag{Name: "sign-key", Usage: "HMAC key to sign the manifest with; unsigned if omitted"},
		cli.BoolFlag{Name: "progress", Usage: "show a live block-completion progress bar"},
	},
	Action: runAction,
}

func runAction(c *cli.Context) error {
	pipelinePath := c.String("pipeline")
	if pipelinePath == "" {
		return cli.NewExitError("missing required --pipeline", 1)
	}

	cfg := config.Default()
	if p := c.String("config"); p != "" {
		var err error
		cfg, err = config.Load(p)
		if err != nil {
			return err
		}
	}

	spec, sourceRows, err := loadPipelineSpec(pipelinePath)
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return err
	}

	for key, batch := range sourceRows {
		encoded := encodeForRegistry(batch)
		eng.Registry.Put(key, encoded)
	}

	var bar *progressBar
	if c.Bool("progress") {
		bar = newProgressBar(c.App.Writer)
		defer bar.done()
	}

	onBlock := func() {}
	if bar != nil {
		onBlock = bar.increment
	}

	result, err := eng.Run(context.Background(), spec.pipeline, spec.rowsByScan, onBlock)
	if err != nil {
		return err
	}

	if key := c.String("sign-key"); key != "" {
		token, err := manifest.Sign(result.Manifest, []byte(key))
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, "manifest_signature:", token)
	}

	buf, err := json.MarshalIndent(result.Manifest, "", "  ")
	if err != nil {
		return err
	}
	if out := c.String("manifest-out"); out != "" {
		if err := os.WriteFile(out, buf, 0o644); err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
	}
	fmt.Fprintln(c.App.Writer, string(buf))
	return nil
}

var configCommand = cli.Command{
	Name:  "config",
	Usage: "print the default EngineConfig as JSON",
	Action: func(c *cli.Context) error {
		buf, err := config.Default().Marshal()
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, string(buf))
		return nil
	},
}

var inspectCommand = cli.Command{
	Name:      "inspect",
	Usage:     "verify a manifest file's signature against a key",
	ArgsUsage: "MANIFEST_FILE",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "signature", Usage: "compact JWT produced by `run --sign-key`"},
		cli.StringFlag{Name: "key", Usage: "HMAC key the signature was produced with"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() < 1 {
			return cli.NewExitError("missing MANIFEST_FILE argument", 1)
		}
		buf, err := os.ReadFile(c.Args().Get(0))
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		var m manifest.RunManifest
		if err := json.Unmarshal(buf, &m); err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		sig, key := c.String("signature"), c.String("key")
		if sig == "" || key == "" {
			fmt.Fprintln(c.App.Writer, "manifest id:", m.ID, "engine:", m.EngineVersion)
			return nil
		}
		if err := manifest.Verify(sig, m, []byte(key)); err != nil {
			return cli.NewExitError("signature check failed: "+err.Error(), 1)
		}
		fmt.Fprintln(c.App.Writer, "signature OK for manifest", m.ID)
		return nil
	},
}

// compiledPipeline bundles the pipeline.Pipeline Compile needs plus the
// row-count hints engine.Run wants per scan source.
type compiledPipeline struct {
	pipeline   pipeline.Pipeline
	rowsByScan map[string]uint64
}
