// Command churnkit runs the churn training and prediction service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/churnkit/config"
	"github.com/YuminosukeSato/churnkit/dataset"
	"github.com/YuminosukeSato/churnkit/insight"
	"github.com/YuminosukeSato/churnkit/narrative"
	"github.com/YuminosukeSato/churnkit/pkg/log"
	"github.com/YuminosukeSato/churnkit/predict"
	"github.com/YuminosukeSato/churnkit/registry"
	"github.com/YuminosukeSato/churnkit/server"
	"github.com/YuminosukeSato/churnkit/train"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "churnkit",
		Short:         "Churn model training and prediction service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cfgPath)
		},
	}
	root.AddCommand(serve)

	return root
}

func runServe(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	logger := log.Setup(cfg.LogLevel, cfg.LogConsole)

	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	store := dataset.NewStore(cfg.ProcessedDir, log.Component(logger, "dataset"))
	reg := registry.New(cfg.ModelsDir, cfg.MetadataDir)
	trainSvc := train.NewService(cfg, store, reg, log.Component(logger, "train"))

	var predictNarrator predict.Narrator
	var trainingNarrator insight.Narrator
	if n := narrative.New(cfg, log.Component(logger, "narrative")); n != nil {
		predictNarrator = n
		trainingNarrator = n
	}
	predictSvc := predict.NewService(reg, predictNarrator, log.Component(logger, "predict"))
	insightSvc := insight.NewService(reg, trainingNarrator, log.Component(logger, "insight"))

	srv := server.New(cfg, trainSvc, predictSvc, insightSvc, reg, log.Component(logger, "http"))
	return srv.Run()
}
