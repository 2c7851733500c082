package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/guimove/seqpack/internal/config"
)

var (
	cfgFile string
	cfg     config.Config
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "seqpack",
	Short: "Sequence packing data loader for distributed training",
	Long: `seqpack packs variable-length tokenized samples into fixed-capacity bins
so that every rank of a distributed training job sees the same number of
well-filled batches per epoch.

It packs JSONL datasets, estimates the epoch length the loader reports,
simulates packing efficiency across world sizes and bin capacities, and
calibrates its estimate from the efficiencies earlier runs exported to
Prometheus.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		setupLogging()
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: seqpack.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	// Global flags that map to config
	rootCmd.PersistentFlags().String("dataset", "", "path to a JSONL dataset")
	rootCmd.PersistentFlags().String("length-feature", "input_ids", "feature whose length is the sample's token count")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text, json")
	rootCmd.PersistentFlags().String("prometheus-url", "", "Prometheus/Thanos endpoint holding packing history")
	rootCmd.PersistentFlags().String("history-file", "", "JSON file holding packing history or earlier epoch reports")
	rootCmd.PersistentFlags().String("kubeconfig", "", "path to kubeconfig file")
	rootCmd.PersistentFlags().String("kube-context", "", "Kubernetes context name")
	rootCmd.PersistentFlags().BoolP("discover", "d", false, "discover the training world and metrics endpoint from Kubernetes")
	rootCmd.PersistentFlags().String("namespace", "default", "namespace of the training pods")
	rootCmd.PersistentFlags().String("selector", "", "label selector matching the training pods")
	rootCmd.PersistentFlags().String("otlp-endpoint", "", "OTLP endpoint for trace export")

	_ = viper.BindPFlag("dataset.path", rootCmd.PersistentFlags().Lookup("dataset"))
	_ = viper.BindPFlag("dataset.length_feature", rootCmd.PersistentFlags().Lookup("length-feature"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("history.prometheus_url", rootCmd.PersistentFlags().Lookup("prometheus-url"))
	_ = viper.BindPFlag("history.file", rootCmd.PersistentFlags().Lookup("history-file"))
	_ = viper.BindPFlag("kubernetes.kubeconfig", rootCmd.PersistentFlags().Lookup("kubeconfig"))
	_ = viper.BindPFlag("kubernetes.context", rootCmd.PersistentFlags().Lookup("kube-context"))
	_ = viper.BindPFlag("kubernetes.enabled", rootCmd.PersistentFlags().Lookup("discover"))
	_ = viper.BindPFlag("kubernetes.namespace", rootCmd.PersistentFlags().Lookup("namespace"))
	_ = viper.BindPFlag("kubernetes.label_selector", rootCmd.PersistentFlags().Lookup("selector"))
	_ = viper.BindPFlag("tracing.endpoint", rootCmd.PersistentFlags().Lookup("otlp-endpoint"))

	// Launchers such as torchrun export the world geometry without a prefix.
	_ = viper.BindEnv("packing.rank", "SEQPACK_PACKING_RANK", "RANK")
	_ = viper.BindEnv("packing.world_size", "SEQPACK_PACKING_WORLD_SIZE", "WORLD_SIZE")
	_ = viper.BindEnv("kubernetes.pod_name", "SEQPACK_KUBERNETES_POD_NAME", "POD_NAME")
}

func loadConfig() error {
	// Start with defaults
	cfg = config.Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("seqpack")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.seqpack")
	}

	// Environment variable overrides, e.g. SEQPACK_PACKING_SEQ_MAX_LENGTH
	viper.SetEnvPrefix("SEQPACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file (not an error if missing)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			return fmt.Errorf("reading config file: %w", err)
		}
	}

	// Unmarshal into config struct
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	return cfg.Validate()
}

func setupLogging() {
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	if verbose {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)

	if cfg.Logging.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
