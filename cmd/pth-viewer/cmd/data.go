package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/yueduduo/pth-viewer/internal/checkpoint"
)

var dataKey string

var dataCmd = &cobra.Command{
	Use:   "data <file>",
	Short: "Print statistics and a preview for one tensor as JSON",
	Long: `Data opens a checkpoint file, resolves a key path to a tensor, and
prints its statistics (min, max, mean, std, shape, dtype) plus a
summarized value preview as one JSON document on stdout.

The key is a JSON-encoded list of path segments; a plain dotted path is
accepted as a fallback for keys without dots in their segments.

Example:
  pth-viewer data model.safetensors --key '["encoder", "layer", "weight"]'`,
	Args: cobra.ExactArgs(1),
	Run:  runData,
}

func init() {
	dataCmd.Flags().StringVarP(&dataKey, "key", "k", "",
		"Key path to the tensor (JSON list or dotted path)")
	rootCmd.AddCommand(dataCmd)
}

func runData(cmd *cobra.Command, args []string) {
	if dataKey == "" {
		printError(errors.New("missing --key argument"))
		return
	}

	r := checkpoint.Open(args[0])
	defer r.Close()

	stats, err := r.Resolve(checkpoint.ParseKeyPath(dataKey))
	if err != nil {
		printError(err)
		return
	}
	printJSON(map[string]any{
		"type": "tensor_data",
		"stats": map[string]any{
			"min":   stats.Min,
			"max":   stats.Max,
			"mean":  stats.Mean,
			"std":   stats.Std,
			"shape": stats.Shape,
			"dtype": stats.DType,
		},
		"preview": stats.Preview,
	})
}
