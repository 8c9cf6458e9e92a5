package cmd

import (
	"github.com/spf13/cobra"

	"github.com/yueduduo/pth-viewer/internal/checkpoint"
)

var structureCmd = &cobra.Command{
	Use:   "structure <file>",
	Short: "Print the checkpoint's structure tree as JSON",
	Long: `Structure opens a checkpoint file and prints its hierarchical
contents as one JSON document on stdout. Tensors appear as metadata
leaves ({"_type":"tensor","dtype":...,"shape":...}); no tensor data is
read.

Example:
  pth-viewer structure model.safetensors`,
	Args: cobra.ExactArgs(1),
	Run:  runStructure,
}

func init() {
	rootCmd.AddCommand(structureCmd)
}

func runStructure(cmd *cobra.Command, args []string) {
	r := checkpoint.Open(args[0])
	defer r.Close()

	tree, err := r.Structure()
	if err != nil {
		printError(err)
		return
	}
	printJSON(map[string]any{"data": tree})
}
