package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strand-lang/strand/vm"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of strand",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("strand version 0.1.0 (artifact format v%d)\n", vm.Version)
	},
}
