package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "glance"}

	root.AddCommand(serveCMD(), askCMD(), migrateCMD())
	_ = root.Execute()
}
