package main

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "filemesh",
	Short: "Peer-to-peer file transfer engine",
	Long: `filemesh discovers peers, opens framed TCP sessions, and moves files
between them as ordered byte-range chunks. "run" starts a peer listening for
inbound transfers; "send" pushes one file to a peer; "status" queries and
controls a running peer over its HTTP control API.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a filemesh config file (YAML)")
	rootCmd.AddCommand(runCmd, sendCmd, statusCmd)
}
