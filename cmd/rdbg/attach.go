package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ianremillard/rdbg/internal/inject"
)

var attachCmd = &cobra.Command{
	Use:   "attach <pid> <ip> <port>",
	Short: "Inject a listener into a running process, then connect to it",
	Long: `attach delivers a payload into a remote process via the configured
ExternalInjector, telling it to start listening at ip:port, then connects
to it the way the connect verb does. attach has no --timeout flag: its
connect timeout always comes from the config file.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid pid %q: %w", args[0], err)
		}
		ip, port := args[1], args[2]

		payload := []byte(fmt.Sprintf("listen %s:%s", ip, port))
		if err := inject.External().InjectPayload(pid, payload); err != nil {
			return err
		}

		return runConnect(ip, port, configTimeout())
	},
}
