package cmd

import (
	"context"
	"log"
	"time"

	"github.com/roffe/ecuconnect/pkg/session"
	"github.com/roffe/ecuconnect/transport"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "ecutool",
	Short:        "ECUconnect adapter swiss army tool",
	Long:         `Talk to an ECUconnect adapter over TCP, BLE or serial: ping, info, voltage, raw sends, live monitoring and firmware updates.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute(ctx context.Context) {
	rootCmd.ExecuteContext(ctx)
}

const (
	flagDevice  = "device"
	flagDebug   = "debug"
	flagTimeout = "timeout"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	pf := rootCmd.PersistentFlags()
	pf.StringP(flagDevice, "d", "", "connection string, e.g. tcp:192.168.42.42:129, ble:ECUconnect or serial:/dev/ttyUSB0 (empty = TCP default)")
	pf.BoolP(flagDebug, "D", false, "dump wire traffic")
	pf.DurationP(flagTimeout, "t", 1*time.Second, "per-request timeout")
}

// openSession connects a session per the persistent flags. The caller
// must Disconnect it.
func openSession(cmd *cobra.Command) (*session.Session, error) {
	name, _ := cmd.Flags().GetString(flagDevice)
	debug, _ := cmd.Flags().GetBool(flagDebug)

	t, err := transport.New(transport.ParseConnectionString(name))
	if err != nil {
		return nil, err
	}
	s := session.New(t)
	s.Debug = debug
	if err := s.Connect(); err != nil {
		return nil, err
	}
	return s, nil
}

func requestTimeout(cmd *cobra.Command) time.Duration {
	timeout, _ := cmd.Flags().GetDuration(flagTimeout)
	return timeout
}
