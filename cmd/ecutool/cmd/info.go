package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "print adapter identification",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Disconnect()

		info, err := s.GetDeviceInfo(requestTimeout(cmd))
		if err != nil {
			return err
		}
		fmt.Printf("Vendor:   %s\n", info.Vendor)
		fmt.Printf("Model:    %s\n", info.Model)
		fmt.Printf("Hardware: %s\n", info.Hardware)
		fmt.Printf("Serial:   %s\n", info.Serial)
		fmt.Printf("Firmware: %s\n", info.Firmware)
		return nil
	},
}

var voltageCmd = &cobra.Command{
	Use:   "voltage",
	Short: "read the battery voltage",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Disconnect()

		millivolts, err := s.ReadVoltage(requestTimeout(cmd))
		if err != nil {
			return err
		}
		fmt.Printf("%.2f V\n", float64(millivolts)/1000)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "reboot the adapter",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Disconnect()
		return s.Reset()
	},
}

var rpcCmd = &cobra.Command{
	Use:   "rpc <call>",
	Short: "invoke a remote procedure on the adapter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Disconnect()

		resp, err := s.RpcCall(args[0], requestTimeout(cmd))
		if err != nil {
			return err
		}
		fmt.Println(resp)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(voltageCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(rpcCmd)
}
