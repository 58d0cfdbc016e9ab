package cmd

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/roffe/ecuconnect/pkg/kline"
	"github.com/roffe/ecuconnect/pkg/pdu"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <hexbytes>",
	Short: "open a channel and send one frame",
	Long: `Opens a raw channel, programs the arbitration and transmits the
given hex payload, e.g.:

  ecutool send -i 0x7E0 0201050000000000
  ecutool send --kline --target 0xF1 --source 0x10 62F101`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := hex.DecodeString(strings.ReplaceAll(args[0], " ", ""))
		if err != nil {
			return fmt.Errorf("invalid hex payload: %w", err)
		}

		id, _ := cmd.Flags().GetUint32("id")
		bitrate, _ := cmd.Flags().GetUint32("bitrate")
		useKline, _ := cmd.Flags().GetBool("kline")

		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Disconnect()

		timeout := requestTimeout(cmd)
		protocol := pdu.ProtocolRaw
		if useKline {
			protocol = pdu.ProtocolKLine
			target, _ := cmd.Flags().GetUint8("target")
			source, _ := cmd.Flags().GetUint8("source")
			data = kline.MakeKWPFrame(target, source, data, 0x80)
		}

		handle, err := s.OpenChannel(protocol, bitrate, 0, 0, timeout)
		if err != nil {
			return err
		}
		defer s.CloseChannel(handle, timeout)

		if !useKline {
			arb := pdu.Arbitration{Request: id, ReplyMask: 0}
			if err := s.SetArbitration(handle, arb, timeout); err != nil {
				return err
			}
		}
		if err := s.SendMessage(handle, data, timeout); err != nil {
			return err
		}
		fmt.Printf("sent %d bytes\n", len(data))
		return nil
	},
}

func init() {
	sendCmd.Flags().Uint32P("id", "i", 0x7E0, "CAN identifier")
	sendCmd.Flags().Uint32P("bitrate", "b", 500000, "channel bitrate")
	sendCmd.Flags().Bool("kline", false, "wrap the payload in a KWP2000 K-Line frame")
	sendCmd.Flags().Uint8("target", 0x10, "K-Line target address")
	sendCmd.Flags().Uint8("source", 0xF1, "K-Line source address")
	rootCmd.AddCommand(sendCmd)
}
