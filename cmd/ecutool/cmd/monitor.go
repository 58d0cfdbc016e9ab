package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/roffe/ecuconnect/pkg/pdu"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var green = color.New(color.FgGreen).SprintfFunc()

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "open a channel and print received frames",
	RunE: func(cmd *cobra.Command, args []string) error {
		bitrate, _ := cmd.Flags().GetUint32("bitrate")

		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Disconnect()

		timeout := requestTimeout(cmd)
		handle, err := s.OpenChannel(pdu.ProtocolRaw, bitrate, 0, 0, timeout)
		if err != nil {
			return err
		}
		defer s.CloseChannel(handle, timeout)

		// Open the floodgates.
		if err := s.SetArbitration(handle, pdu.Arbitration{ReplyMask: 0}, timeout); err != nil {
			return err
		}

		ctx := cmd.Context()
		frames := make(chan pdu.CANFrame, 64)

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			defer close(frames)
			for {
				select {
				case <-ctx.Done():
					return nil
				default:
				}
				batch, err := s.ReceiveMessages(100 * time.Millisecond)
				if err != nil {
					return err
				}
				for _, f := range batch {
					frames <- f
				}
			}
		})
		g.Go(func() error {
			for f := range frames {
				var hexView strings.Builder
				for i, b := range f.Data {
					if i > 0 {
						hexView.WriteByte(' ')
					}
					fmt.Fprintf(&hexView, "%02X", b)
				}
				fmt.Printf("%s || %d || %-23s\n", green("0x%03X", f.ID), len(f.Data), hexView.String())
			}
			return nil
		})
		return g.Wait()
	},
}

func init() {
	monitorCmd.Flags().Uint32P("bitrate", "b", 500000, "channel bitrate")
	rootCmd.AddCommand(monitorCmd)
}
