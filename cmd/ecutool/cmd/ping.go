package cmd

import (
	"bytes"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "send ping PDUs and report latency",
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")
		size, _ := cmd.Flags().GetInt("size")

		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Disconnect()

		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i)
		}

		var min, max, total time.Duration
		ok := 0
		for i := 0; i < count; i++ {
			start := time.Now()
			echo, err := s.Ping(payload, requestTimeout(cmd))
			elapsed := time.Since(start)
			if err != nil {
				color.Red("ping %d: %v", i+1, err)
				continue
			}
			if !bytes.Equal(echo, payload) {
				color.Red("ping %d: payload mismatch", i+1)
				continue
			}
			fmt.Printf("ping %d: %v\n", i+1, elapsed)
			if ok == 0 || elapsed < min {
				min = elapsed
			}
			if elapsed > max {
				max = elapsed
			}
			total += elapsed
			ok++
		}

		if ok == 0 {
			return fmt.Errorf("no ping succeeded")
		}
		color.Green("%d/%d ok, min %v avg %v max %v", ok, count, min, total/time.Duration(ok), max)
		return nil
	},
}

func init() {
	pingCmd.Flags().IntP("count", "c", 5, "number of pings")
	pingCmd.Flags().IntP("size", "s", 16, "payload size in bytes")
	rootCmd.AddCommand(pingCmd)
}
