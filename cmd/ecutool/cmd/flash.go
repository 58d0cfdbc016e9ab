package cmd

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/marcinbor85/gohex"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/mod/semver"
)

const updateChunkSize = 1024

var flashCmd = &cobra.Command{
	Use:   "flash <filename.hex>",
	Short: "flash an adapter firmware image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		minVersion, _ := cmd.Flags().GetString("min-version")

		file, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer file.Close()

		mem := gohex.NewMemory()
		if err := mem.ParseIntelHex(file); err != nil {
			return fmt.Errorf("parse %s: %w", filepath.Base(args[0]), err)
		}
		var image []byte
		for _, segment := range mem.GetDataSegments() {
			image = append(image, segment.Data...)
		}
		if len(image) == 0 {
			return fmt.Errorf("image is empty")
		}
		log.Printf("loaded %d bytes from %s", len(image), filepath.Base(args[0]))

		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Disconnect()

		timeout := requestTimeout(cmd)
		info, err := s.GetDeviceInfo(timeout)
		if err != nil {
			return err
		}
		log.Printf("adapter firmware %s", info.Firmware)
		if minVersion != "" && semver.Compare("v"+info.Firmware, "v"+minVersion) < 0 {
			return fmt.Errorf("firmware %s is older than required %s, refusing to flash", info.Firmware, minVersion)
		}

		if err := s.PrepareForUpdate(timeout); err != nil {
			return fmt.Errorf("prepare for update: %w", err)
		}

		bar := progressbar.DefaultBytes(int64(len(image)), "flashing")
		for offset := 0; offset < len(image); offset += updateChunkSize {
			end := offset + updateChunkSize
			if end > len(image) {
				end = len(image)
			}
			if err := s.SendUpdateData(image[offset:end], 5*time.Second); err != nil {
				return fmt.Errorf("update data at %#x: %w", offset, err)
			}
			bar.Add(end - offset)
		}

		if err := s.CommitUpdate(10 * time.Second); err != nil {
			return fmt.Errorf("commit update: %w", err)
		}
		log.Println("update committed, adapter is rebooting")
		return nil
	},
}

func init() {
	flashCmd.Flags().String("min-version", "", "refuse to flash if the current firmware is older than this")
	rootCmd.AddCommand(flashCmd)
}
