package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/phyntra/backend/internal/conversation"
	"github.com/phyntra/backend/internal/models"
	"github.com/spf13/cobra"
)

func newUploadCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload invoices and print the extracted data",
		Long: `Upload one or more invoice files (PDF, JPG or PNG) to the extraction
service, in the order given. A failing file does not stop the others; the
command exits non-zero when any file failed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			log, err := opts.logger(cmd, cfg)
			if err != nil {
				return err
			}

			files, err := readUploadFiles(args)
			if err != nil {
				return err
			}

			conv := conversation.New(opts.client(cfg, log), conversation.WithLogger(log))
			defer conv.Close()

			out := cmd.OutOrStdout()
			var printer *timelinePrinter
			if !asJSON {
				printer = startTimelinePrinter(out, conv)
			}

			failed := 0
			conv.UploadFiles(cmd.Context(), files, func(_, _ int, err error) {
				if err != nil {
					failed++
				}
			})

			if printer != nil {
				printer.stop()
			} else {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(conv.Messages()); err != nil {
					return fmt.Errorf("encoding timeline: %w", err)
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(files))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the final timeline as JSON")
	return cmd
}

// readUploadFiles loads each path and sniffs its media type.
func readUploadFiles(paths []string) ([]models.UploadFile, error) {
	files := make([]models.UploadFile, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		files = append(files, models.UploadFile{
			Name:        filepath.Base(path),
			ContentType: mimetype.Detect(data).String(),
			Content:     data,
		})
	}
	return files, nil
}
