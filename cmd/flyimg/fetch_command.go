package main

import (
	"fmt"
	"io"
	"log"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/flyimg/internal/artifact"
	"github.com/dunamismax/flyimg/internal/input"
	"github.com/dunamismax/flyimg/internal/pipeline"
	"github.com/dunamismax/flyimg/internal/transport"
	"github.com/spf13/cobra"
)

func newFetchCommand(ctx *commandContext) *cobra.Command {
	var (
		optionFlags []string
		outputPath  string
		uploadMode  bool
		quiet       bool
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "fetch INPUT",
		Short: "Transform an image and save the result",
		Long: "Transform a remote URL, a local file, or stdin (\"-\") on the Flyimg instance and save the result.\n" +
			"Local files and stdin are uploaded first. With --upload the options travel with the upload itself.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := parseOptionFlags(optionFlags)
			if err != nil {
				return err
			}
			optionsCfg, err := ctx.optionsConfig()
			if err != nil {
				return err
			}
			instance, err := ctx.instanceURL()
			if err != nil {
				return err
			}

			source, err := fetchInput(args[0], cmd.InOrStdin(), uploadMode)
			if err != nil {
				return err
			}

			var logger *log.Logger
			if verbose {
				logger = log.New(cmd.ErrOrStderr(), "[flyimg] ", log.LstdFlags|log.Lmsgprefix)
			}

			dir := "."
			if outputPath != "" {
				dir = filepath.Dir(outputPath)
			}
			processor := pipeline.NewProcessor(pipeline.Config{
				Options: optionsCfg,
				Transport: transport.NewClient(transport.Config{
					Timeout:     ctx.timeout(),
					UploadField: ctx.uploadField(),
					Logger:      logger,
				}),
				Store:  artifact.FileStore{Dir: dir, Prefix: "flyimg-"},
				Logger: logger,
			})

			progress := newProgressReporter(cmd.ErrOrStderr(), quiet)
			req := pipeline.Request{
				InstanceURL:        instance,
				Input:              source,
				Options:            opts,
				Sign:               ctx.signer(),
				OnUploadProgress:   progress.onUpload,
				OnDownloadProgress: progress.onDownload,
			}

			var a *artifact.Artifact
			if uploadMode {
				a, err = processor.Upload(cmd.Context(), req)
			} else {
				a, err = processor.Fetch(cmd.Context(), req)
			}
			progress.finish()
			if err != nil {
				return err
			}

			dims, probeErr := artifact.Probe(cmd.Context(), a)

			location := a.Location
			if outputPath != "" {
				if err := os.Rename(a.Location, outputPath); err != nil {
					_ = a.Release(cmd.Context())
					return fmt.Errorf("move result to %s: %w", outputPath, err)
				}
				location = outputPath
			}

			summary := fmt.Sprintf("saved %s (%s, %d bytes", location, a.ContentType, a.Size)
			if probeErr == nil {
				summary += fmt.Sprintf(", %dx%d %s", dims.Width, dims.Height, dims.Format)
			}
			fmt.Fprintln(cmd.OutOrStdout(), summary+")")
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&optionFlags, "opt", nil, "Transform option as name=value (repeatable)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file (default: a generated name in the current directory)")
	cmd.Flags().BoolVar(&uploadMode, "upload", false, "Send the options with the upload request")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Disable progress bars")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log failed exchanges to stderr")
	return cmd
}

// fetchInput maps the INPUT argument onto a pipeline input. Upload mode
// needs the bytes in memory, so local files are read up front.
func fetchInput(arg string, stdin io.Reader, uploadMode bool) (any, error) {
	if arg == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return input.Binary{Data: data}, nil
	}
	if input.IsRemoteURL(arg) {
		return arg, nil
	}
	if strings.HasPrefix(arg, "data:") {
		return input.DataURI(arg), nil
	}
	if !uploadMode {
		return input.LocalPath(arg), nil
	}

	data, err := os.ReadFile(arg)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", arg, err)
	}
	return input.Binary{Data: data, ContentType: mime.TypeByExtension(filepath.Ext(arg))}, nil
}
