package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"reelmusic/internal/app"
	"reelmusic/internal/config"
	"reelmusic/internal/reel"
)

type rootOptions struct {
	envFile string
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "reelctl",
		Short:         "Generate music for short videos",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if opts.verbose {
				level = slog.LevelInfo
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

			if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				slog.Warn("could not load env file", "path", opts.envFile, "error", err)
			}
		},
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env", ".env", "path to an optional .env file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log pipeline progress")

	root.AddCommand(newStylesCmd(), newProbeCmd(), newProcessCmd())
	return root
}

func newStylesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "styles",
		Short: "List the available music styles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.RequireNone)
			if err != nil {
				return err
			}
			catalog, err := app.Catalog(cfg)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPROMPT")
			for _, name := range catalog.Names() {
				p, _ := catalog.Lookup(name)
				fmt.Fprintf(w, "%s\t%s\n", p.Name, p.Prompt)
			}
			return w.Flush()
		},
	}
}

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <video>",
		Short: "Print duration, size and audio presence of a video as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.RequireNone)
			if err != nil {
				return err
			}

			info, err := app.Processor(cfg).Probe(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		},
	}
}

type processOptions struct {
	video             string
	reference         string
	style             string
	format            string
	out               string
	keepOriginalAudio bool
}

func newProcessCmd() *cobra.Command {
	opts := &processOptions{}

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Generate music for a video and write the result",
		Long: `Generate music for a video and write the result.

Runs the same pipeline as POST /process-reel and copies the artifact
to --out.

Examples:
  reelctl process --video clip.mp4 --style epic --out clip_music.mp4
  reelctl process --video clip.mov --reference song.mp3 --format both --out clip.zip`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.video, "video", "", "input video (mp4, mov, avi, mkv)")
	cmd.Flags().StringVar(&opts.reference, "reference", "", "optional reference song or video for melody conditioning")
	cmd.Flags().StringVar(&opts.style, "style", "", "music style (see 'reelctl styles'), default ambient")
	cmd.Flags().StringVar(&opts.format, "format", "video", "output format: video, audio or both")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "output path")
	cmd.Flags().BoolVar(&opts.keepOriginalAudio, "keep-original-audio", false, "mix the music with the original audio instead of replacing it")
	cmd.MarkFlagRequired("video")
	cmd.MarkFlagRequired("out")
	return cmd
}

func runProcess(cmd *cobra.Command, opts *processOptions) error {
	cfg, err := config.Load(config.RequireToken)
	if err != nil {
		return err
	}

	format, err := reel.ParseOutputFormat(opts.format)
	if err != nil {
		return err
	}

	svc, err := app.Service(cfg, slog.Default(), nil)
	if err != nil {
		return err
	}

	video, err := os.Open(opts.video)
	if err != nil {
		return fmt.Errorf("open video: %w", err)
	}
	defer video.Close()

	req := &reel.Request{
		Video:               reel.Upload{Filename: filepath.Base(opts.video), Body: video},
		Style:               opts.style,
		RemoveOriginalAudio: !opts.keepOriginalAudio,
		Format:              format,
	}
	if opts.reference != "" {
		ref, err := os.Open(opts.reference)
		if err != nil {
			return fmt.Errorf("open reference: %w", err)
		}
		defer ref.Close()
		req.Reference = &reel.Upload{Filename: filepath.Base(opts.reference), Body: ref}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var artifact reel.Artifact
	err = svc.Process(ctx, req, func(a *reel.Artifact) error {
		artifact = *a
		return copyFile(opts.out, a.Path)
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (job %s, backend %s)\n", opts.out, artifact.JobID, artifact.Backend)
	return nil
}

func copyFile(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("write output: %w", err)
	}
	return out.Close()
}
