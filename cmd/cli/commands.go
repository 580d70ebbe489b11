package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/johnmartinsson/active-learning-for-audio-data/internal/dataset"
	"github.com/johnmartinsson/active-learning-for-audio-data/internal/labels"
	"github.com/johnmartinsson/active-learning-for-audio-data/internal/sampling"
	"github.com/johnmartinsson/active-learning-for-audio-data/internal/segment"
	"github.com/johnmartinsson/active-learning-for-audio-data/internal/spectrogram"
	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/annotator"
)

// withService opens the service for the duration of fn.
func (a *app) withService(fn func(svc annotator.Service) error) error {
	svc, err := a.service()
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer svc.Close()
	return fn(svc)
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show annotation progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(func(svc annotator.Service) error {
				st, err := svc.Stats()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "📊 Dataset %s\n", st.Dataset)
				fmt.Fprintf(out, "   Recordings:  %s\n", humanize.Comma(int64(st.Recordings)))
				fmt.Fprintf(out, "   Labeled:     %s\n", humanize.Comma(int64(st.Labeled)))
				fmt.Fprintf(out, "   Unlabeled:   %s\n", humanize.Comma(int64(st.Unlabeled)))
				fmt.Fprintf(out, "   Submissions: %s\n", humanize.Comma(st.Submissions))
				if st.LastSubmission != nil {
					fmt.Fprintf(out, "   Last:        %s\n", humanize.Time(*st.LastSubmission))
				}
				return nil
			})
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	var unlabeled bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List labeled recordings (or unlabeled ones with --unlabeled)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(func(svc annotator.Service) error {
				list := svc.Labeled
				kind := "labeled"
				if unlabeled {
					list, kind = svc.Unlabeled, "unlabeled"
				}
				names, err := list()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(names) == 0 {
					fmt.Fprintf(out, "No %s recordings\n", kind)
					return nil
				}
				fmt.Fprintf(out, "📚 %d %s recording(s):\n", len(names), kind)
				for i, n := range names {
					fmt.Fprintf(out, "%d. %s\n", i+1, n)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unlabeled, "unlabeled", false, "List the recordings still to annotate")
	return cmd
}

func newPrototypesCmd(a *app) *cobra.Command {
	var head int
	cmd := &cobra.Command{
		Use:   "prototypes",
		Short: "Compute the presence and absence prototypes from the current labels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(func(svc annotator.Service) error {
				p, err := svc.Prototypes(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Presence (%d dims): %s\n", len(p.Presence), formatVector(p.Presence, head))
				fmt.Fprintf(out, "Absence  (%d dims): %s\n", len(p.Absence), formatVector(p.Absence, head))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&head, "head", 8, "Number of leading components to print")
	return cmd
}

func newSegmentsCmd(a *app) *cobra.Command {
	var (
		policy      string
		numSegments int
	)
	cmd := &cobra.Command{
		Use:   "segments <recording>",
		Short: "Suggest segments for a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := segment.ParsePolicy(policy)
			if err != nil {
				return err
			}
			return a.withService(func(svc annotator.Service) error {
				res, err := svc.Segments(cmd.Context(), args[0], p, numSegments)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "✂️  %d %s segment(s) for %s:\n", len(res.Segments), p, args[0])
				suggested := res.SuggestedLabels()
				for i, s := range res.Segments {
					line := fmt.Sprintf("%3d. %8.3fs - %8.3fs", i+1, s.Start, s.End)
					if suggested[i] != "" {
						line += "  " + string(suggested[i])
					}
					fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&policy, "policy", "fixed", "Segmentation policy (fixed or adaptive)")
	cmd.Flags().IntVarP(&numSegments, "num-segments", "n", 10, "Number of segments")
	return cmd
}

func newBatchCmd(a *app) *cobra.Command {
	var (
		strategy string
		size     int
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Select the next recordings to annotate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := sampling.ParseKind(strategy)
			if err != nil {
				return fmt.Errorf("%w (choose one of %s)", err, strings.Join(kindNames(), ", "))
			}
			return a.withService(func(svc annotator.Service) error {
				batch, err := svc.Batch(cmd.Context(), kind, size)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(batch) == 0 {
					fmt.Fprintln(out, "Nothing left to annotate")
					return nil
				}
				fmt.Fprintf(out, "🎯 %d recording(s) by %s sampling:\n", len(batch), kind)
				for i, d := range batch {
					fmt.Fprintf(out, "%d. %s (%.1fs)\n", i+1, d.Filename, d.AudioLength)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&strategy, "strategy", "s", string(sampling.KindRandom), "Sampling strategy")
	cmd.Flags().IntVarP(&size, "size", "n", 1, "Batch size")
	return cmd
}

func newSubmitCmd(a *app) *cobra.Command {
	var labelsPath string
	cmd := &cobra.Command{
		Use:   "submit <recording> --labels <file>",
		Short: "Submit a label file for a recording (use - to read stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if labelsPath != "-" {
				f, err := os.Open(labelsPath)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			set, err := labels.Parse(r)
			if err != nil {
				return fmt.Errorf("label file: %w", err)
			}

			return a.withService(func(svc annotator.Service) error {
				sub, err := svc.SubmitLabels(cmd.Context(), args[0], set)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✅ Saved %d label(s) for %s: %d presence, %d absence frames\n",
					sub.LabelCount, args[0], sub.PresenceFrames, sub.AbsenceFrames)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&labelsPath, "labels", "l", "", "Label file (start_time,end_time,label)")
	_ = cmd.MarkFlagRequired("labels")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <recording>",
		Short: "Show the submissions recorded for a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(func(svc annotator.Service) error {
				subs, err := svc.History(args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(subs) == 0 {
					fmt.Fprintf(out, "No submissions for %s\n", args[0])
					return nil
				}
				for _, s := range subs {
					fmt.Fprintf(out, "%s  %-14s  %d labels, %d presence / %d absence frames\n",
						s.ID, humanize.Time(s.CreatedAt), s.LabelCount, s.PresenceFrames, s.AbsenceFrames)
				}
				return nil
			})
		},
	}
}

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <recording>",
		Short: "Check the stored embedding partition against the label file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(func(svc annotator.Service) error {
				r, err := svc.VerifyPartitions(args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				status := "✅ consistent"
				if !r.Consistent {
					status = "❌ stale (run reindex)"
				}
				fmt.Fprintf(out, "%s: %s\n", r.Filename, status)
				fmt.Fprintf(out, "   derived  %d presence / %d absence\n", r.PresenceFrames, r.AbsenceFrames)
				fmt.Fprintf(out, "   stored   %d presence / %d absence\n", r.StoredPresence, r.StoredAbsence)
				fmt.Fprintf(out, "   ledger   %t\n", r.LedgerConsistent)
				for _, e := range r.LabelErrors {
					fmt.Fprintf(out, "   skipped  %s\n", e)
				}
				return nil
			})
		},
	}
}

func newReindexCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rewrite the embedding partitions of every labeled recording",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(func(svc annotator.Service) error {
				n, err := svc.RebuildPartitions(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "Rebuilt %d partition(s)\n", n)
				return err
			})
		},
	}
}

func newScanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Write the dataset metadata file from the audio directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			layout := a.layout()
			idx, err := dataset.Scan(layout, a.log)
			if err != nil {
				return err
			}
			if err := idx.WriteMetadata(a.cfg.Data.MetadataFile); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Indexed %d recording(s) into %s\n",
				idx.Len(), layout.MetadataPath(a.cfg.Data.MetadataFile))
			return nil
		},
	}
}

func newSpectrogramsCmd(a *app) *cobra.Command {
	var overwrite bool
	opts := spectrogram.DefaultOptions()
	cmd := &cobra.Command{
		Use:   "spectrograms",
		Short: "Render missing spectrogram images for the dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			layout := a.layout()
			idx, err := dataset.Load(layout, a.cfg.Data.MetadataFile, a.log)
			if err != nil {
				return err
			}
			jobs := make([]spectrogram.Job, 0, idx.Len())
			for _, name := range idx.Recordings() {
				jobs = append(jobs, spectrogram.Job{
					Name:    name,
					WavPath: filepath.Join(layout.AudioDir(), name+dataset.AudioExt),
					PngPath: filepath.Join(layout.SpectrogramDir(), name+dataset.SpectrogramExt),
				})
			}
			n, err := spectrogram.RenderMissing(cmd.Context(), jobs, opts, overwrite, a.log)
			fmt.Fprintf(cmd.OutOrStdout(), "🖼  Rendered %d spectrogram(s)\n", n)
			return err
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Re-render existing images")
	cmd.Flags().IntVar(&opts.Width, "width", opts.Width, "Image width in pixels")
	cmd.Flags().IntVar(&opts.Height, "height", opts.Height, "Image height in pixels")
	return cmd
}

func kindNames() []string {
	kinds := sampling.Kinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func formatVector(v []float64, head int) string {
	if head <= 0 || head > len(v) {
		head = len(v)
	}
	parts := make([]string, head)
	for i := 0; i < head; i++ {
		parts[i] = fmt.Sprintf("%.4f", v[i])
	}
	s := "[" + strings.Join(parts, " ")
	if head < len(v) {
		s += " ..."
	}
	return s + "]"
}
