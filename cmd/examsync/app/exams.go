package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/examsight/examsync/internal/analysis"
	"github.com/examsight/examsync/internal/app"
	"github.com/examsight/examsync/internal/auth"
	"github.com/examsight/examsync/internal/cache"
	"github.com/examsight/examsync/internal/engine"
	"github.com/examsight/examsync/internal/examapi"
	"github.com/examsight/examsync/internal/status"
)

func (c *cli) examsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exams",
		Short: "List, upload, delete and analyze exams",
	}
	cmd.AddCommand(c.examsListCmd())
	cmd.AddCommand(c.examsUploadCmd())
	cmd.AddCommand(c.examsDeleteCmd())
	cmd.AddCommand(c.examsAnalyzeCmd())
	return cmd
}

// authenticatedSession builds a session and fails fast when no valid token is stored
func (c *cli) authenticatedSession(cmd *cobra.Command, opts ...app.SessionOption) (*app.Session, error) {
	return c.sessionWithNotifier(cmd, false, opts...)
}

func (c *cli) sessionWithNotifier(cmd *cobra.Command, openResults bool, opts ...app.SessionOption) (*app.Session, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}

	notifier := newTerminalNotifier(cmd.ErrOrStderr(), cfg.GetWebBaseURL(), openResults)
	opts = append([]app.SessionOption{app.WithNotifier(notifier)}, opts...)

	session, err := c.newSession(cmd.Context(), cfg, opts...)
	if err != nil {
		return nil, err
	}
	if _, err := auth.NewTokenSource(session.Tokens()).Require(cmd.Context()); err != nil {
		closeSession(session)
		if errors.Is(err, auth.ErrNotLoggedIn) {
			return nil, fmt.Errorf("%w: run \"examsync login\" first", err)
		}
		return nil, err
	}
	return session, nil
}

func (c *cli) examsListCmd() *cobra.Command {
	var (
		page           int
		pageSize       int
		watch          bool
		metricsAddress string
		output         = outputTable
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List exams",
		Long: `List one page of exams. With --watch the page is printed again whenever it
changes; it is refreshed every few seconds while an exam is being analyzed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if metricsAddress != "" && !watch {
				return fmt.Errorf("--metrics-address requires --watch")
			}

			var opts []app.SessionOption
			if metricsAddress != "" {
				opts = append(opts, app.WithStatusAddress(metricsAddress))
			}
			session, err := c.authenticatedSession(cmd, opts...)
			if err != nil {
				return err
			}
			defer closeSession(session)

			render := func(w io.Writer, list *examapi.ExamList) error {
				switch output {
				case outputJSON:
					return writeJSON(w, list)
				case outputYAML:
					return writeYAML(w, list)
				default:
					return writeExamTable(w, list)
				}
			}

			if !watch {
				list, err := session.Engine().Exams(cmd.Context(), page, pageSize)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), list)
			}
			return watchExams(cmd, session, page, pageSize, render)
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "Page to show")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Exams per page (defaults to the configured page size)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep the page up to date until interrupted")
	cmd.Flags().StringVar(&metricsAddress, "metrics-address", "",
		"Serve health, metrics and the cache on this address while watching (e.g. 127.0.0.1:9464)")
	cmd.Flags().VarP(&output, "output", "o", "Output format (table, json or yaml)")
	return cmd
}

// clearScreen moves the cursor home and clears the terminal
const clearScreen = "\x1b[H\x1b[2J"

// isTerminal reports whether w is an interactive terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// watchExams prints the page on every change until the command is interrupted
func watchExams(cmd *cobra.Command, session *app.Session, page, pageSize int,
	render func(io.Writer, *examapi.ExamList) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if session.GetStatusServer() != nil {
		go func() {
			if err := session.ServeStatus(nil); err != nil {
				slog.Error("Status endpoint failed", "error", err)
			}
		}()
	}

	go func() {
		if err := session.Engine().FollowLogout(ctx); err != nil {
			slog.Warn("Not following logouts of other processes", "error", err)
		}
	}()

	var mu sync.Mutex
	out := cmd.OutOrStdout()
	redraw := isTerminal(out)
	sub, err := session.Engine().WatchExams(ctx, page, pageSize, func(list *examapi.ExamList) {
		mu.Lock()
		defer mu.Unlock()
		if redraw {
			fmt.Fprint(out, clearScreen)
		} else {
			fmt.Fprintln(out)
		}
		fmt.Fprintln(out, hintStyle.Render(time.Now().Format(time.TimeOnly)))
		if err := render(out, list); err != nil {
			slog.Warn("Failed to render exams", "error", err)
		}
	})
	if err != nil {
		return err
	}
	defer sub.Stop()

	<-ctx.Done()
	return nil
}

func (c *cli) examsUploadCmd() *cobra.Command {
	var req examapi.UploadRequest

	cmd := &cobra.Command{
		Use:   "upload FILE...",
		Short: "Upload an exam made of one or more files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, closeFiles, err := openUploadFiles(args)
			if err != nil {
				return err
			}
			defer closeFiles()
			req.Files = files

			session, err := c.authenticatedSession(cmd)
			if err != nil {
				return err
			}
			defer closeSession(session)

			exam, err := session.Engine().Upload(cmd.Context(), &req)
			if err != nil {
				return err
			}
			return writeExam(cmd.OutOrStdout(), exam)
		},
	}

	cmd.Flags().StringVar(&req.Title, "title", "", "Exam title")
	cmd.Flags().StringVar(&req.Subject, "subject", "", "Subject")
	cmd.Flags().StringVar(&req.Grade, "grade", "", "Grade")
	cmd.Flags().StringVar(&req.Unit, "unit", "", "Unit")
	cmd.Flags().StringVar(&req.ExamType, "type", "", "Exam type (e.g. midterm, final, quiz)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

// openUploadFiles opens every path for reading. The returned func closes them.
func openUploadFiles(paths []string) ([]examapi.UploadFile, func(), error) {
	var opened []*os.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}

	files := make([]examapi.UploadFile, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(filepath.Clean(p))
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to open %s: %w", p, err)
		}
		opened = append(opened, f)
		files = append(files, examapi.UploadFile{Name: filepath.Base(p), Content: f})
	}
	return files, closeAll, nil
}

func (c *cli) examsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete EXAM_ID",
		Short: "Delete an exam",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := c.authenticatedSession(cmd)
			if err != nil {
				return err
			}
			defer closeSession(session)

			// Load the page first so the removal is applied to a cached list
			if _, err := session.Engine().Exams(cmd.Context(), 1, 0); err != nil {
				slog.Debug("Failed to load exams before delete", "error", err)
			}

			if err := <-session.Engine().Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted exam %s\n", args[0])
			return nil
		},
	}
}

func (c *cli) examsAnalyzeCmd() *cobra.Command {
	var (
		examType string
		force    bool
		open     bool
		wait     bool
		page     int
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "analyze EXAM_ID",
		Short: "Request the analysis of an exam",
		Long: `Request the analysis of an exam. If --type differs from the stored type (or,
without --type, the detected type does) the exam type is corrected first.
Finished exams are only analyzed again with --force. The exam is looked up
on --page of the exam list.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := c.sessionWithNotifier(cmd, open)
			if err != nil {
				return err
			}
			defer closeSession(session)

			examID := args[0]
			if page < 1 {
				return fmt.Errorf("--page must be at least 1, got %d", page)
			}
			result, err := session.Engine().RequestAnalysis(cmd.Context(), page, analysis.Request{
				ExamID:   examID,
				ExamType: examType,
				Force:    force,
			})
			if err != nil {
				return err
			}

			switch result.Outcome {
			case analysis.OutcomeAnalyzed:
				fmt.Fprintf(cmd.OutOrStdout(), "Analysis %s requested for exam %s\n", result.Response.AnalysisID, examID)
			case analysis.OutcomePossiblyInFlight:
				return nil
			default:
				return result.Err
			}

			if !wait {
				return nil
			}
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			exam, err := waitForExam(ctx, session.Engine(), examID, page)
			if err != nil {
				return err
			}
			return writeExam(cmd.OutOrStdout(), exam)
		},
	}

	cmd.Flags().StringVar(&examType, "type", "", "Confirmed exam type")
	cmd.Flags().BoolVar(&force, "force", false, "Analyze an exam again")
	cmd.Flags().BoolVar(&open, "open", false, "Open the result in the browser")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the analysis completed or failed")
	cmd.Flags().IntVar(&page, "page", 1, "Exam list page holding the exam")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up waiting after this long (0 waits until interrupted)")
	return cmd
}

// waitForExam watches the exam's list page until the exam reaches a terminal
// status. It fails when the exam leaves the page or is not being analyzed,
// since polling would then never be armed.
func waitForExam(ctx context.Context, eng *engine.Engine, examID string, page int) (*examapi.Exam, error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan examapi.Exam, 1)
	gone := make(chan struct{}, 1)
	sub, err := eng.WatchExams(ctx, page, 0, func(list *examapi.ExamList) {
		e, ok := list.Find(examID)
		switch {
		case !ok:
			select {
			case gone <- struct{}{}:
			default:
			}
		case e.Status.IsTerminal():
			select {
			case done <- e:
			default:
			}
		}
	})
	if err != nil {
		return nil, err
	}
	defer sub.Stop()

	// The cached row carries the local analyzed marker; fetch the server state
	// so that polling starts while the exam is still analyzing.
	key := engine.ListKey(page, eng.PageSize())
	if err := eng.Cache().Revalidate(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to refresh exams: %w", err)
	}
	list, ok := cache.Peek[*examapi.ExamList](eng.Cache(), key)
	if !ok {
		return nil, fmt.Errorf("exam %s is no longer listed on page %d", examID, page)
	}
	e, ok := list.Find(examID)
	switch {
	case !ok:
		return nil, fmt.Errorf("exam %s is no longer listed on page %d", examID, page)
	case e.Status.IsTerminal():
		return &e, nil
	case e.Status != status.Analyzing:
		return nil, fmt.Errorf("exam %s is %s, not analyzing", examID, e.Status)
	}

	select {
	case e := <-done:
		return &e, nil
	case <-gone:
		return nil, fmt.Errorf("exam %s is no longer listed on page %d", examID, page)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
