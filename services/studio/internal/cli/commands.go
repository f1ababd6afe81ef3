package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"writecheck/pkg/annotate"
	"writecheck/pkg/domain"
	"writecheck/pkg/push"
	"writecheck/pkg/storage"
	"writecheck/pkg/store"
	"writecheck/services/studio/internal/upload"
)

func passwordFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVar(target, "password", os.Getenv("STUDIO_PASSWORD"), "account password (defaults to $STUDIO_PASSWORD)")
}

func newLoginCommand(rt *runtime) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Sign in and store the session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := rt.app.Login(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", user.Username)
			return nil
		},
	}
	passwordFlag(cmd, &password)
	return cmd
}

func newRegisterCommand(rt *runtime) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "register <username>",
		Short: "Create an account and sign in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(args[0]) == "" {
				return errors.New("username is required")
			}
			type check struct {
				available bool
				err       error
			}
			result := make(chan check, 1)
			rt.app.CheckUsername(args[0], func(available bool, err error) {
				result <- check{available, err}
			})
			select {
			case res := <-result:
				if res.err != nil {
					return res.err
				}
				if !res.available {
					return fmt.Errorf("username %q is already taken", args[0])
				}
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}
			user, err := rt.app.Register(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered and signed in as %s\n", user.Username)
			return nil
		},
	}
	passwordFlag(cmd, &password)
	return cmd
}

func newLogoutCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt.app.Logout()
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func newListCommand(rt *runtime) *cobra.Command {
	var page, pageSize int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List writings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := rt.app.OpenList(ctx); err != nil {
				return err
			}
			defer rt.app.CloseList()
			w := rt.app.Window()
			if pageSize > 0 {
				if err := w.SetPageSize(ctx, pageSize); err != nil {
					return err
				}
			}
			if page > 0 {
				if err := w.SetPage(ctx, page-1); err != nil {
					return err
				}
			}
			return printList(cmd.OutOrStdout(), w.Visible(), w.Meta())
		},
	}
	cmd.Flags().IntVar(&page, "page", 0, "page number, starting at 1")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "writings per page")
	return cmd
}

func newShowCommand(rt *runtime) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a writing with its corrections highlighted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			defer rt.app.CloseDetail()
			out := cmd.OutOrStdout()
			style := annotate.PlainStyle
			if rt.cfg.Color && isTerminal(out) {
				style = annotate.ANSIStyle
			}
			return showDetail(cmd.Context(), out, rt.app, id, style, watch)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep listening for processing updates")
	return cmd
}

func newUploadCommand(rt *runtime) *cobra.Command {
	var bucketPrefix string
	cmd := &cobra.Command{
		Use:   "upload [file...]",
		Short: "Upload JPG or PNG images for correction",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			files, err := collectFiles(ctx, rt, args, bucketPrefix, cmd.Flags().Changed("bucket-prefix"))
			if err != nil {
				return err
			}
			outcome, err := rt.app.Upload(ctx, files)
			if outcome.Message != "" {
				fmt.Fprintln(cmd.OutOrStdout(), outcome.Message)
			}
			if err != nil {
				return err
			}
			if outcome.Kind != upload.AllSucceeded {
				return errors.New("some uploads failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&bucketPrefix, "bucket-prefix", "", "upload every object under this prefix of the configured MinIO bucket")
	return cmd
}

func collectFiles(ctx context.Context, rt *runtime, paths []string, prefix string, fromBucket bool) ([]upload.File, error) {
	if !fromBucket {
		return upload.FromPaths(paths)
	}
	if len(paths) > 0 {
		return nil, errors.New("pass either files or --bucket-prefix, not both")
	}
	m := rt.cfg.Minio
	if !m.Enabled() {
		return nil, errors.New("minio is not configured")
	}
	objects, err := storage.NewMinioStore(m.Endpoint, m.AccessKey, m.SecretKey, m.Bucket, m.UseSSL)
	if err != nil {
		return nil, err
	}
	return upload.FromObjectStore(ctx, objects, prefix)
}

func newDeleteCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete writings",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, a := range args {
				id, err := parseID(a)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			res, err := rt.app.Delete(cmd.Context(), ids...)
			out := cmd.OutOrStdout()
			if len(res.Deleted) > 0 {
				fmt.Fprintf(out, "Deleted %d writing(s): %s\n", len(res.Deleted), joinIDs(res.Deleted))
			}
			if err != nil {
				fmt.Fprintf(out, "Failed to delete %d writing(s): %s\n", len(res.Failed), joinIDs(res.Failed))
				return err
			}
			return nil
		},
	}
}

func newWatchCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print writing updates as they arrive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			cancel := rt.app.Subscribe(func(ch store.Change) {
				switch ch.Kind {
				case store.ChangeCreate, store.ChangeUpsert:
					if w, ok := rt.app.Writing(ch.ID); ok {
						printUpdate(out, ch.Kind, w)
					}
				}
			})
			defer cancel()
			if err := rt.app.OpenList(ctx); err != nil {
				return err
			}
			defer rt.app.CloseList()
			if rt.app.PushState(push.KindRoster) != push.StateOpen {
				return errors.New("live updates are unavailable")
			}
			fmt.Fprintln(out, "Watching for updates (Ctrl-C to stop)")
			<-ctx.Done()
			return nil
		},
	}
}

func newCreditsCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "credits",
		Short: "Show credit usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			c, err := rt.app.Credits(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Credits: %.0f remaining, %.0f used (%.0f%%)\n", c.TotalCredits, c.TotalUsage, c.UsagePercent())
			return nil
		},
	}
}

type detailView interface {
	OpenDetail(ctx context.Context, id int64) (domain.Writing, error)
	Current() (domain.Writing, bool)
	RenderCurrent(out io.Writer, style annotate.Style) error
	Subscribe(fn func(store.Change)) (cancel func())
}

// showDetail prints writing id. With watch it re-renders on every change to
// the record until ctx is done. The subscription is taken before the detail
// is opened.
func showDetail(ctx context.Context, out io.Writer, view detailView, id int64, style annotate.Style, watch bool) error {
	updates := make(chan struct{}, 1)
	if watch {
		cancel := view.Subscribe(func(ch store.Change) {
			if ch.ID == id && (ch.Kind == store.ChangeUpsert || ch.Kind == store.ChangeRemove) {
				select {
				case updates <- struct{}{}:
				default:
				}
			}
		})
		defer cancel()
	}
	if _, err := view.OpenDetail(ctx, id); err != nil {
		return err
	}

	var shown domain.Writing
	render := func() {
		w, ok := view.Current()
		if !ok {
			return
		}
		shown = w
		printDetail(out, w)
		_ = view.RenderCurrent(out, style)
	}
	render()
	if !watch {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-updates:
			w, ok := view.Current()
			if !ok {
				fmt.Fprintln(out, "Writing was deleted")
				return nil
			}
			if reflect.DeepEqual(w, shown) {
				continue
			}
			render()
		}
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid writing id %q", s)
	}
	return id, nil
}
