package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/draftmesh"
	"github.com/hupe1980/draftmesh/config"
	"github.com/hupe1980/draftmesh/core"
	"github.com/hupe1980/draftmesh/stream"
)

const maxSessionFileSize = 1 << 20

func newRunCmd(load loadFunc) *cobra.Command {
	var (
		streamEvents bool
		rounds       int
	)

	cmd := &cobra.Command{
		Use:   "run <session.yaml>",
		Short: "Run a session file to completion",
		Long: `Run the session described by a YAML file and print the final document.

Examples:
  # Print the final document
  draftmesh run essay.yaml

  # Stream every event as server-sent events
  draftmesh run --stream essay.yaml

  # Read the session from stdin
  cat essay.yaml | draftmesh run -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			sess, err := loadSession(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}

			if rounds > 0 {
				sess.Termination.MaxRounds = rounds
			}

			return runSession(cmd.Context(), cfg, sess, streamEvents, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().BoolVar(&streamEvents, "stream", false, "write events as SSE frames instead of the final document")
	cmd.Flags().IntVar(&rounds, "rounds", 0, "override termination.max_rounds")

	return cmd
}

func runSession(ctx context.Context, cfg *config.Config, sess core.SessionConfig, streamEvents bool, out, errOut io.Writer) error {
	dm, err := draftmesh.New(func(o *draftmesh.Options) { o.Config = *cfg })
	if err != nil {
		return err
	}

	defer func() {
		_ = dm.Close(context.WithoutCancel(ctx))
	}()

	if streamEvents {
		id, sub, err := dm.Run(ctx, sess)
		if err != nil {
			return err
		}
		defer sub.Close()

		if err := stream.Pump(ctx, out, nil, sub, 0); err != nil {
			return err
		}

		st, err := dm.Engine().Get(ctx, id)
		if err != nil {
			return err
		}

		return sessionError(st)
	}

	st, _, err := dm.RunSync(ctx, sess)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, st.CurrentDocument())
	fmt.Fprintf(errOut, "session %s %s after %d round(s): %s (%d credits)\n",
		st.Config.ID, st.Status, st.CurrentRound, st.TerminationReason, st.CreditsUsed)

	return sessionError(st)
}

func sessionError(st core.SessionState) error {
	if st.Status == core.StatusFailed {
		return fmt.Errorf("session failed: %s", st.TerminationReason)
	}

	return nil
}

func newEstimateCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "estimate <session.yaml>",
		Short: "Estimate the credits of a session file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			sess, err := loadSession(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}

			dm, err := draftmesh.New(func(o *draftmesh.Options) { o.Config = *cfg })
			if err != nil {
				return err
			}

			est, err := dm.Engine().Estimate(cmd.Context(), sess)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			return enc.Encode(est)
		},
	}
}

// loadSession decodes a session definition from path, or from stdin when
// path is "-".
func loadSession(path string, stdin io.Reader) (core.SessionConfig, error) {
	var r io.Reader = stdin

	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return core.SessionConfig{}, fmt.Errorf("open session file: %w", err)
		}
		defer f.Close()

		r = f
	}

	data, err := io.ReadAll(io.LimitReader(r, maxSessionFileSize+1))
	if err != nil {
		return core.SessionConfig{}, fmt.Errorf("read session file: %w", err)
	}

	if len(data) > maxSessionFileSize {
		return core.SessionConfig{}, fmt.Errorf("session file exceeds %d bytes", maxSessionFileSize)
	}

	var sess core.SessionConfig
	if err := yaml.Unmarshal(data, &sess); err != nil {
		return core.SessionConfig{}, fmt.Errorf("parse session file: %w", err)
	}

	return sess, nil
}
