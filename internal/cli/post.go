package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/V4T54L/accesslog/internal/adapter/codec"
)

func newPostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Post CSV records from stdin one at a time",
		Long: "Reads user_agent,response_time,timestamp records from stdin and posts each as a " +
			"single JSON record. Lines that fail to parse are reported on stderr and skipped.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			perSecond, _ := cmd.Flags().GetFloat64("rate")
			if perSecond < 0 {
				return errors.New("--rate must not be negative")
			}
			limiter := rate.NewLimiter(rate.Inf, 1)
			if perSecond > 0 {
				limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
			}

			ctx := cmd.Context()
			c := clientFromCmd(cmd)
			parser := codec.NewParser(cmd.InOrStdin())
			for {
				out, err := parser.Next()
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return fmt.Errorf("read input: %w", err)
				}
				if !out.OK() {
					fmt.Fprintf(cmd.ErrOrStderr(), "[WARN] failed to parse a line, skipping: %v\n", out.Err)
					continue
				}
				if err := limiter.Wait(ctx); err != nil {
					return err
				}
				if err := c.PostLog(ctx, out.Record); err != nil {
					return fmt.Errorf("post record: %w", err)
				}
			}
		},
	}
	cmd.Flags().Float64("rate", 0, "maximum records posted per second (0 for unlimited)")
	return cmd
}
