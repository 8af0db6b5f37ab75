package cli

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/V4T54L/accesslog/internal/adapter/codec"
	"github.com/V4T54L/accesslog/internal/client"
	"github.com/V4T54L/accesslog/internal/domain"
)

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Fetch records in a time range",
		Long:  "Prints the stored records as a JSON array or as CSV with a header row. --from is inclusive and --until exclusive.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rawFormat, _ := cmd.Flags().GetString("format")
			format, err := client.ParseFormat(rawFormat)
			if err != nil {
				return err
			}
			tr, err := timeRangeFromFlags(cmd)
			if err != nil {
				return err
			}

			var buf bytes.Buffer
			if err := clientFromCmd(cmd).Fetch(cmd.Context(), format, tr, &buf); err != nil {
				return fmt.Errorf("get: %w", err)
			}
			if format == client.FormatJSON && !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
				buf.WriteByte('\n')
			}
			_, err = buf.WriteTo(cmd.OutOrStdout())
			return err
		},
	}
	cmd.Flags().StringP("format", "f", string(client.FormatJSON), "output format: csv or json")
	cmd.Flags().String("from", "", "earliest timestamp to include (RFC 3339)")
	cmd.Flags().String("until", "", "timestamp to stop before (RFC 3339)")
	return cmd
}

func timeRangeFromFlags(cmd *cobra.Command) (domain.TimeRange, error) {
	from, err := timeFlag(cmd, "from")
	if err != nil {
		return domain.TimeRange{}, err
	}
	until, err := timeFlag(cmd, "until")
	if err != nil {
		return domain.TimeRange{}, err
	}
	if !from.IsZero() && !until.IsZero() && from.After(until) {
		return domain.TimeRange{}, errors.New("--from must not be after --until")
	}
	return domain.TimeRange{From: from, Until: until}, nil
}

// timeFlag parses an optional timestamp flag; empty yields the zero time.
func timeFlag(cmd *cobra.Command, name string) (time.Time, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := codec.ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", name, err)
	}
	return t, nil
}
