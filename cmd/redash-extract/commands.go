package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/redash-extract/internal/calendar"
	"github.com/Sternrassler/redash-extract/internal/report"
	"github.com/Sternrassler/redash-extract/pkg/client"
	"github.com/Sternrassler/redash-extract/pkg/dataset"
	"github.com/Sternrassler/redash-extract/pkg/metrics"
	"github.com/Sternrassler/redash-extract/pkg/pagination"
	"github.com/Sternrassler/redash-extract/pkg/publish"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const defaultPushTimeout = 10 * time.Second

func newRunCmd(c *cli) *cobra.Command {
	var noPublish bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the monthly and daily reports and publish the files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.load(); err != nil {
				return err
			}
			defer c.close()

			ctx := cmd.Context()
			start := time.Now()
			cfg := c.cfg

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			cal, err := calendar.New(cfg.Report.Timezone)
			if err != nil {
				return err
			}

			var pub publish.Publisher
			if !noPublish {
				pub, err = publish.New(ctx, publishConfig(cfg.Publish))
				if err != nil {
					return err
				}
			}

			fetcher := pagination.New(a.client, fetcherConfig(cfg.Report))
			runner := report.New(fetcher, pub, cal, reportConfig(cfg.Report))

			log.Info().
				Str("backend", cfg.Publish.Backend).
				Bool("publish", pub != nil).
				Int("days", cfg.Report.Days).
				Msg("Starting report run")

			_, runErr := runner.Run(ctx)

			metrics.RunDuration.Set(time.Since(start).Seconds())
			if runErr == nil {
				metrics.LastSuccess.SetToCurrentTime()
			}
			pushMetrics(ctx, cfg.Metrics)
			return runErr
		},
	}
	cmd.Flags().BoolVar(&noPublish, "no-publish", false, "write the files without publishing them")
	return cmd
}

func newQueryCmd(c *cli) *cobra.Command {
	var (
		rawParams []string
		out       string
	)

	cmd := &cobra.Command{
		Use:   "query <query-id>",
		Short: "Run one query and print its rows as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(rawParams)
			if err != nil {
				return err
			}
			if err := c.load(); err != nil {
				return err
			}
			defer c.close()

			ctx := cmd.Context()
			a, err := newApp(ctx, c.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ds, err := a.client.Query(ctx, client.QueryID(args[0]), params)
			if err != nil {
				return err
			}
			return emit(cmd, ds, out)
		},
	}
	cmd.Flags().StringArrayVarP(&rawParams, "param", "p", nil, "query parameter as key=value (repeatable)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write a Parquet file instead of printing")
	return cmd
}

func newFetchAllCmd(c *cli) *cobra.Command {
	var (
		countQuery string
		pageQuery  string
		pageSize   int64
		startDate  string
		endDate    string
		out        string
	)

	cmd := &cobra.Command{
		Use:   "fetch-all",
		Short: "Run a paginated fetch for a date range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.load(); err != nil {
				return err
			}
			defer c.close()

			ctx := cmd.Context()
			cfg := c.cfg
			if countQuery == "" {
				countQuery = cfg.Report.Daily.CountQuery
			}
			if pageQuery == "" {
				pageQuery = cfg.Report.Daily.PageQuery
			}
			if pageSize == 0 {
				pageSize = cfg.Report.Daily.PageSize
			}
			if endDate == "" {
				endDate = startDate
			}

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			fetcher := pagination.New(a.client, fetcherConfig(cfg.Report))
			ds, err := fetcher.FetchAll(ctx, pagination.Request{
				CountQueryID: client.QueryID(countQuery),
				PageQueryID:  client.QueryID(pageQuery),
				PageSize:     pageSize,
				Start:        startDate,
				End:          endDate,
			})
			if err != nil {
				return err
			}
			return emit(cmd, ds, out)
		},
	}
	cmd.Flags().StringVar(&countQuery, "count-query", "", "count query id (default: report.daily.count_query)")
	cmd.Flags().StringVar(&pageQuery, "page-query", "", "page query id (default: report.daily.page_query)")
	cmd.Flags().Int64Var(&pageSize, "page-size", 0, "rows per page (default: report.daily.page_size)")
	cmd.Flags().StringVar(&startDate, "start", "", "first date, YYYY-MM-DD")
	cmd.Flags().StringVar(&endDate, "end", "", "last date, YYYY-MM-DD (default: start)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write a Parquet file instead of printing")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

// parseParams turns key=value pairs into query parameters.
func parseParams(raw []string) (client.Params, error) {
	params := client.Params{}
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, want key=value", kv)
		}
		params[key] = value
	}
	return params, nil
}

// emit prints ds as JSON or writes it to out as Parquet.
func emit(cmd *cobra.Command, ds *dataset.Dataset, out string) error {
	if out != "" {
		if err := dataset.WriteParquet(cmd.Context(), ds, out); err != nil {
			return err
		}
		log.Info().
			Str("file", out).
			Int("rows", ds.Len()).
			Msg("File written")
		return nil
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Columns []string      `json:"columns"`
		Rows    []dataset.Row `json:"rows"`
	}{ds.Columns, ds.Rows})
}
