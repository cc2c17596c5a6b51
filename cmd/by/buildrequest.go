package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zulandar/buildyard/internal/buildrequests"
	"github.com/zulandar/buildyard/internal/buildsets"
	"github.com/zulandar/buildyard/internal/db"
	"github.com/zulandar/buildyard/internal/mq"
	"github.com/zulandar/buildyard/internal/results"
	"github.com/zulandar/buildyard/internal/resultspec"
)

func newBuildRequestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buildrequest",
		Short: "Build request commands",
	}

	cmd.AddCommand(newBuildRequestListCmd())
	cmd.AddCommand(newBuildRequestCompleteCmd())
	cmd.AddCommand(newBuildRequestClaimCmd())
	cmd.AddCommand(newBuildRequestUnclaimCmd())
	return cmd
}

func newBuildRequestListCmd() *cobra.Command {
	var (
		configPath string
		buildsetID int64
		claimed    string
		complete   string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List build requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := &resultspec.Spec{Limit: limit}
			if buildsetID > 0 {
				spec.Filters = append(spec.Filters, resultspec.Filter{
					Field: "buildsetid", Op: resultspec.OpEq, Values: []any{buildsetID},
				})
			}
			for _, f := range []struct {
				name, value string
			}{{"claimed", claimed}, {"complete", complete}} {
				switch f.value {
				case "":
				case "true", "false":
					spec.Filters = append(spec.Filters, resultspec.Filter{
						Field: f.name, Op: resultspec.OpEq, Values: []any{f.value == "true"},
					})
				default:
					return fmt.Errorf("bad --%s value %q", f.name, f.value)
				}
			}
			return runBuildRequestList(cmd, configPath, spec)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "buildyard.yaml", "path to Buildyard config file")
	cmd.Flags().Int64Var(&buildsetID, "buildset", 0, "filter by buildset id")
	cmd.Flags().StringVar(&claimed, "claimed", "", "filter by claim state (true or false)")
	cmd.Flags().StringVar(&complete, "complete", "", "filter by completion (true or false)")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func runBuildRequestList(cmd *cobra.Command, configPath string, spec *resultspec.Spec) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	svc := buildrequests.New(gormDB, mq.New())
	items, err := svc.List(spec)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(items) == 0 {
		fmt.Fprintln(out, "No build requests found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BRID\tBSID\tBUILDER\tCLAIMED\tCOMPLETE\tRESULT\tSUBMITTED")
	for _, br := range items {
		fmt.Fprintf(w, "%d\t%d\t%d\t%t\t%t\t%s\t%s\n",
			br.BuildRequestID, br.BuildsetID, br.BuilderID, br.Claimed, br.Complete,
			results.Name(br.Results), br.SubmittedAt.Format(time.RFC3339))
	}
	w.Flush()
	return nil
}

func newBuildRequestCompleteCmd() *cobra.Command {
	var (
		configPath string
		resultName string
	)

	cmd := &cobra.Command{
		Use:   "complete <brid>...",
		Short: "Mark build requests complete",
		Long: `Records a terminal result on the given build requests, then checks each
affected buildset for completion.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			brids, err := parseIDs(args)
			if err != nil {
				return err
			}
			code, ok := results.Code(resultName)
			if !ok {
				return fmt.Errorf("unknown result %q", resultName)
			}
			return runBuildRequestComplete(cmd, configPath, brids, code)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "buildyard.yaml", "path to Buildyard config file")
	cmd.Flags().StringVar(&resultName, "result", "success", "result code name (success, warnings, failure, skipped, exception, retry, cancelled)")
	return cmd
}

func runBuildRequestComplete(cmd *cobra.Command, configPath string, brids []int64, code int) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	bus := mq.New()
	brSvc := buildrequests.New(gormDB, bus)
	bsSvc := buildsets.New(gormDB, bus)

	// Record affected buildsets before the write so every one gets its
	// completion check afterwards.
	affected := make(map[int64]bool)
	for _, brid := range brids {
		br, err := brSvc.Get(brid)
		if err != nil {
			return err
		}
		if br == nil {
			return fmt.Errorf("build request %d not found", brid)
		}
		affected[br.BuildsetID] = true
	}

	if err := brSvc.Complete(brids, code); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Completed %d build requests with %s\n", len(brids), results.Name(code))

	for bsid := range affected {
		if err := bsSvc.MaybeComplete(bsid); err != nil {
			return err
		}
		bs, err := bsSvc.Get(bsid)
		if err != nil {
			return err
		}
		if bs != nil && bs.Complete && bs.Results != nil {
			fmt.Fprintf(out, "Buildset %d complete: %s\n", bsid, results.Name(*bs.Results))
		}
	}
	return nil
}

func newBuildRequestClaimCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "claim <brid>...",
		Short: "Claim build requests for this master",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			brids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return runBuildRequestClaim(cmd, configPath, brids)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "buildyard.yaml", "path to Buildyard config file")
	return cmd
}

func runBuildRequestClaim(cmd *cobra.Command, configPath string, brids []int64) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	master, err := db.RegisterMaster(gormDB, cfg.Master)
	if err != nil {
		return err
	}

	svc := buildrequests.New(gormDB, mq.New())
	if err := svc.Claim(brids, master.ID); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Claimed %d build requests for master %q\n", len(brids), master.Name)
	return nil
}

func newBuildRequestUnclaimCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "unclaim <brid>...",
		Short: "Release claims on build requests",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			brids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return runBuildRequestUnclaim(cmd, configPath, brids)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "buildyard.yaml", "path to Buildyard config file")
	return cmd
}

func runBuildRequestUnclaim(cmd *cobra.Command, configPath string, brids []int64) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	svc := buildrequests.New(gormDB, mq.New())
	if err := svc.Unclaim(brids); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Unclaimed %d build requests\n", len(brids))
	return nil
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad id %q", arg)
	}
	return id, nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := parseID(a)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
