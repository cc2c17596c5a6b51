package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/zulandar/buildyard/internal/buildrequests"
	"github.com/zulandar/buildyard/internal/buildsets"
	"github.com/zulandar/buildyard/internal/models"
	"github.com/zulandar/buildyard/internal/mq"
	"github.com/zulandar/buildyard/internal/results"
	"github.com/zulandar/buildyard/internal/resultspec"
)

func newBuildsetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buildset",
		Short: "Buildset management commands",
	}

	cmd.AddCommand(newBuildsetAddCmd())
	cmd.AddCommand(newBuildsetListCmd())
	cmd.AddCommand(newBuildsetShowCmd())
	return cmd
}

func newBuildsetAddCmd() *cobra.Command {
	var (
		configPath   string
		builders     []string
		sourcestamps []int64
		reason       string
		schedulerTag string
		external     string
		priority     int
		waitedFor    bool
		properties   []string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a buildset",
		Long:  "Atomically creates a buildset and one build request per named builder.",
		RunE: func(cmd *cobra.Command, args []string) error {
			props, err := parseProperties(properties)
			if err != nil {
				return err
			}
			return runBuildsetAdd(cmd, configPath, builders, buildsets.AddOpts{
				SourceStamps:     sourcestamps,
				Reason:           reason,
				Scheduler:        schedulerTag,
				ExternalIDString: external,
				Priority:         priority,
				WaitedFor:        waitedFor,
				Properties:       props,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "buildyard.yaml", "path to Buildyard config file")
	cmd.Flags().StringSliceVar(&builders, "builder", nil, "builder name (repeatable)")
	cmd.Flags().Int64SliceVar(&sourcestamps, "sourcestamp", nil, "sourcestamp id (repeatable)")
	cmd.Flags().StringVar(&reason, "reason", "", "why this buildset was created")
	cmd.Flags().StringVar(&schedulerTag, "scheduler", "", "scheduler name to record")
	cmd.Flags().StringVar(&external, "external-id", "", "external idstring")
	cmd.Flags().IntVar(&priority, "priority", 0, "build request priority")
	cmd.Flags().BoolVar(&waitedFor, "waited-for", false, "mark build requests as waited for")
	cmd.Flags().StringArrayVar(&properties, "property", nil, "key=value property (repeatable)")
	return cmd
}

func runBuildsetAdd(cmd *cobra.Command, configPath string, builders []string, opts buildsets.AddOpts) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	builderIDs, err := builderIDsByName(gormDB, builders)
	if err != nil {
		return err
	}
	opts.BuilderIDs = builderIDs

	svc := buildsets.New(gormDB, mq.New())
	bsid, brids, err := svc.Add(opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created buildset %d\n", bsid)
	for i, name := range builders {
		fmt.Fprintf(out, "  %s: build request %d\n", name, brids[builderIDs[i]])
	}
	if len(builders) == 0 {
		fmt.Fprintln(out, "  no builders: buildset completed immediately")
	}
	return nil
}

func newBuildsetListCmd() *cobra.Command {
	var (
		configPath string
		complete   string
		limit      int
		offset     int
		order      string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List buildsets",
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := &resultspec.Spec{Offset: offset, Limit: limit}
			switch complete {
			case "":
			case "true", "false":
				spec.Filters = append(spec.Filters, resultspec.Filter{
					Field: "complete", Op: resultspec.OpEq, Values: []any{complete == "true"},
				})
			default:
				return fmt.Errorf("bad --complete value %q", complete)
			}
			if order != "" {
				spec.Order = &resultspec.Order{
					Field:      strings.TrimPrefix(order, "-"),
					Descending: strings.HasPrefix(order, "-"),
				}
			}
			return runBuildsetList(cmd, configPath, spec)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "buildyard.yaml", "path to Buildyard config file")
	cmd.Flags().StringVar(&complete, "complete", "", "filter by completion (true or false)")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	cmd.Flags().StringVar(&order, "order", "", "sort field, prefix with - for descending")
	return cmd
}

func runBuildsetList(cmd *cobra.Command, configPath string, spec *resultspec.Spec) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	svc := buildsets.New(gormDB, mq.New())
	items, err := svc.List(spec)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(items) == 0 {
		fmt.Fprintln(out, "No buildsets found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BSID\tCOMPLETE\tRESULT\tSCHEDULER\tSUBMITTED\tREASON")
	for _, bs := range items {
		result := "-"
		if bs.Results != nil {
			result = results.Name(*bs.Results)
		}
		fmt.Fprintf(w, "%d\t%t\t%s\t%s\t%s\t%s\n",
			bs.BSID, bs.Complete, result, dash(bs.Scheduler),
			bs.SubmittedAt.Format(time.RFC3339), truncate(bs.Reason, 40))
	}
	w.Flush()
	return nil
}

func newBuildsetShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <bsid>",
		Short: "Show buildset details",
		Long:  "Displays a buildset with its sourcestamps and build requests.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bsid, err := parseID(args[0])
			if err != nil {
				return err
			}
			return runBuildsetShow(cmd, configPath, bsid)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "buildyard.yaml", "path to Buildyard config file")
	return cmd
}

func runBuildsetShow(cmd *cobra.Command, configPath string, bsid int64) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	bus := mq.New()
	svc := buildsets.New(gormDB, bus)
	bs, err := svc.Get(bsid)
	if err != nil {
		return err
	}
	if bs == nil {
		return fmt.Errorf("buildset %d not found", bsid)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Buildset %d\n", bs.BSID)
	fmt.Fprintf(out, "  Reason:    %s\n", dash(bs.Reason))
	fmt.Fprintf(out, "  Scheduler: %s\n", dash(bs.Scheduler))
	fmt.Fprintf(out, "  Submitted: %s\n", bs.SubmittedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "  Complete:  %t\n", bs.Complete)
	if bs.Complete && bs.Results != nil {
		fmt.Fprintf(out, "  Result:    %s\n", results.Name(*bs.Results))
	}
	if bs.CompleteAt != nil {
		fmt.Fprintf(out, "  Completed: %s\n", bs.CompleteAt.Format(time.RFC3339))
	}

	if len(bs.SourceStamps) > 0 {
		fmt.Fprintln(out, "\nSourcestamps:")
		for _, ss := range bs.SourceStamps {
			fmt.Fprintf(out, "  %d: %s@%s (%s)\n", ss.SSID, dash(ss.Branch), dash(ss.Revision), dash(ss.Repository))
		}
	}

	brSvc := buildrequests.New(gormDB, bus)
	brs, err := brSvc.List(&resultspec.Spec{
		Filters: []resultspec.Filter{{Field: "buildsetid", Op: resultspec.OpEq, Values: []any{bsid}}},
	})
	if err != nil {
		return err
	}
	if len(brs) > 0 {
		fmt.Fprintln(out, "\nBuild requests:")
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  BRID\tBUILDER\tCLAIMED\tCOMPLETE\tRESULT")
		for _, br := range brs {
			fmt.Fprintf(w, "  %d\t%d\t%t\t%t\t%s\n",
				br.BuildRequestID, br.BuilderID, br.Claimed, br.Complete, results.Name(br.Results))
		}
		w.Flush()
	}
	return nil
}

// builderIDsByName resolves builder names to ids, preserving input order.
func builderIDsByName(gormDB *gorm.DB, names []string) ([]int64, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var rows []models.Builder
	if err := gormDB.Where("name IN ?", names).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("resolve builders: %w", err)
	}
	byName := make(map[string]int64, len(rows))
	for _, b := range rows {
		byName[b.Name] = b.ID
	}
	ids := make([]int64, 0, len(names))
	for _, n := range names {
		id, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown builder %q", n)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// parseProperties turns key=value flags into a property map.
func parseProperties(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	props := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("bad property %q, want key=value", p)
		}
		props[k] = v
	}
	return props, nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
