package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/davarch/ci-reconciler/internal/domain"
	"github.com/davarch/ci-reconciler/internal/infrastructure/config"
	"github.com/davarch/ci-reconciler/internal/infrastructure/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var (
	planJSON bool
	planYAML bool
)

type planRow struct {
	Project    string `json:"project" yaml:"project"`
	ProjectID  uint64 `json:"project_id" yaml:"project_id"`
	JobID      uint64 `json:"job_id" yaml:"job_id"`
	PipelineID uint64 `json:"pipeline_id" yaml:"pipeline_id"`
	GitTag     string `json:"git_tag,omitempty" yaml:"git_tag,omitempty"`
	Branch     string `json:"branch,omitempty" yaml:"branch,omitempty"`
	Action     string `json:"action" yaml:"action"`
	Reason     string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show which manual jobs would be played or canceled",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logging.New()
		defer func() { _ = log.Sync() }()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			log.Fatal("config", zap.Error(err))
		}

		uc, err := buildUseCase(cmd.Context(), cfg, log, false)
		if err != nil {
			return err
		}

		rows := planRows(uc.Plan(cmd.Context()))

		switch {
		case planJSON:
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		case planYAML:
			enc := yaml.NewEncoder(os.Stdout)
			defer func() { _ = enc.Close() }()
			return enc.Encode(rows)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "PROJECT\tJOB\tPIPELINE\tTAG\tBRANCH\tACTION\tREASON")
		for _, r := range rows {
			tag := r.GitTag
			if tag == "" {
				tag = "-"
			}
			_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s\t%s\n", r.Project, r.JobID, r.PipelineID, tag, r.Branch, r.Action, r.Reason)
		}
		_ = w.Flush()
		return nil
	},
}

func planRows(decisions domain.Decisions) []planRow {
	rows := make([]planRow, 0, len(decisions))
	for job, d := range decisions {
		row := planRow{
			Project:    job.ProjectName,
			ProjectID:  uint64(job.ProjectID),
			JobID:      uint64(job.ID),
			PipelineID: uint64(job.PipelineID),
			GitTag:     job.GitTag,
			Branch:     job.Branch,
			Action:     "cancel",
		}
		if d.Play {
			row.Action = "play"
		} else {
			row.Reason = d.Reason.String()
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ProjectID != rows[j].ProjectID {
			return rows[i].ProjectID < rows[j].ProjectID
		}
		return rows[i].JobID < rows[j].JobID
	})
	return rows
}

func init() {
	planCmd.Flags().BoolVar(&planJSON, "json", false, "print JSON")
	planCmd.Flags().BoolVar(&planYAML, "yaml", false, "print YAML")
	planCmd.MarkFlagsMutuallyExclusive("json", "yaml")

	rootCmd.AddCommand(planCmd)
}
