package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/relbind/internal/ir"
	"github.com/roach88/relbind/internal/store"
)

// StoreOptions holds flags for commands operating on a database file.
type StoreOptions struct {
	*RootOptions
	DBPath string
}

// RelationDump is the content of one relation.
type RelationDump struct {
	Name string           `json:"name"`
	Rows []map[string]any `json:"rows"`
}

// DumpResult is the content of a store.
type DumpResult struct {
	Digest    string         `json:"digest"`
	Relations []RelationDump `json:"relations"`
}

// RenderText implements TextRenderer. Rows are printed as canonical JSON.
func (r DumpResult) RenderText(w io.Writer) {
	for _, rel := range r.Relations {
		fmt.Fprintf(w, "%s (%d row(s))\n", rel.Name, len(rel.Rows))
		for _, row := range rel.Rows {
			data, err := ir.MarshalCanonical(row)
			if err != nil {
				fmt.Fprintf(w, "  %v\n", row)
				continue
			}
			fmt.Fprintf(w, "  %s\n", data)
		}
	}
	fmt.Fprintf(w, "digest %s\n", r.Digest)
}

// SeedResult reports a seeded database.
type SeedResult struct {
	DB        string         `json:"db"`
	Digest    string         `json:"digest"`
	Relations map[string]int `json:"relations"`
}

// RenderText implements TextRenderer.
func (r SeedResult) RenderText(w io.Writer) {
	fmt.Fprintf(w, "OK seeded %s\n", r.DB)
	for _, name := range sortedKeys(r.Relations) {
		fmt.Fprintf(w, "  %-20s rows=%d\n", name, r.Relations[name])
	}
	fmt.Fprintf(w, "digest %s\n", r.Digest)
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump <schema-dir>",
		Short: "Print the rows of a SQLite store",
		Long: `Open an existing SQLite store with the relations of a schema and
print every row in key order, followed by the content digest.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DBPath, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runDump(opts *StoreOptions, schemaDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	sch, err := LoadSchema(schemaDir)
	if err != nil {
		return failLoad(formatter, err)
	}
	if _, err := os.Stat(opts.DBPath); err != nil {
		return formatter.Fail(ErrCodeNotFound, fmt.Sprintf("database not found: %s", opts.DBPath), nil)
	}

	st, err := store.OpenSQLite(opts.DBPath, sch.Schemes()...)
	if err != nil {
		return formatter.Fail(ErrCodeStoreFailed, err.Error(), nil)
	}
	defer st.Close()

	snap, err := st.Snapshot(cmd.Context())
	if err != nil {
		return formatter.Fail(ErrCodeStoreFailed, err.Error(), nil)
	}
	formatter.VerboseLog("opened %s with %d relation(s)", opts.DBPath, len(snap.Relations()))
	return formatter.Success(dumpSnapshot(snap))
}

func dumpSnapshot(snap *store.Snapshot) DumpResult {
	result := DumpResult{Digest: snap.Digest()}
	for _, name := range snap.Relations() {
		rel := RelationDump{Name: name, Rows: make([]map[string]any, 0, snap.Len(name))}
		for _, row := range snap.Rows(name) {
			rel.Rows = append(rel.Rows, ir.ToGo(row).(map[string]any))
		}
		result.Relations = append(result.Relations, rel)
	}
	return result
}

// failLoad reports a schema load failure as a command error.
func failLoad(formatter *OutputFormatter, err error) error {
	if loadErr, ok := err.(*LoadError); ok {
		return formatter.Fail(loadErr.Code, loadErr.Message, nil)
	}
	return formatter.Fail(ErrCodeGeneric, err.Error(), nil)
}
