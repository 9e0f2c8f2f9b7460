package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/relbind/internal/session"
	"github.com/roach88/relbind/internal/store"
)

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed <schema-dir>",
		Short: "Create or reset a SQLite store from schema rows",
		Long: `Open (creating if needed) a SQLite store with the relations of a
schema and replace its content with the rows the schema declares.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DBPath, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runSeed(opts *StoreOptions, schemaDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	sch, err := LoadSchema(schemaDir)
	if err != nil {
		return failLoad(formatter, err)
	}
	seed, err := sch.Seed()
	if err != nil {
		return formatter.Fail(ErrCodeRows, err.Error(), nil)
	}

	st, err := store.OpenSQLite(opts.DBPath, sch.Schemes()...)
	if err != nil {
		return formatter.Fail(ErrCodeStoreFailed, err.Error(), nil)
	}

	sess := session.New(st, session.WithLogger(newLogger(opts.RootOptions, cmd.ErrOrStderr())))
	defer sess.Close()
	if err := sess.Run(ctx); err != nil {
		return formatter.Fail(ErrCodeStoreFailed, err.Error(), nil)
	}
	if err := sess.Reset(ctx, seed); err != nil {
		return formatter.Fail(ErrCodeStoreFailed, fmt.Sprintf("reset store: %v", err), nil)
	}

	snap, err := st.Snapshot(ctx)
	if err != nil {
		return formatter.Fail(ErrCodeStoreFailed, err.Error(), nil)
	}
	result := SeedResult{DB: opts.DBPath, Digest: snap.Digest(), Relations: make(map[string]int)}
	for _, name := range snap.Relations() {
		result.Relations[name] = snap.Len(name)
	}
	formatter.VerboseLog("seeded %d relation(s) into %s", len(result.Relations), opts.DBPath)
	return formatter.Success(result)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
