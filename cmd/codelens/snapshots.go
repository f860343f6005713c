package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/efebarandurmaz/codelens/internal/snapshot"
)

const defaultSnapshotDir = ".codelens/snapshots"

func newSnapshotsCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List and compare graphs saved with build --snapshot",
	}
	cmd.PersistentFlags().StringVar(&dir, "store", defaultSnapshotDir, "Snapshot store directory")

	var repo string
	list := &cobra.Command{
		Use:   "list",
		Short: "List saved snapshots, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := snapshot.NewStore(dir)
			if err != nil {
				return err
			}
			return printSnapshots(os.Stdout, store.List(repo))
		},
	}
	list.Flags().StringVar(&repo, "repo", "", "Only list snapshots of this repository")

	var asJSON bool
	diff := &cobra.Command{
		Use:   "diff OLD NEW",
		Short: "Show the structural changes between two snapshots (ids or tags)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := snapshot.NewStore(dir)
			if err != nil {
				return err
			}
			d, err := diffSnapshots(store, args[0], args[1])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(d)
			}
			_, err = io.WriteString(os.Stdout, snapshot.FormatDiff(d))
			return err
		},
	}
	diff.Flags().BoolVar(&asJSON, "json", false, "Print the diff as JSON")

	cmd.AddCommand(list, diff)
	return cmd
}

func diffSnapshots(store *snapshot.Store, oldRef, newRef string) (*snapshot.GraphDiff, error) {
	oldSnap, err := store.Resolve(oldRef)
	if err != nil {
		return nil, err
	}
	newSnap, err := store.Resolve(newRef)
	if err != nil {
		return nil, err
	}
	oldGraph, err := store.LoadGraph(oldSnap)
	if err != nil {
		return nil, err
	}
	newGraph, err := store.LoadGraph(newSnap)
	if err != nil {
		return nil, err
	}
	return snapshot.Diff(oldSnap, newSnap, oldGraph, newGraph), nil
}

func printSnapshots(w io.Writer, list []snapshot.SnapshotSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tREPO\tTAG\tCREATED\tNODES\tLINKS\tMISSING")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			s.ID, s.RepoID, s.Tag, s.CreatedAt.Format("2006-01-02 15:04:05"), s.Nodes, s.Links, s.Missing)
	}
	return tw.Flush()
}
