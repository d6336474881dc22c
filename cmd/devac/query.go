package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"devac/internal/schema"
	"devac/internal/store"
)

var (
	queryType   string
	queryFile   string
	queryCallee string
	statsTop    int
)

// queryCmd serves filtered effect queries over the loaded partition.
var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query stored effects by type, file or callee",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := loadQueryEngine()
		if err != nil {
			return err
		}
		defer q.Close()

		effects, err := q.Effects(store.EffectFilter{
			EffectType:    schema.EffectType(queryType),
			FilePath:      queryFile,
			CalleePattern: queryCallee,
		})
		if err != nil {
			return err
		}

		for _, e := range effects {
			detail := e.Callee
			if detail == "" {
				detail = e.Target
			}
			fmt.Printf("%-14s %s:%d:%d  %s\n", e.EffectType, e.FilePath, e.Line, e.Column, detail)
		}
		fmt.Printf("\n%d effects\n", len(effects))
		return nil
	},
}

// statsCmd summarizes the loaded partition.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show effect and entity counts for the partition",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := loadQueryEngine()
		if err != nil {
			return err
		}
		defer q.Close()

		entities, err := q.EntityCount()
		if err != nil {
			return err
		}
		counts, err := q.CountsByType()
		if err != nil {
			return err
		}
		callees, err := q.Callees(statsTop)
		if err != nil {
			return err
		}

		fmt.Printf("Partition %s/%s (branch %s)\n", cfg.Repo, cfg.Package, cfg.Branch)
		fmt.Printf("  entities: %d\n", entities)
		fmt.Println("  effects by type:")
		for _, typ := range sortedKeys(counts) {
			fmt.Printf("    %-18s %d\n", typ, counts[typ])
		}
		if len(callees) > 0 {
			fmt.Printf("  top callees:\n")
			type kv struct {
				callee string
				n      int
			}
			var ranked []kv
			for c, n := range callees {
				ranked = append(ranked, kv{c, n})
			}
			sort.Slice(ranked, func(i, j int) bool {
				if ranked[i].n != ranked[j].n {
					return ranked[i].n > ranked[j].n
				}
				return ranked[i].callee < ranked[j].callee
			})
			for _, r := range ranked {
				fmt.Printf("    %-30s %d\n", r.callee, r.n)
			}
		}
		return nil
	},
}

// loadQueryEngine reads the base snapshot plus the configured branch overlay
// into a fresh in-memory engine.
func loadQueryEngine() (*store.QueryEngine, error) {
	st := store.New(cfg.Store.Root, cfg.Repo)

	base, err := st.Read(cfg.Package, "base")
	if err != nil {
		return nil, err
	}
	var overlay *store.Snapshot
	if cfg.Branch != "" && cfg.Branch != "base" {
		overlay, err = st.Read(cfg.Package, cfg.Branch)
		if err != nil {
			return nil, err
		}
	}

	q, err := store.NewQueryEngine()
	if err != nil {
		return nil, err
	}
	if err := q.LoadPartition(base, overlay); err != nil {
		q.Close()
		return nil, err
	}
	return q, nil
}

func sortedKeys(counts map[schema.EffectType]int) []schema.EffectType {
	keys := make([]schema.EffectType, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func init() {
	queryCmd.Flags().StringVar(&queryType, "type", "", "filter by effect type")
	queryCmd.Flags().StringVar(&queryFile, "file", "", "filter by source file path")
	queryCmd.Flags().StringVar(&queryCallee, "callee", "", "filter by callee (SQL LIKE pattern)")
	statsCmd.Flags().IntVar(&statsTop, "top", 10, "number of top callees to show")
}
