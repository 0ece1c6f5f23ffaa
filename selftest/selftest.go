// Package selftest implements the built-in self-tests the host runs
// via `coreqld --test` (spec.md §6 "--test runs the built-in
// self-tests and exits 0/1"). It exercises the engine's own wiring —
// catalog, ingest, bit index, VM, accumulator, merge — end to end
// without going through the QL compiler, so a failure here points at
// the core rather than at a query script.
package selftest

import (
	"context"
	"fmt"

	"github.com/entityql/coreql"
	"github.com/entityql/coreql/bytecode"
	"github.com/entityql/coreql/config"
	"github.com/entityql/coreql/grid"
	"github.com/entityql/coreql/index"
	"github.com/entityql/coreql/ql"
	"github.com/entityql/coreql/schema"
	"github.com/entityql/coreql/value"
)

// memGrids is an in-memory coreql.GridSource used only by the
// self-test: a real host wires its own collaborator over on-disk
// blobs (spec.md §1 "persistence is an external collaborator").
type memGrids struct {
	cat   *schema.Catalog
	grids map[string]*grid.Grid
}

func (m *memGrids) Grid(table, entityID string) (*grid.Grid, error) {
	if g, ok := m.grids[entityID]; ok {
		return g, nil
	}
	g := grid.New(entityID, m.cat, nil)
	m.grids[entityID] = g
	return g, nil
}

// Run executes the self-test suite against cfg and reports whether
// every check passed, logging each failure as it is found.
func Run(cfg config.Config) bool {
	ok := true
	check := func(name string, err error) {
		if err != nil {
			coreql.Logger.WithField("check", name).WithError(err).Error("self-test failed")
			ok = false
		}
	}

	err := runIngestAndEvaluate(cfg)
	check("ingest-and-evaluate", err)

	fmt.Printf("self-test: %d check(s), pass=%v\n", 1, ok)
	return ok
}

// runIngestAndEvaluate ingests one event per entity into a two-entity,
// single-partition setup and confirms a hand-built sum query merges
// to the expected total, proving catalog->grid->bitindex->vm->accum->
// merge wiring end to end.
func runIngestAndEvaluate(cfg config.Config) error {
	grids := &memGrids{grids: make(map[string]*grid.Grid)}
	p := coreql.NewPartition("p0", "events", grids)
	grids.cat = p.Catalog

	if cfg.Data.Dir != "" {
		if err := p.OpenPersistentIndex(cfg.Data.Dir); err != nil {
			return err
		}
		defer p.Close()
	}

	amount, err := p.DefineColumn("amount", schema.Double, false)
	if err != nil {
		return err
	}

	entities := map[string]float64{"alice": 3, "bob": 4}
	for entityID, amt := range entities {
		err := p.Ingest(entityID, grid.RawEvent{
			ID:      entityID,
			Stamp:   1,
			Event:   "purchase",
			Columns: map[string]interface{}{"amount": amt},
		})
		if err != nil {
			return err
		}
	}

	cq := &ql.CompiledQuery{
		Program: &bytecode.Program{
			Blocks: [][]bytecode.Instr{{
				{Op: bytecode.OpPushLiteral, Literal: value.IntVal(0)},
				{Op: bytecode.OpTally, Argc: 1},
			}},
			Selects: []bytecode.SelectColumn{
				{Modifier: bytecode.ModSum, ColumnID: int32(amount.ID), ColumnName: "amount", Alias: "total", DistinctCol: -1},
			},
		},
		IndexExpr:        index.Void{},
		IndexIsCountable: false,
	}

	engine := coreql.New(coreql.Options{Workers: cfg.Engine.Workers, SliceMs: cfg.Engine.SliceMs})
	result, err := engine.Evaluate(context.Background(), cq, []*coreql.Partition{p})
	if err != nil {
		return err
	}

	if len(result.Children) != 1 {
		return fmt.Errorf("expected one group, got %d", len(result.Children))
	}
	total, ok := result.Children[0].C[0].(float64)
	if !ok || total != 7 {
		return fmt.Errorf("expected total=7, got %v", result.Children[0].C[0])
	}
	return nil
}
