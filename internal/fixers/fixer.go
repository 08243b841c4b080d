// Package fixers holds small one-shot data hygiene jobs.
//
// Every fixer queries the documents its predicate matches and computes the
// mutations that fix them. Running a fixer a second time plans nothing.
package fixers

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/claystudio/contentsync/internal/logger"
	"github.com/claystudio/contentsync/internal/store"
)

// Plan is the set of writes a fixer wants to make.
type Plan struct {
	Fixer     string
	Mutations []store.Mutation
	// Notes are human-readable findings that do not produce writes.
	Notes []string
}

// Empty reports whether the plan has nothing to write.
func (p *Plan) Empty() bool {
	return len(p.Mutations) == 0
}

// String renders the plan for dry-run output.
func (p *Plan) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d mutation(s)\n", p.Fixer, len(p.Mutations))
	for _, m := range p.Mutations {
		fmt.Fprintf(&b, "  %s\n", m)
	}
	for _, n := range p.Notes {
		fmt.Fprintf(&b, "  note: %s\n", n)
	}
	return b.String()
}

// Fixer computes a Plan against the store.
type Fixer interface {
	Name() string
	Description() string
	Plan(ctx context.Context, client store.Client) (*Plan, error)
}

// Apply commits a plan as one transaction. An empty plan writes nothing.
func Apply(ctx context.Context, client store.Client, plan *Plan, log *logger.Logger) error {
	if log == nil {
		log = logger.Nop()
	}
	if plan.Empty() {
		log.Info("nothing to fix", "fixer", plan.Fixer)
		return nil
	}

	if err := store.NewTransaction(client).Add(plan.Mutations...).Commit(ctx); err != nil {
		return fmt.Errorf("%s: failed to commit %d mutations: %w", plan.Fixer, len(plan.Mutations), err)
	}

	log.Info("fix applied", "fixer", plan.Fixer, "mutations", len(plan.Mutations))
	return nil
}

// Names lists the registered fixer names.
func Names() []string {
	names := []string{
		DedupeSingletonName,
		SplitTypesName,
		RenameTypeName,
		RemapSlugsName,
		EnsurePagesName,
	}
	sort.Strings(names)
	return names
}

// Args are the parameters a fixer may need besides its tables.
type Args struct {
	Tables *Tables
	// From and To name the types for rename-type.
	From, To string
}

// Lookup builds the fixer registered under name.
func Lookup(name string, args Args) (Fixer, error) {
	tables := args.Tables
	if tables == nil {
		tables = DefaultTables()
	}

	switch name {
	case DedupeSingletonName:
		return DedupeSingleton{Type: tables.Singleton.Type, CanonicalID: tables.Singleton.ID}, nil
	case SplitTypesName:
		return SplitTypes{}, nil
	case RenameTypeName:
		if args.From == "" || args.To == "" {
			return nil, fmt.Errorf("%s requires --from and --to", name)
		}
		if args.From == args.To {
			return nil, fmt.Errorf("%s: --from and --to are both %q", name, args.From)
		}
		return RenameType{From: args.From, To: args.To}, nil
	case RemapSlugsName:
		if err := tables.ValidateSlugs(); err != nil {
			return nil, err
		}
		return RemapSlugs{Table: tables.Slugs}, nil
	case EnsurePagesName:
		return EnsurePages{Pages: tables.Pages}, nil
	default:
		return nil, fmt.Errorf("unknown fixer %q (known: %s)", name, strings.Join(Names(), ", "))
	}
}
