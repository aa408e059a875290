package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/eXist-db/exist-sub013/pkg/cache"
	"github.com/eXist-db/exist-sub013/pkg/config"
	"github.com/eXist-db/exist-sub013/pkg/dom"
	"github.com/eXist-db/exist-sub013/pkg/evaluator"
	"github.com/eXist-db/exist-sub013/pkg/plan"
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

type flags struct {
	config string
	docs   []string
	vars   []string
	jobs   int
	repeat int
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "xqrun [flags] plan.yaml...",
		Short: "evaluate query plans",
		Long: `xqrun compiles each plan file and evaluates it against the loaded documents.

Documents are given as URI=PATH, or as PATH alone to use the base name of
the file as its URI. External variables are bound with --var name=value;
the value is passed as xs:untypedAtomic.

Results are printed one item per line, nodes serialized as XML, each plan
preceded by a "== path" header when more than one run is requested.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f, args, stdout, stderr)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.config, "config", "c", "", "configuration file")
	fl.StringArrayVarP(&f.docs, "doc", "d", nil, "load an XML document (URI=PATH or PATH)")
	fl.StringArrayVarP(&f.vars, "var", "v", nil, "bind an external variable (name=value)")
	fl.IntVarP(&f.jobs, "jobs", "j", runtime.GOMAXPROCS(0), "number of plans evaluated in parallel")
	fl.IntVar(&f.repeat, "repeat", 1, "evaluate every plan this many times")
	return cmd
}

type runner struct {
	store  *dom.Store
	ev     *evaluator.Evaluator
	pool   *cache.Pool
	vars   map[types.QName]value.Sequence
	logger *slog.Logger
}

func run(ctx context.Context, f flags, plans []string, stdout, stderr io.Writer) error {
	cfg, err := config.Load(f.config)
	if err != nil {
		return err
	}
	logger := slog.New(cfg.Handler(stderr))

	r := &runner{
		store:  dom.NewStore(dom.WithStoreLogger(logger)),
		pool:   cache.New(cfg.Cache.Size, cfg.Cache.Idle),
		vars:   map[types.QName]value.Sequence{},
		logger: logger,
	}
	for _, d := range f.docs {
		if err := r.load(ctx, d); err != nil {
			return err
		}
	}
	for _, v := range f.vars {
		name, val, ok := strings.Cut(v, "=")
		if !ok {
			return fmt.Errorf("invalid variable %q: expected name=value", v)
		}
		r.vars[types.LocalName(strings.TrimPrefix(name, "$"))] = value.One(value.NewUntypedAtomic(val))
	}
	r.ev = evaluator.New(append(cfg.EvalOptions(logger), evaluator.WithStore(r.store))...)

	repeat := max(f.repeat, 1)
	outputs := make([]string, len(plans)*repeat)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(f.jobs, 1))
	for i := range outputs {
		i := i
		path := plans[i%len(plans)]
		g.Go(func() error {
			out, err := r.runPlan(ctx, path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, out := range outputs {
		if len(outputs) > 1 {
			fmt.Fprintf(stdout, "== %s\n", plans[i%len(plans)])
		}
		io.WriteString(stdout, out)
	}
	return nil
}

func (r *runner) load(ctx context.Context, spec string) error {
	uri, path, ok := strings.Cut(spec, "=")
	if !ok {
		path = spec
		uri = filepath.Base(spec)
	}
	fh, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("can't open document: %w", err)
	}
	defer fh.Close()
	doc, err := dom.Parse(uri, fh, dom.ParseOptions{StripWhitespace: true})
	if err != nil {
		return err
	}
	r.logger.Debug("loaded document", "uri", uri, "nodes", doc.Len())
	return r.store.Put(ctx, doc)
}

func (r *runner) runPlan(ctx context.Context, path string) (string, error) {
	p, err := plan.DecodeFile(path)
	if err != nil {
		return "", err
	}
	opts, err := p.Resolve(r.store)
	if err != nil {
		return "", err
	}

	q, err := r.pool.Borrow(path, func() (*evaluator.Query, error) {
		return r.ev.Compile(p.Module, opts...)
	})
	if err != nil {
		return "", err
	}
	defer r.pool.Return(path, q)

	for _, v := range p.Module.Variables {
		if !v.External {
			continue
		}
		if seq, ok := r.vars[v.Name]; ok {
			q.SetExternalVariable(v.Name, seq)
		}
	}
	res, err := r.ev.Eval(ctx, q, nil)
	if err != nil {
		return "", err
	}
	return format(res), nil
}

func format(seq value.Sequence) string {
	var b strings.Builder
	for _, it := range value.Items(seq) {
		switch it := it.(type) {
		case dom.NodeProxy:
			b.WriteString(dom.SerializeString(it))
		case value.AtomicValue:
			b.WriteString(it.String())
		default:
			b.WriteString(value.RenderItem(it))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
