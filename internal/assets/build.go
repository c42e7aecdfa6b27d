package assets

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/esm-dev/assetpipe/internal/manifest"
	"github.com/esm-dev/assetpipe/internal/storage"
	"github.com/esm-dev/assetpipe/internal/transform"
	logx "github.com/ije/gox/log"
	"golang.org/x/sync/errgroup"
)

// Input is a source file matched by a rule.
type Input struct {
	Path string
	Rule *Rule
}

type BuildOptions struct {
	Root        string
	Inputs      []Input
	Storage     storage.Storage
	FileNames   string
	Concurrency int
	Logger      *logx.Logger

	// Reserved maps output keys already written by other outputs to their
	// owner. An input whose output lands on a reserved key fails without
	// writing.
	Reserved map[string]string
}

// BuildResult holds the manifest entries of the emitted files. A failing
// source or variant is reported in Errors and left out of the outputs.
type BuildResult struct {
	Outputs map[string]*manifest.FileOutput
	Written []string
	Errors  []error
}

// Build materializes every input and its variants into the storage.
func Build(ctx context.Context, options BuildOptions) (*BuildResult, error) {
	log := options.Logger
	if log == nil {
		log = &logx.Logger{}
		log.SetLevel(logx.L_INFO)
	}
	ret := &BuildResult{Outputs: make(map[string]*manifest.FileOutput, len(options.Inputs))}
	var mu sync.Mutex
	owners := make(map[string]string)
	fail := func(err error) {
		mu.Lock()
		ret.Errors = append(ret.Errors, err)
		mu.Unlock()
		log.Errorf("%v", err)
	}
	emit := func(src string, variant string, out *Asset) (string, error) {
		dir, stem, ext := splitName(out.Name)
		if variant != "" {
			stem += "-" + variant
		}
		key := manifest.FormatPath(options.FileNames, dir, stem, transform.Hash(src+"#"+variant, out.Data), ext)
		if owner, ok := options.Reserved[key]; ok {
			return "", fmt.Errorf("%w: %s of %s collides with %s", ErrCollision, key, src, owner)
		}
		mu.Lock()
		if owner, ok := owners[key]; ok && owner != src {
			mu.Unlock()
			return "", fmt.Errorf("%w: %s of %s collides with %s", ErrCollision, key, src, owner)
		}
		owners[key] = src
		mu.Unlock()
		if err := options.Storage.Put(key, bytes.NewReader(out.Data)); err != nil {
			return "", fmt.Errorf("write %s: %w", key, err)
		}
		mu.Lock()
		ret.Written = append(ret.Written, key)
		mu.Unlock()
		return key, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	limit := options.Concurrency
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	g.SetLimit(limit)
	for _, input := range options.Inputs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			src, err := Load(options.Root, input.Path)
			if err != nil {
				fail(err)
				return nil
			}
			base, err := input.Rule.Base(ctx, src)
			if err != nil {
				fail(err)
				return nil
			}
			if !input.Rule.HasVariants() {
				key, err := emit(input.Path, "", base)
				if err != nil {
					fail(err)
					return nil
				}
				mu.Lock()
				ret.Outputs[input.Path] = &manifest.FileOutput{Path: key}
				mu.Unlock()
				return nil
			}
			output := &manifest.FileOutput{Variants: make(map[string]manifest.FileVariant, len(input.Rule.Variants))}
			for _, name := range input.Rule.VariantNames() {
				out, err := input.Rule.ApplyVariant(ctx, base, name)
				if err != nil {
					fail(err)
					continue
				}
				key, err := emit(input.Path, name, out)
				if err != nil {
					fail(err)
					continue
				}
				output.Variants[name] = manifest.FileVariant{Path: key}
			}
			if _, ok := output.Variants[input.Rule.DefaultVariant]; ok {
				output.DefaultVariant = input.Rule.DefaultVariant
			}
			if len(output.Variants) > 0 {
				mu.Lock()
				ret.Outputs[input.Path] = output
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(ret.Written)
	return ret, nil
}
