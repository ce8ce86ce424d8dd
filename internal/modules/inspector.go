// Package modules implements the Module Inspector: module/type/member
// listing and pattern search. Unlike the Inspection Engine, it only
// reads metadata and works whether the session is Running or Paused.
package modules

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
	"github.com/gobwas/glob"
	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"
	"github.com/jkolo/clrdbg-core/internal/dbgconfig"
	"github.com/jkolo/clrdbg-core/internal/dbgerr"
	"github.com/jkolo/clrdbg-core/internal/logging"
	"github.com/jkolo/clrdbg-core/internal/model"
	"github.com/jkolo/clrdbg-core/internal/runtime"
)

// MetadataSource is the per-module metadata reader the Module Inspector
// walks. It is distinct from the Symbol Mapper/PDB reader: PDBs carry
// source/line information, while this reads the assembly's own
// TypeDef/MethodDef-shaped metadata — a concrete adapter backs it in
// the wired topology (the same process that backs runtime.Interface).
type MetadataSource interface {
	ListTypes(ctx context.Context, modulePath string) ([]model.TypeInfo, error)
	ListMembers(ctx context.Context, modulePath, typeName string) ([]model.MemberInfo, error)
}

// Inspector implements list-modules / list-types / get-members / search.
type Inspector struct {
	adapter  runtime.Interface
	metadata MetadataSource
	cfg      dbgconfig.ModuleInspectorConfig
	log      *logging.Logger
}

// New builds an Inspector.
func New(adapter runtime.Interface, metadata MetadataSource, cfg dbgconfig.ModuleInspectorConfig, log *logging.Logger) *Inspector {
	if log == nil {
		log = logging.Default()
	}
	return &Inspector{
		adapter: adapter, metadata: metadata, cfg: cfg,
		log: log.WithComponent("modules"),
	}
}

// SetAdapter rebinds the inspector to a fresh target runtime adapter.
func (i *Inspector) SetAdapter(adapter runtime.Interface) {
	i.adapter = adapter
}

// ListModules returns every loaded module, optionally filtered by a
// wildcard name pattern and/or excluding system modules.
func (i *Inspector) ListModules(ctx context.Context, includeSystem bool, nameFilter string) ([]model.Module, *dbgerr.Error) {
	mods, err := i.adapter.ListModules(ctx)
	if err != nil {
		return nil, dbgerr.Wrap(dbgerr.Target, err, "list modules")
	}

	var pattern glob.Glob
	if nameFilter != "" {
		g, gerr := glob.Compile(nameFilter)
		if gerr != nil {
			return nil, dbgerr.New(dbgerr.Argument, "invalid name filter %q: %v", nameFilter, gerr)
		}
		pattern = g
	}

	var out []model.Module
	for _, m := range mods {
		if !includeSystem && isSystemModule(m) {
			continue
		}
		if pattern != nil && !pattern.Match(m.Name) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func isSystemModule(m model.Module) bool {
	lower := strings.ToLower(m.Name)
	return strings.HasPrefix(lower, "system.") || lower == "mscorlib" || strings.HasPrefix(lower, "microsoft.")
}

// typesPage is the opaque continuation state for list-types, encoded
// into a base64 token so callers never see the raw index.
type typesPage struct {
	modulePath string
	offset     int
}

// ListTypes returns up to max-results types from module, applying the
// namespace/kind/visibility filters, and an opaque continuation token
// when more results remain.
func (i *Inspector) ListTypes(ctx context.Context, modulePath, namespaceFilter string, kind *model.TypeKind, visibility *model.Visibility, maxResults int, continuation string) ([]model.TypeInfo, string, *dbgerr.Error) {
	if maxResults <= 0 {
		maxResults = i.cfg.DefaultMaxResults
	}
	if maxResults > i.cfg.MaxResultsCap {
		maxResults = i.cfg.MaxResultsCap
	}

	all, err := i.metadata.ListTypes(ctx, modulePath)
	if err != nil {
		return nil, "", dbgerr.Wrap(dbgerr.Target, err, "list types for %s", modulePath)
	}

	offset := 0
	if continuation != "" {
		page, ok := i.decodeContinuation(continuation)
		if !ok || page.modulePath != modulePath {
			return nil, "", dbgerr.New(dbgerr.Argument, "invalid or stale continuation token")
		}
		offset = page.offset
	}

	var filtered []model.TypeInfo
	for _, t := range all {
		if namespaceFilter != "" && !strings.HasPrefix(t.Namespace, namespaceFilter) {
			continue
		}
		if kind != nil && t.Kind != *kind {
			continue
		}
		if visibility != nil && t.Visibility != *visibility {
			continue
		}
		filtered = append(filtered, t)
	}
	sort.Slice(filtered, func(a, b int) bool {
		if filtered[a].Namespace != filtered[b].Namespace {
			return filtered[a].Namespace < filtered[b].Namespace
		}
		return filtered[a].Name < filtered[b].Name
	})

	if offset >= len(filtered) {
		return nil, "", nil
	}
	end := offset + maxResults
	if end > len(filtered) {
		end = len(filtered)
	}
	page := filtered[offset:end]

	var next string
	if end < len(filtered) {
		next = i.encodeContinuation(typesPage{modulePath: modulePath, offset: end})
	}
	return page, next, nil
}

func (i *Inspector) encodeContinuation(p typesPage) string {
	token := uuid.NewString()
	return base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf("%s|%s|%d", token, p.modulePath, p.offset)))
}

func (i *Inspector) decodeContinuation(encoded string) (typesPage, bool) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return typesPage{}, false
	}
	parts := strings.SplitN(string(raw), "|", 3)
	if len(parts) != 3 {
		return typesPage{}, false
	}
	var offset int
	if _, err := fmt.Sscanf(parts[2], "%d", &offset); err != nil {
		return typesPage{}, false
	}
	return typesPage{modulePath: parts[1], offset: offset}, true
}

// GetMembers enumerates a type's members with the requested filters.
func (i *Inspector) GetMembers(ctx context.Context, modulePath, typeName string, kinds []model.MemberKind, visibility *model.Visibility, includeStatic, includeInstance bool) ([]model.MemberInfo, *dbgerr.Error) {
	members, err := i.metadata.ListMembers(ctx, modulePath, typeName)
	if err != nil {
		return nil, dbgerr.Wrap(dbgerr.Target, err, "list members of %s", typeName)
	}

	kindSet := make(map[model.MemberKind]bool, len(kinds))
	for _, k := range kinds {
		kindSet[k] = true
	}

	var out []model.MemberInfo
	for _, m := range members {
		if len(kindSet) > 0 && !kindSet[m.Kind] {
			continue
		}
		if visibility != nil && m.Visibility != *visibility {
			continue
		}
		if m.IsStatic && !includeStatic {
			continue
		}
		if !m.IsStatic && !includeInstance {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// SearchKind selects what a search call matches against.
type SearchKind int

const (
	SearchTypes SearchKind = iota
	SearchMethods
	SearchBoth
)

// searchHit pairs a result with the literal-portion edit distance used
// to rank fuzzy-fallback truncation.
type searchHit struct {
	typeResult   *model.TypeInfo
	memberResult *model.MemberInfo
	module       string
	distance     int
	isWildcard   bool
}

// Search walks every loaded module (optionally filtered) in parallel,
// matching pattern against type and/or member names, and returns at
// most maxResults. When any name matches the wildcard pattern, only
// those matches are returned; otherwise it falls back to the closest
// fuzzy matches by Levenshtein distance against the pattern's literal
// portion (the expansion described in §4.10).
func (i *Inspector) Search(ctx context.Context, pattern string, kind SearchKind, moduleFilter string, caseSensitive bool, maxResults int) ([]model.TypeInfo, []model.MemberInfo, bool, *dbgerr.Error) {
	if maxResults <= 0 || maxResults > 100 {
		maxResults = 100
	}

	mods, err := i.adapter.ListModules(ctx)
	if err != nil {
		return nil, nil, false, dbgerr.Wrap(dbgerr.Target, err, "list modules")
	}

	matchPattern := pattern
	literal := strings.Trim(pattern, "*")
	if !caseSensitive {
		matchPattern = strings.ToLower(matchPattern)
	}
	g, gerr := glob.Compile(matchPattern)
	if gerr != nil {
		return nil, nil, false, dbgerr.New(dbgerr.Argument, "invalid search pattern %q: %v", pattern, gerr)
	}

	var mu sync.Mutex
	var hits []searchHit

	group, gctx := errgroup.WithContext(ctx)
	for _, mod := range mods {
		mod := mod
		if moduleFilter != "" && !strings.EqualFold(mod.Name, moduleFilter) {
			continue
		}
		group.Go(func() error {
			modHits, err := i.searchModule(gctx, mod, g, matchPattern, literal, kind, caseSensitive)
			if err != nil {
				return nil // a single module's metadata failure does not abort the search
			}
			mu.Lock()
			hits = append(hits, modHits...)
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, nil, false, dbgerr.Wrap(dbgerr.Target, err, "parallel search")
	}

	hasWildcard := false
	for _, h := range hits {
		if h.isWildcard {
			hasWildcard = true
			break
		}
	}
	if hasWildcard {
		kept := hits[:0]
		for _, h := range hits {
			if h.isWildcard {
				kept = append(kept, h)
			}
		}
		hits = kept
	}

	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].isWildcard != hits[b].isWildcard {
			return hits[a].isWildcard
		}
		return hits[a].distance < hits[b].distance
	})

	truncated := len(hits) > maxResults
	if truncated {
		hits = hits[:maxResults]
	}

	var types []model.TypeInfo
	var members []model.MemberInfo
	for _, h := range hits {
		if h.typeResult != nil {
			types = append(types, *h.typeResult)
		}
		if h.memberResult != nil {
			members = append(members, *h.memberResult)
		}
	}
	return types, members, truncated, nil
}

func (i *Inspector) searchModule(ctx context.Context, mod model.Module, g glob.Glob, matchPattern, literal string, kind SearchKind, caseSensitive bool) ([]searchHit, error) {
	var hits []searchHit

	if kind == SearchTypes || kind == SearchBoth {
		types, err := i.metadata.ListTypes(ctx, mod.Path)
		if err != nil {
			return nil, err
		}
		for idx := range types {
			name := types[idx].Name
			cmp := name
			if !caseSensitive {
				cmp = strings.ToLower(cmp)
			}
			if g.Match(cmp) {
				hits = append(hits, searchHit{typeResult: &types[idx], module: mod.Path, isWildcard: true})
			} else if literal != "" {
				d := levenshtein.ComputeDistance(literal, name)
				hits = append(hits, searchHit{typeResult: &types[idx], module: mod.Path, distance: d})
			}
		}
	}

	if kind == SearchMethods || kind == SearchBoth {
		types, err := i.metadata.ListTypes(ctx, mod.Path)
		if err != nil {
			return nil, err
		}
		for _, t := range types {
			members, err := i.metadata.ListMembers(ctx, mod.Path, t.Name)
			if err != nil {
				continue
			}
			for idx := range members {
				if members[idx].Kind != model.MemberMethod {
					continue
				}
				name := members[idx].Name
				cmp := name
				if !caseSensitive {
					cmp = strings.ToLower(cmp)
				}
				if g.Match(cmp) {
					hits = append(hits, searchHit{memberResult: &members[idx], module: mod.Path, isWildcard: true})
				} else if literal != "" {
					d := levenshtein.ComputeDistance(literal, name)
					hits = append(hits, searchHit{memberResult: &members[idx], module: mod.Path, distance: d})
				}
			}
		}
	}

	_ = matchPattern
	return hits, nil
}
