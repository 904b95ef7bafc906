package split

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-split/errors"
	"github.com/wippyai/wasm-split/split/internal/graph"
	"github.com/wippyai/wasm-split/wasm"
)

// Naming contract of split boundaries:
//
//	__wasm_split_00<module>00_import_<hash>_<component>
//	__wasm_split_00<module>00_export_<hash>_<component>
//
// The module name may be wrapped in "___" on both sides.
const (
	splitPrefix  = "__wasm_split_00"
	splitWrap    = "___"
	importMarker = "00_import_"
	exportMarker = "00_export_"
)

// SplitPoint is a lazily loaded boundary: callers in main use the import,
// and the export is the body that moves into its own module.
type SplitPoint struct {
	Reachable graph.Set

	ModuleName    string
	Hash          string
	ComponentName string
	ImportName    string
	ExportName    string

	ImportFunc uint32
	ExportFunc uint32

	// Index is the ordinal by import name; the split's table slot is
	// the table base plus Index.
	Index int
}

// LoaderName is the identifier the generated glue exports for the split.
func (sp *SplitPoint) LoaderName() string {
	return "__wasm_split_load_" + sp.ModuleName + "_" + sp.Hash + "_" + sp.ComponentName
}

type splitName struct {
	module    string
	hash      string
	component string
	wrapped   bool
}

// parseSplitImport decodes an import name following the naming contract.
func parseSplitImport(name string) (splitName, bool) {
	if !strings.HasPrefix(name, splitPrefix) {
		return splitName{}, false
	}
	rest := name[len(splitPrefix):]

	var sn splitName
	var tail string
	if strings.HasPrefix(rest, splitWrap) {
		i := strings.Index(rest[len(splitWrap):], splitWrap+importMarker)
		if i < 0 {
			return splitName{}, false
		}
		sn.wrapped = true
		sn.module = rest[len(splitWrap) : len(splitWrap)+i]
		tail = rest[len(splitWrap)+i+len(splitWrap)+len(importMarker):]
	} else {
		i := strings.Index(rest, importMarker)
		if i < 0 {
			return splitName{}, false
		}
		sn.module = rest[:i]
		tail = rest[i+len(importMarker):]
	}

	hash, component, ok := strings.Cut(tail, "_")
	if !ok || sn.module == "" || hash == "" || component == "" {
		return splitName{}, false
	}
	sn.hash = hash
	sn.component = component
	return sn, true
}

func (sn splitName) exportName() string {
	module := sn.module
	if sn.wrapped {
		module = splitWrap + module + splitWrap
	}
	return splitPrefix + module + exportMarker + sn.hash + "_" + sn.component
}

// Discover finds every split point of mod, ordered by import name.
func Discover(mod *wasm.Module) ([]*SplitPoint, error) {
	exports := make(map[string]wasm.Export, len(mod.Exports))
	for _, e := range mod.Exports {
		exports[e.Name] = e
	}

	var points []*SplitPoint
	var fn uint32
	for _, imp := range mod.Imports {
		if imp.Desc.Kind != wasm.KindFunc {
			continue
		}
		idx := fn
		fn++

		sn, ok := parseSplitImport(imp.Name)
		if !ok {
			continue
		}
		exportName := sn.exportName()
		exp, ok := exports[exportName]
		if !ok || exp.Kind != wasm.KindFunc {
			return nil, errors.MissingExport(imp.Name, exportName)
		}

		importType := mod.GetFuncType(idx)
		exportType := mod.GetFuncType(exp.Idx)
		if importType == nil || exportType == nil || !importType.Equal(*exportType) {
			return nil, errors.SignatureMismatch(imp.Name, signature(importType), signature(exportType))
		}

		points = append(points, &SplitPoint{
			ModuleName:    sn.module,
			Hash:          sn.hash,
			ComponentName: sn.component,
			ImportName:    imp.Name,
			ExportName:    exportName,
			ImportFunc:    idx,
			ExportFunc:    exp.Idx,
		})
	}

	sort.SliceStable(points, func(i, j int) bool { return points[i].ImportName < points[j].ImportName })
	for i, sp := range points {
		sp.Index = i
		Logger().Debug("split point",
			zap.Int("index", i),
			zap.String("module", sp.ModuleName),
			zap.String("component", sp.ComponentName),
			zap.Uint32("import", sp.ImportFunc),
			zap.Uint32("export", sp.ExportFunc))
	}
	return points, nil
}

func signature(ft *wasm.FuncType) string {
	if ft == nil {
		return "<none>"
	}
	var b strings.Builder
	writeTypes := func(types []wasm.ValType) {
		b.WriteByte('[')
		for i, t := range types {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(t.String())
		}
		b.WriteByte(']')
	}
	writeTypes(ft.Params)
	b.WriteString(" -> ")
	writeTypes(ft.Results)
	return b.String()
}
